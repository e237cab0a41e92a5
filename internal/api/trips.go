/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rideatlas/rideatlas/internal/trips"
)

func (a *API) handleTripGet(w http.ResponseWriter, r *http.Request) {
	trip, err := a.trips.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, trips.ErrTripNotFound) {
		writeError(w, http.StatusNotFound, "trip_not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("load trip failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
