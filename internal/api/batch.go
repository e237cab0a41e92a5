/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/rideatlas/rideatlas/internal/ingest"
	"github.com/rideatlas/rideatlas/internal/jobs"
	"github.com/rideatlas/rideatlas/internal/manifest"
)

const jobExpiredMessage = "job non trovato o scaduto, ricarica il file"

// multipart parts beyond this stay on disk while parsing.
const multipartMemory = 32 << 20

type errorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type rejectionResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Details []errorDetail `json:"details,omitempty"`
}

type batchAcceptedResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
	Trips  int         `json:"trips"`
}

func (a *API) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	if a.maxUploadBytes > 0 {
		if r.ContentLength > a.maxUploadBytes {
			a.writeTooLarge(w)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeTooLarge(w)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_unreadable")
		return
	}

	job, err := a.batches.Submit(r.Context(), data, ingest.Submission{
		Filename: header.Filename,
		UserID:   r.FormValue("user_id"),
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rejection(err))
		return
	}

	writeJSON(w, http.StatusAccepted, batchAcceptedResponse{
		JobID:  job.ID,
		Status: job.Status,
		Trips:  job.Progress.TotalTrips,
	})
}

func (a *API) writeTooLarge(w http.ResponseWriter) {
	writeJSON(w, http.StatusRequestEntityTooLarge, rejectionResponse{
		Error:   "archive_too_large",
		Message: fmt.Sprintf("l'archivio supera il limite di %s", humanize.IBytes(uint64(a.maxUploadBytes))),
	})
}

func rejection(err error) rejectionResponse {
	resp := rejectionResponse{
		Error:   ingest.RejectReason(err),
		Message: err.Error(),
	}

	var schemaErr *manifest.SchemaError
	var structErr *ingest.StructureError
	switch {
	case errors.As(err, &schemaErr):
		resp.Message = "viaggi.json non rispetta lo schema"
		for _, f := range schemaErr.Fields {
			resp.Details = append(resp.Details, errorDetail{Field: f.Field, Message: f.Message})
		}
	case errors.As(err, &structErr):
		resp.Message = "struttura dell'archivio non valida"
		for _, p := range structErr.Problems {
			resp.Details = append(resp.Details, errorDetail{Message: p})
		}
	}
	return resp
}

func (a *API) handleBatchJobsList(w http.ResponseWriter, r *http.Request) {
	list := a.jobs.List()
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		filtered := list[:0]
		for _, job := range list {
			if job.UserID == userID {
				filtered = append(filtered, job)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (a *API) handleBatchJobGet(w http.ResponseWriter, r *http.Request) {
	job, ok := a.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJobExpired(w)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJobExpired(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":   "job_expired",
		"message": jobExpiredMessage,
	})
}
