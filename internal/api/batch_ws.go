/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	ws "nhooyr.io/websocket"

	"github.com/rideatlas/rideatlas/internal/events"
	"github.com/rideatlas/rideatlas/internal/jobs"
	"github.com/rideatlas/rideatlas/internal/telemetry"
)

const wsPingInterval = 15 * time.Second

type jobMessage struct {
	Type string    `json:"type"`
	Job  *jobs.Job `json:"job,omitempty"`
}

// handleBatchJobStream pushes a job snapshot on every change and closes the
// socket once the job is terminal. Each ping tick also re-reads the job, so a
// transition the bus dropped still reaches the client.
func (a *API) handleBatchJobStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.jobs.Get(id); !ok {
		writeJobExpired(w)
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Subscribe before the first snapshot so no transition is lost in between.
	sub := a.bus.Subscribe(events.EventBatchJob)
	defer a.bus.Unsubscribe(events.EventBatchJob, sub)

	ctx := conn.CloseRead(r.Context())

	var sent time.Time
	// push writes the current snapshot, or on a tick only one newer than the
	// last sent, and reports whether the stream is over.
	push := func(force bool) bool {
		job, ok := a.jobs.Get(id)
		if !ok {
			conn.Close(ws.StatusNormalClosure, "job expired")
			return true
		}
		if force || job.UpdatedAt.After(sent) {
			if err := writeJobMessage(ctx, conn, job); err != nil {
				a.logger.Debug().Err(err).Str("job_id", id).Msg("websocket write failed")
				return true
			}
			sent = job.UpdatedAt
		}
		if job.Status.IsTerminal() {
			conn.Close(ws.StatusNormalClosure, "job finished")
			return true
		}
		return false
	}

	if push(true) {
		return
	}

	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if push(false) {
				return
			}
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Str("job_id", id).Msg("websocket ping failed")
				return
			}
		case payload, open := <-sub:
			if !open {
				conn.Close(ws.StatusGoingAway, "shutting down")
				return
			}
			if jobID, _ := payload["job_id"].(string); jobID != id {
				continue
			}
			if push(true) {
				return
			}
		}
	}
}

func writeJobMessage(ctx context.Context, conn *ws.Conn, job *jobs.Job) error {
	data, err := json.Marshal(jobMessage{Type: "job", Job: job})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, ws.MessageText, data)
}
