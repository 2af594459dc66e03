// ABOUTME: Jobs API handlers: enqueue a one-off job, inspect a job, list jobs.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/queue"
)

const maxListLimit = 200

// jobResponse is the wire shape of a job.
type jobResponse struct {
	ID          uuid.UUID       `json:"id"`
	Queue       string          `json:"queue"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	NotBefore   time.Time       `json:"not_before"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	State       queue.State     `json:"state"`
	Recurrence  string          `json:"recurrence,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toJobResponse(j queue.Job) jobResponse {
	return jobResponse{
		ID:          j.ID,
		Queue:       j.Queue,
		Kind:        j.Kind,
		Payload:     j.Payload,
		NotBefore:   j.NotBefore,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		State:       j.State,
		Recurrence:  j.Recurrence,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

type enqueueRequest struct {
	Queue   string          `json:"queue"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	// DelaySeconds shifts NotBefore into the future.
	DelaySeconds int `json:"delay_seconds"`
}

func (srv *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job := queue.Job{
		Queue:   req.Queue,
		Kind:    req.Kind,
		Payload: req.Payload,
	}
	if req.DelaySeconds > 0 {
		job.NotBefore = time.Now().Add(time.Duration(req.DelaySeconds) * time.Second)
	}

	id, err := srv.q.Enqueue(r.Context(), job)
	if err != nil {
		var verr *queue.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		slog.ErrorContext(r.Context(), "enqueue via API failed", "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]uuid.UUID{"id": id})
}

func (srv *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := srv.q.Get(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "get job failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(*job))
}

func (srv *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := queue.ListFilter{
		Queue: r.URL.Query().Get("queue"),
		State: queue.State(r.URL.Query().Get("state")),
		Limit: 50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be 1-200")
			return
		}
		filter.Limit = n
	}

	jobs, err := srv.q.List(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}
