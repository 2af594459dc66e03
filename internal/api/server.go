// ABOUTME: Ops HTTP surface: health, Prometheus metrics, and a small jobs API.
// ABOUTME: The business REST API lives elsewhere; this server is for operators only.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcastro2021/nexa-worker/internal/queue"
)

// Server holds the dependencies of the ops HTTP layer.
type Server struct {
	q  queue.Queue
	db *pgxpool.Pool // nil when running against the in-memory queue
}

// NewServer creates a Server over q. db may be nil; the health endpoint then
// skips the database ping.
func NewServer(q queue.Queue, db *pgxpool.Pool) *Server {
	return &Server{q: q, db: db}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB body limit. Job payloads are small; anything bigger is a mistake.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", srv.handleEnqueueJob)
		r.Get("/jobs", srv.handleListJobs)
		r.Get("/jobs/{id}", srv.handleGetJob)
	})

	return r
}

func (srv *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if srv.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := srv.db.Ping(ctx); err != nil {
			slog.ErrorContext(r.Context(), "health check db ping failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // response already committed
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
