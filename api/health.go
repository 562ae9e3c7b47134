package api

import (
	"context"
	"net/http"

	"github.com/quillhq/quill/internal/log"
)

// Pinger reports dependency health. Satisfied by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	pinger Pinger
	logger log.Logger
}

// NewHealthHandler creates a health handler. pinger may be nil when the
// server runs without a database (in-memory mode); readiness then reports
// ready unconditionally.
func NewHealthHandler(pinger Pinger, logger log.Logger) *HealthHandler {
	return &HealthHandler{pinger: pinger, logger: logger}
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Error("readiness check failed", "error", err)
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
