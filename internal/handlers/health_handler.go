package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"tradechat-backend/internal/models"
	"tradechat-backend/pkg/httputil"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store Pinger
	log   *slog.Logger
	now   func() time.Time
}

func NewHealthHandler(store Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, log: logger.With("component", "HealthHandler"), now: time.Now}
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{Status: "ok", Timestamp: h.now().UTC(), Store: "ok"}
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn("health check failed", "error", err)
		resp.Status = "degraded"
		resp.Store = "unavailable"
		status = http.StatusServiceUnavailable
	}
	httputil.RespondJSON(w, status, resp)
}
