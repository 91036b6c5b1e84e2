package calsync

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/propdesk/propdesk/internal/platform/httpx"
)

// Runner is satisfied by *Service.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Handler exposes the manual sync endpoint.
type Handler struct {
	runner Runner
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(runner Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{runner: runner, logger: logger}
}

// MountRoutes registers POST /sync/calendars.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sync/calendars", h.sync)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.Error("calendar sync", slog.Any("error", err))
		if res.Error == "" {
			res.Error = "calendar sync failed"
		}
		res.Success = false
		httpx.JSON(w, http.StatusBadGateway, res)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
