package activity

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/shared"
)

// Recorder is satisfied by *Emitter.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Handler ingests activity posted by agents.
type Handler struct {
	logger    *slog.Logger
	recorder  Recorder
	subjectID func(ctx context.Context) int64
	validator *validator.Validate
}

// NewHandler constructs a Handler. subjectID extracts the authenticated
// subject placed in the request context by the route gate.
func NewHandler(logger *slog.Logger, recorder Recorder, subjectID func(ctx context.Context) int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, recorder: recorder, subjectID: subjectID, validator: validator.New()}
}

// MountRoutes registers the ingest endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/activity", h.ingest)
}

type ingestRequest struct {
	ActionType   string         `json:"action_type" validate:"required,max=32"`
	PagePath     string         `json:"page_path" validate:"omitempty,startswith=/,max=255"`
	ResourceType string         `json:"resource_type" validate:"max=64"`
	ResourceID   string         `json:"resource_id" validate:"max=128"`
	Description  string         `json:"description" validate:"max=1000"`
	Metadata     map[string]any `json:"metadata"`
}

// ingest records the event as sent. Page-view dedup is the agent's job; the
// server never drops a well-formed event.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	subjectID := h.subjectID(r.Context())
	if subjectID <= 0 {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req ingestRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actionType, err := ParseActionType(req.ActionType)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	meta := shared.RequestMetaFromContext(r.Context())
	if meta.Partition != "" {
		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata["partition"] = meta.Partition
	}
	h.recorder.Record(r.Context(), Event{
		SubjectID:    subjectID,
		ActionType:   actionType,
		PagePath:     req.PagePath,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Description:  req.Description,
		Metadata:     req.Metadata,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	w.WriteHeader(http.StatusAccepted)
}
