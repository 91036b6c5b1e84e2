package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/propdesk/propdesk/internal/platform/httpx"
)

// Handler exposes the resolution endpoint and the admin override API.
type Handler struct {
	logger   *slog.Logger
	resolver *Resolver
	service  *Service
	gate     Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, resolver *Resolver, service *Service, gate Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver, service: service, gate: gate}
}

// MountRoutes registers the API routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/permissions/check", h.check)
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAuthenticated())
		r.Get("/users/{id}/permissions", h.listOverrides)
		r.Put("/users/{id}/permissions", h.replaceOverrides)
	})
}

type checkResponse struct {
	HasPermission bool `json:"hasPermission"`
}

// check answers the UI gate. It never reports store failures: those are
// already folded into a deny by the resolver.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	action, err := ParseAction(r.URL.Query().Get("action"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	page := r.URL.Query().Get("page")
	if page == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "page is required")
		return
	}
	subject, err := h.gate.currentSubject(r)
	if err != nil {
		h.logger.Warn("permission check identity", slog.Any("error", err))
		subject = nil
	}
	if !subject.Authenticated() {
		httpx.JSON(w, http.StatusUnauthorized, checkResponse{HasPermission: false})
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{HasPermission: h.resolver.Resolve(r.Context(), subject, page, action)})
}

type overrideDTO struct {
	PagePath  string     `json:"page_path"`
	CanView   bool       `json:"can_view"`
	CanEdit   bool       `json:"can_edit"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type replaceRequest struct {
	Overrides []OverrideInput `json:"overrides"`
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := parseSubjectID(w, r)
	if !ok {
		return
	}
	overrides, err := h.service.Overrides(r.Context(), SubjectFromContext(r.Context()), subjectID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]overrideDTO, 0, len(overrides))
	for _, o := range overrides {
		dto := overrideDTO{PagePath: o.PagePath, CanView: o.CanView, CanEdit: o.CanEdit}
		if !o.UpdatedAt.IsZero() {
			ts := o.UpdatedAt
			dto.UpdatedAt = &ts
		}
		out = append(out, dto)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"subject_id": subjectID, "overrides": out})
}

func (h *Handler) replaceOverrides(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := parseSubjectID(w, r)
	if !ok {
		return
	}
	var req replaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.service.SetPermissions(r.Context(), SubjectFromContext(r.Context()), subjectID, req.Overrides); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSubjectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	lang := r.Header.Get("Accept-Language")
	switch {
	case errors.Is(err, ErrUnauthorized):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", LoginRequiredMessage(lang))
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", DenialMessage(lang, "/dashboard/permissions", ActionEdit))
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
	default:
		h.logger.Error("permission overrides", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
