package dashboard

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/rbac"
	"github.com/propdesk/propdesk/internal/shared"
)

// Handler serves page descriptors and record creation.
type Handler struct {
	logger   *slog.Logger
	gate     rbac.Middleware
	resolver *rbac.Resolver
	records  RecordStore
	activity rbac.ActivityRecorder
}

// NewHandler constructs a Handler. recorder may be nil.
func NewHandler(logger *slog.Logger, gate rbac.Middleware, records RecordStore, recorder rbac.ActivityRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, gate: gate, resolver: gate.Resolver, records: records, activity: recorder}
}

// MountRoutes registers the dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.index)
	r.Get("/{page}", h.show)
	r.Post("/{page}/records", h.createRecord)
}

type pageView struct {
	Page
	CanEdit bool `json:"can_edit"`
}

// index lists the pages the subject may view.
func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	subject := rbac.SubjectFromContext(r.Context())
	visible := make([]Page, 0)
	for _, p := range Pages() {
		if h.resolver.Resolve(r.Context(), subject, p.Path, rbac.ActionView) {
			visible = append(visible, Page{Slug: p.Slug, Path: p.Path, Title: p.Title})
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pages": visible})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	page, ok := Lookup(chi.URLParam(r, "page"))
	if !ok {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	subject, ok := h.gate.Authorize(w, r, page.Path, rbac.ActionView)
	if !ok {
		return
	}
	canEdit := h.resolver.Resolve(r.Context(), subject, page.Path, rbac.ActionEdit)
	view := pageView{Page: page, CanEdit: canEdit}
	view.Affordances = make([]Affordance, 0, len(page.Affordances))
	for _, a := range page.Affordances {
		if a.Action == rbac.ActionEdit && !canEdit {
			continue
		}
		view.Affordances = append(view.Affordances, a)
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	page, ok := Lookup(chi.URLParam(r, "page"))
	if !ok || !page.AcceptsRecords() {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	subject, ok := h.gate.Authorize(w, r, page.Path, rbac.ActionEdit)
	if !ok {
		return
	}
	var doc map[string]any
	if err := httpx.DecodeJSON(r, &doc); err != nil || len(doc) == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "record body must be a non-empty JSON object")
		return
	}
	id, err := h.records.Create(r.Context(), page.Path, subject.ID, doc)
	if err != nil {
		h.logger.Error("create record", slog.String("page", page.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if h.activity != nil {
		meta := shared.RequestMetaFromContext(r.Context())
		h.activity.Record(r.Context(), activity.Event{
			SubjectID:    subject.ID,
			ActionType:   activity.ActionCreate,
			PagePath:     page.Path,
			ResourceType: page.ResourceType,
			ResourceID:   id,
			Description:  "created " + page.ResourceType,
			Metadata:     map[string]any{"fields": len(doc)},
			IP:           meta.IP,
			UserAgent:    meta.UserAgent,
		})
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"id": id})
}
