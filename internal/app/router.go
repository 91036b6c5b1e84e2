package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/auth"
	"github.com/propdesk/propdesk/internal/calsync"
	"github.com/propdesk/propdesk/internal/dashboard"
	"github.com/propdesk/propdesk/internal/observability"
	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/rbac"
	"github.com/propdesk/propdesk/internal/shared"
	"github.com/propdesk/propdesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	Gate               rbac.Middleware
	AuthHandler        *auth.Handler
	PermissionsHandler *rbac.Handler
	DashboardHandler   *dashboard.Handler
	ActivityHandler    *activity.Handler
	SyncHandler        *calsync.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	// Ready reports dependency health for /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with PropDesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				params.Logger.Warn("readiness check", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "dependencies not ready")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard/", http.StatusSeeOther)
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	r.Route("/api", func(r chi.Router) {
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.MountRoutes(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(params.Gate.RequireAuthenticated())
			if params.ActivityHandler != nil {
				r.With(perMinuteLimit(params.Config, 120, func(c *Config) int { return c.IngestRateLimit })).
					Group(params.ActivityHandler.MountRoutes)
			}
			if params.SyncHandler != nil {
				r.With(perMinuteLimit(params.Config, 6, func(c *Config) int { return c.SyncRateLimit })).
					Group(params.SyncHandler.MountRoutes)
			}
		})
	})
	if params.DashboardHandler != nil {
		r.Route("/dashboard", params.DashboardHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func perMinuteLimit(cfg *Config, fallback int, pick func(*Config) int) func(http.Handler) http.Handler {
	limit := fallback
	if cfg != nil && pick(cfg) > 0 {
		limit = pick(cfg)
	}
	return httprate.LimitByIP(limit, time.Minute)
}

// SubjectID reads the subject placed in context by the route gate; zero
// means anonymous.
func SubjectID(ctx context.Context) int64 {
	if s := rbac.SubjectFromContext(ctx); s != nil {
		return s.ID
	}
	return 0
}
