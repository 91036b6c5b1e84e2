// Package agent runs one per-account client process: it keeps the session
// alive, triggers the background calendar sync, answers UI permission
// questions through a TTL cache and reports page views.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/client"
	jobmetrics "github.com/propdesk/propdesk/internal/jobs"
	"github.com/propdesk/propdesk/internal/permcache"
	"github.com/propdesk/propdesk/internal/platform/clock"
	"github.com/propdesk/propdesk/internal/rbac"
	"github.com/propdesk/propdesk/internal/scheduler"
)

// API is the server surface the agent needs; *client.Client implements it.
type API interface {
	scheduler.SessionSource
	permcache.Resolver
	activity.Sink
	Session(ctx context.Context) (client.SessionInfo, error)
	Login(ctx context.Context, email, password string) (client.SessionInfo, error)
	SyncCalendars(ctx context.Context) error
}

// Agent owns the per-process state objects.
type Agent struct {
	cfg       Config
	api       API
	logger    *slog.Logger
	registry  *prometheus.Registry
	cache     *permcache.Cache
	refresher *scheduler.SessionRefresher
	sync      *scheduler.SyncScheduler
	emitter   *activity.Emitter
	subjectID int64
}

// New wires an Agent around api. clk may be nil.
func New(cfg Config, api API, clk clock.Clock, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	logger = logger.With(slog.String("partition", cfg.Partition))
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	return &Agent{
		cfg:      cfg,
		api:      api,
		logger:   logger,
		registry: reg,
		cache:    permcache.New(api, permcache.Options{Clock: clk, Logger: logger, Registerer: reg}),
		refresher: scheduler.NewSessionRefresher(api, scheduler.RefresherOptions{
			Clock: clk, Logger: logger, Metrics: metrics,
		}),
		sync: scheduler.NewSyncScheduler(api.SyncCalendars, scheduler.SyncOptions{
			Timeout: cfg.SyncTimeout, Clock: clk, Logger: logger, Metrics: metrics,
		}),
		emitter: activity.NewEmitter(api, activity.Options{Clock: clk, Logger: logger, Registerer: reg}),
	}
}

// Cache exposes the permission cache.
func (a *Agent) Cache() *permcache.Cache {
	return a.cache
}

// Run logs in when needed, starts the schedulers and the emitter, opens the
// configured pages and blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.ensureSession(ctx); err != nil {
		return err
	}

	a.emitter.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.emitter.Stop(stopCtx)
	}()

	a.refresher.Start(ctx)
	defer a.refresher.Stop()
	if !a.cfg.DisableSync {
		a.sync.Start(ctx)
		defer a.sync.Stop()
	}

	if a.cfg.MetricsAddr != "" {
		srv := a.metricsServer()
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = srv.Shutdown(context.WithoutCancel(ctx)) }()
	}

	for _, page := range a.cfg.Pages {
		a.Open(ctx, page)
	}

	<-ctx.Done()
	a.logger.Info("agent stopping")
	return nil
}

// Open renders page: a page the subject cannot view is skipped, otherwise a
// page view is reported once per process. It reports whether the page is
// viewable.
func (a *Agent) Open(ctx context.Context, page string) bool {
	if !a.cache.Check(ctx, page, rbac.ActionView) {
		a.logger.Info("page hidden", slog.String("page", page))
		return false
	}
	canEdit := a.cache.Check(ctx, page, rbac.ActionEdit)
	if a.emitter.PageView(ctx, a.subjectID, page, map[string]any{"partition": a.cfg.Partition}) {
		a.logger.Info("page opened", slog.String("page", page), slog.Bool("can_edit", canEdit))
	}
	return true
}

// Check answers a single permission question through the cache.
func (a *Agent) Check(ctx context.Context, page string, action rbac.Action) (bool, error) {
	if err := a.ensureSession(ctx); err != nil {
		return false, err
	}
	return a.cache.Check(ctx, page, action), nil
}

func (a *Agent) ensureSession(ctx context.Context) error {
	info, err := a.api.Session(ctx)
	if err != nil {
		return fmt.Errorf("agent: probe session: %w", err)
	}
	if !info.Authenticated {
		if info, err = a.api.Login(ctx, a.cfg.Email, a.cfg.Password); err != nil {
			return fmt.Errorf("agent: login: %w", err)
		}
		a.cache.Clear()
	}
	if info.User != nil {
		a.subjectID = info.User.ID
		a.logger.Info("session ready", slog.Int64("user_id", info.User.ID), slog.String("role", string(info.User.Role)))
	}
	return nil
}

func (a *Agent) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
