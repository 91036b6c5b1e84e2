package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/propdesk/propdesk/cmd/propdesk/cli"
	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/app"
	"github.com/propdesk/propdesk/internal/auth"
	"github.com/propdesk/propdesk/internal/calsync"
	"github.com/propdesk/propdesk/internal/dashboard"
	jobmetrics "github.com/propdesk/propdesk/internal/jobs"
	"github.com/propdesk/propdesk/internal/observability"
	"github.com/propdesk/propdesk/internal/platform/cache"
	"github.com/propdesk/propdesk/internal/platform/db"
	"github.com/propdesk/propdesk/internal/rbac"
	"github.com/propdesk/propdesk/internal/shared"
	"github.com/propdesk/propdesk/jobs"
)

const usage = `usage: propdesk <command> [flags]

commands:
  serve                                 run the HTTP server (default)
  permissions import --file F --actor N replace overrides from a YAML file
  permissions show --subject N [--json] print effective page access
  jobs trigger NAME                     enqueue calendar:sync or sessions:purge
  jobs stats                            print default queue counters
`

func main() {
	if app.SkipStartup("server") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "permissions":
		os.Exit(runPermissions(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("propdesk", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	sessionManager := shared.NewSessionManager(redisClient, "propdesk_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	emitter := activity.NewEmitter(activity.NewPGSink(dbpool), activity.Options{
		QueueSize:  cfg.ActivityQueueSize,
		Logger:     logger,
		Registerer: metrics.Registerer(),
	})
	emitter.Start()
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		emitter.Stop(drainCtx)
	}()

	rbacStore := rbac.NewPGStore(dbpool)
	resolver := rbac.NewResolver(rbacStore, logger)
	rbacService := rbac.NewService(rbacStore, emitter)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, sessionManager, logger)
	gate := rbac.Middleware{Resolver: resolver, Identity: authService, Activity: emitter, Logger: logger}

	calsyncService := calsync.NewService(
		calsync.NewRepository(dbpool),
		redisClient,
		&http.Client{Timeout: cfg.SyncFetchTimeout},
		calsync.Config{FeedRate: cfg.SyncFeedRate, LockTTL: cfg.SyncLockTTL, MaxBytes: cfg.SyncMaxBytes},
		logger,
		jobMetrics,
	)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Gate:               gate,
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager, csrfManager, cfg.LoginRateLimit),
		PermissionsHandler: rbac.NewHandler(logger, resolver, rbacService, gate),
		DashboardHandler:   dashboard.NewHandler(logger, gate, dashboard.NewPGRecordStore(dbpool), emitter),
		ActivityHandler:    activity.NewHandler(logger, emitter, app.SubjectID),
		SyncHandler:        calsync.NewHandler(calsyncService, logger),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Ready:              readiness(dbpool, redisClient),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func readiness(pool *pgxpool.Pool, redisClient *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}
}

func runPermissions(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	sub, args := args[0], args[1:]

	fs := pflag.NewFlagSet("permissions "+sub, pflag.ContinueOnError)
	file := fs.String("file", "", "YAML file with subject overrides")
	actor := fs.Int64("actor", 0, "super_admin user id performing the import")
	subject := fs.Int64("subject", 0, "user id to inspect")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	dbpool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: 2})
	if err != nil {
		fmt.Fprintf(os.Stderr, "permissions: connect postgres: %v\n", err)
		return 1
	}
	defer dbpool.Close()

	store := rbac.NewPGStore(dbpool)
	authRepo := auth.NewRepository(dbpool)
	recorder := activity.NewEmitter(activity.NewPGSink(dbpool), activity.Options{Logger: logger})
	recorder.Start()
	defer recorder.Stop(context.WithoutCancel(ctx))

	helper, err := cli.NewPermissionsCLI(rbac.NewService(store, recorder), rbac.NewResolver(store, logger),
		func(ctx context.Context, id int64) (*rbac.Subject, error) {
			user, err := authRepo.FindByID(ctx, id)
			if err != nil {
				return nil, err
			}
			return user.Subject(), nil
		})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	switch sub {
	case "import":
		return helper.ImportCommand(ctx, cli.ImportOptions{File: *file, ActorID: *actor})
	case "show":
		return helper.ShowCommand(ctx, cli.ShowOptions{SubjectID: *subject, JSONOutput: *asJSON})
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	helper, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = helper.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "jobs trigger: job name required")
			return 2
		}
		info, err := helper.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := helper.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}
