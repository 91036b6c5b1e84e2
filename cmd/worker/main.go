package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/propdesk/propdesk/internal/app"
	"github.com/propdesk/propdesk/internal/calsync"
	jobmetrics "github.com/propdesk/propdesk/internal/jobs"
	"github.com/propdesk/propdesk/internal/platform/cache"
	"github.com/propdesk/propdesk/internal/platform/db"
	"github.com/propdesk/propdesk/jobs"
)

func main() {
	if app.SkipStartup("worker") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	pool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	calsyncService := calsync.NewService(
		calsync.NewRepository(pool),
		redisClient,
		&http.Client{Timeout: cfg.SyncFetchTimeout},
		calsync.Config{FeedRate: cfg.SyncFeedRate, LockTTL: cfg.SyncLockTTL, MaxBytes: cfg.SyncMaxBytes},
		logger,
		metrics,
	)
	syncJob := jobs.NewCalendarSyncJob(calsyncService, logger)

	syncTask, err := jobs.NewCalendarSyncTask("cron")
	if err != nil {
		logger.Error("build calendar sync task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCalendarSync, Handler: syncJob.Handle},
			{Type: jobs.TaskSessionPurge, Handler: jobs.SessionPurgeHandler(pool, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CalendarSyncCron, Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(2), asynq.Unique(cfg.SyncLockTTL)}},
			{Spec: cfg.SessionPurgeCron, Task: jobs.NewSessionPurgeTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
