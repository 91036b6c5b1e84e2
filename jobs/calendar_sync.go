package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/propdesk/propdesk/internal/calsync"
)

// SyncRunner runs one calendar sync; *calsync.Service implements it.
type SyncRunner interface {
	Run(ctx context.Context) (calsync.Result, error)
}

// CalendarSyncJob executes TaskCalendarSync on the worker.
type CalendarSyncJob struct {
	Runner SyncRunner
	Logger *slog.Logger
}

// NewCalendarSyncJob wires dependencies for the sync handler.
func NewCalendarSyncJob(runner SyncRunner, logger *slog.Logger) *CalendarSyncJob {
	return &CalendarSyncJob{Runner: runner, Logger: logger}
}

// Handle processes calendar sync tasks. A run that found the lock held is
// not an error: another process is already doing the work.
func (j *CalendarSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("calendar sync: handler not configured")
	}
	var payload CalendarSyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	logger := j.logger().With(slog.String("trigger", payload.Trigger))
	res, err := j.Runner.Run(ctx)
	if err != nil {
		logger.Error("calendar sync", slog.Int("failed", res.Failed), slog.Any("error", err))
		return err
	}
	logger.Info("calendar sync finished",
		slog.String("message", res.Message),
		slog.Int("synced", res.Synced),
		slog.Int("unchanged", res.Unchanged))
	return nil
}

func (j *CalendarSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
