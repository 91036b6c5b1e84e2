package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the pgx subset used by PurgeExpiredSessions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PurgeExpiredSessions deletes session rows that expired before now.
func PurgeExpiredSessions(ctx context.Context, db Execer, now time.Time, logger *slog.Logger) (int64, error) {
	if db == nil {
		return 0, nil
	}
	tag, err := db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now.UTC())
	if err != nil {
		if logger != nil {
			logger.Error("purge sessions", slog.Any("error", err))
		}
		return 0, err
	}
	if logger != nil {
		logger.Info("purged sessions", slog.String("job", "sessions_purge"), slog.Int64("rows", tag.RowsAffected()))
	}
	return tag.RowsAffected(), nil
}

// SessionPurgeHandler adapts PurgeExpiredSessions to an Asynq handler.
func SessionPurgeHandler(db Execer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		_, err := PurgeExpiredSessions(ctx, db, time.Now(), logger)
		return err
	}
}
