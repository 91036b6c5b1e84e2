package calsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository loads feeds and stores sync outcomes.
type Repository interface {
	ListFeeds(ctx context.Context) ([]Feed, error)
	MarkSynced(ctx context.Context, id int64, hash string, events int, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error
}

// Querier is the subset of *pgxpool.Pool used by PGRepository.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRepository implements Repository on calendar_feeds.
type PGRepository struct {
	db Querier
}

// NewRepository constructs a PGRepository.
func NewRepository(db Querier) *PGRepository {
	return &PGRepository{db: db}
}

// ListFeeds returns enabled feeds ordered by id.
func (r *PGRepository) ListFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, url, COALESCE(content_hash, ''), event_count, last_synced_at
FROM calendar_feeds WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("calsync: list feeds: %w", err)
	}
	feeds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Feed, error) {
		var f Feed
		err := row.Scan(&f.ID, &f.Name, &f.URL, &f.ContentHash, &f.EventCount, &f.LastSyncedAt)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("calsync: list feeds: %w", err)
	}
	return feeds, nil
}

// MarkSynced stores the new content fingerprint.
func (r *PGRepository) MarkSynced(ctx context.Context, id int64, hash string, events int, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE calendar_feeds
SET content_hash = $2, event_count = $3, last_synced_at = $4, last_error = NULL
WHERE id = $1`, id, hash, events, at)
	if err != nil {
		return fmt.Errorf("calsync: mark synced %d: %w", id, err)
	}
	return nil
}

// MarkFailed records the last error without touching the fingerprint.
func (r *PGRepository) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE calendar_feeds SET last_error = $2, last_attempt_at = $3 WHERE id = $1`, id, reason, at)
	if err != nil {
		return fmt.Errorf("calsync: mark failed %d: %w", id, err)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
