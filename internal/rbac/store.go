package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/propdesk/propdesk/internal/platform/db"
)

// Store persists per-subject page overrides.
type Store interface {
	// GetOverride returns ErrNotFound when no row matches.
	GetOverride(ctx context.Context, subjectID int64, pagePath string) (Override, error)
	// ReplaceOverrides swaps the whole override set of subjectID.
	ReplaceOverrides(ctx context.Context, subjectID int64, overrides []Override) error
	ListOverrides(ctx context.Context, subjectID int64) ([]Override, error)
}

// DB is the subset of *pgxpool.Pool used by PGStore.
type DB interface {
	db.TxBeginner
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore implements Store on the permission_overrides table.
type PGStore struct {
	db  DB
	now func() time.Time
}

// NewPGStore constructs a PostgreSQL backed Store.
func NewPGStore(conn DB) *PGStore {
	return &PGStore{db: conn, now: time.Now}
}

// GetOverride fetches the row for (subjectID, pagePath).
func (s *PGStore) GetOverride(ctx context.Context, subjectID int64, pagePath string) (Override, error) {
	const q = `SELECT subject_id, page_path, can_view, can_edit, updated_at
FROM permission_overrides WHERE subject_id = $1 AND page_path = $2`
	var o Override
	err := s.db.QueryRow(ctx, q, subjectID, pagePath).Scan(&o.SubjectID, &o.PagePath, &o.CanView, &o.CanEdit, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Override{}, ErrNotFound
		}
		return Override{}, fmt.Errorf("rbac: get override: %w", err)
	}
	return o, nil
}

// ListOverrides returns the override set of subjectID ordered by page.
func (s *PGStore) ListOverrides(ctx context.Context, subjectID int64) ([]Override, error) {
	const q = `SELECT subject_id, page_path, can_view, can_edit, updated_at
FROM permission_overrides WHERE subject_id = $1 ORDER BY page_path`
	rows, err := s.db.Query(ctx, q, subjectID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list overrides: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Override, error) {
		var o Override
		err := row.Scan(&o.SubjectID, &o.PagePath, &o.CanView, &o.CanEdit, &o.UpdatedAt)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("rbac: list overrides: %w", err)
	}
	return out, nil
}

// ReplaceOverrides deletes every row of subjectID and inserts overrides in
// one transaction, so a failed insert leaves the previous set intact.
// Concurrent replaces for the same subject are serialised by an advisory
// lock and the last committer wins.
func (s *PGStore) ReplaceOverrides(ctx context.Context, subjectID int64, overrides []Override) error {
	now := s.now().UTC()
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, overrideLockKey(subjectID)); err != nil {
			return fmt.Errorf("lock subject: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM permission_overrides WHERE subject_id = $1`, subjectID); err != nil {
			return fmt.Errorf("delete overrides: %w", err)
		}
		if len(overrides) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(overrides))
		for _, o := range overrides {
			rows = append(rows, []any{subjectID, o.PagePath, o.CanView, o.CanEdit, now})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"permission_overrides"},
			[]string{"subject_id", "page_path", "can_view", "can_edit", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert overrides: %w", err)
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: subject %d does not exist", ErrNotFound, subjectID)
		}
		return fmt.Errorf("rbac: replace overrides: %w", err)
	}
	return nil
}

// overrideLockKey namespaces advisory locks taken for override writes.
func overrideLockKey(subjectID int64) int64 {
	const namespace = int64(0x5045524d) << 32 // "PERM"
	return namespace | (subjectID & 0xffffffff)
}

var _ Store = (*PGStore)(nil)
