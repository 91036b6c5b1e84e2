package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Execer is the subset of *pgxpool.Pool used by PGSink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink writes records into activity_logs.
type PGSink struct {
	db Execer
}

// NewPGSink constructs a PGSink.
func NewPGSink(db Execer) *PGSink {
	return &PGSink{db: db}
}

// Write inserts rec. Optional columns are stored as NULL when empty.
func (s *PGSink) Write(ctx context.Context, rec Record) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("activity: encode metadata: %w", err)
	}
	const q = `INSERT INTO activity_logs
(id, subject_id, action_type, page_path, resource_type, resource_id, description, metadata, ip_address, user_agent, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	subject := pgtype.Int8{Int64: rec.SubjectID, Valid: rec.SubjectID > 0}
	_, err = s.db.Exec(ctx, q,
		rec.ID,
		subject,
		string(rec.ActionType),
		optionalText(rec.PagePath),
		optionalText(rec.ResourceType),
		optionalText(rec.ResourceID),
		optionalText(rec.Description),
		metaJSON,
		optionalText(rec.IP),
		optionalText(rec.UserAgent),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("activity: insert: %w", err)
	}
	return nil
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

var _ Sink = (*PGSink)(nil)
