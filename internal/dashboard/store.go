package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/propdesk/propdesk/internal/ids"
)

// RecordStore is the external record store behind POST /records.
type RecordStore interface {
	Create(ctx context.Context, pagePath string, createdBy int64, doc map[string]any) (string, error)
}

// Execer is the subset of *pgxpool.Pool used by PGRecordStore.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRecordStore keeps raw documents in dashboard_records.
type PGRecordStore struct {
	db  Execer
	now func() time.Time
}

// NewPGRecordStore constructs a PGRecordStore.
func NewPGRecordStore(db Execer) *PGRecordStore {
	return &PGRecordStore{db: db, now: time.Now}
}

// Create inserts doc and returns its id.
func (s *PGRecordStore) Create(ctx context.Context, pagePath string, createdBy int64, doc map[string]any) (string, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("dashboard: encode record: %w", err)
	}
	now := s.now().UTC()
	id := ids.New(now)
	_, err = s.db.Exec(ctx, `INSERT INTO dashboard_records (id, page_path, created_by, payload, created_at)
VALUES ($1, $2, $3, $4, $5)`, id, pagePath, createdBy, payload, now)
	if err != nil {
		return "", fmt.Errorf("dashboard: insert record: %w", err)
	}
	return id, nil
}

var _ RecordStore = (*PGRecordStore)(nil)
