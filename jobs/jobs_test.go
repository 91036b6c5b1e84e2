package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdesk/propdesk/internal/calsync"
)

type runnerStub struct {
	calls int
	res   calsync.Result
	err   error
}

func (r *runnerStub) Run(context.Context) (calsync.Result, error) {
	r.calls++
	return r.res, r.err
}

func TestCalendarSyncJobRunsService(t *testing.T) {
	runner := &runnerStub{res: calsync.Result{Success: true, Synced: 2}}
	job := NewCalendarSyncJob(runner, nil)

	task, err := NewCalendarSyncTask("")
	require.NoError(t, err)
	assert.Equal(t, TaskCalendarSync, task.Type())

	var payload CalendarSyncPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "cron", payload.Trigger)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, runner.calls)
}

func TestCalendarSyncJobPropagatesFailure(t *testing.T) {
	boom := errors.New("feed down")
	job := NewCalendarSyncJob(&runnerStub{err: boom}, nil)
	task, err := NewCalendarSyncTask("manual")
	require.NoError(t, err)

	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestCalendarSyncJobRejectsBadPayload(t *testing.T) {
	runner := &runnerStub{}
	job := NewCalendarSyncJob(runner, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskCalendarSync, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, runner.calls)

	var nilJob *CalendarSyncJob
	assert.Error(t, nilJob.Handle(context.Background(), asynq.NewTask(TaskCalendarSync, nil)))
}

type execStub struct {
	sql  string
	args []any
	tag  pgconn.CommandTag
	err  error
}

func (e *execStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = sql
	e.args = args
	return e.tag, e.err
}

func TestPurgeExpiredSessions(t *testing.T) {
	db := &execStub{tag: pgconn.NewCommandTag("DELETE 3")}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := PurgeExpiredSessions(context.Background(), db, now, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Contains(t, db.sql, "DELETE FROM sessions")
	assert.Equal(t, []any{now}, db.args)

	db.err = errors.New("conn reset")
	_, err = PurgeExpiredSessions(context.Background(), db, now, nil)
	assert.Error(t, err)

	n, err = PurgeExpiredSessions(context.Background(), nil, now, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"failed":0}`, rec.Body.String())
}
