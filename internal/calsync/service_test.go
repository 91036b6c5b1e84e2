package calsync_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdesk/propdesk/internal/calsync"
	jobmetrics "github.com/propdesk/propdesk/internal/jobs"
	"github.com/propdesk/propdesk/internal/shared"
)

const calendarBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nBEGIN:VEVENT\r\nSUMMARY:Check-in\r\nEND:VEVENT\r\nBEGIN:VEVENT\r\nSUMMARY:Check-out\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

type memRepo struct {
	mu     sync.Mutex
	feeds  []calsync.Feed
	synced map[int64]int
	failed map[int64]string
}

func newMemRepo(feeds ...calsync.Feed) *memRepo {
	return &memRepo{feeds: feeds, synced: map[int64]int{}, failed: map[int64]string{}}
}

func (r *memRepo) ListFeeds(context.Context) ([]calsync.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]calsync.Feed(nil), r.feeds...), nil
}

func (r *memRepo) MarkSynced(_ context.Context, id int64, hash string, events int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.feeds {
		if r.feeds[i].ID == id {
			r.feeds[i].ContentHash = hash
			r.feeds[i].EventCount = events
			r.feeds[i].LastSyncedAt = &at
		}
	}
	r.synced[id]++
	return nil
}

func (r *memRepo) MarkFailed(_ context.Context, id int64, reason string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = reason
	return nil
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.ics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(calendarBody))
	})
	mux.HandleFunc("/down.ics", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/html.ics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>login</html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRunIsIdempotent(t *testing.T) {
	srv := feedServer(t)
	repo := newMemRepo(calsync.Feed{ID: 1, Name: "unit-12", URL: srv.URL + "/ok.ics"})
	client, mr := newRedis(t)
	svc := calsync.NewService(repo, client, srv.Client(), calsync.Config{FeedRate: 1000}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 2, repo.feeds[0].EventCount)
	assert.Len(t, repo.feeds[0].ContentHash, 64)

	res, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 1, repo.synced[1])
	assert.False(t, mr.Exists(shared.CalendarSyncLockKey), "lock released after run")
}

func TestRunReportsPartialFailure(t *testing.T) {
	srv := feedServer(t)
	repo := newMemRepo(
		calsync.Feed{ID: 1, URL: srv.URL + "/ok.ics"},
		calsync.Feed{ID: 2, URL: srv.URL + "/down.ics"},
		calsync.Feed{ID: 3, URL: srv.URL + "/html.ics"},
	)
	svc := calsync.NewService(repo, nil, srv.Client(), calsync.Config{FeedRate: 1000}, nil, nil)

	res, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 2, res.Failed)
	assert.Contains(t, err.Error(), "feed 2")
	assert.Contains(t, err.Error(), "feed 3")
	assert.Contains(t, repo.failed[2], "503")
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	srv := feedServer(t)
	repo := newMemRepo(calsync.Feed{ID: 1, URL: srv.URL + "/ok.ics"})
	client, mr := newRedis(t)
	require.NoError(t, mr.Set(shared.CalendarSyncLockKey, "other-process"))
	svc := calsync.NewService(repo, client, srv.Client(), calsync.Config{}, nil, nil)

	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, calsync.MessageInProgress, res.Message)
	assert.Empty(t, repo.synced)

	v, _ := mr.Get(shared.CalendarSyncLockKey)
	assert.Equal(t, "other-process", v, "foreign lock must not be released")
}

func TestSyncEndpoint(t *testing.T) {
	srv := feedServer(t)
	ok := calsync.NewService(newMemRepo(calsync.Feed{ID: 1, URL: srv.URL + "/ok.ics"}), nil, srv.Client(), calsync.Config{FeedRate: 1000}, nil, nil)
	bad := calsync.NewService(newMemRepo(calsync.Feed{ID: 2, URL: srv.URL + "/down.ics"}), nil, srv.Client(), calsync.Config{FeedRate: 1000}, nil, nil)

	for name, tc := range map[string]struct {
		svc     *calsync.Service
		status  int
		success bool
	}{
		"success": {svc: ok, status: http.StatusOK, success: true},
		"failure": {svc: bad, status: http.StatusBadGateway, success: false},
	} {
		t.Run(name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Route("/api", calsync.NewHandler(tc.svc, nil).MountRoutes)
			res := httptest.NewRecorder()
			r.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/api/sync/calendars", nil))

			require.Equal(t, tc.status, res.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
			assert.Equal(t, tc.success, body["success"])
			if tc.success {
				assert.NotEmpty(t, body["message"])
			} else {
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}
