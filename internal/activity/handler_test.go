package activity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/shared"
)

type captured struct {
	mu     sync.Mutex
	events []activity.Event
}

func (c *captured) Record(_ context.Context, ev activity.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

type subjectKey struct{}

func newIngestRouter(rec activity.Recorder) http.Handler {
	h := activity.NewHandler(nil, rec, func(ctx context.Context) int64 {
		id, _ := ctx.Value(subjectKey{}).(int64)
		return id
	})
	r := chi.NewRouter()
	r.Route("/api", h.MountRoutes)
	return r
}

func ingest(router http.Handler, subjectID int64, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/activity", strings.NewReader(body))
	ctx := shared.ContextWithRequestMeta(req.Context(), shared.RequestMeta{IP: "192.0.2.10", UserAgent: "propdesk-agent", Partition: "persist:acct-7"})
	if subjectID > 0 {
		ctx = context.WithValue(ctx, subjectKey{}, subjectID)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req.WithContext(ctx))
	return res
}

func TestIngestRecordsEveryEvent(t *testing.T) {
	rec := &captured{}
	router := newIngestRouter(rec)
	body := `{"action_type":"page_view","page_path":"/dashboard/units"}`

	require.Equal(t, http.StatusAccepted, ingest(router, 42, body).Code)
	require.Equal(t, http.StatusAccepted, ingest(router, 42, body).Code)

	require.Len(t, rec.events, 2)
	ev := rec.events[0]
	assert.Equal(t, int64(42), ev.SubjectID)
	assert.Equal(t, activity.ActionPageView, ev.ActionType)
	assert.Equal(t, "192.0.2.10", ev.IP)
	assert.Equal(t, "persist:acct-7", ev.Metadata["partition"])
}

func TestIngestRejectsBadInput(t *testing.T) {
	rec := &captured{}
	router := newIngestRouter(rec)

	assert.Equal(t, http.StatusUnauthorized, ingest(router, 0, `{"action_type":"create"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ingest(router, 42, `{"action_type":"launch"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ingest(router, 42, `{"action_type":"create","page_path":"units"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ingest(router, 42, `{"action_type":"create","extra":1}`).Code)
	assert.Empty(t, rec.events)
}
