package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/client"
	"github.com/propdesk/propdesk/internal/platform/clock"
	"github.com/propdesk/propdesk/internal/rbac"
)

type fakeAPI struct {
	mu            sync.Mutex
	authenticated bool
	grants        map[string]bool
	resolves      int
	logins        int
	renewals      int
	syncs         int
	written       []activity.Record
}

func newFakeAPI(grants map[string]bool) *fakeAPI {
	return &fakeAPI{grants: grants}
}

func (f *fakeAPI) HasSession(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated, nil
}

func (f *fakeAPI) Renew(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewals++
	return nil
}

func (f *fakeAPI) Resolve(_ context.Context, page string, action rbac.Action) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	return f.grants[page+"|"+string(action)], nil
}

func (f *fakeAPI) Write(_ context.Context, rec activity.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, rec)
	return nil
}

func (f *fakeAPI) Session(context.Context) (client.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info(), nil
}

func (f *fakeAPI) Login(context.Context, string, string) (client.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	f.authenticated = true
	return f.info(), nil
}

func (f *fakeAPI) SyncCalendars(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return nil
}

func (f *fakeAPI) info() client.SessionInfo {
	info := client.SessionInfo{Authenticated: f.authenticated}
	if f.authenticated {
		info.User = &client.SessionUser{ID: 7, Email: "agent@example.com", Role: rbac.RoleRestrictedWorker}
	}
	return info
}

func (f *fakeAPI) snapshot() (written []activity.Record, resolves, renewals, syncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]activity.Record(nil), f.written...), f.resolves, f.renewals, f.syncs
}

func testConfig() Config {
	return Config{
		Server:      "http://propdesk.test",
		Email:       "agent@example.com",
		Password:    "secret",
		Partition:   "persist:a",
		Pages:       []string{"/dashboard/units", "/dashboard/accounts"},
		SyncTimeout: time.Minute,
	}
}

func TestCheckLogsInAndCaches(t *testing.T) {
	api := newFakeAPI(map[string]bool{"/dashboard/units|view": true})
	a := New(testConfig(), api, clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), nil)

	ok, err := a.Check(context.Background(), "/dashboard/units", rbac.ActionView)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Check(context.Background(), "/dashboard/units", rbac.ActionView)
	require.NoError(t, err)
	assert.True(t, ok)

	_, resolves, _, _ := api.snapshot()
	assert.Equal(t, 1, resolves)
	assert.Equal(t, 1, api.logins)
	assert.Equal(t, int64(7), a.subjectID)
}

func TestOpenSkipsHiddenPages(t *testing.T) {
	api := newFakeAPI(map[string]bool{"/dashboard/units|view": true})
	api.authenticated = true
	a := New(testConfig(), api, clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
	a.emitter.Start()
	defer a.emitter.Stop(context.Background())

	assert.False(t, a.Open(context.Background(), "/dashboard/accounts"))
	assert.True(t, a.Open(context.Background(), "/dashboard/units"))
	assert.True(t, a.Open(context.Background(), "/dashboard/units"))

	assert.Eventually(t, func() bool {
		written, _, _, _ := api.snapshot()
		return len(written) == 1
	}, time.Second, 10*time.Millisecond)

	written, _, _, _ := api.snapshot()
	assert.Equal(t, activity.ActionPageView, written[0].ActionType)
	assert.Equal(t, "/dashboard/units", written[0].PagePath)
}

func TestRunStartsSchedulersAndStopsOnCancel(t *testing.T) {
	api := newFakeAPI(map[string]bool{
		"/dashboard/units|view":    true,
		"/dashboard/accounts|view": true,
	})
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := New(testConfig(), api, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	assert.Eventually(t, func() bool {
		written, _, renewals, _ := api.snapshot()
		return len(written) == 2 && renewals == 1
	}, time.Second, 10*time.Millisecond)

	fake.Advance(time.Minute)
	_, _, _, syncs := api.snapshot()
	assert.Equal(t, 1, syncs)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
	assert.False(t, a.refresher.Running())
	assert.False(t, a.sync.Running())
}
