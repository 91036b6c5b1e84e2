package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdesk/propdesk/internal/platform/clock"
	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/scheduler"
)

var epoch = time.Date(2026, 1, 12, 7, 30, 0, 0, time.UTC)

type fakeSession struct {
	mu       sync.Mutex
	live     bool
	renewErr error
	probeErr error
	renewals int
}

func (f *fakeSession) HasSession(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live, f.probeErr
}

func (f *fakeSession) Renew(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewals++
	return f.renewErr
}

func (f *fakeSession) set(fn func(f *fakeSession)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeSession) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renewals
}

func TestRefresherStartIsSingleFlight(t *testing.T) {
	fake := clock.Fake(epoch)
	src := &fakeSession{live: true}
	r := scheduler.NewSessionRefresher(src, scheduler.RefresherOptions{Clock: fake})

	require.True(t, r.Start(context.Background()))
	assert.False(t, r.Start(context.Background()))

	assert.Equal(t, 1, src.count(), "first activation renews immediately")
	assert.Equal(t, []time.Time{epoch.Add(scheduler.RefreshPeriod)}, fake.Pending())

	fake.Advance(scheduler.RefreshPeriod)
	assert.Equal(t, 2, src.count())
	assert.Len(t, fake.Pending(), 1)
}

func TestRefresherSelfCancelsWithoutSession(t *testing.T) {
	fake := clock.Fake(epoch)
	src := &fakeSession{live: true}
	r := scheduler.NewSessionRefresher(src, scheduler.RefresherOptions{Clock: fake})
	r.Start(context.Background())

	src.set(func(f *fakeSession) { f.live = false })
	fake.Advance(scheduler.RefreshPeriod)

	assert.False(t, r.Running())
	assert.Empty(t, fake.Pending())
	assert.Equal(t, 1, src.count())

	src.set(func(f *fakeSession) { f.live = true })
	assert.True(t, r.Start(context.Background()), "restart after logout/login")
	assert.Equal(t, 2, src.count())
}

func TestRefresherNeverStartsWithoutSession(t *testing.T) {
	fake := clock.Fake(epoch)
	src := &fakeSession{}
	r := scheduler.NewSessionRefresher(src, scheduler.RefresherOptions{Clock: fake})

	require.True(t, r.Start(context.Background()))
	assert.False(t, r.Running())
	assert.Empty(t, fake.Pending())
	assert.Zero(t, src.count())
}

func TestRefresherStopsWhenRenewalRejected(t *testing.T) {
	fake := clock.Fake(epoch)
	src := &fakeSession{live: true, renewErr: fmt.Errorf("renew: %w", httpx.ErrUnauthorized)}
	r := scheduler.NewSessionRefresher(src, scheduler.RefresherOptions{Clock: fake})

	r.Start(context.Background())
	assert.False(t, r.Running())
	assert.Empty(t, fake.Pending())
}

func TestRefresherKeepsGoingOnTransientErrors(t *testing.T) {
	fake := clock.Fake(epoch)
	src := &fakeSession{live: true, renewErr: errors.New("502 bad gateway")}
	r := scheduler.NewSessionRefresher(src, scheduler.RefresherOptions{Clock: fake})
	r.Start(context.Background())

	src.set(func(f *fakeSession) { f.renewErr = nil; f.probeErr = errors.New("timeout") })
	fake.Advance(scheduler.RefreshPeriod)
	assert.True(t, r.Running())

	src.set(func(f *fakeSession) { f.probeErr = nil })
	fake.Advance(scheduler.RefreshPeriod)
	assert.True(t, r.Running())
	assert.Equal(t, 2, src.count())
}

func TestRefresherStopClearsTimer(t *testing.T) {
	fake := clock.Fake(epoch)
	src := &fakeSession{live: true}
	r := scheduler.NewSessionRefresher(src, scheduler.RefresherOptions{Clock: fake})
	r.Start(context.Background())

	r.Stop()
	r.Stop()
	assert.False(t, r.Running())
	assert.Empty(t, fake.Pending())

	fake.Advance(time.Hour)
	assert.Equal(t, 1, src.count())
}

func TestRefresherStopsOnContextCancel(t *testing.T) {
	fake := clock.Fake(epoch)
	src := &fakeSession{live: true}
	r := scheduler.NewSessionRefresher(src, scheduler.RefresherOptions{Clock: fake})
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	cancel()
	require.Eventually(t, func() bool { return !r.Running() }, time.Second, time.Millisecond)
	assert.Empty(t, fake.Pending())
}

// manualClock holds every timer, zero-delay ones included, until fire.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) Now() time.Time { return epoch }

func (c *manualClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) armed() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*manualTimer
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped {
			out = append(out, t)
		}
		t.mu.Unlock()
	}
	return out
}

func TestRefresherStopBeforeFirstCheckStopsTimer(t *testing.T) {
	clk := &manualClock{}
	src := &fakeSession{live: true}
	r := scheduler.NewSessionRefresher(src, scheduler.RefresherOptions{Clock: clk})

	require.True(t, r.Start(context.Background()))
	require.Len(t, clk.armed(), 1, "first check is armed")

	r.Stop()
	assert.Empty(t, clk.armed(), "stop clears the first check too")
	assert.Zero(t, src.count())
}
