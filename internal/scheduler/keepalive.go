package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	jobmetrics "github.com/propdesk/propdesk/internal/jobs"
	"github.com/propdesk/propdesk/internal/platform/clock"
	"github.com/propdesk/propdesk/internal/platform/httpx"
)

// RefreshPeriod is the keep-alive interval.
const RefreshPeriod = 5 * time.Minute

const refreshJob = "session_refresh"

// SessionSource is the client's view of the identity gate.
type SessionSource interface {
	// HasSession reports whether a live session exists.
	HasSession(ctx context.Context) (bool, error)
	// Renew extends the session. It returns an error wrapping
	// httpx.ErrUnauthorized when the session is gone.
	Renew(ctx context.Context) error
}

// RefresherOptions tunes a SessionRefresher.
type RefresherOptions struct {
	Period  time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// SessionRefresher renews the session every period until the session ends
// or Stop is called.
type SessionRefresher struct {
	source  SessionSource
	period  time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	metrics *jobmetrics.Metrics

	mu        sync.Mutex
	running   bool
	gen       uint64
	timer     clock.Timer
	ctx       context.Context
	detachCtx func() bool
}

// NewSessionRefresher constructs a stopped SessionRefresher.
func NewSessionRefresher(source SessionSource, opts RefresherOptions) *SessionRefresher {
	if opts.Period <= 0 {
		opts.Period = RefreshPeriod
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SessionRefresher{
		source:  source,
		period:  opts.Period,
		clock:   opts.Clock,
		logger:  opts.Logger.With(slog.String("component", "scheduler.session")),
		metrics: opts.Metrics,
	}
}

// Start activates the refresher. It returns false when already running.
// Cancelling ctx has the same effect as Stop.
func (s *SessionRefresher) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.gen++
	gen := s.gen
	s.ctx = ctx
	s.detachCtx = context.AfterFunc(ctx, s.Stop)
	s.mu.Unlock()

	// The first check runs right away.
	s.schedule(gen, 0)
	return true
}

// Stop cancels the pending timer. It is safe to call when stopped.
func (s *SessionRefresher) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltLocked()
}

// Running reports whether the refresher holds a timer.
func (s *SessionRefresher) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SessionRefresher) haltLocked() {
	if !s.running {
		return
	}
	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.detachCtx != nil {
		s.detachCtx()
		s.detachCtx = nil
	}
}

// schedule arms the next tick outside the lock. A tick clears s.timer when
// it fires, so a non-nil timer here was armed by a tick of t itself and t is
// already spent.
func (s *SessionRefresher) schedule(gen uint64, d time.Duration) {
	t := s.clock.AfterFunc(d, func() { s.tick(gen) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.gen != gen {
		t.Stop()
		return
	}
	if s.timer == nil {
		s.timer = t
	}
}

func (s *SessionRefresher) tick(gen uint64) {
	s.mu.Lock()
	if !s.running || s.gen != gen {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.timer = nil
	s.mu.Unlock()

	live, err := s.source.HasSession(ctx)
	if err != nil {
		s.logger.Warn("session probe failed", slog.Any("error", err))
		s.schedule(gen, s.period)
		return
	}
	if !live {
		s.selfCancel(gen, "no session")
		return
	}

	tracker := s.metrics.Track(refreshJob)
	err = tracker.End(s.source.Renew(ctx))
	switch {
	case err == nil:
		s.logger.Debug("session renewed")
	case errors.Is(err, httpx.ErrUnauthorized):
		s.selfCancel(gen, "session rejected")
		return
	default:
		s.logger.Warn("session renewal failed", slog.Any("error", err))
	}
	s.schedule(gen, s.period)
}

func (s *SessionRefresher) selfCancel(gen uint64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.logger.Info("session refresher stopped", slog.String("reason", reason))
	s.haltLocked()
}
