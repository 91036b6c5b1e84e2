package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	jobmetrics "github.com/propdesk/propdesk/internal/jobs"
	"github.com/propdesk/propdesk/internal/platform/clock"
)

// Default timings of the background sync loop.
const (
	SyncInitialDelay = time.Minute
	SyncMinInterval  = 10 * time.Minute
	SyncMaxInterval  = 12 * time.Minute
	SyncTimeout      = 2 * time.Minute
)

const syncJob = "calendar_sync"

// SyncFunc performs one idempotent synchronization.
type SyncFunc func(ctx context.Context) error

// SyncOptions tunes a SyncScheduler. Zero values take the defaults above.
type SyncOptions struct {
	InitialDelay time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration
	Timeout      time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	// Int64N returns a uniform value in [0, n). Defaults to math/rand/v2.
	Int64N func(n int64) int64
}

// SyncScheduler runs a SyncFunc on a jittered period, never concurrently and
// never twice within MinInterval.
type SyncScheduler struct {
	job          SyncFunc
	initialDelay time.Duration
	minInterval  time.Duration
	maxInterval  time.Duration
	timeout      time.Duration
	clock        clock.Clock
	logger       *slog.Logger
	metrics      *jobmetrics.Metrics
	int64n       func(n int64) int64

	mu        sync.Mutex
	running   bool
	inFlight  bool
	gen       uint64
	timer     clock.Timer
	lastRun   time.Time
	ctx       context.Context
	detachCtx func() bool
}

// NewSyncScheduler constructs a stopped SyncScheduler.
func NewSyncScheduler(job SyncFunc, opts SyncOptions) *SyncScheduler {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = SyncInitialDelay
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = SyncMinInterval
	}
	if opts.MaxInterval < opts.MinInterval {
		opts.MaxInterval = max(SyncMaxInterval, opts.MinInterval)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = SyncTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Int64N == nil {
		opts.Int64N = rand.Int64N
	}
	return &SyncScheduler{
		job:          job,
		initialDelay: opts.InitialDelay,
		minInterval:  opts.MinInterval,
		maxInterval:  opts.MaxInterval,
		timeout:      opts.Timeout,
		clock:        opts.Clock,
		logger:       opts.Logger.With(slog.String("component", "scheduler.sync")),
		metrics:      opts.Metrics,
		int64n:       opts.Int64N,
	}
}

// Start arms the first tick InitialDelay from now. It returns false when
// already running. Cancelling ctx has the same effect as Stop.
func (s *SyncScheduler) Start(ctx context.Context) bool {
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

	s.schedule(gen, s.initialDelay)
	return true
}

// Stop cancels the pending tick. A run already in flight finishes; the last
// run time is kept for the next Start.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
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

// Running reports whether a tick is armed.
func (s *SyncScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRunAt returns when the job was last invoked, zero if never.
func (s *SyncScheduler) LastRunAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// nextDelay draws uniformly from [MinInterval, MaxInterval], both inclusive.
func (s *SyncScheduler) nextDelay() time.Duration {
	span := int64(s.maxInterval - s.minInterval)
	return s.minInterval + time.Duration(s.int64n(span+1))
}

func (s *SyncScheduler) schedule(gen uint64, d time.Duration) {
	t := s.clock.AfterFunc(d, func() { s.tick(gen) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.gen == gen {
		s.timer = t
		return
	}
	t.Stop()
}

func (s *SyncScheduler) tick(gen uint64) {
	s.mu.Lock()
	if !s.running || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	now := s.clock.Now()
	var skip string
	switch {
	case s.inFlight:
		skip = "in_flight"
	case !s.lastRun.IsZero() && now.Sub(s.lastRun) < s.minInterval:
		skip = "cooldown"
	}
	if skip != "" {
		s.mu.Unlock()
		s.metrics.Skip(syncJob, skip)
		s.logger.Debug("sync tick skipped", slog.String("reason", skip))
		s.schedule(gen, s.nextDelay())
		return
	}
	s.lastRun = now
	s.inFlight = true
	parent := s.ctx
	s.mu.Unlock()

	s.run(parent)
	s.schedule(gen, s.nextDelay())
}

func (s *SyncScheduler) run(parent context.Context) {
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	tracker := s.metrics.Track(syncJob)
	if err := tracker.End(s.job(ctx)); err != nil {
		s.logger.Warn("background sync failed", slog.Any("error", err))
		return
	}
	s.logger.Info("background sync completed")
}
