package activity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/propdesk/propdesk/internal/ids"
	"github.com/propdesk/propdesk/internal/platform/clock"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// Options tunes an Emitter.
type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
	// Registerer receives the failure counter. Nil skips registration.
	Registerer prometheus.Registerer
}

// Emitter dispatches records to a Sink from a single background goroutine.
type Emitter struct {
	sink         Sink
	clock        clock.Clock
	logger       *slog.Logger
	writeTimeout time.Duration

	mu      sync.Mutex
	queue   chan Record
	started bool
	closed  bool
	seen    map[string]struct{}
	done    chan struct{}

	failures       atomic.Int64
	failureCounter *prometheus.CounterVec
}

// NewEmitter constructs an Emitter writing into sink.
func NewEmitter(sink Sink, opts Options) *Emitter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Emitter{
		sink:         sink,
		clock:        opts.Clock,
		logger:       opts.Logger.With(slog.String("component", "activity.emitter")),
		writeTimeout: opts.WriteTimeout,
		queue:        make(chan Record, opts.QueueSize),
		seen:         make(map[string]struct{}),
		done:         make(chan struct{}),
		failureCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propdesk_activity_write_failures_total",
			Help: "Activity records that could not be written, by reason.",
		}, []string{"reason"}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(e.failureCounter)
	}
	return e
}

// Start launches the dispatch goroutine. Calling it twice is a no-op.
func (e *Emitter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true
	go e.run()
}

// Stop closes the queue and waits for queued records to be written or ctx
// to expire.
func (e *Emitter) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	started := e.started
	close(e.queue)
	e.mu.Unlock()

	if !started {
		return
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		e.logger.Warn("activity queue not drained before shutdown", slog.Int("pending", len(e.queue)))
	}
}

// Record enqueues ev. It never blocks and never reports failure; action
// events are not deduplicated.
func (e *Emitter) Record(ctx context.Context, ev Event) {
	now := e.clock.Now().UTC()
	rec := Record{ID: ids.New(now), Event: ev, CreatedAt: now}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.fail(ctx, "closed", rec, nil)
		return
	}
	select {
	case e.queue <- rec:
	default:
		e.fail(ctx, "queue_full", rec, nil)
	}
}

// PageView records a page_view event for path at most once per Emitter
// lifetime. It reports whether the event was enqueued.
func (e *Emitter) PageView(ctx context.Context, subjectID int64, path string, meta map[string]any) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	e.mu.Lock()
	if _, dup := e.seen[path]; dup {
		e.mu.Unlock()
		return false
	}
	e.seen[path] = struct{}{}
	e.mu.Unlock()

	e.Record(ctx, Event{
		SubjectID:   subjectID,
		ActionType:  ActionPageView,
		PagePath:    path,
		Description: "viewed " + path,
		Metadata:    meta,
	})
	return true
}

// Failures returns how many records were dropped or failed to write.
func (e *Emitter) Failures() int64 {
	return e.failures.Load()
}

func (e *Emitter) run() {
	defer close(e.done)
	for rec := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
		err := e.sink.Write(ctx, rec)
		cancel()
		if err != nil {
			e.fail(context.Background(), "write", rec, err)
		}
	}
}

func (e *Emitter) fail(ctx context.Context, reason string, rec Record, err error) {
	e.failures.Add(1)
	e.failureCounter.WithLabelValues(reason).Inc()
	attrs := []any{
		slog.String("reason", reason),
		slog.String("action_type", string(rec.ActionType)),
		slog.String("page", rec.PagePath),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	e.logger.WarnContext(ctx, "activity record dropped", attrs...)
}
