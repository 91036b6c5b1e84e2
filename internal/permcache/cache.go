// Package permcache memoizes permission decisions on the client side. Entries
// are trusted for TTL after they were observed and then re-resolved.
package permcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/propdesk/propdesk/internal/platform/clock"
	"github.com/propdesk/propdesk/internal/rbac"
)

// TTL bounds how stale a cached decision may be.
const TTL = 5 * time.Minute

// DefaultResolveTimeout caps one shared resolution.
const DefaultResolveTimeout = 30 * time.Second

// Resolver answers a permission question for the process's own subject.
type Resolver interface {
	Resolve(ctx context.Context, page string, action rbac.Action) (bool, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, page string, action rbac.Action) (bool, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, page string, action rbac.Action) (bool, error) {
	return f(ctx, page, action)
}

type key struct {
	page   string
	action rbac.Action
}

type entry struct {
	value      bool
	observedAt time.Time
}

// Options tunes a Cache.
type Options struct {
	Clock      clock.Clock
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	// ResolveTimeout bounds a resolution shared by collapsed callers.
	ResolveTimeout time.Duration
}

// Cache is a TTL map keyed by (page, action).
type Cache struct {
	resolver Resolver
	clock    clock.Clock
	logger   *slog.Logger
	timeout  time.Duration

	mu      sync.Mutex
	entries map[key]entry
	group   singleflight.Group

	lookups *prometheus.CounterVec
}

// New constructs a Cache in front of resolver.
func New(resolver Resolver, opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	c := &Cache{
		resolver: resolver,
		clock:    opts.Clock,
		logger:   opts.Logger.With(slog.String("component", "permcache")),
		timeout:  opts.ResolveTimeout,
		entries:  make(map[key]entry),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propdesk_permission_cache_lookups_total",
			Help: "Permission cache lookups partitioned by result (hit, miss, error).",
		}, []string{"result"}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(c.lookups)
	}
	return c
}

// Get returns the cached value. Entries older than TTL are treated as absent
// and evicted.
func (c *Cache) Get(page string, action rbac.Action) (bool, bool) {
	k := key{page: page, action: action}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return false, false
	}
	if c.clock.Now().Sub(e.observedAt) >= TTL {
		delete(c.entries, k)
		return false, false
	}
	return e.value, true
}

// Put stores value observed now.
func (c *Cache) Put(page string, action rbac.Action, value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key{page: page, action: action}] = entry{value: value, observedAt: c.clock.Now()}
}

// Clear drops every entry, e.g. after logout or an override change.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Check returns the cached decision or resolves it once. Resolution failures
// are not cached and answer false.
func (c *Cache) Check(ctx context.Context, page string, action rbac.Action) bool {
	if v, ok := c.Get(page, action); ok {
		c.lookups.WithLabelValues("hit").Inc()
		return v
	}
	c.lookups.WithLabelValues("miss").Inc()

	v, err := c.resolveShared(ctx, page, action)
	if err != nil {
		c.lookups.WithLabelValues("error").Inc()
		c.logger.Warn("permission resolution failed, denying",
			slog.String("page", page),
			slog.String("action", string(action)),
			slog.Any("error", err))
		return false
	}
	return v
}

// resolveShared collapses concurrent misses for one key. The shared call runs
// detached from any single caller; each caller waits on its own ctx.
func (c *Cache) resolveShared(ctx context.Context, page string, action rbac.Action) (bool, error) {
	flight := string(action) + " " + page
	resultChan := c.group.DoChan(flight, func() (any, error) {
		if v, ok := c.Get(page, action); ok {
			return v, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		allowed, err := c.resolver.Resolve(rctx, page, action)
		if err != nil {
			return false, err
		}
		c.Put(page, action, allowed)
		return allowed, nil
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}
