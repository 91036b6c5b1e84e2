package calsync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"

	jobmetrics "github.com/propdesk/propdesk/internal/jobs"
	"github.com/propdesk/propdesk/internal/platform/cache"
	"github.com/propdesk/propdesk/internal/shared"
)

// JobName labels calendar sync runs in job metrics.
const JobName = "calendar_sync"

const (
	defaultLockTTL  = 5 * time.Minute
	defaultMaxBytes = 8 << 20
)

// MessageInProgress is reported when another process holds the run lock.
const MessageInProgress = "sync already in progress"

// Config tunes a Service.
type Config struct {
	// FeedRate bounds outbound fetches per second; zero means 2.
	FeedRate float64
	LockTTL  time.Duration
	MaxBytes int64
}

// Service runs calendar syncs.
type Service struct {
	repo     Repository
	redis    *redis.Client
	http     *http.Client
	limiter  *rate.Limiter
	lockTTL  time.Duration
	maxBytes int64
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	now      func() time.Time
}

// NewService constructs a Service. redisClient may be nil in single-process
// setups, in which case runs are not locked across processes.
func NewService(repo Repository, redisClient *redis.Client, httpClient *http.Client, cfg Config, logger *slog.Logger, metrics *jobmetrics.Metrics) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.FeedRate <= 0 {
		cfg.FeedRate = 2
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		redis:    redisClient,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(cfg.FeedRate), 1),
		lockTTL:  cfg.LockTTL,
		maxBytes: cfg.MaxBytes,
		logger:   logger.With(slog.String("component", "calsync")),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run syncs every enabled feed once. A run that finds the lock held returns
// success without doing anything. Per-feed failures are joined into the
// returned error; the other feeds still sync.
func (s *Service) Run(ctx context.Context) (Result, error) {
	if s.redis != nil {
		lock, err := cache.AcquireLock(ctx, s.redis, shared.CalendarSyncLockKey, uuid.NewString(), s.lockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			s.metrics.Skip(JobName, "locked")
			return Result{Success: true, Message: MessageInProgress}, nil
		}
		if err != nil {
			return Result{Success: false, Error: "sync lock unavailable"}, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release sync lock", slog.Any("error", err))
			}
		}()
	}

	tracker := s.metrics.Track(JobName)
	res, err := s.syncAll(ctx)
	return res, tracker.End(err)
}

func (s *Service) syncAll(ctx context.Context) (Result, error) {
	feeds, err := s.repo.ListFeeds(ctx)
	if err != nil {
		return Result{Success: false, Error: "could not load calendar feeds"}, err
	}
	var (
		res  Result
		errs []error
	)
	for _, feed := range feeds {
		changed, err := s.syncFeed(ctx, feed)
		switch {
		case err != nil:
			res.Failed++
			errs = append(errs, fmt.Errorf("feed %d: %w", feed.ID, err))
			s.logger.Warn("feed sync failed", slog.Int64("feed_id", feed.ID), slog.String("feed", feed.Name), slog.Any("error", err))
			if markErr := s.repo.MarkFailed(context.WithoutCancel(ctx), feed.ID, err.Error(), s.now()); markErr != nil {
				s.logger.Warn("record feed failure", slog.Any("error", markErr))
			}
		case changed:
			res.Synced++
		default:
			res.Unchanged++
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	if len(errs) > 0 {
		res.Success = false
		res.Error = fmt.Sprintf("%d of %d calendar feeds failed", res.Failed, len(feeds))
		return res, errors.Join(errs...)
	}
	res.Success = true
	res.Message = fmt.Sprintf("synced %d calendar feeds, %d unchanged", res.Synced, res.Unchanged)
	s.logger.Info("calendar sync finished", slog.Int("synced", res.Synced), slog.Int("unchanged", res.Unchanged))
	return res, nil
}

func (s *Service) syncFeed(ctx context.Context, feed Feed) (bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	body, err := s.fetch(ctx, feed.URL)
	if err != nil {
		return false, err
	}
	sum := blake3.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	if hash == feed.ContentHash {
		return false, nil
	}
	events, err := countEvents(body)
	if err != nil {
		return false, err
	}
	if err := s.repo.MarkSynced(ctx, feed.ID, hash, events, s.now()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("feed larger than %d bytes", s.maxBytes)
	}
	return body, nil
}

// countEvents counts VEVENT components and rejects payloads that are not
// a VCALENDAR.
func countEvents(body []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var (
		calendar bool
		events   int
	)
	for scanner.Scan() {
		line := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		switch line {
		case "BEGIN:VCALENDAR":
			calendar = true
		case "BEGIN:VEVENT":
			events++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if !calendar {
		return 0, errors.New("payload is not an iCalendar document")
	}
	return events, nil
}
