package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	first, err := AcquireLock(ctx, client, "calsync:lock", "a", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := AcquireLock(ctx, client, "calsync:lock", "b", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	second, err := AcquireLock(ctx, client, "calsync:lock", "b", time.Minute)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	_ = second.Release(ctx)
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	stale := &Lock{client: client, key: "k", token: "old"}
	if err := client.Set(ctx, "k", "new", time.Minute).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := mr.Exists("k"); !got {
		t.Fatalf("foreign lock must survive release")
	}
}
