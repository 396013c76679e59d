package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, refill float64) *TokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTokenBucket(client, capacity, refill, time.Minute)
}

func TestTokenBucketCapacity(t *testing.T) {
	ctx := context.Background()
	bucket := newTestBucket(t, 2, 1)

	allowed, _, err := bucket.Allow(ctx, "ratelimit:accept:tenant-a")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed, got allowed=%v err=%v", allowed, err)
	}
	allowed, tokens, _ := bucket.Allow(ctx, "ratelimit:accept:tenant-a")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	if tokens >= 1 {
		t.Fatalf("expected bucket drained, %v tokens left", tokens)
	}
	allowed, _, _ = bucket.Allow(ctx, "ratelimit:accept:tenant-a")
	if allowed {
		t.Fatalf("expected third request rejected")
	}

	// Refill cannot be exercised here: the script takes its clock from Go,
	// not from miniredis, so FastForward has no effect on token math.
}

func TestTokenBucketIsolatesTenants(t *testing.T) {
	ctx := context.Background()
	bucket := newTestBucket(t, 1, 1)

	if allowed, _, _ := bucket.Allow(ctx, "ratelimit:accept:tenant-a"); !allowed {
		t.Fatalf("tenant-a first request should pass")
	}
	if allowed, _, _ := bucket.Allow(ctx, "ratelimit:accept:tenant-a"); allowed {
		t.Fatalf("tenant-a should be exhausted")
	}
	if allowed, _, _ := bucket.Allow(ctx, "ratelimit:accept:tenant-b"); !allowed {
		t.Fatalf("tenant-b must not be affected by tenant-a's usage")
	}
}
