package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucketPerUser(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	d, err := bucket.Allow(ctx, "editor-1")
	if err != nil || !d.Allowed {
		t.Fatalf("expected first request allowed, got %+v err=%v", d, err)
	}
	d, _ = bucket.Allow(ctx, "editor-1")
	if !d.Allowed {
		t.Fatal("expected second request allowed")
	}
	d, _ = bucket.Allow(ctx, "editor-1")
	if d.Allowed {
		t.Fatal("expected third request rejected")
	}

	// A different user has their own bucket.
	d, err = bucket.Allow(ctx, "editor-2")
	if err != nil || !d.Allowed {
		t.Fatalf("expected fresh bucket for other user, got %+v err=%v", d, err)
	}

	// Note: refill cannot be tested via miniredis.FastForward() because the
	// Lua script takes its clock from Go's time.Now(), not Redis.
}
