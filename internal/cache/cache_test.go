package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type payload struct {
	Count int `json:"count"`
}

func newTestCache(t *testing.T, ttl time.Duration) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, "stats", ttl), mr
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)

	var got payload
	hit, err := c.Get(ctx, "board", &got)
	if err != nil || hit {
		t.Fatalf("expected miss on empty cache, hit=%v err=%v", hit, err)
	}

	if err := c.Set(ctx, "board", payload{Count: 7}); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err = c.Get(ctx, "board", &got)
	if err != nil || !hit {
		t.Fatalf("expected hit, hit=%v err=%v", hit, err)
	}
	if got.Count != 7 {
		t.Fatalf("got %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	hit, err = c.Get(ctx, "board", &got)
	if err != nil || hit {
		t.Fatalf("expected miss after TTL, hit=%v err=%v", hit, err)
	}
}

func TestCacheKeyIsolation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)

	if err := c.Set(ctx, Key("stats", map[string]string{"owner_id": "a"}), payload{Count: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got payload
	hit, err := c.Get(ctx, Key("stats", map[string]string{"owner_id": "b"}), &got)
	if err != nil || hit {
		t.Fatalf("different filters must not share a slot, hit=%v err=%v", hit, err)
	}
	hit, _ = c.Get(ctx, Key("stats", map[string]string{"owner_id": "a"}), &got)
	if !hit || got.Count != 1 {
		t.Fatalf("expected hit for matching filter, hit=%v got=%+v", hit, got)
	}
}

func TestKeyNormalization(t *testing.T) {
	a := Key("stats", map[string]string{"owner_id": "u1", "status": "READY"})
	b := Key("stats", map[string]string{"status": "READY", "owner_id": "u1"})
	if a != b {
		t.Fatalf("key depends on map order: %q vs %q", a, b)
	}
	if Key("stats", map[string]string{"owner_id": ""}) != "stats" {
		t.Fatal("empty params must collapse to the bare endpoint key")
	}
}

func TestInvalidateAll(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)

	_ = c.Set(ctx, "a", payload{Count: 1})
	_ = c.Set(ctx, "b", payload{Count: 2})
	if err := c.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}

	var got payload
	if hit, _ := c.Get(ctx, "a", &got); hit {
		t.Fatal("slot a survived invalidation")
	}
	if hit, _ := c.Get(ctx, "b", &got); hit {
		t.Fatal("slot b survived invalidation")
	}
}
