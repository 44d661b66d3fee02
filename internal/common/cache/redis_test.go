package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisCacheBasicOps(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	if v, err := c.Get(ctx, "missing"); err != nil || v != "" {
		t.Fatalf("missing key should be empty, got %q err=%v", v, err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if v, _ := c.Get(ctx, "k"); v != "v" {
		t.Fatalf("unexpected value %q", v)
	}
	ok, err := c.SetNX(ctx, "k", "other", time.Minute)
	if err != nil || ok {
		t.Fatalf("setnx on existing key should fail, ok=%v err=%v", ok, err)
	}
	if n, err := c.Incr(ctx, "n"); err != nil || n != 1 {
		t.Fatalf("incr = %d err=%v", n, err)
	}
	if err := c.Expire(ctx, "n", time.Second); err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if ttl, err := c.TTL(ctx, "n"); err != nil || ttl <= 0 {
		t.Fatalf("unexpected ttl %v err=%v", ttl, err)
	}
	mr.FastForward(2 * time.Second)
	if mr.Exists("n") {
		t.Fatalf("key should expire")
	}
	if err := c.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if err := c.Del(ctx); err != nil {
		t.Fatalf("empty del failed: %v", err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestNewRedisCacheWithConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	if _, err := NewRedisCacheWithConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := NewRedisCacheWithConfig(&RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	c, err := NewRedisCacheWithConfig(cfg)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	_ = c.Close()
}
