package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	redisad "pdl_sync/internal/adapters/redis"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newCache(t *testing.T) (*redisad.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redisad.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_SetGetDel(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	var got entry
	ok, err := c.Get(ctx, "agencies:all", &got)
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, "agencies:all", entry{Name: "Acme", Count: 2}, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	ok, err = c.Get(ctx, "agencies:all", &got)
	if err != nil || !ok || got.Name != "Acme" || got.Count != 2 {
		t.Fatalf("unexpected get: ok=%v err=%v got=%+v", ok, err, got)
	}

	if err := c.Del(ctx, "agencies:all"); err != nil {
		t.Fatalf("del: %v", err)
	}
	ok, _ = c.Get(ctx, "agencies:all", &got)
	if ok {
		t.Fatalf("expected miss after del")
	}
}

func TestCache_TTLExpires(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", entry{Name: "x"}, 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(11 * time.Second)

	var got entry
	if ok, _ := c.Get(ctx, "k", &got); ok {
		t.Fatalf("expected expiry")
	}
}
