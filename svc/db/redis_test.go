package db_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"pasteward/cfg"
	"pasteward/pkg/domain"
	"pasteward/svc/db"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*db.Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	r, err := db.NewRedis("redis://"+s.Addr(), &cfg.Cfg{RedisTimeout: time.Second})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, s
}

func TestRedisIncrementCounter(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	const n = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.IncrementCounter(ctx, db.PasteCounter)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("got %d distinct values, want %d", len(seen), n)
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Errorf("value %d never handed out", i)
		}
	}
}

func TestRedisSeedCounter(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	if err := r.SeedCounter(ctx, db.PasteCounter, 100); err != nil {
		t.Fatal(err)
	}
	if err := r.SeedCounter(ctx, db.PasteCounter, 10); err != nil {
		t.Fatal(err)
	}
	v, err := r.IncrementCounter(ctx, db.PasteCounter)
	if err != nil {
		t.Fatal(err)
	}
	if v != 101 {
		t.Errorf("IncrementCounter after seed = %d, want 101", v)
	}
}

func TestRedisPasteCache(t *testing.T) {
	r, s := newTestRedis(t)
	ctx := context.Background()
	p := &domain.Paste{ID: 9, Title: "t", Type: "text", Sender: "secret", Raw: "r", Formatted: "f", CreatedAt: time.Now()}
	if err := r.CachePaste(ctx, p, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetPaste(ctx, 9)
	if err != nil || got == nil {
		t.Fatalf("GetPaste: %v %v", got, err)
	}
	if got.Raw != "r" || got.Sender != "" {
		t.Errorf("cached copy = %+v", got)
	}
	s.FastForward(2 * time.Minute)
	got, err = r.GetPaste(ctx, 9)
	if err != nil || got != nil {
		t.Errorf("expected miss after ttl, got %v %v", got, err)
	}
	if err := r.CachePaste(ctx, p, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := r.Evict(ctx, 9); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.GetPaste(ctx, 9); got != nil {
		t.Error("evicted paste still cached")
	}
}

func TestRedisRateLimit(t *testing.T) {
	r, s := newTestRedis(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		usage, err := r.RateLimit(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if usage != i {
			t.Errorf("usage = %d, want %d", usage, i)
		}
	}
	usage, err := r.RateLimit(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if usage <= 3 {
		t.Errorf("fourth hit usage = %d, want > 3", usage)
	}
	s.FastForward(2 * time.Minute)
	usage, _ = r.RateLimit(ctx, "k", 3, time.Minute)
	if usage != 1 {
		t.Errorf("usage after window = %d, want 1", usage)
	}
}

func TestRedisPing(t *testing.T) {
	r, s := newTestRedis(t)
	if err := r.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s.Close()
	if err := r.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded against stopped server")
	}
}
