package lim_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pasteward/svc/lim"
)

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (f *fakeCounter) RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func TestAdmitSharedPerOrigin(t *testing.T) {
	l := lim.New(1000, 3, &fakeCounter{}, nil)
	defer l.Stop()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if !l.Admit(ctx, "203.0.113.7") {
			t.Fatalf("submission %d denied", i+1)
		}
	}
	if l.Admit(ctx, "203.0.113.7") {
		t.Error("fourth submission admitted")
	}
	if !l.Admit(ctx, "198.51.100.1") {
		t.Error("other origin denied")
	}
}

func TestAdmitSharedGlobal(t *testing.T) {
	l := lim.New(2, 100, &fakeCounter{}, nil)
	defer l.Stop()
	ctx := context.Background()
	l.Admit(ctx, "a")
	l.Admit(ctx, "b")
	if l.Admit(ctx, "c") {
		t.Error("global window exceeded but admitted")
	}
}

func TestAdmitFallsBackToLocal(t *testing.T) {
	l := lim.New(1000, 2, &fakeCounter{err: errors.New("connection refused")}, nil)
	defer l.Stop()
	ctx := context.Background()
	if !l.Admit(ctx, "10.0.0.1") || !l.Admit(ctx, "10.0.0.1") {
		t.Fatal("burst denied")
	}
	if l.Admit(ctx, "10.0.0.1") {
		t.Error("local bucket did not deny after burst")
	}
}

func TestAdmitHashedKeys(t *testing.T) {
	h, err := lim.NewOriginHasher([]byte("0123456789ABCDEF0123456789ABCDEF"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()
	c := &fakeCounter{}
	l := lim.New(1000, 5, c, h)
	defer l.Stop()
	l.Admit(context.Background(), "192.0.2.55")
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.counts {
		if key != "ratelimit:global" && strings.Contains(key, "192.0.2.55") {
			t.Errorf("raw origin leaked into key %q", key)
		}
	}
}

func TestOriginHasher(t *testing.T) {
	if _, err := lim.NewOriginHasher([]byte("short"), time.Hour); err == nil {
		t.Error("short pepper accepted")
	}
	if _, err := lim.NewOriginHasher([]byte("0123456789ABCDEF0123456789ABCDEF"), time.Minute); err != lim.ErrInvalidInterval {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
	h, err := lim.NewOriginHasher([]byte("0123456789ABCDEF0123456789ABCDEF"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	a, b := h.Key("192.0.2.1"), h.Key("192.0.2.1")
	if a != b {
		t.Error("same origin produced different keys")
	}
	if a == h.Key("192.0.2.2") {
		t.Error("different origins collided")
	}
	h.Stop()
	if got := h.Key("192.0.2.1"); got != "192.0.2.1" {
		t.Errorf("stopped hasher returned %q", got)
	}
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"203.0.113.7", "203.0.113.7"},
		{"203.0.113.7:5555", "203.0.113.7"},
		{"203.0.113.7 / 198.51.100.2", "203.0.113.7"},
		{"[2001:db8:1:2:3:4:5:6]:443", "2001:db8:1:2::/64"},
		{"2001:db8:1:2:ffff::1", "2001:db8:1:2::/64"},
		{"Unknown", "unknown"},
	}
	for _, tt := range tests {
		if got := lim.NormalizeOrigin(tt.in); got != tt.want {
			t.Errorf("NormalizeOrigin(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetRealIP(t *testing.T) {
	r := httptest.NewRequest("POST", "/New", nil)
	r.RemoteAddr = "10.0.0.5:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.4")
	if got := lim.GetRealIP(r, nil); got != "10.0.0.5" {
		t.Errorf("untrusted: got %q", got)
	}
	if got := lim.GetRealIP(r, []string{"10.0.0.0/8"}); got != "203.0.113.9" {
		t.Errorf("trusted: got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "not-an-ip, 10.0.0.4")
	if got := lim.GetRealIP(r, []string{"10.0.0.0/8"}); got != "10.0.0.5" {
		t.Errorf("invalid chain: got %q", got)
	}
}

func TestAnomalyDetector(t *testing.T) {
	fired := false
	d := lim.NewAnomalyDetector(func() { fired = true })
	for i := 0; i < 20; i++ {
		d.RecordRequest()
	}
	for i := 0; i < 5; i++ {
		d.RecordError()
	}
	rate, reqs := d.ErrorRate()
	if reqs != 20 || rate != 25.0 {
		t.Errorf("ErrorRate() = %v, %d", rate, reqs)
	}
	d.AdvanceWindow()
	if !fired {
		t.Error("anomaly callback not invoked")
	}
}
