package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pasteward/pkg/domain"
	"pasteward/svc/util"

	"github.com/rs/zerolog"
)

func TestWebhookDelivers(t *testing.T) {
	var mu sync.Mutex
	var got []payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "https://paste.example", 2)
	w.OnAccepted(&domain.Paste{ID: 3, Title: "Diff Report Between Paste #2 and #1", Type: "diff", Edits: 2, Sender: "Remote IP: 203.0.113.5"})
	w.OnAccepted(&domain.Paste{ID: 2, Title: "t", Type: "text", Edits: 1, DiffReport: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered %d announcements, want 2", len(got))
	}
	for _, p := range got {
		if p.URL != "https://paste.example/View/2" && p.URL != "https://paste.example/View/3" {
			t.Errorf("unexpected url %q", p.URL)
		}
	}
	// sending after Close is a no-op rather than a panic
	w.OnAccepted(&domain.Paste{ID: 4})
}

func TestWebhookRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "", 1)
	w.client.RetryWaitMin = time.Millisecond
	w.client.RetryWaitMax = 5 * time.Millisecond
	w.OnAccepted(&domain.Paste{ID: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("server saw %d calls, want 2", n)
	}
}

func TestNoop(t *testing.T) {
	var n Notifier = Noop{}
	n.OnAccepted(&domain.Paste{ID: 1})
}

func TestLoggerScrubsTokens(t *testing.T) {
	var buf bytes.Buffer
	prev := util.GetLogger()
	util.SetLogger(zerolog.New(&buf))
	defer util.SetLogger(prev)

	leveledLogger{}.Warn("request failed", "url", "https://hooks.example/in?token=s3cr3t", "attempt", 2)
	out := buf.String()
	if strings.Contains(out, "s3cr3t") {
		t.Fatalf("token leaked into log: %s", out)
	}
	if !strings.Contains(out, "token=[REDACTED]") || !strings.Contains(out, `"attempt":2`) {
		t.Errorf("unexpected log line: %s", out)
	}
}
