// Package notify announces accepted pastes to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pasteward/metrics"
	"pasteward/pkg/domain"
	"pasteward/svc/util"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Notifier is told about every committed paste. It must not block the caller and
// its failures never affect the submission.
type Notifier interface {
	OnAccepted(p *domain.Paste)
}

type Noop struct{}

func (Noop) OnAccepted(*domain.Paste) {}

const queueSize = 1024

type payload struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Type       string `json:"type"`
	URL        string `json:"url"`
	Edits      int64  `json:"edits,omitempty"`
	DiffReport int64  `json:"diff_report,omitempty"`
	Content    string `json:"content"`
}

// Webhook posts a JSON announcement per paste from a small worker pool. Requests
// are retried with backoff by retryablehttp; a full queue drops the announcement.
type Webhook struct {
	url     string
	urlBase string
	client  *retryablehttp.Client
	queue   chan payload
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	closed  bool
}

func NewWebhook(url, urlBase string, workers int) *Webhook {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = leveledLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	w := &Webhook{
		url:     url,
		urlBase: urlBase,
		client:  client,
		queue:   make(chan payload, queueSize),
		group:   g,
		ctx:     ctx,
		cancel:  cancel,
	}
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(w.worker)
	}
	return w
}
func (w *Webhook) OnAccepted(p *domain.Paste) {
	msg := payload{
		ID:         p.ID,
		Title:      p.Title,
		Type:       p.Type,
		URL:        fmt.Sprintf("%s/View/%d", w.urlBase, p.ID),
		Edits:      p.Edits,
		DiffReport: p.DiffReport,
	}
	msg.Content = fmt.Sprintf("New %s paste #%d: %s <%s>", p.Type, p.ID, p.Title, msg.URL)
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- msg:
	default:
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		util.Warn().Int64("paste_id", p.ID).Msg("webhook queue full, dropping announcement")
	}
}
func (w *Webhook) worker() error {
	for msg := range w.queue {
		if err := w.deliver(msg); err != nil {
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			util.Warn().Err(err).Int64("paste_id", msg.ID).Msg("webhook delivery failed")
			continue
		}
		metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	}
	return nil
}
func (w *Webhook) deliver(msg payload) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal webhook payload")
	}
	req, err := retryablehttp.NewRequestWithContext(w.ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting announcements and waits for queued ones to drain until
// ctx expires, at which point in-flight requests are cancelled.
func (w *Webhook) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	done := make(chan error, 1)
	go func() { done <- w.group.Wait() }()
	select {
	case err := <-done:
		w.cancel()
		return err
	case <-ctx.Done():
		w.cancel()
		return ctx.Err()
	}
}

// leveledLogger routes retryablehttp's logging through zerolog. Webhook URLs may
// carry a token in the query string, so string values are scrubbed.
type leveledLogger struct{}

func fields(kv []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		v := kv[i+1]
		if str, ok := v.(string); ok {
			v = util.RedactSecret(str)
		}
		m[fmt.Sprint(kv[i])] = v
	}
	return m
}
func (leveledLogger) Error(msg string, kv ...interface{}) { util.Error().Fields(fields(kv)).Msg(msg) }
func (leveledLogger) Info(msg string, kv ...interface{})  { util.Debug().Fields(fields(kv)).Msg(msg) }
func (leveledLogger) Debug(msg string, kv ...interface{}) { util.Debug().Fields(fields(kv)).Msg(msg) }
func (leveledLogger) Warn(msg string, kv ...interface{})  { util.Warn().Fields(fields(kv)).Msg(msg) }
