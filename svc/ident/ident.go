// Package ident hands out paste identifiers.
package ident

import (
	"context"
	"sync"

	"pasteward/metrics"
	"pasteward/pkg/domain"
	"pasteward/svc/util"

	"github.com/pkg/errors"
)

// ErrNotMonotonic means the backing counter went backwards or repeated a value.
var ErrNotMonotonic = errors.New("id counter returned a non-increasing value")

// Counter is an atomic increment-and-fetch on durable storage.
type Counter interface {
	IncrementCounter(ctx context.Context, name string) (int64, error)
}

// Allocator serializes allocations within the process and checks that every value
// it returns is greater than the last. Cross-process uniqueness comes from the
// counter's own atomicity.
type Allocator struct {
	mu      sync.Mutex
	counter Counter
	name    string
	last    int64
}

func New(counter Counter, name string) *Allocator {
	return &Allocator{counter: counter, name: name}
}

// Next returns a fresh ID. It never synthesizes a value when storage fails.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, err := a.counter.IncrementCounter(ctx, a.name)
	if err != nil {
		util.Error().Err(err).Str("counter", a.name).Msg("id allocation failed")
		return 0, errors.Wrap(domain.ErrStorageUnavailable, err.Error())
	}
	if id <= a.last {
		util.Error().Int64("got", id).Int64("last", a.last).Msg("id counter not monotonic")
		return 0, errors.Wrapf(ErrNotMonotonic, "got %d after %d", id, a.last)
	}
	a.last = id
	metrics.IDsAllocated.Inc()
	return id, nil
}

// Last reports the most recent ID this allocator handed out, 0 if none.
func (a *Allocator) Last() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
