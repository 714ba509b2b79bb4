package cache

import (
	"time"

	"pasteward/metrics"
	"pasteward/pkg/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
)

// LRU is the in-process tier of the read path. Entries are clones, so callers may
// mutate what they get back without corrupting the cache.
type LRU struct {
	c *expirable.LRU[int64, *domain.Paste]
}

func NewLRU(size int, ttl time.Duration) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	if ttl <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}
	return &LRU{c: expirable.NewLRU[int64, *domain.Paste](size, nil, ttl)}, nil
}
func (l *LRU) Get(id int64) *domain.Paste {
	p, ok := l.c.Get(id)
	if !ok {
		metrics.CacheMisses.Inc()
		return nil
	}
	metrics.CacheHits.Inc()
	return p.Clone()
}
func (l *LRU) Set(p *domain.Paste) {
	l.c.Add(p.ID, p.Clone())
}
func (l *LRU) Delete(id int64) {
	l.c.Remove(id)
}
func (l *LRU) Len() int {
	return l.c.Len()
}
