package lim

import (
	"context"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pasteward/metrics"
	"pasteward/svc/util"

	"golang.org/x/time/rate"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
	redisTimeout    = 100 * time.Millisecond
)

// Admitter is the per-origin admission predicate consulted after classification.
type Admitter interface {
	Admit(ctx context.Context, origin string) bool
}

// Counter is the shared fixed-window backend, normally Redis.
type Counter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

type Limiter struct {
	shared            Counter
	keys              *OriginHasher
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	localLimiters     map[string]*limiterEntry
	mu                sync.Mutex
	conservativeLimit int
	globalRPM         int
	quit              chan struct{}
	stopOnce          sync.Once
	evictionSem       chan struct{}
}
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New builds a limiter. shared may be nil, in which case only the in-process
// token buckets apply.
func New(globalRPM, conservativeLimit int, shared Counter, keys *OriginHasher) *Limiter {
	l := &Limiter{
		shared:            shared,
		keys:              keys,
		localLimiters:     make(map[string]*limiterEntry),
		conservativeLimit: conservativeLimit,
		globalRPM:         globalRPM,
		quit:              make(chan struct{}),
		evictionSem:       make(chan struct{}, 1),
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	go l.cleanupLoop()
	return l
}
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpiredLimiters()
		case <-l.quit:
			return
		}
	}
}
func (l *Limiter) evictExpiredLimiters() {
	now := time.Now()
	l.mu.Lock()
	evicted := 0
	for key, entry := range l.localLimiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(l.localLimiters, key)
			evicted++
		}
	}
	remaining := len(l.localLimiters)
	l.mu.Unlock()
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("rate limiter cleanup")
	}
}
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.detector.Stop()
	})
}
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, time.Now().Add(60*time.Second).Unix())
}
func (l *Limiter) isAdaptiveMode() bool {
	return time.Now().Unix() < atomic.LoadInt64(&l.adaptiveModeUntil)
}
func (l *Limiter) RecordRequest() {
	l.detector.RecordRequest()
}
func (l *Limiter) RecordError() {
	l.detector.RecordError()
}

// Admit consumes one submission slot for origin. The shared counter enforces both a
// global and a per-origin window; when it is unreachable the local buckets decide.
func (l *Limiter) Admit(ctx context.Context, origin string) bool {
	key := l.key(origin)
	if l.shared != nil {
		allowed, err := l.admitShared(ctx, key)
		if err == nil {
			if !allowed {
				metrics.RateLimitHits.WithLabelValues("shared").Inc()
			}
			return allowed
		}
		util.Warn().Err(err).Msg("shared rate limit unavailable, using local fallback")
	}
	if !l.admitLocal(key) {
		metrics.RateLimitHits.WithLabelValues("local").Inc()
		return false
	}
	return true
}
func (l *Limiter) key(origin string) string {
	origin = NormalizeOrigin(origin)
	if l.keys == nil {
		return origin
	}
	return l.keys.Key(origin)
}
func (l *Limiter) limits() (global, perOrigin int) {
	global, perOrigin = l.globalRPM, l.conservativeLimit
	if l.isAdaptiveMode() {
		global, perOrigin = max(global/2, 1), max(perOrigin/2, 1)
	}
	return global, perOrigin
}
func (l *Limiter) admitShared(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	global, perOrigin := l.limits()
	usage, err := l.shared.RateLimit(ctx, "ratelimit:global", global, time.Minute)
	if err != nil {
		return false, err
	}
	if usage > global {
		return false, nil
	}
	usage, err = l.shared.RateLimit(ctx, "ratelimit:origin:"+key, perOrigin, time.Minute)
	if err != nil {
		return false, err
	}
	return usage <= perOrigin, nil
}
func (l *Limiter) admitLocal(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	threshold := (maxLimiters * 9) / 10
	if len(l.localLimiters) >= threshold {
		toEvict := len(l.localLimiters) / 10
		select {
		case l.evictionSem <- struct{}{}:
			go func() {
				defer func() { <-l.evictionSem }()
				l.asyncEvictOldest(toEvict)
			}()
		default:
		}
	}
	entry, exists := l.localLimiters[key]
	if !exists {
		if len(l.localLimiters) >= maxLimiters {
			util.Warn().Int("limiters", len(l.localLimiters)).Msg("rate limiter at capacity, rejecting request")
			return false
		}
		_, limit := l.limits()
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(limit)/60.0, limit)}
		l.localLimiters[key] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter.Allow()
}
func (l *Limiter) asyncEvictOldest(count int) {
	type kv struct {
		key        string
		lastAccess time.Time
	}
	l.mu.Lock()
	if len(l.localLimiters) < (maxLimiters*8)/10 {
		l.mu.Unlock()
		return
	}
	entries := make([]kv, 0, len(l.localLimiters))
	for k, v := range l.localLimiters {
		entries = append(entries, kv{k, v.lastAccess})
	}
	l.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < count && i < len(entries); i++ {
		delete(l.localLimiters, entries[i].key)
	}
}

// NormalizeOrigin reduces an origin string to the identity rate limiting is keyed
// on: ports are dropped and IPv6 addresses collapse to their /64.
func NormalizeOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if i := strings.Index(origin, " / "); i >= 0 {
		origin = origin[:i]
	}
	origin = stripPort(origin)
	origin = strings.TrimSuffix(strings.TrimPrefix(origin, "["), "]")
	ip := net.ParseIP(origin)
	if ip == nil {
		return strings.ToLower(origin)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String() + "/64"
}

// GetRealIP returns the client address, walking X-Forwarded-For only through
// trusted proxies.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	const maxIPsToParse = 100
	parsedCount := 0
	remaining := xff
	for len(remaining) > 0 && parsedCount < maxIPsToParse {
		var ipStr string
		if lastComma := strings.LastIndexByte(remaining, ','); lastComma == -1 {
			ipStr = strings.TrimSpace(remaining)
			remaining = ""
		} else {
			ipStr = strings.TrimSpace(remaining[lastComma+1:])
			remaining = remaining[:lastComma]
		}
		if ipStr == "" {
			continue
		}
		parsedCount++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", util.RedactIP(ipStr)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	return remoteIP
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	parsedIP := net.ParseIP(ip)
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") {
			if _, subnet, err := net.ParseCIDR(proxy); err == nil && parsedIP != nil && subnet.Contains(parsedIP) {
				return true
			}
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
