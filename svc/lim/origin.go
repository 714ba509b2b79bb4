package lim

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"pasteward/svc/util"

	"github.com/pkg/errors"
)

var ErrInvalidInterval = errors.New("rotation interval must be >= 15 minutes")

// OriginHasher turns normalized origins into opaque rate-limit keys so raw client
// addresses never reach the shared counter. The HMAC key rotates every interval.
type OriginHasher struct {
	rotationInterval time.Duration
	pepper           []byte
	mu               sync.RWMutex
	currentKey       []byte
	currentEpoch     int64
	stopChan         chan struct{}
	stopped          bool
}

func NewOriginHasher(pepper []byte, rotationInterval time.Duration) (*OriginHasher, error) {
	if rotationInterval < 15*time.Minute {
		return nil, ErrInvalidInterval
	}
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	h := &OriginHasher{
		rotationInterval: rotationInterval,
		pepper:           make([]byte, len(pepper)),
		stopChan:         make(chan struct{}),
	}
	copy(h.pepper, pepper)
	h.currentEpoch = h.epoch(time.Now())
	h.currentKey = h.deriveKey(h.currentEpoch)
	go h.rotationLoop()
	return h, nil
}

// Key returns the keyed digest for origin. After Stop it degrades to the plain
// origin rather than failing admission.
func (h *OriginHasher) Key(origin string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return origin
	}
	mac := hmac.New(sha256.New, h.currentKey)
	mac.Write([]byte(origin))
	return fmt.Sprintf("%d:%s", h.currentEpoch, hex.EncodeToString(mac.Sum(nil)[:16]))
}
func (h *OriginHasher) epoch(t time.Time) int64 {
	return t.Unix() / int64(h.rotationInterval.Seconds())
}
func (h *OriginHasher) deriveKey(epoch int64) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(fmt.Sprintf("origin-key-v1:%d", epoch)))
	return mac.Sum(nil)
}
func (h *OriginHasher) rotate(now time.Time) {
	newEpoch := h.epoch(now)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || newEpoch == h.currentEpoch {
		return
	}
	util.Wipe(h.currentKey)
	h.currentEpoch = newEpoch
	h.currentKey = h.deriveKey(newEpoch)
	util.Debug().Int64("epoch", newEpoch).Msg("rotated origin key")
}
func (h *OriginHasher) rotationLoop() {
	ticker := time.NewTicker(h.rotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopChan:
			return
		case now := <-ticker.C:
			h.rotate(now)
		}
	}
}
func (h *OriginHasher) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stopChan)
	util.Wipe(h.currentKey)
	util.Wipe(h.pepper)
	h.currentKey, h.pepper = nil, nil
}
