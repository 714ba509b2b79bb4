package kms

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DEKCache keeps recently unwrapped data keys so repeated moderator reads of the
// same snapshot do not each cost a KMS round trip. Evicted keys are wiped.
type DEKCache struct {
	adapter *Adapter
	cache   *expirable.LRU[string, []byte]
	group   singleflight.Group
}

func NewDEKCache(adapter *Adapter, size int, ttl time.Duration) *DEKCache {
	return &DEKCache{
		adapter: adapter,
		cache: expirable.NewLRU[string, []byte](size, func(_ string, dek []byte) {
			wipe(dek)
		}, ttl),
	}
}

// Unwrap returns a copy of the plaintext data key; callers own and may wipe it.
func (c *DEKCache) Unwrap(ctx context.Context, wrapped []byte, ec EncryptionContext) ([]byte, error) {
	h := sha256.New()
	h.Write(wrapped)
	h.Write(ec.bytes())
	key := hex.EncodeToString(h.Sum(nil))
	if dek, ok := c.cache.Get(key); ok {
		return append([]byte(nil), dek...), nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		dek, err := c.adapter.Decrypt(ctx, wrapped, ec)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, append([]byte(nil), dek...))
		return dek, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v.([]byte)...), nil
}

// Purge wipes every cached key.
func (c *DEKCache) Purge() {
	c.cache.Purge()
}
func (c *DEKCache) Len() int {
	return c.cache.Len()
}
