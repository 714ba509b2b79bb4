package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"pasteward/svc/util"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
)

const (
	verifiedCacheSize = 256
	verifiedCacheTTL  = 10 * time.Minute
)

// Privileged decides whether a caller may run moderation operations.
type Privileged interface {
	IsPrivileged(ctx context.Context, token string) (staffID string, ok bool)
}

type staffEntry struct {
	id   string
	hash string
}

// StaffTokens checks bearer tokens against configured argon2id hashes. Entries are
// "name:$argon2id$..." or a bare hash, which gets a positional name. Successful
// checks are remembered by token digest so repeat requests skip the derivation.
type StaffTokens struct {
	hasher   *Hasher
	entries  []staffEntry
	verified *expirable.LRU[string, string]
}

func NewStaffTokens(hasher *Hasher, hashes []string) (*StaffTokens, error) {
	s := &StaffTokens{
		hasher:   hasher,
		verified: expirable.NewLRU[string, string](verifiedCacheSize, nil, verifiedCacheTTL),
	}
	for i, raw := range hashes {
		id, hash, found := strings.Cut(raw, ":")
		if !found {
			id, hash = "staff-"+strconv.Itoa(i+1), raw
		}
		if !strings.HasPrefix(hash, "$argon2id$") {
			return nil, errors.Errorf("staff token entry %d is not an argon2id hash", i+1)
		}
		s.entries = append(s.entries, staffEntry{id: id, hash: hash})
	}
	return s, nil
}
func (s *StaffTokens) IsPrivileged(ctx context.Context, token string) (string, bool) {
	if token == "" || len(s.entries) == 0 || ctx.Err() != nil {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])
	if id, ok := s.verified.Get(key); ok {
		return id, true
	}
	matched := ""
	for _, e := range s.entries {
		if s.hasher.Verify(token, e.hash) && matched == "" {
			matched = e.id
		}
	}
	if matched == "" {
		util.Warn().Msg("staff token rejected")
		return "", false
	}
	s.verified.Add(key, matched)
	return matched, true
}

// Nobody is used when no staff tokens are configured.
type Nobody struct{}

func (Nobody) IsPrivileged(context.Context, string) (string, bool) { return "", false }
