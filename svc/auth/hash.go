package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"pasteward/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const (
	maxTokenLength = 1024
	keyLength      = 32
)

// Hasher derives argon2id hashes of HMAC-peppered tokens. A semaphore bounds how
// many derivations run at once, since each one holds memory KiB.
type Hasher struct {
	iterations  uint32
	memory      uint32
	parallelism uint8
	pepper      []byte
	mu          sync.RWMutex
	sem         chan struct{}
	stopOnce    sync.Once
}

func NewHasher(time, memory uint32, parallelism uint8, pepper []byte, concurrency int) (*Hasher, error) {
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	if time == 0 || time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if memory < 1*1024 || memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 1024 and 2097152 KiB")
	}
	if parallelism == 0 || parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	pepperCopy := make([]byte, len(pepper))
	copy(pepperCopy, pepper)
	return &Hasher{
		iterations:  time,
		memory:      memory,
		parallelism: parallelism,
		pepper:      pepperCopy,
		sem:         make(chan struct{}, concurrency),
	}, nil
}

// Stop wipes the pepper. Later calls fail closed.
func (h *Hasher) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		util.Wipe(h.pepper)
		h.pepper = nil
		h.mu.Unlock()
	})
}

// Hash returns an encoded "$argon2id$v=..$m=..,t=..,p=..$salt$hash" string.
func (h *Hasher) Hash(token string) (string, error) {
	if len(token) > maxTokenLength {
		return "", errors.New("token too long")
	}
	peppered := h.applyPepper(token)
	if peppered == nil {
		return "", errors.New("hasher stopped")
	}
	defer util.Wipe(peppered)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "read salt")
	}
	h.sem <- struct{}{}
	hash := argon2.IDKey(peppered, salt, h.iterations, h.memory, h.parallelism, keyLength)
	<-h.sem
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(hash)), nil
}

// Verify reports whether token matches encoded. Malformed hashes still cost one
// derivation so they cannot be told apart by timing.
func (h *Hasher) Verify(token, encoded string) bool {
	if len(token) > maxTokenLength {
		token = strings.Repeat("x", maxTokenLength)
		encoded = ""
	}
	mem, iters, threads := h.memory, h.iterations, h.parallelism
	salt, want, valid := decode(encoded, &mem, &iters, &threads)
	if !valid {
		mem, iters, threads = h.memory, h.iterations, h.parallelism
	}
	peppered := h.applyPepper(token)
	if peppered == nil {
		return false
	}
	defer util.Wipe(peppered)
	h.sem <- struct{}{}
	got := argon2.IDKey(peppered, salt, iters, mem, threads, uint32(len(want)))
	<-h.sem
	defer util.Wipe(got)
	return subtle.ConstantTimeCompare(want, got) == 1 && valid
}
func decode(encoded string, mem, iters *uint32, threads *uint8) (salt, hash []byte, ok bool) {
	salt, hash = make([]byte, 16), make([]byte, keyLength)
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return salt, hash, false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", mem, iters, threads); err != nil {
		return salt, hash, false
	}
	if *mem > 2*1024*1024 || *iters > 1000 || *threads == 0 || *threads > 128 {
		return salt, hash, false
	}
	s, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(s) == 0 {
		return salt, hash, false
	}
	d, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(d) == 0 || len(d) > 256 {
		return salt, hash, false
	}
	return s, d, true
}
func (h *Hasher) applyPepper(token string) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.pepper) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

// UpdatePepper swaps in a pepper fetched after startup, e.g. from KMS.
func (h *Hasher) UpdatePepper(newPepper []byte) error {
	if len(newPepper) < 32 {
		return errors.New("pepper must be at least 32 bytes")
	}
	pepperCopy := make([]byte, len(newPepper))
	copy(pepperCopy, newPepper)
	h.mu.Lock()
	old := h.pepper
	h.pepper = pepperCopy
	h.mu.Unlock()
	util.Wipe(old)
	return nil
}
