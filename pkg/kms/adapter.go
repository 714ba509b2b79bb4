// Package kms wraps data keys with an external key service and seals moderator
// snapshots with them.
package kms

import (
	"bytes"
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrProviderUnavailable = errors.New("kms provider unavailable")
	ErrDecryptionFailed    = errors.New("decryption failed")
)

const opTimeout = 10 * time.Second

// EncryptionContext is bound to ciphertexts as associated data. The same context
// must be supplied to decrypt.
type EncryptionContext map[string]string

// Provider is one key service backend.
type Provider interface {
	Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
	GetSecret(ctx context.Context, key string) (string, error)
}

// Adapter routes to the primary provider (Vault, then AWS KMS) and only falls back
// to the local env key when KMS_FAIL_CLOSED=false or no primary is configured.
type Adapter struct {
	primary        Provider
	fallback       Provider
	failClosed     bool
	requirePrimary bool
}

// NewAdapter selects providers from the environment.
func NewAdapter(ctx context.Context) (*Adapter, error) {
	requirePrimary := strings.EqualFold(os.Getenv("KMS_REQUIRE_PRIMARY"), "true")
	var primary, fallback Provider
	if os.Getenv("VAULT_ADDR") != "" {
		if vp, err := newVaultProvider(ctx); err == nil {
			primary = vp
		}
	}
	if primary == nil && os.Getenv("AWS_REGION") != "" {
		if ap, err := newAWSProvider(ctx); err == nil {
			primary = ap
		}
	}
	if !requirePrimary && primary == nil {
		if key := os.Getenv("KMS_LOCAL_KEY"); key != "" {
			ep, err := newEnvProvider(key)
			if err != nil {
				return nil, errors.Wrap(err, "init env provider")
			}
			fallback = ep
		}
	}
	if primary == nil && fallback == nil {
		if requirePrimary {
			return nil, errors.New("KMS_REQUIRE_PRIMARY=true but neither Vault nor AWS KMS is reachable")
		}
		return nil, errors.New("no KMS provider available (checked Vault, AWS KMS, KMS_LOCAL_KEY)")
	}
	return NewAdapterWith(primary, fallback, os.Getenv("KMS_FAIL_CLOSED") != "false", requirePrimary), nil
}

func NewAdapterWith(primary, fallback Provider, failClosed, requirePrimary bool) *Adapter {
	return &Adapter{
		primary:        primary,
		fallback:       fallback,
		failClosed:     failClosed,
		requirePrimary: requirePrimary,
	}
}

// route runs op against the primary and, when policy allows, the fallback.
func (a *Adapter) route(op string, fn func(Provider) error) error {
	if a.primary != nil {
		err := fn(a.primary)
		if err == nil {
			return nil
		}
		if a.requirePrimary || a.failClosed || a.fallback == nil {
			return errors.Wrapf(err, "kms %s", op)
		}
	}
	if a.fallback != nil {
		return errors.Wrapf(fn(a.fallback), "kms %s (fallback)", op)
	}
	return ErrProviderUnavailable
}
func (a *Adapter) Encrypt(ctx context.Context, plaintext []byte, ec EncryptionContext) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	aad := ec.bytes()
	var out []byte
	err := a.route("encrypt", func(p Provider) (err error) {
		out, err = p.Encrypt(ctx, plaintext, aad)
		return err
	})
	return out, err
}
func (a *Adapter) Decrypt(ctx context.Context, ciphertext []byte, ec EncryptionContext) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	aad := ec.bytes()
	var out []byte
	err := a.route("decrypt", func(p Provider) (err error) {
		out, err = p.Decrypt(ctx, ciphertext, aad)
		return err
	})
	return out, err
}

// GetSecret fetches a named secret, e.g. the staff token pepper.
func (a *Adapter) GetSecret(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var out string
	err := a.route("get secret", func(p Provider) error {
		v, err := p.GetSecret(ctx, key)
		if err == nil && v == "" {
			err = errors.Errorf("secret %s is empty", key)
		}
		out = v
		return err
	})
	return out, err
}

// bytes serializes the context deterministically, sorted by key.
func (ec EncryptionContext) bytes() []byte {
	if len(ec) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ec))
	for k := range ec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(ec[k])
		buf.WriteByte(';')
	}
	return buf.Bytes()
}
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
