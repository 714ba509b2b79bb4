package kms

import (
	"context"
	"crypto/rand"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer envelope-encrypts blobs: a fresh data key per blob seals the payload with
// XChaCha20-Poly1305, and the data key itself is wrapped by the Adapter.
type Sealer struct {
	adapter *Adapter
	deks    *DEKCache
}

func NewSealer(adapter *Adapter, deks *DEKCache) *Sealer {
	return &Sealer{adapter: adapter, deks: deks}
}

// Seal returns the sealed payload and the wrapped data key. ec is bound to both.
func (s *Sealer) Seal(ctx context.Context, plaintext []byte, ec EncryptionContext) (sealed, wrappedDEK []byte, err error) {
	dek, err := GenerateDEK()
	if err != nil {
		return nil, nil, err
	}
	defer wipe(dek)
	sealed, err = AEADSeal(plaintext, dek, ec.bytes())
	if err != nil {
		return nil, nil, err
	}
	wrappedDEK, err = s.adapter.Encrypt(ctx, dek, ec)
	if err != nil {
		return nil, nil, errors.Wrap(err, "wrap data key")
	}
	return sealed, wrappedDEK, nil
}

// Open reverses Seal.
func (s *Sealer) Open(ctx context.Context, sealed, wrappedDEK []byte, ec EncryptionContext) ([]byte, error) {
	var dek []byte
	var err error
	if s.deks != nil {
		dek, err = s.deks.Unwrap(ctx, wrappedDEK, ec)
	} else {
		dek, err = s.adapter.Decrypt(ctx, wrappedDEK, ec)
	}
	if err != nil {
		return nil, errors.Wrap(err, "unwrap data key")
	}
	defer wipe(dek)
	return AEADOpen(sealed, dek, ec.bytes())
}

func GenerateDEK() ([]byte, error) {
	dek := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, errors.Wrap(err, "generate data key")
	}
	return dek, nil
}
func AEADSeal(plaintext, dek, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}
func AEADOpen(ciphertext, dek, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, err
	}
	n := aead.NonceSize()
	if len(ciphertext) < n {
		return nil, ErrDecryptionFailed
	}
	out, err := aead.Open(nil, ciphertext[:n], ciphertext[n:], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
