package kms

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"
)

const testLocalKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

type mockProvider struct {
	mu       sync.Mutex
	decrypts int
	fail     bool
	inner    Provider
}

func (m *mockProvider) Encrypt(ctx context.Context, p, aad []byte) ([]byte, error) {
	if m.fail {
		return nil, errors.New("primary down")
	}
	return m.inner.Encrypt(ctx, p, aad)
}
func (m *mockProvider) Decrypt(ctx context.Context, c, aad []byte) ([]byte, error) {
	m.mu.Lock()
	m.decrypts++
	m.mu.Unlock()
	if m.fail {
		return nil, errors.New("primary down")
	}
	return m.inner.Decrypt(ctx, c, aad)
}
func (m *mockProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if m.fail {
		return "", errors.New("primary down")
	}
	return "from-primary", nil
}

func newLocal(t *testing.T) *envProvider {
	t.Helper()
	p, err := newEnvProvider(testLocalKey)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewAdapterFromEnv(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("AWS_REGION", "")
	t.Setenv("KMS_LOCAL_KEY", testLocalKey)
	a, err := NewAdapter(context.Background())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	ct, err := a.Encrypt(context.Background(), []byte("dek"), nil)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := a.Decrypt(context.Background(), ct, nil)
	if err != nil || string(pt) != "dek" {
		t.Errorf("round trip: %q %v", pt, err)
	}

	t.Setenv("KMS_REQUIRE_PRIMARY", "true")
	if _, err := NewAdapter(context.Background()); err == nil {
		t.Error("KMS_REQUIRE_PRIMARY accepted the local key")
	}
}

func TestEnvProviderRejectsBadKeys(t *testing.T) {
	if _, err := newEnvProvider("not base64!"); err == nil {
		t.Error("invalid base64 accepted")
	}
	if _, err := newEnvProvider(base64.StdEncoding.EncodeToString(make([]byte, 16))); err == nil {
		t.Error("16-byte key accepted")
	}
}

func TestEnvProviderGCMLayout(t *testing.T) {
	key, _ := base64.StdEncoding.DecodeString(testLocalKey)
	block, _ := aes.NewCipher(key)
	gcm, _ := cipher.NewGCM(block)
	nonce := make([]byte, gcm.NonceSize())
	rand.Read(nonce)
	external := gcm.Seal(nonce, nonce, []byte("payload"), nil)

	p := newLocal(t)
	got, err := p.Decrypt(context.Background(), external, nil)
	if err != nil || string(got) != "payload" {
		t.Errorf("decrypt nonce||ciphertext: %q %v", got, err)
	}
}

func TestFailClosed(t *testing.T) {
	local := newLocal(t)
	primary := &mockProvider{fail: true, inner: local}
	closed := NewAdapterWith(primary, local, true, false)
	if _, err := closed.Encrypt(context.Background(), []byte("x"), nil); err == nil {
		t.Error("fail-closed adapter used the fallback")
	}
	open := NewAdapterWith(primary, local, false, false)
	if _, err := open.Encrypt(context.Background(), []byte("x"), nil); err != nil {
		t.Errorf("fail-open adapter did not fall back: %v", err)
	}
	if v, err := NewAdapterWith(&mockProvider{inner: local}, nil, true, false).GetSecret(context.Background(), "k"); err != nil || v != "from-primary" {
		t.Errorf("GetSecret = %q, %v", v, err)
	}
	if _, err := NewAdapterWith(nil, nil, true, false).Encrypt(context.Background(), []byte("x"), nil); err != ErrProviderUnavailable {
		t.Errorf("no providers: %v", err)
	}
}

func TestSealerRoundTrip(t *testing.T) {
	a := NewAdapterWith(nil, newLocal(t), true, false)
	s := NewSealer(a, nil)
	ec := EncryptionContext{"paste_id": "12", "purpose": "redacted"}
	snapshot := []byte("Original title\n\nOriginal body")
	sealed, wrapped, err := s.Seal(context.Background(), snapshot, ec)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(sealed, snapshot) {
		t.Fatal("snapshot stored in the clear")
	}
	got, err := s.Open(context.Background(), sealed, wrapped, ec)
	if err != nil || !bytes.Equal(got, snapshot) {
		t.Fatalf("Open = %q, %v", got, err)
	}

	if _, err := s.Open(context.Background(), sealed, wrapped, EncryptionContext{"paste_id": "13", "purpose": "redacted"}); err == nil {
		t.Error("snapshot opened under another paste's context")
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := s.Open(context.Background(), tampered, wrapped, ec); err == nil {
		t.Error("tampered snapshot opened")
	}
}

func TestDEKCache(t *testing.T) {
	primary := &mockProvider{inner: newLocal(t)}
	a := NewAdapterWith(primary, nil, true, false)
	cache := NewDEKCache(a, 8, time.Hour)
	s := NewSealer(a, cache)
	ec := EncryptionContext{"paste_id": "1"}
	sealed, wrapped, err := s.Seal(context.Background(), []byte("x"), ec)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Open(context.Background(), sealed, wrapped, ec); err != nil {
			t.Fatal(err)
		}
	}
	if primary.decrypts != 1 {
		t.Errorf("KMS decrypt calls = %d, want 1", primary.decrypts)
	}
	if cache.Len() != 1 {
		t.Errorf("cache Len = %d", cache.Len())
	}
	cache.Purge()
	if cache.Len() != 0 {
		t.Error("Purge left entries")
	}
}

func TestEncryptionContextOrder(t *testing.T) {
	a := EncryptionContext{"b": "2", "a": "1"}
	if string(a.bytes()) != "a=1;b=2;" {
		t.Errorf("bytes() = %q", a.bytes())
	}
	if EncryptionContext(nil).bytes() != nil {
		t.Error("empty context serialized")
	}
}
