package auth

import (
	"context"
	"strings"
	"testing"
)

const testPepper = "0123456789ABCDEF0123456789ABCDEF"

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(1, 1024, 1, []byte(testPepper), 2)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestNewHasherValidation(t *testing.T) {
	if _, err := NewHasher(1, 1024, 1, []byte("short"), 1); err == nil {
		t.Error("short pepper accepted")
	}
	if _, err := NewHasher(0, 1024, 1, []byte(testPepper), 1); err == nil {
		t.Error("zero iterations accepted")
	}
	if _, err := NewHasher(1, 10, 1, []byte(testPepper), 1); err == nil {
		t.Error("tiny memory accepted")
	}
}

func TestHashVerify(t *testing.T) {
	h := newTestHasher(t)
	enc, err := h.Hash("s3cret-token")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Errorf("unexpected encoding %q", enc)
	}
	if !h.Verify("s3cret-token", enc) {
		t.Error("correct token rejected")
	}
	if h.Verify("wrong", enc) {
		t.Error("wrong token accepted")
	}
	if h.Verify("s3cret-token", "$argon2id$garbage") {
		t.Error("malformed hash accepted")
	}
	if h.Verify(strings.Repeat("a", 2000), enc) {
		t.Error("oversized token accepted")
	}
}

func TestPepperMatters(t *testing.T) {
	h := newTestHasher(t)
	enc, err := h.Hash("token")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.UpdatePepper([]byte(strings.Repeat("z", 32))); err != nil {
		t.Fatal(err)
	}
	if h.Verify("token", enc) {
		t.Error("hash verified under a different pepper")
	}
	h.Stop()
	if _, err := h.Hash("token"); err == nil {
		t.Error("stopped hasher still hashing")
	}
}

func TestStaffTokens(t *testing.T) {
	h := newTestHasher(t)
	alice, _ := h.Hash("alice-token")
	anon, _ := h.Hash("anon-token")
	s, err := NewStaffTokens(h, []string{"alice:" + alice, anon})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if id, ok := s.IsPrivileged(ctx, "alice-token"); !ok || id != "alice" {
		t.Errorf("alice: %q %v", id, ok)
	}
	if id, ok := s.IsPrivileged(ctx, "alice-token"); !ok || id != "alice" {
		t.Errorf("cached alice: %q %v", id, ok)
	}
	if id, ok := s.IsPrivileged(ctx, "anon-token"); !ok || id != "staff-2" {
		t.Errorf("positional: %q %v", id, ok)
	}
	if _, ok := s.IsPrivileged(ctx, "nope"); ok {
		t.Error("unknown token privileged")
	}
	if _, ok := s.IsPrivileged(ctx, ""); ok {
		t.Error("empty token privileged")
	}
	if _, err := NewStaffTokens(h, []string{"bob:plaintext"}); err == nil {
		t.Error("non-argon2 entry accepted")
	}
	if _, ok := (Nobody{}).IsPrivileged(ctx, "alice-token"); ok {
		t.Error("Nobody granted privilege")
	}
}
