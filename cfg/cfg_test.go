package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("ENVIRONMENT", "development")
}

func validCfg() *Cfg {
	return &Cfg{
		Port:              "8080",
		DatabasePath:      "data/pastes.db",
		IDCounter:         "sqlite",
		LRUCacheSize:      10,
		MaxPasteRawLength: 5 * 1024 * 1024,
		RateLimit:         RateLimitCfg{RPM: 60, ConservativeLimit: 5},
		Spam:              SpamCfg{MinLength: 100, ShortBodyLength: 1024, MassiveLength: 100 * 1024},
		HighlightTimeout:  5 * time.Second,
		WebhookWorkers:    2,
		MaxWorkerLoad:     10,
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.IDCounter != "sqlite" {
		t.Errorf("IDCounter = %q", c.IDCounter)
	}
	if c.HighlightTimeout != 5*time.Second {
		t.Errorf("HighlightTimeout = %v", c.HighlightTimeout)
	}
	if c.Spam.MinLength != 100 || c.Spam.MinNormalLinesWithLinks != 4 || c.Spam.ShortKeywordLineThreshold != 20 {
		t.Errorf("spam thresholds = %+v", c.Spam)
	}
	if err := Validate(c); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("ID_COUNTER", "Redis")
	t.Setenv("URL_BASE", "https://paste.example/")
	t.Setenv("SPAM_BLOCK_KEYWORDS", "Casino, Free Money ,")
	t.Setenv("SPAM_MIN_NORMAL_LINES_WITH_LINKS", "6")
	t.Setenv("TRUST_X_FORWARDED_FOR", "true")
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.IDCounter != "redis" {
		t.Errorf("IDCounter = %q", c.IDCounter)
	}
	if c.URLBase != "https://paste.example" {
		t.Errorf("URLBase = %q", c.URLBase)
	}
	if got := strings.Join(c.Spam.BlockKeywords, "|"); got != "casino|free money" {
		t.Errorf("BlockKeywords = %q", got)
	}
	if c.Spam.MinNormalLinesWithLinks != 6 {
		t.Errorf("MinNormalLinesWithLinks = %d", c.Spam.MinNormalLinesWithLinks)
	}
	if !c.TrustXForwardedFor {
		t.Error("TrustXForwardedFor not set")
	}
}

func TestStaffTokenHashesKeepCommas(t *testing.T) {
	isolate(t)
	t.Setenv("STAFF_TOKEN_HASHES", "alice:$argon2id$v=19$m=65536,t=4,p=2$c2FsdA$aGFzaA; $argon2id$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA")
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(c.StaffTokenHashes) != 2 {
		t.Fatalf("got %d entries: %q", len(c.StaffTokenHashes), c.StaffTokenHashes)
	}
	if !strings.HasPrefix(c.StaffTokenHashes[0], "alice:$argon2id$") || !strings.Contains(c.StaffTokenHashes[0], "m=65536,t=4,p=2") {
		t.Errorf("first entry = %q", c.StaffTokenHashes[0])
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	for _, key := range []string{"MAX_PASTE_RAW_LENGTH", "HIGHLIGHT_TIMEOUT", "ARGON2_TIME", "SPAM_MIN_LENGTH"} {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, "lots")
			if _, err := Load(); err == nil {
				t.Errorf("%s=lots accepted", key)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	const key = "PASTEWARD_CFG_TEST_URL"
	// Restores the unset state once the test ends, since godotenv writes to the
	// process environment.
	t.Setenv(key, "x")
	os.Unsetenv(key)
	t.Setenv("URL_BASE", "")
	os.Unsetenv("URL_BASE")

	path := filepath.Join(t.TempDir(), "test.env")
	content := fmt.Sprintf("URL_BASE=https://from-file.example\n%s=1\n", key)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.URLBase != "https://from-file.example" {
		t.Errorf("URLBase = %q", c.URLBase)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Cfg)
	}{
		{"non-numeric port", func(c *Cfg) { c.Port = "http" }},
		{"db outside workdir", func(c *Cfg) { c.DatabasePath = "/tmp/elsewhere.db" }},
		{"unknown counter", func(c *Cfg) { c.IDCounter = "etcd" }},
		{"redis counter without redis", func(c *Cfg) { c.IDCounter = "redis" }},
		{"rediss without tls", func(c *Cfg) { c.RedisURL = "rediss://cache:6380" }},
		{"bad redis scheme", func(c *Cfg) { c.RedisURL = "tcp://cache:6379" }},
		{"tiny raw limit", func(c *Cfg) { c.MaxPasteRawLength = 10 }},
		{"zero rpm", func(c *Cfg) { c.RateLimit.RPM = 0 }},
		{"zero highlight timeout", func(c *Cfg) { c.HighlightTimeout = 0 }},
		{"webhook scheme", func(c *Cfg) { c.WebhookURL = "ftp://hooks.example" }},
		{"bad proxy", func(c *Cfg) { c.TrustedProxies = []string{"10.0.0.0/33"} }},
		{"production without metrics auth", func(c *Cfg) { c.Environment = "production" }},
		{"staff hashes without pepper", func(c *Cfg) { c.StaffTokenHashes = []string{"$argon2id$"} }},
	}
	if err := Validate(validCfg()); err != nil {
		t.Fatalf("baseline invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCfg()
			tt.mutate(c)
			if err := Validate(c); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSecret(t *testing.T) {
	s := NewSecret("hunter2")
	if fmt.Sprint(s) != "***REDACTED***" {
		t.Errorf("secret printed as %q", fmt.Sprint(s))
	}
	s.Wipe()
	if s.Value() != strings.Repeat("\x00", 7) {
		t.Errorf("wiped value = %q", s.Value())
	}
}
