package cfg

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port               string
	Environment        string
	LogLevel           string
	DatabasePath       string
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBQueryTimeout     time.Duration
	RedisURL           string
	RedisTLS           bool
	RedisUsername      string
	RedisPassword      Secret
	RedisTimeout       time.Duration
	IDCounter          string
	LRUCacheSize       int
	PasteCacheTTL      time.Duration
	MaxPasteRawLength  int
	TrustXForwardedFor bool
	TrustedProxies     []string
	URLBase            string
	RateLimit          RateLimitCfg
	Spam               SpamCfg
	HighlightTimeout   time.Duration
	HighlightStyle     string
	WebhookURL         string
	WebhookWorkers     int
	StaffTokenHashes   []string
	Argon2Time         uint32
	Argon2Memory       uint32
	Argon2Parallelism  uint8
	Pepper             Secret
	PepperFromKMS      bool
	MetricsUser        string
	MetricsPass        Secret
	ContextTimeout     time.Duration
	MaxWorkerLoad      int
}

type RateLimitCfg struct {
	RPM               int
	ConservativeLimit int
}

// SpamCfg holds the classifier block lists and its tunable thresholds.
type SpamCfg struct {
	BlockPartialTitles        []string
	BlockTitles               []string
	BlockKeywords             []string
	BlockShortKeywords        []string
	MinLength                 int
	ShortBodyLength           int
	MinShortBodyLines         int
	MassiveLength             int
	MassiveMinNewlines        int
	MinNormalLinesWithLinks   int
	ShortKeywordLineThreshold int
}

func Load() (*Cfg, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	}
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "data/pastes.db")
	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 50)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.IDCounter = strings.ToLower(getEnv("ID_COUNTER", "sqlite"))
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.PasteCacheTTL, err = getDuration("PASTE_CACHE_TTL", 1*time.Hour)
	if err != nil {
		return nil, err
	}
	c.MaxPasteRawLength, err = getInt("MAX_PASTE_RAW_LENGTH", 5*1024*1024)
	if err != nil {
		return nil, err
	}
	c.TrustXForwardedFor = getEnv("TRUST_X_FORWARDED_FOR", "false") == "true"
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.URLBase = strings.TrimRight(getEnv("URL_BASE", "http://localhost:8080"), "/")
	c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, err
	}
	c.RateLimit.ConservativeLimit, err = getInt("RATE_LIMIT_CONSERVATIVE", 5)
	if err != nil {
		return nil, err
	}
	if err := loadSpam(&c.Spam); err != nil {
		return nil, err
	}
	c.HighlightTimeout, err = getDuration("HIGHLIGHT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.HighlightStyle = getEnv("HIGHLIGHT_STYLE", "dracula")
	c.WebhookURL = getEnv("WEBHOOK_URL", "")
	c.WebhookWorkers, err = getInt("WEBHOOK_WORKERS", 2)
	if err != nil {
		return nil, err
	}
	c.StaffTokenHashes = getList("STAFF_TOKEN_HASHES", ";", []string{})
	c.Argon2Time, err = getUint32("ARGON2_TIME", 4)
	if err != nil {
		return nil, err
	}
	c.Argon2Memory, err = getUint32("ARGON2_MEMORY", 64*1024)
	if err != nil {
		return nil, err
	}
	p, err := getUint32("ARGON2_PARALLELISM", 2)
	if err != nil {
		return nil, err
	}
	if p > 255 {
		return nil, errors.New("ARGON2_PARALLELISM must be <= 255")
	}
	c.Argon2Parallelism = uint8(p)
	c.Pepper = NewSecret(getEnv("PEPPER", ""))
	c.PepperFromKMS = getEnv("PEPPER_FROM_KMS", "false") == "true"
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	c.MaxWorkerLoad, err = getInt("MAX_WORKER_LOAD", 200)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func loadSpam(s *SpamCfg) error {
	s.BlockPartialTitles = lowerAll(getSlice("SPAM_BLOCK_PARTIAL_TITLES", nil))
	s.BlockTitles = lowerAll(getSlice("SPAM_BLOCK_TITLES", nil))
	s.BlockKeywords = lowerAll(getSlice("SPAM_BLOCK_KEYWORDS", nil))
	s.BlockShortKeywords = lowerAll(getSlice("SPAM_BLOCK_SHORT_KEYWORDS", nil))
	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"SPAM_MIN_LENGTH", 100, &s.MinLength},
		{"SPAM_SHORT_BODY_LENGTH", 1024, &s.ShortBodyLength},
		{"SPAM_MIN_SHORT_BODY_LINES", 3, &s.MinShortBodyLines},
		{"SPAM_MASSIVE_LENGTH", 100 * 1024, &s.MassiveLength},
		{"SPAM_MASSIVE_MIN_NEWLINES", 20, &s.MassiveMinNewlines},
		{"SPAM_MIN_NORMAL_LINES_WITH_LINKS", 4, &s.MinNormalLinesWithLinks},
		{"SPAM_SHORT_KEYWORD_LINE_THRESHOLD", 20, &s.ShortKeywordLineThreshold},
	}
	for _, v := range ints {
		n, err := getInt(v.key, v.def)
		if err != nil {
			return err
		}
		*v.dst = n
	}
	return nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if !strings.HasPrefix(c.DatabasePath, "file:") && c.DatabasePath != ":memory:" {
		workDir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		absDBPath, err := filepath.Abs(c.DatabasePath)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PATH: %w", err)
		}
		if !strings.HasPrefix(absDBPath, workDir+string(filepath.Separator)) {
			return fmt.Errorf("DATABASE_PATH must be within working directory %s", workDir)
		}
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	switch c.IDCounter {
	case "sqlite":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("ID_COUNTER=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("ID_COUNTER must be sqlite or redis, got %q", c.IDCounter)
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.MaxPasteRawLength < 1024 {
		return errors.New("MAX_PASTE_RAW_LENGTH must be at least 1024")
	}
	if c.MaxPasteRawLength > 30*1024*1024 {
		return errors.New("MAX_PASTE_RAW_LENGTH cannot exceed 30MB")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.ConservativeLimit <= 0 {
		return errors.New("RATE_LIMIT_CONSERVATIVE must be positive")
	}
	if c.Spam.MinLength < 0 || c.Spam.ShortBodyLength < 0 || c.Spam.MassiveLength <= 0 {
		return errors.New("SPAM_* length thresholds must not be negative")
	}
	if c.HighlightTimeout <= 0 {
		return errors.New("HIGHLIGHT_TIMEOUT must be positive")
	}
	if c.WebhookURL != "" && !strings.HasPrefix(c.WebhookURL, "https://") && !strings.HasPrefix(c.WebhookURL, "http://") {
		return errors.New("WEBHOOK_URL must be an http(s) URL")
	}
	if c.WebhookWorkers <= 0 {
		return errors.New("WEBHOOK_WORKERS must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	if len(c.StaffTokenHashes) > 0 && !c.PepperFromKMS && len(c.Pepper.Value()) < 32 {
		return errors.New("PEPPER must be at least 32 bytes when STAFF_TOKEN_HASHES is set")
	}
	if c.MaxWorkerLoad <= 0 {
		return errors.New("MAX_WORKER_LOAD must be positive")
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.Pepper.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getUint32(key string, fallback uint32) (uint32, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uint32 for %s: %w", key, err)
	}
	return uint32(v), nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}

// getSlice splits on commas. Block lists may contain spaces, so only the outer
// whitespace of each entry is trimmed.
func getSlice(key string, fallback []string) []string {
	return getList(key, ",", fallback)
}

// getList is getSlice with a custom separator, for values that contain commas
// themselves such as argon2 parameter strings.
func getList(key, sep string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, sep)
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
