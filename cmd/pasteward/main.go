package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pasteward/cfg"
	"pasteward/pkg/kms"
	"pasteward/svc/api"
	"pasteward/svc/auth"
	"pasteward/svc/cache"
	"pasteward/svc/db"
	"pasteward/svc/ident"
	"pasteward/svc/lim"
	"pasteward/svc/notify"
	"pasteward/svc/render"
	"pasteward/svc/spam"
	"pasteward/svc/svc"
	"pasteward/svc/util"

	"github.com/pkg/errors"
)

const (
	originKeyRotation = time.Hour
	dekCacheSize      = 256
	dekCacheTTL       = 10 * time.Minute
	hasherConcurrency = 4
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(health())
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kmsAdapter, err := kms.NewAdapter(ctx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize KMS adapter")
		os.Exit(1)
	}
	pepper, err := loadPepper(ctx, c, kmsAdapter)
	if err != nil {
		util.Fatal().Err(err).Msg("CRITICAL: pepper unavailable")
		os.Exit(1)
	}
	defer util.Wipe(pepper)

	hasher, err := auth.NewHasher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallelism, pepper, hasherConcurrency)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize hasher")
		os.Exit(1)
	}
	defer hasher.Stop()

	if len(os.Args) > 2 && os.Args[1] == "-hash-token" {
		hash, err := hasher.Hash(os.Args[2])
		if err != nil {
			util.Fatal().Err(err).Msg("failed to hash token")
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}
	util.Info().Msg("starting pasteward")

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" || c.IDCounter == "redis" {
				util.Fatal().Err(err).Msg("CRITICAL: Redis required")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	ids, err := newAllocator(ctx, c, sqlDB, rdb)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize id counter")
		os.Exit(1)
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize, c.PasteCacheTTL)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}

	staff, err := auth.NewStaffTokens(hasher, c.StaffTokenHashes)
	if err != nil {
		util.Fatal().Err(err).Msg("invalid STAFF_TOKEN_HASHES")
		os.Exit(1)
	}
	util.Info().Int("staff_tokens", len(c.StaffTokenHashes)).Msg("staff tokens loaded")

	originKeys, err := lim.NewOriginHasher(pepper, originKeyRotation)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize origin hasher")
		os.Exit(1)
	}
	defer originKeys.Stop()
	var shared lim.Counter
	if rdb != nil {
		shared = rdb
	}
	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.ConservativeLimit, shared, originKeys)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("per_origin", c.RateLimit.ConservativeLimit).
		Bool("shared", shared != nil).
		Msg("rate limiter initialized")

	var notifier notify.Notifier = notify.Noop{}
	var webhook *notify.Webhook
	if c.WebhookURL != "" {
		webhook = notify.NewWebhook(c.WebhookURL, c.URLBase, c.WebhookWorkers)
		notifier = webhook
		util.Info().Int("workers", c.WebhookWorkers).Msg("webhook notifier enabled")
	}

	registry := render.NewRegistry()
	highlighter := render.NewChroma(registry, c.HighlightStyle)
	pasteSvc := svc.NewPaste(svc.Deps{
		Store:       sqlDB,
		IDs:         ids,
		Cache:       lruCache,
		Redis:       rdb,
		Classifier:  spam.FromConfig(c.Spam),
		Registry:    registry,
		Highlighter: highlighter,
		Admitter:    limiter,
		Staff:       staff,
		Sealer:      kms.NewSealer(kmsAdapter, kms.NewDEKCache(kmsAdapter, dekCacheSize, dekCacheTTL)),
		Notifier:    notifier,
	}, c)

	server := api.NewServer(c, pasteSvc, registry, highlighter, limiter, sqlDB, rdb)

	quitWAL := make(chan struct{})
	walDone := make(chan struct{})
	go func() {
		defer close(walDone)
		sqlDB.StartWALMaintenance(quitWAL)
	}()

	if c.Environment == "development" {
		go func() {
			util.Info().Msg("starting pprof server on localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				util.Warn().Err(err).Msg("pprof server failed")
			}
		}()
	}

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	pasteSvc.Shutdown()
	if webhook != nil {
		if err := webhook.Close(shutdownCtx); err != nil {
			util.Warn().Err(err).Msg("webhook queue not drained")
		}
	}
	close(quitWAL)
	select {
	case <-walDone:
		util.Info().Msg("WAL maintenance stopped")
	case <-time.After(10 * time.Second):
		util.Warn().Msg("WAL maintenance did not stop gracefully")
	}
	cancel()
	util.Info().Msg("shutdown complete")
}

// health is the container probe: exit 0 when the database answers.
func health() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "data/pastes.db"
	}
	sqlDB, err := db.NewSQLite(dbPath)
	if err != nil {
		return 1
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(ctx); err != nil {
		return 1
	}
	return 0
}

func loadPepper(ctx context.Context, c *cfg.Cfg, adapter *kms.Adapter) ([]byte, error) {
	var pepper []byte
	if c.PepperFromKMS {
		pepperB64, err := adapter.GetSecret(ctx, "ARGON2_PEPPER")
		if err != nil {
			return nil, errors.Wrap(err, "load pepper from KMS")
		}
		pepper, err = base64.StdEncoding.DecodeString(pepperB64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid pepper format")
		}
	} else {
		if c.Pepper.Value() == "" {
			return nil, errors.New("PEPPER must be set when PEPPER_FROM_KMS=false")
		}
		pepper = []byte(c.Pepper.Value())
	}
	if len(pepper) < 32 {
		util.Wipe(pepper)
		return nil, errors.Errorf("pepper too short (%d bytes), must be >= 32", len(pepper))
	}
	return pepper, nil
}

// newAllocator picks the counter backend. A Redis counter is first raised past every
// id already in the store.
func newAllocator(ctx context.Context, c *cfg.Cfg, sqlDB *db.SQLite, rdb *db.Redis) (*ident.Allocator, error) {
	if c.IDCounter != "redis" {
		return ident.New(sqlDB, db.PasteCounter), nil
	}
	if rdb == nil {
		return nil, errors.New("ID_COUNTER=redis needs REDIS_URL")
	}
	top, err := sqlDB.MaxID(ctx)
	if err != nil {
		return nil, err
	}
	if err := rdb.SeedCounter(ctx, db.PasteCounter, top); err != nil {
		return nil, err
	}
	util.Info().Int64("floor", top).Msg("redis id counter seeded")
	return ident.New(rdb, db.PasteCounter), nil
}
