package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"pasteward/pkg/domain"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 50
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// PasteCounter names the counter row paste IDs are drawn from.
const PasteCounter = "paste"

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.Wrap(err, "create db dir")
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
func (s *SQLite) checkCircuit() error {
	switch atomic.LoadInt32(&s.circuitState) {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func (s *SQLite) migrate() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return errors.Wrapf(err, "exec %q", p)
		}
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		type TEXT NOT NULL,
		sender TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		raw TEXT NOT NULL,
		formatted TEXT NOT NULL,
		edits INTEGER NOT NULL DEFAULT 0,
		diff_report INTEGER NOT NULL DEFAULT 0,
		redacted_sealed BLOB,
		redacted_dek BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_edits ON pastes(edits);
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO counters (name, value)
		SELECT 'paste', COALESCE(MAX(id), 0) FROM pastes;
	`
	_, err := s.db.Exec(query)
	return err
}

// IncrementCounter atomically bumps the named counter and returns the new value.
// The first call on a fresh counter returns 1.
func (s *SQLite) IncrementCounter(ctx context.Context, name string) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO counters (name, value) VALUES (?, 1)
	ON CONFLICT(name) DO UPDATE SET value = value + 1
	RETURNING value
	`
	var v int64
	err := s.db.QueryRowContext(queryCtx, q, name).Scan(&v)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "increment counter")
	}
	return v, nil
}

// Upsert writes the whole record, replacing any row with the same ID.
func (s *SQLite) Upsert(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, title, type, sender, created_at, raw, formatted, edits, diff_report, redacted_sealed, redacted_dek)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		type = excluded.type,
		sender = excluded.sender,
		created_at = excluded.created_at,
		raw = excluded.raw,
		formatted = excluded.formatted,
		edits = excluded.edits,
		diff_report = excluded.diff_report,
		redacted_sealed = excluded.redacted_sealed,
		redacted_dek = excluded.redacted_dek
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Title, p.Type, p.Sender, p.CreatedAt.UTC(), p.Raw, p.Formatted, p.Edits, p.DiffReport, p.RedactedSealed, p.RedactedDEK,
	)
	s.recordError(err)
	return errors.Wrap(err, "db upsert")
}
func (s *SQLite) Get(ctx context.Context, id int64) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, title, type, sender, created_at, raw, formatted, edits, diff_report, redacted_sealed, redacted_dek
	FROM pastes WHERE id = ?
	`
	var p domain.Paste
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(
		&p.ID, &p.Title, &p.Type, &p.Sender, &p.CreatedAt, &p.Raw, &p.Formatted, &p.Edits, &p.DiffReport, &p.RedactedSealed, &p.RedactedDEK,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	return &p, nil
}

// MaxID is the highest stored paste id, 0 for an empty store.
func (s *SQLite) MaxID(ctx context.Context) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var id int64
	err := s.db.QueryRowContext(queryCtx, `SELECT COALESCE(MAX(id), 0) FROM pastes`).Scan(&id)
	return id, errors.Wrap(err, "max id")
}

// Revisions lists the IDs of pastes recorded as edits of id, oldest first.
func (s *SQLite) Revisions(ctx context.Context, id int64) ([]int64, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx, `SELECT id FROM pastes WHERE edits = ? AND type != 'diff' ORDER BY id`, id)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "list revisions")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan revision")
		}
		ids = append(ids, v)
	}
	return ids, errors.Wrap(rows.Err(), "iterate revisions")
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
