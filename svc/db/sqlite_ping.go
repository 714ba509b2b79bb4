package db

import (
	"context"

	"github.com/pkg/errors"
)

// Ping is used by /ready and the -health flag; it bypasses the circuit breaker so
// probes see the real state of the file.
func (s *SQLite) Ping(ctx context.Context) error {
	var result int
	return errors.Wrap(s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result), "sqlite ping")
}
