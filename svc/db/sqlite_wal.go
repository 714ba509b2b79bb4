package db

import (
	"context"
	"time"

	"pasteward/svc/util"

	"github.com/pkg/errors"
)

const (
	checkpointInterval  = 5 * time.Minute
	truncateAfterPages  = 1000
	integrityCheckLimit = 30 * time.Second
)

// StartWALMaintenance checkpoints the WAL periodically until quit is closed, then
// runs one last checkpoint so the file is compact on shutdown.
func (s *SQLite) StartWALMaintenance(quit <-chan struct{}) {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Checkpoint(context.Background()); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-quit:
			if err := s.Checkpoint(context.Background()); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			return
		}
	}
}

// Checkpoint runs a PASSIVE checkpoint, escalating to TRUNCATE when the log has
// grown or readers held pages back, and verifies integrity afterwards.
func (s *SQLite) Checkpoint(ctx context.Context) error {
	start := time.Now()
	busy, logPages, done, err := s.checkpoint(ctx, "PASSIVE")
	if err != nil {
		return err
	}
	util.Debug().Int("busy", busy).Int("log", logPages).Int("checkpointed", done).Msg("PASSIVE checkpoint")
	if logPages > truncateAfterPages || busy > 0 {
		busy, logPages, done, err = s.checkpoint(ctx, "TRUNCATE")
		if err != nil {
			return err
		}
		util.Info().Int("busy", busy).Int("log", logPages).Int("checkpointed", done).Msg("TRUNCATE checkpoint")
	}
	if err := s.verifyIntegrity(ctx); err != nil {
		util.Error().Err(err).Msg("database integrity check failed after checkpoint")
		return err
	}
	util.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}
func (s *SQLite) checkpoint(ctx context.Context, mode string) (busy, logPages, done int, err error) {
	err = s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint("+mode+")").Scan(&busy, &logPages, &done)
	return busy, logPages, done, errors.Wrapf(err, "%s checkpoint", mode)
}
func (s *SQLite) verifyIntegrity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, integrityCheckLimit)
	defer cancel()
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return errors.Wrap(err, "integrity_check query failed")
	}
	if result != "ok" {
		return errors.Errorf("integrity_check returned: %s", result)
	}
	return nil
}
