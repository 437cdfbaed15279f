package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bankfeed/bankfeed/internal/database"
	"github.com/bankfeed/bankfeed/internal/database/repository"
	"github.com/bankfeed/bankfeed/internal/ledger"
)

func newScheduler(db *sql.DB) *Scheduler {
	attempts := repository.NewAttemptRepo(db)
	return &Scheduler{
		Configs:  repository.NewConfigRepo(db),
		Scanner:  &Scanner{Attempts: attempts},
		Importer: newImportService(db, ledger.NewSQLiteLedger(db)),
	}
}

func TestRunCycleProcessesThenIdles(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	watchA := t.TempDir()
	watchB := t.TempDir()
	seedConfig(t, db, repository.ImportConfig{Name: "alpha", WatchDir: watchA})
	seedConfig(t, db, repository.ImportConfig{Name: "beta", WatchDir: watchB})

	writeWatched(t, watchA, "one.xml", statementFixture)
	writeWatched(t, watchB, "two.xml", "<html>junk</html>")

	s := newScheduler(db)
	ctx := context.Background()

	stats := s.RunCycle(ctx, true)
	require.Equal(t, 2, stats.Configs)
	require.Equal(t, 2, stats.Files)
	require.Equal(t, 1, stats.Succeeded)
	require.Equal(t, 1, stats.Failed)

	// second cycle finds nothing new: the success is remembered by
	// fingerprint and the failure stays put until its file changes
	writeWatched(t, watchB, "two.xml", "<html>junk</html>")
	stats = s.RunCycle(ctx, true)
	require.Equal(t, 0, stats.Succeeded)
	require.Equal(t, 1, stats.Failed, "failed file is retried each cycle while unchanged")
}

func TestRunCycleHonorsScanInterval(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	watch := t.TempDir()
	cfg := seedConfig(t, db, repository.ImportConfig{
		Name: "alpha", WatchDir: watch, ScanInterval: time.Hour,
	})
	writeWatched(t, watch, "one.xml", statementFixture)

	configs := repository.NewConfigRepo(db)
	ctx := context.Background()
	require.NoError(t, configs.TouchLastRun(ctx, cfg.ID, database.Now()))

	s := newScheduler(db)
	stats := s.RunCycle(ctx, false)
	require.Equal(t, 0, stats.Files, "interval not elapsed, configuration skipped")

	stats = s.RunCycle(ctx, true)
	require.Equal(t, 1, stats.Files, "force overrides the interval")
}

func TestRunCycleSkipsInactive(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	watch := t.TempDir()
	cfg := seedConfig(t, db, repository.ImportConfig{Name: "alpha", WatchDir: watch})
	cfg.Active = false
	require.NoError(t, repository.NewConfigRepo(db).Upsert(context.Background(), cfg))
	writeWatched(t, watch, "one.xml", statementFixture)

	s := newScheduler(db)
	stats := s.RunCycle(context.Background(), true)
	require.Equal(t, 0, stats.Configs)
	require.Equal(t, 0, stats.Files)
}

func TestRunCycleRecordsLastRun(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	cfg := seedConfig(t, db, repository.ImportConfig{Name: "alpha", WatchDir: t.TempDir()})

	s := newScheduler(db)
	s.RunCycle(context.Background(), true)

	stored, err := repository.NewConfigRepo(db).Get(context.Background(), cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.LastRun)
}

func TestProcessConfigRefusesWhileInFlight(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	cfg := seedConfig(t, db, repository.ImportConfig{Name: "alpha", WatchDir: t.TempDir()})

	s := newScheduler(db)
	lock := s.lockFor(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.ProcessConfig(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already in flight")
}

func TestProcessConfigRunsOnce(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	watch := t.TempDir()
	processed := filepath.Join(t.TempDir(), "done")
	cfg := seedConfig(t, db, repository.ImportConfig{
		Name: "alpha", WatchDir: watch, ProcessedDir: processed,
	})
	writeWatched(t, watch, "one.xml", statementFixture)

	s := newScheduler(db)
	stats, err := s.ProcessConfig(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Files)
	require.Equal(t, 1, stats.Succeeded)
}
