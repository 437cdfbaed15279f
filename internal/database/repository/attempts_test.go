package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bankfeed/bankfeed/internal/database"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedConfig(t *testing.T, db *sql.DB, id string) ImportConfig {
	t.Helper()
	cfg := ImportConfig{
		ID: id, Name: id, Active: true, WatchDir: "/in", Pattern: "*.xml",
		Method: MatchNone, LedgerAccount: "1020",
	}
	require.NoError(t, NewConfigRepo(db).Upsert(context.Background(), cfg))
	return cfg
}

func pendingAttempt(id, configID, fingerprint string, at time.Time) ImportAttempt {
	return ImportAttempt{
		ID: id, ConfigID: configID, FileName: "f.xml", FilePath: "/in/f.xml",
		Fingerprint: fingerprint, FileSize: 10, Status: StatusPending, StartedAt: at,
	}
}

func finish(t *testing.T, repo *AttemptRepo, a ImportAttempt, status string) ImportAttempt {
	t.Helper()
	now := database.Now()
	a.Status = status
	a.FinishedAt = &now
	require.NoError(t, repo.Finish(context.Background(), a))
	return a
}

func TestCreateRejectsSecondPending(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	cfg := seedConfig(t, db, "c1")
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingAttempt("a1", cfg.ID, "fp", database.Now())))
	err := repo.Create(ctx, pendingAttempt("a2", cfg.ID, "fp", database.Now()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "UNIQUE")

	// finishing the first frees the slot for a new attempt
	a, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	finish(t, repo, *a, StatusFailed)
	require.NoError(t, repo.Create(ctx, pendingAttempt("a2", cfg.ID, "fp", database.Now())))
}

func TestPendingUniquePerConfig(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	c1 := seedConfig(t, db, "c1")
	c2 := seedConfig(t, db, "c2")
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	// same fingerprint, different configurations: both may be in flight
	require.NoError(t, repo.Create(ctx, pendingAttempt("a1", c1.ID, "fp", database.Now())))
	require.NoError(t, repo.Create(ctx, pendingAttempt("a2", c2.ID, "fp", database.Now())))
}

func TestFindPendingAndLatest(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	cfg := seedConfig(t, db, "c1")
	repo := NewAttemptRepo(db)
	ctx := context.Background()
	base := database.Now().Add(-time.Hour)

	first := pendingAttempt("a1", cfg.ID, "fp", base)
	require.NoError(t, repo.Create(ctx, first))
	finish(t, repo, first, StatusFailed)

	second := pendingAttempt("a2", cfg.ID, "fp", base.Add(time.Minute))
	require.NoError(t, repo.Create(ctx, second))

	pending, err := repo.FindPending(ctx, cfg.ID, "fp")
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.Equal(t, "a2", pending.ID)

	latest, err := repo.FindLatest(ctx, cfg.ID, "fp")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "a2", latest.ID)

	none, err := repo.FindPending(ctx, cfg.ID, "other-fp")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestListFailedRetriableSupersededBySuccess(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	cfg := seedConfig(t, db, "c1")
	repo := NewAttemptRepo(db)
	ctx := context.Background()
	base := database.Now().Add(-time.Hour)

	failedA := pendingAttempt("a1", cfg.ID, "fp-a", base)
	require.NoError(t, repo.Create(ctx, failedA))
	finish(t, repo, failedA, StatusFailed)

	failedB := pendingAttempt("b1", cfg.ID, "fp-b", base.Add(time.Minute))
	require.NoError(t, repo.Create(ctx, failedB))
	finish(t, repo, failedB, StatusFailed)

	// fp-b later succeeds, which retires its failure from the retry list
	laterB := pendingAttempt("b2", cfg.ID, "fp-b", base.Add(2*time.Minute))
	require.NoError(t, repo.Create(ctx, laterB))
	finish(t, repo, laterB, StatusSuccess)

	retriable, err := repo.ListFailedRetriable(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, retriable, 1)
	require.Equal(t, "a1", retriable[0].ID)
}

func TestListByConfigNewestFirst(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	cfg := seedConfig(t, db, "c1")
	repo := NewAttemptRepo(db)
	ctx := context.Background()
	base := database.Now().Add(-time.Hour)

	for i, id := range []string{"a1", "a2", "a3"} {
		a := pendingAttempt(id, cfg.ID, "fp-"+id, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Create(ctx, a))
		finish(t, repo, a, StatusFailed)
	}

	list, err := repo.ListByConfig(ctx, cfg.ID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a3", list[0].ID)
	require.Equal(t, "a2", list[1].ID)
}

func TestListStalePending(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	cfg := seedConfig(t, db, "c1")
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingAttempt("old", cfg.ID, "fp-1", database.Now().Add(-time.Hour))))
	require.NoError(t, repo.Create(ctx, pendingAttempt("new", cfg.ID, "fp-2", database.Now())))

	stale, err := repo.ListStalePending(ctx, database.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "old", stale[0].ID)
}

func TestFinishPreservesErrorDetail(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	cfg := seedConfig(t, db, "c1")
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	a := pendingAttempt("a1", cfg.ID, "fp", database.Now())
	require.NoError(t, repo.Create(ctx, a))

	kind := ErrKindParseError
	detail := `strconv.ParseFloat: parsing "one-fifty": invalid syntax`
	now := database.Now()
	a.Status = StatusFailed
	a.ErrorKind = &kind
	a.ErrorDetail = &detail
	a.FinishedAt = &now
	a.DurationMS = 12
	require.NoError(t, repo.Finish(ctx, a))

	stored, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, detail, *stored.ErrorDetail)
	require.Equal(t, kind, *stored.ErrorKind)
	require.EqualValues(t, 12, stored.DurationMS)
}
