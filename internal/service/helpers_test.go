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

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedConfig(t *testing.T, db *sql.DB, cfg repository.ImportConfig) repository.ImportConfig {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "cfg-" + cfg.Name
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*.xml"
	}
	if cfg.LedgerAccount == "" {
		cfg.LedgerAccount = "1020"
	}
	if cfg.Method == "" {
		cfg.Method = repository.MatchNone
	}
	cfg.Active = true
	require.NoError(t, repository.NewConfigRepo(db).Upsert(context.Background(), cfg))
	return cfg
}

// fakeLedger is an in-memory Ledger double for engine and pipeline tests.
type fakeLedger struct {
	candidates  []ledger.Candidate
	reconciled  map[string]string // candidate key -> line key
	createErr   error
	takenByHand map[string]bool // candidates that fail with ErrAlreadyReconciled
	created     [][]ledger.Transaction
}

func newFakeLedger(candidates ...ledger.Candidate) *fakeLedger {
	return &fakeLedger{
		candidates:  candidates,
		reconciled:  make(map[string]string),
		takenByHand: make(map[string]bool),
	}
}

func (f *fakeLedger) CreateStatement(ctx context.Context, configID, account, name string, txs []ledger.Transaction) (ledger.CreateResult, error) {
	if f.createErr != nil {
		return ledger.CreateResult{}, f.createErr
	}
	res := ledger.CreateResult{StatementID: "stmt-1", LineKeys: make([]string, len(txs))}
	for i := range txs {
		res.LineKeys[i] = name + "-line-" + txs[i].NaturalKey
	}
	f.created = append(f.created, txs)
	return res, nil
}

func (f *fakeLedger) OpenCandidates(ctx context.Context, account string, asOf time.Time) ([]ledger.Candidate, error) {
	var open []ledger.Candidate
	for _, c := range f.candidates {
		if _, taken := f.reconciled[c.Key]; !taken {
			open = append(open, c)
		}
	}
	return open, nil
}

func (f *fakeLedger) Reconcile(ctx context.Context, lineKey, candidateKey string) error {
	if f.takenByHand[candidateKey] {
		return ledger.ErrAlreadyReconciled
	}
	if _, taken := f.reconciled[candidateKey]; taken {
		return ledger.ErrAlreadyReconciled
	}
	f.reconciled[candidateKey] = lineKey
	return nil
}
