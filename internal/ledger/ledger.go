// Package ledger defines the contract with the accounting system: creating
// bank statements from imported transactions, listing open receivable and
// payable items, and reconciling a statement line against an open item.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrAlreadyReconciled is returned by Reconcile when the target open item
// was settled by someone else between candidate listing and the command.
var ErrAlreadyReconciled = errors.New("open item already reconciled")

// Transaction is one statement line handed over by a statement parser.
type Transaction struct {
	// NaturalKey is stable within one file (statement id + line sequence)
	// and is used to drop duplicated lines.
	NaturalKey  string
	ValueDate   time.Time
	Amount      decimal.Decimal // signed, credits positive
	Currency    string
	Reference   string
	PartnerName string
	PartnerID   string
}

// Candidate is an open (unreconciled) receivable or payable line.
type Candidate struct {
	Key         string
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	PartnerName string
	PartnerID   string
	DueDate     time.Time
}

// CreateResult identifies the persisted statement and its per-line keys,
// index-aligned with the transactions passed to CreateStatement.
type CreateResult struct {
	StatementID string
	LineKeys    []string
}

// Ledger is the accounting collaborator. Implementations must make
// CreateStatement all-or-nothing: a failed call leaves no statement or
// lines visible.
type Ledger interface {
	CreateStatement(ctx context.Context, configID, account, name string, txs []Transaction) (CreateResult, error)
	OpenCandidates(ctx context.Context, account string, asOf time.Time) ([]Candidate, error)
	Reconcile(ctx context.Context, lineKey, candidateKey string) error
}
