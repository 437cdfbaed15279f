package repository

import "time"

// MatchMethod selects the reconciliation strategy for a configuration.
type MatchMethod string

const (
	MatchNone          MatchMethod = "none"
	MatchExactAmount   MatchMethod = "exact_amount"
	MatchReference     MatchMethod = "reference"
	MatchPartnerAmount MatchMethod = "partner_amount"
	MatchSmart         MatchMethod = "smart"
)

// ValidMethod reports whether m is a known reconciliation method.
func ValidMethod(m MatchMethod) bool {
	switch m {
	case MatchNone, MatchExactAmount, MatchReference, MatchPartnerAmount, MatchSmart:
		return true
	}
	return false
}

// Attempt statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Persisted error kinds for failed attempts.
const (
	ErrKindInvalidFormat = "invalid_format"
	ErrKindParseError    = "parse_error"
	ErrKindLedgerWrite   = "ledger_write"
	ErrKindRelocation    = "relocation"
	ErrKindConfigAccess  = "config_access"
	ErrKindStalePending  = "stale_pending"
)

// ImportConfig represents an import_configs row: one watched folder bound
// to a ledger account and a reconciliation method.
type ImportConfig struct {
	ID              string
	Name            string
	Active          bool
	WatchDir        string
	ProcessedDir    string
	ErrorDir        string
	Pattern         string
	Recursive       bool
	DeleteOnSuccess bool
	Method          MatchMethod
	LedgerAccount   string
	ScanInterval    time.Duration
	LastRun         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ImportAttempt represents one import_attempts row. Rows are append-only:
// a retry creates a new row pointing at the old one via RetryOf.
type ImportAttempt struct {
	ID           string
	ConfigID     string
	FileName     string
	FilePath     string
	Fingerprint  string
	FileSize     int64
	Status       string
	ErrorKind    *string
	ErrorDetail  *string
	TxCount      int
	MatchedCount int
	RetryOf      *string
	StartedAt    time.Time
	FinishedAt   *time.Time
	DurationMS   int64
}
