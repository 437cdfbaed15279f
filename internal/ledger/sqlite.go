package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankfeed/bankfeed/internal/database"
)

// SQLiteLedger is a Ledger backed by the bank_statements, statement_lines
// and open_items tables.
type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLiteLedger(db *sql.DB) *SQLiteLedger { return &SQLiteLedger{db: db} }

// CreateStatement writes the statement header and every line in a single
// transaction, so a rejected batch leaves nothing behind.
func (l *SQLiteLedger) CreateStatement(ctx context.Context, configID, account, name string, txs []Transaction) (CreateResult, error) {
	res := CreateResult{
		StatementID: uuid.NewString(),
		LineKeys:    make([]string, len(txs)),
	}
	err := database.WithTx(l.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO bank_statements(id, config_id, account, name, imported_at)
		VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			res.StatementID, configID, account, name)
		if err != nil {
			return fmt.Errorf("insert statement: %w", err)
		}
		for i, t := range txs {
			lineKey := uuid.NewString()
			res.LineKeys[i] = lineKey
			_, err := tx.ExecContext(ctx, `
			INSERT INTO statement_lines(
			 id, statement_id, line_no, natural_key, value_date, amount, currency,
			 reference, partner_name, partner_id)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				lineKey, res.StatementID, i+1, t.NaturalKey, t.ValueDate,
				t.Amount.String(), t.Currency, t.Reference, t.PartnerName, t.PartnerID)
			if err != nil {
				return fmt.Errorf("insert line %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	return res, nil
}

// OpenCandidates lists unreconciled open items for an account.
func (l *SQLiteLedger) OpenCandidates(ctx context.Context, account string, asOf time.Time) ([]Candidate, error) {
	rows, err := l.db.QueryContext(ctx, `
	SELECT id, amount, currency, reference, partner_name, partner_id, due_date
	FROM open_items
	WHERE account = ? AND reconciled = 0 AND created_at <= ?
	ORDER BY due_date ASC, id ASC`,
		account, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		var amount string
		if err := rows.Scan(&c.Key, &amount, &c.Currency, &c.Reference,
			&c.PartnerName, &c.PartnerID, &c.DueDate); err != nil {
			return nil, err
		}
		c.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("open item %s amount %q: %w", c.Key, amount, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Reconcile links a statement line to an open item. The guarded UPDATE
// tolerates a concurrent manual reconciliation: if the item is no longer
// open the call reports ErrAlreadyReconciled instead of clobbering it.
func (l *SQLiteLedger) Reconcile(ctx context.Context, lineKey, candidateKey string) error {
	return database.WithTx(l.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
		UPDATE open_items SET reconciled = 1, reconciled_with = ?
		WHERE id = ? AND reconciled = 0`,
			lineKey, candidateKey)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyReconciled
		}
		_, err = tx.ExecContext(ctx, `
		UPDATE statement_lines SET reconciled_against = ? WHERE id = ?`,
			candidateKey, lineKey)
		return err
	})
}

// AddOpenItem inserts an open item. Used by tests and by external tooling
// that seeds receivables.
func (l *SQLiteLedger) AddOpenItem(ctx context.Context, c Candidate, account string) (string, error) {
	id := c.Key
	if id == "" {
		id = uuid.NewString()
	}
	_, err := l.db.ExecContext(ctx, `
	INSERT INTO open_items(id, account, amount, currency, reference, partner_name, partner_id, due_date)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		id, account, c.Amount.String(), c.Currency, c.Reference, c.PartnerName, c.PartnerID, c.DueDate)
	return id, err
}
