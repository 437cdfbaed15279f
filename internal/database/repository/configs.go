package repository

import (
	"context"
	"database/sql"
	"time"
)

// ConfigRepo handles import configurations.
type ConfigRepo struct {
	db *sql.DB
}

func NewConfigRepo(db *sql.DB) *ConfigRepo { return &ConfigRepo{db: db} }

const configCols = `id, name, active, watch_dir, processed_dir, error_dir, pattern,
 recursive, delete_on_success, match_method, ledger_account, scan_interval_sec,
 last_run, created_at, updated_at`

func (r *ConfigRepo) Upsert(ctx context.Context, c ImportConfig) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO import_configs(
	 id, name, active, watch_dir, processed_dir, error_dir, pattern,
	 recursive, delete_on_success, match_method, ledger_account, scan_interval_sec,
	 created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name, active=excluded.active, watch_dir=excluded.watch_dir,
	 processed_dir=excluded.processed_dir, error_dir=excluded.error_dir,
	 pattern=excluded.pattern, recursive=excluded.recursive,
	 delete_on_success=excluded.delete_on_success, match_method=excluded.match_method,
	 ledger_account=excluded.ledger_account, scan_interval_sec=excluded.scan_interval_sec,
	 updated_at=CURRENT_TIMESTAMP;
	`,
		c.ID, c.Name, c.Active, c.WatchDir, c.ProcessedDir, c.ErrorDir, c.Pattern,
		c.Recursive, c.DeleteOnSuccess, string(c.Method), c.LedgerAccount,
		int64(c.ScanInterval/time.Second))
	return err
}

func (r *ConfigRepo) Get(ctx context.Context, id string) (*ImportConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+configCols+` FROM import_configs WHERE id = ?`, id)
	return scanConfig(row)
}

func (r *ConfigRepo) GetByName(ctx context.Context, name string) (*ImportConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+configCols+` FROM import_configs WHERE name = ?`, name)
	return scanConfig(row)
}

// ListActive returns active configurations ordered by name.
func (r *ConfigRepo) ListActive(ctx context.Context) ([]ImportConfig, error) {
	return r.list(ctx, `SELECT `+configCols+` FROM import_configs WHERE active = 1 ORDER BY name ASC`)
}

// List returns all configurations ordered by name.
func (r *ConfigRepo) List(ctx context.Context) ([]ImportConfig, error) {
	return r.list(ctx, `SELECT `+configCols+` FROM import_configs ORDER BY name ASC`)
}

func (r *ConfigRepo) list(ctx context.Context, query string) ([]ImportConfig, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ImportConfig
	for rows.Next() {
		c, err := scanConfigRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchLastRun records the start of a scan cycle.
func (r *ConfigRepo) TouchLastRun(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE import_configs SET last_run = ? WHERE id = ?`, at, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row *sql.Row) (*ImportConfig, error) {
	c, err := scanConfigRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanConfigRows(s rowScanner) (ImportConfig, error) {
	var c ImportConfig
	var method string
	var intervalSec int64
	err := s.Scan(&c.ID, &c.Name, &c.Active, &c.WatchDir, &c.ProcessedDir, &c.ErrorDir,
		&c.Pattern, &c.Recursive, &c.DeleteOnSuccess, &method, &c.LedgerAccount,
		&intervalSec, &c.LastRun, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return ImportConfig{}, err
	}
	c.Method = MatchMethod(method)
	c.ScanInterval = time.Duration(intervalSec) * time.Second
	return c, nil
}
