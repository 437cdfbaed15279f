package repository

import (
	"context"
	"database/sql"
	"time"
)

// AttemptRepo handles the append-only import attempt history.
type AttemptRepo struct {
	db *sql.DB
}

func NewAttemptRepo(db *sql.DB) *AttemptRepo { return &AttemptRepo{db: db} }

const attemptCols = `id, config_id, file_name, file_path, fingerprint, file_size, status,
 error_kind, error_detail, tx_count, matched_count, retry_of, started_at, finished_at, duration_ms`

// Create inserts a new pending attempt. The partial unique index on
// (config_id, fingerprint) WHERE status='pending' rejects a second
// in-flight attempt for the same file content.
func (r *AttemptRepo) Create(ctx context.Context, a ImportAttempt) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO import_attempts(
	 id, config_id, file_name, file_path, fingerprint, file_size, status,
	 retry_of, started_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		a.ID, a.ConfigID, a.FileName, a.FilePath, a.Fingerprint, a.FileSize,
		StatusPending, a.RetryOf, a.StartedAt)
	return err
}

// Finish finalizes the single attempt being processed. Historical rows are
// never touched.
func (r *AttemptRepo) Finish(ctx context.Context, a ImportAttempt) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE import_attempts
	SET status = ?, error_kind = ?, error_detail = ?, tx_count = ?,
	    matched_count = ?, finished_at = ?, duration_ms = ?
	WHERE id = ?;
	`,
		a.Status, a.ErrorKind, a.ErrorDetail, a.TxCount,
		a.MatchedCount, a.FinishedAt, a.DurationMS, a.ID)
	return err
}

func (r *AttemptRepo) Get(ctx context.Context, id string) (*ImportAttempt, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM import_attempts WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindPending returns the in-flight attempt for (config, fingerprint), if any.
func (r *AttemptRepo) FindPending(ctx context.Context, configID, fingerprint string) (*ImportAttempt, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+attemptCols+` FROM import_attempts
	WHERE config_id = ? AND fingerprint = ? AND status = ?`,
		configID, fingerprint, StatusPending)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindLatest returns the most recent attempt for (config, fingerprint), if any.
func (r *AttemptRepo) FindLatest(ctx context.Context, configID, fingerprint string) (*ImportAttempt, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+attemptCols+` FROM import_attempts
	WHERE config_id = ? AND fingerprint = ?
	ORDER BY started_at DESC, id DESC LIMIT 1`,
		configID, fingerprint)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListFailedRetriable returns failed attempts whose fingerprint has no later
// successful attempt, oldest first.
func (r *AttemptRepo) ListFailedRetriable(ctx context.Context, configID string) ([]ImportAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+attemptCols+` FROM import_attempts a
	WHERE a.config_id = ? AND a.status = ?
	  AND NOT EXISTS (
	    SELECT 1 FROM import_attempts b
	    WHERE b.config_id = a.config_id AND b.fingerprint = a.fingerprint
	      AND b.status = ? AND b.started_at >= a.started_at)
	ORDER BY a.started_at ASC`,
		configID, StatusFailed, StatusSuccess)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

// ListByConfig returns attempt history for one configuration, newest first.
func (r *AttemptRepo) ListByConfig(ctx context.Context, configID string, limit int) ([]ImportAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+attemptCols+` FROM import_attempts
	WHERE config_id = ?
	ORDER BY started_at DESC, id DESC LIMIT ?`,
		configID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

// ListStalePending returns pending attempts started before cutoff. After a
// crash these are all that remains of an interrupted run.
func (r *AttemptRepo) ListStalePending(ctx context.Context, cutoff time.Time) ([]ImportAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+attemptCols+` FROM import_attempts
	WHERE status = ? AND started_at < ?
	ORDER BY started_at ASC`,
		StatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func collectAttempts(rows *sql.Rows) ([]ImportAttempt, error) {
	var out []ImportAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAttempt(s rowScanner) (ImportAttempt, error) {
	var a ImportAttempt
	err := s.Scan(&a.ID, &a.ConfigID, &a.FileName, &a.FilePath, &a.Fingerprint,
		&a.FileSize, &a.Status, &a.ErrorKind, &a.ErrorDetail, &a.TxCount,
		&a.MatchedCount, &a.RetryOf, &a.StartedAt, &a.FinishedAt, &a.DurationMS)
	return a, err
}
