package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bankfeed/bankfeed/internal/camt"
	"github.com/bankfeed/bankfeed/internal/database"
	"github.com/bankfeed/bankfeed/internal/database/repository"
	"github.com/bankfeed/bankfeed/internal/ledger"
	"github.com/bankfeed/bankfeed/internal/relocate"
)

// ErrAlreadyPending signals that another run holds a pending attempt for the
// same file content.
var ErrAlreadyPending = errors.New("attempt already pending for this file")

// ImportService drives one file through the import pipeline:
// validate, parse, write to the ledger, reconcile, relocate, and record the
// attempt. Every file gets exactly one new attempt row, created before any
// work, so a crash mid-pipeline leaves a pending record rather than silence.
type ImportService struct {
	Attempts     *repository.AttemptRepo
	Ledger       ledger.Ledger
	Parsers      *camt.Registry
	ParserFormat string
	Reconciler   *Reconciler
	Log          *log.Logger
}

// ProcessFile imports one candidate file under cfg. The returned attempt is
// the finalized record; the error reports pipeline failures that also ended
// up in the record, or bookkeeping failures around it.
func (s *ImportService) ProcessFile(ctx context.Context, cfg repository.ImportConfig, cand FileCandidate, retryOf *string) (repository.ImportAttempt, error) {
	started := database.Now()
	attempt := repository.ImportAttempt{
		ID:          uuid.NewString(),
		ConfigID:    cfg.ID,
		FileName:    cand.Name,
		FilePath:    cand.Path,
		Fingerprint: cand.Fingerprint,
		FileSize:    cand.Size,
		Status:      repository.StatusPending,
		RetryOf:     retryOf,
		StartedAt:   started,
	}
	if err := s.Attempts.Create(ctx, attempt); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return attempt, fmt.Errorf("%w: %s", ErrAlreadyPending, cand.Name)
		}
		return attempt, fmt.Errorf("create attempt: %w", err)
	}

	// Validating
	data, err := os.ReadFile(cand.Path)
	if err != nil {
		return s.fail(ctx, cfg, attempt, repository.ErrKindConfigAccess, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s.fail(ctx, cfg, attempt, repository.ErrKindInvalidFormat, errors.New("file is empty"))
	}
	if !camt.SniffCAMT054(data) {
		return s.fail(ctx, cfg, attempt, repository.ErrKindInvalidFormat, errors.New("no camt.054 notification markers found"))
	}

	// Parsing
	parser := s.Parsers.Get(s.ParserFormat)
	if parser == nil {
		return s.fail(ctx, cfg, attempt, repository.ErrKindParseError, fmt.Errorf("no parser registered for format %q", s.ParserFormat))
	}
	txs, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		kind := repository.ErrKindParseError
		if errors.Is(err, camt.ErrInvalidFormat) {
			kind = repository.ErrKindInvalidFormat
		}
		return s.fail(ctx, cfg, attempt, kind, err)
	}
	txs, dropped := dedupeTransactions(txs)
	if dropped > 0 {
		s.logf("%s: dropped %d duplicated lines in %s", cfg.Name, dropped, cand.Name)
	}

	// Importing: all-or-nothing by the ledger contract.
	created, err := s.Ledger.CreateStatement(ctx, cfg.ID, cfg.LedgerAccount, cand.Name, txs)
	if err != nil {
		return s.fail(ctx, cfg, attempt, repository.ErrKindLedgerWrite, err)
	}
	attempt.TxCount = len(txs)

	// Reconciling: best-effort, never fails the attempt.
	if cfg.Method != repository.MatchNone {
		lines := make([]ImportedLine, len(txs))
		for i, tx := range txs {
			lines[i] = ImportedLine{Key: created.LineKeys[i], Tx: tx}
		}
		results, matched := s.Reconciler.ReconcileStatement(ctx, cfg.LedgerAccount, lines, cfg.Method)
		attempt.MatchedCount = matched
		for _, res := range results {
			if !res.Matched {
				s.logf("%s: line %s unmatched (%s)", cfg.Name, res.NaturalKey, res.Reason)
			}
		}
	}

	// Relocating: the attempt's outcome is already decided; a relocation
	// problem is noted on the record but does not change the status.
	attempt.Status = repository.StatusSuccess
	if relocErr := s.relocate(cfg, cand.Path, true); relocErr != nil {
		kind := repository.ErrKindRelocation
		detail := relocErr.Error()
		attempt.ErrorKind = &kind
		attempt.ErrorDetail = &detail
		s.logf("%s: relocation of %s failed: %v", cfg.Name, cand.Name, relocErr)
	}

	return s.finish(ctx, attempt)
}

// RecoverStale fails pending attempts older than grace. After a crash these
// rows are the only trace of interrupted runs; marking them failed makes the
// files eligible for retry.
func (s *ImportService) RecoverStale(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := database.Now().Add(-grace)
	stale, err := s.Attempts.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, a := range stale {
		kind := repository.ErrKindStalePending
		detail := fmt.Sprintf("pending since %s, presumed interrupted", a.StartedAt.Format(time.RFC3339))
		finished := database.Now()
		a.Status = repository.StatusFailed
		a.ErrorKind = &kind
		a.ErrorDetail = &detail
		a.FinishedAt = &finished
		a.DurationMS = finished.Sub(a.StartedAt).Milliseconds()
		if err := s.Attempts.Finish(ctx, a); err != nil {
			return 0, err
		}
		s.logf("recovered stale attempt %s (%s)", a.ID, a.FileName)
	}
	return len(stale), nil
}

// Retry re-runs a failed attempt's file. The file must still exist at its
// recorded path; a fresh attempt row is created, the old one is untouched.
func (s *ImportService) Retry(ctx context.Context, cfg repository.ImportConfig, prior repository.ImportAttempt) (repository.ImportAttempt, error) {
	if prior.Status != repository.StatusFailed {
		return repository.ImportAttempt{}, fmt.Errorf("attempt %s is %s, only failed attempts can be retried", prior.ID, prior.Status)
	}
	fp, size, err := FingerprintFile(prior.FilePath)
	if err != nil {
		return repository.ImportAttempt{}, fmt.Errorf("file no longer available at %s: %w", prior.FilePath, err)
	}
	cand := FileCandidate{
		Path:        prior.FilePath,
		Name:        prior.FileName,
		Size:        size,
		Fingerprint: fp,
	}
	priorID := prior.ID
	return s.ProcessFile(ctx, cfg, cand, &priorID)
}

func (s *ImportService) fail(ctx context.Context, cfg repository.ImportConfig, attempt repository.ImportAttempt, kind string, cause error) (repository.ImportAttempt, error) {
	detail := cause.Error()
	attempt.Status = repository.StatusFailed
	attempt.ErrorKind = &kind
	attempt.ErrorDetail = &detail

	if relocErr := s.relocate(cfg, attempt.FilePath, false); relocErr != nil {
		detail = fmt.Sprintf("%s; relocation: %v", detail, relocErr)
		attempt.ErrorDetail = &detail
		s.logf("%s: relocation of failed file %s: %v", cfg.Name, attempt.FileName, relocErr)
	}

	finished, err := s.finish(ctx, attempt)
	if err != nil {
		return finished, err
	}
	return finished, fmt.Errorf("%s: %w", kind, cause)
}

func (s *ImportService) finish(ctx context.Context, attempt repository.ImportAttempt) (repository.ImportAttempt, error) {
	finished := database.Now()
	attempt.FinishedAt = &finished
	attempt.DurationMS = finished.Sub(attempt.StartedAt).Milliseconds()
	if err := s.Attempts.Finish(ctx, attempt); err != nil {
		return attempt, fmt.Errorf("finalize attempt %s: %w", attempt.ID, err)
	}
	return attempt, nil
}

// relocate applies the configured post-processing file policy. On success
// the file moves to the processed folder or is deleted; on failure it moves
// to the error folder. A missing destination configuration leaves the file
// in place, which is not an error.
func (s *ImportService) relocate(cfg repository.ImportConfig, path string, success bool) error {
	if success {
		if cfg.DeleteOnSuccess {
			return relocate.Delete(path)
		}
		if cfg.ProcessedDir != "" {
			_, err := relocate.Move(path, cfg.ProcessedDir)
			return err
		}
		return nil
	}
	if cfg.ErrorDir != "" {
		_, err := relocate.Move(path, cfg.ErrorDir)
		return err
	}
	return nil
}

// dedupeTransactions drops lines whose natural key repeats within the file.
// Duplicates are a parser or bank quirk, not an error.
func dedupeTransactions(txs []ledger.Transaction) ([]ledger.Transaction, int) {
	seen := make(map[string]bool, len(txs))
	out := txs[:0]
	dropped := 0
	for _, tx := range txs {
		if tx.NaturalKey != "" && seen[tx.NaturalKey] {
			dropped++
			continue
		}
		seen[tx.NaturalKey] = true
		out = append(out, tx)
	}
	return out, dropped
}

func (s *ImportService) logf(format string, args ...any) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
	}
}
