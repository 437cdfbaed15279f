package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/bankfeed/bankfeed/internal/database/repository"
	"github.com/bankfeed/bankfeed/internal/ledger"
)

// MatchStrategy names the signal that produced a match.
type MatchStrategy string

const (
	StrategyReference     MatchStrategy = "reference"
	StrategyPartnerAmount MatchStrategy = "partner_amount"
	StrategyExactAmount   MatchStrategy = "exact_amount"
)

// UnmatchedReason explains why a line stayed unreconciled.
type UnmatchedReason string

const (
	ReasonNoCandidate       UnmatchedReason = "no_candidate"
	ReasonAmbiguous         UnmatchedReason = "ambiguous"
	ReasonAlreadyReconciled UnmatchedReason = "already_reconciled"
	ReasonLedgerError       UnmatchedReason = "ledger_error"
)

// MatchResult is the outcome for one imported line.
type MatchResult struct {
	LineKey      string
	NaturalKey   string
	Matched      bool
	CandidateKey string
	Strategy     MatchStrategy
	Confidence   float64
	Reason       UnmatchedReason
	Detail       string
}

// ImportedLine pairs a persisted ledger line key with its source transaction.
type ImportedLine struct {
	Key string
	Tx  ledger.Transaction
}

// Reconciler matches imported statement lines against open ledger items and
// applies the matches. It holds no state across statements; candidates are
// re-queried per statement so earlier reconciliations are reflected.
type Reconciler struct {
	Ledger ledger.Ledger
	Log    *log.Logger
}

// ReconcileStatement runs the configured method over every line.
// Reconciliation is best-effort: per-line failures are recorded in the
// results, never returned as an error. A candidate claimed by one line is
// withdrawn from the pool for the rest of the statement.
func (r *Reconciler) ReconcileStatement(ctx context.Context, account string, lines []ImportedLine, method repository.MatchMethod) ([]MatchResult, int) {
	if method == repository.MatchNone || len(lines) == 0 {
		return nil, 0
	}
	pool, err := r.Ledger.OpenCandidates(ctx, account, time.Now().UTC())
	if err != nil {
		r.logf("list open candidates for %s: %v", account, err)
		results := make([]MatchResult, len(lines))
		for i, line := range lines {
			results[i] = MatchResult{
				LineKey:    line.Key,
				NaturalKey: line.Tx.NaturalKey,
				Reason:     ReasonLedgerError,
				Detail:     err.Error(),
			}
		}
		return results, 0
	}

	matched := 0
	results := make([]MatchResult, 0, len(lines))
	for _, line := range lines {
		res := matchOne(line.Tx, pool, method)
		res.LineKey = line.Key
		res.NaturalKey = line.Tx.NaturalKey
		if !res.Matched {
			results = append(results, res)
			continue
		}

		err := r.Ledger.Reconcile(ctx, line.Key, res.CandidateKey)
		switch {
		case errors.Is(err, ledger.ErrAlreadyReconciled):
			// Someone reconciled it manually in the meantime. Drop the
			// candidate and report the line unreconciled.
			pool = removeCandidate(pool, res.CandidateKey)
			res = MatchResult{
				LineKey:    line.Key,
				NaturalKey: line.Tx.NaturalKey,
				Reason:     ReasonAlreadyReconciled,
			}
		case err != nil:
			r.logf("reconcile line %s against %s: %v", line.Key, res.CandidateKey, err)
			res = MatchResult{
				LineKey:    line.Key,
				NaturalKey: line.Tx.NaturalKey,
				Reason:     ReasonLedgerError,
				Detail:     err.Error(),
			}
		default:
			pool = removeCandidate(pool, res.CandidateKey)
			matched++
		}
		results = append(results, res)
	}
	return results, matched
}

func (r *Reconciler) logf(format string, args ...any) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}

// matchOne dispatches to the strategy chain for the configured method.
// It never mutates the pool.
func matchOne(tx ledger.Transaction, pool []ledger.Candidate, method repository.MatchMethod) MatchResult {
	switch method {
	case repository.MatchExactAmount:
		return matchExactAmount(tx, pool)
	case repository.MatchReference:
		return matchReference(tx, pool)
	case repository.MatchPartnerAmount:
		return matchPartnerAmount(tx, pool)
	case repository.MatchSmart:
		return matchSmart(tx, pool)
	}
	return MatchResult{Reason: ReasonNoCandidate}
}

// matchSmart tries the most specific signal first and falls back to weaker
// ones only when the stronger strategy finds nothing or cannot disambiguate.
func matchSmart(tx ledger.Transaction, pool []ledger.Candidate) MatchResult {
	ambiguous := false
	for _, try := range []func(ledger.Transaction, []ledger.Candidate) MatchResult{
		matchReference, matchPartnerAmount, matchExactAmount,
	} {
		res := try(tx, pool)
		if res.Matched {
			return res
		}
		if res.Reason == ReasonAmbiguous {
			ambiguous = true
		}
	}
	if ambiguous {
		return MatchResult{Reason: ReasonAmbiguous}
	}
	return MatchResult{Reason: ReasonNoCandidate}
}

// matchExactAmount selects the unique candidate with the same signed amount
// and currency, zero tolerance. Two candidates with the same amount are
// indistinguishable, so the match is refused rather than guessed.
func matchExactAmount(tx ledger.Transaction, pool []ledger.Candidate) MatchResult {
	var hits []ledger.Candidate
	for _, c := range pool {
		if sameCurrency(tx.Currency, c.Currency) && c.Amount.Equal(tx.Amount) {
			hits = append(hits, c)
		}
	}
	switch len(hits) {
	case 0:
		return MatchResult{Reason: ReasonNoCandidate}
	case 1:
		return MatchResult{
			Matched:      true,
			CandidateKey: hits[0].Key,
			Strategy:     StrategyExactAmount,
			Confidence:   0.6,
		}
	default:
		return MatchResult{Reason: ReasonAmbiguous}
	}
}

// matchReference matches on normalized remittance references, substring in
// either direction. Ties are broken by closest amount; a residual tie is
// ambiguous.
func matchReference(tx ledger.Transaction, pool []ledger.Candidate) MatchResult {
	txRef := normalizeReference(tx.Reference)
	if txRef == "" {
		return MatchResult{Reason: ReasonNoCandidate}
	}
	var hits []ledger.Candidate
	for _, c := range pool {
		cRef := normalizeReference(c.Reference)
		if cRef == "" || !sameCurrency(tx.Currency, c.Currency) {
			continue
		}
		if strings.Contains(txRef, cRef) || strings.Contains(cRef, txRef) {
			hits = append(hits, c)
		}
	}
	if len(hits) == 0 {
		return MatchResult{Reason: ReasonNoCandidate}
	}
	if len(hits) > 1 {
		hits = closestByAmount(tx.Amount, hits)
		if len(hits) > 1 {
			return MatchResult{Reason: ReasonAmbiguous}
		}
	}
	return MatchResult{
		Matched:      true,
		CandidateKey: hits[0].Key,
		Strategy:     StrategyReference,
		Confidence:   referenceConfidence(txRef, normalizeReference(hits[0].Reference)),
	}
}

// matchPartnerAmount requires counterparty identity plus exact amount.
// Ties are broken by the earliest-due candidate.
func matchPartnerAmount(tx ledger.Transaction, pool []ledger.Candidate) MatchResult {
	var hits []ledger.Candidate
	for _, c := range pool {
		if !samePartner(tx, c) {
			continue
		}
		if sameCurrency(tx.Currency, c.Currency) && c.Amount.Equal(tx.Amount) {
			hits = append(hits, c)
		}
	}
	if len(hits) == 0 {
		return MatchResult{Reason: ReasonNoCandidate}
	}
	if len(hits) > 1 {
		hits = earliestDue(hits)
		if len(hits) > 1 {
			return MatchResult{Reason: ReasonAmbiguous}
		}
	}
	return MatchResult{
		Matched:      true,
		CandidateKey: hits[0].Key,
		Strategy:     StrategyPartnerAmount,
		Confidence:   0.85,
	}
}

func sameCurrency(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}

func samePartner(tx ledger.Transaction, c ledger.Candidate) bool {
	if tx.PartnerID != "" && c.PartnerID != "" {
		return tx.PartnerID == c.PartnerID
	}
	a, b := normalizeName(tx.PartnerName), normalizeName(c.PartnerName)
	return a != "" && a == b
}

// closestByAmount keeps the candidates with the minimal absolute distance to
// amount. More than one survivor means the tie stands.
func closestByAmount(amount decimal.Decimal, pool []ledger.Candidate) []ledger.Candidate {
	var best decimal.Decimal
	var out []ledger.Candidate
	for _, c := range pool {
		d := c.Amount.Sub(amount).Abs()
		switch {
		case out == nil || d.LessThan(best):
			best = d
			out = []ledger.Candidate{c}
		case d.Equal(best):
			out = append(out, c)
		}
	}
	return out
}

// earliestDue keeps the candidates sharing the earliest due date.
func earliestDue(pool []ledger.Candidate) []ledger.Candidate {
	var best time.Time
	var out []ledger.Candidate
	for _, c := range pool {
		switch {
		case out == nil || c.DueDate.Before(best):
			best = c.DueDate
			out = []ledger.Candidate{c}
		case c.DueDate.Equal(best):
			out = append(out, c)
		}
	}
	return out
}

// normalizeReference case-folds and strips everything non-alphanumeric, so
// "INV-2024/003" and "inv 2024 003" compare equal.
func normalizeReference(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeName lowercases and collapses a counterparty name to its
// alphanumeric core.
func normalizeName(s string) string {
	return normalizeReference(s)
}

// referenceConfidence scores how close the two normalized references are.
// Equal references score 1.0; a substring match is scaled by edit distance.
func referenceConfidence(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

func removeCandidate(pool []ledger.Candidate, key string) []ledger.Candidate {
	out := pool[:0]
	for _, c := range pool {
		if c.Key != key {
			out = append(out, c)
		}
	}
	return out
}
