package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bankfeed/bankfeed/internal/database/repository"
	"github.com/bankfeed/bankfeed/internal/ledger"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func candidate(key, amount, reference, partner string) ledger.Candidate {
	return ledger.Candidate{
		Key:         key,
		Amount:      amt(amount),
		Currency:    "EUR",
		Reference:   reference,
		PartnerName: partner,
		DueDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func tx(amount, reference, partner string) ledger.Transaction {
	return ledger.Transaction{
		NaturalKey:  "line-1",
		Amount:      amt(amount),
		Currency:    "EUR",
		Reference:   reference,
		PartnerName: partner,
		ValueDate:   time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	}
}

func TestExactAmountUniqueMatch(t *testing.T) {
	t.Parallel()

	pool := []ledger.Candidate{
		candidate("c1", "150.00", "", ""),
		candidate("c2", "99.00", "", ""),
	}
	for _, method := range []repository.MatchMethod{repository.MatchExactAmount, repository.MatchSmart} {
		res := matchOne(tx("150.00", "", ""), pool, method)
		require.True(t, res.Matched, "method %s", method)
		require.Equal(t, "c1", res.CandidateKey)
	}
}

func TestExactAmountAmbiguous(t *testing.T) {
	t.Parallel()

	pool := []ledger.Candidate{
		candidate("c1", "150.00", "", ""),
		candidate("c2", "150.00", "", ""),
	}
	res := matchOne(tx("150.00", "", ""), pool, repository.MatchExactAmount)
	require.False(t, res.Matched)
	require.Equal(t, ReasonAmbiguous, res.Reason)
}

func TestExactAmountRespectsSign(t *testing.T) {
	t.Parallel()

	pool := []ledger.Candidate{candidate("c1", "-150.00", "", "")}
	res := matchOne(tx("150.00", "", ""), pool, repository.MatchExactAmount)
	require.False(t, res.Matched)
	require.Equal(t, ReasonNoCandidate, res.Reason)
}

func TestSmartPrefersReference(t *testing.T) {
	t.Parallel()

	pool := []ledger.Candidate{
		candidate("c1", "150.00", "INV-2024-003", ""),
		candidate("c2", "150.00", "INV-2024-007", ""),
	}
	res := matchOne(tx("150.00", "INV-2024-003", ""), pool, repository.MatchSmart)
	require.True(t, res.Matched)
	require.Equal(t, "c1", res.CandidateKey)
	require.Equal(t, StrategyReference, res.Strategy)
	require.InDelta(t, 1.0, res.Confidence, 0.001)
}

func TestReferenceNormalization(t *testing.T) {
	t.Parallel()

	pool := []ledger.Candidate{candidate("c1", "150.00", "inv 2024/003", "")}
	res := matchOne(tx("150.00", "Payment INV-2024-003 thanks", ""), pool, repository.MatchReference)
	require.True(t, res.Matched, "substring match either direction after normalization")
	require.Equal(t, "c1", res.CandidateKey)
}

func TestReferenceTieBrokenByClosestAmount(t *testing.T) {
	t.Parallel()

	pool := []ledger.Candidate{
		candidate("c1", "150.00", "INV-9", ""),
		candidate("c2", "140.00", "INV-9", ""),
	}
	res := matchOne(tx("150.00", "INV-9", ""), pool, repository.MatchReference)
	require.True(t, res.Matched)
	require.Equal(t, "c1", res.CandidateKey)

	// identical amounts leave the tie standing
	pool[1].Amount = amt("150.00")
	res = matchOne(tx("150.00", "INV-9", ""), pool, repository.MatchReference)
	require.False(t, res.Matched)
	require.Equal(t, ReasonAmbiguous, res.Reason)
}

func TestPartnerAmountEarliestDueWins(t *testing.T) {
	t.Parallel()

	older := candidate("c1", "75.00", "", "Globex GmbH")
	older.DueDate = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	newer := candidate("c2", "75.00", "", "Globex GmbH")
	newer.DueDate = time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	res := matchOne(tx("75.00", "", "globex gmbh"), []ledger.Candidate{newer, older}, repository.MatchPartnerAmount)
	require.True(t, res.Matched)
	require.Equal(t, "c1", res.CandidateKey)
	require.Equal(t, StrategyPartnerAmount, res.Strategy)
}

func TestPartnerAmountRequiresBothSignals(t *testing.T) {
	t.Parallel()

	pool := []ledger.Candidate{candidate("c1", "75.00", "", "Globex GmbH")}

	res := matchOne(tx("75.00", "", "Initech"), pool, repository.MatchPartnerAmount)
	require.False(t, res.Matched)

	res = matchOne(tx("80.00", "", "Globex GmbH"), pool, repository.MatchPartnerAmount)
	require.False(t, res.Matched)
}

func TestPartnerIDTrumpsName(t *testing.T) {
	t.Parallel()

	c := candidate("c1", "75.00", "", "Globex GmbH")
	c.PartnerID = "P-1"
	in := tx("75.00", "", "completely different name")
	in.PartnerID = "P-1"
	res := matchOne(in, []ledger.Candidate{c}, repository.MatchPartnerAmount)
	require.True(t, res.Matched)
}

func TestSmartFallsBackThroughChain(t *testing.T) {
	t.Parallel()

	// no references, no partners: only the exact amount signal is left
	pool := []ledger.Candidate{candidate("c1", "33.10", "", "")}
	res := matchOne(tx("33.10", "", ""), pool, repository.MatchSmart)
	require.True(t, res.Matched)
	require.Equal(t, StrategyExactAmount, res.Strategy)
}

func TestSmartReportsAmbiguityOverNoCandidate(t *testing.T) {
	t.Parallel()

	pool := []ledger.Candidate{
		candidate("c1", "150.00", "", ""),
		candidate("c2", "150.00", "", ""),
	}
	res := matchOne(tx("150.00", "", ""), pool, repository.MatchSmart)
	require.False(t, res.Matched)
	require.Equal(t, ReasonAmbiguous, res.Reason)
}

func TestStatementCandidateConsumedOnce(t *testing.T) {
	t.Parallel()

	fake := newFakeLedger(candidate("c1", "100.00", "", ""))
	r := &Reconciler{Ledger: fake}

	lines := []ImportedLine{
		{Key: "l1", Tx: tx("100.00", "", "")},
		{Key: "l2", Tx: tx("100.00", "", "")},
	}
	results, matched := r.ReconcileStatement(context.Background(), "1020", lines, repository.MatchExactAmount)
	require.Equal(t, 1, matched)
	require.Len(t, results, 2)

	require.True(t, results[0].Matched)
	require.Equal(t, "c1", results[0].CandidateKey)
	require.False(t, results[1].Matched)
	require.Equal(t, ReasonNoCandidate, results[1].Reason)
	require.Equal(t, "l1", fake.reconciled["c1"])
}

func TestStatementAlreadyReconciledFailsSoft(t *testing.T) {
	t.Parallel()

	fake := newFakeLedger(candidate("c1", "100.00", "", ""))
	fake.takenByHand["c1"] = true
	r := &Reconciler{Ledger: fake}

	lines := []ImportedLine{{Key: "l1", Tx: tx("100.00", "", "")}}
	results, matched := r.ReconcileStatement(context.Background(), "1020", lines, repository.MatchExactAmount)
	require.Equal(t, 0, matched)
	require.Len(t, results, 1)
	require.False(t, results[0].Matched)
	require.Equal(t, ReasonAlreadyReconciled, results[0].Reason)
}

func TestStatementMethodNone(t *testing.T) {
	t.Parallel()

	r := &Reconciler{Ledger: newFakeLedger()}
	results, matched := r.ReconcileStatement(context.Background(), "1020",
		[]ImportedLine{{Key: "l1", Tx: tx("1.00", "", "")}}, repository.MatchNone)
	require.Zero(t, matched)
	require.Nil(t, results)
}
