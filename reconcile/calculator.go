/*
Package reconcile validates bank reconciliations against book balances.

PURPOSE:
  One (year, month, account) reconciliation compares the bank statement's
  ending balance to the book's expected position, adjusted for items the
  bank has not seen yet.

THE ARITHMETIC (standard bank-to-book adjustment):
  expected_ending_book = beginning_book + deposits - withdrawals + adjustments
  difference = ending_bank - (expected_ending_book - outstanding_checks
                                                   + outstanding_deposits)

  Outstanding checks reduce the bank's recorded balance relative to the
  book; outstanding deposits increase it.

PRECISION:
  Reconciliation balances are the one place decimal dollars appear in the
  engine. Every arithmetic step rounds to 2 places (bank feeds carry
  floating rounding; re-rounding at each step keeps it from compounding).
  A reconciliation is balanced when abs(difference) <= the configured
  tolerance (one cent by default).

MUTATION RULES:
  - One record per (year, month, account): second create -> DuplicatePeriod
  - Once reconciled, frozen except the explicit un-reconcile transition
    (ReconciliationLocked otherwise)
  - Marking reconciled stamps reconciled_at/by; unmarking clears both

SEE ALSO:
  - ledger/policy: The tolerance
  - closing/checks.go: Requires a reconciled record before a period closes
*/
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/benefitbuilders/accounting-engine/ledger"
)

// =============================================================================
// CALCULATOR
// =============================================================================

// Figures carries the operator-entered statement and book numbers, in
// decimal dollars.
type Figures struct {
	BeginningBookBalance decimal.Decimal
	EndingBankBalance    decimal.Decimal
	TotalDeposits        decimal.Decimal
	TotalWithdrawals     decimal.Decimal
	OutstandingChecks    decimal.Decimal
	OutstandingDeposits  decimal.Decimal
	Adjustments          decimal.Decimal
	Notes                string
}

// Calculator validates reconciliation periods against a ledger.Store.
type Calculator struct {
	store     ledger.ReconciliationStore
	tolerance decimal.Decimal
}

// NewCalculator creates a calculator with the given balance tolerance.
func NewCalculator(store ledger.ReconciliationStore, tolerance decimal.Decimal) *Calculator {
	return &Calculator{store: store, tolerance: tolerance}
}

// ExpectedEndingBookBalance computes the book's expected ending position,
// rounding at each step.
func ExpectedEndingBookBalance(f Figures) decimal.Decimal {
	expected := f.BeginningBookBalance.Round(2)
	expected = expected.Add(f.TotalDeposits.Round(2)).Round(2)
	expected = expected.Sub(f.TotalWithdrawals.Round(2)).Round(2)
	expected = expected.Add(f.Adjustments.Round(2)).Round(2)
	return expected
}

// Difference computes the bank-vs-book discrepancy after adjusting for
// outstanding items.
func Difference(f Figures) decimal.Decimal {
	adjustedBook := ExpectedEndingBookBalance(f)
	adjustedBook = adjustedBook.Sub(f.OutstandingChecks.Round(2)).Round(2)
	adjustedBook = adjustedBook.Add(f.OutstandingDeposits.Round(2)).Round(2)
	return f.EndingBankBalance.Round(2).Sub(adjustedBook).Round(2)
}

// Balanced reports whether a difference falls within the tolerance.
func (c *Calculator) Balanced(difference decimal.Decimal) bool {
	return difference.Abs().Cmp(c.tolerance) <= 0
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Reconcile creates the reconciliation record for a period and account,
// computing the expected balance and difference from the figures. Fails
// with ErrDuplicatePeriod when a record already exists and ErrInvalidPeriod
// on a malformed period.
func (c *Calculator) Reconcile(ctx context.Context, p ledger.Period, account string, f Figures, asOf time.Time) (*ledger.BankReconciliation, error) {
	if !p.Valid() || account == "" {
		return nil, ledger.ErrInvalidPeriod
	}

	rec := ledger.BankReconciliation{
		ID:                   uuid.NewString(),
		Year:                 p.Year,
		Month:                p.Month,
		BankAccount:          account,
		BeginningBookBalance: f.BeginningBookBalance.Round(2),
		EndingBookBalance:    ExpectedEndingBookBalance(f),
		EndingBankBalance:    f.EndingBankBalance.Round(2),
		TotalDeposits:        f.TotalDeposits.Round(2),
		TotalWithdrawals:     f.TotalWithdrawals.Round(2),
		OutstandingChecks:    f.OutstandingChecks.Round(2),
		OutstandingDeposits:  f.OutstandingDeposits.Round(2),
		Adjustments:          f.Adjustments.Round(2),
		Difference:           Difference(f),
		Notes:                f.Notes,
		CreatedAt:            asOf,
	}

	if err := c.store.CreateReconciliation(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateFigures replaces the figures on an unreconciled record and
// recomputes the difference. Fails with ErrReconciliationLocked once the
// record is reconciled.
func (c *Calculator) UpdateFigures(ctx context.Context, id string, f Figures) (*ledger.BankReconciliation, error) {
	rec, err := c.store.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Reconciled {
		return nil, ledger.ErrReconciliationLocked
	}

	rec.BeginningBookBalance = f.BeginningBookBalance.Round(2)
	rec.EndingBookBalance = ExpectedEndingBookBalance(f)
	rec.EndingBankBalance = f.EndingBankBalance.Round(2)
	rec.TotalDeposits = f.TotalDeposits.Round(2)
	rec.TotalWithdrawals = f.TotalWithdrawals.Round(2)
	rec.OutstandingChecks = f.OutstandingChecks.Round(2)
	rec.OutstandingDeposits = f.OutstandingDeposits.Round(2)
	rec.Adjustments = f.Adjustments.Round(2)
	rec.Difference = Difference(f)
	if f.Notes != "" {
		rec.Notes = f.Notes
	}

	if err := c.store.UpdateReconciliation(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkReconciled finalizes a balanced record, stamping the actor and time.
// An out-of-tolerance record cannot be marked; the discrepancy has to be
// explained through figures or adjustments first.
func (c *Calculator) MarkReconciled(ctx context.Context, id, actor string, at time.Time) (*ledger.BankReconciliation, error) {
	rec, err := c.store.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Reconciled {
		return nil, ledger.ErrReconciliationLocked
	}
	if !c.Balanced(rec.Difference) {
		return nil, ledger.ErrInvalidAmount
	}

	rec.Reconciled = true
	rec.ReconciledAt = &at
	rec.ReconciledBy = actor
	if err := c.store.UpdateReconciliation(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Unreconcile is the explicit unlock transition: it clears the reconciled
// flag and both stamps.
func (c *Calculator) Unreconcile(ctx context.Context, id string) (*ledger.BankReconciliation, error) {
	rec, err := c.store.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.Reconciled = false
	rec.ReconciledAt = nil
	rec.ReconciledBy = ""
	if err := c.store.UpdateReconciliation(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}
