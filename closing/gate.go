/*
Package closing is the month-end closing gate.

PURPOSE:
  Decide whether an accounting period is safe to close, then perform the
  one-way close transition and freeze the period's financial records.

STATE MACHINE:
  pending -> closed   (terminal)
  pending -> rejected (terminal, administrative abandonment)
  There is no closed -> pending transition in normal operation. Reopen
  exists as a documented administrative override and nothing else.

THE CLOSE SEQUENCE:
  1. AlreadyClosed if the period is closed (append-once, never overwrite)
  2. InvalidConfirmation unless the operator typed "CLOSE {MONTH} {YEAR}"
     (case-insensitive, trimmed). A human-in-the-loop guard against an
     accidental irreversible action, not a security control.
  3. Re-run the validation battery. A stale client-supplied report is
     never trusted. Critical failures -> CriticalIssuesError with the
     fresh issue list.
  4. Persist the record with the full report, transactions_locked, and
     actor/timestamp for both closed and approved. The transition is a
     compare-and-swap against status == pending; concurrent closers race
     and exactly one wins.

  From that point every store write path dated within the period fails
  with PeriodClosed. The gate defines the policy; store/sqlite enforces
  it on each mutation.

SEE ALSO:
  - checks.go: The validation battery
  - store/sqlite/sqlite.go: CloseIfPending and the period write guard
*/
package closing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benefitbuilders/accounting-engine/ledger"
	"github.com/benefitbuilders/accounting-engine/ledger/policy"
)

// =============================================================================
// GATE
// =============================================================================

// BenefitsTotals supplies the benefits-plan aggregates for a period. The
// payroll subsystem owns deduction and savings figures; this engine only
// records them on the closing snapshot. A nil source records zeros.
type BenefitsTotals interface {
	TotalsForPeriod(ctx context.Context, p ledger.Period) (pretaxDeductions, fees, employerSavings, employeeSavings ledger.Cents, err error)
}

// Gate validates and closes accounting periods.
type Gate struct {
	store        ledger.Store
	creditPolicy policy.CreditPolicy
	benefits     BenefitsTotals
	log          zerolog.Logger
}

// NewGate creates a closing gate. benefits may be nil.
func NewGate(store ledger.Store, creditPolicy policy.CreditPolicy, benefits BenefitsTotals, log zerolog.Logger) *Gate {
	return &Gate{
		store:        store,
		creditPolicy: creditPolicy,
		benefits:     benefits,
		log:          log.With().Str("component", "closing").Logger(),
	}
}

// =============================================================================
// CLOSE - The one-way transition
// =============================================================================

// Close performs the irreversible month-end close. On success the period's
// financial records are frozen and the returned record carries the fresh
// validation report.
func (g *Gate) Close(ctx context.Context, p ledger.Period, actor, confirmation, notes string, at time.Time) (*ledger.MonthEndClosing, error) {
	if !p.Valid() {
		return nil, ledger.ErrInvalidPeriod
	}

	existing, err := g.store.GetClosing(ctx, p)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case ledger.ClosingClosed:
			return nil, ledger.ErrAlreadyClosed
		case ledger.ClosingRejected:
			return nil, ledger.ErrClosingRejected
		}
	}

	if !p.MatchesConfirmation(confirmation) {
		return nil, ledger.ErrInvalidConfirmation
	}

	report, err := g.Validate(ctx, p)
	if err != nil {
		return nil, err
	}
	if !report.CanClose {
		return nil, &ledger.CriticalIssuesError{Period: p, Issues: report.CriticalIssues}
	}

	totals, err := g.computeTotals(ctx, p)
	if err != nil {
		return nil, err
	}

	record := ledger.MonthEndClosing{
		ID:                  uuid.NewString(),
		Year:                p.Year,
		Month:               p.Month,
		Totals:              totals,
		CriticalIssuesCount: 0,
		Status:              ledger.ClosingClosed,
		TransactionsLocked:  true,
		ClosedBy:            actor,
		ClosedAt:            &at,
		ApprovedBy:          actor,
		ApprovedAt:          &at,
		Notes:               notes,
		Report:              report,
		CreatedAt:           at,
	}
	if existing != nil {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	}

	if err := g.store.CloseIfPending(ctx, record); err != nil {
		return nil, err
	}

	g.log.Info().
		Str("period", p.String()).
		Str("actor", actor).
		Int("checks", len(report.Checks)).
		Msg("period closed")
	return &record, nil
}

// Reject abandons a pending close attempt. Terminal: a rejected period is
// never closed through this gate again.
func (g *Gate) Reject(ctx context.Context, p ledger.Period, actor, reason string, at time.Time) (*ledger.MonthEndClosing, error) {
	if !p.Valid() {
		return nil, ledger.ErrInvalidPeriod
	}

	existing, err := g.store.GetClosing(ctx, p)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case ledger.ClosingClosed:
			return nil, ledger.ErrAlreadyClosed
		case ledger.ClosingRejected:
			return existing, nil
		}
	}

	record := ledger.MonthEndClosing{
		ID:        uuid.NewString(),
		Year:      p.Year,
		Month:     p.Month,
		Status:    ledger.ClosingRejected,
		ClosedBy:  actor,
		Notes:     reason,
		CreatedAt: at,
	}
	if existing != nil {
		record = *existing
		record.Status = ledger.ClosingRejected
		record.ClosedBy = actor
		record.Notes = reason
	}

	if err := g.store.SaveClosing(ctx, record); err != nil {
		return nil, err
	}
	g.log.Info().Str("period", p.String()).Str("actor", actor).Msg("close rejected")
	return &record, nil
}

// Reopen is the administrative override that unlocks a closed period. It
// exists for correcting a close made in error; normal operation never
// calls it.
func (g *Gate) Reopen(ctx context.Context, p ledger.Period, actor string) (*ledger.MonthEndClosing, error) {
	if !p.Valid() {
		return nil, ledger.ErrInvalidPeriod
	}

	existing, err := g.store.GetClosing(ctx, p)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.Status != ledger.ClosingClosed {
		return nil, ledger.ErrClosingNotFound
	}

	existing.Status = ledger.ClosingPending
	existing.TransactionsLocked = false
	existing.Notes = appendNote(existing.Notes, fmt.Sprintf("reopened by %s", actor))
	if err := g.store.SaveClosing(ctx, *existing); err != nil {
		return nil, err
	}

	g.log.Warn().Str("period", p.String()).Str("actor", actor).Msg("period reopened")
	return existing, nil
}

// Status returns the closing record for a period, or nil when none exists.
func (g *Gate) Status(ctx context.Context, p ledger.Period) (*ledger.MonthEndClosing, error) {
	if !p.Valid() {
		return nil, ledger.ErrInvalidPeriod
	}
	return g.store.GetClosing(ctx, p)
}

// =============================================================================
// TOTALS
// =============================================================================

// computeTotals snapshots the period's financial aggregates for the
// closing record. AR comes from invoices, AP from bill-side payments, and
// the benefits figures from the external source.
func (g *Gate) computeTotals(ctx context.Context, p ledger.Period) (ledger.ClosingTotals, error) {
	var totals ledger.ClosingTotals

	open, err := g.openInvoices(ctx, p)
	if err != nil {
		return totals, err
	}
	asOf := p.End()
	for _, inv := range open {
		due := inv.AmountDue()
		totals.AROpen += due
		if inv.DaysOverdue(asOf) > 0 {
			totals.AROverdue += due
		}
	}

	payments, err := g.store.ListPayments(ctx, ledger.PaymentFilter{Period: ledger.PeriodPtr(p)})
	if err != nil {
		return totals, err
	}
	for _, pay := range payments {
		if pay.BillID == nil {
			continue
		}
		switch pay.Status {
		case ledger.PaymentPending:
			totals.APOpen += pay.Amount
		case ledger.PaymentFailed:
			totals.APOverdue += pay.Amount
		}
	}

	if g.benefits != nil {
		pretax, fees, employer, employee, err := g.benefits.TotalsForPeriod(ctx, p)
		if err != nil {
			return totals, err
		}
		totals.PretaxDeductions = pretax
		totals.Fees = fees
		totals.EmployerSavings = employer
		totals.EmployeeSavings = employee
	}

	return totals, nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
