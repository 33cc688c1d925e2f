/*
Package credits owns the lifecycle of company credits.

PURPOSE:
  Issue credits (manually or from overpayment detection), apply them to
  invoices, expire them in batches, and delete them while still allowed.

CRITICAL INVARIANTS:
  1. CONSERVATION: Credits are conserved value. Application never truncates:
     when a credit exceeds the invoice balance, the surplus stays available
     as a new credit record. For any sequence of issue/apply/expire, the sum
     of available + applied + expired amounts per company equals the total
     ever issued.
  2. AT-MOST-ONE APPLICATION: Two concurrent applications of the same credit
     cannot both succeed. Status is re-checked inside the same store
     transaction as the mutation; the loser observes CreditNotAvailable.
  3. APPLIED IS FROZEN: Once applied, a credit's amount, notes, and expiry
     are immutable and the record cannot be deleted (CreditLocked).

EXAMPLE FLOW:
  Credit $50 applied to an invoice owing $30:
  - Invoice amount_paid += $30 (fully covers it -> status paid)
  - Original credit: amount $30, status applied
  - New credit: amount $20, status available, same source/expiry

SEE ALSO:
  - ledger/types.go: Credit entity and status values
  - alerts/detector.go: Issues overpayment credits through this package
*/
package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/benefitbuilders/accounting-engine/ledger"
	"github.com/benefitbuilders/accounting-engine/ledger/policy"
)

// =============================================================================
// CREDIT LEDGER
// =============================================================================

// Ledger manages credit records against a ledger.Store.
type Ledger struct {
	store  ledger.Store
	policy policy.CreditPolicy
}

// NewLedger creates a credit ledger with the given lifecycle policy.
func NewLedger(store ledger.Store, p policy.CreditPolicy) *Ledger {
	return &Ledger{store: store, policy: p}
}

// IssueRequest carries the inputs for issuing a credit.
type IssueRequest struct {
	CompanyID     ledger.CompanyID
	Amount        ledger.Cents
	Source        ledger.CreditSource
	SourceInvoice *ledger.InvoiceID
	// ExpiresInDays defaults to the policy's default expiry when zero.
	ExpiresInDays int
	Notes         string
	// IssuedAt anchors the expiry clock. Callers supply it; the engine
	// never reads the wall clock on a decision path.
	IssuedAt time.Time
}

// IssueCredit creates a new available credit.
// Fails with ErrInvalidAmount when amount <= 0 and ErrUnknownCompany when
// the company reference does not resolve.
func (l *Ledger) IssueCredit(ctx context.Context, req IssueRequest) (*ledger.Credit, error) {
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if _, err := l.store.GetCompany(ctx, req.CompanyID); err != nil {
		return nil, err
	}

	expiresIn := req.ExpiresInDays
	if expiresIn <= 0 {
		expiresIn = l.policy.DefaultExpiryDays
	}

	credit := ledger.Credit{
		ID:              ledger.CreditID(uuid.NewString()),
		CompanyID:       req.CompanyID,
		Amount:          req.Amount,
		Source:          req.Source,
		Status:          ledger.CreditAvailable,
		SourceInvoiceID: req.SourceInvoice,
		ExpiresAt:       req.IssuedAt.AddDate(0, 0, expiresIn),
		Notes:           req.Notes,
		CreatedAt:       req.IssuedAt,
	}

	if err := l.store.SaveCredit(ctx, credit); err != nil {
		return nil, err
	}
	return &credit, nil
}

// ApplyCredit applies a credit to an invoice and returns the applied
// amount. The whole operation runs in one store transaction: the status
// re-check, the invoice increment, and the credit transition either all
// happen or none do.
//
// SPLIT RULE: applyAmount = min(credit.Amount, invoice.AmountDue()). When
// the credit exceeds the invoice balance, the original credit is consumed
// at the applied amount and a new available credit carries the surplus.
//
// A credit issued in a since-closed period is still applicable: the
// application is an event of the period it happens in, and the store's
// period guard covers credit issuance only. Only the target invoice's
// period has to be open.
func (l *Ledger) ApplyCredit(ctx context.Context, creditID ledger.CreditID, invoiceID ledger.InvoiceID, asOf time.Time) (ledger.Cents, error) {
	var applied ledger.Cents

	err := l.store.WithTx(ctx, func(tx ledger.Store) error {
		credit, err := tx.GetCredit(ctx, creditID)
		if err != nil {
			return err
		}
		invoice, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}

		// Re-check inside the transaction: this is what makes concurrent
		// applications of the same credit at-most-one.
		if credit.Status != ledger.CreditAvailable {
			return ledger.ErrCreditNotAvailable
		}
		// A credit is live through its expiry instant; the sweep in
		// ExpireCredits collects strictly after it. The two comparisons
		// share the boundary so no instant exists where a credit is
		// neither applicable nor expirable.
		if asOf.After(credit.ExpiresAt) {
			return ledger.ErrCreditNotAvailable
		}

		applyAmount := credit.Amount
		if due := invoice.AmountDue(); due < applyAmount {
			applyAmount = due
		}
		if applyAmount <= 0 {
			// Invoice already settled. Consume nothing; the credit stays
			// available for a future invoice.
			return nil
		}

		invoice.AmountPaid += applyAmount
		if invoice.AmountPaid >= invoice.Total {
			invoice.Status = ledger.StatusPaid
		} else {
			invoice.Status = ledger.StatusPartial
		}
		if err := tx.SaveInvoice(ctx, *invoice); err != nil {
			return err
		}

		surplus := credit.Amount - applyAmount
		credit.Amount = applyAmount
		credit.Status = ledger.CreditApplied
		credit.AppliedToInvoiceID = &invoiceID
		if err := tx.SaveCredit(ctx, *credit); err != nil {
			return err
		}

		if surplus > 0 {
			remainder := ledger.Credit{
				ID:              ledger.CreditID(uuid.NewString()),
				CompanyID:       credit.CompanyID,
				Amount:          surplus,
				Source:          credit.Source,
				Status:          ledger.CreditAvailable,
				SourceInvoiceID: credit.SourceInvoiceID,
				ExpiresAt:       credit.ExpiresAt,
				Notes:           fmt.Sprintf("remainder of credit %s", credit.ID),
				CreatedAt:       asOf,
			}
			if err := tx.SaveCredit(ctx, remainder); err != nil {
				return err
			}
		}

		applied = applyAmount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// ExpireCredits transitions every available credit with expires_at < asOf
// to expired. Idempotent: already-expired credits are not revisited, so
// running the sweep twice is safe. Credits issued in a since-closed period
// expire like any other; the sweep never restates closed-period figures.
// Returns the number expired.
func (l *Ledger) ExpireCredits(ctx context.Context, asOf time.Time) (int, error) {
	expired := 0

	err := l.store.WithTx(ctx, func(tx ledger.Store) error {
		stale, err := tx.ListCredits(ctx, ledger.CreditFilter{
			Status:        ledger.CreditStatusPtr(ledger.CreditAvailable),
			ExpiresBefore: ledger.TimePtr(asOf),
		})
		if err != nil {
			return err
		}

		for _, c := range stale {
			c.Status = ledger.CreditExpired
			if err := tx.SaveCredit(ctx, c); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// DeleteCredit removes a credit that has not been applied. Applied credits
// are locked forever; the store returns ErrCreditLocked.
func (l *Ledger) DeleteCredit(ctx context.Context, id ledger.CreditID) error {
	return l.store.DeleteCredit(ctx, id)
}

// AvailableBalance sums a company's available credits.
func (l *Ledger) AvailableBalance(ctx context.Context, companyID ledger.CompanyID) (ledger.Cents, error) {
	credits, err := l.store.ListCredits(ctx, ledger.CreditFilter{
		CompanyID: ledger.CompanyIDPtr(companyID),
		Status:    ledger.CreditStatusPtr(ledger.CreditAvailable),
	})
	if err != nil {
		return 0, err
	}

	var total ledger.Cents
	for _, c := range credits {
		total += c.Amount
	}
	return total, nil
}
