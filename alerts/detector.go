/*
Package alerts converts payment-domain events into actionable alerts.

PURPOSE:
  Two entry points feed this package:
  - DetectAlerts(asOf): the batch sweep an external scheduler invokes,
    covering late invoices and failed charges.
  - RecordPayment / RecordFailedCharge: inline hooks the payment subsystem
    calls after recording an event, covering underpaid, overpaid, and
    failed-charge conditions at the moment they happen.

IDEMPOTENCE:
  Running detection twice over unchanged state creates no duplicate ACTIVE
  alerts for the same (invoice, alert type) pair. An alert that was
  acknowledged or resolved does not suppress a new occurrence of the same
  condition - a second late cycle raises a second alert.

SIDE EFFECTS:
  Alert creation is pure append. The single exception: an overpayment caps
  the invoice's amount_paid at its total and routes the excess into the
  credit ledger as an overpayment credit. The info alert documenting that
  credit is best-effort - its failure never blocks the credit.

SEVERITY ESCALATION (late payments):
  Days overdue drive severity through policy.LateTiers - info first, then
  warning, then critical. The boundaries are configuration, not constants.
  An active late alert is escalated in place when the invoice crosses a
  tier boundary; the alert always carries the worst tier reached.

SEE ALSO:
  - lifecycle.go: Acknowledge / Resolve / Delete / reminders
  - ledger/policy: The tier boundaries
  - credits: Overpayment credit issuing
*/
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benefitbuilders/accounting-engine/credits"
	"github.com/benefitbuilders/accounting-engine/ledger"
	"github.com/benefitbuilders/accounting-engine/ledger/policy"
)

// =============================================================================
// DETECTOR
// =============================================================================

// Detector inspects invoice/payment state and produces PaymentAlert records.
type Detector struct {
	store    ledger.Store
	credits  *credits.Ledger
	tiers    policy.LateTiers
	notifier ledger.Notifier // may be nil; notification is best-effort
	log      zerolog.Logger
}

// NewDetector wires a detector. notifier may be nil.
func NewDetector(store ledger.Store, creditLedger *credits.Ledger, tiers policy.LateTiers, notifier ledger.Notifier, log zerolog.Logger) *Detector {
	return &Detector{
		store:    store,
		credits:  creditLedger,
		tiers:    tiers,
		notifier: notifier,
		log:      log,
	}
}

// DetectAlerts runs the batch sweep as of the given time and returns the
// number of alerts created. Safe to run repeatedly: duplicates of active
// alerts are suppressed.
func (d *Detector) DetectAlerts(ctx context.Context, asOf time.Time) (int, error) {
	created := 0

	n, err := d.detectLate(ctx, asOf)
	if err != nil {
		return created, err
	}
	created += n

	n, err = d.detectFailedCharges(ctx, asOf)
	if err != nil {
		return created, err
	}
	created += n

	d.log.Info().Int("created", created).Time("as_of", asOf).Msg("alert detection sweep complete")
	return created, nil
}

// detectLate raises one active "late" alert per overdue, unpaid invoice.
func (d *Detector) detectLate(ctx context.Context, asOf time.Time) (int, error) {
	invoices, err := d.store.ListInvoices(ctx, ledger.InvoiceFilter{
		DueBefore: ledger.TimePtr(asOf),
	})
	if err != nil {
		return 0, err
	}

	created := 0
	for _, inv := range invoices {
		if inv.Status == ledger.StatusPaid || inv.Status == ledger.StatusWrittenOff {
			continue
		}
		days := inv.DaysOverdue(asOf)
		if days < 1 {
			continue
		}

		severity := d.lateSeverity(days)
		message := fmt.Sprintf("invoice %s is %d day(s) overdue (%s outstanding)",
			inv.ID, days, inv.AmountDue())

		active, err := d.activeAlert(ctx, inv.ID, ledger.AlertLate)
		if err != nil {
			return created, err
		}
		if active != nil {
			// The open alert tracks the worst tier reached; crossing a
			// tier boundary escalates it in place instead of raising a
			// duplicate.
			if severityRank(severity) > severityRank(active.Severity) {
				active.Severity = severity
				active.Message = message
				if err := d.store.SaveAlert(ctx, *active); err != nil {
					return created, err
				}
				d.notify(ctx, *active)
			}
			continue
		}

		alert := ledger.PaymentAlert{
			ID:        ledger.AlertID(uuid.NewString()),
			Type:      ledger.AlertLate,
			Severity:  severity,
			Status:    ledger.AlertActive,
			CompanyID: inv.CompanyID,
			InvoiceID: &inv.ID,
			Message:   message,
			CreatedAt: asOf,
		}
		if err := d.store.SaveAlert(ctx, alert); err != nil {
			return created, err
		}
		created++
		d.notify(ctx, alert)
	}
	return created, nil
}

// detectFailedCharges raises one critical alert per failed payment. Every
// failure is actionable; there is no suppression window beyond "this exact
// payment already has its alert".
func (d *Detector) detectFailedCharges(ctx context.Context, asOf time.Time) (int, error) {
	failed, err := d.store.ListPayments(ctx, ledger.PaymentFilter{
		Status: ledger.PaymentStatePtr(ledger.PaymentFailed),
	})
	if err != nil {
		return 0, err
	}

	created := 0
	for _, p := range failed {
		existing, err := d.store.ListAlerts(ctx, ledger.AlertFilter{
			Type:      ledger.AlertTypePtr(ledger.AlertFailedCharge),
			PaymentID: ledger.PaymentIDPtr(p.ID),
		})
		if err != nil {
			return created, err
		}
		if len(existing) > 0 {
			continue
		}

		alert, err := d.failedChargeAlert(ctx, p, asOf)
		if err != nil {
			return created, err
		}
		if err := d.store.SaveAlert(ctx, *alert); err != nil {
			return created, err
		}
		created++
		d.notify(ctx, *alert)
	}
	return created, nil
}

// RecordPayment reacts to a completed payment against an invoice: it caps
// overpayments (routing the excess into the credit ledger) and flags
// underpayments on a payer's final payment of the cycle. Returns the alert
// created, if any.
func (d *Detector) RecordPayment(ctx context.Context, paymentID ledger.PaymentID, final bool, asOf time.Time) (*ledger.PaymentAlert, error) {
	payment, err := d.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.InvoiceID == nil {
		// AP-side payment; nothing to detect on the AR path.
		return nil, nil
	}
	invoice, err := d.store.GetInvoice(ctx, *payment.InvoiceID)
	if err != nil {
		return nil, err
	}

	if invoice.AmountPaid > invoice.Total {
		return d.handleOverpayment(ctx, invoice, payment, asOf)
	}
	if final && invoice.AmountPaid < invoice.Total {
		return d.handleUnderpayment(ctx, invoice, payment, asOf)
	}
	return nil, nil
}

// handleOverpayment caps amount_paid at the invoice total and converts the
// excess into an available overpayment credit. The credit is the point;
// the info alert documenting it is best-effort.
func (d *Detector) handleOverpayment(ctx context.Context, invoice *ledger.Invoice, payment *ledger.Payment, asOf time.Time) (*ledger.PaymentAlert, error) {
	excess := invoice.AmountPaid - invoice.Total

	var credit *ledger.Credit
	err := d.store.WithTx(ctx, func(tx ledger.Store) error {
		inv, err := tx.GetInvoice(ctx, invoice.ID)
		if err != nil {
			return err
		}
		excess = inv.AmountPaid - inv.Total
		if excess <= 0 {
			// Another caller already capped it.
			return nil
		}

		inv.AmountPaid = inv.Total
		inv.Status = ledger.StatusPaid
		if err := tx.SaveInvoice(ctx, *inv); err != nil {
			return err
		}

		c := ledger.Credit{
			ID:              ledger.CreditID(uuid.NewString()),
			CompanyID:       inv.CompanyID,
			Amount:          excess,
			Source:          ledger.SourceOverpayment,
			Status:          ledger.CreditAvailable,
			SourceInvoiceID: &inv.ID,
			ExpiresAt:       asOf.AddDate(1, 0, 0),
			Notes:           fmt.Sprintf("overpayment on invoice %s via payment %s", inv.ID, payment.ID),
			CreatedAt:       asOf,
		}
		if err := tx.SaveCredit(ctx, c); err != nil {
			return err
		}
		credit = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if credit == nil {
		return nil, nil
	}

	alert := ledger.PaymentAlert{
		ID:        ledger.AlertID(uuid.NewString()),
		Type:      ledger.AlertOverpaid,
		Severity:  ledger.SeverityInfo,
		Status:    ledger.AlertActive,
		CompanyID: invoice.CompanyID,
		InvoiceID: &invoice.ID,
		PaymentID: &payment.ID,
		CreditID:  &credit.ID,
		Message: fmt.Sprintf("invoice %s overpaid by %s; credit %s issued",
			invoice.ID, excess, credit.ID),
		CreatedAt: asOf,
	}
	if err := d.store.SaveAlert(ctx, alert); err != nil {
		// The credit already exists and is the real outcome here.
		d.log.Warn().Err(err).Str("invoice", string(invoice.ID)).
			Msg("overpayment credit issued but alert creation failed")
		return nil, nil
	}
	d.notify(ctx, alert)
	return &alert, nil
}

func (d *Detector) handleUnderpayment(ctx context.Context, invoice *ledger.Invoice, payment *ledger.Payment, asOf time.Time) (*ledger.PaymentAlert, error) {
	shortfall := invoice.Total - invoice.AmountPaid

	alert := ledger.PaymentAlert{
		ID:        ledger.AlertID(uuid.NewString()),
		Type:      ledger.AlertUnderpaid,
		Severity:  ledger.SeverityWarning,
		Status:    ledger.AlertActive,
		CompanyID: invoice.CompanyID,
		InvoiceID: &invoice.ID,
		PaymentID: &payment.ID,
		Message: fmt.Sprintf("final payment on invoice %s leaves %s short",
			invoice.ID, shortfall),
		CreatedAt: asOf,
	}
	if err := d.store.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	d.notify(ctx, alert)
	return &alert, nil
}

// RecordFailedCharge raises a critical alert for a payment that failed.
// One alert per failed payment, raised immediately.
func (d *Detector) RecordFailedCharge(ctx context.Context, paymentID ledger.PaymentID, asOf time.Time) (*ledger.PaymentAlert, error) {
	payment, err := d.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != ledger.PaymentFailed {
		return nil, fmt.Errorf("payment %s has status %q, not failed", payment.ID, payment.Status)
	}

	alert, err := d.failedChargeAlert(ctx, *payment, asOf)
	if err != nil {
		return nil, err
	}
	if err := d.store.SaveAlert(ctx, *alert); err != nil {
		return nil, err
	}
	d.notify(ctx, *alert)
	return alert, nil
}

func (d *Detector) failedChargeAlert(ctx context.Context, p ledger.Payment, asOf time.Time) (*ledger.PaymentAlert, error) {
	var companyID ledger.CompanyID
	var invoiceID *ledger.InvoiceID
	if p.InvoiceID != nil {
		if inv, err := d.store.GetInvoice(ctx, *p.InvoiceID); err == nil {
			companyID = inv.CompanyID
			invoiceID = &inv.ID
		}
	}

	return &ledger.PaymentAlert{
		ID:        ledger.AlertID(uuid.NewString()),
		Type:      ledger.AlertFailedCharge,
		Severity:  ledger.SeverityCritical,
		Status:    ledger.AlertActive,
		CompanyID: companyID,
		InvoiceID: invoiceID,
		PaymentID: &p.ID,
		Message:   fmt.Sprintf("charge of %s failed for payment %s", p.Amount, p.ID),
		CreatedAt: asOf,
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// activeAlert is the dedup check: only ACTIVE alerts suppress; an
// acknowledged or resolved alert lets a new occurrence through.
func (d *Detector) activeAlert(ctx context.Context, invoiceID ledger.InvoiceID, t ledger.AlertType) (*ledger.PaymentAlert, error) {
	existing, err := d.store.ListAlerts(ctx, ledger.AlertFilter{
		Type:      ledger.AlertTypePtr(t),
		Status:    ledger.AlertStatusPtr(ledger.AlertActive),
		InvoiceID: ledger.InvoiceIDPtr(invoiceID),
	})
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, nil
	}
	return &existing[0], nil
}

func (d *Detector) lateSeverity(daysOverdue int) ledger.Severity {
	switch {
	case daysOverdue >= d.tiers.CriticalAfterDays:
		return ledger.SeverityCritical
	case daysOverdue >= d.tiers.WarningAfterDays:
		return ledger.SeverityWarning
	default:
		return ledger.SeverityInfo
	}
}

func severityRank(s ledger.Severity) int {
	switch s {
	case ledger.SeverityCritical:
		return 3
	case ledger.SeverityWarning:
		return 2
	default:
		return 1
	}
}

// notify dispatches a notice, best-effort. Failure is logged, never fatal.
func (d *Detector) notify(ctx context.Context, alert ledger.PaymentAlert) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.SendAlertNotice(ctx, alert); err != nil {
		d.log.Warn().Err(err).Str("alert", string(alert.ID)).Msg("alert notification failed")
	}
}
