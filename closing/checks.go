/*
checks.go - The month-end validation battery

PURPOSE:
  Runs the fixed suite of named checks over a period and produces the
  ValidationReport that gates (and is persisted with) the close.

CHECK CLASSES:
  critical       - blocks the close (canClose = zero critical failures)
  important      - warns, does not block
  recommendation - informational

THE BATTERY:
  critical:
    active-critical-alerts   No active critical alerts for companies
                             invoiced this period
    bank-reconciliation      A reconciliation exists for the period and
                             every one of them is reconciled
    orphaned-payments        No payments reference a missing invoice
  important:
    ar-aging-ties            Aging buckets sum to total open AR
    overdue-receivables      Overdue AR surfaced
  recommendation:
    credits-expiring-soon    Available credits inside the warning window
    credit-expiry-sweep      Past-expiry credits still marked available

SEE ALSO:
  - gate.go: Close re-runs this battery, never trusting a stale report
*/
package closing

import (
	"context"
	"fmt"
	"time"

	"github.com/benefitbuilders/accounting-engine/ledger"
)

// =============================================================================
// VALIDATE
// =============================================================================

// Validate runs the full check battery for a period. The report carries
// every check result, passed or not, for the audit record.
func (g *Gate) Validate(ctx context.Context, p ledger.Period) (*ledger.ValidationReport, error) {
	if !p.Valid() {
		return nil, ledger.ErrInvalidPeriod
	}

	report := &ledger.ValidationReport{RanAt: time.Now().UTC()}

	checks := []func(context.Context, ledger.Period) (ledger.ValidationCheck, error){
		g.checkCriticalAlerts,
		g.checkReconciliation,
		g.checkOrphanedPayments,
		g.checkARAging,
		g.checkOverdueReceivables,
		g.checkExpiringCredits,
		g.checkExpirySweep,
	}
	for _, run := range checks {
		check, err := run(ctx, p)
		if err != nil {
			return nil, err
		}
		report.Checks = append(report.Checks, check)
		if check.Passed {
			continue
		}
		switch check.Class {
		case ledger.CheckCritical:
			report.CriticalIssues = append(report.CriticalIssues, check.Detail)
		case ledger.CheckImportant:
			report.ImportantIssues = append(report.ImportantIssues, check.Detail)
		case ledger.CheckRecommendation:
			report.Recommendations = append(report.Recommendations, check.Detail)
		}
	}

	report.CanClose = len(report.CriticalIssues) == 0
	return report, nil
}

// =============================================================================
// CRITICAL CHECKS
// =============================================================================

func (g *Gate) checkCriticalAlerts(ctx context.Context, p ledger.Period) (ledger.ValidationCheck, error) {
	check := ledger.ValidationCheck{Name: "active-critical-alerts", Class: ledger.CheckCritical}

	invoiced, err := g.companiesInvoicedIn(ctx, p)
	if err != nil {
		return check, err
	}

	alerts, err := g.store.ListAlerts(ctx, ledger.AlertFilter{
		Status:   ledger.AlertStatusPtr(ledger.AlertActive),
		Severity: ledger.SeverityPtr(ledger.SeverityCritical),
	})
	if err != nil {
		return check, err
	}

	blocking := 0
	for _, a := range alerts {
		if invoiced[a.CompanyID] {
			blocking++
		}
	}

	check.Passed = blocking == 0
	if check.Passed {
		check.Detail = "no active critical alerts for companies invoiced this period"
	} else {
		check.Detail = fmt.Sprintf("%d active critical alert(s) for companies invoiced in %s", blocking, p)
	}
	return check, nil
}

func (g *Gate) checkReconciliation(ctx context.Context, p ledger.Period) (ledger.ValidationCheck, error) {
	check := ledger.ValidationCheck{Name: "bank-reconciliation", Class: ledger.CheckCritical}

	recs, err := g.store.ListReconciliations(ctx, p)
	if err != nil {
		return check, err
	}
	if len(recs) == 0 {
		check.Detail = fmt.Sprintf("no bank reconciliation recorded for %s", p)
		return check, nil
	}
	for _, r := range recs {
		if !r.Reconciled {
			check.Detail = fmt.Sprintf("reconciliation for account %q is not reconciled", r.BankAccount)
			return check, nil
		}
	}

	check.Passed = true
	check.Detail = fmt.Sprintf("%d account(s) reconciled", len(recs))
	return check, nil
}

func (g *Gate) checkOrphanedPayments(ctx context.Context, p ledger.Period) (ledger.ValidationCheck, error) {
	check := ledger.ValidationCheck{Name: "orphaned-payments", Class: ledger.CheckCritical}

	orphans, err := g.store.ListOrphanedPayments(ctx)
	if err != nil {
		return check, err
	}

	check.Passed = len(orphans) == 0
	if check.Passed {
		check.Detail = "no payments reference a missing invoice"
	} else {
		check.Detail = fmt.Sprintf("%d payment(s) reference invoices that no longer exist", len(orphans))
	}
	return check, nil
}

// =============================================================================
// IMPORTANT CHECKS
// =============================================================================

func (g *Gate) checkARAging(ctx context.Context, p ledger.Period) (ledger.ValidationCheck, error) {
	check := ledger.ValidationCheck{Name: "ar-aging-ties", Class: ledger.CheckImportant}

	open, err := g.openInvoices(ctx, p)
	if err != nil {
		return check, err
	}

	// Bucket open AR by days overdue at period end, then verify the buckets
	// sum back to the open total. A mismatch means an invoice escaped
	// bucketing, which has historically meant corrupt due dates.
	asOf := p.End()
	var total ledger.Cents
	buckets := map[string]ledger.Cents{}
	for _, inv := range open {
		due := inv.AmountDue()
		total += due
		buckets[agingBucket(inv.DaysOverdue(asOf))] += due
	}
	var bucketed ledger.Cents
	for _, amount := range buckets {
		bucketed += amount
	}

	check.Passed = bucketed == total
	if check.Passed {
		check.Detail = fmt.Sprintf("aging buckets tie to open AR of %s", total)
	} else {
		check.Detail = fmt.Sprintf("aging buckets sum to %s but open AR is %s", bucketed, total)
	}
	return check, nil
}

func agingBucket(daysOverdue int) string {
	switch {
	case daysOverdue <= 0:
		return "current"
	case daysOverdue <= 30:
		return "1-30"
	case daysOverdue <= 60:
		return "31-60"
	case daysOverdue <= 90:
		return "61-90"
	default:
		return "90+"
	}
}

func (g *Gate) checkOverdueReceivables(ctx context.Context, p ledger.Period) (ledger.ValidationCheck, error) {
	check := ledger.ValidationCheck{Name: "overdue-receivables", Class: ledger.CheckImportant}

	open, err := g.openInvoices(ctx, p)
	if err != nil {
		return check, err
	}

	asOf := p.End()
	overdueCount := 0
	var overdue ledger.Cents
	for _, inv := range open {
		if inv.DaysOverdue(asOf) > 0 {
			overdueCount++
			overdue += inv.AmountDue()
		}
	}

	check.Passed = overdueCount == 0
	if check.Passed {
		check.Detail = "no overdue receivables"
	} else {
		check.Detail = fmt.Sprintf("%d overdue invoice(s) totaling %s", overdueCount, overdue)
	}
	return check, nil
}

// =============================================================================
// RECOMMENDATION CHECKS
// =============================================================================

func (g *Gate) checkExpiringCredits(ctx context.Context, p ledger.Period) (ledger.ValidationCheck, error) {
	check := ledger.ValidationCheck{Name: "credits-expiring-soon", Class: ledger.CheckRecommendation}

	horizon := p.End().AddDate(0, 0, g.creditPolicy.ExpiryWarningDays)
	expiring, err := g.store.ListCredits(ctx, ledger.CreditFilter{
		Status:        ledger.CreditStatusPtr(ledger.CreditAvailable),
		ExpiresBefore: ledger.TimePtr(horizon),
	})
	if err != nil {
		return check, err
	}

	check.Passed = len(expiring) == 0
	if check.Passed {
		check.Detail = "no available credits expiring soon"
	} else {
		var amount ledger.Cents
		for _, c := range expiring {
			amount += c.Amount
		}
		check.Detail = fmt.Sprintf("%d credit(s) totaling %s expire within %d days", len(expiring), amount, g.creditPolicy.ExpiryWarningDays)
	}
	return check, nil
}

func (g *Gate) checkExpirySweep(ctx context.Context, p ledger.Period) (ledger.ValidationCheck, error) {
	check := ledger.ValidationCheck{Name: "credit-expiry-sweep", Class: ledger.CheckRecommendation}

	stale, err := g.store.ListCredits(ctx, ledger.CreditFilter{
		Status:        ledger.CreditStatusPtr(ledger.CreditAvailable),
		ExpiresBefore: ledger.TimePtr(p.End()),
	})
	if err != nil {
		return check, err
	}

	check.Passed = len(stale) == 0
	if check.Passed {
		check.Detail = "credit expiry sweep is current"
	} else {
		check.Detail = fmt.Sprintf("%d past-expiry credit(s) still marked available; run the expiry sweep", len(stale))
	}
	return check, nil
}

// =============================================================================
// SHARED QUERIES
// =============================================================================

func (g *Gate) companiesInvoicedIn(ctx context.Context, p ledger.Period) (map[ledger.CompanyID]bool, error) {
	invoices, err := g.store.ListInvoices(ctx, ledger.InvoiceFilter{Period: ledger.PeriodPtr(p)})
	if err != nil {
		return nil, err
	}
	companies := make(map[ledger.CompanyID]bool, len(invoices))
	for _, inv := range invoices {
		companies[inv.CompanyID] = true
	}
	return companies, nil
}

// openInvoices returns every invoice still carrying a balance as of the
// period's end, regardless of which period it was issued in.
func (g *Gate) openInvoices(ctx context.Context, p ledger.Period) ([]ledger.Invoice, error) {
	end := p.End()
	invoices, err := g.store.ListInvoices(ctx, ledger.InvoiceFilter{})
	if err != nil {
		return nil, err
	}

	var open []ledger.Invoice
	for _, inv := range invoices {
		if inv.Status == ledger.StatusPaid || inv.Status == ledger.StatusWrittenOff {
			continue
		}
		if inv.CreatedAt.After(end) {
			continue
		}
		open = append(open, inv)
	}
	return open, nil
}
