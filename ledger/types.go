/*
Package ledger provides the shared data model for the accounting integrity engine.

PURPOSE:
  This package contains the entities and value types that every component of
  the engine operates on: invoices, payments, alerts, credits, bank
  reconciliations, and month-end closings. Components (alerts, credits,
  reconcile, closing) import this package; it imports nothing of theirs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Cents: Integer minor-unit money (no floating point on invoice paths)
  - Invoice/Payment: The AR records the engine reacts to
  - PaymentAlert: A system-raised notice requiring human attention
  - Credit: A company's reusable balance that offsets future invoices
  - BankReconciliation: Book-vs-bank statement matching for one period
  - MonthEndClosing: The irreversible period freeze with its audit report

DESIGN PRINCIPLES:
  1. Explicit periods: No component computes "now" internally. Callers pass
     asOf timestamps and Period values, keeping the engine deterministic.
  2. Typed joins: Nullable relations are typed optional fields resolved at
     the store boundary, never string-keyed row maps.
  3. Integer money: Cents everywhere except bank reconciliation, where
     decimal dollars are mandated (see reconcile package).

SEE ALSO:
  - period.go: Period value type and confirmation phrase
  - errors.go: Error taxonomy (sentinels + structured errors)
  - store.go: Persistence interfaces and the period-close guard
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer minor units (cents)
// =============================================================================

// Cents is a monetary amount in integer minor units. All invoice, payment,
// and credit amounts use Cents; bank reconciliation balances are the only
// place decimal dollars appear.
type Cents int64

func (c Cents) String() string {
	sign := ""
	v := c
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

// Dollars converts to a decimal dollar amount (2 places).
func (c Cents) Dollars() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type InvoiceID string
type PaymentID string
type AlertID string
type CreditID string

// Company is the reference target for invoices, credits, and alerts.
// Company management itself lives outside the engine.
type Company struct {
	ID        CompanyID
	Name      string
	CreatedAt time.Time
}

// =============================================================================
// INVOICE (AR)
// =============================================================================

type PaymentStatus string

const (
	StatusUnpaid     PaymentStatus = "unpaid"
	StatusPartial    PaymentStatus = "partial"
	StatusPaid       PaymentStatus = "paid"
	StatusOverdue    PaymentStatus = "overdue"
	StatusWrittenOff PaymentStatus = "written_off"
)

// Invoice is an accounts-receivable record.
//
// INVARIANT: AmountPaid <= Total. An overpayment never raises AmountPaid
// past Total; the excess is converted to a Credit (see alerts.Detector).
// Immutable once its owning period is closed (enforced by the store's
// write path, see PeriodGuard).
type Invoice struct {
	ID         InvoiceID
	CompanyID  CompanyID
	Total      Cents
	AmountPaid Cents
	DueDate    time.Time
	Status     PaymentStatus
	CreatedAt  time.Time
}

// AmountDue returns the unpaid balance.
func (i Invoice) AmountDue() Cents {
	due := i.Total - i.AmountPaid
	if due < 0 {
		return 0
	}
	return due
}

// DaysOverdue returns whole days past the due date as of the given time.
// Zero if not yet due.
func (i Invoice) DaysOverdue(asOf time.Time) int {
	if !asOf.After(i.DueDate) {
		return 0
	}
	return int(asOf.Sub(i.DueDate).Hours() / 24)
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentState string

const (
	PaymentPending   PaymentState = "pending"
	PaymentCompleted PaymentState = "completed"
	PaymentFailed    PaymentState = "failed"
)

// Payment records one payment event. Linked to an invoice OR a bill,
// never both. Created once per event; never mutated after reaching
// completed/failed, only referenced.
type Payment struct {
	ID        PaymentID
	InvoiceID *InvoiceID // AR side
	BillID    *string    // AP side; mutually exclusive with InvoiceID
	Amount    Cents
	Date      time.Time
	Method    string
	Status    PaymentState
	CreatedAt time.Time
}

// =============================================================================
// PAYMENT ALERT
// =============================================================================

type AlertType string

const (
	AlertLate         AlertType = "late"
	AlertUnderpaid    AlertType = "underpaid"
	AlertOverpaid     AlertType = "overpaid"
	AlertFailedCharge AlertType = "failed_charge"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// PaymentAlert is a system-raised notice of an anomalous payment condition.
//
// LIFECYCLE: created active by the detector; transitions to acknowledged
// (records actor) or resolved (records actor + notes). Deletion exists only
// as an administrative override - resolving is always preferred.
type PaymentAlert struct {
	ID              AlertID
	Type            AlertType
	Severity        Severity
	Status          AlertStatus
	CompanyID       CompanyID
	InvoiceID       *InvoiceID
	PaymentID       *PaymentID
	CreditID        *CreditID // set when an overpayment auto-issued a credit
	Message         string
	ResolutionNotes string
	AcknowledgedBy  string
	AcknowledgedAt  *time.Time
	ResolvedBy      string
	ResolvedAt      *time.Time
	ReminderSentAt  *time.Time // set when a reminder was dispatched
	CreatedAt       time.Time
}

// =============================================================================
// CREDIT
// =============================================================================

type CreditSource string

const (
	SourceOverpayment CreditSource = "overpayment"
	SourceRefund      CreditSource = "refund"
	SourceAdjustment  CreditSource = "adjustment"
	SourceGoodwill    CreditSource = "goodwill"
)

type CreditStatus string

const (
	CreditAvailable CreditStatus = "available"
	CreditApplied   CreditStatus = "applied"
	CreditExpired   CreditStatus = "expired"
)

// Credit is a company's reusable balance.
//
// INVARIANT: once Status = applied the record is frozen - Amount, Notes,
// and ExpiresAt are immutable and the record cannot be deleted. Credits
// are conserved value: application never truncates; a surplus over the
// target invoice's balance remains available as a new credit.
type Credit struct {
	ID                 CreditID
	CompanyID          CompanyID
	Amount             Cents
	Source             CreditSource
	Status             CreditStatus
	SourceInvoiceID    *InvoiceID
	AppliedToInvoiceID *InvoiceID
	ExpiresAt          time.Time
	Notes              string
	CreatedAt          time.Time
}

// =============================================================================
// BANK RECONCILIATION
// =============================================================================

// BankReconciliation matches book-recorded cash movement against a bank
// statement for one (year, month, account). Unique per period+account.
// Once Reconciled it is frozen except for the explicit un-reconcile
// transition. All balances are decimal dollars rounded to 2 places.
type BankReconciliation struct {
	ID                   string
	Year                 int
	Month                time.Month
	BankAccount          string
	BeginningBookBalance decimal.Decimal
	EndingBookBalance    decimal.Decimal
	EndingBankBalance    decimal.Decimal
	TotalDeposits        decimal.Decimal
	TotalWithdrawals     decimal.Decimal
	OutstandingChecks    decimal.Decimal
	OutstandingDeposits  decimal.Decimal
	Adjustments          decimal.Decimal
	Difference           decimal.Decimal
	Reconciled           bool
	ReconciledAt         *time.Time
	ReconciledBy         string
	Notes                string
	CreatedAt            time.Time
}

// =============================================================================
// MONTH-END CLOSING
// =============================================================================

type ClosingStatus string

const (
	ClosingPending  ClosingStatus = "pending"
	ClosingClosed   ClosingStatus = "closed"
	ClosingRejected ClosingStatus = "rejected"
)

// ClosingTotals aggregates a period's financial activity for the closing
// record. All integer cents.
type ClosingTotals struct {
	PretaxDeductions Cents
	Fees             Cents
	EmployerSavings  Cents
	EmployeeSavings  Cents
	AROpen           Cents
	AROverdue        Cents
	APOpen           Cents
	APOverdue        Cents
}

// CheckClass partitions validation checks by how they gate the close.
type CheckClass string

const (
	CheckCritical       CheckClass = "critical"       // blocks close
	CheckImportant      CheckClass = "important"      // warns, does not block
	CheckRecommendation CheckClass = "recommendation" // informational
)

// ValidationCheck is one named check result from the closing battery.
type ValidationCheck struct {
	Name   string     `json:"name"`
	Class  CheckClass `json:"class"`
	Passed bool       `json:"passed"`
	Detail string     `json:"detail"`
}

// ValidationReport is the full audit record of a closing validation run.
// The complete check list is persisted, not just the pass/fail summary.
type ValidationReport struct {
	CanClose        bool              `json:"can_close"`
	Checks          []ValidationCheck `json:"checks"`
	CriticalIssues  []string          `json:"critical_issues"`
	ImportantIssues []string          `json:"important_issues"`
	Recommendations []string          `json:"recommendations"`
	RanAt           time.Time         `json:"ran_at"`
}

// MonthEndClosing is the append-once-per-period record of a close attempt.
//
// STATE MACHINE: pending -> closed (terminal) or pending -> rejected
// (terminal, administrative abandonment). There is no closed -> pending
// transition in normal operation; Gate.Reopen is a documented
// administrative override.
type MonthEndClosing struct {
	ID                  string
	Year                int
	Month               time.Month
	Totals              ClosingTotals
	CriticalIssuesCount int
	Status              ClosingStatus
	TransactionsLocked  bool
	ClosedBy            string
	ClosedAt            *time.Time
	ApprovedBy          string
	ApprovedAt          *time.Time
	Notes               string
	Report              *ValidationReport
	CreatedAt           time.Time
}
