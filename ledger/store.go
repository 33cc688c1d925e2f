/*
store.go - Persistence interfaces between the engine and the record store

PURPOSE:
  Defines the contract the engine holds the record store to. The engine
  never caches ledger state across calls: every conditional mutation
  re-reads inside the same transaction as the write (read-check-write is
  one atomic unit from the store's perspective).

KEY INTERFACES:
  Store:       Everything - composed per-entity stores plus WithTx
  PeriodGuard: The single cross-cutting "period closed" policy check
  Notifier:    Outbound reminder/alert dispatch (external collaborator)

PERIOD-CLOSE ENFORCEMENT:
  Once a period is closed, every write path that would mutate a financial
  record dated within it must fail with ErrPeriodClosed. The closing gate
  defines the policy; implementations honor it inside each mutating
  operation via AssertOpen - one guard function, not a check duplicated
  across call sites.

CONCURRENCY CONTRACT:
  - Credit application is serializable per credit: status is re-checked
    inside the same transaction as the mutation, so two concurrent
    applications of the same credit cannot both succeed.
  - Closing is serializable per period: CloseIfPending is a compare-and-swap
    against status == pending.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (use ":memory:" in tests)

SEE ALSO:
  - errors.go: Sentinels implementations must return
  - store/sqlite/sqlite.go: Concrete implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// PER-ENTITY STORES
// =============================================================================

// CompanyStore resolves company references.
type CompanyStore interface {
	GetCompany(ctx context.Context, id CompanyID) (*Company, error)
	SaveCompany(ctx context.Context, c Company) error
}

// InvoiceFilter narrows invoice queries. Nil fields match everything.
type InvoiceFilter struct {
	CompanyID *CompanyID
	Status    *PaymentStatus
	DueBefore *time.Time
	Period    *Period // matched against the due date
}

type InvoiceStore interface {
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	// SaveInvoice inserts or updates. Fails with ErrPeriodClosed if the
	// invoice is dated within a closed period.
	SaveInvoice(ctx context.Context, inv Invoice) error
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)
}

// PaymentFilter narrows payment queries. Nil fields match everything.
type PaymentFilter struct {
	InvoiceID *InvoiceID
	Status    *PaymentState
	Period    *Period // matched against the payment date
}

type PaymentStore interface {
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	SavePayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
	// ListOrphanedPayments returns payments whose invoice reference does
	// not resolve. Consumed by the closing gate's integrity battery.
	ListOrphanedPayments(ctx context.Context) ([]Payment, error)
}

// AlertFilter narrows alert queries. Nil fields match everything.
type AlertFilter struct {
	Type      *AlertType
	Status    *AlertStatus
	Severity  *Severity
	CompanyID *CompanyID
	InvoiceID *InvoiceID
	PaymentID *PaymentID
}

type AlertStore interface {
	GetAlert(ctx context.Context, id AlertID) (*PaymentAlert, error)
	SaveAlert(ctx context.Context, a PaymentAlert) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]PaymentAlert, error)
	// DeleteAlert is the administrative override. Resolving is preferred.
	DeleteAlert(ctx context.Context, id AlertID) error
}

// CreditFilter narrows credit queries. Nil fields match everything.
type CreditFilter struct {
	CompanyID     *CompanyID
	Status        *CreditStatus
	ExpiresBefore *time.Time
}

type CreditStore interface {
	GetCredit(ctx context.Context, id CreditID) (*Credit, error)
	SaveCredit(ctx context.Context, c Credit) error
	ListCredits(ctx context.Context, f CreditFilter) ([]Credit, error)
	// DeleteCredit fails with ErrCreditLocked when status = applied.
	DeleteCredit(ctx context.Context, id CreditID) error
}

type ReconciliationStore interface {
	GetReconciliation(ctx context.Context, id string) (*BankReconciliation, error)
	// GetReconciliationForPeriod returns nil, nil when none exists.
	GetReconciliationForPeriod(ctx context.Context, p Period, account string) (*BankReconciliation, error)
	// CreateReconciliation fails with ErrDuplicatePeriod when a record for
	// the same (year, month, account) already exists.
	CreateReconciliation(ctx context.Context, r BankReconciliation) error
	// UpdateReconciliation fails with ErrReconciliationLocked when the
	// stored record is reconciled, unless the update is the explicit
	// un-reconcile transition (reconciled true -> false).
	UpdateReconciliation(ctx context.Context, r BankReconciliation) error
	ListReconciliations(ctx context.Context, p Period) ([]BankReconciliation, error)
}

type ClosingStore interface {
	// GetClosing returns nil, nil when no record exists for the period.
	GetClosing(ctx context.Context, p Period) (*MonthEndClosing, error)
	SaveClosing(ctx context.Context, c MonthEndClosing) error
	// CloseIfPending performs the one-way close as a compare-and-swap:
	// it succeeds only if no record exists for the period or the existing
	// record is pending. Returns ErrAlreadyClosed / ErrClosingRejected on
	// terminal records and ErrConcurrentModification when the swap loses
	// a race.
	CloseIfPending(ctx context.Context, c MonthEndClosing) error
}

// =============================================================================
// CROSS-CUTTING GUARDS
// =============================================================================

// PeriodGuard is the single closed-period policy check. Every mutating
// write path consults it with the record's effective date before touching
// the store.
type PeriodGuard interface {
	// AssertOpen returns a PeriodClosedError (unwrapping to
	// ErrPeriodClosed) when the period containing date is closed.
	AssertOpen(ctx context.Context, date time.Time) error
}

// =============================================================================
// STORE - Composed interface with transactional execution
// =============================================================================

// Store is the full contract the engine requires of the record store.
type Store interface {
	CompanyStore
	InvoiceStore
	PaymentStore
	AlertStore
	CreditStore
	ReconciliationStore
	ClosingStore
	PeriodGuard

	// WithTx executes fn atomically. If fn returns an error the whole
	// unit of work rolls back - no partial credit consumption, no partial
	// close. Reads inside fn observe writes made earlier in fn.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// NOTIFIER - Outbound dispatch (external collaborator)
// =============================================================================

// Notifier delivers alert notices and payment reminders. Delivery is
// best-effort from the engine's point of view: the engine records that a
// reminder was sent, never whether the recipient read it. Implementations
// live outside this module (email, webhook); tests use a fake.
type Notifier interface {
	SendAlertNotice(ctx context.Context, alert PaymentAlert) error
}

// Pointer helpers for building filters.

func CompanyIDPtr(id CompanyID) *CompanyID          { return &id }
func InvoiceIDPtr(id InvoiceID) *InvoiceID          { return &id }
func PaymentIDPtr(id PaymentID) *PaymentID          { return &id }
func StatusPtr(s PaymentStatus) *PaymentStatus      { return &s }
func PaymentStatePtr(s PaymentState) *PaymentState  { return &s }
func AlertTypePtr(t AlertType) *AlertType           { return &t }
func AlertStatusPtr(s AlertStatus) *AlertStatus     { return &s }
func SeverityPtr(s Severity) *Severity              { return &s }
func CreditStatusPtr(s CreditStatus) *CreditStatus  { return &s }
func TimePtr(t time.Time) *time.Time                { return &t }
func PeriodPtr(p Period) *Period                    { return &p }
