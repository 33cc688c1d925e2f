/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVENTIONS:
  - Monetary amounts are integer cents, except reconciliation balances
    which are decimal dollar strings ("1234.56")
  - Timestamps are RFC3339; dates are YYYY-MM-DD
  - as_of fields default to the current time when omitted; clients that
    need determinism (tests, replays) supply them explicitly

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/benefitbuilders/accounting-engine/ledger"
)

// =============================================================================
// COMPANY / INVOICE / PAYMENT
// =============================================================================

type CompanyDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateCompanyRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type InvoiceDTO struct {
	ID         string `json:"id"`
	CompanyID  string `json:"company_id"`
	Total      int64  `json:"total_cents"`
	AmountPaid int64  `json:"amount_paid_cents"`
	AmountDue  int64  `json:"amount_due_cents"`
	DueDate    string `json:"due_date"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type CreateInvoiceRequest struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Total     int64  `json:"total_cents"`
	DueDate   string `json:"due_date"`
}

type PaymentDTO struct {
	ID        string  `json:"id"`
	InvoiceID *string `json:"invoice_id,omitempty"`
	BillID    *string `json:"bill_id,omitempty"`
	Amount    int64   `json:"amount_cents"`
	Date      string  `json:"date"`
	Method    string  `json:"method"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at,omitempty"`
}

type CreatePaymentRequest struct {
	ID        string  `json:"id"`
	InvoiceID *string `json:"invoice_id,omitempty"`
	BillID    *string `json:"bill_id,omitempty"`
	Amount    int64   `json:"amount_cents"`
	Date      string  `json:"date"`
	Method    string  `json:"method"`
	Status    string  `json:"status"`
}

// RecordPaymentRequest drives the post-payment detection hook. Final
// marks the payment as the last expected one for its invoice this cycle,
// which arms underpayment detection.
type RecordPaymentRequest struct {
	Final bool       `json:"final"`
	AsOf  *time.Time `json:"as_of,omitempty"`
}

// =============================================================================
// ALERTS
// =============================================================================

type AlertDTO struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Severity        string  `json:"severity"`
	Status          string  `json:"status"`
	CompanyID       string  `json:"company_id"`
	InvoiceID       *string `json:"invoice_id,omitempty"`
	PaymentID       *string `json:"payment_id,omitempty"`
	CreditID        *string `json:"credit_id,omitempty"`
	Message         string  `json:"message"`
	ResolutionNotes string  `json:"resolution_notes,omitempty"`
	AcknowledgedBy  string  `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *string `json:"acknowledged_at,omitempty"`
	ResolvedBy      string  `json:"resolved_by,omitempty"`
	ResolvedAt      *string `json:"resolved_at,omitempty"`
	ReminderSentAt  *string `json:"reminder_sent_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

type DetectAlertsRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

type DetectAlertsResponse struct {
	Created int `json:"created"`
}

type AcknowledgeAlertRequest struct {
	Actor string `json:"actor"`
}

type ResolveAlertRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes"`
}

// =============================================================================
// CREDITS
// =============================================================================

type CreditDTO struct {
	ID                 string  `json:"id"`
	CompanyID          string  `json:"company_id"`
	Amount             int64   `json:"amount_cents"`
	Source             string  `json:"source"`
	Status             string  `json:"status"`
	SourceInvoiceID    *string `json:"source_invoice_id,omitempty"`
	AppliedToInvoiceID *string `json:"applied_to_invoice_id,omitempty"`
	ExpiresAt          string  `json:"expires_at"`
	Notes              string  `json:"notes,omitempty"`
	CreatedAt          string  `json:"created_at"`
}

type IssueCreditRequest struct {
	CompanyID     string     `json:"company_id"`
	Amount        int64      `json:"amount_cents"`
	Source        string     `json:"source"`
	SourceInvoice *string    `json:"source_invoice_id,omitempty"`
	ExpiresInDays int        `json:"expires_in_days,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
}

type ApplyCreditRequest struct {
	InvoiceID string     `json:"invoice_id"`
	AsOf      *time.Time `json:"as_of,omitempty"`
}

type ApplyCreditResponse struct {
	Applied int64 `json:"applied_cents"`
}

type ExpireCreditsRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

type ExpireCreditsResponse struct {
	Expired int `json:"expired"`
}

type CreditBalanceDTO struct {
	CompanyID string `json:"company_id"`
	Available int64  `json:"available_cents"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconciliationDTO carries decimal balances as strings to keep exact
// 2-place values across the wire.
type ReconciliationDTO struct {
	ID                   string  `json:"id"`
	Year                 int     `json:"year"`
	Month                int     `json:"month"`
	BankAccount          string  `json:"bank_account"`
	BeginningBookBalance string  `json:"beginning_book_balance"`
	EndingBookBalance    string  `json:"ending_book_balance"`
	EndingBankBalance    string  `json:"ending_bank_balance"`
	TotalDeposits        string  `json:"total_deposits"`
	TotalWithdrawals     string  `json:"total_withdrawals"`
	OutstandingChecks    string  `json:"outstanding_checks"`
	OutstandingDeposits  string  `json:"outstanding_deposits"`
	Adjustments          string  `json:"adjustments"`
	Difference           string  `json:"difference"`
	Reconciled           bool    `json:"reconciled"`
	ReconciledAt         *string `json:"reconciled_at,omitempty"`
	ReconciledBy         string  `json:"reconciled_by,omitempty"`
	Notes                string  `json:"notes,omitempty"`
	CreatedAt            string  `json:"created_at"`
}

type FiguresRequest struct {
	BeginningBookBalance string `json:"beginning_book_balance"`
	EndingBankBalance    string `json:"ending_bank_balance"`
	TotalDeposits        string `json:"total_deposits"`
	TotalWithdrawals     string `json:"total_withdrawals"`
	OutstandingChecks    string `json:"outstanding_checks"`
	OutstandingDeposits  string `json:"outstanding_deposits"`
	Adjustments          string `json:"adjustments"`
	Notes                string `json:"notes,omitempty"`
}

type CreateReconciliationRequest struct {
	Year        int            `json:"year"`
	Month       int            `json:"month"`
	BankAccount string         `json:"bank_account"`
	Figures     FiguresRequest `json:"figures"`
}

type MarkReconciledRequest struct {
	Actor string     `json:"actor"`
	At    *time.Time `json:"at,omitempty"`
}

// =============================================================================
// CLOSING
// =============================================================================

type ClosingDTO struct {
	ID                  string                   `json:"id"`
	Year                int                      `json:"year"`
	Month               int                      `json:"month"`
	Status              string                   `json:"status"`
	TransactionsLocked  bool                     `json:"transactions_locked"`
	CriticalIssuesCount int                      `json:"critical_issues_count"`
	Totals              ClosingTotalsDTO         `json:"totals"`
	ClosedBy            string                   `json:"closed_by,omitempty"`
	ClosedAt            *string                  `json:"closed_at,omitempty"`
	ApprovedBy          string                   `json:"approved_by,omitempty"`
	ApprovedAt          *string                  `json:"approved_at,omitempty"`
	Notes               string                   `json:"notes,omitempty"`
	Report              *ledger.ValidationReport `json:"validation_report,omitempty"`
	CreatedAt           string                   `json:"created_at"`
}

type ClosingTotalsDTO struct {
	PretaxDeductions int64 `json:"pretax_deductions_cents"`
	Fees             int64 `json:"fees_cents"`
	EmployerSavings  int64 `json:"employer_savings_cents"`
	EmployeeSavings  int64 `json:"employee_savings_cents"`
	AROpen           int64 `json:"ar_open_cents"`
	AROverdue        int64 `json:"ar_overdue_cents"`
	APOpen           int64 `json:"ap_open_cents"`
	APOverdue        int64 `json:"ap_overdue_cents"`
}

type CloseMonthEndRequest struct {
	Actor        string     `json:"actor"`
	Confirmation string     `json:"confirmation"`
	Notes        string     `json:"notes,omitempty"`
	At           *time.Time `json:"at,omitempty"`
}

type RejectMonthEndRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type ReopenMonthEndRequest struct {
	Actor string `json:"actor"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Issues  []string `json:"issues,omitempty"`
}
