/*
Package sqlite provides the SQLite-backed implementation of ledger.Store.

PURPOSE:
  Implements every persistence interface the engine requires (invoices,
  payments, alerts, credits, reconciliations, closings) plus the
  cross-cutting period-close guard. In production the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

PERIOD-CLOSE ENFORCEMENT:
  Every financial write path (invoice, payment, credit) calls assertOpen
  with the record's effective date before touching its table. Once a
  month-end closing exists with status = closed, those writes fail with
  ErrPeriodClosed. This is the store honoring the closing gate's policy -
  one guard, consulted everywhere, duplicated nowhere.

KEY TABLES:
  companies:            Reference targets for invoices/credits/alerts
  invoices:             AR records (integer cents)
  payments:             Immutable payment events
  payment_alerts:       Detector output + lifecycle stamps
  credits:              Credit ledger records
  bank_reconciliations: One per (year, month, account) - UNIQUE enforced
  month_end_closings:   One per (year, month) - UNIQUE enforced

UNIQUE CONSTRAINTS AS INVARIANTS:
  - idx_reconciliations_period backs ErrDuplicatePeriod
  - idx_closings_period backs append-once-per-period closings
  The compare-and-swap in CloseIfPending backs at-most-one close.

MONEY REPRESENTATION:
  Invoice/payment/credit amounts are INTEGER cents. Reconciliation
  balances are TEXT decimal strings (shopspring/decimal round-trips
  exactly); they are the one place decimal dollars appear.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole unit of work, so read-check-write sequences inside fn are atomic
  with respect to other store callers. With PostgreSQL, row locks would
  carry this contract instead.

WAL MODE:
  SQLite is opened with WAL and foreign keys on, as usual.

USAGE:
  store, err := sqlite.New("./data/accounting.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions and contracts
  - ledger/errors.go: Sentinels mapped from constraint violations
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/benefitbuilders/accounting-engine/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// queryer abstracts *sql.DB and *sql.Tx so the same data-access methods
// serve both direct calls and WithTx units of work.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and pooled
	// connections would each see a distinct ":memory:" database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		total INTEGER NOT NULL,
		amount_paid INTEGER NOT NULL DEFAULT 0,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_company ON invoices(company_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status_due ON invoices(status, due_date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		invoice_id TEXT,
		bill_id TEXT,
		amount INTEGER NOT NULL,
		date TEXT NOT NULL,
		method TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		-- Linked to an invoice OR a bill, never both
		CHECK (invoice_id IS NULL OR bill_id IS NULL)
	);

	CREATE INDEX IF NOT EXISTS idx_payments_invoice ON payments(invoice_id);
	CREATE INDEX IF NOT EXISTS idx_payments_status_date ON payments(status, date);

	CREATE TABLE IF NOT EXISTS payment_alerts (
		id TEXT PRIMARY KEY,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		company_id TEXT NOT NULL,
		invoice_id TEXT,
		payment_id TEXT,
		credit_id TEXT,
		message TEXT NOT NULL,
		resolution_notes TEXT,
		acknowledged_by TEXT,
		acknowledged_at TEXT,
		resolved_by TEXT,
		resolved_at TEXT,
		reminder_sent_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: "does an active alert of this type already exist for
	-- this invoice?" (detector dedup check)
	CREATE INDEX IF NOT EXISTS idx_alerts_invoice_type_status
		ON payment_alerts(invoice_id, alert_type, status);
	CREATE INDEX IF NOT EXISTS idx_alerts_payment
		ON payment_alerts(payment_id) WHERE payment_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_alerts_company_status
		ON payment_alerts(company_id, status);

	CREATE TABLE IF NOT EXISTS credits (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		source_invoice_id TEXT,
		applied_to_invoice_id TEXT,
		expires_at TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credits_company_status ON credits(company_id, status);
	CREATE INDEX IF NOT EXISTS idx_credits_status_expiry ON credits(status, expires_at);

	CREATE TABLE IF NOT EXISTS bank_reconciliations (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		bank_account TEXT NOT NULL,
		beginning_book_balance TEXT NOT NULL,
		ending_book_balance TEXT NOT NULL,
		ending_bank_balance TEXT NOT NULL,
		total_deposits TEXT NOT NULL,
		total_withdrawals TEXT NOT NULL,
		outstanding_checks TEXT NOT NULL,
		outstanding_deposits TEXT NOT NULL,
		adjustments TEXT NOT NULL,
		difference TEXT NOT NULL,
		reconciled BOOLEAN NOT NULL DEFAULT FALSE,
		reconciled_at TEXT,
		reconciled_by TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one reconciliation per (period, account)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reconciliations_period
		ON bank_reconciliations(year, month, bank_account);

	CREATE TABLE IF NOT EXISTS month_end_closings (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		pretax_deductions INTEGER NOT NULL DEFAULT 0,
		fees INTEGER NOT NULL DEFAULT 0,
		employer_savings INTEGER NOT NULL DEFAULT 0,
		employee_savings INTEGER NOT NULL DEFAULT 0,
		ar_open INTEGER NOT NULL DEFAULT 0,
		ar_overdue INTEGER NOT NULL DEFAULT 0,
		ap_open INTEGER NOT NULL DEFAULT 0,
		ap_overdue INTEGER NOT NULL DEFAULT 0,
		critical_issues_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		transactions_locked BOOLEAN NOT NULL DEFAULT FALSE,
		closed_by TEXT,
		closed_at TEXT,
		approved_by TEXT,
		approved_at TEXT,
		notes TEXT,
		report_json TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: closings are append-once per period
	CREATE UNIQUE INDEX IF NOT EXISTS idx_closings_period
		ON month_end_closings(year, month);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PERIOD GUARD (ledger.PeriodGuard interface)
// =============================================================================

// AssertOpen fails with a PeriodClosedError when the period containing
// date has a closed month-end record.
func (s *Store) AssertOpen(ctx context.Context, date time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assertOpen(ctx, s.db, date)
}

func (s *Store) assertOpen(ctx context.Context, q queryer, date time.Time) error {
	p := ledger.PeriodOf(date)

	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM month_end_closings
		 WHERE year = ? AND month = ? AND status = ?`,
		p.Year, int(p.Month), ledger.ClosingClosed,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check period status: %w", err)
	}
	if count > 0 {
		return &ledger.PeriodClosedError{Period: p, Date: date}
	}
	return nil
}

// =============================================================================
// COMPANY STORE
// =============================================================================

func (s *Store) GetCompany(ctx context.Context, id ledger.CompanyID) (*ledger.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCompany(ctx, s.db, id)
}

func (s *Store) getCompany(ctx context.Context, q queryer, id ledger.CompanyID) (*ledger.Company, error) {
	var c ledger.Company
	var createdAt string

	err := q.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM companies WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrUnknownCompany
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (s *Store) SaveCompany(ctx context.Context, c ledger.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCompany(ctx, s.db, c)
}

func (s *Store) saveCompany(ctx context.Context, q queryer, c ledger.Company) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO companies (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name, formatTime(orNow(c.CreatedAt)),
	)
	return err
}

// =============================================================================
// INVOICE STORE
// =============================================================================

func (s *Store) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getInvoice(ctx, s.db, id)
}

func (s *Store) getInvoice(ctx context.Context, q queryer, id ledger.InvoiceID) (*ledger.Invoice, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, company_id, total, amount_paid, due_date, status, created_at
		FROM invoices WHERE id = ?`, id)

	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) SaveInvoice(ctx context.Context, inv ledger.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveInvoice(ctx, s.db, inv)
}

func (s *Store) saveInvoice(ctx context.Context, q queryer, inv ledger.Invoice) error {
	// Invoices belong to the period of their due date.
	if err := s.assertOpen(ctx, q, inv.DueDate); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO invoices (id, company_id, total, amount_paid, due_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total = excluded.total,
			amount_paid = excluded.amount_paid,
			due_date = excluded.due_date,
			status = excluded.status`,
		inv.ID, inv.CompanyID, int64(inv.Total), int64(inv.AmountPaid),
		formatTime(inv.DueDate), inv.Status, formatTime(orNow(inv.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

func (s *Store) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listInvoices(ctx, s.db, f)
}

func (s *Store) listInvoices(ctx context.Context, q queryer, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	query := `
		SELECT id, company_id, total, amount_paid, due_date, status, created_at
		FROM invoices WHERE 1=1`
	var args []any

	if f.CompanyID != nil {
		query += " AND company_id = ?"
		args = append(args, *f.CompanyID)
	}
	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.DueBefore != nil {
		query += " AND due_date < ?"
		args = append(args, formatTime(*f.DueBefore))
	}
	if f.Period != nil {
		query += " AND due_date >= ? AND due_date <= ?"
		args = append(args, formatTime(f.Period.Start()), formatTime(f.Period.End()))
	}
	query += " ORDER BY due_date ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []ledger.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (*ledger.Invoice, error) {
	var inv ledger.Invoice
	var total, amountPaid int64
	var dueDate, createdAt string

	err := row.Scan(&inv.ID, &inv.CompanyID, &total, &amountPaid, &dueDate, &inv.Status, &createdAt)
	if err != nil {
		return nil, err
	}
	inv.Total = ledger.Cents(total)
	inv.AmountPaid = ledger.Cents(amountPaid)
	inv.DueDate = parseTime(dueDate)
	inv.CreatedAt = parseTime(createdAt)
	return &inv, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (s *Store) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPayment(ctx, s.db, id)
}

func (s *Store) getPayment(ctx context.Context, q queryer, id ledger.PaymentID) (*ledger.Payment, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, invoice_id, bill_id, amount, date, method, status, created_at
		FROM payments WHERE id = ?`, id)

	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) SavePayment(ctx context.Context, p ledger.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePayment(ctx, s.db, p)
}

func (s *Store) savePayment(ctx context.Context, q queryer, p ledger.Payment) error {
	if err := s.assertOpen(ctx, q, p.Date); err != nil {
		return err
	}

	var invoiceID, billID sql.NullString
	if p.InvoiceID != nil {
		invoiceID = sql.NullString{String: string(*p.InvoiceID), Valid: true}
	}
	if p.BillID != nil {
		billID = sql.NullString{String: *p.BillID, Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, bill_id, amount, date, method, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		p.ID, invoiceID, billID, int64(p.Amount),
		formatTime(p.Date), p.Method, p.Status, formatTime(orNow(p.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPayments(ctx, s.db, f)
}

func (s *Store) listPayments(ctx context.Context, q queryer, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	query := `
		SELECT id, invoice_id, bill_id, amount, date, method, status, created_at
		FROM payments WHERE 1=1`
	var args []any

	if f.InvoiceID != nil {
		query += " AND invoice_id = ?"
		args = append(args, *f.InvoiceID)
	}
	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.Period != nil {
		query += " AND date >= ? AND date <= ?"
		args = append(args, formatTime(f.Period.Start()), formatTime(f.Period.End()))
	}
	query += " ORDER BY date ASC, id ASC"

	return s.queryPayments(ctx, q, query, args...)
}

// ListOrphanedPayments returns payments whose invoice link no longer
// resolves. Feeds the closing gate's integrity battery.
func (s *Store) ListOrphanedPayments(ctx context.Context) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrphanedPayments(ctx, s.db)
}

func (s *Store) listOrphanedPayments(ctx context.Context, q queryer) ([]ledger.Payment, error) {
	query := `
		SELECT p.id, p.invoice_id, p.bill_id, p.amount, p.date, p.method, p.status, p.created_at
		FROM payments p
		LEFT JOIN invoices i ON i.id = p.invoice_id
		WHERE p.invoice_id IS NOT NULL AND i.id IS NULL
		ORDER BY p.date ASC`

	return s.queryPayments(ctx, q, query)
}

func (s *Store) queryPayments(ctx context.Context, q queryer, query string, args ...any) ([]ledger.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (*ledger.Payment, error) {
	var p ledger.Payment
	var invoiceID, billID, method sql.NullString
	var amount int64
	var date, createdAt string

	err := row.Scan(&p.ID, &invoiceID, &billID, &amount, &date, &method, &p.Status, &createdAt)
	if err != nil {
		return nil, err
	}
	if invoiceID.Valid {
		id := ledger.InvoiceID(invoiceID.String)
		p.InvoiceID = &id
	}
	if billID.Valid {
		p.BillID = &billID.String
	}
	p.Amount = ledger.Cents(amount)
	p.Date = parseTime(date)
	p.Method = method.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// ALERT STORE
// =============================================================================

func (s *Store) GetAlert(ctx context.Context, id ledger.AlertID) (*ledger.PaymentAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAlert(ctx, s.db, id)
}

func (s *Store) getAlert(ctx context.Context, q queryer, id ledger.AlertID) (*ledger.PaymentAlert, error) {
	row := q.QueryRowContext(ctx, alertColumns+" FROM payment_alerts WHERE id = ?", id)

	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) SaveAlert(ctx context.Context, a ledger.PaymentAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAlert(ctx, s.db, a)
}

func (s *Store) saveAlert(ctx context.Context, q queryer, a ledger.PaymentAlert) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payment_alerts
		(id, alert_type, severity, status, company_id, invoice_id, payment_id, credit_id,
		 message, resolution_notes, acknowledged_by, acknowledged_at,
		 resolved_by, resolved_at, reminder_sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolution_notes = excluded.resolution_notes,
			acknowledged_by = excluded.acknowledged_by,
			acknowledged_at = excluded.acknowledged_at,
			resolved_by = excluded.resolved_by,
			resolved_at = excluded.resolved_at,
			reminder_sent_at = excluded.reminder_sent_at`,
		a.ID, a.Type, a.Severity, a.Status, a.CompanyID,
		nullInvoiceID(a.InvoiceID), nullPaymentID(a.PaymentID), nullCreditID(a.CreditID),
		a.Message, nullString(a.ResolutionNotes),
		nullString(a.AcknowledgedBy), nullTime(a.AcknowledgedAt),
		nullString(a.ResolvedBy), nullTime(a.ResolvedAt),
		nullTime(a.ReminderSentAt), formatTime(orNow(a.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, f ledger.AlertFilter) ([]ledger.PaymentAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAlerts(ctx, s.db, f)
}

func (s *Store) listAlerts(ctx context.Context, q queryer, f ledger.AlertFilter) ([]ledger.PaymentAlert, error) {
	query := alertColumns + " FROM payment_alerts WHERE 1=1"
	var args []any

	if f.Type != nil {
		query += " AND alert_type = ?"
		args = append(args, *f.Type)
	}
	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.Severity != nil {
		query += " AND severity = ?"
		args = append(args, *f.Severity)
	}
	if f.CompanyID != nil {
		query += " AND company_id = ?"
		args = append(args, *f.CompanyID)
	}
	if f.InvoiceID != nil {
		query += " AND invoice_id = ?"
		args = append(args, *f.InvoiceID)
	}
	if f.PaymentID != nil {
		query += " AND payment_id = ?"
		args = append(args, *f.PaymentID)
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []ledger.PaymentAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *Store) DeleteAlert(ctx context.Context, id ledger.AlertID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteAlert(ctx, s.db, id)
}

func (s *Store) deleteAlert(ctx context.Context, q queryer, id ledger.AlertID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM payment_alerts WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrAlertNotFound
	}
	return nil
}

const alertColumns = `
	SELECT id, alert_type, severity, status, company_id, invoice_id, payment_id, credit_id,
	       message, resolution_notes, acknowledged_by, acknowledged_at,
	       resolved_by, resolved_at, reminder_sent_at, created_at`

func scanAlert(row scanner) (*ledger.PaymentAlert, error) {
	var a ledger.PaymentAlert
	var invoiceID, paymentID, creditID sql.NullString
	var resolutionNotes, acknowledgedBy, resolvedBy sql.NullString
	var acknowledgedAt, resolvedAt, reminderSentAt sql.NullString
	var createdAt string

	err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.Status, &a.CompanyID,
		&invoiceID, &paymentID, &creditID,
		&a.Message, &resolutionNotes, &acknowledgedBy, &acknowledgedAt,
		&resolvedBy, &resolvedAt, &reminderSentAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if invoiceID.Valid {
		id := ledger.InvoiceID(invoiceID.String)
		a.InvoiceID = &id
	}
	if paymentID.Valid {
		id := ledger.PaymentID(paymentID.String)
		a.PaymentID = &id
	}
	if creditID.Valid {
		id := ledger.CreditID(creditID.String)
		a.CreditID = &id
	}
	a.ResolutionNotes = resolutionNotes.String
	a.AcknowledgedBy = acknowledgedBy.String
	a.ResolvedBy = resolvedBy.String
	a.AcknowledgedAt = parseNullTime(acknowledgedAt)
	a.ResolvedAt = parseNullTime(resolvedAt)
	a.ReminderSentAt = parseNullTime(reminderSentAt)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// =============================================================================
// CREDIT STORE
// =============================================================================

func (s *Store) GetCredit(ctx context.Context, id ledger.CreditID) (*ledger.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCredit(ctx, s.db, id)
}

func (s *Store) getCredit(ctx context.Context, q queryer, id ledger.CreditID) (*ledger.Credit, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, company_id, amount, source, status, source_invoice_id,
		       applied_to_invoice_id, expires_at, notes, created_at
		FROM credits WHERE id = ?`, id)

	c, err := scanCredit(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrCreditNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) SaveCredit(ctx context.Context, c ledger.Credit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCredit(ctx, s.db, c)
}

func (s *Store) saveCredit(ctx context.Context, q queryer, c ledger.Credit) error {
	// The guard applies to issuance only: a new credit is a financial
	// record of the period it was issued in. Lifecycle transitions of an
	// existing credit (apply, expire) are events of the period they happen
	// in, so closing the issue period does not freeze them.
	if _, err := s.getCredit(ctx, q, c.ID); err == ledger.ErrCreditNotFound {
		if err := s.assertOpen(ctx, q, orNow(c.CreatedAt)); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO credits
		(id, company_id, amount, source, status, source_invoice_id,
		 applied_to_invoice_id, expires_at, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			status = excluded.status,
			applied_to_invoice_id = excluded.applied_to_invoice_id,
			expires_at = excluded.expires_at,
			notes = excluded.notes`,
		c.ID, c.CompanyID, int64(c.Amount), c.Source, c.Status,
		nullInvoiceID(c.SourceInvoiceID), nullInvoiceID(c.AppliedToInvoiceID),
		formatTime(c.ExpiresAt), nullString(c.Notes), formatTime(orNow(c.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to save credit: %w", err)
	}
	return nil
}

func (s *Store) ListCredits(ctx context.Context, f ledger.CreditFilter) ([]ledger.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listCredits(ctx, s.db, f)
}

func (s *Store) listCredits(ctx context.Context, q queryer, f ledger.CreditFilter) ([]ledger.Credit, error) {
	query := `
		SELECT id, company_id, amount, source, status, source_invoice_id,
		       applied_to_invoice_id, expires_at, notes, created_at
		FROM credits WHERE 1=1`
	var args []any

	if f.CompanyID != nil {
		query += " AND company_id = ?"
		args = append(args, *f.CompanyID)
	}
	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.ExpiresBefore != nil {
		query += " AND expires_at < ?"
		args = append(args, formatTime(*f.ExpiresBefore))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	defer rows.Close()

	var credits []ledger.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		credits = append(credits, *c)
	}
	return credits, rows.Err()
}

func (s *Store) DeleteCredit(ctx context.Context, id ledger.CreditID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteCredit(ctx, s.db, id)
}

func (s *Store) deleteCredit(ctx context.Context, q queryer, id ledger.CreditID) error {
	c, err := s.getCredit(ctx, q, id)
	if err != nil {
		return err
	}
	if c.Status == ledger.CreditApplied {
		return ledger.ErrCreditLocked
	}
	if err := s.assertOpen(ctx, q, c.CreatedAt); err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, "DELETE FROM credits WHERE id = ?", id)
	return err
}

func scanCredit(row scanner) (*ledger.Credit, error) {
	var c ledger.Credit
	var amount int64
	var sourceInvoiceID, appliedToInvoiceID, notes sql.NullString
	var expiresAt, createdAt string

	err := row.Scan(&c.ID, &c.CompanyID, &amount, &c.Source, &c.Status,
		&sourceInvoiceID, &appliedToInvoiceID, &expiresAt, &notes, &createdAt)
	if err != nil {
		return nil, err
	}

	c.Amount = ledger.Cents(amount)
	if sourceInvoiceID.Valid {
		id := ledger.InvoiceID(sourceInvoiceID.String)
		c.SourceInvoiceID = &id
	}
	if appliedToInvoiceID.Valid {
		id := ledger.InvoiceID(appliedToInvoiceID.String)
		c.AppliedToInvoiceID = &id
	}
	c.ExpiresAt = parseTime(expiresAt)
	c.Notes = notes.String
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// =============================================================================
// RECONCILIATION STORE
// =============================================================================

func (s *Store) GetReconciliation(ctx context.Context, id string) (*ledger.BankReconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getReconciliation(ctx, s.db, id)
}

func (s *Store) getReconciliation(ctx context.Context, q queryer, id string) (*ledger.BankReconciliation, error) {
	row := q.QueryRowContext(ctx, reconciliationColumns+" FROM bank_reconciliations WHERE id = ?", id)

	r, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrReconciliationNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) GetReconciliationForPeriod(ctx context.Context, p ledger.Period, account string) (*ledger.BankReconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getReconciliationForPeriod(ctx, s.db, p, account)
}

func (s *Store) getReconciliationForPeriod(ctx context.Context, q queryer, p ledger.Period, account string) (*ledger.BankReconciliation, error) {
	row := q.QueryRowContext(ctx,
		reconciliationColumns+` FROM bank_reconciliations
		WHERE year = ? AND month = ? AND bank_account = ?`,
		p.Year, int(p.Month), account)

	r, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) CreateReconciliation(ctx context.Context, r ledger.BankReconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createReconciliation(ctx, s.db, r)
}

func (s *Store) createReconciliation(ctx context.Context, q queryer, r ledger.BankReconciliation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bank_reconciliations
		(id, year, month, bank_account, beginning_book_balance, ending_book_balance,
		 ending_bank_balance, total_deposits, total_withdrawals, outstanding_checks,
		 outstanding_deposits, adjustments, difference, reconciled, reconciled_at,
		 reconciled_by, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Year, int(r.Month), r.BankAccount,
		r.BeginningBookBalance.String(), r.EndingBookBalance.String(),
		r.EndingBankBalance.String(), r.TotalDeposits.String(),
		r.TotalWithdrawals.String(), r.OutstandingChecks.String(),
		r.OutstandingDeposits.String(), r.Adjustments.String(), r.Difference.String(),
		r.Reconciled, nullTime(r.ReconciledAt), nullString(r.ReconciledBy),
		nullString(r.Notes), formatTime(orNow(r.CreatedAt)),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicatePeriod
		}
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}
	return nil
}

func (s *Store) UpdateReconciliation(ctx context.Context, r ledger.BankReconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateReconciliation(ctx, s.db, r)
}

func (s *Store) updateReconciliation(ctx context.Context, q queryer, r ledger.BankReconciliation) error {
	stored, err := s.getReconciliation(ctx, q, r.ID)
	if err != nil {
		return err
	}
	// Once reconciled, only the explicit un-reconcile transition is allowed.
	if stored.Reconciled && r.Reconciled {
		return ledger.ErrReconciliationLocked
	}

	_, err = q.ExecContext(ctx, `
		UPDATE bank_reconciliations SET
			beginning_book_balance = ?, ending_book_balance = ?, ending_bank_balance = ?,
			total_deposits = ?, total_withdrawals = ?, outstanding_checks = ?,
			outstanding_deposits = ?, adjustments = ?, difference = ?,
			reconciled = ?, reconciled_at = ?, reconciled_by = ?, notes = ?
		WHERE id = ?`,
		r.BeginningBookBalance.String(), r.EndingBookBalance.String(),
		r.EndingBankBalance.String(), r.TotalDeposits.String(),
		r.TotalWithdrawals.String(), r.OutstandingChecks.String(),
		r.OutstandingDeposits.String(), r.Adjustments.String(), r.Difference.String(),
		r.Reconciled, nullTime(r.ReconciledAt), nullString(r.ReconciledBy),
		nullString(r.Notes), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reconciliation: %w", err)
	}
	return nil
}

func (s *Store) ListReconciliations(ctx context.Context, p ledger.Period) ([]ledger.BankReconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listReconciliations(ctx, s.db, p)
}

func (s *Store) listReconciliations(ctx context.Context, q queryer, p ledger.Period) ([]ledger.BankReconciliation, error) {
	rows, err := q.QueryContext(ctx,
		reconciliationColumns+` FROM bank_reconciliations
		WHERE year = ? AND month = ? ORDER BY bank_account ASC`,
		p.Year, int(p.Month))
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliations: %w", err)
	}
	defer rows.Close()

	var recs []ledger.BankReconciliation
	for rows.Next() {
		r, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, rows.Err()
}

const reconciliationColumns = `
	SELECT id, year, month, bank_account, beginning_book_balance, ending_book_balance,
	       ending_bank_balance, total_deposits, total_withdrawals, outstanding_checks,
	       outstanding_deposits, adjustments, difference, reconciled, reconciled_at,
	       reconciled_by, notes, created_at`

func scanReconciliation(row scanner) (*ledger.BankReconciliation, error) {
	var r ledger.BankReconciliation
	var month int
	var begin, endBook, endBank, deposits, withdrawals, checks, outDeposits, adjustments, difference string
	var reconciledAt, reconciledBy, notes sql.NullString
	var createdAt string

	err := row.Scan(&r.ID, &r.Year, &month, &r.BankAccount,
		&begin, &endBook, &endBank, &deposits, &withdrawals, &checks,
		&outDeposits, &adjustments, &difference, &r.Reconciled,
		&reconciledAt, &reconciledBy, &notes, &createdAt)
	if err != nil {
		return nil, err
	}

	r.Month = time.Month(month)
	r.BeginningBookBalance = mustDecimal(begin)
	r.EndingBookBalance = mustDecimal(endBook)
	r.EndingBankBalance = mustDecimal(endBank)
	r.TotalDeposits = mustDecimal(deposits)
	r.TotalWithdrawals = mustDecimal(withdrawals)
	r.OutstandingChecks = mustDecimal(checks)
	r.OutstandingDeposits = mustDecimal(outDeposits)
	r.Adjustments = mustDecimal(adjustments)
	r.Difference = mustDecimal(difference)
	r.ReconciledAt = parseNullTime(reconciledAt)
	r.ReconciledBy = reconciledBy.String
	r.Notes = notes.String
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// =============================================================================
// CLOSING STORE
// =============================================================================

func (s *Store) GetClosing(ctx context.Context, p ledger.Period) (*ledger.MonthEndClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getClosing(ctx, s.db, p)
}

func (s *Store) getClosing(ctx context.Context, q queryer, p ledger.Period) (*ledger.MonthEndClosing, error) {
	row := q.QueryRowContext(ctx,
		closingColumns+" FROM month_end_closings WHERE year = ? AND month = ?",
		p.Year, int(p.Month))

	c, err := scanClosing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) SaveClosing(ctx context.Context, c ledger.MonthEndClosing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveClosing(ctx, s.db, c)
}

func (s *Store) saveClosing(ctx context.Context, q queryer, c ledger.MonthEndClosing) error {
	reportJSON, err := marshalReport(c.Report)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO month_end_closings
		(id, year, month, pretax_deductions, fees, employer_savings, employee_savings,
		 ar_open, ar_overdue, ap_open, ap_overdue, critical_issues_count, status,
		 transactions_locked, closed_by, closed_at, approved_by, approved_at,
		 notes, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(year, month) DO UPDATE SET
			pretax_deductions = excluded.pretax_deductions,
			fees = excluded.fees,
			employer_savings = excluded.employer_savings,
			employee_savings = excluded.employee_savings,
			ar_open = excluded.ar_open,
			ar_overdue = excluded.ar_overdue,
			ap_open = excluded.ap_open,
			ap_overdue = excluded.ap_overdue,
			critical_issues_count = excluded.critical_issues_count,
			status = excluded.status,
			transactions_locked = excluded.transactions_locked,
			closed_by = excluded.closed_by,
			closed_at = excluded.closed_at,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			notes = excluded.notes,
			report_json = excluded.report_json`,
		closingArgs(c, reportJSON)...,
	)
	if err != nil {
		return fmt.Errorf("failed to save closing: %w", err)
	}
	return nil
}

// CloseIfPending performs the one-way close as a compare-and-swap against
// status = pending. At most one close can ever succeed for a period.
func (s *Store) CloseIfPending(ctx context.Context, c ledger.MonthEndClosing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeIfPending(ctx, s.db, c)
}

func (s *Store) closeIfPending(ctx context.Context, q queryer, c ledger.MonthEndClosing) error {
	p := ledger.Period{Year: c.Year, Month: c.Month}

	var status ledger.ClosingStatus
	err := q.QueryRowContext(ctx,
		"SELECT status FROM month_end_closings WHERE year = ? AND month = ?",
		p.Year, int(p.Month),
	).Scan(&status)

	switch {
	case err == sql.ErrNoRows:
		// No record yet: the insert itself is the swap. The unique index
		// on (year, month) loses any race to a concurrent insert.
		reportJSON, merr := marshalReport(c.Report)
		if merr != nil {
			return merr
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO month_end_closings
			(id, year, month, pretax_deductions, fees, employer_savings, employee_savings,
			 ar_open, ar_overdue, ap_open, ap_overdue, critical_issues_count, status,
			 transactions_locked, closed_by, closed_at, approved_by, approved_at,
			 notes, report_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			closingArgs(c, reportJSON)...,
		)
		if isUniqueConstraintError(err) {
			return ledger.ErrConcurrentModification
		}
		return err

	case err != nil:
		return fmt.Errorf("failed to read closing status: %w", err)

	case status == ledger.ClosingClosed:
		return ledger.ErrAlreadyClosed

	case status == ledger.ClosingRejected:
		return ledger.ErrClosingRejected
	}

	reportJSON, err := marshalReport(c.Report)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `
		UPDATE month_end_closings SET
			pretax_deductions = ?, fees = ?, employer_savings = ?, employee_savings = ?,
			ar_open = ?, ar_overdue = ?, ap_open = ?, ap_overdue = ?,
			critical_issues_count = ?, status = ?, transactions_locked = ?,
			closed_by = ?, closed_at = ?, approved_by = ?, approved_at = ?,
			notes = ?, report_json = ?
		WHERE year = ? AND month = ? AND status = ?`,
		int64(c.Totals.PretaxDeductions), int64(c.Totals.Fees),
		int64(c.Totals.EmployerSavings), int64(c.Totals.EmployeeSavings),
		int64(c.Totals.AROpen), int64(c.Totals.AROverdue),
		int64(c.Totals.APOpen), int64(c.Totals.APOverdue),
		c.CriticalIssuesCount, c.Status, c.TransactionsLocked,
		nullString(c.ClosedBy), nullTime(c.ClosedAt),
		nullString(c.ApprovedBy), nullTime(c.ApprovedAt),
		nullString(c.Notes), reportJSON,
		p.Year, int(p.Month), ledger.ClosingPending,
	)
	if err != nil {
		return fmt.Errorf("failed to close period: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Someone else won the race between our read and this write.
		return ledger.ErrConcurrentModification
	}
	return nil
}

const closingColumns = `
	SELECT id, year, month, pretax_deductions, fees, employer_savings, employee_savings,
	       ar_open, ar_overdue, ap_open, ap_overdue, critical_issues_count, status,
	       transactions_locked, closed_by, closed_at, approved_by, approved_at,
	       notes, report_json, created_at`

func closingArgs(c ledger.MonthEndClosing, reportJSON sql.NullString) []any {
	return []any{
		c.ID, c.Year, int(c.Month),
		int64(c.Totals.PretaxDeductions), int64(c.Totals.Fees),
		int64(c.Totals.EmployerSavings), int64(c.Totals.EmployeeSavings),
		int64(c.Totals.AROpen), int64(c.Totals.AROverdue),
		int64(c.Totals.APOpen), int64(c.Totals.APOverdue),
		c.CriticalIssuesCount, c.Status, c.TransactionsLocked,
		nullString(c.ClosedBy), nullTime(c.ClosedAt),
		nullString(c.ApprovedBy), nullTime(c.ApprovedAt),
		nullString(c.Notes), reportJSON, formatTime(orNow(c.CreatedAt)),
	}
}

func marshalReport(r *ledger.ValidationReport) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal validation report: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanClosing(row scanner) (*ledger.MonthEndClosing, error) {
	var c ledger.MonthEndClosing
	var month int
	var pretax, fees, employerSavings, employeeSavings, arOpen, arOverdue, apOpen, apOverdue int64
	var closedBy, approvedBy, notes, reportJSON sql.NullString
	var closedAt, approvedAt sql.NullString
	var createdAt string

	err := row.Scan(&c.ID, &c.Year, &month,
		&pretax, &fees, &employerSavings, &employeeSavings,
		&arOpen, &arOverdue, &apOpen, &apOverdue,
		&c.CriticalIssuesCount, &c.Status, &c.TransactionsLocked,
		&closedBy, &closedAt, &approvedBy, &approvedAt,
		&notes, &reportJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	c.Month = time.Month(month)
	c.Totals = ledger.ClosingTotals{
		PretaxDeductions: ledger.Cents(pretax),
		Fees:             ledger.Cents(fees),
		EmployerSavings:  ledger.Cents(employerSavings),
		EmployeeSavings:  ledger.Cents(employeeSavings),
		AROpen:           ledger.Cents(arOpen),
		AROverdue:        ledger.Cents(arOverdue),
		APOpen:           ledger.Cents(apOpen),
		APOverdue:        ledger.Cents(apOverdue),
	}
	c.ClosedBy = closedBy.String
	c.ApprovedBy = approvedBy.String
	c.Notes = notes.String
	c.ClosedAt = parseNullTime(closedAt)
	c.ApprovedAt = parseNullTime(approvedAt)
	c.CreatedAt = parseTime(createdAt)

	if reportJSON.Valid && reportJSON.String != "" {
		var report ledger.ValidationReport
		if err := json.Unmarshal([]byte(reportJSON.String), &report); err == nil {
			c.Report = &report
		}
	}
	return &c, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.Store.WithTx)
// =============================================================================

// WithTx executes fn within a database transaction. The store's write lock
// is held for the duration, so read-check-write sequences inside fn are
// serialized against all other callers.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every call through the parent's data-access methods with
// the open *sql.Tx as the queryer. Nested WithTx reuses the same tx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) AssertOpen(ctx context.Context, date time.Time) error {
	return ts.parent.assertOpen(ctx, ts.tx, date)
}

func (ts *txStore) GetCompany(ctx context.Context, id ledger.CompanyID) (*ledger.Company, error) {
	return ts.parent.getCompany(ctx, ts.tx, id)
}

func (ts *txStore) SaveCompany(ctx context.Context, c ledger.Company) error {
	return ts.parent.saveCompany(ctx, ts.tx, c)
}

func (ts *txStore) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return ts.parent.getInvoice(ctx, ts.tx, id)
}

func (ts *txStore) SaveInvoice(ctx context.Context, inv ledger.Invoice) error {
	return ts.parent.saveInvoice(ctx, ts.tx, inv)
}

func (ts *txStore) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	return ts.parent.listInvoices(ctx, ts.tx, f)
}

func (ts *txStore) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return ts.parent.getPayment(ctx, ts.tx, id)
}

func (ts *txStore) SavePayment(ctx context.Context, p ledger.Payment) error {
	return ts.parent.savePayment(ctx, ts.tx, p)
}

func (ts *txStore) ListPayments(ctx context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	return ts.parent.listPayments(ctx, ts.tx, f)
}

func (ts *txStore) ListOrphanedPayments(ctx context.Context) ([]ledger.Payment, error) {
	return ts.parent.listOrphanedPayments(ctx, ts.tx)
}

func (ts *txStore) GetAlert(ctx context.Context, id ledger.AlertID) (*ledger.PaymentAlert, error) {
	return ts.parent.getAlert(ctx, ts.tx, id)
}

func (ts *txStore) SaveAlert(ctx context.Context, a ledger.PaymentAlert) error {
	return ts.parent.saveAlert(ctx, ts.tx, a)
}

func (ts *txStore) ListAlerts(ctx context.Context, f ledger.AlertFilter) ([]ledger.PaymentAlert, error) {
	return ts.parent.listAlerts(ctx, ts.tx, f)
}

func (ts *txStore) DeleteAlert(ctx context.Context, id ledger.AlertID) error {
	return ts.parent.deleteAlert(ctx, ts.tx, id)
}

func (ts *txStore) GetCredit(ctx context.Context, id ledger.CreditID) (*ledger.Credit, error) {
	return ts.parent.getCredit(ctx, ts.tx, id)
}

func (ts *txStore) SaveCredit(ctx context.Context, c ledger.Credit) error {
	return ts.parent.saveCredit(ctx, ts.tx, c)
}

func (ts *txStore) ListCredits(ctx context.Context, f ledger.CreditFilter) ([]ledger.Credit, error) {
	return ts.parent.listCredits(ctx, ts.tx, f)
}

func (ts *txStore) DeleteCredit(ctx context.Context, id ledger.CreditID) error {
	return ts.parent.deleteCredit(ctx, ts.tx, id)
}

func (ts *txStore) GetReconciliation(ctx context.Context, id string) (*ledger.BankReconciliation, error) {
	return ts.parent.getReconciliation(ctx, ts.tx, id)
}

func (ts *txStore) GetReconciliationForPeriod(ctx context.Context, p ledger.Period, account string) (*ledger.BankReconciliation, error) {
	return ts.parent.getReconciliationForPeriod(ctx, ts.tx, p, account)
}

func (ts *txStore) CreateReconciliation(ctx context.Context, r ledger.BankReconciliation) error {
	return ts.parent.createReconciliation(ctx, ts.tx, r)
}

func (ts *txStore) UpdateReconciliation(ctx context.Context, r ledger.BankReconciliation) error {
	return ts.parent.updateReconciliation(ctx, ts.tx, r)
}

func (ts *txStore) ListReconciliations(ctx context.Context, p ledger.Period) ([]ledger.BankReconciliation, error) {
	return ts.parent.listReconciliations(ctx, ts.tx, p)
}

func (ts *txStore) GetClosing(ctx context.Context, p ledger.Period) (*ledger.MonthEndClosing, error) {
	return ts.parent.getClosing(ctx, ts.tx, p)
}

func (ts *txStore) SaveClosing(ctx context.Context, c ledger.MonthEndClosing) error {
	return ts.parent.saveClosing(ctx, ts.tx, c)
}

func (ts *txStore) CloseIfPending(ctx context.Context, c ledger.MonthEndClosing) error {
	return ts.parent.closeIfPending(ctx, ts.tx, c)
}

func (ts *txStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	// Already inside a transaction; run fn against the same one.
	return fn(ts)
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullInvoiceID(id *ledger.InvoiceID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullPaymentID(id *ledger.PaymentID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullCreditID(id *ledger.CreditID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
