/*
errors.go - Centralized error types for the accounting engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  Component packages return these directly or wrap them with context.

ERROR TAXONOMY (drives caller behavior):
  1. Validation errors  - bad input, report to caller, never auto-retry
  2. State conflicts    - caller must re-fetch and decide
  3. Not-found errors   - id does not resolve
  4. Downstream errors  - store/dispatcher unavailable, propagated as-is

  The engine never retries internally: retrying a non-idempotent write like
  ApplyCredit without re-validation is unsafe. Callers own retry policy.

USAGE:
  if errors.Is(err, ledger.ErrCreditNotAvailable) { ... }

  var issues *ledger.CriticalIssuesError
  if errors.As(err, &issues) {
      // issues.Issues carries the full list for the operator
  }

SEE ALSO:
  - closing/gate.go: Produces CriticalIssuesError
  - store/sqlite: Maps constraint violations onto these sentinels
*/
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrInvalidAmount       = errors.New("invalid amount: must be positive")
	ErrInvalidPeriod       = errors.New("invalid period")
	ErrInvalidConfirmation = errors.New("confirmation text does not match")

	// Not found
	ErrUnknownCompany         = errors.New("company not found")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrAlertNotFound          = errors.New("alert not found")
	ErrCreditNotFound         = errors.New("credit not found")
	ErrReconciliationNotFound = errors.New("reconciliation not found")
	ErrClosingNotFound        = errors.New("closing not found")

	// State conflicts
	ErrCreditNotAvailable    = errors.New("credit is not available")
	ErrCreditLocked          = errors.New("credit is applied and cannot be modified or deleted")
	ErrReconciliationLocked  = errors.New("reconciliation is finalized and cannot be modified")
	ErrDuplicatePeriod       = errors.New("reconciliation already exists for this period and account")
	ErrAlreadyClosed         = errors.New("period is already closed")
	ErrClosingRejected       = errors.New("closing was rejected for this period")
	ErrCriticalIssuesPresent = errors.New("critical issues present, period cannot be closed")
	ErrPeriodClosed          = errors.New("period is closed: financial records are locked")

	// Concurrency
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CriticalIssuesError is returned by Gate.Close when validation finds
// blocking issues. The full issue list rides along so the operator can act
// on it, not just a boolean.
type CriticalIssuesError struct {
	Period Period
	Issues []string
}

func (e *CriticalIssuesError) Error() string {
	return fmt.Sprintf("cannot close %s: %d critical issue(s)", e.Period, len(e.Issues))
}

func (e *CriticalIssuesError) Unwrap() error {
	return ErrCriticalIssuesPresent
}

// PeriodClosedError identifies which closed period rejected a write.
type PeriodClosedError struct {
	Period Period
	Date   time.Time
}

func (e *PeriodClosedError) Error() string {
	return fmt.Sprintf("period %s is closed: record dated %s cannot be modified",
		e.Period, e.Date.Format("2006-01-02"))
}

func (e *PeriodClosedError) Unwrap() error {
	return ErrPeriodClosed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownCompany) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrCreditNotFound) ||
		errors.Is(err, ErrReconciliationNotFound) ||
		errors.Is(err, ErrClosingNotFound)
}

// IsStateConflict returns true if the error means the caller's view of the
// record is stale. Re-fetch and decide; do not blindly retry.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrCreditNotAvailable) ||
		errors.Is(err, ErrCreditLocked) ||
		errors.Is(err, ErrReconciliationLocked) ||
		errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrAlreadyClosed) ||
		errors.Is(err, ErrClosingRejected) ||
		errors.Is(err, ErrCriticalIssuesPresent) ||
		errors.Is(err, ErrPeriodClosed) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidConfirmation)
}
