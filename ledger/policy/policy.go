/*
Package policy holds the operator-tunable thresholds of the engine.

PURPOSE:
  The detection tiers, the reconciliation tolerance, and the credit expiry
  defaults are policy, not code. They load from a TOML file and default to
  the values the business runs with today. No component hard-codes a
  threshold; everything threads through a Thresholds value.

FILE FORMAT (TOML):

  [late_tiers]
  warning_after_days  = 15
  critical_after_days = 45

  [credits]
  default_expiry_days   = 365
  expiry_warning_days   = 30

  [reconciliation]
  tolerance = "0.01"

SEE ALSO:
  - alerts/detector.go: Consumes late tiers
  - reconcile/calculator.go: Consumes the tolerance
  - closing/checks.go: Consumes the expiry warning window
*/
package policy

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// LateTiers sets the day boundaries for late-payment severity escalation.
// Days 1 .. WarningAfterDays-1 are info, then warning, then critical at
// CriticalAfterDays and beyond. Later tiers are stricter.
type LateTiers struct {
	WarningAfterDays  int `toml:"warning_after_days"`
	CriticalAfterDays int `toml:"critical_after_days"`
}

// CreditPolicy sets credit lifecycle defaults.
type CreditPolicy struct {
	// DefaultExpiryDays is used when IssueCredit gets no explicit expiry.
	DefaultExpiryDays int `toml:"default_expiry_days"`
	// ExpiryWarningDays is the closing gate's "expiring soon" window.
	ExpiryWarningDays int `toml:"expiry_warning_days"`
}

// ReconciliationPolicy sets the balance tolerance.
type ReconciliationPolicy struct {
	// Tolerance is the maximum abs(difference), in dollars, at which a
	// reconciliation still counts as balanced. One cent by default,
	// absorbing floating rounding in upstream bank feeds.
	Tolerance decimal.Decimal `toml:"-"`

	RawTolerance string `toml:"tolerance"`
}

// Thresholds is the full policy set threaded through the engine.
type Thresholds struct {
	LateTiers      LateTiers            `toml:"late_tiers"`
	Credits        CreditPolicy         `toml:"credits"`
	Reconciliation ReconciliationPolicy `toml:"reconciliation"`
}

// Default returns the thresholds the business runs with absent a config
// file: info 1-14 days, warning 15-44, critical 45+; credits expire in a
// year and warn a month out; one cent of reconciliation tolerance.
func Default() Thresholds {
	return Thresholds{
		LateTiers:      LateTiers{WarningAfterDays: 15, CriticalAfterDays: 45},
		Credits:        CreditPolicy{DefaultExpiryDays: 365, ExpiryWarningDays: 30},
		Reconciliation: ReconciliationPolicy{Tolerance: decimal.New(1, -2)},
	}
}

// Load reads thresholds from a TOML file, filling gaps with defaults.
func Load(path string) (Thresholds, error) {
	t := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read policy file: %w", err)
	}
	if err := toml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse policy file: %w", err)
	}

	if t.Reconciliation.RawTolerance != "" {
		tol, err := decimal.NewFromString(t.Reconciliation.RawTolerance)
		if err != nil {
			return t, fmt.Errorf("parse reconciliation tolerance %q: %w",
				t.Reconciliation.RawTolerance, err)
		}
		t.Reconciliation.Tolerance = tol
	}

	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// Validate rejects incoherent threshold sets.
func (t Thresholds) Validate() error {
	if t.LateTiers.WarningAfterDays < 2 {
		return fmt.Errorf("late_tiers.warning_after_days must be at least 2, got %d",
			t.LateTiers.WarningAfterDays)
	}
	if t.LateTiers.CriticalAfterDays <= t.LateTiers.WarningAfterDays {
		return fmt.Errorf("late_tiers.critical_after_days (%d) must exceed warning_after_days (%d)",
			t.LateTiers.CriticalAfterDays, t.LateTiers.WarningAfterDays)
	}
	if t.Credits.DefaultExpiryDays <= 0 {
		return fmt.Errorf("credits.default_expiry_days must be positive, got %d",
			t.Credits.DefaultExpiryDays)
	}
	if t.Credits.ExpiryWarningDays < 0 {
		return fmt.Errorf("credits.expiry_warning_days must not be negative, got %d",
			t.Credits.ExpiryWarningDays)
	}
	if t.Reconciliation.Tolerance.IsNegative() {
		return fmt.Errorf("reconciliation.tolerance must not be negative, got %s",
			t.Reconciliation.Tolerance)
	}
	return nil
}
