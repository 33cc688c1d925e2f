package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - An accounting month, always explicit, never inferred
// =============================================================================

// Period identifies one accounting month. Every operation that cares about
// a period takes one explicitly; the engine never derives "this month"
// from the wall clock.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing the given time.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Valid reports whether the period is well-formed.
func (p Period) Valid() bool {
	return p.Year >= 1 && p.Month >= time.January && p.Month <= time.December
}

// Start returns the first instant of the period (UTC).
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last instant of the period (UTC).
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// Contains returns true if t falls within the period.
func (p Period) Contains(t time.Time) bool {
	return t.Year() == p.Year && t.Month() == p.Month
}

// Next returns the following period.
func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}

// Previous returns the preceding period.
func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

// String returns "2025-03" style formatting.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// MonthName returns the uppercase English month name, "MARCH".
func (p Period) MonthName() string {
	return strings.ToUpper(p.Month.String())
}

// ConfirmationPhrase returns the exact phrase an operator must type to
// close this period: "CLOSE MARCH 2025". A human-in-the-loop guard against
// accidental irreversible action, not a security control.
func (p Period) ConfirmationPhrase() string {
	return fmt.Sprintf("CLOSE %s %d", p.MonthName(), p.Year)
}

// MatchesConfirmation compares operator input against the confirmation
// phrase, ignoring case and surrounding whitespace.
func (p Period) MatchesConfirmation(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), p.ConfirmationPhrase())
}
