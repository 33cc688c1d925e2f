package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitbuilders/accounting-engine/ledger"
	"github.com/benefitbuilders/accounting-engine/ledger/policy"
	"github.com/benefitbuilders/accounting-engine/reconcile"
	"github.com/benefitbuilders/accounting-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march = ledger.Period{Year: 2025, Month: time.March}
var createdAt = time.Date(2025, time.April, 2, 9, 0, 0, 0, time.UTC)

func newTestCalculator(t *testing.T) (*reconcile.Calculator, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	calc := reconcile.NewCalculator(store, policy.Default().Reconciliation.Tolerance)
	return calc, store
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func balancedFigures() reconcile.Figures {
	// Book starts at 1000, takes in 500, pays out 300 -> expected 1200.
	// Bank shows 1150 with a 50 check outstanding -> difference 0.
	return reconcile.Figures{
		BeginningBookBalance: d("1000.00"),
		TotalDeposits:        d("500.00"),
		TotalWithdrawals:     d("300.00"),
		Adjustments:          d("0.00"),
		OutstandingChecks:    d("50.00"),
		OutstandingDeposits:  d("0.00"),
		EndingBankBalance:    d("1150.00"),
	}
}

// =============================================================================
// ARITHMETIC
// =============================================================================

func TestArithmetic_BalancedStatement(t *testing.T) {
	f := balancedFigures()

	assert.True(t, reconcile.ExpectedEndingBookBalance(f).Equal(d("1200.00")))
	assert.True(t, reconcile.Difference(f).Equal(d("0.00")))
}

func TestArithmetic_OutstandingDepositRaisesAdjustedBank(t *testing.T) {
	f := balancedFigures()
	f.OutstandingDeposits = d("200.00")
	f.EndingBankBalance = d("950.00")

	// Adjusted book position: 1200 - 50 + 200 = 1350; bank 950 -> -400
	assert.True(t, reconcile.Difference(f).Equal(d("-400.00")))
}

func TestArithmetic_RoundsEachStep(t *testing.T) {
	// Sub-cent noise from a bank feed must not compound.
	f := reconcile.Figures{
		BeginningBookBalance: d("100.004"),
		TotalDeposits:        d("0.004"),
		TotalWithdrawals:     d("0.00"),
		Adjustments:          d("0.00"),
		EndingBankBalance:    d("100.00"),
	}

	assert.True(t, reconcile.ExpectedEndingBookBalance(f).Equal(d("100.00")))
	assert.True(t, reconcile.Difference(f).Equal(d("0.00")))
}

func TestBalanced_ToleranceIsOneCent(t *testing.T) {
	calc, _ := newTestCalculator(t)

	assert.True(t, calc.Balanced(d("0.00")))
	assert.True(t, calc.Balanced(d("0.01")))
	assert.True(t, calc.Balanced(d("-0.01")))
	assert.False(t, calc.Balanced(d("0.02")))
}

// =============================================================================
// LIFECYCLE - One per period, locked once reconciled
// =============================================================================

func TestReconcile_DuplicatePeriod_Rejected(t *testing.T) {
	// GIVEN: A reconciliation for March/operating already exists
	// WHEN: Creating a second one for the same period and account
	// THEN: DuplicatePeriod; a different account is fine

	calc, _ := newTestCalculator(t)
	ctx := context.Background()

	_, err := calc.Reconcile(ctx, march, "operating", balancedFigures(), createdAt)
	require.NoError(t, err)

	_, err = calc.Reconcile(ctx, march, "operating", balancedFigures(), createdAt)
	assert.ErrorIs(t, err, ledger.ErrDuplicatePeriod)

	_, err = calc.Reconcile(ctx, march, "payroll", balancedFigures(), createdAt)
	assert.NoError(t, err)
}

func TestReconcile_InvalidPeriod_Rejected(t *testing.T) {
	calc, _ := newTestCalculator(t)

	_, err := calc.Reconcile(context.Background(), ledger.Period{Year: 2025, Month: 13}, "operating", balancedFigures(), createdAt)
	assert.ErrorIs(t, err, ledger.ErrInvalidPeriod)
}

func TestMarkReconciled_BalancedRecord(t *testing.T) {
	// GIVEN: A created record with difference 0.00
	// WHEN: Marking it reconciled
	// THEN: Reconciled with actor and timestamp stamped

	calc, store := newTestCalculator(t)
	ctx := context.Background()

	rec, err := calc.Reconcile(ctx, march, "operating", balancedFigures(), createdAt)
	require.NoError(t, err)

	at := createdAt.Add(time.Hour)
	updated, err := calc.MarkReconciled(ctx, rec.ID, "carol", at)
	require.NoError(t, err)
	assert.True(t, updated.Reconciled)
	assert.Equal(t, "carol", updated.ReconciledBy)
	require.NotNil(t, updated.ReconciledAt)

	stored, err := store.GetReconciliation(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Reconciled)
}

func TestMarkReconciled_OutOfTolerance_Rejected(t *testing.T) {
	calc, _ := newTestCalculator(t)
	ctx := context.Background()

	f := balancedFigures()
	f.EndingBankBalance = d("1175.00") // 25.00 unexplained
	rec, err := calc.Reconcile(ctx, march, "operating", f, createdAt)
	require.NoError(t, err)

	_, err = calc.MarkReconciled(ctx, rec.ID, "carol", createdAt)
	assert.Error(t, err)
}

func TestUpdateFigures_LockedOnceReconciled(t *testing.T) {
	// GIVEN: A reconciled record
	// WHEN: Updating figures or re-marking it
	// THEN: ReconciliationLocked until the explicit un-reconcile

	calc, _ := newTestCalculator(t)
	ctx := context.Background()

	rec, err := calc.Reconcile(ctx, march, "operating", balancedFigures(), createdAt)
	require.NoError(t, err)
	_, err = calc.MarkReconciled(ctx, rec.ID, "carol", createdAt)
	require.NoError(t, err)

	_, err = calc.UpdateFigures(ctx, rec.ID, balancedFigures())
	assert.ErrorIs(t, err, ledger.ErrReconciliationLocked)

	_, err = calc.MarkReconciled(ctx, rec.ID, "carol", createdAt)
	assert.ErrorIs(t, err, ledger.ErrReconciliationLocked)

	// Unreconcile clears the flag and both stamps; updates flow again.
	unlocked, err := calc.Unreconcile(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, unlocked.Reconciled)
	assert.Nil(t, unlocked.ReconciledAt)
	assert.Empty(t, unlocked.ReconciledBy)

	f := balancedFigures()
	f.Adjustments = d("10.00")
	updated, err := calc.UpdateFigures(ctx, rec.ID, f)
	require.NoError(t, err)
	assert.True(t, updated.Difference.Equal(d("-10.00")))
}

func TestUpdateFigures_RecomputesDifference(t *testing.T) {
	calc, _ := newTestCalculator(t)
	ctx := context.Background()

	f := balancedFigures()
	f.EndingBankBalance = d("1100.00")
	rec, err := calc.Reconcile(ctx, march, "operating", f, createdAt)
	require.NoError(t, err)
	assert.True(t, rec.Difference.Equal(d("-50.00")))

	updated, err := calc.UpdateFigures(ctx, rec.ID, balancedFigures())
	require.NoError(t, err)
	assert.True(t, updated.Difference.Equal(d("0.00")))
}

func TestGetReconciliation_Missing(t *testing.T) {
	calc, _ := newTestCalculator(t)

	_, err := calc.MarkReconciled(context.Background(), "nope", "carol", createdAt)
	assert.ErrorIs(t, err, ledger.ErrReconciliationNotFound)
}
