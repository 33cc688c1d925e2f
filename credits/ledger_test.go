package credits_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitbuilders/accounting-engine/credits"
	"github.com/benefitbuilders/accounting-engine/ledger"
	"github.com/benefitbuilders/accounting-engine/ledger/policy"
	"github.com/benefitbuilders/accounting-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testDay = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*credits.Ledger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cl := credits.NewLedger(store, policy.Default().Credits)
	return cl, store
}

func seedCompany(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	require.NoError(t, store.SaveCompany(context.Background(), ledger.Company{
		ID:        ledger.CompanyID(id),
		Name:      "Test Co " + id,
		CreatedAt: testDay,
	}))
}

func seedInvoice(t *testing.T, store *sqlite.Store, id, companyID string, total, paid ledger.Cents) {
	t.Helper()
	status := ledger.StatusUnpaid
	if paid >= total {
		status = ledger.StatusPaid
	} else if paid > 0 {
		status = ledger.StatusPartial
	}
	require.NoError(t, store.SaveInvoice(context.Background(), ledger.Invoice{
		ID:         ledger.InvoiceID(id),
		CompanyID:  ledger.CompanyID(companyID),
		Total:      total,
		AmountPaid: paid,
		DueDate:    testDay.AddDate(0, 1, 0),
		Status:     status,
		CreatedAt:  testDay,
	}))
}

// =============================================================================
// ISSUING
// =============================================================================

func TestIssueCredit_NegativeAmount_Rejected(t *testing.T) {
	// GIVEN: A known company
	// WHEN: Issuing a credit with a non-positive amount
	// THEN: InvalidAmount, nothing persisted

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")

	_, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1",
		Amount:    -100,
		Source:    ledger.SourceGoodwill,
		IssuedAt:  testDay,
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	list, err := store.ListCredits(ctx, ledger.CreditFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestIssueCredit_UnknownCompany_Rejected(t *testing.T) {
	cl, _ := newTestLedger(t)

	_, err := cl.IssueCredit(context.Background(), credits.IssueRequest{
		CompanyID: "ghost",
		Amount:    5000,
		Source:    ledger.SourceRefund,
		IssuedAt:  testDay,
	})
	assert.ErrorIs(t, err, ledger.ErrUnknownCompany)
}

func TestIssueCredit_DefaultExpiry_FromPolicy(t *testing.T) {
	// GIVEN: A request with no explicit expiry
	// WHEN: Issuing
	// THEN: Expiry comes from policy (365 days), anchored on IssuedAt

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1",
		Amount:    5000,
		Source:    ledger.SourceGoodwill,
		IssuedAt:  testDay,
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.CreditAvailable, c.Status)
	assert.Equal(t, testDay.AddDate(0, 0, 365), c.ExpiresAt)
}

// =============================================================================
// APPLICATION - Split rule and conservation
// =============================================================================

func TestApplyCredit_FullyCoversInvoice(t *testing.T) {
	// GIVEN: A $50 credit and an invoice owing $50
	// WHEN: Applying
	// THEN: Invoice paid in full, credit applied, no remainder

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 5000, 0)

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 5000, Source: ledger.SourceRefund, IssuedAt: testDay,
	})
	require.NoError(t, err)

	applied, err := cl.ApplyCredit(ctx, c.ID, "inv-1", testDay)
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(5000), applied)

	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(5000), inv.AmountPaid)
	assert.Equal(t, ledger.StatusPaid, inv.Status)

	got, err := store.GetCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CreditApplied, got.Status)
	require.NotNil(t, got.AppliedToInvoiceID)
	assert.Equal(t, ledger.InvoiceID("inv-1"), *got.AppliedToInvoiceID)

	all, err := store.ListCredits(ctx, ledger.CreditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "no remainder credit expected")
}

func TestApplyCredit_SurplusStaysAvailable(t *testing.T) {
	// GIVEN: A $50 credit and an invoice owing only $30
	// WHEN: Applying
	// THEN: $30 consumed, a new $20 credit remains available with the same
	//       source and expiry (value is conserved, never truncated)

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 10000, 7000)

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 5000, Source: ledger.SourceOverpayment, IssuedAt: testDay,
	})
	require.NoError(t, err)

	applied, err := cl.ApplyCredit(ctx, c.ID, "inv-1", testDay)
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(3000), applied)

	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, inv.Status)

	original, err := store.GetCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CreditApplied, original.Status)
	assert.Equal(t, ledger.Cents(3000), original.Amount)

	available, err := store.ListCredits(ctx, ledger.CreditFilter{
		Status: ledger.CreditStatusPtr(ledger.CreditAvailable),
	})
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, ledger.Cents(2000), available[0].Amount)
	assert.Equal(t, ledger.SourceOverpayment, available[0].Source)
	assert.Equal(t, original.ExpiresAt, available[0].ExpiresAt)
}

func TestApplyCredit_ConservationAcrossLifecycle(t *testing.T) {
	// GIVEN: $50 issued, $30 applied, remainder expired
	// WHEN: Summing applied + expired
	// THEN: Equals the total ever issued; nothing created or destroyed

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 3000, 0)

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 5000, Source: ledger.SourceRefund, IssuedAt: testDay,
	})
	require.NoError(t, err)

	_, err = cl.ApplyCredit(ctx, c.ID, "inv-1", testDay)
	require.NoError(t, err)

	expired, err := cl.ExpireCredits(ctx, c.ExpiresAt.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	all, err := store.ListCredits(ctx, ledger.CreditFilter{})
	require.NoError(t, err)

	var total ledger.Cents
	for _, credit := range all {
		total += credit.Amount
	}
	assert.Equal(t, ledger.Cents(5000), total)
}

func TestApplyCredit_ExpiredCredit_Rejected(t *testing.T) {
	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 5000, 0)

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 5000, Source: ledger.SourceRefund,
		ExpiresInDays: 10, IssuedAt: testDay,
	})
	require.NoError(t, err)

	_, err = cl.ApplyCredit(ctx, c.ID, "inv-1", testDay.AddDate(0, 0, 11))
	assert.ErrorIs(t, err, ledger.ErrCreditNotAvailable)
}

func TestApplyCredit_SettledInvoice_NoOp(t *testing.T) {
	// GIVEN: An invoice already paid in full
	// WHEN: Applying a credit to it
	// THEN: Nothing is consumed; the credit stays available

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 5000, 5000)

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 2000, Source: ledger.SourceGoodwill, IssuedAt: testDay,
	})
	require.NoError(t, err)

	applied, err := cl.ApplyCredit(ctx, c.ID, "inv-1", testDay)
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(0), applied)

	got, err := store.GetCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CreditAvailable, got.Status)
}

func TestApplyCredit_Concurrent_AtMostOneSucceeds(t *testing.T) {
	// GIVEN: One credit, two invoices, two goroutines racing to apply it
	// WHEN: Both apply concurrently
	// THEN: Exactly one wins; the loser observes CreditNotAvailable

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 5000, 0)
	seedInvoice(t, store, "inv-2", "co-1", 5000, 0)

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 5000, Source: ledger.SourceRefund, IssuedAt: testDay,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	targets := []ledger.InvoiceID{"inv-1", "inv-2"}
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cl.ApplyCredit(ctx, c.ID, targets[i], testDay)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ledger.ErrCreditNotAvailable)
		}
	}
	assert.Equal(t, 1, successes)
}

// =============================================================================
// EXPIRY AND DELETION
// =============================================================================

func TestExpireCredits_Idempotent(t *testing.T) {
	// GIVEN: One credit past its expiry
	// WHEN: Running the sweep twice
	// THEN: First pass expires it, second pass finds nothing

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")

	_, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 1000, Source: ledger.SourceGoodwill,
		ExpiresInDays: 5, IssuedAt: testDay,
	})
	require.NoError(t, err)

	sweepAt := testDay.AddDate(0, 0, 6)
	n, err := cl.ExpireCredits(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = cl.ExpireCredits(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func closePeriod(t *testing.T, store *sqlite.Store, p ledger.Period) {
	t.Helper()
	at := p.Next().Start().AddDate(0, 0, 1)
	require.NoError(t, store.CloseIfPending(context.Background(), ledger.MonthEndClosing{
		ID: "close-" + p.String(), Year: p.Year, Month: p.Month,
		Status: ledger.ClosingClosed, TransactionsLocked: true,
		ClosedBy: "test", ClosedAt: &at, CreatedAt: at,
	}))
}

func TestExpireCredits_SweepsAfterPeriodClose(t *testing.T) {
	// GIVEN: An available March credit, an available April credit, and
	//        March closed with the March credit still outstanding
	// WHEN: Sweeping in May, well past both expiry dates
	// THEN: Both credits expire; the closed issue period does not wedge
	//       the batch

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")

	marchCredit, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 1000, Source: ledger.SourceGoodwill,
		ExpiresInDays: 5, IssuedAt: testDay,
	})
	require.NoError(t, err)
	aprilCredit, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 2000, Source: ledger.SourceRefund,
		ExpiresInDays: 5, IssuedAt: testDay.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	closePeriod(t, store, ledger.Period{Year: 2025, Month: time.March})

	n, err := cl.ExpireCredits(ctx, time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []ledger.CreditID{marchCredit.ID, aprilCredit.ID} {
		got, err := store.GetCredit(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledger.CreditExpired, got.Status)
	}
}

func TestApplyCredit_IssuePeriodClosed_StillApplies(t *testing.T) {
	// GIVEN: A credit issued in March, March closed, an open April invoice
	// WHEN: Applying the credit in April
	// THEN: The application succeeds; only new credits are pinned to
	//       their issue period

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 3000, 0)

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 3000, Source: ledger.SourceRefund, IssuedAt: testDay,
	})
	require.NoError(t, err)

	closePeriod(t, store, ledger.Period{Year: 2025, Month: time.March})

	applied, err := cl.ApplyCredit(ctx, c.ID, "inv-1", testDay.AddDate(0, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(3000), applied)

	got, err := store.GetCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CreditApplied, got.Status)
}

func TestCreditExpiryBoundary(t *testing.T) {
	// GIVEN: A credit expiring at a known instant
	// WHEN: Acting exactly at that instant
	// THEN: It is still applicable and not yet expirable; one tick later
	//       the sweep collects it

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 1000, 0)

	c1, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 1000, Source: ledger.SourceGoodwill,
		ExpiresInDays: 5, IssuedAt: testDay,
	})
	require.NoError(t, err)
	c2, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 500, Source: ledger.SourceAdjustment,
		ExpiresInDays: 5, IssuedAt: testDay,
	})
	require.NoError(t, err)

	n, err := cl.ExpireCredits(ctx, c1.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	applied, err := cl.ApplyCredit(ctx, c1.ID, "inv-1", c1.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(1000), applied)

	n, err = cl.ExpireCredits(ctx, c2.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetCredit(ctx, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CreditExpired, got.Status)
}

func TestDeleteCredit_AppliedIsLocked(t *testing.T) {
	// GIVEN: A credit that has been applied
	// WHEN: Deleting it
	// THEN: CreditLocked; the audit trail survives

	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 5000, 0)

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 5000, Source: ledger.SourceRefund, IssuedAt: testDay,
	})
	require.NoError(t, err)
	_, err = cl.ApplyCredit(ctx, c.ID, "inv-1", testDay)
	require.NoError(t, err)

	err = cl.DeleteCredit(ctx, c.ID)
	assert.ErrorIs(t, err, ledger.ErrCreditLocked)
}

func TestDeleteCredit_AvailableIsDeletable(t *testing.T) {
	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")

	c, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 1000, Source: ledger.SourceAdjustment, IssuedAt: testDay,
	})
	require.NoError(t, err)

	require.NoError(t, cl.DeleteCredit(ctx, c.ID))
	_, err = store.GetCredit(ctx, c.ID)
	assert.ErrorIs(t, err, ledger.ErrCreditNotFound)
}

func TestAvailableBalance_SumsOnlyAvailable(t *testing.T) {
	cl, store := newTestLedger(t)
	ctx := context.Background()
	seedCompany(t, store, "co-1")
	seedInvoice(t, store, "inv-1", "co-1", 1000, 0)

	c1, err := cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 1000, Source: ledger.SourceRefund, IssuedAt: testDay,
	})
	require.NoError(t, err)
	_, err = cl.IssueCredit(ctx, credits.IssueRequest{
		CompanyID: "co-1", Amount: 2500, Source: ledger.SourceGoodwill, IssuedAt: testDay,
	})
	require.NoError(t, err)

	_, err = cl.ApplyCredit(ctx, c1.ID, "inv-1", testDay)
	require.NoError(t, err)

	balance, err := cl.AvailableBalance(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(2500), balance)
}
