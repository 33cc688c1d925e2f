package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitbuilders/accounting-engine/alerts"
	"github.com/benefitbuilders/accounting-engine/api"
	"github.com/benefitbuilders/accounting-engine/closing"
	"github.com/benefitbuilders/accounting-engine/credits"
	"github.com/benefitbuilders/accounting-engine/ledger"
	"github.com/benefitbuilders/accounting-engine/ledger/policy"
	"github.com/benefitbuilders/accounting-engine/reconcile"
	"github.com/benefitbuilders/accounting-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	thresholds := policy.Default()
	cl := credits.NewLedger(store, thresholds.Credits)
	det := alerts.NewDetector(store, cl, thresholds.LateTiers, nil, zerolog.Nop())
	calc := reconcile.NewCalculator(store, thresholds.Reconciliation.Tolerance)
	gate := closing.NewGate(store, thresholds.Credits, nil, zerolog.Nop())

	handler := api.NewHandler(store, det, cl, calc, gate, zerolog.Nop())
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func seed(t *testing.T, srv *httptest.Server) {
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/companies", api.CreateCompanyRequest{ID: "co-1", Name: "Acme Benefits"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/invoices", api.CreateInvoiceRequest{
		ID: "inv-1", CompanyID: "co-1", Total: 10000, DueDate: "2025-03-10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// ALERT FLOW
// =============================================================================

func TestAPI_DetectAndResolveAlert(t *testing.T) {
	// GIVEN: An overdue invoice
	// WHEN: POSTing a detection sweep, then resolving the alert
	// THEN: The sweep reports one created alert and the resolve sticks

	srv, _ := newTestServer(t)
	seed(t, srv)

	asOf := time.Date(2025, time.March, 25, 0, 0, 0, 0, time.UTC)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/alerts/detect", api.DetectAlertsRequest{AsOf: &asOf})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decode[api.DetectAlertsResponse](t, resp)
	assert.Equal(t, 1, created.Created)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/alerts?status=active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]api.AlertDTO](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "late", list[0].Type)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/alerts/"+list[0].ID+"/resolve",
		api.ResolveAlertRequest{Actor: "ops", Notes: "customer paid"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decode[api.AlertDTO](t, resp)
	assert.Equal(t, "resolved", resolved.Status)
	assert.Equal(t, "ops", resolved.ResolvedBy)
}

func TestAPI_UnknownAlert_404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/alerts/ghost/acknowledge",
		api.AcknowledgeAlertRequest{Actor: "ops"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// CREDIT FLOW
// =============================================================================

func TestAPI_IssueAndApplyCredit(t *testing.T) {
	srv, _ := newTestServer(t)
	seed(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/credits", api.IssueCreditRequest{
		CompanyID: "co-1", Amount: 15000, Source: "goodwill",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	credit := decode[api.CreditDTO](t, resp)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/credits/"+credit.ID+"/apply",
		api.ApplyCreditRequest{InvoiceID: "inv-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	applied := decode[api.ApplyCreditResponse](t, resp)
	assert.Equal(t, int64(10000), applied.Applied)

	// The surplus remains on the company's balance.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/companies/co-1/credit-balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[api.CreditBalanceDTO](t, resp)
	assert.Equal(t, int64(5000), balance.Available)

	// Second application of the consumed credit conflicts.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/credits/"+credit.ID+"/apply",
		api.ApplyCreditRequest{InvoiceID: "inv-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_IssueCredit_BadAmount_400(t *testing.T) {
	srv, _ := newTestServer(t)
	seed(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/credits", api.IssueCreditRequest{
		CompanyID: "co-1", Amount: 0, Source: "goodwill",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// RECONCILIATION AND CLOSING FLOW
// =============================================================================

func balancedFigures() api.FiguresRequest {
	return api.FiguresRequest{
		BeginningBookBalance: "1000.00",
		TotalDeposits:        "500.00",
		TotalWithdrawals:     "300.00",
		OutstandingChecks:    "50.00",
		EndingBankBalance:    "1150.00",
	}
}

func TestAPI_ReconcileAndCloseMonth(t *testing.T) {
	// GIVEN: A balanced, finalized March reconciliation
	// WHEN: Validating and closing March with the typed confirmation
	// THEN: The close succeeds and a repeat close conflicts

	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/reconciliations", api.CreateReconciliationRequest{
		Year: 2025, Month: 3, BankAccount: "operating", Figures: balancedFigures(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rec := decode[api.ReconciliationDTO](t, resp)
	assert.Equal(t, "0.00", rec.Difference)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/reconciliations/"+rec.ID+"/reconcile",
		api.MarkReconciledRequest{Actor: "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/closings/2025/3/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[ledger.ValidationReport](t, resp)
	assert.True(t, report.CanClose)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/closings/2025/3/close", api.CloseMonthEndRequest{
		Actor: "dana", Confirmation: "close march 2025",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	closed := decode[api.ClosingDTO](t, resp)
	assert.Equal(t, "closed", closed.Status)
	assert.True(t, closed.TransactionsLocked)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/closings/2025/3/close", api.CloseMonthEndRequest{
		Actor: "dana", Confirmation: "close march 2025",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Close_CriticalIssues_ListedInBody(t *testing.T) {
	// GIVEN: No reconciliation for the period
	// WHEN: Closing
	// THEN: 409 with the issue list in the error body

	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/closings/2025/3/close", api.CloseMonthEndRequest{
		Actor: "dana", Confirmation: "CLOSE MARCH 2025",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.NotEmpty(t, body.Issues)
}

func TestAPI_Close_BadConfirmation_400(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/reconciliations", api.CreateReconciliationRequest{
		Year: 2025, Month: 3, BankAccount: "operating", Figures: balancedFigures(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rec := decode[api.ReconciliationDTO](t, resp)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/reconciliations/"+rec.ID+"/reconcile",
		api.MarkReconciledRequest{Actor: "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/closings/2025/3/close", api.CloseMonthEndRequest{
		Actor: "dana", Confirmation: "CLOSE MARCH 2024",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_DuplicateReconciliation_409(t *testing.T) {
	srv, _ := newTestServer(t)

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/reconciliations", api.CreateReconciliationRequest{
			Year: 2025, Month: 3, BankAccount: "operating", Figures: balancedFigures(),
		})
		assert.Equal(t, want, resp.StatusCode, fmt.Sprintf("attempt %d", i+1))
	}
}

// =============================================================================
// PAYMENT HOOK
// =============================================================================

func TestAPI_RecordPayment_OverpaymentReturnsAlert(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/payments", api.CreatePaymentRequest{
		ID: "pay-1", InvoiceID: strPtr("inv-1"), Amount: 15000,
		Date: "2025-03-05", Method: "ach", Status: "completed",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Reflect the recorded amount on the invoice, as the payment subsystem
	// does before invoking the hook.
	inv, err := store.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	inv.AmountPaid = 15000
	require.NoError(t, store.SaveInvoice(context.Background(), *inv))

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/payments/pay-1/recorded", api.RecordPaymentRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	alert := decode[api.AlertDTO](t, resp)
	assert.Equal(t, "overpaid", alert.Type)
	assert.NotNil(t, alert.CreditID)
}

func strPtr(s string) *string { return &s }
