/*
handlers.go - HTTP API handlers for the accounting integrity engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Alerts:
    POST   /api/alerts/detect           Run the detection sweep
    GET    /api/alerts                  List alerts (filterable)
    POST   /api/alerts/{id}/acknowledge Acknowledge
    POST   /api/alerts/{id}/resolve     Resolve with notes
    POST   /api/alerts/{id}/remind      Dispatch a reminder

  Credits:
    POST   /api/credits                 Issue a credit
    POST   /api/credits/{id}/apply      Apply to an invoice
    POST   /api/credits/expire          Batch expiry sweep

  Reconciliations:
    POST   /api/reconciliations         Create for a period+account
    PUT    /api/reconciliations/{id}    Update figures
    POST   /api/reconciliations/{id}/reconcile Finalize

  Closings:
    GET    /api/closings/{y}/{m}/validate Run the check battery
    POST   /api/closings/{y}/{m}/close    One-way close

ERROR HANDLING:
  Errors map to HTTP status via the ledger error taxonomy:
  - 400: validation errors (bad amount, bad period, bad confirmation)
  - 404: id does not resolve
  - 409: state conflicts (AlreadyClosed, CreditNotAvailable, locked
         records, closed periods); close failures carry the full
         critical-issue list in the body
  - 500: store/dispatcher failures

TIME:
  The engine never reads the wall clock on a decision path. Handlers are
  the boundary: as_of defaults to the current time here when the client
  omits it.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/benefitbuilders/accounting-engine/alerts"
	"github.com/benefitbuilders/accounting-engine/closing"
	"github.com/benefitbuilders/accounting-engine/credits"
	"github.com/benefitbuilders/accounting-engine/ledger"
	"github.com/benefitbuilders/accounting-engine/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     ledger.Store
	Alerts    *alerts.Detector
	Credits   *credits.Ledger
	Reconcile *reconcile.Calculator
	Closing   *closing.Gate

	log zerolog.Logger
}

// NewHandler creates a new handler over the assembled engine components.
func NewHandler(store ledger.Store, det *alerts.Detector, cl *credits.Ledger, rec *reconcile.Calculator, gate *closing.Gate, log zerolog.Logger) *Handler {
	return &Handler{
		Store:     store,
		Alerts:    det,
		Credits:   cl,
		Reconcile: rec,
		Closing:   gate,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// COMPANY HANDLERS
// =============================================================================

func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	c := ledger.Company{ID: ledger.CompanyID(req.ID), Name: req.Name, CreatedAt: time.Now().UTC()}
	if err := h.Store.SaveCompany(r.Context(), c); err != nil {
		writeDomainError(w, "Failed to create company", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCompanyDTO(c))
}

func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetCompany(r.Context(), ledger.CompanyID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get company", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanyDTO(*c))
}

func (h *Handler) GetCreditBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.CompanyID(chi.URLParam(r, "id"))
	balance, err := h.Credits.AvailableBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to compute credit balance", err)
		return
	}
	writeJSON(w, http.StatusOK, CreditBalanceDTO{CompanyID: string(id), Available: int64(balance)})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	filter := ledger.InvoiceFilter{}
	if v := r.URL.Query().Get("company_id"); v != "" {
		filter.CompanyID = ledger.CompanyIDPtr(ledger.CompanyID(v))
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = ledger.StatusPtr(ledger.PaymentStatus(v))
	}

	invoices, err := h.Store.ListInvoices(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Store.GetInvoice(r.Context(), ledger.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}
	if req.Total <= 0 {
		writeError(w, http.StatusBadRequest, "total_cents must be positive", nil)
		return
	}

	inv := ledger.Invoice{
		ID:        ledger.InvoiceID(req.ID),
		CompanyID: ledger.CompanyID(req.CompanyID),
		Total:     ledger.Cents(req.Total),
		DueDate:   dueDate,
		Status:    ledger.StatusUnpaid,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveInvoice(r.Context(), inv); err != nil {
		writeDomainError(w, "Failed to create invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetPayment(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if req.InvoiceID != nil && req.BillID != nil {
		writeError(w, http.StatusBadRequest, "invoice_id and bill_id are mutually exclusive", nil)
		return
	}

	p := ledger.Payment{
		ID:        ledger.PaymentID(req.ID),
		BillID:    req.BillID,
		Amount:    ledger.Cents(req.Amount),
		Date:      date,
		Method:    req.Method,
		Status:    ledger.PaymentState(req.Status),
		CreatedAt: time.Now().UTC(),
	}
	if req.InvoiceID != nil {
		p.InvoiceID = ledger.InvoiceIDPtr(ledger.InvoiceID(*req.InvoiceID))
	}
	if p.Status == "" {
		p.Status = ledger.PaymentPending
	}

	if err := h.Store.SavePayment(r.Context(), p); err != nil {
		writeDomainError(w, "Failed to create payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// RecordPayment runs the post-payment detection hook: overpayments route
// to a credit, final underpayments raise an alert.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	alert, err := h.Alerts.RecordPayment(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), req.Final, orNow(req.AsOf))
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}
	if alert == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(*alert))
}

func (h *Handler) RecordFailedCharge(w http.ResponseWriter, r *http.Request) {
	var req DetectAlertsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	alert, err := h.Alerts.RecordFailedCharge(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), orNow(req.AsOf))
	if err != nil {
		writeDomainError(w, "Failed to record failed charge", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAlertDTO(*alert))
}

// =============================================================================
// ALERT HANDLERS
// =============================================================================

func (h *Handler) DetectAlerts(w http.ResponseWriter, r *http.Request) {
	var req DetectAlertsRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	created, err := h.Alerts.DetectAlerts(r.Context(), orNow(req.AsOf))
	if err != nil {
		writeDomainError(w, "Detection sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, DetectAlertsResponse{Created: created})
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := ledger.AlertFilter{}
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		filter.Type = ledger.AlertTypePtr(ledger.AlertType(v))
	}
	if v := q.Get("status"); v != "" {
		filter.Status = ledger.AlertStatusPtr(ledger.AlertStatus(v))
	}
	if v := q.Get("severity"); v != "" {
		filter.Severity = ledger.SeverityPtr(ledger.Severity(v))
	}
	if v := q.Get("company_id"); v != "" {
		filter.CompanyID = ledger.CompanyIDPtr(ledger.CompanyID(v))
	}

	list, err := h.Store.ListAlerts(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list alerts", err)
		return
	}

	dtos := make([]AlertDTO, len(list))
	for i, a := range list {
		dtos[i] = toAlertDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetAlert(r.Context(), ledger.AlertID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get alert", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(*a))
}

func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req AcknowledgeAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Alerts.Acknowledge(r.Context(), ledger.AlertID(chi.URLParam(r, "id")), req.Actor, time.Now().UTC())
	if err != nil {
		writeDomainError(w, "Failed to acknowledge alert", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(*a))
}

func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req ResolveAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Alerts.Resolve(r.Context(), ledger.AlertID(chi.URLParam(r, "id")), req.Actor, req.Notes, time.Now().UTC())
	if err != nil {
		writeDomainError(w, "Failed to resolve alert", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(*a))
}

func (h *Handler) SendReminder(w http.ResponseWriter, r *http.Request) {
	a, err := h.Alerts.SendReminder(r.Context(), ledger.AlertID(chi.URLParam(r, "id")), time.Now().UTC())
	if err != nil {
		writeDomainError(w, "Failed to send reminder", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(*a))
}

func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.Alerts.Delete(r.Context(), ledger.AlertID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, "Failed to delete alert", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CREDIT HANDLERS
// =============================================================================

func (h *Handler) IssueCredit(w http.ResponseWriter, r *http.Request) {
	var req IssueCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	issue := credits.IssueRequest{
		CompanyID:     ledger.CompanyID(req.CompanyID),
		Amount:        ledger.Cents(req.Amount),
		Source:        ledger.CreditSource(req.Source),
		ExpiresInDays: req.ExpiresInDays,
		Notes:         req.Notes,
		IssuedAt:      orNow(req.IssuedAt),
	}
	if req.SourceInvoice != nil {
		issue.SourceInvoice = ledger.InvoiceIDPtr(ledger.InvoiceID(*req.SourceInvoice))
	}

	c, err := h.Credits.IssueCredit(r.Context(), issue)
	if err != nil {
		writeDomainError(w, "Failed to issue credit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditDTO(*c))
}

func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	filter := ledger.CreditFilter{}
	if v := r.URL.Query().Get("company_id"); v != "" {
		filter.CompanyID = ledger.CompanyIDPtr(ledger.CompanyID(v))
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = ledger.CreditStatusPtr(ledger.CreditStatus(v))
	}

	list, err := h.Store.ListCredits(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list credits", err)
		return
	}

	dtos := make([]CreditDTO, len(list))
	for i, c := range list {
		dtos[i] = toCreditDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetCredit(r.Context(), ledger.CreditID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(*c))
}

func (h *Handler) ApplyCredit(w http.ResponseWriter, r *http.Request) {
	var req ApplyCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	applied, err := h.Credits.ApplyCredit(r.Context(),
		ledger.CreditID(chi.URLParam(r, "id")),
		ledger.InvoiceID(req.InvoiceID),
		orNow(req.AsOf))
	if err != nil {
		writeDomainError(w, "Failed to apply credit", err)
		return
	}
	writeJSON(w, http.StatusOK, ApplyCreditResponse{Applied: int64(applied)})
}

func (h *Handler) ExpireCredits(w http.ResponseWriter, r *http.Request) {
	var req ExpireCreditsRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	expired, err := h.Credits.ExpireCredits(r.Context(), orNow(req.AsOf))
	if err != nil {
		writeDomainError(w, "Expiry sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ExpireCreditsResponse{Expired: expired})
}

func (h *Handler) DeleteCredit(w http.ResponseWriter, r *http.Request) {
	if err := h.Credits.DeleteCredit(r.Context(), ledger.CreditID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, "Failed to delete credit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

func (h *Handler) CreateReconciliation(w http.ResponseWriter, r *http.Request) {
	var req CreateReconciliationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	figures, err := parseFigures(req.Figures)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid balance figure", err)
		return
	}

	p := ledger.Period{Year: req.Year, Month: time.Month(req.Month)}
	rec, err := h.Reconcile.Reconcile(r.Context(), p, req.BankAccount, figures, time.Now().UTC())
	if err != nil {
		writeDomainError(w, "Failed to create reconciliation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReconciliationDTO(*rec))
}

func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	p, err := periodFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period: year and month query parameters required", err)
		return
	}

	list, err := h.Store.ListReconciliations(r.Context(), p)
	if err != nil {
		writeDomainError(w, "Failed to list reconciliations", err)
		return
	}

	dtos := make([]ReconciliationDTO, len(list))
	for i, rec := range list {
		dtos[i] = toReconciliationDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetReconciliation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*rec))
}

func (h *Handler) UpdateReconciliation(w http.ResponseWriter, r *http.Request) {
	var req FiguresRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	figures, err := parseFigures(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid balance figure", err)
		return
	}

	rec, err := h.Reconcile.UpdateFigures(r.Context(), chi.URLParam(r, "id"), figures)
	if err != nil {
		writeDomainError(w, "Failed to update reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*rec))
}

func (h *Handler) MarkReconciled(w http.ResponseWriter, r *http.Request) {
	var req MarkReconciledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Reconcile.MarkReconciled(r.Context(), chi.URLParam(r, "id"), req.Actor, orNow(req.At))
	if err != nil {
		writeDomainError(w, "Failed to mark reconciled", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*rec))
}

func (h *Handler) Unreconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Reconcile.Unreconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to unreconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*rec))
}

// =============================================================================
// CLOSING HANDLERS
// =============================================================================

func (h *Handler) ValidateMonthEnd(w http.ResponseWriter, r *http.Request) {
	p, err := periodFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	report, err := h.Closing.Validate(r.Context(), p)
	if err != nil {
		writeDomainError(w, "Validation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) CloseMonthEnd(w http.ResponseWriter, r *http.Request) {
	p, err := periodFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	var req CloseMonthEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Closing.Close(r.Context(), p, req.Actor, req.Confirmation, req.Notes, orNow(req.At))
	if err != nil {
		writeDomainError(w, "Failed to close period", err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDTO(*record))
}

func (h *Handler) RejectMonthEnd(w http.ResponseWriter, r *http.Request) {
	p, err := periodFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	var req RejectMonthEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Closing.Reject(r.Context(), p, req.Actor, req.Reason, time.Now().UTC())
	if err != nil {
		writeDomainError(w, "Failed to reject close", err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDTO(*record))
}

func (h *Handler) ReopenMonthEnd(w http.ResponseWriter, r *http.Request) {
	p, err := periodFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	var req ReopenMonthEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Closing.Reopen(r.Context(), p, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to reopen period", err)
		return
	}
	h.log.Warn().Str("period", p.String()).Str("actor", req.Actor).Msg("administrative reopen")
	writeJSON(w, http.StatusOK, toClosingDTO(*record))
}

func (h *Handler) GetClosing(w http.ResponseWriter, r *http.Request) {
	p, err := periodFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	record, err := h.Closing.Status(r.Context(), p)
	if err != nil {
		writeDomainError(w, "Failed to get closing", err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "No closing record for period", nil)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDTO(*record))
}

// =============================================================================
// DTO CONVERSION
// =============================================================================

func toCompanyDTO(c ledger.Company) CompanyDTO {
	return CompanyDTO{ID: string(c.ID), Name: c.Name, CreatedAt: c.CreatedAt.Format(time.RFC3339)}
}

func toInvoiceDTO(inv ledger.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:         string(inv.ID),
		CompanyID:  string(inv.CompanyID),
		Total:      int64(inv.Total),
		AmountPaid: int64(inv.AmountPaid),
		AmountDue:  int64(inv.AmountDue()),
		DueDate:    inv.DueDate.Format("2006-01-02"),
		Status:     string(inv.Status),
		CreatedAt:  inv.CreatedAt.Format(time.RFC3339),
	}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:        string(p.ID),
		BillID:    p.BillID,
		Amount:    int64(p.Amount),
		Date:      p.Date.Format("2006-01-02"),
		Method:    p.Method,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
	if p.InvoiceID != nil {
		dto.InvoiceID = strPtr(string(*p.InvoiceID))
	}
	return dto
}

func toAlertDTO(a ledger.PaymentAlert) AlertDTO {
	dto := AlertDTO{
		ID:              string(a.ID),
		Type:            string(a.Type),
		Severity:        string(a.Severity),
		Status:          string(a.Status),
		CompanyID:       string(a.CompanyID),
		Message:         a.Message,
		ResolutionNotes: a.ResolutionNotes,
		AcknowledgedBy:  a.AcknowledgedBy,
		ResolvedBy:      a.ResolvedBy,
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
	}
	if a.InvoiceID != nil {
		dto.InvoiceID = strPtr(string(*a.InvoiceID))
	}
	if a.PaymentID != nil {
		dto.PaymentID = strPtr(string(*a.PaymentID))
	}
	if a.CreditID != nil {
		dto.CreditID = strPtr(string(*a.CreditID))
	}
	dto.AcknowledgedAt = timeStrPtr(a.AcknowledgedAt)
	dto.ResolvedAt = timeStrPtr(a.ResolvedAt)
	dto.ReminderSentAt = timeStrPtr(a.ReminderSentAt)
	return dto
}

func toCreditDTO(c ledger.Credit) CreditDTO {
	dto := CreditDTO{
		ID:        string(c.ID),
		CompanyID: string(c.CompanyID),
		Amount:    int64(c.Amount),
		Source:    string(c.Source),
		Status:    string(c.Status),
		ExpiresAt: c.ExpiresAt.Format(time.RFC3339),
		Notes:     c.Notes,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
	if c.SourceInvoiceID != nil {
		dto.SourceInvoiceID = strPtr(string(*c.SourceInvoiceID))
	}
	if c.AppliedToInvoiceID != nil {
		dto.AppliedToInvoiceID = strPtr(string(*c.AppliedToInvoiceID))
	}
	return dto
}

func toReconciliationDTO(rec ledger.BankReconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		ID:                   rec.ID,
		Year:                 rec.Year,
		Month:                int(rec.Month),
		BankAccount:          rec.BankAccount,
		BeginningBookBalance: rec.BeginningBookBalance.StringFixed(2),
		EndingBookBalance:    rec.EndingBookBalance.StringFixed(2),
		EndingBankBalance:    rec.EndingBankBalance.StringFixed(2),
		TotalDeposits:        rec.TotalDeposits.StringFixed(2),
		TotalWithdrawals:     rec.TotalWithdrawals.StringFixed(2),
		OutstandingChecks:    rec.OutstandingChecks.StringFixed(2),
		OutstandingDeposits:  rec.OutstandingDeposits.StringFixed(2),
		Adjustments:          rec.Adjustments.StringFixed(2),
		Difference:           rec.Difference.StringFixed(2),
		Reconciled:           rec.Reconciled,
		ReconciledAt:         timeStrPtr(rec.ReconciledAt),
		ReconciledBy:         rec.ReconciledBy,
		Notes:                rec.Notes,
		CreatedAt:            rec.CreatedAt.Format(time.RFC3339),
	}
}

func toClosingDTO(c ledger.MonthEndClosing) ClosingDTO {
	return ClosingDTO{
		ID:                  c.ID,
		Year:                c.Year,
		Month:               int(c.Month),
		Status:              string(c.Status),
		TransactionsLocked:  c.TransactionsLocked,
		CriticalIssuesCount: c.CriticalIssuesCount,
		Totals: ClosingTotalsDTO{
			PretaxDeductions: int64(c.Totals.PretaxDeductions),
			Fees:             int64(c.Totals.Fees),
			EmployerSavings:  int64(c.Totals.EmployerSavings),
			EmployeeSavings:  int64(c.Totals.EmployeeSavings),
			AROpen:           int64(c.Totals.AROpen),
			AROverdue:        int64(c.Totals.AROverdue),
			APOpen:           int64(c.Totals.APOpen),
			APOverdue:        int64(c.Totals.APOverdue),
		},
		ClosedBy:   c.ClosedBy,
		ClosedAt:   timeStrPtr(c.ClosedAt),
		ApprovedBy: c.ApprovedBy,
		ApprovedAt: timeStrPtr(c.ApprovedAt),
		Notes:      c.Notes,
		Report:     c.Report,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func parseFigures(req FiguresRequest) (reconcile.Figures, error) {
	var f reconcile.Figures
	var err error

	parse := func(s string) decimal.Decimal {
		if err != nil {
			return decimal.Zero
		}
		if s == "" {
			return decimal.Zero
		}
		var d decimal.Decimal
		d, err = decimal.NewFromString(s)
		return d
	}

	f.BeginningBookBalance = parse(req.BeginningBookBalance)
	f.EndingBankBalance = parse(req.EndingBankBalance)
	f.TotalDeposits = parse(req.TotalDeposits)
	f.TotalWithdrawals = parse(req.TotalWithdrawals)
	f.OutstandingChecks = parse(req.OutstandingChecks)
	f.OutstandingDeposits = parse(req.OutstandingDeposits)
	f.Adjustments = parse(req.Adjustments)
	f.Notes = req.Notes
	return f, err
}

func periodFromURL(r *http.Request) (ledger.Period, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		return ledger.Period{}, err
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		return ledger.Period{}, err
	}
	p := ledger.Period{Year: year, Month: time.Month(month)}
	if !p.Valid() {
		return ledger.Period{}, ledger.ErrInvalidPeriod
	}
	return p, nil
}

func periodFromQuery(r *http.Request) (ledger.Period, error) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		return ledger.Period{}, err
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil {
		return ledger.Period{}, err
	}
	p := ledger.Period{Year: year, Month: time.Month(month)}
	if !p.Valid() {
		return ledger.Period{}, ledger.ErrInvalidPeriod
	}
	return p, nil
}

func orNow(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return time.Now().UTC()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP status codes via the
// ledger error taxonomy. Close failures carry the critical-issue list.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var issues *ledger.CriticalIssuesError
	if errors.As(err, &issues) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   message,
			Details: err.Error(),
			Issues:  issues.Issues,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case ledger.IsStateConflict(err):
		status = http.StatusConflict
	case ledger.IsClientError(err):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err)
}

func strPtr(s string) *string {
	return &s
}

func timeStrPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return strPtr(t.Format(time.RFC3339))
}
