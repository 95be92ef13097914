/*
handlers.go - HTTP API handlers for the till

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to the ledger package.

ENDPOINTS:
  Cash drawer:
    POST   /api/movements                  Record a SALE or CASH_OUT
    GET    /api/days/summary?date=         Totals for one business date
    GET    /api/days/timeline?date=        The day's ticket, newest first
    GET    /api/days/history?limit=        Per-date totals, newest first

  Customers:
    GET    /api/customers?q=               List/search customers
    POST   /api/customers                  Create customer
    GET    /api/customers/{id}             Get customer
    PUT    /api/customers/{id}             Update phone
    GET    /api/customers/{id}/ledger      Debt log, newest first
    POST   /api/customers/{id}/payments    Freeform payment

  Credit:
    POST   /api/credit                     Extend credit (existing or new customer)
    POST   /api/credit/{id}/settle         Settle one debt line

  Corrections:
    DELETE /api/events/{kind}/{id}         Reverse an event

  Admin:
    GET    /api/admin/consistency          Recent balance checks
    POST   /api/admin/consistency/check    Run a balance check now

REQUEST FLOW:
  1. Decode JSON body (size-limited)
  2. Validate struct tags
  3. Call exactly one ledger.Engine operation
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as {"error": CODE, "message": text}:
  - 400: VALIDATION_ERROR
  - 404: NOT_FOUND
  - 409: DUPLICATE_NAME, ALREADY_SETTLED
  - 422: UNSUPPORTED_CORRECTION
  - 500: STORAGE_ERROR (details are logged, not returned)

SECURITY NOTE:
  No authentication. The server is meant to run on the shop's own machine.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/despensa/till/ledger"
)

const maxBodyBytes = 64 << 10

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *ledger.Engine
	Hub     *EventHub
	Metrics *Metrics
	Log     *zap.Logger

	// Location renders timestamps in the shop's time zone.
	Location *time.Location
	// HistoryLimit is used when ?limit= is absent.
	HistoryLimit int
	// Ping reports database health for /healthz.
	Ping func(ctx context.Context) error

	validate *validator.Validate
}

// NewHandler creates a handler over the given engine.
func NewHandler(engine *ledger.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine:       engine,
		Log:          log,
		Location:     time.UTC,
		HistoryLimit: ledger.DefaultHistoryLimit,
		validate:     newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// CASH DRAWER HANDLERS
// =============================================================================

// RecordMovement records a sale or a cash outflow.
func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	const op = "record_movement"
	var req RecordMovementRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	date, err := ledger.ParseBusinessDate(req.Date)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	kind := ledger.Kind(req.Kind)
	id, err := h.Engine.RecordMovement(r.Context(), kind, amount, req.Note, date)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.Metrics.ObserveOperation(op, nil)

	if date.IsZero() {
		date = h.Engine.Today()
	}
	writeJSON(w, http.StatusCreated, MovementDTO{
		ID:     int64(id),
		Kind:   string(kind),
		Amount: amount,
		Note:   strings.TrimSpace(req.Note),
		Date:   date.String(),
	})
}

// GetDaySummary returns the totals of one business date (default today).
func (h *Handler) GetDaySummary(w http.ResponseWriter, r *http.Request) {
	date, err := ledger.ParseBusinessDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, "day_summary", err)
		return
	}
	s, err := h.Engine.DaySummary(r.Context(), date)
	if err != nil {
		h.fail(w, r, "day_summary", err)
		return
	}
	writeJSON(w, http.StatusOK, DaySummaryDTO{
		Date:             s.Date.String(),
		Sales:            s.Sales,
		CashOut:          s.CashOut,
		CreditExtended:   s.CreditExtended,
		DebtPayments:     s.DebtPayments,
		SettlementIncome: s.SettlementIncome,
		Net:              s.Net,
	})
}

// GetDayTimeline returns the day's ticket, newest first.
func (h *Handler) GetDayTimeline(w http.ResponseWriter, r *http.Request) {
	date, err := ledger.ParseBusinessDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, "day_timeline", err)
		return
	}
	events, err := h.Engine.DayTimeline(r.Context(), date)
	if err != nil {
		h.fail(w, r, "day_timeline", err)
		return
	}
	dtos := make([]TimelineEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toTimelineEventDTO(ev, h.Location)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHistory returns per-date totals for the most recent dates.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := h.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(w, r, "history", ledger.Validationf("history", "limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}
	days, err := h.Engine.HistoryWindow(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "history", err)
		return
	}
	dtos := make([]HistoryDayDTO, len(days))
	for i, d := range days {
		dtos[i] = toHistoryDayDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns customers by latest activity, filtered by ?q=.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Engine.CustomerList(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, "list_customers", err)
		return
	}
	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerActivityDTO(c, h.Location)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer registers a customer with a zero balance.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	const op = "create_customer"
	var req CreateCustomerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	id, err := h.Engine.CreateCustomer(r.Context(), req.Name, req.Phone)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.Metrics.ObserveOperation(op, nil)

	c, err := h.Engine.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(*c))
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := customerIDParam(r)
	if err != nil {
		h.fail(w, r, "get_customer", err)
		return
	}
	c, err := h.Engine.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get_customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*c))
}

// UpdateCustomer replaces a customer's phone.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	const op = "update_customer_phone"
	id, err := customerIDParam(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	var req UpdateCustomerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := h.Engine.UpdateCustomerPhone(r.Context(), id, *req.Phone); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.Metrics.ObserveOperation(op, nil)

	c, err := h.Engine.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*c))
}

// GetCustomerLedger returns a customer and their debt log.
func (h *Handler) GetCustomerLedger(w http.ResponseWriter, r *http.Request) {
	id, err := customerIDParam(r)
	if err != nil {
		h.fail(w, r, "customer_ledger", err)
		return
	}
	c, err := h.Engine.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, "customer_ledger", err)
		return
	}
	entries, err := h.Engine.CustomerLedger(r.Context(), id)
	if err != nil {
		h.fail(w, r, "customer_ledger", err)
		return
	}
	dtos := make([]DebtEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toDebtEntryDTO(e, h.Location)
	}
	writeJSON(w, http.StatusOK, CustomerLedgerDTO{
		Customer: toCustomerDTO(*c),
		Entries:  dtos,
	})
}

// RecordPayment records a freeform payment against an account.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	const op = "record_payment"
	id, err := customerIDParam(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	var req PaymentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	receipt, err := h.Engine.RecordFreeformPayment(r.Context(), id, amount)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.Metrics.ObserveOperation(op, nil)

	writeJSON(w, http.StatusCreated, PaymentReceiptDTO{
		MovementID: int64(receipt.MovementID),
		EntryID:    int64(receipt.EntryID),
		Balance:    receipt.Balance,
	})
}

// =============================================================================
// CREDIT HANDLERS
// =============================================================================

// ExtendCredit logs new debt for an existing or a new customer.
func (h *Handler) ExtendCredit(w http.ResponseWriter, r *http.Request) {
	const op = "extend_credit"
	var req ExtendCreditRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	hasID := req.CustomerID != nil
	hasName := strings.TrimSpace(req.NewCustomerName) != ""
	if hasID == hasName {
		h.fail(w, r, op, ledger.Validationf(op, "exactly one of customer_id or new_customer_name is required"))
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	date, err := ledger.ParseBusinessDate(req.Date)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	var receipt ledger.CreditReceipt
	if hasID {
		receipt, err = h.Engine.ExtendCredit(r.Context(), ledger.CustomerID(*req.CustomerID), amount, req.Detail, date)
	} else {
		receipt, err = h.Engine.CreateCustomerAndExtendCredit(r.Context(), req.NewCustomerName, amount, req.Detail, date)
	}
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.Metrics.ObserveOperation(op, nil)

	writeJSON(w, http.StatusCreated, CreditReceiptDTO{
		EntryID:    int64(receipt.EntryID),
		CustomerID: int64(receipt.CustomerID),
	})
}

// SettleDebtItem closes one debt line. The body is optional.
func (h *Handler) SettleDebtItem(w http.ResponseWriter, r *http.Request) {
	const op = "settle_debt_item"
	id, err := int64Param(r, "id")
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	var req SettleRequest
	if err := h.decodeOptional(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	date, err := ledger.ParseBusinessDate(req.Date)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	receipt, err := h.Engine.SettleDebtItem(r.Context(), ledger.EntryID(id), date)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.Metrics.ObserveOperation(op, nil)

	writeJSON(w, http.StatusOK, SettlementReceiptDTO{
		MovementID:     int64(receipt.MovementID),
		PaymentEntryID: int64(receipt.PaymentEntryID),
		CustomerID:     int64(receipt.CustomerID),
		Amount:         receipt.Amount,
	})
}

// =============================================================================
// CORRECTION HANDLERS
// =============================================================================

// DeleteEvent reverses a timeline event.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	const op = "delete_event"
	kind, err := ledger.ParseEventKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	id, err := int64Param(r, "id")
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := h.Engine.DeleteEvent(r.Context(), id, kind); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.Metrics.ObserveOperation(op, nil)

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListConsistencyRuns returns recent balance checks.
func (h *Handler) ListConsistencyRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(w, r, "consistency_runs", ledger.Validationf("consistency runs", "limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}
	runs, err := h.Engine.ConsistencyRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "consistency_runs", err)
		return
	}
	dtos := make([]ConsistencyRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toConsistencyRunDTO(run, h.Location)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CheckConsistency compares every cached balance with its debt log now.
func (h *Handler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.CheckConsistency(r.Context())
	h.Metrics.ObserveConsistency(report, err)
	if err != nil {
		h.fail(w, r, "check_consistency", err)
		return
	}
	if !report.Consistent() {
		h.Log.Warn("balance drift detected",
			zap.Int("drifted", len(report.Drifts)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	}
	writeJSON(w, http.StatusOK, toConsistencyReportDTO(report, h.Location))
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			h.Log.Error("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps a ledger error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case ledger.CodeValidation:
		return http.StatusBadRequest
	case ledger.CodeNotFound:
		return http.StatusNotFound
	case ledger.CodeDuplicateName, ledger.CodeAlreadySettled:
		return http.StatusConflict
	case ledger.CodeUnsupportedCorrection:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := ledger.Code(err)
	message := err.Error()
	if code == ledger.CodeStorage {
		message = "the ledger could not be read or updated, try again"
	}
	writeJSON(w, statusFor(code), ErrorResponse{Error: code, Message: message})
}

// fail records and reports a failed operation. Storage errors are logged
// with their cause; client errors only at debug level.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.Metrics.ObserveOperation(op, err)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("code", ledger.Code(err)),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
	if ledger.IsClientError(err) {
		h.Log.Debug("request rejected", fields...)
	} else {
		h.Log.Error("operation failed", fields...)
	}
	writeError(w, err)
}

// newDecoder reads at most maxBodyBytes and refuses fields dst does not
// declare.
func newDecoder(w http.ResponseWriter, r *http.Request) *json.Decoder {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec
}

// decode reads a JSON body into dst and validates its struct tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := newDecoder(w, r).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ledger.Validationf("decode request", "request body is required")
		}
		return ledger.Validationf("decode request", "invalid request body: %v", err)
	}
	return h.check(dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := newDecoder(w, r).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return ledger.Validationf("decode request", "invalid request body: %v", err)
	}
	return h.check(dst)
}

func (h *Handler) check(dst any) error {
	err := h.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return ledger.Validationf("validate request", "%s", fieldMessage(fe))
	}
	return ledger.Validationf("validate request", "%v", err)
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted YYYY-MM-DD", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", field, fe.Tag())
	}
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ledger.Validationf("parse path", "invalid %s %q", name, raw)
	}
	return id, nil
}

func customerIDParam(r *http.Request) (ledger.CustomerID, error) {
	id, err := int64Param(r, "id")
	return ledger.CustomerID(id), err
}
