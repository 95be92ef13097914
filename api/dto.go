/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Amounts are integers in minor currency units. Request amounts decode into
  decimal.NullDecimal so a missing field, a fraction or a non-numeric value
  is reported as a validation error instead of silently becoming zero.
  Quoted numbers ("1500") are accepted.

VALIDATION:
  Struct tags are checked with go-playground/validator before the engine is
  called. Business rules (positive amounts, known customer, unique name)
  stay in the ledger package.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/despensa/till/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RecordMovementRequest records a sale or a cash outflow.
type RecordMovementRequest struct {
	Kind   string              `json:"kind" validate:"required,oneof=SALE CASH_OUT"`
	Amount decimal.NullDecimal `json:"amount"`
	Note   string              `json:"note" validate:"max=500"`
	Date   string              `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// CreateCustomerRequest registers a customer without extending credit.
type CreateCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"max=32"`
}

// UpdateCustomerRequest replaces a customer's phone. An empty string clears it.
type UpdateCustomerRequest struct {
	Phone *string `json:"phone" validate:"required,max=32"`
}

// ExtendCreditRequest logs new debt against an existing customer
// (customer_id) or a customer created on the spot (new_customer_name).
// Exactly one of the two must be set.
type ExtendCreditRequest struct {
	CustomerID      *int64              `json:"customer_id" validate:"omitempty,gt=0"`
	NewCustomerName string              `json:"new_customer_name" validate:"max=120"`
	Amount          decimal.NullDecimal `json:"amount"`
	Detail          string              `json:"detail" validate:"max=500"`
	Date            string              `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// SettleRequest optionally backdates the payment of a debt line.
type SettleRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// PaymentRequest records money handed over against an account.
type PaymentRequest struct {
	Amount decimal.NullDecimal `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// MovementDTO is a created movement.
type MovementDTO struct {
	ID     int64  `json:"id"`
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
	Date   string `json:"date"`
}

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	Balance      int64   `json:"balance"`
	LastActivity *string `json:"last_activity,omitempty"`
}

// DebtEntryDTO is one line of a customer's ledger.
type DebtEntryDTO struct {
	ID             int64  `json:"id"`
	CustomerID     int64  `json:"customer_id"`
	Amount         int64  `json:"amount"`
	Detail         string `json:"detail"`
	Date           string `json:"date"`
	RecordedAt     string `json:"recorded_at"`
	Status         string `json:"status"`
	SettlesEntryID *int64 `json:"settles_entry_id,omitempty"`
}

// CustomerLedgerDTO is a customer with their debt log, newest first.
type CustomerLedgerDTO struct {
	Customer CustomerDTO    `json:"customer"`
	Entries  []DebtEntryDTO `json:"entries"`
}

// CreditReceiptDTO identifies the rows written by a credit extension.
type CreditReceiptDTO struct {
	EntryID    int64 `json:"entry_id"`
	CustomerID int64 `json:"customer_id"`
}

// SettlementReceiptDTO identifies the rows written by a settlement.
type SettlementReceiptDTO struct {
	MovementID     int64 `json:"movement_id"`
	PaymentEntryID int64 `json:"payment_entry_id"`
	CustomerID     int64 `json:"customer_id"`
	Amount         int64 `json:"amount"`
}

// PaymentReceiptDTO identifies the rows written by a freeform payment.
type PaymentReceiptDTO struct {
	MovementID int64 `json:"movement_id"`
	EntryID    int64 `json:"entry_id"`
	Balance    int64 `json:"balance"`
}

// DaySummaryDTO holds the cash totals of one business date.
type DaySummaryDTO struct {
	Date             string `json:"date"`
	Sales            int64  `json:"sales"`
	CashOut          int64  `json:"cash_out"`
	CreditExtended   int64  `json:"credit_extended"`
	DebtPayments     int64  `json:"debt_payments"`
	SettlementIncome int64  `json:"settlement_income"`
	Net              int64  `json:"net"`
}

// TimelineEventDTO is one line of the day's ticket.
type TimelineEventDTO struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"`
	Detail       string `json:"detail"`
	Date         string `json:"date"`
	RecordedAt   string `json:"recorded_at"`
	CustomerID   *int64 `json:"customer_id,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	Status       string `json:"status,omitempty"`
	Reversible   bool   `json:"reversible"`
}

// HistoryDayDTO is one row of the history window.
type HistoryDayDTO struct {
	Date             string `json:"date"`
	Sales            int64  `json:"sales"`
	CashOut          int64  `json:"cash_out"`
	DebtPayments     int64  `json:"debt_payments"`
	SettlementIncome int64  `json:"settlement_income"`
	CreditExtended   int64  `json:"credit_extended"`
}

// ConsistencyRunDTO is the stored outcome of one balance check.
type ConsistencyRunDTO struct {
	ID         int64  `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Customers  int    `json:"customers"`
	Drifted    int    `json:"drifted"`
	Repaired   bool   `json:"repaired"`
	Error      string `json:"error,omitempty"`
}

// BalanceDriftDTO is a customer whose cached balance disagrees with the log.
type BalanceDriftDTO struct {
	CustomerID int64  `json:"customer_id"`
	Name       string `json:"name"`
	Cached     int64  `json:"cached"`
	LogSum     int64  `json:"log_sum"`
}

// ConsistencyReportDTO is the result of an on-demand check.
type ConsistencyReportDTO struct {
	Run        ConsistencyRunDTO `json:"run"`
	Consistent bool              `json:"consistent"`
	Drifts     []BalanceDriftDTO `json:"drifts"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:      int64(c.ID),
		Name:    c.Name,
		Phone:   c.Phone,
		Balance: c.Balance,
	}
}

func toCustomerActivityDTO(c ledger.CustomerActivity, loc *time.Location) CustomerDTO {
	dto := toCustomerDTO(c.Customer)
	if c.LastActivity != nil {
		s := formatTime(*c.LastActivity, loc)
		dto.LastActivity = &s
	}
	return dto
}

func toDebtEntryDTO(e ledger.DebtEntry, loc *time.Location) DebtEntryDTO {
	dto := DebtEntryDTO{
		ID:         int64(e.ID),
		CustomerID: int64(e.CustomerID),
		Amount:     e.Amount,
		Detail:     e.Detail,
		Date:       e.BusinessDate.String(),
		RecordedAt: formatTime(e.RecordedAt, loc),
		Status:     string(e.Status),
	}
	if e.SettlesEntryID != nil {
		id := int64(*e.SettlesEntryID)
		dto.SettlesEntryID = &id
	}
	return dto
}

func toTimelineEventDTO(ev ledger.TimelineEvent, loc *time.Location) TimelineEventDTO {
	dto := TimelineEventDTO{
		ID:           ev.ID,
		Kind:         string(ev.Kind),
		Amount:       ev.Amount,
		Detail:       ev.Detail,
		Date:         ev.BusinessDate.String(),
		RecordedAt:   formatTime(ev.RecordedAt, loc),
		CustomerName: ev.CustomerName,
		Status:       string(ev.Status),
		Reversible:   ev.Reversible(),
	}
	if ev.CustomerID != nil {
		id := int64(*ev.CustomerID)
		dto.CustomerID = &id
	}
	return dto
}

func toHistoryDayDTO(d ledger.DailyTotals) HistoryDayDTO {
	return HistoryDayDTO{
		Date:             d.Date.String(),
		Sales:            d.Sales,
		CashOut:          d.CashOut,
		DebtPayments:     d.DebtPayments,
		SettlementIncome: d.SettlementIncome,
		CreditExtended:   d.CreditExtended,
	}
}

func toConsistencyRunDTO(r ledger.ConsistencyRun, loc *time.Location) ConsistencyRunDTO {
	return ConsistencyRunDTO{
		ID:         r.ID,
		StartedAt:  formatTime(r.StartedAt, loc),
		FinishedAt: formatTime(r.FinishedAt, loc),
		Customers:  r.Customers,
		Drifted:    r.Drifted,
		Repaired:   r.Repaired,
		Error:      r.Error,
	}
}

func toConsistencyReportDTO(r ledger.ConsistencyReport, loc *time.Location) ConsistencyReportDTO {
	drifts := make([]BalanceDriftDTO, len(r.Drifts))
	for i, d := range r.Drifts {
		drifts[i] = BalanceDriftDTO{
			CustomerID: int64(d.CustomerID),
			Name:       d.Name,
			Cached:     d.Cached,
			LogSum:     d.LogSum,
		}
	}
	return ConsistencyReportDTO{
		Run:        toConsistencyRunDTO(r.Run, loc),
		Consistent: r.Consistent(),
		Drifts:     drifts,
	}
}

func formatTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(time.RFC3339)
}
