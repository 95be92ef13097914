/*
Package ledger is the consistency engine behind the till.

PURPOSE:
  Records cash sales, cash outflows and store credit ("fiado") given to
  known customers, and keeps three record sets consistent with each other:

    movements   cash-drawer events (sales, outflows, payments received)
    customers   one row per customer with a cached running balance
    debt log    every credit extension and payment against an account

CENTRAL INVARIANT:
  customer.balance == SUM(amount) over the customer's debt-log rows.

  The debt log is the source of truth; the balance column is a cache that
  is only ever changed inside the same store transaction as the debt-log
  write that justifies it. See engine.go for the compound operations that
  are allowed to touch it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind:         closed set of movement kinds
  - Status:       PENDING / PAID lifecycle of a debt-log line
  - BusinessDate: the calendar day an event is attributed to
  - Movement, Customer, DebtEntry: the three persisted records

SEE ALSO:
  - engine.go:     compound, balance-affecting operations
  - correction.go: what can be reversed and how
  - aggregate.go:  read-side day and history summaries
  - store.go:      persistence interfaces
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	MovementID int64
	CustomerID int64
	EntryID    int64
)

// =============================================================================
// MOVEMENT KINDS
// =============================================================================

// Kind is the type of a cash-drawer movement. The set is closed.
type Kind string

const (
	KindSale                 Kind = "SALE"
	KindCashOut              Kind = "CASH_OUT"
	KindDebtPayment          Kind = "DEBT_PAYMENT"
	KindDebtSettlementIncome Kind = "DEBT_SETTLEMENT_INCOME"

	// KindNewCredit tags credit-extension rows in the day timeline. It is
	// not a movement kind: those rows live in the debt log.
	KindNewCredit Kind = "NEW_CREDIT"
)

// MovementKinds lists every kind a movement row may carry.
var MovementKinds = []Kind{KindSale, KindCashOut, KindDebtPayment, KindDebtSettlementIncome}

// Valid reports whether k may be stored on a movement.
func (k Kind) Valid() bool {
	switch k {
	case KindSale, KindCashOut, KindDebtPayment, KindDebtSettlementIncome:
		return true
	}
	return false
}

// ParseEventKind accepts any kind that can appear in a day timeline.
func ParseEventKind(s string) (Kind, error) {
	k := Kind(s)
	if k.Valid() || k == KindNewCredit {
		return k, nil
	}
	return "", Validationf("parse kind", "unknown event kind %q", s)
}

// =============================================================================
// DEBT STATUS
// =============================================================================

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
)

// =============================================================================
// BUSINESS DATE
// =============================================================================

// BusinessDate is the day an event is attributed to, formatted YYYY-MM-DD.
// It is chosen by the caller and is independent of the recording time, so a
// sale can be back-dated to yesterday's ticket.
type BusinessDate string

const dateLayout = "2006-01-02"

// ParseBusinessDate validates s. An empty string yields the zero date, which
// operations replace with today.
func ParseBusinessDate(s string) (BusinessDate, error) {
	if s == "" {
		return "", nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", Validationf("parse date", "invalid business date %q (use YYYY-MM-DD)", s)
	}
	return BusinessDate(t.Format(dateLayout)), nil
}

// DateOf returns the business date of t in t's location.
func DateOf(t time.Time) BusinessDate {
	return BusinessDate(t.Format(dateLayout))
}

func (d BusinessDate) IsZero() bool   { return d == "" }
func (d BusinessDate) String() string { return string(d) }

// Time returns midnight UTC of the date.
func (d BusinessDate) Time() time.Time {
	t, _ := time.Parse(dateLayout, string(d))
	return t
}

// =============================================================================
// RECORDS
// =============================================================================

// Movement is a cash-drawer event.
type Movement struct {
	ID           MovementID
	Kind         Kind
	Amount       int64
	Note         string
	BusinessDate BusinessDate
	RecordedAt   time.Time
	CustomerID   *CustomerID // payment attribution only
}

// NewMovement is the input to Tx.InsertMovement.
type NewMovement struct {
	Kind         Kind
	Amount       int64
	Note         string
	BusinessDate BusinessDate
	RecordedAt   time.Time
	CustomerID   *CustomerID
}

// Validate enforces the movement row invariants.
func (m NewMovement) Validate() error {
	if !m.Kind.Valid() {
		return Validationf("insert movement", "invalid movement kind %q", m.Kind)
	}
	if m.Amount < 0 {
		return Validationf("insert movement", "amount must not be negative, got %d", m.Amount)
	}
	if m.Amount > MaxAmount {
		return Validationf("insert movement", "amount %d exceeds the maximum of %d", m.Amount, MaxAmount)
	}
	if m.BusinessDate.IsZero() {
		return Validationf("insert movement", "business date is required")
	}
	return nil
}

// Customer is a person the shop extends credit to.
// Balance > 0: owes the shop. Balance < 0: the shop owes them.
type Customer struct {
	ID      CustomerID
	Name    string
	Phone   string
	Balance int64
}

// CustomerActivity is a customer plus the time of their latest debt-log row.
type CustomerActivity struct {
	Customer
	LastActivity *time.Time
}

// DebtEntry is one line of a customer's debt log.
// Positive amounts extend credit, negative amounts record money received.
type DebtEntry struct {
	ID             EntryID
	CustomerID     CustomerID
	Amount         int64
	Detail         string
	BusinessDate   BusinessDate
	RecordedAt     time.Time
	Status         Status
	SettlesEntryID *EntryID // set on the payment row written by SettleDebtItem
}

// IsCreditExtension reports whether the entry extends credit.
func (e DebtEntry) IsCreditExtension() bool { return e.Amount > 0 }

// NewDebtEntry is the input to Tx.InsertDebtEntry.
type NewDebtEntry struct {
	CustomerID     CustomerID
	Amount         int64
	Detail         string
	BusinessDate   BusinessDate
	RecordedAt     time.Time
	Status         Status
	SettlesEntryID *EntryID
}

// Validate enforces the status rule: credit starts PENDING, payments are
// created PAID.
func (e NewDebtEntry) Validate() error {
	switch {
	case e.CustomerID <= 0:
		return Validationf("insert debt entry", "customer is required")
	case e.BusinessDate.IsZero():
		return Validationf("insert debt entry", "business date is required")
	case e.Amount > MaxAmount || e.Amount < -MaxAmount:
		return Validationf("insert debt entry", "amount %d exceeds the maximum of %d", e.Amount, MaxAmount)
	case e.Amount > 0 && e.Status != StatusPending:
		return Validationf("insert debt entry", "credit extensions must start %s", StatusPending)
	case e.Amount <= 0 && e.Status != StatusPaid:
		return Validationf("insert debt entry", "payment entries must be created %s", StatusPaid)
	}
	return nil
}

// CreditLine is a credit extension enriched with the customer's name, as
// shown on the day timeline.
type CreditLine struct {
	DebtEntry
	CustomerName string
}
