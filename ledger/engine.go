/*
engine.go - Balance Invariant Engine

PURPOSE:
  The fixed set of compound operations that are the only sanctioned way to
  change balance-affecting state. Each one runs as a single Store.WithTx
  unit, so the debt-log write and the matching balance update commit
  together or not at all.

OPERATIONS:
  ExtendCredit                   +entry(PENDING), balance += amount
  CreateCustomerAndExtendCredit  new customer, then ExtendCredit, one unit
  SettleDebtItem                 entry -> PAID, balance -= amount,
                                 DEBT_PAYMENT movement, -entry(PAID)
  RecordFreeformPayment          -entry(PAID), balance -= amount,
                                 DEBT_SETTLEMENT_INCOME movement
  RecordSale / RecordCashOut     single movement, no balance coupling

  Validation happens before WithTx is entered. After a successful commit
  the Notifier is told that ledger state changed.

EXAMPLE FLOW:
  1. ExtendCredit(Ana, 1000, "bread")   log [+1000 PENDING]        balance 1000
  2. SettleDebtItem(entry)              log [+1000 PAID, -1000]    balance 0
                                        movement DEBT_PAYMENT 1000

SEE ALSO:
  - correction.go: reversals
  - aggregate.go:  read side
*/
package ledger

import (
	"context"
	"strings"
	"time"
)

// FreeformPaymentDetail is the debt-log detail of a payment that is not tied
// to one debt line.
const FreeformPaymentDetail = "payment"

// =============================================================================
// ENGINE
// =============================================================================

// Engine executes ledger operations against a Store.
type Engine struct {
	store       Store
	clock       Clock
	notifier    Notifier
	phoneRegion string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for "today" and recording timestamps.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithNotifier sets the listener told about committed mutations.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithPhoneRegion sets the default region for parsing phone numbers
// without a country code.
func WithPhoneRegion(region string) Option {
	return func(e *Engine) { e.phoneRegion = region }
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		clock:       SystemClock{},
		notifier:    nopNotifier{},
		phoneRegion: DefaultPhoneRegion,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today returns the current business date.
func (e *Engine) Today() BusinessDate {
	return DateOf(e.clock.Now())
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}

func (e *Engine) dateOrToday(d BusinessDate) BusinessDate {
	if d.IsZero() {
		return e.Today()
	}
	return d
}

// atomic runs fn in one transaction and signals listeners on commit.
func (e *Engine) atomic(ctx context.Context, op string, fn func(Tx) error) error {
	if err := e.store.WithTx(ctx, fn); err != nil {
		return StorageError(op, err)
	}
	e.notifier.Notify()
	return nil
}

// =============================================================================
// CASH MOVEMENTS
// =============================================================================

// RecordSale records a cash sale. A zero date means today.
func (e *Engine) RecordSale(ctx context.Context, amount int64, note string, date BusinessDate) (MovementID, error) {
	return e.recordMovement(ctx, "record sale", KindSale, amount, note, date)
}

// RecordCashOut records cash leaving the drawer. A zero date means today.
func (e *Engine) RecordCashOut(ctx context.Context, amount int64, note string, date BusinessDate) (MovementID, error) {
	return e.recordMovement(ctx, "record cash out", KindCashOut, amount, note, date)
}

// RecordMovement records a SALE or CASH_OUT chosen by the caller. Payment
// kinds are refused: they only arise from the debt operations below.
func (e *Engine) RecordMovement(ctx context.Context, kind Kind, amount int64, note string, date BusinessDate) (MovementID, error) {
	switch kind {
	case KindSale:
		return e.RecordSale(ctx, amount, note, date)
	case KindCashOut:
		return e.RecordCashOut(ctx, amount, note, date)
	default:
		return 0, Validationf("record movement", "kind %q cannot be recorded directly", kind)
	}
}

func (e *Engine) recordMovement(ctx context.Context, op string, kind Kind, amount int64, note string, date BusinessDate) (MovementID, error) {
	if err := requireNonNegative(op, amount); err != nil {
		return 0, err
	}
	m := NewMovement{
		Kind:         kind,
		Amount:       amount,
		Note:         strings.TrimSpace(note),
		BusinessDate: e.dateOrToday(date),
		RecordedAt:   e.now(),
	}
	if err := m.Validate(); err != nil {
		return 0, err
	}

	var id MovementID
	err := e.atomic(ctx, op, func(tx Tx) error {
		var err error
		id, err = tx.InsertMovement(ctx, m)
		return err
	})
	return id, err
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// CreateCustomer registers a customer with a zero balance.
func (e *Engine) CreateCustomer(ctx context.Context, name, phone string) (CustomerID, error) {
	const op = "create customer"
	name, err := normalizeName(op, name)
	if err != nil {
		return 0, err
	}
	phone, err = NormalizePhone(phone, e.phoneRegion)
	if err != nil {
		return 0, err
	}

	var id CustomerID
	err = e.atomic(ctx, op, func(tx Tx) error {
		var err error
		id, err = insertCustomer(ctx, tx, name, phone)
		return err
	})
	return id, err
}

// UpdateCustomerPhone replaces a customer's phone. An empty phone clears it.
func (e *Engine) UpdateCustomerPhone(ctx context.Context, id CustomerID, phone string) error {
	const op = "update customer phone"
	phone, err := NormalizePhone(phone, e.phoneRegion)
	if err != nil {
		return err
	}
	return e.atomic(ctx, op, func(tx Tx) error {
		if _, err := requireCustomer(ctx, tx, op, id); err != nil {
			return err
		}
		return tx.UpdateCustomerPhone(ctx, id, phone)
	})
}

// GetCustomer returns one customer.
func (e *Engine) GetCustomer(ctx context.Context, id CustomerID) (*Customer, error) {
	c, err := e.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, StorageError("get customer", err)
	}
	if c == nil {
		return nil, NotFoundf("get customer", "customer %d not found", id)
	}
	return c, nil
}

func normalizeName(op, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Validationf(op, "customer name is required")
	}
	return name, nil
}

// insertCustomer checks the name first so the common case reports a clean
// DuplicateNameError; the UNIQUE constraint still backs it up.
func insertCustomer(ctx context.Context, tx Tx, name, phone string) (CustomerID, error) {
	existing, err := tx.FindCustomerByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, &DuplicateNameError{Name: name}
	}
	return tx.InsertCustomer(ctx, name, phone)
}

func requireCustomer(ctx context.Context, tx Tx, op string, id CustomerID) (*Customer, error) {
	c, err := tx.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, NotFoundf(op, "customer %d not found", id)
	}
	return c, nil
}

// =============================================================================
// CREDIT EXTENSION
// =============================================================================

// CreditReceipt identifies the rows written by a credit extension.
type CreditReceipt struct {
	EntryID    EntryID
	CustomerID CustomerID
}

// ExtendCredit logs new debt for an existing customer. The amount must be
// positive: money received goes through SettleDebtItem or
// RecordFreeformPayment, and a mistaken line is removed with DeleteEvent.
func (e *Engine) ExtendCredit(ctx context.Context, customerID CustomerID, amount int64, detail string, date BusinessDate) (CreditReceipt, error) {
	const op = "extend credit"
	if err := requirePositive(op, amount); err != nil {
		return CreditReceipt{}, err
	}
	date = e.dateOrToday(date)

	var receipt CreditReceipt
	err := e.atomic(ctx, op, func(tx Tx) error {
		customer, err := requireCustomer(ctx, tx, op, customerID)
		if err != nil {
			return err
		}
		receipt, err = e.extendCredit(ctx, tx, op, customer.ID, customer.Balance, amount, detail, date)
		return err
	})
	return receipt, err
}

// CreateCustomerAndExtendCredit creates a customer and logs their first debt
// in one atomic unit.
func (e *Engine) CreateCustomerAndExtendCredit(ctx context.Context, name string, amount int64, detail string, date BusinessDate) (CreditReceipt, error) {
	const op = "create customer and extend credit"
	name, err := normalizeName(op, name)
	if err != nil {
		return CreditReceipt{}, err
	}
	if err := requirePositive(op, amount); err != nil {
		return CreditReceipt{}, err
	}
	date = e.dateOrToday(date)

	var receipt CreditReceipt
	err = e.atomic(ctx, op, func(tx Tx) error {
		customerID, err := insertCustomer(ctx, tx, name, "")
		if err != nil {
			return err
		}
		receipt, err = e.extendCredit(ctx, tx, op, customerID, 0, amount, detail, date)
		return err
	})
	return receipt, err
}

func (e *Engine) extendCredit(ctx context.Context, tx Tx, op string, customerID CustomerID, balance, amount int64, detail string, date BusinessDate) (CreditReceipt, error) {
	if _, err := nextBalance(op, balance, amount); err != nil {
		return CreditReceipt{}, err
	}
	entry := NewDebtEntry{
		CustomerID:   customerID,
		Amount:       amount,
		Detail:       strings.TrimSpace(detail),
		BusinessDate: date,
		RecordedAt:   e.now(),
		Status:       StatusPending,
	}
	if err := entry.Validate(); err != nil {
		return CreditReceipt{}, err
	}
	id, err := tx.InsertDebtEntry(ctx, entry)
	if err != nil {
		return CreditReceipt{}, err
	}
	if err := tx.UpdateCustomerBalance(ctx, customerID, amount); err != nil {
		return CreditReceipt{}, err
	}
	return CreditReceipt{EntryID: id, CustomerID: customerID}, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SettlementReceipt identifies the rows written by SettleDebtItem.
type SettlementReceipt struct {
	MovementID     MovementID
	PaymentEntryID EntryID
	CustomerID     CustomerID
	Amount         int64
}

// SettleDebtItem closes one debt line and records the cash received for it
// on paymentDate (zero means today).
func (e *Engine) SettleDebtItem(ctx context.Context, entryID EntryID, paymentDate BusinessDate) (SettlementReceipt, error) {
	const op = "settle debt item"
	paymentDate = e.dateOrToday(paymentDate)

	var receipt SettlementReceipt
	err := e.atomic(ctx, op, func(tx Tx) error {
		entry, err := tx.GetDebtEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return NotFoundf(op, "debt item %d not found", entryID)
		}
		if entry.Status == StatusPaid {
			return &AlreadySettledError{EntryID: entryID}
		}
		customer, err := requireCustomer(ctx, tx, op, entry.CustomerID)
		if err != nil {
			return err
		}
		if _, err := nextBalance(op, customer.Balance, -entry.Amount); err != nil {
			return err
		}

		if err := tx.SetDebtEntryStatus(ctx, entryID, StatusPaid); err != nil {
			return err
		}
		if err := tx.UpdateCustomerBalance(ctx, entry.CustomerID, -entry.Amount); err != nil {
			return err
		}

		recordedAt := e.now()
		customerID := entry.CustomerID
		movementID, err := tx.InsertMovement(ctx, NewMovement{
			Kind:         KindDebtPayment,
			Amount:       entry.Amount,
			Note:         paymentNote(entry.Detail),
			BusinessDate: paymentDate,
			RecordedAt:   recordedAt,
			CustomerID:   &customerID,
		})
		if err != nil {
			return err
		}

		settled := entryID
		paymentID, err := tx.InsertDebtEntry(ctx, NewDebtEntry{
			CustomerID:     entry.CustomerID,
			Amount:         -entry.Amount,
			Detail:         paymentNote(entry.Detail),
			BusinessDate:   paymentDate,
			RecordedAt:     recordedAt,
			Status:         StatusPaid,
			SettlesEntryID: &settled,
		})
		if err != nil {
			return err
		}

		receipt = SettlementReceipt{
			MovementID:     movementID,
			PaymentEntryID: paymentID,
			CustomerID:     entry.CustomerID,
			Amount:         entry.Amount,
		}
		return nil
	})
	return receipt, err
}

func paymentNote(detail string) string {
	if detail == "" {
		return "Payment"
	}
	return "Payment: " + detail
}

// PaymentReceipt identifies the rows written by RecordFreeformPayment.
type PaymentReceipt struct {
	MovementID MovementID
	EntryID    EntryID
	Balance    int64
}

// RecordFreeformPayment records cash handed over against a customer's account
// without closing a specific debt line. The balance may go negative, which
// leaves the customer with credit in their favor.
func (e *Engine) RecordFreeformPayment(ctx context.Context, customerID CustomerID, amount int64) (PaymentReceipt, error) {
	const op = "record payment"
	if err := requirePositive(op, amount); err != nil {
		return PaymentReceipt{}, err
	}
	today := e.Today()

	var receipt PaymentReceipt
	err := e.atomic(ctx, op, func(tx Tx) error {
		customer, err := requireCustomer(ctx, tx, op, customerID)
		if err != nil {
			return err
		}
		balance, err := nextBalance(op, customer.Balance, -amount)
		if err != nil {
			return err
		}

		recordedAt := e.now()
		entryID, err := tx.InsertDebtEntry(ctx, NewDebtEntry{
			CustomerID:   customerID,
			Amount:       -amount,
			Detail:       FreeformPaymentDetail,
			BusinessDate: today,
			RecordedAt:   recordedAt,
			Status:       StatusPaid,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateCustomerBalance(ctx, customerID, -amount); err != nil {
			return err
		}
		movementID, err := tx.InsertMovement(ctx, NewMovement{
			Kind:         KindDebtSettlementIncome,
			Amount:       amount,
			Note:         "Payment from " + customer.Name,
			BusinessDate: today,
			RecordedAt:   recordedAt,
			CustomerID:   &customerID,
		})
		if err != nil {
			return err
		}

		receipt = PaymentReceipt{
			MovementID: movementID,
			EntryID:    entryID,
			Balance:    balance,
		}
		return nil
	})
	return receipt, err
}
