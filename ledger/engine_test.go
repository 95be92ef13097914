/*
engine_test.go - Tests for the balance invariant engine

Tests for:
  - Balance == sum of the debt log after every compound operation
  - Atomicity: a failure half way through leaves nothing behind
  - Settle twice, duplicate names, freeform payments
  - The end-to-end "Ana" flow
*/
package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/despensa/till/ledger"
	"github.com/despensa/till/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march10 = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*ledger.Engine, *sqlite.Store, *ledger.FakeClock) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := ledger.NewFakeClock(march10)
	return ledger.NewEngine(store, ledger.WithClock(clock)), store, clock
}

// requireBalanceMatchesLog asserts the central invariant for one customer.
func requireBalanceMatchesLog(t *testing.T, store *sqlite.Store, id ledger.CustomerID) int64 {
	t.Helper()
	ctx := context.Background()

	c, err := store.GetCustomer(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c, "customer %d should exist", id)

	entries, err := store.CustomerEntries(ctx, id)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	require.Equal(t, sum, c.Balance, "balance of customer %d must equal its debt-log sum", id)
	return c.Balance
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify() { c.n++ }

// =============================================================================
// BALANCE INVARIANT
// =============================================================================

func TestEngine_RandomOperations_BalanceMatchesLog(t *testing.T) {
	// GIVEN: Three customers
	// WHEN: A long random sequence of credit, settlement, payment and
	//       credit reversal runs against them
	// THEN: After every step, every balance equals its debt-log sum

	engine, store, clock := newTestEngine(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var customers []ledger.CustomerID
	for _, name := range []string{"Ana", "Beto", "Carla"} {
		id, err := engine.CreateCustomer(ctx, name, "")
		require.NoError(t, err)
		customers = append(customers, id)
	}

	var pending []ledger.EntryID
	for step := 0; step < 300; step++ {
		clock.Advance(time.Minute)
		customer := customers[rng.Intn(len(customers))]

		switch op := rng.Intn(4); {
		case op == 0 || len(pending) == 0:
			r, err := engine.ExtendCredit(ctx, customer, int64(rng.Intn(5000)+1), "goods", "")
			require.NoError(t, err)
			pending = append(pending, r.EntryID)
		case op == 1:
			i := rng.Intn(len(pending))
			_, err := engine.SettleDebtItem(ctx, pending[i], "")
			require.NoError(t, err)
			pending = append(pending[:i], pending[i+1:]...)
		case op == 2:
			_, err := engine.RecordFreeformPayment(ctx, customer, int64(rng.Intn(3000)+1))
			require.NoError(t, err)
		case op == 3:
			i := rng.Intn(len(pending))
			require.NoError(t, engine.DeleteEvent(ctx, int64(pending[i]), ledger.KindNewCredit))
			pending = append(pending[:i], pending[i+1:]...)
		}

		for _, id := range customers {
			requireBalanceMatchesLog(t, store, id)
		}
	}

	report, err := engine.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 3, report.Run.Customers)
}

// =============================================================================
// ATOMICITY
// =============================================================================

// failingStore injects a failure into the balance update, after the
// debt-log row has been written in the same transaction.
type failingStore struct {
	*sqlite.Store
}

func (s failingStore) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx ledger.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

type failingTx struct {
	ledger.Tx
}

var errInjected = errors.New("injected failure")

func (failingTx) UpdateCustomerBalance(context.Context, ledger.CustomerID, int64) error {
	return errInjected
}

func TestEngine_FailureMidTransaction_NothingCommitted(t *testing.T) {
	// GIVEN: Ana with a 1000 balance and one pending line
	// WHEN: The balance update fails after the log insert (credit, payment,
	//       settlement, and create-and-extend)
	// THEN: No log row, movement, customer or balance change is visible

	healthy, store, _ := newTestEngine(t)
	ctx := context.Background()

	receipt, err := healthy.CreateCustomerAndExtendCredit(ctx, "Ana", 1000, "bread", "")
	require.NoError(t, err)

	notifier := &countingNotifier{}
	broken := ledger.NewEngine(failingStore{store},
		ledger.WithClock(ledger.NewFakeClock(march10)),
		ledger.WithNotifier(notifier),
	)

	_, err = broken.ExtendCredit(ctx, receipt.CustomerID, 500, "milk", "")
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, ledger.CodeStorage, ledger.Code(err))

	_, err = broken.RecordFreeformPayment(ctx, receipt.CustomerID, 300)
	require.ErrorIs(t, err, errInjected)

	_, err = broken.SettleDebtItem(ctx, receipt.EntryID, "")
	require.ErrorIs(t, err, errInjected)

	_, err = broken.CreateCustomerAndExtendCredit(ctx, "Beto", 200, "soda", "")
	require.ErrorIs(t, err, errInjected)

	assert.Zero(t, notifier.n, "failed operations must not signal a change")

	balance := requireBalanceMatchesLog(t, store, receipt.CustomerID)
	assert.Equal(t, int64(1000), balance)

	entries, err := store.CustomerEntries(ctx, receipt.CustomerID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.StatusPending, entries[0].Status)

	movements, err := store.MovementsOn(ctx, "2025-03-10")
	require.NoError(t, err)
	assert.Empty(t, movements)

	count, err := store.CountCustomers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "Beto must not exist after the rollback")
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestEngine_SettleTwice_SecondFails(t *testing.T) {
	// GIVEN: A pending 700 line
	// WHEN: Settling it twice
	// THEN: The second call fails with AlreadySettledError and the balance
	//       reflects one settlement

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	r, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 700, "cheese", "")
	require.NoError(t, err)

	_, err = engine.SettleDebtItem(ctx, r.EntryID, "")
	require.NoError(t, err)

	_, err = engine.SettleDebtItem(ctx, r.EntryID, "")
	var settled *ledger.AlreadySettledError
	require.ErrorAs(t, err, &settled)
	assert.Equal(t, r.EntryID, settled.EntryID)
	assert.Equal(t, ledger.CodeAlreadySettled, ledger.Code(err))

	assert.Equal(t, int64(0), requireBalanceMatchesLog(t, store, r.CustomerID))

	summary, err := engine.DaySummary(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(700), summary.DebtPayments, "exactly one payment movement")
}

func TestEngine_SettleMissingEntry_NotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.SettleDebtItem(context.Background(), 999, "")

	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestEngine_SettleOnEarlierDate_PaymentUsesThatDate(t *testing.T) {
	// GIVEN: Credit extended on March 1
	// WHEN: Settled with an explicit payment date of March 5
	// THEN: The DEBT_PAYMENT movement and payment row carry March 5; the
	//       credit stays on March 1

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	r, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 400, "rice", "2025-03-01")
	require.NoError(t, err)

	receipt, err := engine.SettleDebtItem(ctx, r.EntryID, "2025-03-05")
	require.NoError(t, err)
	assert.Equal(t, int64(400), receipt.Amount)

	m, err := store.GetMovement(ctx, receipt.MovementID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, ledger.KindDebtPayment, m.Kind)
	assert.Equal(t, ledger.BusinessDate("2025-03-05"), m.BusinessDate)
	assert.Equal(t, "Payment: rice", m.Note)
	require.NotNil(t, m.CustomerID)
	assert.Equal(t, r.CustomerID, *m.CustomerID)

	payment, err := store.GetDebtEntry(ctx, receipt.PaymentEntryID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, int64(-400), payment.Amount)
	assert.Equal(t, ledger.StatusPaid, payment.Status)
	require.NotNil(t, payment.SettlesEntryID)
	assert.Equal(t, r.EntryID, *payment.SettlesEntryID)

	march1, err := engine.DaySummary(ctx, "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(400), march1.CreditExtended)
	assert.Zero(t, march1.DebtPayments)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func TestEngine_DuplicateName_Rejected(t *testing.T) {
	// GIVEN: Ana exists
	// WHEN: Creating Ana again, directly or through a credit extension
	// THEN: DuplicateNameError, and only one Ana row

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateCustomer(ctx, "Ana", "")
	require.NoError(t, err)

	_, err = engine.CreateCustomer(ctx, "Ana", "")
	var dup *ledger.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Ana", dup.Name)
	assert.Equal(t, ledger.CodeDuplicateName, ledger.Code(err))

	_, err = engine.CreateCustomerAndExtendCredit(ctx, "  Ana ", 100, "bread", "")
	assert.ErrorIs(t, err, ledger.ErrDuplicateName)

	list, err := engine.CustomerList(ctx, "ana")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Zero(t, list[0].Balance, "the rejected extension must not touch Ana")
}

func TestEngine_CreateCustomer_Validation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateCustomer(ctx, "   ", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = engine.CreateCustomer(ctx, "Ana", "not a phone")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestEngine_UpdateCustomerPhone(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.CreateCustomer(ctx, "Ana", "+54 9 11 2345-6789")
	require.NoError(t, err)

	c, err := engine.GetCustomer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "+5491123456789", c.Phone)

	require.NoError(t, engine.UpdateCustomerPhone(ctx, id, ""))
	c, err = engine.GetCustomer(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, c.Phone)

	err = engine.UpdateCustomerPhone(ctx, 404, "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestEngine_ConcurrentExtendCredit_Serialized(t *testing.T) {
	// GIVEN: One customer in a file-backed store
	// WHEN: 50 goroutines extend credit of 10 while others read day summaries
	// THEN: No update is lost: the balance is 500 and matches the log

	store, err := sqlite.New(filepath.Join(t.TempDir(), "till.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	engine := ledger.NewEngine(store, ledger.WithClock(ledger.NewFakeClock(march10)))
	ctx := context.Background()

	id, err := engine.CreateCustomer(ctx, "Ana", "")
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := engine.ExtendCredit(ctx, id, 10, "bread", ""); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			summary, err := engine.DaySummary(ctx, "")
			if err != nil {
				errs <- err
				return
			}
			if summary.CreditExtended%10 != 0 || summary.CreditExtended > 10*writers {
				errs <- fmt.Errorf("summary saw a partial write: %d", summary.CreditExtended)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int64(10*writers), requireBalanceMatchesLog(t, store, id))
	entries, err := engine.CustomerLedger(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, writers)
}

// =============================================================================
// CREDIT AND PAYMENTS
// =============================================================================

func TestEngine_ExtendCredit_Validation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.CreateCustomer(ctx, "Ana", "")
	require.NoError(t, err)

	_, err = engine.ExtendCredit(ctx, id, 0, "nothing", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = engine.ExtendCredit(ctx, id, -10, "negative", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = engine.ExtendCredit(ctx, 404, 100, "ghost", "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestEngine_AmountLimits(t *testing.T) {
	// GIVEN: A customer and an empty day
	// WHEN: Amounts above MaxAmount are offered to every writer
	// THEN: Each is a validation error and nothing is written

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.CreateCustomer(ctx, "Ana", "")
	require.NoError(t, err)

	huge := int64(math.MaxInt64)
	_, err = engine.CreateCustomerAndExtendCredit(ctx, "Beto", huge, "everything", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, err = engine.ExtendCredit(ctx, id, ledger.MaxAmount+1, "too much", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, err = engine.RecordFreeformPayment(ctx, id, huge)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, err = engine.RecordSale(ctx, huge, "", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, err = engine.RecordCashOut(ctx, ledger.MaxAmount+1, "", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	customers, err := engine.CustomerList(ctx, "")
	require.NoError(t, err)
	assert.Len(t, customers, 1, "Beto was never created")
	assert.Equal(t, int64(0), requireBalanceMatchesLog(t, store, id))

	summary, err := engine.DaySummary(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, summary.Sales)
	assert.Zero(t, summary.CashOut)
}

func TestEngine_BalanceLimit_StaysInteger(t *testing.T) {
	// GIVEN: Ana's balance sits 10 below MaxBalance
	// WHEN: Credit of 11 is extended, then credit of 10
	// THEN: The first is refused untouched, the second lands exactly on the
	//       limit and the customer stays readable

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.CreateCustomer(ctx, "Ana", "")
	require.NoError(t, err)
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.UpdateCustomerBalance(ctx, id, ledger.MaxBalance-10)
	}))

	_, err = engine.ExtendCredit(ctx, id, 11, "one too many", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = engine.ExtendCredit(ctx, id, 10, "exactly", "")
	require.NoError(t, err)

	c, err := engine.GetCustomer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.MaxBalance, c.Balance)

	// The same bound holds on the way down.
	beto, err := engine.CreateCustomer(ctx, "Beto", "")
	require.NoError(t, err)
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.UpdateCustomerBalance(ctx, beto, -ledger.MaxBalance+5)
	}))
	_, err = engine.RecordFreeformPayment(ctx, beto, 6)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	receipt, err := engine.RecordFreeformPayment(ctx, beto, 5)
	require.NoError(t, err)
	assert.Equal(t, -ledger.MaxBalance, receipt.Balance)
}

func TestEngine_FreeformPayment_CanGoNegative(t *testing.T) {
	// GIVEN: Ana owes 300
	// WHEN: Ana hands over 500 without naming a line
	// THEN: Balance is -200, the payment is a DEBT_SETTLEMENT_INCOME
	//       movement, and the credit line stays PENDING

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	r, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 300, "bread", "")
	require.NoError(t, err)

	receipt, err := engine.RecordFreeformPayment(ctx, r.CustomerID, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(-200), receipt.Balance)
	assert.Equal(t, int64(-200), requireBalanceMatchesLog(t, store, r.CustomerID))

	m, err := store.GetMovement(ctx, receipt.MovementID)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindDebtSettlementIncome, m.Kind)
	assert.Equal(t, "Payment from Ana", m.Note)

	entry, err := store.GetDebtEntry(ctx, receipt.EntryID)
	require.NoError(t, err)
	assert.Equal(t, ledger.FreeformPaymentDetail, entry.Detail)
	assert.Nil(t, entry.SettlesEntryID)

	credit, err := store.GetDebtEntry(ctx, r.EntryID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, credit.Status)

	_, err = engine.RecordFreeformPayment(ctx, r.CustomerID, 0)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestEngine_FreeformPayment_DatedToday(t *testing.T) {
	// GIVEN: Credit extended on March 10
	// WHEN: The clock moves to the next morning and a payment is taken
	// THEN: The payment movement lands on March 11, the credit stays on March 10

	engine, store, clock := newTestEngine(t)
	ctx := context.Background()

	r, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 300, "bread", "")
	require.NoError(t, err)

	clock.Set(time.Date(2025, time.March, 11, 9, 30, 0, 0, time.UTC))
	receipt, err := engine.RecordFreeformPayment(ctx, r.CustomerID, 100)
	require.NoError(t, err)

	m, err := store.GetMovement(ctx, receipt.MovementID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BusinessDate("2025-03-11"), m.BusinessDate)

	credit, err := store.GetDebtEntry(ctx, r.EntryID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BusinessDate("2025-03-10"), credit.BusinessDate)
}

// =============================================================================
// CASH MOVEMENTS
// =============================================================================

func TestEngine_RecordMovement(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.RecordMovement(ctx, ledger.KindSale, 0, "  free sample ", "")
	require.NoError(t, err, "zero-amount sales are allowed")

	m, err := store.GetMovement(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "free sample", m.Note)
	assert.Equal(t, ledger.BusinessDate("2025-03-10"), m.BusinessDate, "empty date means today")
	assert.Nil(t, m.CustomerID)

	_, err = engine.RecordMovement(ctx, ledger.KindDebtPayment, 100, "", "")
	assert.ErrorIs(t, err, ledger.ErrValidation, "payment kinds are not recorded directly")

	_, err = engine.RecordCashOut(ctx, -1, "", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestEngine_NotifiesOnCommitOnly(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &countingNotifier{}
	engine := ledger.NewEngine(store, ledger.WithNotifier(notifier))
	ctx := context.Background()

	_, err = engine.RecordSale(ctx, 100, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.n)

	_, err = engine.RecordSale(ctx, -5, "", "")
	require.Error(t, err)
	_, err = engine.SettleDebtItem(ctx, 1, "")
	require.Error(t, err)
	assert.Equal(t, 1, notifier.n)
}

// =============================================================================
// END-TO-END
// =============================================================================

func TestEngine_AnaScenario(t *testing.T) {
	// GIVEN: An empty ledger, extension back-dated to March 9
	// WHEN: Credit of 1000 for a new customer Ana, then settled today
	// THEN: Ana exists at 1000 with one PENDING line; after settling, Ana is
	//       at 0, the line is PAID and today has a 1000 DEBT_PAYMENT, while
	//       today's credit extended is untouched

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	r, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 1000, "bread", "2025-03-09")
	require.NoError(t, err)

	ana, err := engine.GetCustomer(ctx, r.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", ana.Name)
	assert.Equal(t, int64(1000), ana.Balance)

	entries, err := engine.CustomerLedger(ctx, r.CustomerID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.StatusPending, entries[0].Status)

	receipt, err := engine.SettleDebtItem(ctx, r.EntryID, "")
	require.NoError(t, err)

	assert.Equal(t, int64(0), requireBalanceMatchesLog(t, store, r.CustomerID))

	entry, err := store.GetDebtEntry(ctx, r.EntryID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, entry.Status)

	m, err := store.GetMovement(ctx, receipt.MovementID)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindDebtPayment, m.Kind)
	assert.Equal(t, int64(1000), m.Amount)
	assert.Equal(t, engine.Today(), m.BusinessDate)

	today, err := engine.DaySummary(ctx, engine.Today())
	require.NoError(t, err)
	assert.Zero(t, today.CreditExtended, "settling does not count as new credit")
	assert.Zero(t, today.Sales)
	assert.Zero(t, today.CashOut)
	assert.Equal(t, int64(1000), today.DebtPayments)

	extended, err := engine.DaySummary(ctx, "2025-03-09")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), extended.CreditExtended)
}
