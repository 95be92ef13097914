package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/despensa/till/ledger"
)

// =============================================================================
// DAY SUMMARY
// =============================================================================

func TestDaySummary_SalesAndCashOut(t *testing.T) {
	// GIVEN: Two 300 sales and a 50 cash out on 2024-01-01
	// WHEN: Summarising that date
	// THEN: sales 600, cash out 50, no credit

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RecordSale(ctx, 300, "", "2024-01-01")
	require.NoError(t, err)
	_, err = engine.RecordSale(ctx, 300, "", "2024-01-01")
	require.NoError(t, err)
	_, err = engine.RecordCashOut(ctx, 50, "ice", "2024-01-01")
	require.NoError(t, err)

	s, err := engine.DaySummary(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, ledger.DaySummary{
		Date:    "2024-01-01",
		Sales:   600,
		CashOut: 50,
		Net:     550,
	}, s)

	other, err := engine.DaySummary(ctx, "2024-01-02")
	require.NoError(t, err)
	assert.Zero(t, other.Sales, "movements belong to their business date only")
}

func TestDaySummary_CreditExtendedCountsAnyStatus(t *testing.T) {
	// GIVEN: Two extensions today, one of them already settled
	// WHEN: Summarising today
	// THEN: Both count as credit extended; the settlement shows as a debt
	//       payment and is not subtracted from credit

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	r, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 1000, "bread", "")
	require.NoError(t, err)
	second, err := engine.ExtendCredit(ctx, r.CustomerID, 200, "milk", "")
	require.NoError(t, err)
	_, err = engine.SettleDebtItem(ctx, second.EntryID, "")
	require.NoError(t, err)
	_, err = engine.RecordFreeformPayment(ctx, r.CustomerID, 100)
	require.NoError(t, err)

	s, err := engine.DaySummary(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), s.CreditExtended)
	assert.Equal(t, int64(200), s.DebtPayments)
	assert.Equal(t, int64(100), s.SettlementIncome)
}

// =============================================================================
// DAY TIMELINE
// =============================================================================

func TestDayTimeline_NewestFirst(t *testing.T) {
	// GIVEN: A sale, a credit extension and a cash out recorded a minute apart
	// WHEN: Reading the day's timeline
	// THEN: Newest first, credit rows tagged NEW_CREDIT with the customer's
	//       name, and only cash and credit rows reversible

	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	saleID, err := engine.RecordSale(ctx, 500, "bread", "")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	r, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 1000, "groceries", "")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	outID, err := engine.RecordCashOut(ctx, 50, "ice", "")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	paid, err := engine.RecordFreeformPayment(ctx, r.CustomerID, 300)
	require.NoError(t, err)

	events, err := engine.DayTimeline(ctx, "")
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, ledger.KindDebtSettlementIncome, events[0].Kind)
	assert.Equal(t, int64(paid.MovementID), events[0].ID)
	assert.False(t, events[0].Reversible())

	assert.Equal(t, ledger.KindCashOut, events[1].Kind)
	assert.Equal(t, int64(outID), events[1].ID)

	assert.Equal(t, ledger.KindNewCredit, events[2].Kind)
	assert.Equal(t, int64(r.EntryID), events[2].ID)
	assert.Equal(t, "Ana", events[2].CustomerName)
	assert.Equal(t, ledger.StatusPending, events[2].Status)
	assert.True(t, events[2].Reversible())

	assert.Equal(t, ledger.KindSale, events[3].Kind)
	assert.Equal(t, int64(saleID), events[3].ID)
	assert.Equal(t, "bread", events[3].Detail)
	assert.True(t, events[3].RecordedAt.Equal(march10))
}

func TestDayTimeline_EmptyDay(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	events, err := engine.DayTimeline(context.Background(), "2020-01-01")

	require.NoError(t, err)
	assert.Empty(t, events)
}

// =============================================================================
// HISTORY WINDOW
// =============================================================================

func TestHistoryWindow_RecentDatesWithMovements(t *testing.T) {
	// GIVEN: Movements on three dates and credit on one of them plus a
	//        date with credit only
	// WHEN: Asking for the two most recent dates
	// THEN: The two newest dates with movements, newest first, each with
	//       its own credit extended

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RecordSale(ctx, 100, "", "2025-03-01")
	require.NoError(t, err)
	_, err = engine.RecordSale(ctx, 200, "", "2025-03-02")
	require.NoError(t, err)
	_, err = engine.RecordCashOut(ctx, 30, "", "2025-03-02")
	require.NoError(t, err)
	_, err = engine.RecordSale(ctx, 400, "", "2025-03-04")
	require.NoError(t, err)
	_, err = engine.CreateCustomerAndExtendCredit(ctx, "Ana", 900, "", "2025-03-02")
	require.NoError(t, err)
	_, err = engine.CreateCustomerAndExtendCredit(ctx, "Beto", 50, "", "2025-03-03")
	require.NoError(t, err)

	days, err := engine.HistoryWindow(ctx, 2)
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, ledger.DailyTotals{Date: "2025-03-04", Sales: 400}, days[0])
	assert.Equal(t, ledger.DailyTotals{Date: "2025-03-02", Sales: 200, CashOut: 30, CreditExtended: 900}, days[1])

	all, err := engine.HistoryWindow(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "a date with credit only has no movements and is absent")
}

func TestHistoryWindow_Empty(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	days, err := engine.HistoryWindow(context.Background(), 1000)

	require.NoError(t, err)
	assert.NotNil(t, days)
	assert.Empty(t, days)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func TestCustomerList_OrderAndFilter(t *testing.T) {
	// GIVEN: Ana (oldest activity), Beto (newest), Carla and Ángel with none
	// WHEN: Listing customers
	// THEN: Beto, Ana, then the inactive ones by name; the filter ignores
	//       case

	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	ana, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 100, "", "")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = engine.CreateCustomerAndExtendCredit(ctx, "Beto", 100, "", "")
	require.NoError(t, err)
	_, err = engine.CreateCustomer(ctx, "Carla", "")
	require.NoError(t, err)
	_, err = engine.CreateCustomer(ctx, "Ángel", "")
	require.NoError(t, err)

	list, err := engine.CustomerList(ctx, "")
	require.NoError(t, err)
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"Beto", "Ana", "Carla", "Ángel"}, names)
	require.NotNil(t, list[1].LastActivity)
	assert.True(t, list[1].LastActivity.Equal(march10))
	assert.Nil(t, list[2].LastActivity)

	// Ana's payment puts Ana back on top.
	clock.Advance(time.Hour)
	_, err = engine.RecordFreeformPayment(ctx, ana.CustomerID, 100)
	require.NoError(t, err)
	list, err = engine.CustomerList(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Ana", list[0].Name)

	filtered, err := engine.CustomerList(ctx, "ÁNG")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Ángel", filtered[0].Name)

	none, err := engine.CustomerList(ctx, "zz")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCustomerLedger_NewestFirst(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	r, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 100, "bread", "")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = engine.RecordFreeformPayment(ctx, r.CustomerID, 40)
	require.NoError(t, err)

	entries, err := engine.CustomerLedger(ctx, r.CustomerID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-40), entries[0].Amount)
	assert.Equal(t, int64(100), entries[1].Amount)

	_, err = engine.CustomerLedger(ctx, 404)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
