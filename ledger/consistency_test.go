package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/despensa/till/ledger"
)

func TestCheckConsistency_CleanLedger(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 100, "", "")
	require.NoError(t, err)
	_, err = engine.CreateCustomer(ctx, "Beto", "")
	require.NoError(t, err)

	report, err := engine.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 2, report.Run.Customers)
	assert.NotZero(t, report.Run.ID)
	assert.False(t, report.Run.Repaired)
}

func TestRepairBalances_FixesDrift(t *testing.T) {
	// GIVEN: Ana's cached balance was corrupted outside the engine
	// WHEN: Checking, then repairing, then checking again
	// THEN: The check reports the drift without fixing it, the repair
	//       resets the balance to the log sum, and the last check is clean

	engine, store, clock := newTestEngine(t)
	ctx := context.Background()

	r, err := engine.CreateCustomerAndExtendCredit(ctx, "Ana", 1000, "bread", "")
	require.NoError(t, err)
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.UpdateCustomerBalance(ctx, r.CustomerID, 55)
	}))

	report, err := engine.CheckConsistency(ctx)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, ledger.BalanceDrift{
		CustomerID: r.CustomerID,
		Name:       "Ana",
		Cached:     1055,
		LogSum:     1000,
	}, report.Drifts[0])

	c, err := engine.GetCustomer(ctx, r.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1055), c.Balance, "a check never repairs")

	clock.Advance(time.Minute)
	repaired, err := engine.RepairBalances(ctx)
	require.NoError(t, err)
	assert.True(t, repaired.Run.Repaired)
	assert.Equal(t, 1, repaired.Run.Drifted)
	requireBalanceMatchesLog(t, store, r.CustomerID)

	clock.Advance(time.Minute)
	after, err := engine.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, after.Consistent())

	runs, err := engine.ConsistencyRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, after.Run.ID, runs[0].ID, "newest first")
	assert.True(t, runs[1].Repaired)
	assert.Equal(t, 1, runs[2].Drifted)
}
