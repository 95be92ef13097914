/*
store.go - Persistence interfaces for the ledger

PURPOSE:
  Defines the contract between the ledger rules and the database. The
  engine never talks SQL; it asks a Store for an atomic unit (WithTx) and
  performs its writes through the Tx handed to the callback.

KEY INTERFACES:
  Tx:     writes and point lookups, only valid inside WithTx
  Reader: read-side queries used by the aggregator
  Store:  Reader + WithTx

ATOMICITY:
  WithTx executes fn as one durable unit. If fn returns an error, every
  write made through the Tx is rolled back and none of it is observable to
  later reads. The store is also the single serialization point for
  writers: two WithTx calls never interleave.

BALANCE UPDATES:
  UpdateCustomerBalance must only be called in the same Tx as the debt-log
  write that justifies the delta. The boundary never exposes it.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (WAL, single writer)

SEE ALSO:
  - engine.go: the only caller of Tx write methods
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// TX - Writes inside one atomic unit
// =============================================================================

// Tx is the view of the store inside WithTx.
// Lookups return (nil, nil) when the row does not exist.
type Tx interface {
	InsertMovement(ctx context.Context, m NewMovement) (MovementID, error)
	GetMovement(ctx context.Context, id MovementID) (*Movement, error)
	DeleteMovement(ctx context.Context, id MovementID) error

	InsertCustomer(ctx context.Context, name, phone string) (CustomerID, error)
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)
	FindCustomerByName(ctx context.Context, name string) (*Customer, error)
	UpdateCustomerBalance(ctx context.Context, id CustomerID, delta int64) error
	UpdateCustomerPhone(ctx context.Context, id CustomerID, phone string) error

	InsertDebtEntry(ctx context.Context, e NewDebtEntry) (EntryID, error)
	GetDebtEntry(ctx context.Context, id EntryID) (*DebtEntry, error)
	SetDebtEntryStatus(ctx context.Context, id EntryID, status Status) error
	DeleteDebtEntry(ctx context.Context, id EntryID) error

	// RecomputeBalances resets every drifted cached balance to its debt-log
	// sum and returns how many customers changed. Used by the repair tool only.
	RecomputeBalances(ctx context.Context) (int, error)
}

// =============================================================================
// READER - Aggregation queries
// =============================================================================

// DailyTotals is one row of the history window.
type DailyTotals struct {
	Date             BusinessDate
	Sales            int64
	CashOut          int64
	DebtPayments     int64
	SettlementIncome int64
	CreditExtended   int64
}

// BalanceDrift reports a customer whose cached balance differs from the
// debt-log sum.
type BalanceDrift struct {
	CustomerID CustomerID
	Name       string
	Cached     int64
	LogSum     int64
}

// ConsistencyRun is the stored outcome of one consistency check.
type ConsistencyRun struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Customers  int
	Drifted    int
	Repaired   bool
	Error      string
}

type Reader interface {
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)
	GetDebtEntry(ctx context.Context, id EntryID) (*DebtEntry, error)
	GetMovement(ctx context.Context, id MovementID) (*Movement, error)

	// SumMovements sums movement amounts of one kind on one date.
	SumMovements(ctx context.Context, kind Kind, date BusinessDate) (int64, error)
	// SumCreditExtended sums debt-log amounts > 0 on one date.
	SumCreditExtended(ctx context.Context, date BusinessDate) (int64, error)

	// MovementsOn lists a date's movements ordered by recorded_at.
	MovementsOn(ctx context.Context, date BusinessDate) ([]Movement, error)
	// CreditExtensionsOn lists a date's positive debt-log rows with names.
	CreditExtensionsOn(ctx context.Context, date BusinessDate) ([]CreditLine, error)

	// ListCustomers returns customers with their latest debt-log activity.
	ListCustomers(ctx context.Context) ([]CustomerActivity, error)
	// CustomerEntries lists a customer's debt log, newest first.
	CustomerEntries(ctx context.Context, id CustomerID) ([]DebtEntry, error)

	// DailyMovementTotals groups movements by date for the most recent
	// limit dates, newest first. CreditExtended is left at zero.
	DailyMovementTotals(ctx context.Context, limit int) ([]DailyTotals, error)
	// CreditTotalsOn returns credit extended per date for the given dates.
	CreditTotalsOn(ctx context.Context, dates []BusinessDate) (map[BusinessDate]int64, error)

	// BalanceDrifts lists customers whose balance differs from the log sum.
	BalanceDrifts(ctx context.Context) ([]BalanceDrift, error)
	CountCustomers(ctx context.Context) (int, error)

	SaveConsistencyRun(ctx context.Context, run ConsistencyRun) (int64, error)
	ListConsistencyRuns(ctx context.Context, limit int) ([]ConsistencyRun, error)
}

// =============================================================================
// STORE
// =============================================================================

// Store is everything the engine needs from persistence.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Notifier is told after every committed mutation. It carries no payload:
// listeners re-query to learn what changed.
type Notifier interface {
	Notify()
}

type nopNotifier struct{}

func (nopNotifier) Notify() {}
