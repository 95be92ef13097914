/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements ledger.Store (Reader + WithTx) and the ledger.Tx handed to
  WithTx callbacks. The engine decides what to write; this package only
  knows how rows map to tables.

KEY TABLES:
  movements:        cash-drawer events (sales, cash out, payments received)
  customers:        one row per customer, balance caches the debt-log sum
  debt_log:         credit extensions (> 0) and payments (<= 0)
  consistency_runs: outcome of every balance audit

INDEXES:
  - idx_movements_date_kind:  day summary and history window (hot path)
  - idx_movements_recorded_at: day timeline ordering
  - idx_debt_log_customer:    customer ledger and latest activity
  - idx_debt_log_date:        credit extended per date

CONCURRENCY:
  One connection, one writer. SetMaxOpenConns(1) makes every statement go
  through the same connection (required for ":memory:" databases, which are
  per connection) and transactions start with BEGIN IMMEDIATE so a writer
  holds the lock from the first statement. The RWMutex keeps reads from
  queueing behind the pool while a WithTx is running.

  Reads inside a WithTx callback go through the *sql.Tx. Calling a Store
  read method from inside the callback would wait for the connection the
  transaction already holds.

TIMESTAMPS:
  recorded_at is stored in UTC with a fixed-width nanosecond layout, so the
  text ordering SQLite uses matches chronological order.

USAGE:
  store, err := sqlite.New("./data/till.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

MIGRATION:
  Versioned migrations are embedded (migrations/*.sql) and applied by
  golang-migrate on New().

SEE ALSO:
  - ledger/store.go: interface definitions
  - migrate.go:      migration runner
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/despensa/till/ledger"
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Store = (*Store)(nil)

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.PingContext(ctx)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.Tx)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

var _ ledger.Tx = (*txStore)(nil)

func (ts *txStore) InsertMovement(ctx context.Context, m ledger.NewMovement) (ledger.MovementID, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO movements (kind, amount, note, business_date, recorded_at, customer_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.Kind, m.Amount, m.Note, m.BusinessDate, formatTime(m.RecordedAt), nullCustomer(m.CustomerID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert movement: %w", err)
	}
	id, err := res.LastInsertId()
	return ledger.MovementID(id), err
}

func (ts *txStore) GetMovement(ctx context.Context, id ledger.MovementID) (*ledger.Movement, error) {
	return getMovement(ctx, ts.tx, id)
}

func (ts *txStore) DeleteMovement(ctx context.Context, id ledger.MovementID) error {
	return deleteByID(ctx, ts.tx, "movements", int64(id))
}

func (ts *txStore) InsertCustomer(ctx context.Context, name, phone string) (ledger.CustomerID, error) {
	res, err := ts.tx.ExecContext(ctx,
		"INSERT INTO customers (name, phone, balance) VALUES (?, ?, 0)", name, phone)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, &ledger.DuplicateNameError{Name: name}
		}
		return 0, fmt.Errorf("failed to insert customer: %w", err)
	}
	id, err := res.LastInsertId()
	return ledger.CustomerID(id), err
}

func (ts *txStore) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return getCustomer(ctx, ts.tx, "id = ?", id)
}

func (ts *txStore) FindCustomerByName(ctx context.Context, name string) (*ledger.Customer, error) {
	return getCustomer(ctx, ts.tx, "name = ?", name)
}

func (ts *txStore) UpdateCustomerBalance(ctx context.Context, id ledger.CustomerID, delta int64) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE customers SET balance = balance + ? WHERE id = ?", delta, id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return expectOneRow(res, "customer", int64(id))
}

func (ts *txStore) UpdateCustomerPhone(ctx context.Context, id ledger.CustomerID, phone string) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE customers SET phone = ? WHERE id = ?", phone, id)
	if err != nil {
		return fmt.Errorf("failed to update phone: %w", err)
	}
	return expectOneRow(res, "customer", int64(id))
}

func (ts *txStore) InsertDebtEntry(ctx context.Context, e ledger.NewDebtEntry) (ledger.EntryID, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	var settles sql.NullInt64
	if e.SettlesEntryID != nil {
		settles = sql.NullInt64{Int64: int64(*e.SettlesEntryID), Valid: true}
	}
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO debt_log (customer_id, amount, detail, business_date, recorded_at, status, settles_entry_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.CustomerID, e.Amount, e.Detail, e.BusinessDate, formatTime(e.RecordedAt), e.Status, settles,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert debt entry: %w", err)
	}
	id, err := res.LastInsertId()
	return ledger.EntryID(id), err
}

func (ts *txStore) GetDebtEntry(ctx context.Context, id ledger.EntryID) (*ledger.DebtEntry, error) {
	return getDebtEntry(ctx, ts.tx, id)
}

func (ts *txStore) SetDebtEntryStatus(ctx context.Context, id ledger.EntryID, status ledger.Status) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE debt_log SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update debt entry status: %w", err)
	}
	return expectOneRow(res, "debt item", int64(id))
}

func (ts *txStore) DeleteDebtEntry(ctx context.Context, id ledger.EntryID) error {
	return deleteByID(ctx, ts.tx, "debt_log", int64(id))
}

func (ts *txStore) RecomputeBalances(ctx context.Context) (int, error) {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE customers
		SET balance = (SELECT COALESCE(SUM(amount), 0) FROM debt_log WHERE customer_id = customers.id)
		WHERE balance <> (SELECT COALESCE(SUM(amount), 0) FROM debt_log WHERE customer_id = customers.id)`)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute balances: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// POINT LOOKUPS (shared by Store and txStore)
// =============================================================================

const movementColumns = "id, kind, amount, note, business_date, recorded_at, customer_id"

const debtColumns = "id, customer_id, amount, detail, business_date, recorded_at, status, settles_entry_id"

func getMovement(ctx context.Context, q querier, id ledger.MovementID) (*ledger.Movement, error) {
	row := q.QueryRowContext(ctx, "SELECT "+movementColumns+" FROM movements WHERE id = ?", id)
	m, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func getCustomer(ctx context.Context, q querier, where string, arg any) (*ledger.Customer, error) {
	var c ledger.Customer
	err := q.QueryRowContext(ctx,
		"SELECT id, name, phone, balance FROM customers WHERE "+where, arg,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}

func getDebtEntry(ctx context.Context, q querier, id ledger.EntryID) (*ledger.DebtEntry, error) {
	row := q.QueryRowContext(ctx, "SELECT "+debtColumns+" FROM debt_log WHERE id = ?", id)
	e, err := scanDebtEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func deleteByID(ctx context.Context, q querier, table string, id int64) error {
	res, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return expectOneRow(res, table, id)
}

func expectOneRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFoundf("store", "%s %d not found", what, id)
	}
	return nil
}

// =============================================================================
// READER (ledger.Reader)
// =============================================================================

func (s *Store) GetMovement(ctx context.Context, id ledger.MovementID) (*ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getMovement(ctx, s.db, id)
}

func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCustomer(ctx, s.db, "id = ?", id)
}

func (s *Store) GetDebtEntry(ctx context.Context, id ledger.EntryID) (*ledger.DebtEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDebtEntry(ctx, s.db, id)
}

// SumMovements sums movement amounts of one kind on one date.
func (s *Store) SumMovements(ctx context.Context, kind ledger.Kind, date ledger.BusinessDate) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM movements WHERE kind = ? AND business_date = ?",
		kind, date,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum movements: %w", err)
	}
	return total, nil
}

// SumCreditExtended sums positive debt-log amounts on one date, whatever
// their status.
func (s *Store) SumCreditExtended(ctx context.Context, date ledger.BusinessDate) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM debt_log WHERE amount > 0 AND business_date = ?",
		date,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum credit: %w", err)
	}
	return total, nil
}

// MovementsOn lists a date's movements in recording order.
func (s *Store) MovementsOn(ctx context.Context, date ledger.BusinessDate) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+movementColumns+" FROM movements WHERE business_date = ? ORDER BY recorded_at, id",
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// CreditExtensionsOn lists a date's credit extensions with customer names.
func (s *Store) CreditExtensionsOn(ctx context.Context, date ledger.BusinessDate) ([]ledger.CreditLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.customer_id, d.amount, d.detail, d.business_date, d.recorded_at,
		       d.status, d.settles_entry_id, c.name
		FROM debt_log d
		JOIN customers c ON c.id = d.customer_id
		WHERE d.amount > 0 AND d.business_date = ?
		ORDER BY d.recorded_at, d.id`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit extensions: %w", err)
	}
	defer rows.Close()

	var lines []ledger.CreditLine
	for rows.Next() {
		var line ledger.CreditLine
		var recordedAt string
		var settles sql.NullInt64
		err := rows.Scan(
			&line.ID, &line.CustomerID, &line.Amount, &line.Detail, &line.BusinessDate,
			&recordedAt, &line.Status, &settles, &line.CustomerName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit extension: %w", err)
		}
		line.RecordedAt = parseTime(recordedAt)
		line.SettlesEntryID = entryRef(settles)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListCustomers returns customers by latest debt-log activity, customers
// without any history last, ties by name.
func (s *Store) ListCustomers(ctx context.Context) ([]ledger.CustomerActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.phone, c.balance, MAX(d.recorded_at)
		FROM customers c
		LEFT JOIN debt_log d ON d.customer_id = c.id
		GROUP BY c.id
		ORDER BY MAX(d.recorded_at) IS NULL, MAX(d.recorded_at) DESC, c.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := []ledger.CustomerActivity{}
	for rows.Next() {
		var c ledger.CustomerActivity
		var last sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Balance, &last); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		if last.Valid {
			t := parseTime(last.String)
			c.LastActivity = &t
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// CustomerEntries lists a customer's debt log, newest first.
func (s *Store) CustomerEntries(ctx context.Context, id ledger.CustomerID) ([]ledger.DebtEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+debtColumns+" FROM debt_log WHERE customer_id = ? ORDER BY recorded_at DESC, id DESC",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query debt log: %w", err)
	}
	defer rows.Close()

	entries := []ledger.DebtEntry{}
	for rows.Next() {
		e, err := scanDebtEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DailyMovementTotals groups movements per date for the most recent limit
// dates that have any.
func (s *Store) DailyMovementTotals(ctx context.Context, limit int) ([]ledger.DailyTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT business_date,
		       COALESCE(SUM(CASE WHEN kind = 'SALE' THEN amount END), 0),
		       COALESCE(SUM(CASE WHEN kind = 'CASH_OUT' THEN amount END), 0),
		       COALESCE(SUM(CASE WHEN kind = 'DEBT_PAYMENT' THEN amount END), 0),
		       COALESCE(SUM(CASE WHEN kind = 'DEBT_SETTLEMENT_INCOME' THEN amount END), 0)
		FROM movements
		GROUP BY business_date
		ORDER BY business_date DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily totals: %w", err)
	}
	defer rows.Close()

	var days []ledger.DailyTotals
	for rows.Next() {
		var d ledger.DailyTotals
		if err := rows.Scan(&d.Date, &d.Sales, &d.CashOut, &d.DebtPayments, &d.SettlementIncome); err != nil {
			return nil, fmt.Errorf("failed to scan daily totals: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// CreditTotalsOn returns credit extended per date. Dates without credit are
// absent from the map.
func (s *Store) CreditTotalsOn(ctx context.Context, dates []ledger.BusinessDate) (map[ledger.BusinessDate]int64, error) {
	totals := make(map[ledger.BusinessDate]int64, len(dates))
	if len(dates) == 0 {
		return totals, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(dates))
	for i, d := range dates {
		args[i] = d
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(dates)), ",")

	rows, err := s.db.QueryContext(ctx, `
		SELECT business_date, SUM(amount)
		FROM debt_log
		WHERE amount > 0 AND business_date IN (`+placeholders+`)
		GROUP BY business_date`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date ledger.BusinessDate
		var total int64
		if err := rows.Scan(&date, &total); err != nil {
			return nil, fmt.Errorf("failed to scan credit totals: %w", err)
		}
		totals[date] = total
	}
	return totals, rows.Err()
}

// =============================================================================
// CONSISTENCY
// =============================================================================

// BalanceDrifts lists customers whose cached balance differs from the sum
// of their debt log.
func (s *Store) BalanceDrifts(ctx context.Context) ([]ledger.BalanceDrift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.balance, COALESCE(SUM(d.amount), 0)
		FROM customers c
		LEFT JOIN debt_log d ON d.customer_id = c.id
		GROUP BY c.id
		HAVING c.balance <> COALESCE(SUM(d.amount), 0)
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance drift: %w", err)
	}
	defer rows.Close()

	var drifts []ledger.BalanceDrift
	for rows.Next() {
		var d ledger.BalanceDrift
		if err := rows.Scan(&d.CustomerID, &d.Name, &d.Cached, &d.LogSum); err != nil {
			return nil, fmt.Errorf("failed to scan balance drift: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

func (s *Store) CountCustomers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count customers: %w", err)
	}
	return n, nil
}

// SaveConsistencyRun records the outcome of an audit.
func (s *Store) SaveConsistencyRun(ctx context.Context, run ledger.ConsistencyRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consistency_runs (started_at, finished_at, customers, drifted, repaired, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Customers, run.Drifted, run.Repaired, run.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save consistency run: %w", err)
	}
	return res.LastInsertId()
}

// ListConsistencyRuns returns the most recent audits, newest first.
func (s *Store) ListConsistencyRuns(ctx context.Context, limit int) ([]ledger.ConsistencyRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, customers, drifted, repaired, error
		FROM consistency_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query consistency runs: %w", err)
	}
	defer rows.Close()

	runs := []ledger.ConsistencyRun{}
	for rows.Next() {
		var r ledger.ConsistencyRun
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Customers, &r.Drifted, &r.Repaired, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan consistency run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func scanMovement(row scanner) (ledger.Movement, error) {
	var (
		m          ledger.Movement
		recordedAt string
		customerID sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.Kind, &m.Amount, &m.Note, &m.BusinessDate, &recordedAt, &customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, err
		}
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}
	m.RecordedAt = parseTime(recordedAt)
	if customerID.Valid {
		id := ledger.CustomerID(customerID.Int64)
		m.CustomerID = &id
	}
	return m, nil
}

func scanDebtEntry(row scanner) (ledger.DebtEntry, error) {
	var (
		e          ledger.DebtEntry
		recordedAt string
		settles    sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.CustomerID, &e.Amount, &e.Detail, &e.BusinessDate, &recordedAt, &e.Status, &settles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan debt entry: %w", err)
	}
	e.RecordedAt = parseTime(recordedAt)
	e.SettlesEntryID = entryRef(settles)
	return e, nil
}

func entryRef(v sql.NullInt64) *ledger.EntryID {
	if !v.Valid {
		return nil
	}
	id := ledger.EntryID(v.Int64)
	return &id
}

func nullCustomer(id *ledger.CustomerID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timestampLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
