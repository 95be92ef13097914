/*
aggregate.go - Day/Period Aggregator

PURPOSE:
  Read-side summaries computed from the stored rows on every call. Nothing
  here writes, and no aggregate is ever stored, so a correction is visible
  in the very next read.

VIEWS:
  DaySummary     cash totals for one business date
  DayTimeline    the day's "ticket": movements + new credit, newest first
  HistoryWindow  per-date totals for the most recent dates with movements
  CustomerList   customers ordered by latest debt-log activity
  CustomerLedger one customer's debt log, newest first

CREDIT EXTENDED:
  Counted from debt-log rows with amount > 0 on the extension's own
  business date. Paying an old debt today does not show up as today's
  credit, and payment rows never count because they are negative.
*/
package ledger

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DefaultHistoryLimit is the number of dates HistoryWindow returns when the
// caller does not ask for a specific count.
const DefaultHistoryLimit = 30

// MaxHistoryLimit bounds the history window.
const MaxHistoryLimit = 366

// =============================================================================
// DAY SUMMARY
// =============================================================================

type DaySummary struct {
	Date             BusinessDate
	Sales            int64
	CashOut          int64
	CreditExtended   int64
	DebtPayments     int64
	SettlementIncome int64
	// Net is sales minus cash out, the figure shown on the till screen.
	Net int64
}

// DaySummary totals one business date. A zero date means today.
func (e *Engine) DaySummary(ctx context.Context, date BusinessDate) (DaySummary, error) {
	const op = "day summary"
	date = e.dateOrToday(date)
	s := DaySummary{Date: date}

	sums := []struct {
		kind Kind
		dst  *int64
	}{
		{KindSale, &s.Sales},
		{KindCashOut, &s.CashOut},
		{KindDebtPayment, &s.DebtPayments},
		{KindDebtSettlementIncome, &s.SettlementIncome},
	}
	for _, sum := range sums {
		v, err := e.store.SumMovements(ctx, sum.kind, date)
		if err != nil {
			return DaySummary{}, StorageError(op, err)
		}
		*sum.dst = v
	}

	credit, err := e.store.SumCreditExtended(ctx, date)
	if err != nil {
		return DaySummary{}, StorageError(op, err)
	}
	s.CreditExtended = credit
	s.Net = s.Sales - s.CashOut
	return s, nil
}

// =============================================================================
// DAY TIMELINE
// =============================================================================

// TimelineEvent is one line of the day's ticket.
type TimelineEvent struct {
	ID           int64
	Kind         Kind
	Amount       int64
	Detail       string
	RecordedAt   time.Time
	BusinessDate BusinessDate
	CustomerID   *CustomerID
	CustomerName string
	Status       Status // only for NEW_CREDIT
}

// Reversible reports whether DeleteEvent accepts this event's kind.
func (ev TimelineEvent) Reversible() bool {
	switch ev.Kind {
	case KindNewCredit, KindSale, KindCashOut:
		return true
	}
	return false
}

// DayTimeline merges a date's movements and credit extensions, newest first.
func (e *Engine) DayTimeline(ctx context.Context, date BusinessDate) ([]TimelineEvent, error) {
	const op = "day timeline"
	date = e.dateOrToday(date)

	movements, err := e.store.MovementsOn(ctx, date)
	if err != nil {
		return nil, StorageError(op, err)
	}
	credits, err := e.store.CreditExtensionsOn(ctx, date)
	if err != nil {
		return nil, StorageError(op, err)
	}

	events := make([]TimelineEvent, 0, len(movements)+len(credits))
	for _, m := range movements {
		events = append(events, TimelineEvent{
			ID:           int64(m.ID),
			Kind:         m.Kind,
			Amount:       m.Amount,
			Detail:       m.Note,
			RecordedAt:   m.RecordedAt,
			BusinessDate: m.BusinessDate,
			CustomerID:   m.CustomerID,
		})
	}
	for _, c := range credits {
		customerID := c.CustomerID
		events = append(events, TimelineEvent{
			ID:           int64(c.ID),
			Kind:         KindNewCredit,
			Amount:       c.Amount,
			Detail:       c.Detail,
			RecordedAt:   c.RecordedAt,
			BusinessDate: c.BusinessDate,
			CustomerID:   &customerID,
			CustomerName: c.CustomerName,
			Status:       c.Status,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].RecordedAt.Equal(events[j].RecordedAt) {
			return events[i].RecordedAt.After(events[j].RecordedAt)
		}
		return events[i].ID > events[j].ID
	})
	return events, nil
}

// =============================================================================
// HISTORY WINDOW
// =============================================================================

// HistoryWindow returns totals for the most recent limit dates that have
// movements, newest first. Dates with no movements are absent.
func (e *Engine) HistoryWindow(ctx context.Context, limit int) ([]DailyTotals, error) {
	const op = "history window"
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	days, err := e.store.DailyMovementTotals(ctx, limit)
	if err != nil {
		return nil, StorageError(op, err)
	}
	if len(days) == 0 {
		return []DailyTotals{}, nil
	}

	dates := make([]BusinessDate, len(days))
	for i, d := range days {
		dates[i] = d.Date
	}
	credit, err := e.store.CreditTotalsOn(ctx, dates)
	if err != nil {
		return nil, StorageError(op, err)
	}
	for i := range days {
		days[i].CreditExtended = credit[days[i].Date]
	}
	return days, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// CustomerList returns customers ordered by latest activity (customers with
// no debt-log history last), then by name. A non-empty filter keeps names
// containing it, ignoring case.
func (e *Engine) CustomerList(ctx context.Context, filter string) ([]CustomerActivity, error) {
	customers, err := e.store.ListCustomers(ctx)
	if err != nil {
		return nil, StorageError("customer list", err)
	}
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return customers, nil
	}

	fold := cases.Fold()
	needle := fold.String(filter)
	matched := customers[:0]
	for _, c := range customers {
		if strings.Contains(fold.String(c.Name), needle) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// CustomerLedger returns a customer's debt log, newest first.
func (e *Engine) CustomerLedger(ctx context.Context, id CustomerID) ([]DebtEntry, error) {
	if _, err := e.GetCustomer(ctx, id); err != nil {
		return nil, err
	}
	entries, err := e.store.CustomerEntries(ctx, id)
	if err != nil {
		return nil, StorageError("customer ledger", err)
	}
	return entries, nil
}
