/*
scenarios.go - Demo data loaders

PURPOSE:
  Pre-built scenarios that fill an empty ledger with realistic data for
  demos and front-end work. Every row goes through the ledger engine, so a
  loaded scenario obeys the same balance rules as live data.

AVAILABLE SCENARIOS:
  quiet-day:    a few sales and a cash out today
  credit-book:  customers with open, settled and overpaid accounts
  busy-week:    a week of sales and credit for the history view

HOW SCENARIOS WORK:
  1. Refuse unless the ledger is empty (no customers, no movements)
  2. Record movements and credit relative to the engine's "today"
  3. Settle and pay some lines so every state shows up

USAGE:
  POST /api/admin/scenarios/{id}     (only when demo scenarios are enabled)
  till seed credit-book

ADDING NEW SCENARIOS:
  Add an entry to Scenarios with a loader that only calls Engine methods.

NOTE:
  Scenarios never reset anything. Point the server at a fresh database
  (--db=":memory:" works) before loading one.
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/despensa/till/ledger"
)

// Scenario is a named demo data set.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	load func(ctx context.Context, e *ledger.Engine) error
}

// Scenarios lists every loadable scenario.
var Scenarios = []Scenario{
	{
		ID:          "quiet-day",
		Name:        "Quiet Day",
		Description: "A handful of sales and one cash out today",
		load:        loadQuietDay,
	},
	{
		ID:          "credit-book",
		Name:        "Credit Book",
		Description: "Customers with pending, settled and overpaid accounts",
		load:        loadCreditBook,
	},
	{
		ID:          "busy-week",
		Name:        "Busy Week",
		Description: "Seven days of sales, outflows and credit for the history view",
		load:        loadBusyWeek,
	},
}

// FindScenario looks a scenario up by id.
func FindScenario(id string) (Scenario, bool) {
	for _, s := range Scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// SeedScenario fills an empty ledger with the scenario's data.
func SeedScenario(ctx context.Context, e *ledger.Engine, id string) error {
	const op = "load scenario"
	s, ok := FindScenario(id)
	if !ok {
		return ledger.NotFoundf(op, "unknown scenario %q", id)
	}

	customers, err := e.CustomerList(ctx, "")
	if err != nil {
		return err
	}
	days, err := e.HistoryWindow(ctx, 1)
	if err != nil {
		return err
	}
	if len(customers) > 0 || len(days) > 0 {
		return ledger.Validationf(op, "scenarios load into an empty ledger only")
	}
	return s.load(ctx, e)
}

// ListScenarios returns the available scenarios.
// GET /api/admin/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Scenarios)
}

// LoadScenario loads one scenario into the (empty) ledger.
// POST /api/admin/scenarios/{id}
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	const op = "load_scenario"
	id := chi.URLParam(r, "id")
	if err := SeedScenario(r.Context(), h.Engine, id); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.Metrics.ObserveOperation(op, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": id})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// daysAgo returns the business date n days before today.
func daysAgo(e *ledger.Engine, n int) ledger.BusinessDate {
	return ledger.DateOf(e.Today().Time().AddDate(0, 0, -n))
}

type sale struct {
	amount int64
	note   string
}

func recordSales(ctx context.Context, e *ledger.Engine, date ledger.BusinessDate, sales ...sale) error {
	for _, s := range sales {
		if _, err := e.RecordSale(ctx, s.amount, s.note, date); err != nil {
			return err
		}
	}
	return nil
}

func loadQuietDay(ctx context.Context, e *ledger.Engine) error {
	today := e.Today()
	if err := recordSales(ctx, e, today,
		sale{1250, "bread and milk"},
		sale{480, "yerba"},
		sale{3200, "weekly groceries"},
		sale{150, ""},
	); err != nil {
		return err
	}
	_, err := e.RecordCashOut(ctx, 900, "ice delivery", today)
	return err
}

func loadCreditBook(ctx context.Context, e *ledger.Engine) error {
	// Ana: three lines, the middle one settled today.
	ana, err := e.CreateCustomerAndExtendCredit(ctx, "Ana", 1000, "bread", daysAgo(e, 3))
	if err != nil {
		return err
	}
	second, err := e.ExtendCredit(ctx, ana.CustomerID, 650, "cheese", daysAgo(e, 1))
	if err != nil {
		return err
	}
	if _, err := e.ExtendCredit(ctx, ana.CustomerID, 300, "eggs", e.Today()); err != nil {
		return err
	}
	if _, err := e.SettleDebtItem(ctx, second.EntryID, ""); err != nil {
		return err
	}

	// Beto: paid more than owed, the shop owes Beto change.
	beto, err := e.CreateCustomerAndExtendCredit(ctx, "Beto", 2000, "groceries", daysAgo(e, 5))
	if err != nil {
		return err
	}
	if _, err := e.RecordFreeformPayment(ctx, beto.CustomerID, 2500); err != nil {
		return err
	}

	// Carla: known customer, nothing owed.
	_, err = e.CreateCustomer(ctx, "Carla", "")
	return err
}

func loadBusyWeek(ctx context.Context, e *ledger.Engine) error {
	var customers []ledger.CustomerID
	for _, name := range []string{"Ana", "Beto", "Carla"} {
		id, err := e.CreateCustomer(ctx, name, "")
		if err != nil {
			return err
		}
		customers = append(customers, id)
	}

	for n := 6; n >= 0; n-- {
		date := daysAgo(e, n)
		base := int64(1000 + 150*n)
		if err := recordSales(ctx, e, date,
			sale{base, "morning"},
			sale{base * 2, "afternoon"},
			sale{base / 2, "evening"},
		); err != nil {
			return err
		}
		if n%2 == 0 {
			if _, err := e.RecordCashOut(ctx, 400+int64(n)*10, "supplier", date); err != nil {
				return err
			}
		}

		customer := customers[n%len(customers)]
		credit, err := e.ExtendCredit(ctx, customer, 500+int64(n)*25, "groceries", date)
		if err != nil {
			return err
		}
		if n%3 == 0 {
			if _, err := e.SettleDebtItem(ctx, credit.EntryID, date); err != nil {
				return err
			}
		}
	}
	return nil
}
