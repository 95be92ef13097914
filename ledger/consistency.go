package ledger

import "context"

// ConsistencyReport is the outcome of comparing every cached balance with
// the sum of the customer's debt log.
type ConsistencyReport struct {
	Run    ConsistencyRun
	Drifts []BalanceDrift
}

// Consistent reports whether no customer drifted.
func (r ConsistencyReport) Consistent() bool { return len(r.Drifts) == 0 }

// CheckConsistency compares cached balances with the debt log and records
// the run. It never changes balances.
func (e *Engine) CheckConsistency(ctx context.Context) (ConsistencyReport, error) {
	return e.audit(ctx, false)
}

// RepairBalances recomputes every drifted balance from the debt log in one
// transaction. It is a recovery tool, not part of normal operation: the
// compound operations keep balances in step on their own.
func (e *Engine) RepairBalances(ctx context.Context) (ConsistencyReport, error) {
	return e.audit(ctx, true)
}

func (e *Engine) audit(ctx context.Context, repair bool) (ConsistencyReport, error) {
	op := "check consistency"
	if repair {
		op = "repair balances"
	}
	run := ConsistencyRun{StartedAt: e.now(), Repaired: repair}

	report, err := e.inspect(ctx, op, repair, &run)
	run.FinishedAt = e.now()
	if err != nil {
		run.Error = err.Error()
	}

	id, saveErr := e.store.SaveConsistencyRun(ctx, run)
	if err != nil {
		return ConsistencyReport{Run: run}, err
	}
	if saveErr != nil {
		return ConsistencyReport{Run: run}, StorageError(op, saveErr)
	}
	run.ID = id
	report.Run = run
	return report, nil
}

func (e *Engine) inspect(ctx context.Context, op string, repair bool, run *ConsistencyRun) (ConsistencyReport, error) {
	customers, err := e.store.CountCustomers(ctx)
	if err != nil {
		return ConsistencyReport{}, StorageError(op, err)
	}
	drifts, err := e.store.BalanceDrifts(ctx)
	if err != nil {
		return ConsistencyReport{}, StorageError(op, err)
	}
	run.Customers = customers
	run.Drifted = len(drifts)

	if repair && len(drifts) > 0 {
		err := e.atomic(ctx, op, func(tx Tx) error {
			_, err := tx.RecomputeBalances(ctx)
			return err
		})
		if err != nil {
			return ConsistencyReport{}, err
		}
	}
	return ConsistencyReport{Drifts: drifts}, nil
}

// ConsistencyRuns returns the most recent audits, newest first.
func (e *Engine) ConsistencyRuns(ctx context.Context, limit int) ([]ConsistencyRun, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := e.store.ListConsistencyRuns(ctx, limit)
	if err != nil {
		return nil, StorageError("list consistency runs", err)
	}
	return runs, nil
}
