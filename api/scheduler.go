/*
scheduler.go - Periodic balance consistency checks

PURPOSE:
  Every customer's cached balance must equal the sum of their debt log. The
  engine keeps them in step on every write; this scheduler proves it on a
  timer and makes any drift visible (log line, metrics gauge, stored run)
  before someone reads a wrong balance off the screen.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks once immediately on start
  - Never repairs: repair is an explicit operator action (till repair)
  - Every run is recorded in consistency_runs for the admin endpoint

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewConsistencyScheduler(engine, metrics, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/consistency.go: CheckConsistency and RepairBalances
  - handlers.go: CheckConsistency endpoint (manual check)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/despensa/till/ledger"
)

// ConsistencyScheduler runs balance consistency checks on a timer.
type ConsistencyScheduler struct {
	Engine        *ledger.Engine
	Metrics       *Metrics
	Log           *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	// Timeout bounds a single check.
	Timeout time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewConsistencyScheduler creates a new scheduler.
func NewConsistencyScheduler(engine *ledger.Engine, metrics *Metrics, log *zap.Logger) *ConsistencyScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsistencyScheduler{
		Engine:        engine,
		Metrics:       metrics,
		Log:           log.Named("consistency"),
		CheckInterval: time.Hour,
		Enabled:       true,
		Timeout:       time.Minute,
	}
}

// Start begins the scheduler.
func (cs *ConsistencyScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled || cs.CheckInterval <= 0 {
		cs.Log.Info("scheduler disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run()

	cs.Log.Info("scheduler started", zap.Duration("interval", cs.CheckInterval))
}

// Stop stops the scheduler and waits for a running check to finish.
func (cs *ConsistencyScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.Log.Info("scheduler stopped")
	}
}

// Run starts the scheduler and blocks until ctx is done.
func (cs *ConsistencyScheduler) Run(ctx context.Context) error {
	cs.Start()
	<-ctx.Done()
	cs.Stop()
	return nil
}

func (cs *ConsistencyScheduler) run() {
	defer cs.wg.Done()

	// Run immediately on start
	cs.CheckOnce(context.Background())

	for {
		select {
		case <-cs.ticker.C:
			cs.CheckOnce(context.Background())
		case <-cs.stop:
			return
		}
	}
}

// CheckOnce runs one consistency check and reports the outcome.
func (cs *ConsistencyScheduler) CheckOnce(ctx context.Context) (ledger.ConsistencyReport, error) {
	if cs.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cs.Timeout)
		defer cancel()
	}

	report, err := cs.Engine.CheckConsistency(ctx)
	cs.Metrics.ObserveConsistency(report, err)
	if err != nil {
		cs.Log.Error("consistency check failed", zap.Error(err))
		return report, err
	}

	if report.Consistent() {
		cs.Log.Debug("balances consistent", zap.Int("customers", report.Run.Customers))
		return report, nil
	}
	for _, d := range report.Drifts {
		cs.Log.Warn("balance drift",
			zap.Int64("customer_id", int64(d.CustomerID)),
			zap.String("name", d.Name),
			zap.Int64("cached", d.Cached),
			zap.Int64("log_sum", d.LogSum),
		)
	}
	cs.Log.Warn("balance drift detected, run `till repair` to recompute from the debt log",
		zap.Int("drifted", len(report.Drifts)),
		zap.Int("customers", report.Run.Customers),
	)
	return report, nil
}
