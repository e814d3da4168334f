/*
scheduler.go - Automated billing cycle scheduler

PURPOSE:
  Periodically runs the billing cycle: issue invoices whose billing day has
  come, flag invoices past their due date as Overdue, and remind tenants of
  overdue invoices (at most once per reminder interval).

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Every pass is idempotent: invoices are keyed by (lease, issue date) and
    reminders respect the minimum interval, so overlapping or repeated runs
    never double-bill
  - Keeps the most recent runs in memory for GET /api/billing/runs

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether the ticker starts (default: true)

USAGE:
  scheduler := NewBillingScheduler(ledger, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunBilling endpoint (manual run)
  - billing/ledger.go: RunBillingCycle
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/rental-ledger/billing"
)

const maxRunHistory = 50

// BillingRun records one billing cycle pass.
type BillingRun struct {
	ID          string              `json:"id"`
	Trigger     string              `json:"trigger"` // "scheduled" or "manual"
	Report      billing.CycleReport `json:"report"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"startedAt"`
	CompletedAt time.Time           `json:"completedAt"`
}

// BillingScheduler runs the billing cycle on a ticker.
type BillingScheduler struct {
	Ledger        *billing.Ledger
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	RunTimeout    time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu sync.Mutex // one cycle at a time
	hist  sync.Mutex
	runs  []BillingRun
}

// NewBillingScheduler creates a new scheduler.
func NewBillingScheduler(ledger *billing.Ledger, logger *zap.Logger) *BillingScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingScheduler{
		Ledger:        ledger,
		Logger:        logger.Named("scheduler"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		RunTimeout:    5 * time.Minute,
	}
}

// Start begins the scheduler.
func (bs *BillingScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		bs.Logger.Info("disabled, not starting")
		return
	}
	if bs.ticker != nil {
		return
	}

	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.stop = make(chan struct{})
	bs.wg.Add(1)

	go bs.run(bs.ticker, bs.stop)

	bs.Logger.Info("started", zap.Duration("interval", bs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (bs *BillingScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		bs.ticker = nil
		bs.Logger.Info("stopped")
	}
}

func (bs *BillingScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer bs.wg.Done()

	// Run immediately on start
	bs.RunNow(context.Background(), "scheduled")

	for {
		select {
		case <-ticker.C:
			bs.RunNow(context.Background(), "scheduled")
		case <-stop:
			return
		}
	}
}

// RunNow runs one billing cycle and records it. Concurrent calls queue.
func (bs *BillingScheduler) RunNow(ctx context.Context, trigger string) BillingRun {
	bs.runMu.Lock()
	defer bs.runMu.Unlock()

	if bs.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bs.RunTimeout)
		defer cancel()
	}

	run := BillingRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	report, err := bs.Ledger.RunBillingCycle(ctx)
	run.Report = report
	run.CompletedAt = time.Now().UTC()
	if err != nil {
		run.Error = err.Error()
		bs.Logger.Error("billing cycle failed", zap.String("trigger", trigger), zap.Error(err))
	}

	bs.hist.Lock()
	bs.runs = append(bs.runs, run)
	if len(bs.runs) > maxRunHistory {
		bs.runs = bs.runs[len(bs.runs)-maxRunHistory:]
	}
	bs.hist.Unlock()
	return run
}

// Runs returns recorded runs, newest first.
func (bs *BillingScheduler) Runs() []BillingRun {
	bs.hist.Lock()
	defer bs.hist.Unlock()
	out := make([]BillingRun, len(bs.runs))
	for i, r := range bs.runs {
		out[len(bs.runs)-1-i] = r
	}
	return out
}
