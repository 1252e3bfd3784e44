// Package worker runs the background side of dompet: replaying half-applied
// reconciliations and mirroring transaction events to Google Sheets.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dompet/internal/log"
	"dompet/internal/reconcile"
)

// Resumer replays pending ledger entries. *reconcile.Reconciler implements it.
type Resumer interface {
	Resume(ctx context.Context, groupID string) (int, error)
	ResumePending(ctx context.Context, grace time.Duration, limit int) (reconcile.ResumeReport, error)
}

// Refresher brings copies of a transaction in step after a replay changed
// it. *Mirror implements it.
type Refresher interface {
	Refresh(ctx context.Context, transactionID string) error
}

// RecoveryConfig holds configuration for the recovery loop
type RecoveryConfig struct {
	// Interval is how often pending ledger entries are swept (default: 1m)
	Interval time.Duration

	// BatchSize is the max number of entries replayed per sweep (default: 100)
	BatchSize int

	// Grace skips entries younger than this so in-flight requests can finish (default: 30s)
	Grace time.Duration
}

// DefaultRecoveryConfig returns sensible defaults
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Interval:  time.Minute,
		BatchSize: 100,
		Grace:     30 * time.Second,
	}
}

// Recovery periodically replays reconciliations that stopped after their
// first wallet write.
type Recovery struct {
	resumer    Resumer
	refresher  Refresher
	config     RecoveryConfig
	structured *log.StructuredLogger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecovery wires the loop. refresher may be nil.
func NewRecovery(resumer Resumer, refresher Refresher, config RecoveryConfig) *Recovery {
	return &Recovery{
		resumer:    resumer,
		refresher:  refresher,
		config:     config,
		structured: log.NewStructuredLogger(log.Default(log.ComponentWorker)),
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (r *Recovery) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recovery worker is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	slog.InfoContext(ctx, "Recovery worker started",
		"interval", r.config.Interval,
		"batch_size", r.config.BatchSize,
		"grace", r.config.Grace)

	return nil
}

// Stop signals the loop and waits for the current sweep to finish.
func (r *Recovery) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Recovery worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recovery worker stop timed out")
		return ctx.Err()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	return nil
}

// IsRunning returns whether the loop is currently running
func (r *Recovery) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Recovery) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// Sweep immediately on startup
	r.Sweep(ctx)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep replays one batch of pending entries and refreshes the records the
// replay changed.
func (r *Recovery) Sweep(ctx context.Context) reconcile.ResumeReport {
	report, err := r.resumer.ResumePending(ctx, r.config.Grace, r.config.BatchSize)
	r.refresh(ctx, report.Transactions)
	if err != nil {
		r.structured.LogError(ctx, "Recovery sweep failed", err, log.ComponentWorker, log.OpResume, log.LogFields{
			"groups": report.Groups,
			"failed": report.Failed,
		}.WithErrorType(reconcile.ErrorType(err)))
		return report
	}
	if report.Entries > 0 || len(report.Failed) > 0 {
		slog.InfoContext(ctx, "Recovery sweep completed",
			"groups", report.Groups,
			"entries", report.Entries,
			"failed", len(report.Failed))
	}
	return report
}

func (r *Recovery) refresh(ctx context.Context, ids []string) {
	if r.refresher == nil {
		return
	}
	for _, id := range ids {
		if err := r.refresher.Refresh(ctx, id); err != nil {
			// The row stays stale until the next event for this transaction.
			slog.WarnContext(ctx, "Failed to refresh replayed transaction",
				log.FieldOperation, log.OpSync,
				log.FieldTransactionID, id,
				log.FieldError, err)
		}
	}
}
