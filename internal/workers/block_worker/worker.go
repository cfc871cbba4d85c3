package block_worker

import (
	"context"
	"time"

	"github.com/chainledger/chainledger/internal/domain/services/reconciliation"
	"github.com/chainledger/chainledger/internal/explorer"
	"github.com/chainledger/chainledger/pkg/logger"
	"github.com/chainledger/chainledger/pkg/metrics"
)

// ChainRunner pairs one chain facade with its scan interval
type ChainRunner struct {
	Explorer *explorer.Interface
	Interval time.Duration
}

// Worker scans each enabled chain's unprocessed block window on its own
// cadence and feeds the results to the withdraw reconciler.
type Worker struct {
	chains     []ChainRunner
	reconciler *reconciliation.WithdrawDiffReconciler
	logger     *logger.Logger
	stopCh     chan struct{}
}

func NewWorker(chains []ChainRunner, reconciler *reconciliation.WithdrawDiffReconciler, logger *logger.Logger) *Worker {
	return &Worker{
		chains:     chains,
		reconciler: reconciler,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start launches one scan loop per chain and blocks until stopped
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting block worker", "chains", len(w.chains))

	for _, runner := range w.chains {
		go w.runChain(ctx, runner)
	}

	select {
	case <-ctx.Done():
		w.logger.Info("Block worker stopped (context cancelled)")
	case <-w.stopCh:
		w.logger.Info("Block worker stopped")
	}
}

// Stop signals the worker to stop
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) runChain(ctx context.Context, runner ChainRunner) {
	interval := runner.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	chain := runner.Explorer.Chain()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.scanChain(ctx, runner.Explorer, chain)
		}
	}
}

func (w *Worker) scanChain(ctx context.Context, exp *explorer.Interface, chain string) {
	start := time.Now()
	result, err := exp.GetLatestBlock(ctx, true)
	if err != nil {
		w.logger.Error("Block scan failed", "chain", chain, "error", err)
		metrics.BlockScanErrors.WithLabelValues(chain).Inc()
		return
	}
	metrics.BlockScanDuration.WithLabelValues(chain).Observe(time.Since(start).Seconds())
	metrics.BlockWatermark.WithLabelValues(chain).Set(float64(result.Processed))

	if len(result.Txs) > 0 {
		w.logger.Info("Block range scanned",
			"chain", chain, "min", result.Range.Min, "max", result.Range.Max,
			"processed", result.Processed, "transfers", len(result.Txs))
	}

	if w.reconciler != nil {
		if err := w.reconciler.Reconcile(ctx, exp); err != nil {
			w.logger.Error("Withdraw reconciliation failed", "chain", chain, "error", err)
		}
	}
}
