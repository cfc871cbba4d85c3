package liquidation_worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chainledger/chainledger/internal/domain/services/liquidator"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/pkg/logger"
)

// Worker drives the liquidation pipeline: creating chunks from pending
// requests, dispatching them, polling fills, sharing them back and committing
// ledger movements, plus the failed-commit retry and empty-chunk sweeps.
type Worker struct {
	creator    *liquidator.Creator
	dispatcher *liquidator.Dispatcher
	poller     *liquidator.Poller
	processor  *liquidator.Processor
	cleanup    *liquidator.Cleanup
	cfg        config.LiquidatorConfig
	logger     *logger.Logger
	stopCh     chan struct{}
}

func NewWorker(
	creator *liquidator.Creator,
	dispatcher *liquidator.Dispatcher,
	poller *liquidator.Poller,
	processor *liquidator.Processor,
	cleanup *liquidator.Cleanup,
	cfg config.LiquidatorConfig,
	logger *logger.Logger,
) *Worker {
	return &Worker{
		creator:    creator,
		dispatcher: dispatcher,
		poller:     poller,
		processor:  processor,
		cleanup:    cleanup,
		cfg:        cfg,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the worker processing loop
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting liquidation worker")

	runInterval := time.Duration(w.cfg.RunInterval) * time.Second
	if runInterval == 0 {
		runInterval = 10 * time.Second
	}
	retryInterval := time.Duration(w.cfg.RetryInterval) * time.Second
	if retryInterval == 0 {
		retryInterval = time.Minute
	}
	schedule := w.cfg.CleanupSchedule
	if schedule == "" {
		schedule = "0 * * * *"
	}
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(schedule, func() { w.sweepEmptyChunks(ctx) }); err != nil {
		w.logger.Error("Invalid cleanup schedule, sweeps disabled", "schedule", schedule, "error", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	runTicker := time.NewTicker(runInterval)
	defer runTicker.Stop()
	retryTicker := time.NewTicker(retryInterval)
	defer retryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Liquidation worker stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("Liquidation worker stopped")
			return
		case <-runTicker.C:
			w.runPipeline(ctx)
		case <-retryTicker.C:
			w.retryFailedCommits(ctx)
		}
	}
}

// Stop signals the worker to stop
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) runPipeline(ctx context.Context) {
	if err := w.creator.Execute(ctx); err != nil {
		w.logger.Error("Creator pass failed", "error", err)
	}
	if err := w.dispatcher.Execute(ctx); err != nil {
		w.logger.Error("Dispatch pass failed", "error", err)
	}
	if err := w.poller.Execute(ctx); err != nil {
		w.logger.Error("Fill poll pass failed", "error", err)
	}
	if err := w.processor.ShareFills(ctx); err != nil {
		w.logger.Error("Fill share pass failed", "error", err)
	}
	if err := w.processor.SubmitWalletTransactions(ctx, false); err != nil {
		w.logger.Error("Settlement pass failed", "error", err)
	}
}

func (w *Worker) retryFailedCommits(ctx context.Context) {
	if err := w.processor.SubmitWalletTransactions(ctx, true); err != nil {
		w.logger.Error("Settlement retry pass failed", "error", err)
	}
}

func (w *Worker) sweepEmptyChunks(ctx context.Context) {
	if err := w.cleanup.Execute(ctx); err != nil {
		w.logger.Error("Cleanup pass failed", "error", err)
	}
}
