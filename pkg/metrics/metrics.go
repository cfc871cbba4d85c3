// Package metrics exposes the Prometheus instruments of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlockScanDuration times one unprocessed-range scan per chain
	BlockScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "explorer_block_scan_duration_seconds",
		Help:    "Duration of one block range scan",
		Buckets: prometheus.DefBuckets,
	}, []string{"chain"})

	// BlockScanErrors counts failed range scans per chain
	BlockScanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explorer_block_scan_errors_total",
		Help: "Failed block range scans",
	}, []string{"chain"})

	// BlockWatermark tracks the latest processed block height per chain
	BlockWatermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "explorer_block_watermark",
		Help: "Latest processed block height",
	}, []string{"chain"})

	// ProviderFailures counts per-provider call failures during failover
	ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explorer_provider_failures_total",
		Help: "Provider calls that failed and triggered failover",
	}, []string{"chain", "provider", "op"})

	// LiquidationChunksCreated counts chunks produced by creator passes
	LiquidationChunksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_chunks_created_total",
		Help: "Liquidation chunks created",
	}, []string{"dst_currency", "market_type"})

	// SettlementCommits counts settlement outcomes
	SettlementCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_settlement_commits_total",
		Help: "Liquidation settlement commit outcomes",
	}, []string{"outcome"})

	// WithdrawDiffs counts recorded withdraw discrepancies per chain
	WithdrawDiffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_withdraw_diffs_total",
		Help: "Withdraw discrepancies recorded",
	}, []string{"chain"})
)
