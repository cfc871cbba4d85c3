// Package reconciliation cross-checks on-chain movements against the internal
// ledger and records discrepancies for operator review.
package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainledger/chainledger/internal/domain/entities"
	"github.com/chainledger/chainledger/internal/explorer"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/pkg/logger"
	"github.com/chainledger/chainledger/pkg/metrics"
)

// WithdrawRepository is the persistence surface the reconciler needs
type WithdrawRepository interface {
	GetSentByChain(ctx context.Context, chain string) ([]*entities.WithdrawRequest, error)
	GetByTxHash(ctx context.Context, chain, txHash string) ([]*entities.WithdrawRequest, error)
	MarkDone(ctx context.Context, ids []uuid.UUID) error
	CreateDiff(ctx context.Context, diff *entities.WithdrawDiff) error
}

// Notifier raises operator alerts
type Notifier interface {
	Alert(ctx context.Context, title string, details map[string]interface{})
}

// Explorer is the chain-data surface the reconciler needs
type Explorer interface {
	Chain() string
	Policy() *explorer.ChainPolicy
	GetTxDetails(ctx context.Context, txHash string) ([]entities.TransferTx, error)
}

// WithdrawDiffReconciler compares each sent withdrawal's on-chain amount
// against the internal records sharing its transaction. Amounts agreeing
// within one unit at the chain's precision reconcile; anything else is
// persisted as a diff and alerted, never auto-corrected.
type WithdrawDiffReconciler struct {
	withdraws WithdrawRepository
	notifier  Notifier
	cfg       config.ReconciliationConfig
	logger    *logger.Logger

	feeSkim map[string]bool
}

// NewWithdrawDiffReconciler builds the reconciler
func NewWithdrawDiffReconciler(withdraws WithdrawRepository, notifier Notifier, cfg config.ReconciliationConfig, log *logger.Logger) *WithdrawDiffReconciler {
	feeSkim := make(map[string]bool, len(cfg.FeeSkimChains))
	for _, chain := range cfg.FeeSkimChains {
		feeSkim[chain] = true
	}
	return &WithdrawDiffReconciler{
		withdraws: withdraws,
		notifier:  notifier,
		cfg:       cfg,
		logger:    log,
		feeSkim:   feeSkim,
	}
}

// Reconcile checks every sent withdrawal of one chain against its on-chain
// transaction
func (r *WithdrawDiffReconciler) Reconcile(ctx context.Context, exp Explorer) error {
	chain := exp.Chain()
	sent, err := r.withdraws.GetSentByChain(ctx, chain)
	if err != nil {
		return err
	}

	// A batched hot wallet send settles several requests with one tx; group
	// by hash so each tx is fetched and judged once.
	byHash := make(map[string][]*entities.WithdrawRequest)
	for _, request := range sent {
		if request.TxHash == "" {
			continue
		}
		byHash[request.TxHash] = append(byHash[request.TxHash], request)
	}

	for txHash, requests := range byHash {
		if err := r.reconcileTx(ctx, exp, txHash, requests); err != nil {
			r.logger.Warn("failed to reconcile withdraw tx", "chain", chain, "tx_hash", txHash, "error", err)
		}
	}
	return nil
}

func (r *WithdrawDiffReconciler) reconcileTx(ctx context.Context, exp Explorer, txHash string, requests []*entities.WithdrawRequest) error {
	transfers, err := exp.GetTxDetails(ctx, txHash)
	if err != nil {
		return err
	}
	if len(transfers) == 0 {
		// Not on chain yet, or rejected by validation. Try again next pass.
		return nil
	}

	chainAmount := decimal.Zero
	fromAddress := ""
	for _, transfer := range transfers {
		chainAmount = chainAmount.Add(transfer.Value)
		if fromAddress == "" {
			fromAddress = transfer.FromAddress
		}
	}

	internalAmount := decimal.Zero
	totalFee := decimal.Zero
	ids := make([]uuid.UUID, 0, len(requests))
	for _, request := range requests {
		internalAmount = internalAmount.Add(request.Amount)
		totalFee = totalFee.Add(request.NetworkFee)
		ids = append(ids, request.ID)
	}

	chain := exp.Chain()
	precision := exp.Policy().Precision
	if r.amountsMatch(chain, chainAmount, internalAmount, totalFee, precision) {
		return r.withdraws.MarkDone(ctx, ids)
	}

	diff := &entities.WithdrawDiff{
		ID:             uuid.New(),
		Chain:          chain,
		Address:        fromAddress,
		TxHash:         txHash,
		ChainAmount:    chainAmount,
		InternalAmount: internalAmount,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.withdraws.CreateDiff(ctx, diff); err != nil {
		return err
	}
	metrics.WithdrawDiffs.WithLabelValues(chain).Inc()
	r.notifier.Alert(ctx, "withdraw amount mismatch", map[string]interface{}{
		"chain":           chain,
		"tx_hash":         txHash,
		"chain_amount":    chainAmount.String(),
		"internal_amount": internalAmount.String(),
	})
	return nil
}

// amountsMatch compares chain and ledger amounts allowing one unit of error
// at the chain's precision, since providers round differently. Chains that
// skim the network fee from the sent amount may also be short by the fee.
func (r *WithdrawDiffReconciler) amountsMatch(chain string, chainAmount, internalAmount, totalFee decimal.Decimal, precision int32) bool {
	ulp := decimal.New(1, -precision)
	diff := internalAmount.Sub(chainAmount).Abs()
	if diff.LessThanOrEqual(ulp) {
		return true
	}
	if r.feeSkim[chain] {
		short := internalAmount.Sub(chainAmount)
		if short.IsPositive() && short.LessThanOrEqual(totalFee.Add(ulp)) {
			return true
		}
	}
	return false
}
