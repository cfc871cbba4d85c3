package liquidator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/chainledger/chainledger/internal/domain/entities"
	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/internal/infrastructure/database"
	"github.com/chainledger/chainledger/pkg/logger"
	"github.com/chainledger/chainledger/pkg/metrics"
)

// Processor distributes chunk fills back to their requests and commits the
// resulting wallet ledger movements. Ledger failures park the request in
// transactions_failed; everything about the commit is recomputed from
// persisted rows on retry, so a re-run can only produce the same movements.
type Processor struct {
	repo     LiquidationRepository
	wallets  WalletRepository
	notifier Notifier
	cfg      config.LiquidatorConfig
	logger   *logger.Logger
}

// NewProcessor builds the settlement processor
func NewProcessor(repo LiquidationRepository, wallets WalletRepository, notifier Notifier, cfg config.LiquidatorConfig, log *logger.Logger) *Processor {
	return &Processor{
		repo:     repo,
		wallets:  wallets,
		notifier: notifier,
		cfg:      cfg,
		logger:   log,
	}
}

// ShareFills moves unshared chunk fill into request fill state for every
// in-progress request whose chunks have terminal fills
func (p *Processor) ShareFills(ctx context.Context) error {
	var requestIDs []uuid.UUID
	err := database.WithTransaction(ctx, p.repo.DB(), func(tx *sqlx.Tx) error {
		requests, err := p.repo.LockRequestsByStatus(ctx, tx, entities.RequestStatusInProgress, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, request := range requests {
			requestIDs = append(requestIDs, request.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range requestIDs {
		if err := p.shareRequestFills(ctx, id); err != nil {
			p.logger.Error("failed to share fills", "request_id", id, "error", err)
		}
	}
	return nil
}

// shareRequestFills distributes the unshared fill of one request's terminal
// chunks into its associations and fill counters, inside one transaction
func (p *Processor) shareRequestFills(ctx context.Context, requestID uuid.UUID) error {
	return database.WithTransaction(ctx, p.repo.DB(), func(tx *sqlx.Tx) error {
		request, err := p.repo.GetRequestForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if request.Status != entities.RequestStatusInProgress {
			return nil
		}

		chunks, err := p.repo.LockLiquidationsForRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		associations, err := p.repo.GetAssociationsByRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		byChunk := make(map[uuid.UUID]*entities.LiquidationAssociation, len(associations))
		for _, a := range associations {
			byChunk[a.LiquidationID] = a
		}

		for _, chunk := range chunks {
			share := chunk.UnsharedAmount()
			sharePrice := chunk.UnsharedTotalPrice()
			if share.IsNegative() || sharePrice.IsNegative() {
				return fmt.Errorf("chunk %s shared more than it filled: %w", chunk.ID, domainerrors.ErrDoubleSpend)
			}
			association := byChunk[chunk.ID]
			if association == nil {
				return fmt.Errorf("chunk %s has no association for request %s", chunk.ID, requestID)
			}

			if share.IsPositive() || sharePrice.IsPositive() {
				association.Amount = association.Amount.Add(share)
				association.TotalPrice = association.TotalPrice.Add(sharePrice)
				if err := p.repo.UpdateAssociationShare(ctx, tx, association); err != nil {
					return err
				}

				request.FilledAmount = request.FilledAmount.Add(share)
				request.FilledTotalPrice = request.FilledTotalPrice.Add(sharePrice)
				if request.FilledAmount.GreaterThan(request.Amount) {
					return fmt.Errorf("request %s overfilled: %w", requestID, domainerrors.ErrDoubleSpend)
				}

				chunk.PaidAmount = chunk.FilledAmount
				chunk.PaidTotalPrice = chunk.FilledTotalPrice
			}
			chunk.Status = entities.LiquidationStatusDone
			if err := p.repo.UpdateLiquidation(ctx, tx, chunk); err != nil {
				return err
			}
		}

		if request.FilledAmount.GreaterThanOrEqual(request.Amount) {
			request.Status = entities.RequestStatusWaitingForTxs
		} else {
			active, err := p.repo.CountActiveLiquidationsForRequest(ctx, tx, requestID)
			if err != nil {
				return err
			}
			// Every chunk went terminal with amount still unfilled, which
			// happens when an order is canceled after a partial fill or a
			// chunk was parked as overstock. The request goes back to the
			// creator queue so the remainder is re-chunked; shared fills stay
			// on the associations and settle with the rest once it completes.
			if active == 0 {
				p.logger.Info("re-pending partially filled request",
					"request_id", requestID, "filled", request.FilledAmount, "amount", request.Amount)
				request.Status = entities.RequestStatusPending
			}
		}
		return p.repo.UpdateRequestFill(ctx, tx, request)
	})
}

// SubmitWalletTransactions commits the ledger movements for requests awaiting
// them. isRetry re-drives requests previously parked by a commit failure.
func (p *Processor) SubmitWalletTransactions(ctx context.Context, isRetry bool) error {
	status := entities.RequestStatusWaitingForTxs
	if isRetry {
		status = entities.RequestStatusTxsFailed
	}

	var requestIDs []uuid.UUID
	err := database.WithTransaction(ctx, p.repo.DB(), func(tx *sqlx.Tx) error {
		requests, err := p.repo.LockRequestsByStatus(ctx, tx, status, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, request := range requests {
			requestIDs = append(requestIDs, request.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range requestIDs {
		if err := p.commitRequest(ctx, id, status); err != nil {
			p.logger.Error("wallet transaction commit failed", "request_id", id, "error", err)
			metrics.SettlementCommits.WithLabelValues("failed").Inc()
			p.parkFailedRequest(ctx, id, err)
			continue
		}
		metrics.SettlementCommits.WithLabelValues("done").Inc()
	}
	return nil
}

// commitRequest applies both wallet movements of one request in a single
// database transaction. Amounts are recomputed from association rows, never
// taken from memory, and the (ref_module, ref_id) uniqueness makes a repeated
// commit of the same request a no-op.
func (p *Processor) commitRequest(ctx context.Context, requestID uuid.UUID, fromStatus entities.LiquidationRequestStatus) error {
	err := database.WithTransaction(ctx, p.repo.DB(), func(tx *sqlx.Tx) error {
		request, err := p.repo.GetRequestForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if request.Status != fromStatus {
			return nil
		}

		associations, err := p.repo.GetAssociationsByRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		netAmount := decimal.Zero
		netTotalPrice := decimal.Zero
		for _, a := range associations {
			netAmount = netAmount.Add(a.Amount)
			netTotalPrice = netTotalPrice.Add(a.TotalPrice)
		}

		// A fill with an amount but no price (or the reverse) is corrupt
		// data. Committing either side alone would unbalance the ledger.
		if netAmount.IsZero() != netTotalPrice.IsZero() {
			return fmt.Errorf("request %s: amount=%s total_price=%s: %w",
				requestID, netAmount, netTotalPrice, domainerrors.ErrIncompatibleAmountAndPrice)
		}

		if !netAmount.IsZero() {
			srcDelta, dstDelta := signedDeltas(request, netAmount, netTotalPrice)
			if err := p.applyMovement(ctx, tx, request.SrcWalletID, srcDelta, entities.RefModuleLiquidationSrc, requestID); err != nil {
				return err
			}
			if err := p.applyMovement(ctx, tx, request.DstWalletID, dstDelta, entities.RefModuleLiquidationDst, requestID); err != nil {
				return err
			}
		}

		return p.repo.UpdateRequestStatus(ctx, tx, requestID, entities.RequestStatusDone)
	})
	if err != nil {
		// Invariant violations keep their own identity; anything else is a
		// commit failure eligible for retry.
		if errors.Is(err, domainerrors.ErrIncompatibleAmountAndPrice) || errors.Is(err, domainerrors.ErrDoubleSpend) {
			return err
		}
		return &domainerrors.TransactionCommitError{RequestID: requestID.String(), Err: err}
	}
	p.logger.Info("liquidation request settled", "request_id", requestID)
	return nil
}

// applyMovement locks the wallet and writes one signed ledger transaction,
// skipping movements already committed by an earlier attempt
func (p *Processor) applyMovement(ctx context.Context, tx *sqlx.Tx, walletID uuid.UUID, amount decimal.Decimal, refModule entities.WalletTransactionRefModule, requestID uuid.UUID) error {
	exists, err := p.wallets.TransactionExists(ctx, tx, refModule, requestID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := p.wallets.GetWalletForUpdate(ctx, tx, walletID); err != nil {
		return err
	}
	return p.wallets.CreateTransaction(ctx, tx, &entities.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    walletID,
		Amount:      amount,
		RefModule:   refModule,
		RefID:       requestID,
		Description: fmt.Sprintf("liquidation settlement %s", requestID),
		CreatedAt:   time.Now().UTC(),
	})
}

// signedDeltas derives the two wallet movements from the request side:
// selling the source currency drains the source wallet and credits the
// destination with the total price; buying is the mirror image.
func signedDeltas(request *entities.LiquidationRequest, amount, totalPrice decimal.Decimal) (src, dst decimal.Decimal) {
	if request.IsSell() {
		return amount.Neg(), totalPrice
	}
	return amount, totalPrice.Neg()
}

// parkFailedRequest moves a request whose commit failed into
// transactions_failed and alerts an operator. Invariant violations go to
// manual_check instead: a retry cannot fix corrupt fill data, so they must
// stay out of the retry ticker's queue until an operator resolves them.
func (p *Processor) parkFailedRequest(ctx context.Context, requestID uuid.UUID, cause error) {
	status := entities.RequestStatusTxsFailed
	if errors.Is(cause, domainerrors.ErrIncompatibleAmountAndPrice) || errors.Is(cause, domainerrors.ErrDoubleSpend) {
		status = entities.RequestStatusManualCheck
	}
	err := database.WithTransaction(ctx, p.repo.DB(), func(tx *sqlx.Tx) error {
		return p.repo.UpdateRequestStatus(ctx, tx, requestID, status)
	})
	if err != nil {
		p.logger.Error("failed to park request", "request_id", requestID, "error", err)
	}
	p.notifier.Alert(ctx, "liquidation settlement failed", map[string]interface{}{
		"request_id": requestID.String(),
		"error":      cause.Error(),
		"retryable":  domainerrors.IsRetryable(cause),
	})
}
