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

// Creator turns pending liquidation requests into capped order chunks.
// One pass claims a batch of pending requests under row locks, prices them,
// splits them into per-order-cap chunks bounded by the per-currency open
// exposure cap, and persists chunks plus associations atomically.
type Creator struct {
	repo     LiquidationRepository
	prices   PriceProvider
	notifier Notifier
	cfg      config.LiquidatorConfig
	logger   *logger.Logger

	maxInMarket map[string]decimal.Decimal
	maxOrder    map[string]decimal.Decimal
}

// NewCreator builds the creator, parsing the configured caps up front
func NewCreator(repo LiquidationRepository, prices PriceProvider, notifier Notifier, cfg config.LiquidatorConfig, log *logger.Logger) (*Creator, error) {
	maxInMarket, err := parseCaps(cfg.MaxInMarketOrder)
	if err != nil {
		return nil, fmt.Errorf("max_in_market_order: %w", err)
	}
	maxOrder, err := parseCaps(cfg.MaxOrder)
	if err != nil {
		return nil, fmt.Errorf("max_order: %w", err)
	}
	return &Creator{
		repo:        repo,
		prices:      prices,
		notifier:    notifier,
		cfg:         cfg,
		logger:      log,
		maxInMarket: maxInMarket,
		maxOrder:    maxOrder,
	}, nil
}

// defaultAmountPrecision bounds order amounts for currencies with no
// configured precision.
const defaultAmountPrecision = 8

func (c *Creator) amountPrecision(currency string) int32 {
	if p, ok := c.cfg.AmountPrecision[currency]; ok {
		return int32(p)
	}
	return defaultAmountPrecision
}

func parseCaps(raw map[string]string) (map[string]decimal.Decimal, error) {
	caps := make(map[string]decimal.Decimal, len(raw))
	for currency, value := range raw {
		cap, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("currency %s: %w", currency, err)
		}
		caps[currency] = cap
	}
	return caps, nil
}

// Execute runs one creator pass. Requests that cannot be priced stay pending
// and are reported; the rest of the batch proceeds.
func (c *Creator) Execute(ctx context.Context) error {
	// Exposure is read before the locked pass and consumed as chunks are
	// planned, so one pass cannot overshoot the per-currency cap even when
	// several requests share a destination.
	remaining := make(map[string]decimal.Decimal)

	return database.WithTransaction(ctx, c.repo.DB(), func(tx *sqlx.Tx) error {
		requests, err := c.repo.LockRequestsByStatus(ctx, tx, entities.RequestStatusPending, c.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(requests) == 0 {
			return nil
		}

		var liquidations []*entities.Liquidation
		var associations []*entities.LiquidationAssociation
		now := time.Now().UTC()

		for _, request := range requests {
			price, err := c.prices.GetReferencePrice(ctx, request.MarketSymbol())
			if err != nil {
				if errors.Is(err, domainerrors.ErrEmptyPrice) {
					c.logger.Warn("skipping unpriceable request", "request_id", request.ID, "market", request.MarketSymbol())
					c.notifier.Alert(ctx, "liquidation request has no price", map[string]interface{}{
						"request_id": request.ID.String(),
						"market":     request.MarketSymbol(),
					})
					continue
				}
				return err
			}

			amount := request.UnfilledAmount()
			if !amount.IsPositive() {
				continue
			}

			external := c.cfg.IsExternalCurrency(request.DstCurrency)
			if cap, capped := c.maxInMarket[request.DstCurrency]; external && capped {
				budget, ok := remaining[request.DstCurrency]
				if !ok {
					open, err := c.repo.GetOpenExternalExposure(ctx, request.DstCurrency)
					if err != nil {
						return err
					}
					budget = cap.Sub(open)
				}
				// The cap and the open exposure are destination-currency
				// values. Convert the remaining budget into source units at
				// the fetched price, rounded down to the tradable precision.
				maxAmount := decimal.Zero
				if price.IsPositive() {
					maxAmount = budget.Div(price).RoundDown(c.amountPrecision(request.SrcCurrency))
				}
				// A request that does not fit in the remaining exposure
				// budget stays pending for a later pass; smaller requests
				// behind it may still use the budget.
				if amount.GreaterThan(maxAmount) {
					c.logger.Info("exposure cap reached, deferring request",
						"request_id", request.ID, "dst_currency", request.DstCurrency,
						"amount", amount, "budget", budget)
					remaining[request.DstCurrency] = budget
					continue
				}
				remaining[request.DstCurrency] = budget.Sub(amount.Mul(price))
			}

			marketType := entities.MarketTypeInternal
			if external {
				marketType = entities.MarketTypeExternal
			}

			for _, chunkAmount := range splitAmountIfNeeded(amount, c.maxOrder[request.DstCurrency]) {
				liquidation := &entities.Liquidation{
					ID:           uuid.New(),
					SrcCurrency:  request.SrcCurrency,
					DstCurrency:  request.DstCurrency,
					Side:         request.Side,
					Amount:       chunkAmount,
					PrimaryPrice: price,
					Status:       entities.LiquidationStatusNew,
					MarketType:   marketType,
					CreatedAt:    now,
					UpdatedAt:    now,
				}
				liquidations = append(liquidations, liquidation)
				associations = append(associations, &entities.LiquidationAssociation{
					ID:                   uuid.New(),
					LiquidationRequestID: request.ID,
					LiquidationID:        liquidation.ID,
					CreatedAt:            now,
				})
			}

			if err := c.repo.UpdateRequestStatus(ctx, tx, request.ID, entities.RequestStatusInProgress); err != nil {
				return err
			}
		}

		if len(liquidations) == 0 {
			return nil
		}
		if err := c.repo.BulkCreateLiquidations(ctx, tx, liquidations, associations); err != nil {
			return err
		}
		for _, liquidation := range liquidations {
			metrics.LiquidationChunksCreated.WithLabelValues(
				liquidation.DstCurrency, string(liquidation.MarketType)).Inc()
		}
		c.logger.Info("created liquidation chunks",
			"requests", len(requests), "chunks", len(liquidations))
		return nil
	})
}

// splitAmountIfNeeded splits an amount into chunks of at most maxOrder each:
// 250 with a cap of 100 becomes [100, 100, 50]. A zero cap means no split.
func splitAmountIfNeeded(amount, maxOrder decimal.Decimal) []decimal.Decimal {
	if !amount.IsPositive() {
		return nil
	}
	if !maxOrder.IsPositive() || amount.LessThanOrEqual(maxOrder) {
		return []decimal.Decimal{amount}
	}
	var chunks []decimal.Decimal
	rest := amount
	for rest.GreaterThan(maxOrder) {
		chunks = append(chunks, maxOrder)
		rest = rest.Sub(maxOrder)
	}
	if rest.IsPositive() {
		chunks = append(chunks, rest)
	}
	return chunks
}
