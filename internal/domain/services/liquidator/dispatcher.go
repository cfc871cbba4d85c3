package liquidator

import (
	"context"
	"errors"

	"github.com/chainledger/chainledger/internal/adapters/broker"
	"github.com/chainledger/chainledger/internal/domain/entities"
	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/pkg/logger"
)

// Dispatcher submits freshly created chunks to their venue. Venue choice is
// re-evaluated at dispatch time: a chunk created for the external broker while
// it was active falls back to the internal venue if the broker has since gone
// inactive, instead of sitting in limbo.
type Dispatcher struct {
	repo     LiquidationRepository
	external BrokerClient
	internal InternalVenue
	notifier Notifier
	cfg      config.LiquidatorConfig
	logger   *logger.Logger
}

// NewDispatcher builds the dispatcher
func NewDispatcher(repo LiquidationRepository, external BrokerClient, internal InternalVenue, notifier Notifier, cfg config.LiquidatorConfig, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		external: external,
		internal: internal,
		notifier: notifier,
		cfg:      cfg,
		logger:   log,
	}
}

// Execute dispatches one batch of new chunks per venue type
func (d *Dispatcher) Execute(ctx context.Context) error {
	if err := d.dispatchExternal(ctx); err != nil {
		return err
	}
	return d.dispatchInternal(ctx)
}

func (d *Dispatcher) dispatchExternal(ctx context.Context) error {
	chunks, err := d.repo.GetNewLiquidations(ctx, entities.MarketTypeExternal, d.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	active, err := d.external.IsActive(ctx)
	if err != nil {
		d.logger.Warn("broker status check failed", "error", err)
		active = false
	}

	for _, chunk := range chunks {
		if !active {
			if err := d.routeInternal(ctx, chunk); err != nil {
				return err
			}
			continue
		}
		if err := d.placeExternal(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) placeExternal(ctx context.Context, chunk *entities.Liquidation) error {
	clientID := broker.ClientID(d.cfg.ClientIDPrefix, chunk)
	order := &broker.OrderRequest{
		ClientID: clientID,
		Market:   chunk.MarketSymbol(),
		Side:     string(chunk.Side),
		Amount:   chunk.Amount,
		Price:    chunk.PrimaryPrice,
	}

	_, err := d.external.PlaceOrder(ctx, order)
	switch {
	case err == nil:
		chunk.TrackingID = clientID
		return d.markOpen(ctx, chunk)
	case errors.Is(err, domainerrors.ErrOrderTooSmall):
		// Below the venue minimum. The chunk is parked and its request keeps
		// progressing on whatever other chunks fill.
		d.logger.Warn("chunk below broker minimum, parking as overstock",
			"liquidation_id", chunk.ID, "amount", chunk.Amount)
		return d.repo.UpdateLiquidationStatus(ctx, chunk.ID, entities.LiquidationStatusOverstock)
	case errors.Is(err, domainerrors.ErrBrokerInactive):
		return d.routeInternal(ctx, chunk)
	default:
		d.logger.Error("failed to place external order", "liquidation_id", chunk.ID, "error", err)
		return err
	}
}

// routeInternal sends an external chunk to the internal venue instead
func (d *Dispatcher) routeInternal(ctx context.Context, chunk *entities.Liquidation) error {
	d.logger.Info("routing chunk to internal venue", "liquidation_id", chunk.ID)
	d.notifier.Alert(ctx, "external broker unavailable, chunk rerouted", map[string]interface{}{
		"liquidation_id": chunk.ID.String(),
		"market":         chunk.MarketSymbol(),
		"amount":         chunk.Amount.String(),
	})
	clientID := broker.ClientID(d.cfg.ClientIDPrefix, chunk)
	_, err := d.internal.PlaceOrder(ctx, &broker.OrderRequest{
		ClientID: clientID,
		Market:   chunk.MarketSymbol(),
		Side:     string(chunk.Side),
		Amount:   chunk.Amount,
		Price:    chunk.PrimaryPrice,
	})
	if err != nil {
		return err
	}
	chunk.MarketType = entities.MarketTypeInternal
	chunk.TrackingID = clientID
	chunk.Status = entities.LiquidationStatusOpen
	return d.repo.UpdateLiquidationDispatch(ctx, chunk.ID, chunk.MarketType, chunk.TrackingID, chunk.Status)
}

func (d *Dispatcher) dispatchInternal(ctx context.Context) error {
	chunks, err := d.repo.GetNewLiquidations(ctx, entities.MarketTypeInternal, d.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		clientID := broker.ClientID(d.cfg.ClientIDPrefix, chunk)
		_, err := d.internal.PlaceOrder(ctx, &broker.OrderRequest{
			ClientID: clientID,
			Market:   chunk.MarketSymbol(),
			Side:     string(chunk.Side),
			Amount:   chunk.Amount,
			Price:    chunk.PrimaryPrice,
		})
		if err != nil {
			d.logger.Error("failed to place internal order", "liquidation_id", chunk.ID, "error", err)
			return err
		}
		chunk.TrackingID = clientID
		if err := d.markOpen(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) markOpen(ctx context.Context, chunk *entities.Liquidation) error {
	chunk.Status = entities.LiquidationStatusOpen
	return d.repo.UpdateLiquidationDispatch(ctx, chunk.ID, chunk.MarketType, chunk.TrackingID, chunk.Status)
}
