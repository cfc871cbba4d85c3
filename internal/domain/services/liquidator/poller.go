package liquidator

import (
	"context"

	"github.com/chainledger/chainledger/internal/adapters/broker"
	"github.com/chainledger/chainledger/internal/domain/entities"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/pkg/logger"
)

// Poller pulls fill progress for open chunks from their venue. A chunk whose
// order reached a terminal venue state moves to ready_to_share so the
// processor can distribute its fill.
type Poller struct {
	repo     LiquidationRepository
	external BrokerClient
	internal InternalVenue
	cfg      config.LiquidatorConfig
	logger   *logger.Logger
}

// NewPoller builds the fill poller
func NewPoller(repo LiquidationRepository, external BrokerClient, internal InternalVenue, cfg config.LiquidatorConfig, log *logger.Logger) *Poller {
	return &Poller{
		repo:     repo,
		external: external,
		internal: internal,
		cfg:      cfg,
		logger:   log,
	}
}

// Execute polls one batch of open chunks. A single unreachable order does not
// stop the batch.
func (p *Poller) Execute(ctx context.Context) error {
	chunks, err := p.repo.GetOpenLiquidations(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := p.pollChunk(ctx, chunk); err != nil {
			p.logger.Warn("failed to poll chunk", "liquidation_id", chunk.ID, "error", err)
		}
	}
	return nil
}

func (p *Poller) pollChunk(ctx context.Context, chunk *entities.Liquidation) error {
	status, err := p.getOrder(ctx, chunk)
	if err != nil {
		return err
	}

	changed := !status.FilledAmount.Equal(chunk.FilledAmount)
	chunk.FilledAmount = status.FilledAmount
	chunk.FilledTotalPrice = status.FilledTotalPrice

	terminal := status.Status == "filled" || status.Status == "canceled"
	if terminal {
		chunk.Status = entities.LiquidationStatusReadyToShare
	}
	if !changed && !terminal {
		return nil
	}

	tx, err := p.repo.DB().BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := p.repo.UpdateLiquidation(ctx, tx, chunk); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Poller) getOrder(ctx context.Context, chunk *entities.Liquidation) (*broker.OrderStatus, error) {
	if chunk.MarketType == entities.MarketTypeExternal {
		return p.external.GetOrder(ctx, chunk.TrackingID)
	}
	return p.internal.GetOrder(ctx, chunk.TrackingID)
}
