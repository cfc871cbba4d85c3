package liquidator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainledger/chainledger/internal/domain/entities"
	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/pkg/logger"
)

// RequestRepository is the narrow surface the intake needs
type RequestRepository interface {
	CreateRequest(ctx context.Context, request *entities.LiquidationRequest) error
}

// Service is the intake facade for subsystems raising conversion needs
type Service struct {
	repo   RequestRepository
	logger *logger.Logger
}

// NewService creates the liquidation intake service
func NewService(repo RequestRepository, log *logger.Logger) *Service {
	return &Service{repo: repo, logger: log}
}

// RequestParams are the fields a caller supplies when raising a conversion
type RequestParams struct {
	Service     entities.LiquidationService
	SrcWalletID uuid.UUID
	DstWalletID uuid.UUID
	SrcCurrency string
	DstCurrency string
	Side        entities.OrderSide
	Amount      decimal.Decimal
}

// LiquidateMarginCall raises a conversion on behalf of the margin subsystem
func (s *Service) LiquidateMarginCall(ctx context.Context, params RequestParams) (*entities.LiquidationRequest, error) {
	params.Service = entities.ServiceMargin
	return s.create(ctx, params)
}

// LiquidateSettlement raises a conversion on behalf of the credit subsystem
func (s *Service) LiquidateSettlement(ctx context.Context, params RequestParams) (*entities.LiquidationRequest, error) {
	params.Service = entities.ServiceABC
	return s.create(ctx, params)
}

// LiquidateCollectedFees raises a conversion on behalf of the fee collector
func (s *Service) LiquidateCollectedFees(ctx context.Context, params RequestParams) (*entities.LiquidationRequest, error) {
	params.Service = entities.ServiceFeeCollector
	return s.create(ctx, params)
}

func (s *Service) create(ctx context.Context, params RequestParams) (*entities.LiquidationRequest, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", domainerrors.ErrInvalidInput)
	}
	if params.SrcCurrency == "" || params.DstCurrency == "" || params.SrcCurrency == params.DstCurrency {
		return nil, fmt.Errorf("invalid currency pair %s/%s: %w", params.SrcCurrency, params.DstCurrency, domainerrors.ErrInvalidInput)
	}
	if params.Side != entities.SideBuy && params.Side != entities.SideSell {
		return nil, fmt.Errorf("invalid side %q: %w", params.Side, domainerrors.ErrInvalidInput)
	}

	now := time.Now().UTC()
	request := &entities.LiquidationRequest{
		ID:          uuid.New(),
		Service:     params.Service,
		SrcWalletID: params.SrcWalletID,
		DstWalletID: params.DstWalletID,
		SrcCurrency: params.SrcCurrency,
		DstCurrency: params.DstCurrency,
		Side:        params.Side,
		Status:      entities.RequestStatusPending,
		Amount:      params.Amount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateRequest(ctx, request); err != nil {
		return nil, err
	}
	s.logger.Info("liquidation request created",
		"request_id", request.ID, "service", request.Service,
		"market", request.MarketSymbol(), "amount", request.Amount)
	return request, nil
}

// Cleanup removes terminal chunks that never filled. Kept as an explicit
// maintenance entry point rather than a side effect of settlement.
type Cleanup struct {
	repo   LiquidationRepository
	logger *logger.Logger
}

// NewCleanup creates the empty-chunk sweeper
func NewCleanup(repo LiquidationRepository, log *logger.Logger) *Cleanup {
	return &Cleanup{repo: repo, logger: log}
}

// Execute deletes empty terminal chunks and their associations
func (c *Cleanup) Execute(ctx context.Context) error {
	deleted, err := c.repo.DeleteEmptyLiquidations(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		c.logger.Info("swept empty liquidations", "deleted", deleted)
	}
	return nil
}
