// Package liquidator implements the liquidation pipeline: chunking conversion
// requests into capped orders, dispatching them to a venue, sharing fills back
// and committing the resulting ledger movements exactly once.
package liquidator

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/chainledger/chainledger/internal/adapters/broker"
	"github.com/chainledger/chainledger/internal/domain/entities"
)

// LiquidationRepository is the persistence surface the pipeline needs
type LiquidationRepository interface {
	DB() *sqlx.DB
	LockRequestsByStatus(ctx context.Context, tx *sqlx.Tx, status entities.LiquidationRequestStatus, limit int) ([]*entities.LiquidationRequest, error)
	GetRequestForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.LiquidationRequest, error)
	UpdateRequestStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status entities.LiquidationRequestStatus) error
	UpdateRequestFill(ctx context.Context, tx *sqlx.Tx, request *entities.LiquidationRequest) error
	BulkCreateLiquidations(ctx context.Context, tx *sqlx.Tx, liquidations []*entities.Liquidation, associations []*entities.LiquidationAssociation) error
	GetOpenExternalExposure(ctx context.Context, dstCurrency string) (decimal.Decimal, error)
	GetNewLiquidations(ctx context.Context, marketType entities.MarketType, limit int) ([]*entities.Liquidation, error)
	GetOpenLiquidations(ctx context.Context, limit int) ([]*entities.Liquidation, error)
	LockLiquidationsForRequest(ctx context.Context, tx *sqlx.Tx, requestID uuid.UUID) ([]*entities.Liquidation, error)
	CountActiveLiquidationsForRequest(ctx context.Context, tx *sqlx.Tx, requestID uuid.UUID) (int, error)
	GetAssociationsByRequest(ctx context.Context, tx *sqlx.Tx, requestID uuid.UUID) ([]*entities.LiquidationAssociation, error)
	UpdateAssociationShare(ctx context.Context, tx *sqlx.Tx, association *entities.LiquidationAssociation) error
	UpdateLiquidation(ctx context.Context, tx *sqlx.Tx, liquidation *entities.Liquidation) error
	UpdateLiquidationStatus(ctx context.Context, id uuid.UUID, status entities.LiquidationStatus) error
	UpdateLiquidationDispatch(ctx context.Context, id uuid.UUID, marketType entities.MarketType, trackingID string, status entities.LiquidationStatus) error
	DeleteEmptyLiquidations(ctx context.Context) (int64, error)
}

// WalletRepository is the ledger surface the settlement commit needs
type WalletRepository interface {
	GetWalletForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.Wallet, error)
	CreateTransaction(ctx context.Context, tx *sqlx.Tx, transaction *entities.WalletTransaction) error
	TransactionExists(ctx context.Context, tx *sqlx.Tx, refModule entities.WalletTransactionRefModule, refID uuid.UUID) (bool, error)
}

// PriceProvider resolves reference prices for chunk sizing
type PriceProvider interface {
	GetReferencePrice(ctx context.Context, marketSymbol string) (decimal.Decimal, error)
}

// BrokerClient is the external venue surface
type BrokerClient interface {
	IsActive(ctx context.Context) (bool, error)
	PlaceOrder(ctx context.Context, order *broker.OrderRequest) (*broker.OrderStatus, error)
	GetOrder(ctx context.Context, clientID string) (*broker.OrderStatus, error)
}

// InternalVenue accepts chunks that settle on the in-house matching engine
type InternalVenue interface {
	PlaceOrder(ctx context.Context, order *broker.OrderRequest) (*broker.OrderStatus, error)
	GetOrder(ctx context.Context, clientID string) (*broker.OrderStatus, error)
}

// Notifier raises operator alerts
type Notifier interface {
	Alert(ctx context.Context, title string, details map[string]interface{})
}
