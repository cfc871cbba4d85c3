package liquidator

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chainledger/chainledger/internal/adapters/broker"
	"github.com/chainledger/chainledger/internal/domain/entities"
)

// newMockDB backs database.WithTransaction with a sqlmock connection so the
// services' transactional entry points can run against testify repo doubles.
func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return db, dbMock
}

type mockLiquidationRepo struct {
	mock.Mock
}

func (m *mockLiquidationRepo) DB() *sqlx.DB {
	args := m.Called()
	if db := args.Get(0); db != nil {
		return db.(*sqlx.DB)
	}
	return nil
}

func (m *mockLiquidationRepo) LockRequestsByStatus(ctx context.Context, tx *sqlx.Tx, status entities.LiquidationRequestStatus, limit int) ([]*entities.LiquidationRequest, error) {
	args := m.Called(ctx, tx, status, limit)
	if requests := args.Get(0); requests != nil {
		return requests.([]*entities.LiquidationRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLiquidationRepo) GetRequestForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.LiquidationRequest, error) {
	args := m.Called(ctx, tx, id)
	if request := args.Get(0); request != nil {
		return request.(*entities.LiquidationRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLiquidationRepo) UpdateRequestStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status entities.LiquidationRequestStatus) error {
	return m.Called(ctx, tx, id, status).Error(0)
}

func (m *mockLiquidationRepo) UpdateRequestFill(ctx context.Context, tx *sqlx.Tx, request *entities.LiquidationRequest) error {
	return m.Called(ctx, tx, request).Error(0)
}

func (m *mockLiquidationRepo) BulkCreateLiquidations(ctx context.Context, tx *sqlx.Tx, liquidations []*entities.Liquidation, associations []*entities.LiquidationAssociation) error {
	return m.Called(ctx, tx, liquidations, associations).Error(0)
}

func (m *mockLiquidationRepo) GetOpenExternalExposure(ctx context.Context, dstCurrency string) (decimal.Decimal, error) {
	args := m.Called(ctx, dstCurrency)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockLiquidationRepo) GetNewLiquidations(ctx context.Context, marketType entities.MarketType, limit int) ([]*entities.Liquidation, error) {
	args := m.Called(ctx, marketType, limit)
	if chunks := args.Get(0); chunks != nil {
		return chunks.([]*entities.Liquidation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLiquidationRepo) GetOpenLiquidations(ctx context.Context, limit int) ([]*entities.Liquidation, error) {
	args := m.Called(ctx, limit)
	if chunks := args.Get(0); chunks != nil {
		return chunks.([]*entities.Liquidation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLiquidationRepo) LockLiquidationsForRequest(ctx context.Context, tx *sqlx.Tx, requestID uuid.UUID) ([]*entities.Liquidation, error) {
	args := m.Called(ctx, tx, requestID)
	if chunks := args.Get(0); chunks != nil {
		return chunks.([]*entities.Liquidation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLiquidationRepo) CountActiveLiquidationsForRequest(ctx context.Context, tx *sqlx.Tx, requestID uuid.UUID) (int, error) {
	args := m.Called(ctx, tx, requestID)
	return args.Int(0), args.Error(1)
}

func (m *mockLiquidationRepo) GetAssociationsByRequest(ctx context.Context, tx *sqlx.Tx, requestID uuid.UUID) ([]*entities.LiquidationAssociation, error) {
	args := m.Called(ctx, tx, requestID)
	if associations := args.Get(0); associations != nil {
		return associations.([]*entities.LiquidationAssociation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLiquidationRepo) UpdateAssociationShare(ctx context.Context, tx *sqlx.Tx, association *entities.LiquidationAssociation) error {
	return m.Called(ctx, tx, association).Error(0)
}

func (m *mockLiquidationRepo) UpdateLiquidation(ctx context.Context, tx *sqlx.Tx, liquidation *entities.Liquidation) error {
	return m.Called(ctx, tx, liquidation).Error(0)
}

func (m *mockLiquidationRepo) UpdateLiquidationStatus(ctx context.Context, id uuid.UUID, status entities.LiquidationStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockLiquidationRepo) UpdateLiquidationDispatch(ctx context.Context, id uuid.UUID, marketType entities.MarketType, trackingID string, status entities.LiquidationStatus) error {
	return m.Called(ctx, id, marketType, trackingID, status).Error(0)
}

func (m *mockLiquidationRepo) DeleteEmptyLiquidations(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockWalletRepo struct {
	mock.Mock
}

func (m *mockWalletRepo) GetWalletForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.Wallet, error) {
	args := m.Called(ctx, tx, id)
	if wallet := args.Get(0); wallet != nil {
		return wallet.(*entities.Wallet), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockWalletRepo) CreateTransaction(ctx context.Context, tx *sqlx.Tx, transaction *entities.WalletTransaction) error {
	return m.Called(ctx, tx, transaction).Error(0)
}

func (m *mockWalletRepo) TransactionExists(ctx context.Context, tx *sqlx.Tx, refModule entities.WalletTransactionRefModule, refID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tx, refModule, refID)
	return args.Bool(0), args.Error(1)
}

type mockPriceProvider struct {
	mock.Mock
}

func (m *mockPriceProvider) GetReferencePrice(ctx context.Context, marketSymbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, marketSymbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockBrokerClient struct {
	mock.Mock
}

func (m *mockBrokerClient) IsActive(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockBrokerClient) PlaceOrder(ctx context.Context, order *broker.OrderRequest) (*broker.OrderStatus, error) {
	args := m.Called(ctx, order)
	if status := args.Get(0); status != nil {
		return status.(*broker.OrderStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBrokerClient) GetOrder(ctx context.Context, clientID string) (*broker.OrderStatus, error) {
	args := m.Called(ctx, clientID)
	if status := args.Get(0); status != nil {
		return status.(*broker.OrderStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockInternalVenue struct {
	mock.Mock
}

func (m *mockInternalVenue) PlaceOrder(ctx context.Context, order *broker.OrderRequest) (*broker.OrderStatus, error) {
	args := m.Called(ctx, order)
	if status := args.Get(0); status != nil {
		return status.(*broker.OrderStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockInternalVenue) GetOrder(ctx context.Context, clientID string) (*broker.OrderStatus, error) {
	args := m.Called(ctx, clientID)
	if status := args.Get(0); status != nil {
		return status.(*broker.OrderStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Alert(ctx context.Context, title string, details map[string]interface{}) {
	m.Called(ctx, title, details)
}

type mockRequestRepo struct {
	mock.Mock
}

func (m *mockRequestRepo) CreateRequest(ctx context.Context, request *entities.LiquidationRequest) error {
	return m.Called(ctx, request).Error(0)
}
