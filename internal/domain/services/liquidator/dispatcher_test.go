package liquidator

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chainledger/chainledger/internal/adapters/broker"
	"github.com/chainledger/chainledger/internal/domain/entities"
	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/pkg/logger"
)

func dispatcherConfig() config.LiquidatorConfig {
	return config.LiquidatorConfig{
		BatchSize:      10,
		ClientIDPrefix: "liq",
	}
}

func newChunk(marketType entities.MarketType) *entities.Liquidation {
	return &entities.Liquidation{
		ID:           uuid.New(),
		SrcCurrency:  "ETH",
		DstCurrency:  "USDT",
		Side:         entities.SideSell,
		Amount:       d("10"),
		PrimaryPrice: d("2000"),
		Status:       entities.LiquidationStatusNew,
		MarketType:   marketType,
	}
}

func newDispatcher(repo *mockLiquidationRepo, external *mockBrokerClient, internal *mockInternalVenue, notifier *mockNotifier) *Dispatcher {
	return NewDispatcher(repo, external, internal, notifier, dispatcherConfig(), logger.NewNop())
}

func TestDispatcher_ExternalSuccess(t *testing.T) {
	repo := new(mockLiquidationRepo)
	external := new(mockBrokerClient)
	internal := new(mockInternalVenue)
	chunk := newChunk(entities.MarketTypeExternal)
	clientID := fmt.Sprintf("liq_%s", chunk.ID)

	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeExternal, 10).
		Return([]*entities.Liquidation{chunk}, nil)
	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeInternal, 10).
		Return([]*entities.Liquidation{}, nil)
	external.On("IsActive", mock.Anything).Return(true, nil)
	external.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(order *broker.OrderRequest) bool {
		return order.ClientID == clientID && order.Market == "ETH-USDT" && order.Side == "sell"
	})).Return(&broker.OrderStatus{ClientID: clientID, Status: "open"}, nil)
	repo.On("UpdateLiquidationDispatch", mock.Anything, chunk.ID,
		entities.MarketTypeExternal, clientID, entities.LiquidationStatusOpen).Return(nil)

	err := newDispatcher(repo, external, internal, &mockNotifier{}).Execute(context.Background())

	require.NoError(t, err)
	repo.AssertExpectations(t)
	external.AssertExpectations(t)
	internal.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestDispatcher_SmallOrderParkedAsOverstock(t *testing.T) {
	repo := new(mockLiquidationRepo)
	external := new(mockBrokerClient)
	internal := new(mockInternalVenue)
	chunk := newChunk(entities.MarketTypeExternal)

	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeExternal, 10).
		Return([]*entities.Liquidation{chunk}, nil)
	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeInternal, 10).
		Return([]*entities.Liquidation{}, nil)
	external.On("IsActive", mock.Anything).Return(true, nil)
	external.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("place order: %w", domainerrors.ErrOrderTooSmall))
	repo.On("UpdateLiquidationStatus", mock.Anything, chunk.ID, entities.LiquidationStatusOverstock).
		Return(nil)

	err := newDispatcher(repo, external, internal, &mockNotifier{}).Execute(context.Background())

	require.NoError(t, err)
	repo.AssertExpectations(t)
	internal.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestDispatcher_InactiveBrokerRoutesInternal(t *testing.T) {
	repo := new(mockLiquidationRepo)
	external := new(mockBrokerClient)
	internal := new(mockInternalVenue)
	chunk := newChunk(entities.MarketTypeExternal)
	clientID := fmt.Sprintf("liq_%s", chunk.ID)

	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeExternal, 10).
		Return([]*entities.Liquidation{chunk}, nil)
	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeInternal, 10).
		Return([]*entities.Liquidation{}, nil)
	external.On("IsActive", mock.Anything).Return(false, nil)
	internal.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(order *broker.OrderRequest) bool {
		return order.ClientID == clientID
	})).Return(&broker.OrderStatus{ClientID: clientID, Status: "open"}, nil)
	repo.On("UpdateLiquidationDispatch", mock.Anything, chunk.ID,
		entities.MarketTypeInternal, clientID, entities.LiquidationStatusOpen).Return(nil)
	notifier := new(mockNotifier)
	notifier.On("Alert", mock.Anything, "external broker unavailable, chunk rerouted", mock.Anything).Return()

	err := newDispatcher(repo, external, internal, notifier).Execute(context.Background())

	require.NoError(t, err)
	repo.AssertExpectations(t)
	internal.AssertExpectations(t)
	notifier.AssertExpectations(t)
	external.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
	assert.Equal(t, entities.MarketTypeInternal, chunk.MarketType,
		"a chunk created for a now-inactive broker settles internally")
}

func TestDispatcher_BrokerRejectionRoutesInternal(t *testing.T) {
	repo := new(mockLiquidationRepo)
	external := new(mockBrokerClient)
	internal := new(mockInternalVenue)
	chunk := newChunk(entities.MarketTypeExternal)
	clientID := fmt.Sprintf("liq_%s", chunk.ID)

	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeExternal, 10).
		Return([]*entities.Liquidation{chunk}, nil)
	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeInternal, 10).
		Return([]*entities.Liquidation{}, nil)
	external.On("IsActive", mock.Anything).Return(true, nil)
	external.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("place order: %w", domainerrors.ErrBrokerInactive))
	internal.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(&broker.OrderStatus{ClientID: clientID, Status: "open"}, nil)
	repo.On("UpdateLiquidationDispatch", mock.Anything, chunk.ID,
		entities.MarketTypeInternal, clientID, entities.LiquidationStatusOpen).Return(nil)
	notifier := new(mockNotifier)
	notifier.On("Alert", mock.Anything, "external broker unavailable, chunk rerouted", mock.Anything).Return()

	err := newDispatcher(repo, external, internal, notifier).Execute(context.Background())

	require.NoError(t, err)
	repo.AssertExpectations(t)
	internal.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestDispatcher_InternalChunks(t *testing.T) {
	repo := new(mockLiquidationRepo)
	external := new(mockBrokerClient)
	internal := new(mockInternalVenue)
	chunk := newChunk(entities.MarketTypeInternal)
	clientID := fmt.Sprintf("liq_%s", chunk.ID)

	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeExternal, 10).
		Return([]*entities.Liquidation{}, nil)
	repo.On("GetNewLiquidations", mock.Anything, entities.MarketTypeInternal, 10).
		Return([]*entities.Liquidation{chunk}, nil)
	internal.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(&broker.OrderStatus{ClientID: clientID, Status: "open"}, nil)
	repo.On("UpdateLiquidationDispatch", mock.Anything, chunk.ID,
		entities.MarketTypeInternal, clientID, entities.LiquidationStatusOpen).Return(nil)

	err := newDispatcher(repo, external, internal, &mockNotifier{}).Execute(context.Background())

	require.NoError(t, err)
	repo.AssertExpectations(t)
	internal.AssertExpectations(t)
	external.AssertNotCalled(t, "IsActive", mock.Anything)
}
