package broker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/chainledger/chainledger/pkg/logger"
)

// InternalVenue hands orders to the in-house matching engine through its
// order intake table. The engine consumes rows, writes fills back, and this
// adapter reads them out; both sides key on the idempotent client id so a
// re-inserted order is ignored.
type InternalVenue struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewInternalVenue creates the internal venue adapter
func NewInternalVenue(db *sqlx.DB, log *logger.Logger) *InternalVenue {
	return &InternalVenue{db: db, logger: log}
}

// PlaceOrder enqueues one order for the matching engine
func (v *InternalVenue) PlaceOrder(ctx context.Context, order *OrderRequest) (*OrderStatus, error) {
	query := `
		INSERT INTO internal_orders (
			client_id, market, side, amount, price, status, filled_amount,
			filled_total_price, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'open', 0, 0, $6, $6)
		ON CONFLICT (client_id) DO NOTHING`

	now := time.Now().UTC()
	if _, err := v.db.ExecContext(ctx, query,
		order.ClientID, order.Market, order.Side, order.Amount, order.Price, now,
	); err != nil {
		return nil, fmt.Errorf("failed to enqueue internal order: %w", err)
	}
	v.logger.Info("internal order enqueued", "client_id", order.ClientID, "market", order.Market)
	return &OrderStatus{ClientID: order.ClientID, Status: "open"}, nil
}

// GetOrder reads the engine's fill state of one order
func (v *InternalVenue) GetOrder(ctx context.Context, clientID string) (*OrderStatus, error) {
	query := `
		SELECT client_id, status, filled_amount, filled_total_price
		FROM internal_orders
		WHERE client_id = $1`

	var row struct {
		ClientID         string          `db:"client_id"`
		Status           string          `db:"status"`
		FilledAmount     decimal.Decimal `db:"filled_amount"`
		FilledTotalPrice decimal.Decimal `db:"filled_total_price"`
	}
	if err := v.db.GetContext(ctx, &row, query, clientID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("internal order %s not found", clientID)
		}
		return nil, fmt.Errorf("failed to read internal order: %w", err)
	}
	return &OrderStatus{
		ClientID:         row.ClientID,
		Status:           row.Status,
		FilledAmount:     row.FilledAmount,
		FilledTotalPrice: row.FilledTotalPrice,
	}, nil
}
