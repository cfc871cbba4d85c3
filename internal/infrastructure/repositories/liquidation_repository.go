package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/chainledger/chainledger/internal/domain/entities"
	"github.com/chainledger/chainledger/pkg/logger"
)

// LiquidationRepository manages liquidation request and chunk persistence
type LiquidationRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewLiquidationRepository creates a new liquidation repository
func NewLiquidationRepository(db *sqlx.DB, logger *logger.Logger) *LiquidationRepository {
	return &LiquidationRepository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying handle for transaction management
func (r *LiquidationRepository) DB() *sqlx.DB {
	return r.db
}

// LockRequestsByStatus claims a batch of requests in the given status with
// row locks, skipping rows already claimed by a concurrent pass. Two
// concurrent callers therefore never see the same request.
func (r *LiquidationRepository) LockRequestsByStatus(ctx context.Context, tx *sqlx.Tx, status entities.LiquidationRequestStatus, limit int) ([]*entities.LiquidationRequest, error) {
	query := `
		SELECT id, service, src_wallet_id, dst_wallet_id, src_currency, dst_currency,
			side, status, amount, filled_amount, filled_total_price, fee,
			created_at, updated_at
		FROM liquidation_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	var requests []*entities.LiquidationRequest
	if err := tx.SelectContext(ctx, &requests, query, status, limit); err != nil {
		return nil, fmt.Errorf("failed to lock %s requests: %w", status, err)
	}
	return requests, nil
}

// GetRequestForUpdate locks a single request row
func (r *LiquidationRepository) GetRequestForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.LiquidationRequest, error) {
	query := `
		SELECT id, service, src_wallet_id, dst_wallet_id, src_currency, dst_currency,
			side, status, amount, filled_amount, filled_total_price, fee,
			created_at, updated_at
		FROM liquidation_requests
		WHERE id = $1
		FOR UPDATE`

	var request entities.LiquidationRequest
	if err := tx.GetContext(ctx, &request, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("liquidation request %s not found", id)
		}
		return nil, fmt.Errorf("failed to get liquidation request: %w", err)
	}
	return &request, nil
}

// GetRequestByID reads a request without locking it
func (r *LiquidationRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*entities.LiquidationRequest, error) {
	query := `
		SELECT id, service, src_wallet_id, dst_wallet_id, src_currency, dst_currency,
			side, status, amount, filled_amount, filled_total_price, fee,
			created_at, updated_at
		FROM liquidation_requests
		WHERE id = $1`

	var request entities.LiquidationRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("liquidation request %s not found", id)
		}
		return nil, fmt.Errorf("failed to get liquidation request: %w", err)
	}
	return &request, nil
}

// CreateRequest inserts a new liquidation request
func (r *LiquidationRepository) CreateRequest(ctx context.Context, request *entities.LiquidationRequest) error {
	query := `
		INSERT INTO liquidation_requests (
			id, service, src_wallet_id, dst_wallet_id, src_currency, dst_currency,
			side, status, amount, filled_amount, filled_total_price, fee,
			created_at, updated_at
		) VALUES (
			:id, :service, :src_wallet_id, :dst_wallet_id, :src_currency, :dst_currency,
			:side, :status, :amount, :filled_amount, :filled_total_price, :fee,
			:created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("failed to create liquidation request: %w", err)
	}
	return nil
}

// UpdateRequestStatus moves a request to a new status
func (r *LiquidationRepository) UpdateRequestStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status entities.LiquidationRequestStatus) error {
	query := `UPDATE liquidation_requests SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	return nil
}

// UpdateRequestFill persists the fill progress and status of a request
func (r *LiquidationRepository) UpdateRequestFill(ctx context.Context, tx *sqlx.Tx, request *entities.LiquidationRequest) error {
	query := `
		UPDATE liquidation_requests
		SET status = $1, filled_amount = $2, filled_total_price = $3, updated_at = $4
		WHERE id = $5`

	if _, err := tx.ExecContext(ctx, query,
		request.Status, request.FilledAmount, request.FilledTotalPrice, time.Now().UTC(), request.ID,
	); err != nil {
		return fmt.Errorf("failed to update request fill: %w", err)
	}
	return nil
}

// BulkCreateLiquidations inserts chunks and their associations atomically.
// Both lists come from one creator pass and must commit or fail together.
func (r *LiquidationRepository) BulkCreateLiquidations(ctx context.Context, tx *sqlx.Tx, liquidations []*entities.Liquidation, associations []*entities.LiquidationAssociation) error {
	if len(liquidations) > 0 {
		query := `
			INSERT INTO liquidations (
				id, src_currency, dst_currency, side, amount, primary_price, status,
				market_type, filled_amount, filled_total_price, paid_amount,
				paid_total_price, tracking_id, created_at, updated_at
			) VALUES (
				:id, :src_currency, :dst_currency, :side, :amount, :primary_price, :status,
				:market_type, :filled_amount, :filled_total_price, :paid_amount,
				:paid_total_price, :tracking_id, :created_at, :updated_at
			)`
		if _, err := tx.NamedExecContext(ctx, query, liquidations); err != nil {
			return fmt.Errorf("failed to bulk create liquidations: %w", err)
		}
	}

	if len(associations) > 0 {
		query := `
			INSERT INTO liquidation_associations (
				id, liquidation_request_id, liquidation_id, amount, total_price, created_at
			) VALUES (
				:id, :liquidation_request_id, :liquidation_id, :amount, :total_price, :created_at
			)`
		if _, err := tx.NamedExecContext(ctx, query, associations); err != nil {
			return fmt.Errorf("failed to bulk create associations: %w", err)
		}
	}

	return nil
}

// GetOpenExternalExposure values the unfilled remainder of active external
// chunks for one destination currency, in that currency, at each chunk's
// primary price. Used to enforce the per-currency exposure cap.
func (r *LiquidationRepository) GetOpenExternalExposure(ctx context.Context, dstCurrency string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM((amount - filled_amount) * primary_price), 0)
		FROM liquidations
		WHERE dst_currency = $1
		  AND market_type = 'external'
		  AND status IN ('new', 'open', 'ready_to_share')`

	var exposure decimal.Decimal
	if err := r.db.GetContext(ctx, &exposure, query, dstCurrency); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get open external exposure: %w", err)
	}
	return exposure, nil
}

// GetNewLiquidations fetches chunks awaiting dispatch to a venue
func (r *LiquidationRepository) GetNewLiquidations(ctx context.Context, marketType entities.MarketType, limit int) ([]*entities.Liquidation, error) {
	query := `
		SELECT id, src_currency, dst_currency, side, amount, primary_price, status,
			market_type, filled_amount, filled_total_price, paid_amount,
			paid_total_price, tracking_id, created_at, updated_at
		FROM liquidations
		WHERE status = 'new' AND market_type = $1
		ORDER BY created_at ASC
		LIMIT $2`

	var liquidations []*entities.Liquidation
	if err := r.db.SelectContext(ctx, &liquidations, query, marketType, limit); err != nil {
		return nil, fmt.Errorf("failed to get new liquidations: %w", err)
	}
	return liquidations, nil
}

// GetOpenLiquidations fetches chunks awaiting fills from their venue
func (r *LiquidationRepository) GetOpenLiquidations(ctx context.Context, limit int) ([]*entities.Liquidation, error) {
	query := `
		SELECT id, src_currency, dst_currency, side, amount, primary_price, status,
			market_type, filled_amount, filled_total_price, paid_amount,
			paid_total_price, tracking_id, created_at, updated_at
		FROM liquidations
		WHERE status = 'open'
		ORDER BY created_at ASC
		LIMIT $1`

	var liquidations []*entities.Liquidation
	if err := r.db.SelectContext(ctx, &liquidations, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get open liquidations: %w", err)
	}
	return liquidations, nil
}

// LockLiquidationsForRequest locks the chunks associated with one request that
// still hold unshared fill, in ready_to_share state
func (r *LiquidationRepository) LockLiquidationsForRequest(ctx context.Context, tx *sqlx.Tx, requestID uuid.UUID) ([]*entities.Liquidation, error) {
	query := `
		SELECT l.id, l.src_currency, l.dst_currency, l.side, l.amount, l.primary_price,
			l.status, l.market_type, l.filled_amount, l.filled_total_price,
			l.paid_amount, l.paid_total_price, l.tracking_id, l.created_at, l.updated_at
		FROM liquidations l
		JOIN liquidation_associations a ON a.liquidation_id = l.id
		WHERE a.liquidation_request_id = $1
		  AND l.status = 'ready_to_share'
		ORDER BY l.created_at ASC
		FOR UPDATE OF l`

	var liquidations []*entities.Liquidation
	if err := tx.SelectContext(ctx, &liquidations, query, requestID); err != nil {
		return nil, fmt.Errorf("failed to lock liquidations for request: %w", err)
	}
	return liquidations, nil
}

// CountActiveLiquidationsForRequest counts the chunks of one request that may
// still produce fills
func (r *LiquidationRepository) CountActiveLiquidationsForRequest(ctx context.Context, tx *sqlx.Tx, requestID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM liquidations l
		JOIN liquidation_associations a ON a.liquidation_id = l.id
		WHERE a.liquidation_request_id = $1
		  AND l.status IN ('new', 'open', 'ready_to_share')`

	var count int
	if err := tx.GetContext(ctx, &count, query, requestID); err != nil {
		return 0, fmt.Errorf("failed to count active liquidations: %w", err)
	}
	return count, nil
}

// GetAssociationsByRequest returns the chunk shares of one request
func (r *LiquidationRepository) GetAssociationsByRequest(ctx context.Context, tx *sqlx.Tx, requestID uuid.UUID) ([]*entities.LiquidationAssociation, error) {
	query := `
		SELECT id, liquidation_request_id, liquidation_id, amount, total_price, created_at
		FROM liquidation_associations
		WHERE liquidation_request_id = $1
		ORDER BY created_at ASC`

	var associations []*entities.LiquidationAssociation
	if err := tx.SelectContext(ctx, &associations, query, requestID); err != nil {
		return nil, fmt.Errorf("failed to get associations: %w", err)
	}
	return associations, nil
}

// UpdateAssociationShare persists a share handed out from a chunk fill
func (r *LiquidationRepository) UpdateAssociationShare(ctx context.Context, tx *sqlx.Tx, association *entities.LiquidationAssociation) error {
	query := `
		UPDATE liquidation_associations
		SET amount = $1, total_price = $2
		WHERE id = $3`

	if _, err := tx.ExecContext(ctx, query, association.Amount, association.TotalPrice, association.ID); err != nil {
		return fmt.Errorf("failed to update association share: %w", err)
	}
	return nil
}

// UpdateLiquidation persists fill progress and status of a chunk
func (r *LiquidationRepository) UpdateLiquidation(ctx context.Context, tx *sqlx.Tx, liquidation *entities.Liquidation) error {
	query := `
		UPDATE liquidations
		SET status = $1, filled_amount = $2, filled_total_price = $3,
			paid_amount = $4, paid_total_price = $5, tracking_id = $6, updated_at = $7
		WHERE id = $8`

	if _, err := tx.ExecContext(ctx, query,
		liquidation.Status, liquidation.FilledAmount, liquidation.FilledTotalPrice,
		liquidation.PaidAmount, liquidation.PaidTotalPrice, liquidation.TrackingID,
		time.Now().UTC(), liquidation.ID,
	); err != nil {
		return fmt.Errorf("failed to update liquidation: %w", err)
	}
	return nil
}

// UpdateLiquidationDispatch records the venue routing outcome of a chunk
func (r *LiquidationRepository) UpdateLiquidationDispatch(ctx context.Context, id uuid.UUID, marketType entities.MarketType, trackingID string, status entities.LiquidationStatus) error {
	query := `
		UPDATE liquidations
		SET market_type = $1, tracking_id = $2, status = $3, updated_at = $4
		WHERE id = $5`
	if _, err := r.db.ExecContext(ctx, query, marketType, trackingID, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update liquidation dispatch: %w", err)
	}
	return nil
}

// UpdateLiquidationStatus moves a chunk to a new status outside a shared tx
func (r *LiquidationRepository) UpdateLiquidationStatus(ctx context.Context, id uuid.UUID, status entities.LiquidationStatus) error {
	query := `UPDATE liquidations SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update liquidation status: %w", err)
	}
	return nil
}

// DeleteEmptyLiquidations removes terminal chunks that never produced a fill,
// together with their associations. Returns the number of chunks removed.
func (r *LiquidationRepository) DeleteEmptyLiquidations(ctx context.Context) (int64, error) {
	query := `
		WITH empty AS (
			SELECT id FROM liquidations
			WHERE status IN ('done', 'overstock')
			  AND filled_amount = 0
			  AND paid_amount = 0
		), _ AS (
			DELETE FROM liquidation_associations
			WHERE liquidation_id IN (SELECT id FROM empty)
		)
		DELETE FROM liquidations WHERE id IN (SELECT id FROM empty)`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete empty liquidations: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted liquidations: %w", err)
	}
	if deleted > 0 {
		r.logger.Info("Deleted empty liquidations", "count", deleted)
	}
	return deleted, nil
}
