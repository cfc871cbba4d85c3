package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chainledger/chainledger/internal/domain/entities"
	"github.com/chainledger/chainledger/pkg/logger"
)

// WithdrawRepository manages withdraw requests and reconciliation diffs
type WithdrawRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewWithdrawRepository creates a new withdraw repository
func NewWithdrawRepository(db *sqlx.DB, logger *logger.Logger) *WithdrawRepository {
	return &WithdrawRepository{
		db:     db,
		logger: logger,
	}
}

// GetSentByChain returns withdraw requests sent on a chain but not yet
// reconciled against an on-chain transaction
func (r *WithdrawRepository) GetSentByChain(ctx context.Context, chain string) ([]*entities.WithdrawRequest, error) {
	query := `
		SELECT id, wallet_id, currency, chain, to_address, amount, network_fee,
			tx_hash, status, created_at, updated_at
		FROM withdraw_requests
		WHERE chain = $1 AND status = 'sent'
		ORDER BY created_at ASC`

	var requests []*entities.WithdrawRequest
	if err := r.db.SelectContext(ctx, &requests, query, chain); err != nil {
		return nil, fmt.Errorf("failed to get sent withdraws: %w", err)
	}
	return requests, nil
}

// GetByTxHash returns every withdraw request sharing one on-chain transaction.
// Batched hot wallet sends can settle several requests with one tx.
func (r *WithdrawRepository) GetByTxHash(ctx context.Context, chain, txHash string) ([]*entities.WithdrawRequest, error) {
	query := `
		SELECT id, wallet_id, currency, chain, to_address, amount, network_fee,
			tx_hash, status, created_at, updated_at
		FROM withdraw_requests
		WHERE chain = $1 AND tx_hash = $2`

	var requests []*entities.WithdrawRequest
	if err := r.db.SelectContext(ctx, &requests, query, chain, txHash); err != nil {
		return nil, fmt.Errorf("failed to get withdraws by tx hash: %w", err)
	}
	return requests, nil
}

// MarkDone closes reconciled withdraw requests
func (r *WithdrawRepository) MarkDone(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE withdraw_requests SET status = 'done', updated_at = ? WHERE id IN (?)`,
		time.Now().UTC(), ids,
	)
	if err != nil {
		return fmt.Errorf("failed to build mark done query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to mark withdraws done: %w", err)
	}
	return nil
}

// CreateDiff records a discrepancy between chain and ledger for an operator.
// A tx hash gets at most one open diff; repeat scans are no-ops.
func (r *WithdrawRepository) CreateDiff(ctx context.Context, diff *entities.WithdrawDiff) error {
	query := `
		INSERT INTO withdraw_diffs (
			id, chain, address, tx_hash, chain_amount, internal_amount, resolved, created_at
		) VALUES (
			:id, :chain, :address, :tx_hash, :chain_amount, :internal_amount, :resolved, :created_at
		)
		ON CONFLICT (chain, tx_hash) DO NOTHING`

	if _, err := r.db.NamedExecContext(ctx, query, diff); err != nil {
		return fmt.Errorf("failed to create withdraw diff: %w", err)
	}
	return nil
}

// GetUnresolvedDiffs lists open discrepancies
func (r *WithdrawRepository) GetUnresolvedDiffs(ctx context.Context, chain string) ([]*entities.WithdrawDiff, error) {
	query := `
		SELECT id, chain, address, tx_hash, chain_amount, internal_amount, resolved, created_at
		FROM withdraw_diffs
		WHERE chain = $1 AND resolved = false
		ORDER BY created_at ASC`

	var diffs []*entities.WithdrawDiff
	if err := r.db.SelectContext(ctx, &diffs, query, chain); err != nil {
		return nil, fmt.Errorf("failed to get unresolved diffs: %w", err)
	}
	return diffs, nil
}
