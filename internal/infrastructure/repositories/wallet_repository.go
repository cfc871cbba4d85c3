package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chainledger/chainledger/internal/domain/entities"
	"github.com/chainledger/chainledger/pkg/logger"
)

// WalletRepository manages wallet and ledger transaction persistence
type WalletRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *sqlx.DB, logger *logger.Logger) *WalletRepository {
	return &WalletRepository{
		db:     db,
		logger: logger,
	}
}

// GetWalletForUpdate locks a wallet row for a balance mutation
func (r *WalletRepository) GetWalletForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.Wallet, error) {
	query := `
		SELECT id, user_id, currency, type, balance, address, created_at, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE`

	var wallet entities.Wallet
	if err := tx.GetContext(ctx, &wallet, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("wallet %s not found", id)
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &wallet, nil
}

// GetHotWalletByAddress finds the hot wallet holding an on-chain address
func (r *WalletRepository) GetHotWalletByAddress(ctx context.Context, chain, address string) (*entities.Wallet, error) {
	query := `
		SELECT id, user_id, currency, type, balance, address, created_at, updated_at
		FROM wallets
		WHERE type = 'hot' AND address = $1
		LIMIT 1`

	var wallet entities.Wallet
	if err := r.db.GetContext(ctx, &wallet, query, address); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get hot wallet by address: %w", err)
	}
	return &wallet, nil
}

// CreateTransaction applies one signed ledger movement to a locked wallet.
// The (ref_module, ref_id) unique constraint rejects a second commit of the
// same movement, which keeps retried settlements exactly-once.
func (r *WalletRepository) CreateTransaction(ctx context.Context, tx *sqlx.Tx, transaction *entities.WalletTransaction) error {
	insertQuery := `
		INSERT INTO wallet_transactions (
			id, wallet_id, amount, ref_module, ref_id, description, created_at
		) VALUES (
			:id, :wallet_id, :amount, :ref_module, :ref_id, :description, :created_at
		)`

	if _, err := tx.NamedExecContext(ctx, insertQuery, transaction); err != nil {
		return fmt.Errorf("failed to create wallet transaction: %w", err)
	}

	balanceQuery := `
		UPDATE wallets SET balance = balance + $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, balanceQuery, transaction.Amount, time.Now().UTC(), transaction.WalletID); err != nil {
		return fmt.Errorf("failed to apply wallet balance: %w", err)
	}

	return nil
}

// TransactionExists reports whether a movement with this reference was
// already committed
func (r *WalletRepository) TransactionExists(ctx context.Context, tx *sqlx.Tx, refModule entities.WalletTransactionRefModule, refID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM wallet_transactions WHERE ref_module = $1 AND ref_id = $2)`

	var exists bool
	if err := tx.GetContext(ctx, &exists, query, refModule, refID); err != nil {
		return false, fmt.Errorf("failed to check wallet transaction: %w", err)
	}
	return exists, nil
}
