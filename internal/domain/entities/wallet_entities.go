package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletType distinguishes user-facing spot wallets from the system wallets
// the settlement marketmaker trades through
type WalletType string

const (
	WalletTypeSpot        WalletType = "spot"
	WalletTypeMarketMaker WalletType = "marketmaker"
	WalletTypeHot         WalletType = "hot"
)

// Wallet is a per-currency balance bucket in the internal ledger
type Wallet struct {
	ID        uuid.UUID       `db:"id"`
	UserID    uuid.UUID       `db:"user_id"`
	Currency  string          `db:"currency"`
	Type      WalletType      `db:"type"`
	Balance   decimal.Decimal `db:"balance"`
	Address   string          `db:"address"` // on-chain address for hot wallets
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// WalletTransactionRefModule tags which subsystem a ledger transaction belongs to
type WalletTransactionRefModule string

const (
	RefModuleLiquidationSrc WalletTransactionRefModule = "liquidation_src"
	RefModuleLiquidationDst WalletTransactionRefModule = "liquidation_dst"
	RefModuleWithdraw       WalletTransactionRefModule = "withdraw"
	RefModuleDeposit        WalletTransactionRefModule = "deposit"
)

// WalletTransaction is one committed ledger movement on a wallet.
// The (ref_module, ref_id) pair is unique, which makes re-commits of the
// same liquidation request fills idempotent at the database level.
type WalletTransaction struct {
	ID          uuid.UUID                  `db:"id"`
	WalletID    uuid.UUID                  `db:"wallet_id"`
	Amount      decimal.Decimal            `db:"amount"` // signed
	RefModule   WalletTransactionRefModule `db:"ref_module"`
	RefID       uuid.UUID                  `db:"ref_id"`
	Description string                     `db:"description"`
	CreatedAt   time.Time                  `db:"created_at"`
}

// WithdrawStatus lifecycle of an internal withdraw record
type WithdrawStatus string

const (
	WithdrawStatusNew        WithdrawStatus = "new"
	WithdrawStatusProcessing WithdrawStatus = "processing"
	WithdrawStatusSent       WithdrawStatus = "sent"
	WithdrawStatusDone       WithdrawStatus = "done"
)

// WithdrawRequest is an internal withdrawal that should eventually appear on chain
type WithdrawRequest struct {
	ID         uuid.UUID       `db:"id"`
	WalletID   uuid.UUID       `db:"wallet_id"`
	Currency   string          `db:"currency"`
	Chain      string          `db:"chain"`
	ToAddress  string          `db:"to_address"`
	Amount     decimal.Decimal `db:"amount"`
	NetworkFee decimal.Decimal `db:"network_fee"`
	TxHash     string          `db:"tx_hash"`
	Status     WithdrawStatus  `db:"status"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// NetAmount is the amount expected on chain after the network fee
func (w *WithdrawRequest) NetAmount() decimal.Decimal {
	return w.Amount.Sub(w.NetworkFee)
}

// WithdrawDiff is a persisted discrepancy between an on-chain withdrawal
// transaction and the matching internal withdraw records. Diffs are resolved
// by an operator, never auto-corrected.
type WithdrawDiff struct {
	ID             uuid.UUID       `db:"id"`
	Chain          string          `db:"chain"`
	Address        string          `db:"address"`
	TxHash         string          `db:"tx_hash"`
	ChainAmount    decimal.Decimal `db:"chain_amount"`
	InternalAmount decimal.Decimal `db:"internal_amount"`
	Resolved       bool            `db:"resolved"`
	CreatedAt      time.Time       `db:"created_at"`
}
