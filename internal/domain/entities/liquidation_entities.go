package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LiquidationService identifies the subsystem that raised a conversion need
type LiquidationService string

const (
	ServiceMargin       LiquidationService = "margin"
	ServiceABC          LiquidationService = "abc"
	ServiceFeeCollector LiquidationService = "fee_collector"
)

// OrderSide is the direction of the conversion from the requester's view
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// LiquidationRequestStatus state machine:
// pending -> in_progress -> waiting_for_transactions -> done,
// with transactions_failed as the retry-safe parking state for ledger errors
// and manual_check as the terminal parking state for invariant violations
// that a retry cannot repair. A partially filled request whose chunks all
// went terminal moves back to pending so the remainder is re-chunked.
type LiquidationRequestStatus string

const (
	RequestStatusPending       LiquidationRequestStatus = "pending"
	RequestStatusInProgress    LiquidationRequestStatus = "in_progress"
	RequestStatusWaitingForTxs LiquidationRequestStatus = "waiting_for_transactions"
	RequestStatusTxsFailed     LiquidationRequestStatus = "transactions_failed"
	RequestStatusManualCheck   LiquidationRequestStatus = "manual_check"
	RequestStatusDone          LiquidationRequestStatus = "done"
)

// LiquidationStatus is the lifecycle of one order-sized chunk
type LiquidationStatus string

const (
	LiquidationStatusNew          LiquidationStatus = "new"
	LiquidationStatusOpen         LiquidationStatus = "open"
	LiquidationStatusReadyToShare LiquidationStatus = "ready_to_share"
	LiquidationStatusDone         LiquidationStatus = "done"
	LiquidationStatusOverstock    LiquidationStatus = "overstock"
)

// ActiveLiquidationStatuses are the states in which a chunk may still produce fills
var ActiveLiquidationStatuses = []LiquidationStatus{
	LiquidationStatusNew,
	LiquidationStatusOpen,
	LiquidationStatusReadyToShare,
}

// MarketType selects the venue a chunk settles on
type MarketType string

const (
	MarketTypeInternal MarketType = "internal"
	MarketTypeExternal MarketType = "external"
)

// LiquidationRequest is a possibly multi-chunk conversion need raised by the
// margin or credit subsystems. Only the creator service and the settlement
// task mutate it.
type LiquidationRequest struct {
	ID               uuid.UUID                `db:"id"`
	Service          LiquidationService       `db:"service"`
	SrcWalletID      uuid.UUID                `db:"src_wallet_id"`
	DstWalletID      uuid.UUID                `db:"dst_wallet_id"`
	SrcCurrency      string                   `db:"src_currency"`
	DstCurrency      string                   `db:"dst_currency"`
	Side             OrderSide                `db:"side"`
	Status           LiquidationRequestStatus `db:"status"`
	Amount           decimal.Decimal          `db:"amount"`
	FilledAmount     decimal.Decimal          `db:"filled_amount"`
	FilledTotalPrice decimal.Decimal          `db:"filled_total_price"`
	Fee              decimal.Decimal          `db:"fee"`
	CreatedAt        time.Time                `db:"created_at"`
	UpdatedAt        time.Time                `db:"updated_at"`
}

// UnfilledAmount is the remainder not yet covered by chunk fills
func (r *LiquidationRequest) UnfilledAmount() decimal.Decimal {
	return r.Amount.Sub(r.FilledAmount)
}

// MarketSymbol renders the market this request converts on, e.g. ETH-USDT
func (r *LiquidationRequest) MarketSymbol() string {
	return fmt.Sprintf("%s-%s", r.SrcCurrency, r.DstCurrency)
}

// IsSell reports whether the request sells the source currency
func (r *LiquidationRequest) IsSell() bool {
	return r.Side == SideSell
}

// Liquidation is one atomic order-sized chunk submitted to a venue.
// Terminal done/overstock chunks with no fill are garbage-collected by an
// explicit cleanup job once their parent requests have progressed.
type Liquidation struct {
	ID               uuid.UUID         `db:"id"`
	SrcCurrency      string            `db:"src_currency"`
	DstCurrency      string            `db:"dst_currency"`
	Side             OrderSide         `db:"side"`
	Amount           decimal.Decimal   `db:"amount"`
	PrimaryPrice     decimal.Decimal   `db:"primary_price"`
	Status           LiquidationStatus `db:"status"`
	MarketType       MarketType        `db:"market_type"`
	FilledAmount     decimal.Decimal   `db:"filled_amount"`
	FilledTotalPrice decimal.Decimal   `db:"filled_total_price"`
	PaidAmount       decimal.Decimal   `db:"paid_amount"`
	PaidTotalPrice   decimal.Decimal   `db:"paid_total_price"`
	TrackingID       string            `db:"tracking_id"`
	CreatedAt        time.Time         `db:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at"`
}

// UnsharedAmount is the filled quantity not yet distributed to requests
func (l *Liquidation) UnsharedAmount() decimal.Decimal {
	return l.FilledAmount.Sub(l.PaidAmount)
}

// UnsharedTotalPrice is the filled quote value not yet distributed to requests
func (l *Liquidation) UnsharedTotalPrice() decimal.Decimal {
	return l.FilledTotalPrice.Sub(l.PaidTotalPrice)
}

// MarketSymbol renders the market of the chunk
func (l *Liquidation) MarketSymbol() string {
	return fmt.Sprintf("%s-%s", l.SrcCurrency, l.DstCurrency)
}

// IsSell reports whether the chunk sells the source currency
func (l *Liquidation) IsSell() bool {
	return l.Side == SideSell
}

// IsEmpty reports whether the chunk produced no fill at all
func (l *Liquidation) IsEmpty() bool {
	return l.FilledAmount.IsZero() && l.PaidAmount.IsZero()
}

// LiquidationAssociation carries the per-request share of one chunk.
// Invariant: the sum of association amounts over a chunk never exceeds
// the chunk amount, and over a request never exceeds the request amount.
type LiquidationAssociation struct {
	ID                   uuid.UUID       `db:"id"`
	LiquidationRequestID uuid.UUID       `db:"liquidation_request_id"`
	LiquidationID        uuid.UUID       `db:"liquidation_id"`
	Amount               decimal.Decimal `db:"amount"`
	TotalPrice           decimal.Decimal `db:"total_price"`
	CreatedAt            time.Time       `db:"created_at"`
}
