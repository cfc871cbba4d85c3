package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferTx is the canonical normalized on-chain transfer. Every provider
// response is reduced to this shape before anything downstream sees it.
// Instances are produced fresh on every parse call and never mutated.
type TransferTx struct {
	TxHash        string          `json:"tx_hash"`
	BlockHeight   int64           `json:"block_height"`
	BlockHash     string          `json:"block_hash,omitempty"`
	FromAddress   string          `json:"from_address"`
	ToAddress     string          `json:"to_address"`
	Value         decimal.Decimal `json:"value"`
	Symbol        string          `json:"symbol"`
	Token         string          `json:"token,omitempty"` // contract address, empty for the main coin
	TxFee         decimal.Decimal `json:"tx_fee"`
	Date          time.Time       `json:"date"`
	Success       bool            `json:"success"`
	Confirmations *int64          `json:"confirmations,omitempty"` // nil when no block head was available
	Memo          string          `json:"memo,omitempty"`
	Index         int             `json:"index,omitempty"`
}

// IsTokenTransfer reports whether the transfer moved a contract token
func (t TransferTx) IsTokenTransfer() bool {
	return t.Token != ""
}

// Direction of a transfer relative to a watched address
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Balance is a normalized address balance
type Balance struct {
	Address            string           `json:"address"`
	Balance            decimal.Decimal  `json:"balance"`
	UnconfirmedBalance *decimal.Decimal `json:"unconfirmed_balance,omitempty"`
	Symbol             string           `json:"symbol"`
	Token              string           `json:"token,omitempty"`
}

// BlockHead is the latest mined height reported by a provider
type BlockHead struct {
	Height int64     `json:"height"`
	Chain  string    `json:"chain"`
	SeenAt time.Time `json:"seen_at"`
}

// BlockAddresses buckets the addresses touched by a block range
type BlockAddresses struct {
	InputAddresses  map[string]struct{} `json:"input_addresses"`
	OutputAddresses map[string]struct{} `json:"output_addresses"`
}

// NewBlockAddresses allocates both buckets
func NewBlockAddresses() *BlockAddresses {
	return &BlockAddresses{
		InputAddresses:  make(map[string]struct{}),
		OutputAddresses: make(map[string]struct{}),
	}
}

// AddressTxEntry is one transfer touching a tracked address, as seen in a block range
type AddressTxEntry struct {
	TxHash      string          `json:"tx_hash"`
	Value       decimal.Decimal `json:"value"`
	Contract    string          `json:"contract_address,omitempty"`
	BlockHeight int64           `json:"block_height,omitempty"`
	Symbol      string          `json:"symbol,omitempty"`
	Index       int             `json:"index,omitempty"`
}

// BlockTxInfo maps address -> symbol -> transfers for one direction
type BlockTxInfo struct {
	IncomingTxs map[string]map[string][]AddressTxEntry `json:"incoming_txs"`
	OutgoingTxs map[string]map[string][]AddressTxEntry `json:"outgoing_txs"`
}

// NewBlockTxInfo allocates both direction maps
func NewBlockTxInfo() *BlockTxInfo {
	return &BlockTxInfo{
		IncomingTxs: make(map[string]map[string][]AddressTxEntry),
		OutgoingTxs: make(map[string]map[string][]AddressTxEntry),
	}
}
