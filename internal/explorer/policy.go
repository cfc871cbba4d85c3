// Package explorer implements the multi-chain blockchain data aggregation
// layer: provider clients, a policy-driven validator/parser engine, a
// stateless-failover aggregator and the per-chain block watermark tracker.
package explorer

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// AggregationMode selects how multi-transfer transaction details are merged
type AggregationMode int

const (
	AggregateNone AggregationMode = iota
	AggregateAccountBased
	AggregateMemoBased
	AggregateUTXOBased
)

// ContractInfo describes a token contract the chain policy accepts
type ContractInfo struct {
	Address   string
	Symbol    string
	Precision int32
}

// ChainPolicy is the declarative per-chain configuration of the
// validator/parser engine. One engine instance serves every chain; irregular
// chains plug in a TransactionHook instead of subclassing anything.
type ChainPolicy struct {
	Symbol    string
	Network   string
	Precision int32

	// MinValidTxAmount is the dust threshold. DustInclusiveMin controls the
	// boundary: false rejects value <= min, true rejects only value < min.
	// The boundary differs per chain and is preserved as documented, not unified.
	MinValidTxAmount decimal.Decimal
	DustInclusiveMin bool

	// RequireSuccess drops transactions whose status is not successful
	RequireSuccess bool

	// ValidContracts maps lowercase contract address -> token info. Transfers
	// referencing any other contract are excluded as irrelevant upstream noise.
	ValidContracts map[string]ContractInfo

	// ValidProgramIDs restricts which program/module produced the transfer
	// (Solana program ids, EOS contract accounts). Empty means no check.
	ValidProgramIDs map[string]struct{}

	AggregationMode   AggregationMode
	MaxBlocksPerFetch int
	BlockHeightOffset int64
	MaxBlockWorkers   int

	// TransactionHook, when set, runs after the declarative checks and may
	// veto a raw transaction for reasons the policy record cannot express.
	TransactionHook func(tx *RawTx) bool
}

// ContractBySymbol finds a configured contract by token symbol
func (p *ChainPolicy) ContractBySymbol(symbol string) (ContractInfo, bool) {
	for _, info := range p.ValidContracts {
		if strings.EqualFold(info.Symbol, symbol) {
			return info, true
		}
	}
	return ContractInfo{}, false
}

// FromUnit converts an unsigned base-unit integer amount into human units:
// Decimal(raw) / 10^precision.
func FromUnit(raw *big.Int, precision int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -precision)
}

// Built-in chain policies. Dust thresholds and boundaries follow each chain's
// documented policy; do not unify them.
var (
	PolicyAVAX = ChainPolicy{
		Symbol:            "AVAX",
		Network:           "AVAX",
		Precision:         18,
		MinValidTxAmount:  decimal.Zero,
		RequireSuccess:    true,
		AggregationMode:   AggregateAccountBased,
		MaxBlocksPerFetch: 100,
		MaxBlockWorkers:   4,
	}

	PolicyETH = ChainPolicy{
		Symbol:           "ETH",
		Network:          "ETH",
		Precision:        18,
		MinValidTxAmount: decimal.Zero,
		RequireSuccess:   true,
		ValidContracts: map[string]ContractInfo{
			"0xdac17f958d2ee523a2206206994597c13d831ec7": {
				Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Symbol: "USDT", Precision: 6,
			},
			"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": {
				Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Precision: 6,
			},
		},
		AggregationMode:   AggregateAccountBased,
		MaxBlocksPerFetch: 100,
		MaxBlockWorkers:   4,
	}

	PolicySOL = ChainPolicy{
		Symbol:           "SOL",
		Network:          "SOL",
		Precision:        9,
		MinValidTxAmount: decimal.RequireFromString("0.000001"),
		RequireSuccess:   true,
		ValidProgramIDs: map[string]struct{}{
			"11111111111111111111111111111111":            {}, // system program
			"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA": {}, // SPL token program
		},
		AggregationMode:   AggregateAccountBased,
		MaxBlocksPerFetch: 50,
		MaxBlockWorkers:   8,
	}

	PolicyTON = ChainPolicy{
		Symbol:            "TON",
		Network:           "TON",
		Precision:         9,
		MinValidTxAmount:  decimal.Zero,
		RequireSuccess:    true,
		AggregationMode:   AggregateMemoBased,
		MaxBlocksPerFetch: 100,
		MaxBlockWorkers:   2,
	}

	// Tezos uses a strict < boundary: a transfer exactly at the minimum is valid.
	PolicyXTZ = ChainPolicy{
		Symbol:            "XTZ",
		Network:           "XTZ",
		Precision:         6,
		MinValidTxAmount:  decimal.RequireFromString("0.01"),
		DustInclusiveMin:  true,
		RequireSuccess:    true,
		AggregationMode:   AggregateAccountBased,
		MaxBlocksPerFetch: 100,
		MaxBlockWorkers:   2,
	}

	PolicyTRX = ChainPolicy{
		Symbol:           "TRX",
		Network:          "TRX",
		Precision:        6,
		MinValidTxAmount: decimal.RequireFromString("0.001"),
		RequireSuccess:   true,
		ValidContracts: map[string]ContractInfo{
			"tr7nhqjekqxgtci8q8zy4pl8otszgjlj6t": {
				Address: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Symbol: "USDT", Precision: 6,
			},
		},
		AggregationMode:   AggregateAccountBased,
		MaxBlocksPerFetch: 100,
		MaxBlockWorkers:   4,
	}

	PolicyBTC = ChainPolicy{
		Symbol:            "BTC",
		Network:           "BTC",
		Precision:         8,
		MinValidTxAmount:  decimal.RequireFromString("0.00005"),
		RequireSuccess:    true,
		AggregationMode:   AggregateUTXOBased,
		MaxBlocksPerFetch: 10,
		MaxBlockWorkers:   2,
	}
)

// Policies indexes the built-in chain policies by network name
var Policies = map[string]*ChainPolicy{
	"AVAX": &PolicyAVAX,
	"ETH":  &PolicyETH,
	"SOL":  &PolicySOL,
	"TON":  &PolicyTON,
	"XTZ":  &PolicyXTZ,
	"TRX":  &PolicyTRX,
	"BTC":  &PolicyBTC,
}
