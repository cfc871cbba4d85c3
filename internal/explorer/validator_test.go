package explorer

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func rawTx(value int64) *RawTx {
	return &RawTx{
		Hash:        "0xabc",
		BlockHeight: 100,
		From:        "addr-from",
		To:          "addr-to",
		ValueRaw:    big.NewInt(value),
		Success:     true,
	}
}

func TestValidTx_DustBoundaryExclusive(t *testing.T) {
	policy := &ChainPolicy{
		Symbol:           "TRX",
		Precision:        6,
		MinValidTxAmount: decimal.RequireFromString("0.001"),
		RequireSuccess:   true,
	}
	v := NewValidator(policy)

	// value == min is rejected on chains with the default boundary
	assert.False(t, v.ValidTx(rawTx(1000)))
	assert.True(t, v.ValidTx(rawTx(1001)))
	assert.False(t, v.ValidTx(rawTx(999)))
}

func TestValidTx_DustBoundaryInclusive(t *testing.T) {
	policy := &ChainPolicy{
		Symbol:           "XTZ",
		Precision:        6,
		MinValidTxAmount: decimal.RequireFromString("0.01"),
		DustInclusiveMin: true,
		RequireSuccess:   true,
	}
	v := NewValidator(policy)

	// value == min is valid on chains with the inclusive boundary
	assert.True(t, v.ValidTx(rawTx(10000)))
	assert.False(t, v.ValidTx(rawTx(9999)))
}

func TestValidTx_RequiresSuccess(t *testing.T) {
	v := NewValidator(&ChainPolicy{Symbol: "ETH", Precision: 18, RequireSuccess: true})

	tx := rawTx(1)
	tx.Success = false
	assert.False(t, v.ValidTx(tx))
}

func TestValidTx_ContractFiltering(t *testing.T) {
	policy := &ChainPolicy{
		Symbol:         "ETH",
		Precision:      18,
		RequireSuccess: true,
		ValidContracts: map[string]ContractInfo{
			"0xusdt": {Address: "0xUSDT", Symbol: "USDT", Precision: 6},
		},
	}
	v := NewValidator(policy)

	tx := rawTx(2_000_000)
	tx.Contract = "0xUSDT"
	assert.True(t, v.ValidTx(tx), "configured contract accepted case-insensitively")

	tx.Contract = "0xshitcoin"
	assert.False(t, v.ValidTx(tx), "unknown contract rejected")

	tx.Contract = ""
	assert.True(t, v.ValidTx(tx), "main coin transfer always passes contract check")
}

func TestValidTx_TokenUsesContractPrecision(t *testing.T) {
	policy := &ChainPolicy{
		Symbol:           "ETH",
		Precision:        18,
		MinValidTxAmount: decimal.RequireFromString("0.5"),
		RequireSuccess:   true,
		ValidContracts: map[string]ContractInfo{
			"0xusdt": {Address: "0xusdt", Symbol: "USDT", Precision: 6},
		},
	}
	v := NewValidator(policy)

	// 1_000_000 base units is 1.0 at 6 decimals, far above dust; at the main
	// coin's 18 decimals it would be dust.
	tx := rawTx(1_000_000)
	tx.Contract = "0xusdt"
	assert.True(t, v.ValidTx(tx))
}

func TestValidTx_ProgramIDCheck(t *testing.T) {
	policy := &ChainPolicy{
		Symbol:         "SOL",
		Precision:      9,
		RequireSuccess: true,
		ValidProgramIDs: map[string]struct{}{
			"11111111111111111111111111111111": {},
		},
	}
	v := NewValidator(policy)

	tx := rawTx(5_000_000)
	tx.ProgramID = "11111111111111111111111111111111"
	assert.True(t, v.ValidTx(tx))

	tx.ProgramID = "EvilProgram111"
	assert.False(t, v.ValidTx(tx))

	tx.ProgramID = ""
	assert.True(t, v.ValidTx(tx), "transfers without a program id skip the check")
}

func TestValidTx_TransactionHook(t *testing.T) {
	policy := &ChainPolicy{
		Symbol:         "TON",
		Precision:      9,
		RequireSuccess: true,
		TransactionHook: func(tx *RawTx) bool {
			return tx.Memo != ""
		},
	}
	v := NewValidator(policy)

	tx := rawTx(1_000_000_000)
	assert.False(t, v.ValidTx(tx))
	tx.Memo = "deposit-123"
	assert.True(t, v.ValidTx(tx))
}

func TestValidBalance(t *testing.T) {
	v := NewValidator(&ChainPolicy{Symbol: "ETH", Precision: 18})

	assert.True(t, v.ValidBalance(&RawBalance{Address: "a", BalanceRaw: big.NewInt(1)}))
	assert.False(t, v.ValidBalance(nil))
	assert.False(t, v.ValidBalance(&RawBalance{Address: "", BalanceRaw: big.NewInt(1)}))
	assert.False(t, v.ValidBalance(&RawBalance{Address: "a", BalanceRaw: nil}))
	assert.False(t, v.ValidBalance(&RawBalance{Address: "a", BalanceRaw: big.NewInt(-5)}))
}
