package explorer

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainledger/chainledger/internal/domain/entities"
)

func testPolicy() *ChainPolicy {
	return &ChainPolicy{
		Network:          "avax",
		Symbol:           "AVAX",
		Precision:        18,
		MinValidTxAmount: decimal.RequireFromString("0.001"),
		RequireSuccess:   true,
		AggregationMode:  AggregateAccountBased,
		ValidContracts: map[string]ContractInfo{
			"0xusdt": {Address: "0xusdt", Symbol: "USDT", Precision: 6},
		},
	}
}

func TestParseTx_BaseUnits(t *testing.T) {
	p := NewParser(&ChainPolicy{Network: "trx", Symbol: "TRX", Precision: 6})

	raw := &RawTx{
		Hash:      "txhash",
		From:      "a",
		To:        "b",
		ValueRaw:  big.NewInt(1_500_000),
		FeeRaw:    big.NewInt(2_000),
		Timestamp: time.Unix(1700000000, 0),
		Success:   true,
	}
	tx := p.ParseTx(raw, 0)

	assert.True(t, tx.Value.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, tx.TxFee.Equal(decimal.RequireFromString("0.002")))
	assert.Equal(t, "TRX", tx.Symbol)
	assert.Empty(t, tx.Token)
	assert.Equal(t, time.UTC, tx.Date.Location())
	assert.Nil(t, tx.Confirmations, "no block head, no confirmation count")
}

func TestParseTx_Confirmations(t *testing.T) {
	p := NewParser(testPolicy())

	raw := &RawTx{Hash: "h", ValueRaw: big.NewInt(1), FeeRaw: big.NewInt(0), BlockHeight: 100}

	tx := p.ParseTx(raw, 105)
	require.NotNil(t, tx.Confirmations)
	assert.Equal(t, int64(5), *tx.Confirmations)

	// head lagging behind the tx clamps to zero instead of going negative
	tx = p.ParseTx(raw, 98)
	require.NotNil(t, tx.Confirmations)
	assert.Equal(t, int64(0), *tx.Confirmations)
}

func TestParseTx_TokenResolution(t *testing.T) {
	p := NewParser(testPolicy())

	raw := &RawTx{Hash: "h", ValueRaw: big.NewInt(2_500_000), FeeRaw: big.NewInt(0), Contract: "0xUSDT"}
	tx := p.ParseTx(raw, 0)

	assert.Equal(t, "USDT", tx.Symbol)
	assert.Equal(t, "0xUSDT", tx.Token)
	assert.True(t, tx.Value.Equal(decimal.RequireFromString("2.5")), "token precision, not chain precision")

	// unknown contracts keep the symbol the provider reported
	raw = &RawTx{Hash: "h", ValueRaw: big.NewInt(1), FeeRaw: big.NewInt(0), Contract: "0xother", Symbol: "OTHER"}
	tx = p.ParseTx(raw, 0)
	assert.Equal(t, "OTHER", tx.Symbol)
	assert.Equal(t, "0xother", tx.Token)
}

func TestParseTx_Idempotent(t *testing.T) {
	p := NewParser(testPolicy())
	raw := &RawTx{
		Hash:        "h",
		BlockHeight: 50,
		From:        "a",
		To:          "b",
		ValueRaw:    big.NewInt(5_000_000_000_000_000_000),
		FeeRaw:      big.NewInt(21_000),
		Timestamp:   time.Unix(1700000000, 0),
		Success:     true,
	}

	first := p.ParseTx(raw, 60)
	second := p.ParseTx(raw, 60)
	assert.Equal(t, first, second)
}

func TestParseTxs_DropsInvalid(t *testing.T) {
	policy := testPolicy()
	p := NewParser(policy)
	v := NewValidator(policy)

	txs := []RawTx{
		{Hash: "good", From: "a", To: "b", ValueRaw: big.NewInt(2e15), FeeRaw: big.NewInt(0), Success: true},
		{Hash: "failed", From: "a", To: "b", ValueRaw: big.NewInt(2e15), FeeRaw: big.NewInt(0), Success: false},
		{Hash: "dust", From: "a", To: "b", ValueRaw: big.NewInt(1), FeeRaw: big.NewInt(0), Success: true},
	}
	out := p.ParseTxs(txs, v, 0)

	require.Len(t, out, 1)
	assert.Equal(t, "good", out[0].TxHash)
}

func TestParseBalance(t *testing.T) {
	p := NewParser(testPolicy())

	unconfirmed := big.NewInt(500_000_000_000_000_000)
	b := p.ParseBalance(&RawBalance{
		Address:        "addr",
		BalanceRaw:     big.NewInt(3_000_000_000_000_000_000),
		UnconfirmedRaw: unconfirmed,
	})
	assert.True(t, b.Balance.Equal(decimal.RequireFromString("3")))
	require.NotNil(t, b.UnconfirmedBalance)
	assert.True(t, b.UnconfirmedBalance.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "AVAX", b.Symbol)

	tok := p.ParseBalance(&RawBalance{Address: "addr", BalanceRaw: big.NewInt(7_000_000), Contract: "0xusdt"})
	assert.True(t, tok.Balance.Equal(decimal.RequireFromString("7")))
	assert.Equal(t, "USDT", tok.Symbol)
	assert.Nil(t, tok.UnconfirmedBalance)
}

func transfer(from, to, value string) entities.TransferTx {
	return entities.TransferTx{
		TxHash:      "h1",
		FromAddress: from,
		ToAddress:   to,
		Value:       decimal.RequireFromString(value),
		Symbol:      "AVAX",
	}
}

func TestAggregateAccountBased(t *testing.T) {
	txs := []entities.TransferTx{
		transfer("a", "b", "1"),
		transfer("a", "b", "2.5"),
		transfer("a", "c", "4"),
	}
	out := AggregateTransfers(AggregateAccountBased, txs)

	require.Len(t, out, 2)
	assert.True(t, out[0].Value.Equal(decimal.RequireFromString("3.5")))
	assert.Equal(t, "b", out[0].ToAddress)
	assert.True(t, out[1].Value.Equal(decimal.RequireFromString("4")))
	assert.Equal(t, "c", out[1].ToAddress)
}

func TestAggregateMemoBased(t *testing.T) {
	a := transfer("x", "hot", "1")
	a.Memo = "user-1"
	b := transfer("y", "hot", "2")
	b.Memo = "user-1"
	c := transfer("z", "hot", "5")
	c.Memo = "user-2"

	out := AggregateTransfers(AggregateMemoBased, []entities.TransferTx{a, b, c})

	require.Len(t, out, 2)
	assert.True(t, out[0].Value.Equal(decimal.RequireFromString("3")))
	assert.Equal(t, "user-1", out[0].Memo)
	assert.True(t, out[1].Value.Equal(decimal.RequireFromString("5")))
}

func TestAggregateUTXO_ChangeOutputVanishes(t *testing.T) {
	// A spends 1.0: 0.6 to B, 0.4 back to itself as change
	txs := []entities.TransferTx{
		transfer("A", "B", "0.6"),
		transfer("A", "A", "0.4"),
	}
	out := AggregateTransfers(AggregateUTXOBased, txs)

	require.Len(t, out, 2)

	byAddr := map[string]entities.TransferTx{}
	for _, tx := range out {
		if tx.FromAddress != "" {
			byAddr[tx.FromAddress] = tx
		} else {
			byAddr[tx.ToAddress] = tx
		}
	}

	spend, ok := byAddr["A"]
	require.True(t, ok)
	assert.Equal(t, "A", spend.FromAddress)
	assert.True(t, spend.Value.Equal(decimal.RequireFromString("0.6")), "net outflow excludes change")

	recv, ok := byAddr["B"]
	require.True(t, ok)
	assert.Equal(t, "B", recv.ToAddress)
	assert.True(t, recv.Value.Equal(decimal.RequireFromString("0.6")))
}

func TestAggregateUTXO_FullyInternalTxDisappears(t *testing.T) {
	txs := []entities.TransferTx{
		transfer("A", "A", "1.2"),
		transfer("A", "A", "0.3"),
	}
	out := AggregateTransfers(AggregateUTXOBased, txs)
	assert.Empty(t, out)
}

func TestAggregateNone(t *testing.T) {
	txs := []entities.TransferTx{
		transfer("a", "b", "1"),
		transfer("a", "b", "2"),
	}
	out := AggregateTransfers(AggregateNone, txs)
	assert.Len(t, out, 2)
}
