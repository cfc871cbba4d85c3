package explorer

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/chainledger/chainledger/internal/domain/entities"
)

// Parser converts validated raw transfers into the canonical TransferTx.
// Parsing is pure and allocation-fresh: callers get new values on every call
// and may mutate them freely.
type Parser struct {
	policy *ChainPolicy
}

// NewParser builds a parser for one chain policy
func NewParser(policy *ChainPolicy) *Parser {
	return &Parser{policy: policy}
}

// ParseTx normalizes one raw transfer. blockHead provides the reference
// height for the confirmation count; pass 0 when no head is known and the
// confirmations field stays unset.
func (p *Parser) ParseTx(tx *RawTx, blockHead int64) entities.TransferTx {
	symbol, token, precision := p.resolveAsset(tx)

	out := entities.TransferTx{
		TxHash:      tx.Hash,
		BlockHeight: tx.BlockHeight,
		BlockHash:   tx.BlockHash,
		FromAddress: tx.From,
		ToAddress:   tx.To,
		Value:       FromUnit(tx.ValueRaw, precision),
		Symbol:      symbol,
		Token:       token,
		TxFee:       FromUnit(tx.FeeRaw, p.policy.Precision),
		Date:        tx.Timestamp.UTC(),
		Success:     tx.Success,
		Memo:        tx.Memo,
		Index:       tx.Index,
	}
	if blockHead > 0 && tx.BlockHeight > 0 {
		confirmations := blockHead - tx.BlockHeight
		if confirmations < 0 {
			confirmations = 0
		}
		out.Confirmations = &confirmations
	}
	return out
}

// ParseTxs validates and normalizes a raw batch, dropping rejects silently
func (p *Parser) ParseTxs(txs []RawTx, validator *Validator, blockHead int64) []entities.TransferTx {
	out := make([]entities.TransferTx, 0, len(txs))
	for i := range txs {
		if !validator.ValidTx(&txs[i]) {
			continue
		}
		out = append(out, p.ParseTx(&txs[i], blockHead))
	}
	return out
}

// ParseBalance normalizes a raw balance envelope
func (p *Parser) ParseBalance(b *RawBalance) entities.Balance {
	precision := p.policy.Precision
	symbol := p.policy.Symbol
	token := ""
	if b.Contract != "" {
		token = b.Contract
		if info, ok := p.policy.ValidContracts[strings.ToLower(b.Contract)]; ok {
			precision = info.Precision
			symbol = info.Symbol
		}
	}
	out := entities.Balance{
		Address: b.Address,
		Balance: FromUnit(b.BalanceRaw, precision),
		Symbol:  symbol,
		Token:   token,
	}
	if b.UnconfirmedRaw != nil {
		unconfirmed := FromUnit(b.UnconfirmedRaw, precision)
		out.UnconfirmedBalance = &unconfirmed
	}
	return out
}

func (p *Parser) resolveAsset(tx *RawTx) (symbol, token string, precision int32) {
	symbol = p.policy.Symbol
	precision = p.policy.Precision
	if tx.Contract == "" {
		return symbol, "", precision
	}
	token = tx.Contract
	if info, ok := p.policy.ValidContracts[strings.ToLower(tx.Contract)]; ok {
		symbol = info.Symbol
		precision = info.Precision
	} else if tx.Symbol != "" {
		symbol = tx.Symbol
	}
	return symbol, token, precision
}

// AggregateTransfers merges the transfers of one transaction according to the
// chain's aggregation mode. Input transfers must share a tx hash.
func AggregateTransfers(mode AggregationMode, txs []entities.TransferTx) []entities.TransferTx {
	if len(txs) <= 1 {
		return txs
	}
	switch mode {
	case AggregateAccountBased:
		return aggregateBy(txs, func(t entities.TransferTx) string {
			return t.FromAddress + "|" + t.ToAddress + "|" + t.Symbol + "|" + t.Token
		})
	case AggregateMemoBased:
		return aggregateBy(txs, func(t entities.TransferTx) string {
			return t.ToAddress + "|" + t.Memo + "|" + t.Symbol
		})
	case AggregateUTXOBased:
		return aggregateUTXO(txs)
	default:
		return txs
	}
}

// aggregateBy sums values of transfers sharing a key, keeping first-seen order
func aggregateBy(txs []entities.TransferTx, key func(entities.TransferTx) string) []entities.TransferTx {
	index := make(map[string]int, len(txs))
	out := make([]entities.TransferTx, 0, len(txs))
	for _, tx := range txs {
		k := key(tx)
		if i, ok := index[k]; ok {
			out[i].Value = out[i].Value.Add(tx.Value)
			continue
		}
		index[k] = len(out)
		out = append(out, tx)
	}
	return out
}

// aggregateUTXO nets per-address flows: an address appearing on both sides of
// a transaction contributes only its net movement. Change outputs back to the
// sender therefore vanish instead of showing up as deposits.
func aggregateUTXO(txs []entities.TransferTx) []entities.TransferTx {
	type flow struct {
		in  decimal.Decimal
		out decimal.Decimal
	}
	flows := make(map[string]*flow)
	for _, tx := range txs {
		if tx.FromAddress != "" {
			f := flows[tx.FromAddress]
			if f == nil {
				f = &flow{}
				flows[tx.FromAddress] = f
			}
			f.out = f.out.Add(tx.Value)
		}
		if tx.ToAddress != "" {
			f := flows[tx.ToAddress]
			if f == nil {
				f = &flow{}
				flows[tx.ToAddress] = f
			}
			f.in = f.in.Add(tx.Value)
		}
	}

	template := txs[0]
	out := make([]entities.TransferTx, 0, len(flows))
	seen := make(map[string]struct{}, len(flows))
	appendFlow := func(addr string) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		f := flows[addr]
		net := f.in.Sub(f.out)
		if net.IsZero() {
			return
		}
		tx := template
		if net.IsPositive() {
			tx.FromAddress = ""
			tx.ToAddress = addr
			tx.Value = net
		} else {
			tx.FromAddress = addr
			tx.ToAddress = ""
			tx.Value = net.Neg()
		}
		out = append(out, tx)
	}
	for _, tx := range txs {
		if tx.FromAddress != "" {
			appendFlow(tx.FromAddress)
		}
		if tx.ToAddress != "" {
			appendFlow(tx.ToAddress)
		}
	}
	return out
}
