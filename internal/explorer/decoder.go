package explorer

import (
	"fmt"
	"math/big"
	"time"
)

// DefaultEndpoints is the path layout of the normalized explorer gateways the
// provider fleet runs behind. Raw upstream APIs are translated to this shape
// at the gateway, which keeps one decoder working for every chain.
var DefaultEndpoints = Endpoints{
	BlockHead:     "/head",
	Balance:       "/addresses/%s/balance",
	TokenBalance:  "/addresses/%s/tokens/%s/balance",
	TxDetails:     "/txs/%s",
	AddressTxs:    "/addresses/%s/txs",
	TokenTxs:      "/addresses/%s/tokens/%s/txs",
	BlockTxs:      "/blocks/%d",
	BatchBlockTxs: "/blocks?from=%d&to=%d",
}

type wireTransfer struct {
	Hash        string `json:"hash"`
	BlockHeight int64  `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"` // base units as a decimal string
	Contract    string `json:"contract"`
	Symbol      string `json:"symbol"`
	Fee         string `json:"fee"`
	Timestamp   int64  `json:"timestamp"` // unix seconds
	Success     bool   `json:"success"`
	Memo        string `json:"memo"`
	ProgramID   string `json:"program_id"`
	Index       int    `json:"index"`
}

type wireBlock struct {
	Height    int64          `json:"height"`
	Hash      string         `json:"hash"`
	Transfers []wireTransfer `json:"transfers"`
}

func parseRawInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("malformed integer amount %q", value)
	}
	return n, nil
}

func (t *wireTransfer) toRawTx() (RawTx, error) {
	value, err := parseRawInt(t.Value)
	if err != nil {
		return RawTx{}, err
	}
	fee, err := parseRawInt(t.Fee)
	if err != nil {
		return RawTx{}, err
	}
	return RawTx{
		Hash:        t.Hash,
		BlockHeight: t.BlockHeight,
		BlockHash:   t.BlockHash,
		From:        t.From,
		To:          t.To,
		ValueRaw:    value,
		Contract:    t.Contract,
		Symbol:      t.Symbol,
		FeeRaw:      fee,
		Timestamp:   time.Unix(t.Timestamp, 0).UTC(),
		Success:     t.Success,
		Memo:        t.Memo,
		ProgramID:   t.ProgramID,
		Index:       t.Index,
	}, nil
}

func decodeWireTransfers(transfers []wireTransfer) ([]RawTx, error) {
	out := make([]RawTx, 0, len(transfers))
	for i := range transfers {
		tx, err := transfers[i].toRawTx()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func decodeWireBlock(block *wireBlock) (*RawBlock, error) {
	txs, err := decodeWireTransfers(block.Transfers)
	if err != nil {
		return nil, err
	}
	return &RawBlock{Height: block.Height, Hash: block.Hash, Txs: txs}, nil
}

// DefaultDecoder builds the decoder for the normalized gateway responses
func DefaultDecoder(policy *ChainPolicy) Decoder {
	return Decoder{
		BlockHead: func(body []byte) (int64, error) {
			var head struct {
				Height int64 `json:"height"`
			}
			if err := DecodeJSON(body, &head); err != nil {
				return 0, err
			}
			return head.Height, nil
		},
		Balance: func(body []byte, address, contract string) (*RawBalance, error) {
			var payload struct {
				Address     string `json:"address"`
				Balance     string `json:"balance"`
				Unconfirmed string `json:"unconfirmed"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			balance, err := parseRawInt(payload.Balance)
			if err != nil {
				return nil, err
			}
			out := &RawBalance{
				Address:    payload.Address,
				BalanceRaw: balance,
				Contract:   contract,
				Symbol:     policy.Symbol,
			}
			if payload.Address == "" {
				out.Address = address
			}
			if payload.Unconfirmed != "" {
				unconfirmed, err := parseRawInt(payload.Unconfirmed)
				if err != nil {
					return nil, err
				}
				out.UnconfirmedRaw = unconfirmed
			}
			return out, nil
		},
		TxDetails: func(body []byte) ([]RawTx, error) {
			var payload struct {
				Transfers []wireTransfer `json:"transfers"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			return decodeWireTransfers(payload.Transfers)
		},
		AddressTxs: func(body []byte, address string) ([]RawTx, error) {
			var payload struct {
				Transfers []wireTransfer `json:"transfers"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			return decodeWireTransfers(payload.Transfers)
		},
		BlockTxs: func(body []byte, height int64) (*RawBlock, error) {
			var payload wireBlock
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			if payload.Height == 0 {
				payload.Height = height
			}
			return decodeWireBlock(&payload)
		},
		BatchBlockTxs: func(body []byte, from, to int64) ([]*RawBlock, error) {
			var payload struct {
				Blocks []wireBlock `json:"blocks"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			out := make([]*RawBlock, 0, len(payload.Blocks))
			for i := range payload.Blocks {
				block, err := decodeWireBlock(&payload.Blocks[i])
				if err != nil {
					return nil, err
				}
				out = append(out, block)
			}
			return out, nil
		},
	}
}
