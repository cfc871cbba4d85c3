package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/pkg/logger"
)

// RawTx is the provider-neutral envelope a decoder produces from an upstream
// response. The validator and parser only ever see this shape; everything
// provider-specific dies inside the decoder.
type RawTx struct {
	Hash        string
	BlockHeight int64
	BlockHash   string
	From        string
	To          string
	ValueRaw    *big.Int // base units, sign-free
	Contract    string   // token contract address, empty for main coin
	Symbol      string
	FeeRaw      *big.Int
	Timestamp   time.Time
	Success     bool
	Memo        string
	ProgramID   string // producing program/module, where the chain has one
	Index       int
}

// RawBalance is the provider-neutral balance envelope
type RawBalance struct {
	Address        string
	BalanceRaw     *big.Int
	UnconfirmedRaw *big.Int
	Contract       string
	Symbol         string
}

// RawBlock is one block's worth of raw transfers
type RawBlock struct {
	Height int64
	Hash   string
	Txs    []RawTx
}

// Provider is one upstream explorer API for one chain. Implementations are
// stateless; health is judged per call by the aggregator, never remembered.
type Provider interface {
	Name() string
	Chain() string

	GetBlockHead(ctx context.Context) (int64, error)
	GetBalance(ctx context.Context, address string) (*RawBalance, error)
	GetTokenBalance(ctx context.Context, address, contract string) (*RawBalance, error)
	GetTxDetails(ctx context.Context, txHash string) ([]RawTx, error)
	GetAddressTxs(ctx context.Context, address string) ([]RawTx, error)
	GetTokenTxs(ctx context.Context, address, contract string) ([]RawTx, error)
	GetBlockTxs(ctx context.Context, height int64) (*RawBlock, error)

	// GetBatchBlockTxs fetches [from, to] inclusive. Only meaningful when
	// SupportsBatchBlocks reports true.
	GetBatchBlockTxs(ctx context.Context, from, to int64) ([]*RawBlock, error)
	SupportsBatchBlocks() bool
}

// Decoder turns one upstream HTTP body into the neutral envelopes. Each
// provider config supplies the set matching its API shape; a nil entry means
// the provider does not offer that capability.
type Decoder struct {
	BlockHead     func(body []byte) (int64, error)
	Balance       func(body []byte, address, contract string) (*RawBalance, error)
	TxDetails     func(body []byte) ([]RawTx, error)
	AddressTxs    func(body []byte, address string) ([]RawTx, error)
	BlockTxs      func(body []byte, height int64) (*RawBlock, error)
	BatchBlockTxs func(body []byte, from, to int64) ([]*RawBlock, error)
}

// Endpoints holds the URL templates of one provider. Empty template means the
// capability is unsupported and calls to it fail fast.
type Endpoints struct {
	BlockHead     string // no args
	Balance       string // %s = address
	TokenBalance  string // %s = address, %s = contract
	TxDetails     string // %s = tx hash
	AddressTxs    string // %s = address
	TokenTxs      string // %s = address, %s = contract
	BlockTxs      string // %d = height
	BatchBlockTxs string // %d = from, %d = to
}

// HTTPProviderConfig configures one upstream explorer client
type HTTPProviderConfig struct {
	Name      string
	Chain     string
	BaseURL   string
	APIKey    string
	Header    string // header name the API key travels in, empty for query param auth
	RateLimit float64
	Burst     int
	Timeout   time.Duration
	Endpoints Endpoints
	Decoder   Decoder
}

// HTTPProvider is the generic JSON-over-HTTP explorer client. One instance per
// configured upstream; the per-API request shape lives entirely in the
// endpoint templates and decoder functions.
type HTTPProvider struct {
	cfg     HTTPProviderConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

// NewHTTPProvider builds a provider with a rate limiter and circuit breaker
// around the upstream
func NewHTTPProvider(cfg HTTPProviderConfig, log *logger.Logger) *HTTPProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	if cfg.Burst == 0 {
		cfg.Burst = int(cfg.RateLimit)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("explorer-%s-%s", cfg.Chain, cfg.Name),
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		breaker: breaker,
		logger:  log,
	}
}

func (p *HTTPProvider) Name() string  { return p.cfg.Name }
func (p *HTTPProvider) Chain() string { return p.cfg.Chain }

func (p *HTTPProvider) SupportsBatchBlocks() bool {
	return p.cfg.Endpoints.BatchBlockTxs != "" && p.cfg.Decoder.BatchBlockTxs != nil
}

func (p *HTTPProvider) get(ctx context.Context, path string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	result, err := p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if p.cfg.APIKey != "" && p.cfg.Header != "" {
			req.Header.Set(p.cfg.Header, p.cfg.APIKey)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (p *HTTPProvider) unsupported(op string) error {
	return &domainerrors.ProviderError{
		Provider: p.cfg.Name,
		Op:       op,
		Err:      fmt.Errorf("capability not configured"),
	}
}

func (p *HTTPProvider) GetBlockHead(ctx context.Context) (int64, error) {
	if p.cfg.Endpoints.BlockHead == "" || p.cfg.Decoder.BlockHead == nil {
		return 0, p.unsupported("block_head")
	}
	body, err := p.get(ctx, p.cfg.Endpoints.BlockHead)
	if err != nil {
		return 0, fmt.Errorf("get block head: %w", err)
	}
	return p.cfg.Decoder.BlockHead(body)
}

func (p *HTTPProvider) GetBalance(ctx context.Context, address string) (*RawBalance, error) {
	if p.cfg.Endpoints.Balance == "" || p.cfg.Decoder.Balance == nil {
		return nil, p.unsupported("balance")
	}
	body, err := p.get(ctx, fmt.Sprintf(p.cfg.Endpoints.Balance, address))
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return p.cfg.Decoder.Balance(body, address, "")
}

func (p *HTTPProvider) GetTokenBalance(ctx context.Context, address, contract string) (*RawBalance, error) {
	if p.cfg.Endpoints.TokenBalance == "" || p.cfg.Decoder.Balance == nil {
		return nil, p.unsupported("token_balance")
	}
	body, err := p.get(ctx, fmt.Sprintf(p.cfg.Endpoints.TokenBalance, address, contract))
	if err != nil {
		return nil, fmt.Errorf("get token balance: %w", err)
	}
	return p.cfg.Decoder.Balance(body, address, contract)
}

func (p *HTTPProvider) GetTxDetails(ctx context.Context, txHash string) ([]RawTx, error) {
	if p.cfg.Endpoints.TxDetails == "" || p.cfg.Decoder.TxDetails == nil {
		return nil, p.unsupported("tx_details")
	}
	body, err := p.get(ctx, fmt.Sprintf(p.cfg.Endpoints.TxDetails, txHash))
	if err != nil {
		return nil, fmt.Errorf("get tx details: %w", err)
	}
	return p.cfg.Decoder.TxDetails(body)
}

func (p *HTTPProvider) GetAddressTxs(ctx context.Context, address string) ([]RawTx, error) {
	if p.cfg.Endpoints.AddressTxs == "" || p.cfg.Decoder.AddressTxs == nil {
		return nil, p.unsupported("address_txs")
	}
	body, err := p.get(ctx, fmt.Sprintf(p.cfg.Endpoints.AddressTxs, address))
	if err != nil {
		return nil, fmt.Errorf("get address txs: %w", err)
	}
	return p.cfg.Decoder.AddressTxs(body, address)
}

func (p *HTTPProvider) GetTokenTxs(ctx context.Context, address, contract string) ([]RawTx, error) {
	if p.cfg.Endpoints.TokenTxs == "" || p.cfg.Decoder.AddressTxs == nil {
		return nil, p.unsupported("token_txs")
	}
	body, err := p.get(ctx, fmt.Sprintf(p.cfg.Endpoints.TokenTxs, address, contract))
	if err != nil {
		return nil, fmt.Errorf("get token txs: %w", err)
	}
	return p.cfg.Decoder.AddressTxs(body, address)
}

func (p *HTTPProvider) GetBlockTxs(ctx context.Context, height int64) (*RawBlock, error) {
	if p.cfg.Endpoints.BlockTxs == "" || p.cfg.Decoder.BlockTxs == nil {
		return nil, p.unsupported("block_txs")
	}
	body, err := p.get(ctx, fmt.Sprintf(p.cfg.Endpoints.BlockTxs, height))
	if err != nil {
		return nil, fmt.Errorf("get block txs: %w", err)
	}
	return p.cfg.Decoder.BlockTxs(body, height)
}

func (p *HTTPProvider) GetBatchBlockTxs(ctx context.Context, from, to int64) ([]*RawBlock, error) {
	if !p.SupportsBatchBlocks() {
		return nil, p.unsupported("batch_block_txs")
	}
	body, err := p.get(ctx, fmt.Sprintf(p.cfg.Endpoints.BatchBlockTxs, from, to))
	if err != nil {
		return nil, fmt.Errorf("get batch block txs: %w", err)
	}
	return p.cfg.Decoder.BatchBlockTxs(body, from, to)
}

// DecodeJSON is a helper for decoder functions built on plain JSON bodies
func DecodeJSON(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
