package explorer

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/chainledger/chainledger/internal/domain/entities"
	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/pkg/logger"
	"github.com/chainledger/chainledger/pkg/metrics"
)

// Interface is the per-chain aggregation facade. It owns an ordered provider
// list and tries them in order on every call; the first structurally valid
// response wins. Providers are never blacklisted: a provider that failed on
// this call is tried again from scratch on the next one.
type Interface struct {
	policy    *ChainPolicy
	providers []Provider
	validator *Validator
	parser    *Parser
	watermark *WatermarkTracker
	logger    *logger.Logger
}

// NewInterface builds the aggregation facade for one chain. Provider order is
// the failover priority order.
func NewInterface(policy *ChainPolicy, providers []Provider, watermark *WatermarkTracker, log *logger.Logger) *Interface {
	return &Interface{
		policy:    policy,
		providers: providers,
		validator: NewValidator(policy),
		parser:    NewParser(policy),
		watermark: watermark,
		logger:    log.With("chain", policy.Network),
	}
}

// Chain returns the network this facade serves
func (e *Interface) Chain() string { return e.policy.Network }

// Policy exposes the chain policy for read-only use by callers
func (e *Interface) Policy() *ChainPolicy { return e.policy }

// failover runs fn against each provider in priority order and returns the
// first valid result. All-fail aggregates every provider error.
func failover[T any](e *Interface, ctx context.Context, op string, fn func(Provider) (T, error)) (T, error) {
	var zero T
	failures := make([]*domainerrors.ProviderError, 0, len(e.providers))
	for _, p := range e.providers {
		result, err := fn(p)
		if err != nil {
			e.logger.Warn("provider call failed", "provider", p.Name(), "op", op, "error", err)
			metrics.ProviderFailures.WithLabelValues(e.policy.Network, p.Name(), op).Inc()
			failures = append(failures, &domainerrors.ProviderError{Provider: p.Name(), Op: op, Err: err})
			continue
		}
		return result, nil
	}
	return zero, &domainerrors.AllProvidersFailedError{Op: op, Failures: failures}
}

// GetBlockHead returns the first available mined head
func (e *Interface) GetBlockHead(ctx context.Context) (int64, error) {
	return failover(e, ctx, "block_head", func(p Provider) (int64, error) {
		head, err := p.GetBlockHead(ctx)
		if err != nil {
			return 0, err
		}
		if head <= 0 {
			return 0, domainerrors.ErrBlockHeadUnavailable
		}
		return head, nil
	})
}

// MaxBlockHead queries every provider concurrently and returns the highest
// reported head. Used before a range fetch so a lagging primary cannot hide
// freshly mined blocks.
func (e *Interface) MaxBlockHead(ctx context.Context) (int64, error) {
	heads := make([]int64, len(e.providers))
	errs := make([]error, len(e.providers))
	var wg sync.WaitGroup
	for i, p := range e.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			heads[i], errs[i] = p.GetBlockHead(ctx)
		}(i, p)
	}
	wg.Wait()

	var max int64
	failures := make([]*domainerrors.ProviderError, 0, len(e.providers))
	for i, p := range e.providers {
		if errs[i] != nil {
			failures = append(failures, &domainerrors.ProviderError{Provider: p.Name(), Op: "block_head", Err: errs[i]})
			continue
		}
		if heads[i] > max {
			max = heads[i]
		}
	}
	if max == 0 {
		return 0, &domainerrors.AllProvidersFailedError{Op: "max_block_head", Failures: failures}
	}
	return max, nil
}

// GetBalance fetches the main-coin balance of an address
func (e *Interface) GetBalance(ctx context.Context, address string) (entities.Balance, error) {
	return failover(e, ctx, "balance", func(p Provider) (entities.Balance, error) {
		raw, err := p.GetBalance(ctx, address)
		if err != nil {
			return entities.Balance{}, err
		}
		if !e.validator.ValidBalance(raw) {
			return entities.Balance{}, domainerrors.ErrInvalidInput
		}
		return e.parser.ParseBalance(raw), nil
	})
}

// GetTokenBalance fetches the balance of a configured token contract
func (e *Interface) GetTokenBalance(ctx context.Context, address, contract string) (entities.Balance, error) {
	if _, ok := e.policy.ValidContracts[strings.ToLower(contract)]; !ok {
		return entities.Balance{}, domainerrors.Wrap(domainerrors.ErrInvalidInput, "unknown token contract "+contract)
	}
	return failover(e, ctx, "token_balance", func(p Provider) (entities.Balance, error) {
		raw, err := p.GetTokenBalance(ctx, address, contract)
		if err != nil {
			return entities.Balance{}, err
		}
		if !e.validator.ValidBalance(raw) {
			return entities.Balance{}, domainerrors.ErrInvalidInput
		}
		return e.parser.ParseBalance(raw), nil
	})
}

// GetTxDetails fetches and normalizes one transaction, merging its transfers
// per the chain's aggregation mode. A transaction whose every transfer fails
// validation yields an empty slice, not an error.
func (e *Interface) GetTxDetails(ctx context.Context, txHash string) ([]entities.TransferTx, error) {
	head, _ := e.GetBlockHead(ctx)
	return failover(e, ctx, "tx_details", func(p Provider) ([]entities.TransferTx, error) {
		raw, err := p.GetTxDetails(ctx, txHash)
		if err != nil {
			return nil, err
		}
		parsed := e.parser.ParseTxs(raw, e.validator, head)
		return AggregateTransfers(e.policy.AggregationMode, parsed), nil
	})
}

// GetTxs fetches an address's main-coin transfer history, filtered by
// direction relative to the address
func (e *Interface) GetTxs(ctx context.Context, address string, direction entities.Direction) ([]entities.TransferTx, error) {
	head, _ := e.GetBlockHead(ctx)
	txs, err := failover(e, ctx, "address_txs", func(p Provider) ([]entities.TransferTx, error) {
		raw, err := p.GetAddressTxs(ctx, address)
		if err != nil {
			return nil, err
		}
		return e.parser.ParseTxs(raw, e.validator, head), nil
	})
	if err != nil {
		return nil, err
	}
	return filterDirection(txs, address, direction), nil
}

// GetTokenTxs fetches an address's token transfer history for one contract
func (e *Interface) GetTokenTxs(ctx context.Context, address, contract string, direction entities.Direction) ([]entities.TransferTx, error) {
	if _, ok := e.policy.ValidContracts[strings.ToLower(contract)]; !ok {
		return nil, domainerrors.Wrap(domainerrors.ErrInvalidInput, "unknown token contract "+contract)
	}
	head, _ := e.GetBlockHead(ctx)
	txs, err := failover(e, ctx, "token_txs", func(p Provider) ([]entities.TransferTx, error) {
		raw, err := p.GetTokenTxs(ctx, address, contract)
		if err != nil {
			return nil, err
		}
		return e.parser.ParseTxs(raw, e.validator, head), nil
	})
	if err != nil {
		return nil, err
	}
	return filterDirection(txs, address, direction), nil
}

func filterDirection(txs []entities.TransferTx, address string, direction entities.Direction) []entities.TransferTx {
	out := make([]entities.TransferTx, 0, len(txs))
	for _, tx := range txs {
		switch direction {
		case entities.DirectionIncoming:
			if strings.EqualFold(tx.ToAddress, address) {
				out = append(out, tx)
			}
		case entities.DirectionOutgoing:
			if strings.EqualFold(tx.FromAddress, address) {
				out = append(out, tx)
			}
		default:
			out = append(out, tx)
		}
	}
	return out
}

// LatestBlockResult is the outcome of one range scan
type LatestBlockResult struct {
	Range     BlockRange
	Processed int64 // new watermark after this pass
	Addresses *entities.BlockAddresses
	TxInfo    *entities.BlockTxInfo
	Txs       []entities.TransferTx
}

// GetLatestBlock scans the next unprocessed block window and returns the
// addresses and transfers it touched.
//
// Blocks are fetched with bounded concurrency and partial success is kept:
// if some blocks fail, everything below the lowest missing height is
// processed and the watermark advances only to just below that gap, so the
// failed block is re-fetched on the next pass. updateWatermark=false runs a
// dry scan that leaves the pointer untouched.
func (e *Interface) GetLatestBlock(ctx context.Context, updateWatermark bool) (*LatestBlockResult, error) {
	head, err := e.MaxBlockHead(ctx)
	if err != nil {
		return nil, err
	}
	head += e.policy.BlockHeightOffset

	r, err := e.watermark.UnprocessedRange(ctx, e.policy.Network, head, e.policy.MaxBlocksPerFetch)
	if err != nil {
		return nil, err
	}
	result := &LatestBlockResult{
		Range:     r,
		Addresses: entities.NewBlockAddresses(),
		TxInfo:    entities.NewBlockTxInfo(),
	}
	if r.Empty() {
		result.Processed = r.Min - 1
		return result, nil
	}

	blocks := e.fetchRange(ctx, r)

	// Keep the contiguous prefix: the first missing height caps what this
	// pass may claim as processed.
	processed := r.Min - 1
	for h := r.Min; h < r.Max; h++ {
		if _, ok := blocks[h]; !ok {
			break
		}
		processed = h
	}

	heights := make([]int64, 0, len(blocks))
	for h := range blocks {
		if h <= processed {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	for _, h := range heights {
		block := blocks[h]
		parsed := e.parser.ParseTxs(block.Txs, e.validator, head)
		parsed = aggregatePerTxHash(e.policy.AggregationMode, parsed)
		for _, tx := range parsed {
			result.Txs = append(result.Txs, tx)
			collectAddresses(result.Addresses, tx)
			collectTxInfo(result.TxInfo, tx)
		}
	}
	result.Processed = processed

	if updateWatermark && processed >= r.Min {
		if err := e.watermark.Set(ctx, e.policy.Network, processed); err != nil {
			return nil, err
		}
	}
	if processed < r.Max-1 {
		e.logger.Warn("partial block range processed",
			"min", r.Min, "max", r.Max, "processed", processed)
	}
	return result, nil
}

// fetchRange pulls [r.Min, r.Max) block by block with a bounded worker pool,
// preferring a single batch call when a provider offers one. Failed heights
// are simply absent from the result map.
func (e *Interface) fetchRange(ctx context.Context, r BlockRange) map[int64]*RawBlock {
	blocks := make(map[int64]*RawBlock)

	for _, p := range e.providers {
		if !p.SupportsBatchBlocks() {
			continue
		}
		batch, err := p.GetBatchBlockTxs(ctx, r.Min, r.Max-1)
		if err != nil {
			e.logger.Warn("batch block fetch failed", "provider", p.Name(), "error", err)
			continue
		}
		for _, b := range batch {
			if b != nil && b.Height >= r.Min && b.Height < r.Max {
				blocks[b.Height] = b
			}
		}
		break
	}

	missing := make([]int64, 0, r.Max-r.Min)
	for h := r.Min; h < r.Max; h++ {
		if _, ok := blocks[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 {
		return blocks
	}

	workers := e.policy.MaxBlockWorkers
	if workers <= 0 {
		workers = 1
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for _, h := range missing {
		wg.Add(1)
		sem <- struct{}{}
		go func(height int64) {
			defer wg.Done()
			defer func() { <-sem }()
			block, err := failover(e, ctx, "block_txs", func(p Provider) (*RawBlock, error) {
				return p.GetBlockTxs(ctx, height)
			})
			if err != nil {
				e.logger.Warn("block fetch failed", "height", height, "error", err)
				return
			}
			mu.Lock()
			blocks[height] = block
			mu.Unlock()
		}(h)
	}
	wg.Wait()
	return blocks
}

// aggregatePerTxHash groups a block's transfers by transaction before
// applying the chain aggregation mode, so merging never crosses tx boundaries
func aggregatePerTxHash(mode AggregationMode, txs []entities.TransferTx) []entities.TransferTx {
	if mode == AggregateNone || len(txs) <= 1 {
		return txs
	}
	order := make([]string, 0, len(txs))
	groups := make(map[string][]entities.TransferTx)
	for _, tx := range txs {
		if _, ok := groups[tx.TxHash]; !ok {
			order = append(order, tx.TxHash)
		}
		groups[tx.TxHash] = append(groups[tx.TxHash], tx)
	}
	out := make([]entities.TransferTx, 0, len(txs))
	for _, hash := range order {
		out = append(out, AggregateTransfers(mode, groups[hash])...)
	}
	return out
}

func collectAddresses(dst *entities.BlockAddresses, tx entities.TransferTx) {
	if tx.FromAddress != "" {
		dst.InputAddresses[tx.FromAddress] = struct{}{}
	}
	if tx.ToAddress != "" {
		dst.OutputAddresses[tx.ToAddress] = struct{}{}
	}
}

func collectTxInfo(dst *entities.BlockTxInfo, tx entities.TransferTx) {
	entry := entities.AddressTxEntry{
		TxHash:      tx.TxHash,
		Value:       tx.Value,
		Contract:    tx.Token,
		BlockHeight: tx.BlockHeight,
		Symbol:      tx.Symbol,
		Index:       tx.Index,
	}
	if tx.FromAddress != "" {
		addTxInfo(dst.OutgoingTxs, tx.FromAddress, tx.Symbol, entry)
	}
	if tx.ToAddress != "" {
		addTxInfo(dst.IncomingTxs, tx.ToAddress, tx.Symbol, entry)
	}
}

func addTxInfo(m map[string]map[string][]entities.AddressTxEntry, address, symbol string, entry entities.AddressTxEntry) {
	if m[address] == nil {
		m[address] = make(map[string][]entities.AddressTxEntry)
	}
	m[address][symbol] = append(m[address][symbol], entry)
}
