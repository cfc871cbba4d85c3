package explorer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/pkg/logger"
)

// WSBlockHeadProvider keeps the latest mined height from a websocket new-head
// feed. It satisfies Provider but only serves GetBlockHead; placed first in a
// chain's provider list it answers head queries without an HTTP round trip,
// and failover falls through to the HTTP providers when the stream is cold.
type WSBlockHeadProvider struct {
	name      string
	chain     string
	url       string
	subscribe string // message sent after connect, empty to skip
	extract   func(message []byte) (int64, error)
	logger    *logger.Logger

	head   atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSBlockHeadProvider builds the stream provider. extract pulls the height
// out of one feed message; messages it errors on are skipped.
func NewWSBlockHeadProvider(name, chain, url, subscribe string, extract func([]byte) (int64, error), log *logger.Logger) *WSBlockHeadProvider {
	return &WSBlockHeadProvider{
		name:      name,
		chain:     chain,
		url:       url,
		subscribe: subscribe,
		extract:   extract,
		logger:    log.With("chain", chain, "provider", name),
		done:      make(chan struct{}),
	}
}

// Start launches the read loop with automatic reconnect
func (w *WSBlockHeadProvider) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop tears the stream down
func (w *WSBlockHeadProvider) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *WSBlockHeadProvider) run(ctx context.Context) {
	defer close(w.done)
	backoff := time.Second
	for {
		if err := w.readStream(ctx); err != nil {
			w.logger.Warn("block head stream disconnected", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (w *WSBlockHeadProvider) readStream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.Close()

	if w.subscribe != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(w.subscribe)); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		height, err := w.extract(message)
		if err != nil || height <= 0 {
			continue
		}
		if height > w.head.Load() {
			w.head.Store(height)
		}
	}
}

func (w *WSBlockHeadProvider) Name() string  { return w.name }
func (w *WSBlockHeadProvider) Chain() string { return w.chain }

// GetBlockHead returns the latest streamed height, erroring while the stream
// has not yet seen one so failover moves on
func (w *WSBlockHeadProvider) GetBlockHead(ctx context.Context) (int64, error) {
	head := w.head.Load()
	if head == 0 {
		return 0, domainerrors.ErrBlockHeadUnavailable
	}
	return head, nil
}

func (w *WSBlockHeadProvider) unsupported(op string) error {
	return &domainerrors.ProviderError{Provider: w.name, Op: op, Err: fmt.Errorf("stream provider serves block heads only")}
}

func (w *WSBlockHeadProvider) GetBalance(ctx context.Context, address string) (*RawBalance, error) {
	return nil, w.unsupported("balance")
}

func (w *WSBlockHeadProvider) GetTokenBalance(ctx context.Context, address, contract string) (*RawBalance, error) {
	return nil, w.unsupported("token_balance")
}

func (w *WSBlockHeadProvider) GetTxDetails(ctx context.Context, txHash string) ([]RawTx, error) {
	return nil, w.unsupported("tx_details")
}

func (w *WSBlockHeadProvider) GetAddressTxs(ctx context.Context, address string) ([]RawTx, error) {
	return nil, w.unsupported("address_txs")
}

func (w *WSBlockHeadProvider) GetTokenTxs(ctx context.Context, address, contract string) ([]RawTx, error) {
	return nil, w.unsupported("token_txs")
}

func (w *WSBlockHeadProvider) GetBlockTxs(ctx context.Context, height int64) (*RawBlock, error) {
	return nil, w.unsupported("block_txs")
}

func (w *WSBlockHeadProvider) GetBatchBlockTxs(ctx context.Context, from, to int64) ([]*RawBlock, error) {
	return nil, w.unsupported("batch_block_txs")
}

func (w *WSBlockHeadProvider) SupportsBatchBlocks() bool { return false }
