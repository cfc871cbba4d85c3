package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/internal/infrastructure/cache"
	"github.com/chainledger/chainledger/pkg/logger"
)

const (
	watermarkTTL = 24 * time.Hour

	// bootstrapLookback is how far behind the mined head a fresh chain starts
	bootstrapLookback = 5
)

// WatermarkTracker persists the per-chain "latest block height processed"
// pointer in Redis. The watermark only moves forward; a missed advance just
// means the same range is scanned again, which downstream dedup absorbs.
type WatermarkTracker struct {
	cache  cache.RedisClient
	prefix string
	logger *logger.Logger
}

// NewWatermarkTracker builds a tracker with the given cache key prefix
func NewWatermarkTracker(cacheClient cache.RedisClient, prefix string, log *logger.Logger) *WatermarkTracker {
	return &WatermarkTracker{cache: cacheClient, prefix: prefix, logger: log}
}

func (w *WatermarkTracker) key(chain string) string {
	return fmt.Sprintf("%slatest_block_height_processed_%s", w.prefix, chain)
}

// Get returns the stored watermark, or ok=false when none exists (fresh chain
// or TTL expiry)
func (w *WatermarkTracker) Get(ctx context.Context, chain string) (int64, bool, error) {
	var height int64
	err := w.cache.Get(ctx, w.key(chain), &height)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get watermark for %s: %w", chain, err)
	}
	return height, true, nil
}

// Set persists a new watermark with the standard TTL. Moving the watermark
// backwards is rejected; re-processing ranges is safe, skipping them is not.
func (w *WatermarkTracker) Set(ctx context.Context, chain string, height int64) error {
	current, ok, err := w.Get(ctx, chain)
	if err != nil {
		return err
	}
	if ok && height < current {
		return fmt.Errorf("chain %s: %d < %d: %w", chain, height, current, domainerrors.ErrWatermarkRegression)
	}
	if err := w.cache.Set(ctx, w.key(chain), height, watermarkTTL); err != nil {
		return fmt.Errorf("set watermark for %s: %w", chain, err)
	}
	return nil
}

// BlockRange is the inclusive [Min, Max) window of heights to process next.
// Max is exclusive.
type BlockRange struct {
	Min int64
	Max int64
}

// Empty reports whether there is nothing to fetch
func (r BlockRange) Empty() bool { return r.Min >= r.Max }

// UnprocessedRange computes the next window from the stored watermark and the
// current mined head, capped at maxBlocks heights per pass.
//
// With a stored watermark P and mined head M:
//
//	min = P+1 when M > P, else M+1 (head went backwards across providers;
//	      produces an empty range rather than re-reading old blocks)
//	max = min(M+1, min+maxBlocks)
//
// Without a watermark the chain bootstraps a small lookback behind the head.
func (w *WatermarkTracker) UnprocessedRange(ctx context.Context, chain string, minedHead int64, maxBlocks int) (BlockRange, error) {
	processed, ok, err := w.Get(ctx, chain)
	if err != nil {
		return BlockRange{}, err
	}
	if !ok {
		processed = minedHead - bootstrapLookback
		if processed < 0 {
			processed = 0
		}
		if err := w.Set(ctx, chain, processed); err != nil {
			return BlockRange{}, err
		}
		w.logger.Info("bootstrapped block watermark",
			"chain", chain, "height", processed, "mined_head", minedHead)
	}

	var min int64
	if minedHead > processed {
		min = processed + 1
	} else {
		min = minedHead + 1
	}
	max := minedHead + 1
	if capped := min + int64(maxBlocks); max > capped {
		max = capped
	}
	return BlockRange{Min: min, Max: max}, nil
}
