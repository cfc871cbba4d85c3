// Package pricing resolves market prices for liquidation sizing.
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/internal/infrastructure/cache"
	"github.com/chainledger/chainledger/pkg/logger"
)

// Service resolves the reference price of a market from the price cache the
// matching engine maintains. Mark price is preferred; last trade price is the
// fallback. No price at all is a reported failure, never a guess.
type Service struct {
	cache  cache.RedisClient
	logger *logger.Logger
}

// NewService creates a pricing service
func NewService(cacheClient cache.RedisClient, log *logger.Logger) *Service {
	return &Service{cache: cacheClient, logger: log}
}

// GetReferencePrice returns the mark price of a market, falling back to the
// last trade price. ErrEmptyPrice when neither exists.
func (s *Service) GetReferencePrice(ctx context.Context, marketSymbol string) (decimal.Decimal, error) {
	price, ok, err := s.getPrice(ctx, fmt.Sprintf("mark_price_%s", marketSymbol))
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return price, nil
	}

	price, ok, err = s.getPrice(ctx, fmt.Sprintf("last_trade_price_%s", marketSymbol))
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return price, nil
	}

	s.logger.Warn("no reference price for market", "market", marketSymbol)
	return decimal.Zero, fmt.Errorf("market %s: %w", marketSymbol, domainerrors.ErrEmptyPrice)
}

func (s *Service) getPrice(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	var raw string
	if err := s.cache.Get(ctx, key, &raw); err != nil {
		// Treat any miss as absence; the fallback chain decides what that means
		return decimal.Zero, false, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("malformed price at %s: %w", key, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}
