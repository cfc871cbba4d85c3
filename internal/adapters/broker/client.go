// Package broker implements the client for the external settlement venue.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/chainledger/chainledger/internal/domain/entities"
	domainerrors "github.com/chainledger/chainledger/internal/domain/errors"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/pkg/logger"
)

// OrderRequest is one order submitted to the external venue. ClientID is
// derived from the liquidation chunk id, so resubmitting the same chunk is
// recognized by the venue as a duplicate instead of a second order.
type OrderRequest struct {
	ClientID string          `json:"client_id"`
	Market   string          `json:"market"`
	Side     string          `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price"`
}

// OrderStatus is the venue's view of one order
type OrderStatus struct {
	ClientID         string          `json:"client_id"`
	Status           string          `json:"status"` // open, filled, canceled
	FilledAmount     decimal.Decimal `json:"filled_amount"`
	FilledTotalPrice decimal.Decimal `json:"filled_total_price"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client talks to the external settlement broker
type Client struct {
	cfg     config.BrokerConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

// NewClient creates a broker client
func NewClient(cfg config.BrokerConfig, log *logger.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  log,
	}
}

// IsActive reports whether the venue currently accepts orders
func (c *Client) IsActive(ctx context.Context) (bool, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/status", nil)
	if err != nil {
		return false, err
	}
	var status struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return false, fmt.Errorf("decode broker status: %w", err)
	}
	return status.Active, nil
}

// PlaceOrder submits one order. A SMALL_ORDER rejection surfaces as
// ErrOrderTooSmall so the caller can park the chunk instead of retrying it.
func (c *Client) PlaceOrder(ctx context.Context, order *OrderRequest) (*OrderStatus, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/orders", payload)
	if err != nil {
		return nil, err
	}
	var status OrderStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	c.logger.Info("order placed", "client_id", order.ClientID, "market", order.Market, "amount", order.Amount)
	return &status, nil
}

// GetOrder fetches the current state of an order by client id
func (c *Client) GetOrder(ctx context.Context, clientID string) (*OrderStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/orders/"+clientID, nil)
	if err != nil {
		return nil, err
	}
	var status OrderStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return &status, nil
}

// ClientID derives the idempotent venue client id for a liquidation chunk
func ClientID(prefix string, liquidation *entities.Liquidation) string {
	return fmt.Sprintf("%s_%s", prefix, liquidation.ID)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("X-API-Key", c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("broker request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read broker response: %w", err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, c.decodeError(resp.StatusCode, body)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// decodeError maps the venue's error codes onto domain errors
func (c *Client) decodeError(statusCode int, body []byte) error {
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil {
		switch errResp.Code {
		case "SMALL_ORDER":
			return fmt.Errorf("%s: %w", errResp.Message, domainerrors.ErrOrderTooSmall)
		case "MARKET_CLOSED", "BROKER_INACTIVE":
			return fmt.Errorf("%s: %w", errResp.Message, domainerrors.ErrBrokerInactive)
		}
	}
	if statusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("broker unavailable: %w", domainerrors.ErrServiceUnavailable)
	}
	return fmt.Errorf("broker returned status %d: %s", statusCode, string(body))
}
