// Package notification delivers operator alerts for conditions that need a
// human decision.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/pkg/logger"
)

// AdminNotifier posts alerts to the operator webhook. Delivery is best
// effort: an unreachable webhook is logged, never propagated, so alerting
// can't take down the pipeline it reports on.
type AdminNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *logger.Logger
}

// NewAdminNotifier creates an operator notifier
func NewAdminNotifier(cfg config.NotificationConfig, log *logger.Logger) *AdminNotifier {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &AdminNotifier{
		webhookURL: cfg.AlertWebhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// Alert sends one operator alert with structured details
func (n *AdminNotifier) Alert(ctx context.Context, title string, details map[string]interface{}) {
	n.logger.Warn("admin alert", "title", title, "details", details)
	if n.webhookURL == "" {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"title":   title,
		"details": details,
		"sent_at": time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("failed to marshal alert", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		n.logger.Error("failed to build alert request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("failed to deliver alert", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		n.logger.Error("alert webhook rejected", "status", fmt.Sprintf("%d", resp.StatusCode))
	}
}
