// Package push delivers alerts to rep devices through an FCM-style HTTP gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/storm-impact-alerts/internal/config"
	"github.com/couchcryptid/storm-impact-alerts/internal/dispatch"
)

// Client implements dispatch.Sender for the push channel. msg.To is the
// device registration token.
type Client struct {
	apiKey     string
	httpClient *http.Client
	url        string
	logger     *slog.Logger
}

// NewClient creates a push gateway client.
func NewClient(cfg config.PushConfig, logger *slog.Logger) *Client {
	return &Client{
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		url:    cfg.GatewayURL,
		logger: logger,
	}
}

// Send posts one notification and returns the gateway's message id.
func (c *Client) Send(ctx context.Context, msg dispatch.Message) (string, error) {
	payload, err := json.Marshal(request{
		To:           msg.To,
		Notification: notification{Title: msg.Subject, Body: msg.Body},
		Data:         map[string]string{"alert_id": msg.AlertID},
	})
	if err != nil {
		return "", fmt.Errorf("encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "key="+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("push gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("push gateway error: status %d: %s", resp.StatusCode, body)
	}

	var pushResp response
	if err := json.NewDecoder(resp.Body).Decode(&pushResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(pushResp.Results) == 0 {
		return "", errors.New("push gateway returned no results")
	}
	result := pushResp.Results[0]
	if result.Error != "" {
		return "", fmt.Errorf("push rejected: %s", result.Error)
	}

	c.logger.Debug("push accepted", "alert_id", msg.AlertID, "message_id", result.MessageID)
	return result.MessageID, nil
}

// Gateway API types.

type request struct {
	To           string            `json:"to"`
	Notification notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type response struct {
	Success int      `json:"success"`
	Failure int      `json:"failure"`
	Results []result `json:"results"`
}

type result struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}
