// Package sms sends text messages through a Twilio-compatible REST gateway.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/couchcryptid/storm-impact-alerts/internal/config"
	"github.com/couchcryptid/storm-impact-alerts/internal/dispatch"
)

// Client implements dispatch.Sender for the SMS channel.
type Client struct {
	accountID  string
	authToken  string
	from       string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates an SMS gateway client.
func NewClient(cfg config.SMSConfig, logger *slog.Logger) *Client {
	return &Client{
		accountID: cfg.AccountID,
		authToken: cfg.AuthToken,
		from:      cfg.FromNumber,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.GatewayURL, "/"),
		logger:  logger,
	}
}

// Send posts msg to the gateway and returns the provider message id. msg.To
// must already be in E.164 form.
func (c *Client) Send(ctx context.Context, msg dispatch.Message) (string, error) {
	form := url.Values{
		"To":   {msg.To},
		"From": {c.from},
		"Body": {msg.Body},
	}
	u := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountID))

	resp, err := c.doRequest(ctx, u, form)
	if err != nil {
		return "", err
	}
	c.logger.Debug("sms accepted", "alert_id", msg.AlertID, "sid", resp.SID, "status", resp.Status)
	return resp.SID, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string, form url.Values) (messageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, strings.NewReader(form.Encode()))
	if err != nil {
		return messageResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return messageResponse{}, fmt.Errorf("sms gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return messageResponse{}, fmt.Errorf("sms gateway error: status %d: code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return messageResponse{}, fmt.Errorf("sms gateway error: status %d: %s", resp.StatusCode, body)
	}

	var msgResp messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return messageResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if msgResp.SID == "" {
		return messageResponse{}, errors.New("sms gateway returned no message sid")
	}
	if msgResp.Status == "failed" || msgResp.Status == "undelivered" {
		return messageResponse{}, fmt.Errorf("sms gateway rejected message %s: %s", msgResp.SID, msgResp.ErrorMessage)
	}
	return msgResp, nil
}

// Gateway API response types.

type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}
