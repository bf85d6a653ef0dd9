//go:build sms

package sms

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/config"
	"github.com/couchcryptid/storm-impact-alerts/internal/dispatch"
	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests send a real message and require SMS_GATEWAY_URL, SMS_ACCOUNT_ID,
// SMS_AUTH_TOKEN, SMS_FROM_NUMBER and SMS_SMOKE_TO.
// Run with: go test -tags=sms ./internal/adapter/sms/ -v -count=1

func TestSmoke_Send(t *testing.T) {
	to := os.Getenv("SMS_SMOKE_TO")
	if to == "" || os.Getenv("SMS_GATEWAY_URL") == "" {
		t.Fatal("SMS_GATEWAY_URL and SMS_SMOKE_TO must be set to run smoke tests")
	}
	c := NewClient(config.SMSConfig{
		GatewayURL: os.Getenv("SMS_GATEWAY_URL"),
		AccountID:  os.Getenv("SMS_ACCOUNT_ID"),
		AuthToken:  os.Getenv("SMS_AUTH_TOKEN"),
		FromNumber: os.Getenv("SMS_FROM_NUMBER"),
		Timeout:    10 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sid, err := c.Send(context.Background(), dispatch.Message{
		AlertID: "smoke",
		Channel: domain.ChannelSMS,
		To:      to,
		Body:    "storm-impact-alerts smoke test",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sid)
}
