package dispatch_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/adapter/memory"
	"github.com/couchcryptid/storm-impact-alerts/internal/dispatch"
	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/couchcryptid/storm-impact-alerts/internal/impact"
	"github.com/couchcryptid/storm-impact-alerts/internal/observability"
	"github.com/couchcryptid/storm-impact-alerts/internal/ratelimit"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []dispatch.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg dispatch.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "msg-" + msg.AlertID, nil
}

type harness struct {
	store   *memory.Store
	ledger  *impact.Ledger
	clock   *clockwork.FakeClock
	sms     *fakeSender
	email   *fakeSender
	metrics *observability.Metrics
	d       *dispatch.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		clock:   clockwork.NewFakeClockAt(time.Date(2024, 4, 26, 16, 0, 0, 0, time.UTC)),
		sms:     &fakeSender{},
		email:   &fakeSender{},
		metrics: observability.NewMetricsForTesting(),
	}
	h.ledger = impact.NewLedger(h.store, domain.DefaultSeverityPolicy(), h.clock, slog.Default())
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Hour, h.clock, slog.Default(), h.metrics)
	h.d = dispatch.New(dispatch.Config{
		Ledger:     h.ledger,
		Properties: h.store,
		Reps:       h.store,
		Limiter:    limiter,
		Senders: map[domain.Channel]dispatch.Sender{
			domain.ChannelSMS:   h.sms,
			domain.ChannelEmail: h.email,
		},
		Region:  "US",
		Clock:   h.clock,
		Logger:  slog.Default(),
		Metrics: h.metrics,
	})

	h.store.PutRep(domain.RepContact{RepID: "rep-1", Name: "Dana", Phone: "(201) 555-0123", Email: "dana@example.com"})
	h.store.PutProperty(domain.CustomerProperty{ID: "P", RepID: "rep-1", Address: "123 Main St", City: "Dallas", State: "TX", IsActive: true})
	return h
}

func (h *harness) createAlert(t *testing.T, eventID string) domain.ImpactAlert {
	t.Helper()
	size := 1.75
	event := domain.StormEvent{ID: eventID, Type: domain.HazardHail, StormDate: h.clock.Now(), HailSizeInches: &size}
	alert, created, err := h.ledger.CreateAlert(context.Background(), event, domain.Match{PropertyID: "P", RepID: "rep-1", DistanceMiles: 2})
	require.NoError(t, err)
	require.True(t, created)
	return alert
}

func TestDispatch_SMSSuccess(t *testing.T) {
	h := newHarness(t)
	alert := h.createAlert(t, "evt-1")

	res, err := h.d.Dispatch(context.Background(), alert, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSent, res.Outcome)
	assert.Equal(t, "msg-"+alert.ID, res.ProviderMessageID)

	require.Len(t, h.sms.sent, 1)
	assert.Equal(t, "+12015550123", h.sms.sent[0].To, "destination is normalized to E.164")
	assert.Contains(t, h.sms.sent[0].Body, "123 Main St")

	stored, err := h.ledger.Get(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.True(t, stored.SMS.Sent)
	assert.Equal(t, res.ProviderMessageID, stored.SMS.ProviderMessageID)
	require.NotNil(t, stored.SMS.SentAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Sends.WithLabelValues("sms", "sent")))
}

func TestDispatch_ScenarioC_SecondEventRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.createAlert(t, "evt-1")
	res, err := h.d.Dispatch(ctx, first, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSent, res.Outcome)

	h.clock.Advance(10 * time.Minute)
	second := h.createAlert(t, "evt-2")
	res, err = h.d.Dispatch(ctx, second, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSkipped, res.Outcome)
	assert.Equal(t, dispatch.ReasonRateLimited, res.Reason)

	assert.Len(t, h.sms.sent, 1)
	assert.Len(t, h.store.Alerts(), 2, "both alerts persist")

	stored, err := h.ledger.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.False(t, stored.SMS.Sent)
	assert.Equal(t, dispatch.ReasonRateLimited, stored.SMS.Error)
	require.NotNil(t, stored.SMS.AttemptedAt)
	assert.Equal(t, h.clock.Now().UTC(), *stored.SMS.AttemptedAt)
}

func TestDispatch_RateLimitedSkipIsNotRetriedAutomatically(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.d.Dispatch(ctx, h.createAlert(t, "evt-1"), domain.ChannelSMS)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	second := h.createAlert(t, "evt-2")
	_, err = h.d.Dispatch(ctx, second, domain.ChannelSMS)
	require.NoError(t, err)

	// The stored alert now carries the skip, so replaying it after the window
	// has passed still sends nothing.
	h.clock.Advance(2 * time.Hour)
	stored, err := h.ledger.Get(ctx, second.ID)
	require.NoError(t, err)
	res, err := h.d.Dispatch(ctx, stored, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSkipped, res.Outcome)
	assert.Equal(t, dispatch.ReasonAlreadyAttempted, res.Reason)
	assert.Len(t, h.sms.sent, 1)
}

func TestDispatch_InvalidPhoneIsValidationFailure(t *testing.T) {
	h := newHarness(t)
	h.store.PutRep(domain.RepContact{RepID: "rep-1", Phone: "12345"})
	alert := h.createAlert(t, "evt-1")

	res, err := h.d.Dispatch(context.Background(), alert, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrInvalidPhone))
	assert.Empty(t, h.sms.sent, "gateway is never called")

	stored, err := h.ledger.Get(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.SMS.Error, "invalid phone number")
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestDispatch_GatewayFailureRecordedAndReleasesLimiter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alert := h.createAlert(t, "evt-1")

	h.sms.err = errors.New("gateway status 503")
	res, err := h.d.Dispatch(ctx, alert, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "503")

	stored, err := h.ledger.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, "gateway status 503", stored.SMS.Error)
	assert.NotNil(t, stored.SMS.AttemptedAt)

	// No automatic retry: a second automatic dispatch of the same alert is skipped.
	res, err = h.d.Dispatch(ctx, stored, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSkipped, res.Outcome)
	assert.Equal(t, dispatch.ReasonAlreadyAttempted, res.Reason)

	// Manual resend goes through; the failed attempt did not consume the window.
	h.sms.err = nil
	res, err = h.d.Resend(ctx, alert.ID, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSent, res.Outcome)

	stored, err = h.ledger.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, stored.SMS.Sent)
	assert.Empty(t, stored.SMS.Error)
}

func TestResend_StillRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alert := h.createAlert(t, "evt-1")

	_, err := h.d.Dispatch(ctx, alert, domain.ChannelSMS)
	require.NoError(t, err)

	res, err := h.d.Resend(ctx, alert.ID, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSkipped, res.Outcome)
	assert.Len(t, h.sms.sent, 1)
}

func TestResend_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.d.Resend(context.Background(), "missing", domain.ChannelSMS)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = h.d.Resend(context.Background(), "missing", "fax")
	assert.Error(t, err)
}

func TestDispatch_EmailIsNotRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []string{"evt-1", "evt-2"} {
		alert := h.createAlert(t, id)
		res, err := h.d.Dispatch(ctx, alert, domain.ChannelEmail)
		require.NoError(t, err)
		assert.Equal(t, dispatch.OutcomeSent, res.Outcome)
	}
	require.Len(t, h.email.sent, 2)
	assert.Equal(t, "dana@example.com", h.email.sent[0].To)
}

func TestDispatch_ChannelNotConfigured(t *testing.T) {
	h := newHarness(t)
	alert := h.createAlert(t, "evt-1")

	res, err := h.d.Dispatch(context.Background(), alert, domain.ChannelPush)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrChannelUnavailable))
}

func TestDispatch_UnknownRep(t *testing.T) {
	h := newHarness(t)
	size := 1.0
	event := domain.StormEvent{ID: "evt-x", Type: domain.HazardHail, StormDate: h.clock.Now(), HailSizeInches: &size}
	alert, _, err := h.ledger.CreateAlert(context.Background(), event, domain.Match{PropertyID: "P", RepID: "rep-ghost", DistanceMiles: 1})
	require.NoError(t, err)

	res, err := h.d.Dispatch(context.Background(), alert, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, domain.ErrNotFound))
}

type downDirectory struct{}

func (downDirectory) RepContact(context.Context, string) (domain.RepContact, error) {
	return domain.RepContact{}, domain.ErrStoreUnavailable
}

func TestDispatch_StoreFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	alert := h.createAlert(t, "evt-1")

	d := dispatch.New(dispatch.Config{
		Ledger:     h.ledger,
		Properties: h.store,
		Reps:       downDirectory{},
		Senders:    map[domain.Channel]dispatch.Sender{domain.ChannelSMS: h.sms},
		Logger:     slog.Default(),
	})
	_, err := d.Dispatch(context.Background(), alert, domain.ChannelSMS)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}
