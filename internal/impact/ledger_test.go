package impact_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/adapter/memory"
	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/couchcryptid/storm-impact-alerts/internal/impact"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) (*impact.Ledger, *memory.Store, *clockwork.FakeClock) {
	t.Helper()
	store := memory.New()
	clock := clockwork.NewFakeClockAt(stormDate.Add(time.Hour))
	return impact.NewLedger(store, domain.DefaultSeverityPolicy(), clock, slog.Default()), store, clock
}

func match(propertyID string, distance float64) domain.Match {
	return domain.Match{PropertyID: propertyID, RepID: "rep-1", DistanceMiles: distance, PreferredChannel: domain.ChannelSMS}
}

func TestLedger_CreateAlert_ScenarioA(t *testing.T) {
	ledger, _, clock := newLedger(t)

	alert, created, err := ledger.CreateAlert(context.Background(), hailEvent(ptr(1.75)), match("P", 2))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StatusPending, alert.Status)
	assert.GreaterOrEqual(t, alert.Severity.Rank(), domain.SeveritySevere.Rank())
	assert.Equal(t, clock.Now().UTC(), alert.CreatedAt)
	assert.Equal(t, "evt-hail", alert.StormEventID)
	require.NotNil(t, alert.HailSizeInches)
	assert.Equal(t, 1.75, *alert.HailSizeInches)
}

func TestLedger_CreateAlert_Idempotent(t *testing.T) {
	ledger, store, clock := newLedger(t)
	ctx := context.Background()

	first, created, err := ledger.CreateAlert(ctx, hailEvent(ptr(1.75)), match("P", 2))
	require.NoError(t, err)
	require.True(t, created)

	clock.Advance(10 * time.Minute)
	second, created, err := ledger.CreateAlert(ctx, hailEvent(ptr(1.75)), match("P", 2))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
	assert.Len(t, store.Alerts(), 1)
}

func TestLedger_CreateAlert_DistinctEventsSameProperty(t *testing.T) {
	ledger, store, _ := newLedger(t)
	ctx := context.Background()

	e1 := hailEvent(ptr(1.75))
	e2 := hailEvent(ptr(1.75))
	e2.ID = "evt-hail-2"

	_, created1, err := ledger.CreateAlert(ctx, e1, match("P", 2))
	require.NoError(t, err)
	_, created2, err := ledger.CreateAlert(ctx, e2, match("P", 2))
	require.NoError(t, err)

	assert.True(t, created1)
	assert.True(t, created2)
	assert.Len(t, store.Alerts(), 2)
}

func TestLedger_Transitions(t *testing.T) {
	ledger, _, clock := newLedger(t)
	ctx := context.Background()
	alert, _, err := ledger.CreateAlert(ctx, hailEvent(ptr(1.75)), match("P", 2))
	require.NoError(t, err)

	// Ordering is not enforced: contacted before viewed is recorded as-is.
	got, err := ledger.MarkContacted(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusContacted, got.Status)
	assert.Equal(t, domain.OutcomeContacted, got.Outcome)

	got, err = ledger.MarkViewed(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusViewed, got.Status)

	_, err = ledger.Transition(ctx, alert.ID, domain.StatusChange{Status: domain.StatusConverted})
	assert.True(t, errors.Is(err, domain.ErrMissingConversion))

	got, err = ledger.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusViewed, got.Status, "rejected conversion must not change status")

	won := clock.Now().Add(72 * time.Hour)
	got, err = ledger.MarkConverted(ctx, alert.ID, "job-42", won)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConverted, got.Status)
	assert.Equal(t, domain.OutcomeConverted, got.Outcome)
	assert.Equal(t, "job-42", got.ConvertedJobID)
	require.NotNil(t, got.ConversionDate)
	assert.True(t, won.Equal(*got.ConversionDate))
}

func TestLedger_MarkNotPursued(t *testing.T) {
	ledger, _, _ := newLedger(t)
	ctx := context.Background()
	alert, _, err := ledger.CreateAlert(ctx, hailEvent(ptr(1.75)), match("P", 2))
	require.NoError(t, err)

	got, err := ledger.MarkNotPursued(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotPursued, got.Status)
	assert.Equal(t, domain.OutcomeNotPursued, got.Outcome)
}

func TestLedger_Dismiss_PreservesStatus(t *testing.T) {
	ledger, _, _ := newLedger(t)
	ctx := context.Background()
	alert, _, err := ledger.CreateAlert(ctx, hailEvent(ptr(1.75)), match("P", 2))
	require.NoError(t, err)
	_, err = ledger.RecordDelivery(ctx, alert.ID, domain.DeliveryResult{Channel: domain.ChannelSMS, Success: true})
	require.NoError(t, err)

	got, err := ledger.Dismiss(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.NotNil(t, got.DismissedAt)

	pending, err := ledger.PendingAlerts(ctx, "rep-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLedger_RecordDelivery_UnknownAlert(t *testing.T) {
	ledger, _, _ := newLedger(t)
	_, err := ledger.RecordDelivery(context.Background(), "missing", domain.DeliveryResult{Channel: domain.ChannelSMS, Success: true})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLedger_PendingAlerts_MostSevereFirst(t *testing.T) {
	ledger, _, clock := newLedger(t)
	ctx := context.Background()

	minor := hailEvent(ptr(0.5))
	minor.ID = "evt-minor"
	critical := hailEvent(ptr(3))
	critical.ID = "evt-critical"

	_, _, err := ledger.CreateAlert(ctx, minor, match("P", 3))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, _, err = ledger.CreateAlert(ctx, critical, match("P", 3))
	require.NoError(t, err)
	contacted, _, err := ledger.CreateAlert(ctx, critical, match("Q", 3))
	require.NoError(t, err)
	_, err = ledger.MarkContacted(ctx, contacted.ID)
	require.NoError(t, err)

	pending, err := ledger.PendingAlerts(ctx, "rep-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.SeverityCritical, pending[0].Severity)
	assert.Equal(t, domain.SeverityMinor, pending[1].Severity)

	other, err := ledger.PendingAlerts(ctx, "rep-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestLedger_ImpactStats(t *testing.T) {
	ledger, _, clock := newLedger(t)
	ctx := context.Background()

	old := hailEvent(ptr(2))
	old.ID = "evt-old"
	_, _, err := ledger.CreateAlert(ctx, old, match("P", 2))
	require.NoError(t, err)

	clock.Advance(40 * 24 * time.Hour)

	recent := hailEvent(ptr(2))
	recent.ID = "evt-recent"
	a, _, err := ledger.CreateAlert(ctx, recent, match("P", 2))
	require.NoError(t, err)
	_, err = ledger.RecordDelivery(ctx, a.ID, domain.DeliveryResult{Channel: domain.ChannelSMS, Success: true})
	require.NoError(t, err)
	_, err = ledger.MarkConverted(ctx, a.ID, "job-1", clock.Now())
	require.NoError(t, err)

	stats, err := ledger.ImpactStats(ctx, "rep-1", 0)
	require.NoError(t, err)
	assert.Equal(t, impact.DefaultStatsDays, stats.Days)
	assert.Equal(t, 1, stats.TotalAlerts)
	assert.Equal(t, 1, stats.SMSSent)
	assert.Equal(t, 1, stats.Converted)
	assert.InDelta(t, 1.0, stats.ConversionRate, 1e-9)

	stats, err = ledger.ImpactStats(ctx, "rep-1", 60)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAlerts)
	assert.Equal(t, map[domain.Severity]int{domain.SeveritySevere: 2}, stats.BySeverity)
}
