package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/storm-impact-alerts/internal/adapter/http"
	"github.com/couchcryptid/storm-impact-alerts/internal/adapter/memory"
	"github.com/couchcryptid/storm-impact-alerts/internal/dispatch"
	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/couchcryptid/storm-impact-alerts/internal/impact"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type stubResender struct {
	result  dispatch.Result
	err     error
	alertID string
	channel domain.Channel
}

func (s *stubResender) Resend(_ context.Context, alertID string, ch domain.Channel) (dispatch.Result, error) {
	s.alertID, s.channel = alertID, ch
	return s.result, s.err
}

var now = time.Date(2024, 4, 26, 18, 0, 0, 0, time.UTC)

type fixture struct {
	srv      *httpadapter.Server
	store    *memory.Store
	resender *stubResender
}

func newFixture(t *testing.T, readyErr error) *fixture {
	t.Helper()
	store := memory.New()
	ledger := impact.NewLedger(store, domain.DefaultSeverityPolicy(), clockwork.NewFakeClockAt(now), slog.Default())
	resender := &stubResender{}
	return &fixture{
		srv:      httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, ledger, resender, slog.Default()),
		store:    store,
		resender: resender,
	}
}

func (f *fixture) seed(t *testing.T, id, repID string, severity domain.Severity) {
	t.Helper()
	event := domain.StormEvent{ID: "evt-" + id, Type: domain.HazardHail, Geo: domain.Geo{Lat: 35, Lon: -97}, StormDate: now}
	m := domain.Match{PropertyID: "prop-" + id, RepID: repID, DistanceMiles: 1}
	_, created, err := f.store.CreateAlertIfAbsent(context.Background(), domain.NewImpactAlert(id, event, m, severity, now.Add(-time.Hour)))
	require.NoError(t, err)
	require.True(t, created)
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := newFixture(t, nil).do(http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := newFixture(t, nil).do(http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := newFixture(t, fmt.Errorf("not ready yet")).do(http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newFixture(t, nil).do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPendingAlerts_SortedBySeverity(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "a1", "rep-1", domain.SeverityModerate)
	f.seed(t, "a2", "rep-1", domain.SeverityCritical)
	f.seed(t, "a3", "rep-2", domain.SeveritySevere)

	rec := f.do(http.MethodGet, "/reps/rep-1/alerts/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var alerts []domain.ImpactAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 2)
	assert.Equal(t, "a2", alerts[0].ID)
	assert.Equal(t, "a1", alerts[1].ID)
}

func TestPendingAlerts_EmptyIsArray(t *testing.T) {
	rec := newFixture(t, nil).do(http.MethodGet, "/reps/nobody/alerts/pending", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestImpactStats(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantDays int
	}{
		{"default window", "", http.StatusOK, impact.DefaultStatsDays},
		{"explicit window", "?days=7", http.StatusOK, 7},
		{"malformed days", "?days=week", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.seed(t, "a1", "rep-1", domain.SeveritySevere)

			rec := f.do(http.MethodGet, "/reps/rep-1/impact-stats"+tt.query, "")
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			var stats domain.ImpactStats
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
			assert.Equal(t, tt.wantDays, stats.Days)
			assert.Equal(t, 1, stats.TotalAlerts)
			assert.Equal(t, 1, stats.BySeverity[domain.SeveritySevere])
		})
	}
}

func TestGetAlert(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "a1", "rep-1", domain.SeveritySevere)

	rec := f.do(http.MethodGet, "/alerts/a1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var alert domain.ImpactAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alert))
	assert.Equal(t, "prop-a1", alert.PropertyID)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/alerts/missing", "").Code)
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantStatus  domain.AlertStatus
		wantOutcome domain.Outcome
	}{
		{"contacted", `{"status":"contacted"}`, http.StatusOK, domain.StatusContacted, domain.OutcomeContacted},
		{"converted", `{"status":"converted","job_id":"job-9","conversion_date":"2024-05-01T00:00:00Z"}`, http.StatusOK, domain.StatusConverted, domain.OutcomeConverted},
		{"converted without job", `{"status":"converted"}`, http.StatusBadRequest, domain.StatusPending, domain.OutcomePending},
		{"unknown status", `{"status":"archived"}`, http.StatusBadRequest, domain.StatusPending, domain.OutcomePending},
		{"malformed body", `{`, http.StatusBadRequest, domain.StatusPending, domain.OutcomePending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.seed(t, "a1", "rep-1", domain.SeveritySevere)

			rec := f.do(http.MethodPost, "/alerts/a1/status", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			stored, err := f.store.GetAlert(context.Background(), "a1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, tt.wantOutcome, stored.Outcome)
		})
	}
}

func TestUpdateStatus_UnknownAlert(t *testing.T) {
	rec := newFixture(t, nil).do(http.MethodPost, "/alerts/missing/status", `{"status":"viewed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDismiss_RemovesFromPending(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "a1", "rep-1", domain.SeveritySevere)

	rec := f.do(http.MethodPost, "/alerts/a1/dismiss", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var alert domain.ImpactAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alert))
	require.NotNil(t, alert.DismissedAt)
	assert.Equal(t, domain.StatusPending, alert.Status)

	pending := f.do(http.MethodGet, "/reps/rep-1/alerts/pending", "")
	assert.JSONEq(t, `[]`, pending.Body.String())
}

func TestResend(t *testing.T) {
	f := newFixture(t, nil)
	f.resender.result = dispatch.Result{
		AlertID: "a1",
		Channel: domain.ChannelSMS,
		Outcome: dispatch.OutcomeFailed,
		Err:     errors.New("carrier rejected"),
	}

	rec := f.do(http.MethodPost, "/alerts/a1/resend", `{"channel":"sms"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a1", f.resender.alertID)
	assert.Equal(t, domain.ChannelSMS, f.resender.channel)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["outcome"])
	assert.Equal(t, "carrier rejected", body["error"])
}

func TestResend_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{"unknown channel", `{"channel":"fax"}`, nil, http.StatusBadRequest},
		{"unknown alert", `{"channel":"email"}`, fmt.Errorf("resend alert x: %w", domain.ErrNotFound), http.StatusNotFound},
		{"store down", `{"channel":"push"}`, fmt.Errorf("record: %w", domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.resender.err = tt.err

			rec := f.do(http.MethodPost, "/alerts/x/resend", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
