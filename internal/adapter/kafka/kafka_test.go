package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("key-1"),
		Value:     []byte(`{"id":"evt-1"}`),
		Topic:     "transformed-weather-data",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte("hail")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("key-1"), raw.Key)
	assert.JSONEq(t, `{"id":"evt-1"}`, string(raw.Value))
	assert.Equal(t, "transformed-weather-data", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "hail", raw.Headers["type"])
	assert.Nil(t, raw.Commit)
}

func testAlert() domain.ImpactAlert {
	now := time.Date(2024, 4, 26, 16, 0, 0, 0, time.UTC)
	return domain.ImpactAlert{
		ID:            "alert-1",
		PropertyID:    "prop-1",
		RepID:         "rep-1",
		StormEventID:  "evt-1",
		EventType:     domain.HazardHail,
		DistanceMiles: 2,
		Severity:      domain.SeveritySevere,
		Status:        domain.StatusPending,
		Outcome:       domain.OutcomePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestSerializeToMessage(t *testing.T) {
	alert := testAlert()

	msg, err := serializeToMessage(alert)
	require.NoError(t, err)

	assert.Equal(t, []byte("prop-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"storm_event_id":"evt-1"`)
	assert.Contains(t, string(msg.Value), `"severity":"severe"`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "alert_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("alert-1"), msg.Headers[0].Value)
	assert.Equal(t, "severity", msg.Headers[1].Key)
	assert.Equal(t, []byte("severe"), msg.Headers[1].Value)
	assert.Equal(t, "created_at", msg.Headers[2].Key)
	assert.Equal(t, []byte(alert.CreatedAt.Format(time.RFC3339)), msg.Headers[2].Value)
}

type stubWriter struct {
	msgs []kafkago.Message
	err  error
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func (s *stubWriter) Close() error { return nil }

func TestWriter_PublishAlerts(t *testing.T) {
	stub := &stubWriter{}
	w := &Writer{writer: stub, logger: slog.Default()}

	second := testAlert()
	second.ID = "alert-2"
	second.PropertyID = "prop-2"

	require.NoError(t, w.PublishAlerts(context.Background(), []domain.ImpactAlert{testAlert(), second}))
	require.Len(t, stub.msgs, 2)
	assert.Equal(t, []byte("prop-2"), stub.msgs[1].Key)
}

func TestWriter_PublishAlerts_Empty(t *testing.T) {
	stub := &stubWriter{err: errors.New("should not be called")}
	w := &Writer{writer: stub, logger: slog.Default()}

	assert.NoError(t, w.PublishAlerts(context.Background(), nil))
}

func TestWriter_PublishAlerts_Error(t *testing.T) {
	stub := &stubWriter{err: errors.New("leader not available")}
	w := &Writer{writer: stub, logger: slog.Default()}

	err := w.PublishAlerts(context.Background(), []domain.ImpactAlert{testAlert()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish 1 alerts")
}
