package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`
	CREATE TABLE IF NOT EXISTS reps (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		push_token TEXT NOT NULL DEFAULT ''
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS customer_properties (
		id TEXT PRIMARY KEY,
		rep_id TEXT NOT NULL REFERENCES reps(id),
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		notify_hail BOOLEAN NOT NULL DEFAULT TRUE,
		notify_wind BOOLEAN NOT NULL DEFAULT TRUE,
		notify_tornado BOOLEAN NOT NULL DEFAULT TRUE,
		notify_threshold_hail_size DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		notify_radius_miles DOUBLE PRECISION NOT NULL DEFAULT 5.0,
		preferred_channel TEXT NOT NULL DEFAULT 'sms',
		do_not_contact BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`,
	`CREATE INDEX IF NOT EXISTS customer_properties_geo_idx ON customer_properties(lat, lon) WHERE is_active AND NOT do_not_contact`,
	`
	CREATE TABLE IF NOT EXISTS impact_alerts (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES customer_properties(id),
		rep_id TEXT NOT NULL,
		storm_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_date TIMESTAMPTZ NOT NULL,
		distance_miles DOUBLE PRECISION NOT NULL,
		hail_size_inches DOUBLE PRECISION,
		wind_speed_mph DOUBLE PRECISION,
		severity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		sms JSONB NOT NULL DEFAULT '{}',
		email JSONB NOT NULL DEFAULT '{}',
		push JSONB NOT NULL DEFAULT '{}',
		outcome TEXT NOT NULL DEFAULT 'pending',
		converted_job_id TEXT NOT NULL DEFAULT '',
		conversion_date TIMESTAMPTZ,
		dismissed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (property_id, storm_event_id)
	)
	`,
	`CREATE INDEX IF NOT EXISTS impact_alerts_rep_created_idx ON impact_alerts(rep_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS impact_alerts_pending_idx ON impact_alerts(rep_id) WHERE outcome = 'pending' AND dismissed_at IS NULL`,
	`
	CREATE TABLE IF NOT EXISTS monitoring_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		events_processed INTEGER NOT NULL DEFAULT 0,
		events_rejected INTEGER NOT NULL DEFAULT 0,
		properties_checked INTEGER NOT NULL DEFAULT 0,
		alerts_generated INTEGER NOT NULL DEFAULT 0,
		sent INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS outbound_messages (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL,
		phone TEXT NOT NULL,
		property_id TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_message_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ
	)
	`,
	`CREATE INDEX IF NOT EXISTS outbound_messages_pair_idx ON outbound_messages(phone, property_id, created_at DESC)`,
}

// EnsureSchema creates tables and indexes that do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, query := range schema {
		if _, err := pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
