package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements domain.PropertyStore, domain.AlertStore, domain.RunStore
// and domain.RepDirectory.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an open pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return wrapErr("ping postgres", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// --- reps ---

// PutRep inserts or replaces a rep's contact details.
func (s *Store) PutRep(ctx context.Context, r domain.RepContact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reps (id, name, phone, email, push_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			push_token = EXCLUDED.push_token`,
		r.RepID, r.Name, r.Phone, r.Email, r.PushToken,
	)
	return wrapErr("put rep "+r.RepID, err)
}

func (s *Store) RepContact(ctx context.Context, repID string) (domain.RepContact, error) {
	var r domain.RepContact
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, phone, email, push_token FROM reps WHERE id = $1`, repID,
	).Scan(&r.RepID, &r.Name, &r.Phone, &r.Email, &r.PushToken)
	if err != nil {
		return domain.RepContact{}, wrapErr("get rep "+repID, err)
	}
	return r, nil
}

// --- properties ---

const propertyColumns = `id, rep_id, lat, lon, address, city, state, zip,
	notify_hail, notify_wind, notify_tornado, notify_threshold_hail_size, notify_radius_miles,
	preferred_channel, do_not_contact, is_active, created_at, updated_at`

func scanProperty(row scanner) (domain.CustomerProperty, error) {
	var p domain.CustomerProperty
	err := row.Scan(&p.ID, &p.RepID, &p.Geo.Lat, &p.Geo.Lon, &p.Address, &p.City, &p.State, &p.Zip,
		&p.NotifyHail, &p.NotifyWind, &p.NotifyTornado, &p.NotifyThresholdHailSize, &p.NotifyRadiusMiles,
		&p.PreferredChannel, &p.DoNotContact, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// PutProperty inserts or replaces a customer property.
func (s *Store) PutProperty(ctx context.Context, p domain.CustomerProperty) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customer_properties (`+propertyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			rep_id = EXCLUDED.rep_id,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip = EXCLUDED.zip,
			notify_hail = EXCLUDED.notify_hail,
			notify_wind = EXCLUDED.notify_wind,
			notify_tornado = EXCLUDED.notify_tornado,
			notify_threshold_hail_size = EXCLUDED.notify_threshold_hail_size,
			notify_radius_miles = EXCLUDED.notify_radius_miles,
			preferred_channel = EXCLUDED.preferred_channel,
			do_not_contact = EXCLUDED.do_not_contact,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.RepID, p.Geo.Lat, p.Geo.Lon, p.Address, p.City, p.State, p.Zip,
		p.NotifyHail, p.NotifyWind, p.NotifyTornado, p.NotifyThresholdHailSize, p.NotifyRadiusMiles,
		p.PreferredChannel, p.DoNotContact, p.IsActive, p.CreatedAt, now,
	)
	return wrapErr("put property "+p.ID, err)
}

// nearQuery keeps properties whose own radius box contains the point. The
// longitude test measures the shorter way around so boxes crossing the
// antimeridian still match.
const nearQuery = `
	SELECT ` + propertyColumns + `
	FROM customer_properties
	WHERE is_active AND NOT do_not_contact
	  AND CASE $1::text
			WHEN 'hail' THEN notify_hail
			WHEN 'wind' THEN notify_wind
			WHEN 'tornado' THEN notify_tornado
			ELSE FALSE
		  END
	  AND ABS(lat - $2::float8) <= notify_radius_miles / 69.0
	  AND LEAST(ABS(lon - $3::float8), 360 - ABS(lon - $3::float8))
		  <= notify_radius_miles / (69.0 * GREATEST(COS(RADIANS(lat)), 0.01))`

func (s *Store) PropertiesNear(ctx context.Context, hazard domain.Hazard, at domain.Geo) ([]domain.CustomerProperty, error) {
	rows, err := s.pool.Query(ctx, nearQuery, string(hazard), at.Lat, at.Lon)
	if err != nil {
		return nil, wrapErr("query properties near event", err)
	}
	props, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CustomerProperty, error) {
		return scanProperty(row)
	})
	if err != nil {
		return nil, wrapErr("scan properties", err)
	}
	return props, nil
}

func (s *Store) GetProperty(ctx context.Context, id string) (domain.CustomerProperty, error) {
	p, err := scanProperty(s.pool.QueryRow(ctx,
		`SELECT `+propertyColumns+` FROM customer_properties WHERE id = $1`, id))
	if err != nil {
		return domain.CustomerProperty{}, wrapErr("get property "+id, err)
	}
	return p, nil
}

// --- alerts ---

const alertColumns = `id, property_id, rep_id, storm_event_id, event_type, event_date,
	distance_miles, hail_size_inches, wind_speed_mph, severity, status, sms, email, push,
	outcome, converted_job_id, conversion_date, dismissed_at, created_at, updated_at`

func scanAlert(row scanner) (domain.ImpactAlert, error) {
	var a domain.ImpactAlert
	err := row.Scan(&a.ID, &a.PropertyID, &a.RepID, &a.StormEventID, &a.EventType, &a.EventDate,
		&a.DistanceMiles, &a.HailSizeInches, &a.WindSpeedMph, &a.Severity, &a.Status, &a.SMS, &a.Email, &a.Push,
		&a.Outcome, &a.ConvertedJobID, &a.ConversionDate, &a.DismissedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.ImpactAlert{}, err
	}
	a.EventDate = a.EventDate.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func collectAlerts(rows pgx.Rows) ([]domain.ImpactAlert, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ImpactAlert, error) {
		return scanAlert(row)
	})
}

// CreateAlertIfAbsent inserts alert unless (property_id, storm_event_id)
// already exists, in which case the surviving row is returned.
func (s *Store) CreateAlertIfAbsent(ctx context.Context, a domain.ImpactAlert) (domain.ImpactAlert, bool, error) {
	stored, err := scanAlert(s.pool.QueryRow(ctx, `
		INSERT INTO impact_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (property_id, storm_event_id) DO NOTHING
		RETURNING `+alertColumns,
		a.ID, a.PropertyID, a.RepID, a.StormEventID, a.EventType, a.EventDate,
		a.DistanceMiles, a.HailSizeInches, a.WindSpeedMph, a.Severity, a.Status, a.SMS, a.Email, a.Push,
		a.Outcome, a.ConvertedJobID, a.ConversionDate, a.DismissedAt, a.CreatedAt, a.UpdatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ImpactAlert{}, false, wrapErr("insert alert", err)
	}

	existing, err := scanAlert(s.pool.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM impact_alerts WHERE property_id = $1 AND storm_event_id = $2`,
		a.PropertyID, a.StormEventID))
	if err != nil {
		return domain.ImpactAlert{}, false, wrapErr("fetch existing alert", err)
	}
	return existing, false, nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (domain.ImpactAlert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM impact_alerts WHERE id = $1`, id))
	if err != nil {
		return domain.ImpactAlert{}, wrapErr("get alert "+id, err)
	}
	return a, nil
}

func (s *Store) RecordDelivery(ctx context.Context, alertID string, result domain.DeliveryResult) (domain.ImpactAlert, error) {
	return s.update(ctx, alertID, func(a *domain.ImpactAlert) { a.ApplyDelivery(result) })
}

func (s *Store) UpdateStatus(ctx context.Context, alertID string, change domain.StatusChange) (domain.ImpactAlert, error) {
	if err := change.Validate(); err != nil {
		return domain.ImpactAlert{}, err
	}
	return s.update(ctx, alertID, func(a *domain.ImpactAlert) { a.ApplyStatus(change) })
}

func (s *Store) Dismiss(ctx context.Context, alertID string, at time.Time) (domain.ImpactAlert, error) {
	return s.update(ctx, alertID, func(a *domain.ImpactAlert) {
		if a.DismissedAt == nil {
			t := at
			a.DismissedAt = &t
			a.UpdatedAt = at
		}
	})
}

// update applies fn to the locked row and writes the mutable columns back in
// one transaction.
func (s *Store) update(ctx context.Context, alertID string, fn func(*domain.ImpactAlert)) (domain.ImpactAlert, error) {
	var out domain.ImpactAlert
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		a, err := scanAlert(tx.QueryRow(ctx,
			`SELECT `+alertColumns+` FROM impact_alerts WHERE id = $1 FOR UPDATE`, alertID))
		if err != nil {
			return err
		}
		fn(&a)
		_, err = tx.Exec(ctx, `
			UPDATE impact_alerts SET
				status = $2, sms = $3, email = $4, push = $5, outcome = $6,
				converted_job_id = $7, conversion_date = $8, dismissed_at = $9, updated_at = $10
			WHERE id = $1`,
			a.ID, a.Status, a.SMS, a.Email, a.Push, a.Outcome,
			a.ConvertedJobID, a.ConversionDate, a.DismissedAt, a.UpdatedAt,
		)
		out = a
		return err
	})
	if err != nil {
		return domain.ImpactAlert{}, wrapErr("update alert "+alertID, err)
	}
	return out, nil
}

func (s *Store) PendingAlerts(ctx context.Context, repID string) ([]domain.ImpactAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM impact_alerts
		WHERE rep_id = $1
		  AND outcome = 'pending'
		  AND dismissed_at IS NULL
		  AND status NOT IN ('converted', 'not_pursued')
		ORDER BY created_at DESC`, repID)
	if err != nil {
		return nil, wrapErr("query pending alerts", err)
	}
	alerts, err := collectAlerts(rows)
	if err != nil {
		return nil, wrapErr("scan pending alerts", err)
	}
	return alerts, nil
}

func (s *Store) AlertsSince(ctx context.Context, repID string, since time.Time) ([]domain.ImpactAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM impact_alerts
		WHERE rep_id = $1 AND created_at >= $2
		ORDER BY created_at DESC`, repID, since)
	if err != nil {
		return nil, wrapErr("query alerts since", err)
	}
	alerts, err := collectAlerts(rows)
	if err != nil {
		return nil, wrapErr("scan alerts since", err)
	}
	return alerts, nil
}

// --- runs ---

func (s *Store) StartRun(ctx context.Context, run domain.MonitoringRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO monitoring_runs (id, started_at) VALUES ($1, $2)`, run.ID, run.StartedAt)
	return wrapErr("start run "+run.ID, err)
}

func (s *Store) FinishRun(ctx context.Context, run domain.MonitoringRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE monitoring_runs SET
			finished_at = $2,
			events_processed = $3,
			events_rejected = $4,
			properties_checked = $5,
			alerts_generated = $6,
			sent = $7,
			failed = $8,
			skipped = $9,
			error = $10
		WHERE id = $1`,
		run.ID, run.FinishedAt, run.EventsProcessed, run.EventsRejected, run.PropertiesChecked,
		run.AlertsGenerated, run.Sent, run.Failed, run.Skipped, run.Error,
	)
	if err != nil {
		return wrapErr("finish run "+run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

// GetRun returns a run record by id.
func (s *Store) GetRun(ctx context.Context, id string) (domain.MonitoringRun, error) {
	var r domain.MonitoringRun
	err := s.pool.QueryRow(ctx, `
		SELECT id, started_at, finished_at, events_processed, events_rejected, properties_checked,
			alerts_generated, sent, failed, skipped, error
		FROM monitoring_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.EventsProcessed, &r.EventsRejected, &r.PropertiesChecked,
		&r.AlertsGenerated, &r.Sent, &r.Failed, &r.Skipped, &r.Error)
	if err != nil {
		return domain.MonitoringRun{}, wrapErr("get run "+id, err)
	}
	return r, nil
}
