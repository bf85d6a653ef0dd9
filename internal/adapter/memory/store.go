// Package memory provides an in-process implementation of the property,
// alert, run and rep stores for tests and local runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
)

type alertKey struct {
	propertyID string
	eventID    string
}

// Store is a mutex-guarded in-memory store. The zero value is not usable; call New.
type Store struct {
	mu         sync.Mutex
	properties map[string]domain.CustomerProperty
	reps       map[string]domain.RepContact
	alerts     map[string]domain.ImpactAlert
	alertKeys  map[alertKey]string
	runs       []domain.MonitoringRun
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		properties: make(map[string]domain.CustomerProperty),
		reps:       make(map[string]domain.RepContact),
		alerts:     make(map[string]domain.ImpactAlert),
		alertKeys:  make(map[alertKey]string),
	}
}

// PutProperty inserts or replaces a property.
func (s *Store) PutProperty(p domain.CustomerProperty) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[p.ID] = p
}

// PutRep inserts or replaces a rep's contact details.
func (s *Store) PutRep(r domain.RepContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reps[r.RepID] = r
}

func (s *Store) PropertiesNear(_ context.Context, hazard domain.Hazard, at domain.Geo) ([]domain.CustomerProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.CustomerProperty
	for _, p := range s.properties {
		if !p.Notifiable() || !p.OptedInto(hazard) {
			continue
		}
		if domain.BoxAround(p.Geo, p.NotifyRadiusMiles).Contains(at) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProperty(_ context.Context, id string) (domain.CustomerProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[id]
	if !ok {
		return domain.CustomerProperty{}, fmt.Errorf("property %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *Store) RepContact(_ context.Context, repID string) (domain.RepContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reps[repID]
	if !ok {
		return domain.RepContact{}, fmt.Errorf("rep %s: %w", repID, domain.ErrNotFound)
	}
	return r, nil
}

func (s *Store) CreateAlertIfAbsent(_ context.Context, alert domain.ImpactAlert) (domain.ImpactAlert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := alertKey{propertyID: alert.PropertyID, eventID: alert.StormEventID}
	if id, ok := s.alertKeys[key]; ok {
		return s.alerts[id], false, nil
	}
	s.alertKeys[key] = alert.ID
	s.alerts[alert.ID] = alert
	return alert, true, nil
}

func (s *Store) GetAlert(_ context.Context, id string) (domain.ImpactAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return domain.ImpactAlert{}, fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (s *Store) RecordDelivery(_ context.Context, alertID string, result domain.DeliveryResult) (domain.ImpactAlert, error) {
	return s.update(alertID, func(a *domain.ImpactAlert) { a.ApplyDelivery(result) })
}

func (s *Store) UpdateStatus(_ context.Context, alertID string, change domain.StatusChange) (domain.ImpactAlert, error) {
	if err := change.Validate(); err != nil {
		return domain.ImpactAlert{}, err
	}
	return s.update(alertID, func(a *domain.ImpactAlert) { a.ApplyStatus(change) })
}

func (s *Store) Dismiss(_ context.Context, alertID string, at time.Time) (domain.ImpactAlert, error) {
	return s.update(alertID, func(a *domain.ImpactAlert) {
		if a.DismissedAt == nil {
			a.DismissedAt = &at
		}
		a.UpdatedAt = at
	})
}

func (s *Store) update(alertID string, fn func(*domain.ImpactAlert)) (domain.ImpactAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return domain.ImpactAlert{}, fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
	}
	fn(&a)
	s.alerts[alertID] = a
	return a, nil
}

func (s *Store) PendingAlerts(_ context.Context, repID string) ([]domain.ImpactAlert, error) {
	return s.filterAlerts(func(a domain.ImpactAlert) bool {
		return a.RepID == repID && a.Outcome == domain.OutcomePending &&
			a.DismissedAt == nil && !a.Status.Terminal()
	}), nil
}

func (s *Store) AlertsSince(_ context.Context, repID string, since time.Time) ([]domain.ImpactAlert, error) {
	return s.filterAlerts(func(a domain.ImpactAlert) bool {
		return a.RepID == repID && !a.CreatedAt.Before(since)
	}), nil
}

// Alerts returns every stored alert, oldest first.
func (s *Store) Alerts() []domain.ImpactAlert {
	return s.filterAlerts(func(domain.ImpactAlert) bool { return true })
}

func (s *Store) filterAlerts(keep func(domain.ImpactAlert) bool) []domain.ImpactAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ImpactAlert
	for _, a := range s.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) StartRun(_ context.Context, run domain.MonitoringRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) FinishRun(_ context.Context, run domain.MonitoringRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
}

// Runs returns the run log in start order.
func (s *Store) Runs() []domain.MonitoringRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MonitoringRun(nil), s.runs...)
}
