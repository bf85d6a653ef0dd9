// Package ratelimit enforces at most one outbound message per
// (phone, property) pair within a rolling window.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/observability"
	"github.com/jonboulle/clockwork"
)

// DefaultWindow is the rolling window a successful send blocks its pair for.
const DefaultWindow = time.Hour

// Key identifies a rate-limited pair. Phone must already be normalized.
type Key struct {
	Phone      string
	PropertyID string
}

// Store persists send claims. Claim must be atomic: two concurrent callers for
// the same key cannot both be granted while either claim is live.
type Store interface {
	// Claim reserves a send for key unless a pending or confirmed send exists
	// at or after since. The returned token identifies the reservation.
	Claim(ctx context.Context, key Key, alertID string, now, since time.Time) (token string, granted bool, err error)
	// Confirm marks the reservation as a successful send at the given time.
	Confirm(ctx context.Context, key Key, token, providerMessageID string, at time.Time) error
	// Release drops a reservation whose send did not succeed.
	Release(ctx context.Context, key Key, token string) error
	// CountSent counts confirmed sends for key at or after since.
	CountSent(ctx context.Context, key Key, since time.Time) (int, error)
}

// Limiter applies the window policy over a Store. Every store failure fails
// open: the send is allowed and the failure is logged.
type Limiter struct {
	store   Store
	window  time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Limiter. A non-positive window uses DefaultWindow.
func New(store Store, window time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{store: store, window: window, clock: clock, logger: logger, metrics: metrics}
}

// Window returns the configured rolling window.
func (l *Limiter) Window() time.Duration { return l.window }

// IsRateLimited reports whether a successful send to phone for propertyID was
// recorded within the trailing window. Lookup errors return false.
func (l *Limiter) IsRateLimited(ctx context.Context, phone, propertyID string) bool {
	key := Key{Phone: phone, PropertyID: propertyID}
	n, err := l.store.CountSent(ctx, key, l.clock.Now().Add(-l.window))
	if err != nil {
		l.failOpen("rate limit lookup failed, allowing send", key, err)
		return false
	}
	return n > 0
}

// Acquire atomically checks the window and reserves a send. When the pair is
// limited it returns (nil, false). The caller must Confirm or Release the
// returned Permit once the gateway answers.
func (l *Limiter) Acquire(ctx context.Context, phone, propertyID, alertID string) (*Permit, bool) {
	key := Key{Phone: phone, PropertyID: propertyID}
	now := l.clock.Now()
	token, granted, err := l.store.Claim(ctx, key, alertID, now, now.Add(-l.window))
	if err != nil {
		l.failOpen("rate limit claim failed, allowing send", key, err)
		return &Permit{limiter: l, key: key}, true
	}
	if !granted {
		return nil, false
	}
	return &Permit{limiter: l, key: key, token: token}, true
}

func (l *Limiter) failOpen(msg string, key Key, err error) {
	l.logger.Warn(msg, "property_id", key.PropertyID, "error", err)
	if l.metrics != nil {
		l.metrics.RateLimiterErrors.Inc()
	}
}

// Permit is a granted reservation. A Permit from a failed-open claim has no
// token and its methods do nothing.
type Permit struct {
	limiter *Limiter
	key     Key
	token   string
}

// Confirm records the send as successful, starting its window.
func (p *Permit) Confirm(ctx context.Context, providerMessageID string) {
	if p == nil || p.token == "" {
		return
	}
	if err := p.limiter.store.Confirm(ctx, p.key, p.token, providerMessageID, p.limiter.clock.Now()); err != nil {
		p.limiter.logger.Warn("rate limit confirm failed", "property_id", p.key.PropertyID, "error", err)
	}
}

// Release frees the reservation so a later attempt is not blocked by a send
// that never happened.
func (p *Permit) Release(ctx context.Context) {
	if p == nil || p.token == "" {
		return
	}
	if err := p.limiter.store.Release(ctx, p.key, p.token); err != nil {
		p.limiter.logger.Warn("rate limit release failed", "property_id", p.key.PropertyID, "error", err)
	}
}
