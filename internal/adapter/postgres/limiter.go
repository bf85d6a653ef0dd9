package postgres

import (
	"context"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outbound message states.
const (
	messagePending  = "pending"
	messageSent     = "sent"
	messageReleased = "released"
)

// RateLimitStore implements ratelimit.Store on the outbound_messages log.
// Claims for one pair are serialized with a transaction-scoped advisory lock.
type RateLimitStore struct {
	pool *pgxpool.Pool
}

// NewRateLimitStore creates a RateLimitStore.
func NewRateLimitStore(pool *pgxpool.Pool) *RateLimitStore {
	return &RateLimitStore{pool: pool}
}

func lockKey(key ratelimit.Key) string {
	return key.Phone + "|" + key.PropertyID
}

func (s *RateLimitStore) Claim(ctx context.Context, key ratelimit.Key, alertID string, now, since time.Time) (string, bool, error) {
	var token string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(key)); err != nil {
			return err
		}

		var live int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM outbound_messages
			WHERE phone = $1 AND property_id = $2
			  AND ((status = 'sent' AND sent_at >= $3) OR (status = 'pending' AND created_at >= $3))`,
			key.Phone, key.PropertyID, since,
		).Scan(&live)
		if err != nil {
			return err
		}
		if live > 0 {
			return nil
		}

		id := uuid.NewString()
		_, err = tx.Exec(ctx, `
			INSERT INTO outbound_messages (id, alert_id, phone, property_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, alertID, key.Phone, key.PropertyID, messagePending, now,
		)
		if err != nil {
			return err
		}
		token = id
		return nil
	})
	if err != nil {
		return "", false, wrapErr("claim send", err)
	}
	return token, token != "", nil
}

func (s *RateLimitStore) Confirm(ctx context.Context, _ ratelimit.Key, token, providerMessageID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbound_messages SET status = $2, provider_message_id = $3, sent_at = $4
		WHERE id = $1`,
		token, messageSent, providerMessageID, at,
	)
	return wrapErr("confirm send", err)
}

func (s *RateLimitStore) Release(ctx context.Context, _ ratelimit.Key, token string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbound_messages SET status = $2
		WHERE id = $1 AND status = $3`,
		token, messageReleased, messagePending,
	)
	return wrapErr("release send", err)
}

func (s *RateLimitStore) CountSent(ctx context.Context, key ratelimit.Key, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbound_messages
		WHERE phone = $1 AND property_id = $2 AND status = $3 AND sent_at >= $4`,
		key.Phone, key.PropertyID, messageSent, since,
	).Scan(&n)
	if err != nil {
		return 0, wrapErr("count sends", err)
	}
	return n, nil
}
