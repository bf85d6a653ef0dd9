package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyRateLimitSMS = "ratelimit:sms:"

	pendingPrefix = "p:"
	sentPrefix    = "s:"
)

// confirmScript promotes a pending claim to sent and restarts its TTL at the
// send time.
const confirmScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
end
return 0
`

// releaseScript deletes the key only while it still holds the caller's pending claim.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisStore keeps one key per (phone, property) whose TTL is the window.
// SETNX gives the atomic claim; the since arguments are implied by the TTL.
type RedisStore struct {
	client  *redis.Client
	window  time.Duration
	confirm *redis.Script
	release *redis.Script
}

// NewRedisStore creates a RedisStore whose keys live for window.
func NewRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisStore{
		client:  client,
		window:  window,
		confirm: redis.NewScript(confirmScript),
		release: redis.NewScript(releaseScript),
	}
}

func redisKey(key Key) string {
	return keyRateLimitSMS + key.Phone + ":" + key.PropertyID
}

func (s *RedisStore) Claim(ctx context.Context, key Key, _ string, _, _ time.Time) (string, bool, error) {
	if key.Phone == "" || key.PropertyID == "" {
		return "", false, errors.New("rate limit key is incomplete")
	}
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, redisKey(key), pendingPrefix+token, s.window).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (s *RedisStore) Confirm(ctx context.Context, key Key, token, _ string, _ time.Time) error {
	return s.confirm.Run(ctx, s.client, []string{redisKey(key)},
		pendingPrefix+token, sentPrefix+token, s.window.Milliseconds()).Err()
}

func (s *RedisStore) Release(ctx context.Context, key Key, token string) error {
	if token == "" {
		return nil
	}
	return s.release.Run(ctx, s.client, []string{redisKey(key)}, pendingPrefix+token).Err()
}

func (s *RedisStore) CountSent(ctx context.Context, key Key, _ time.Time) (int, error) {
	v, err := s.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if strings.HasPrefix(v, sentPrefix) {
		return 1, nil
	}
	return 0, nil
}
