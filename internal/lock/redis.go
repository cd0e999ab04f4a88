package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "balancecore:lock:v1:"

// KEYS[1]: lock key, KEYS[2]: lock id index
// ARGV[1]: lock id, ARGV[2]: lock key (stored in the index), ARGV[3]: ttl ms
var acquireScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[3]) then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
  return 1
end
return 0
`)

// KEYS[1]: lock key, KEYS[2]: lock id index
// ARGV[1]: lock id
var releaseScript = redis.NewScript(`
local deleted = 0
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  deleted = 1
end
redis.call("DEL", KEYS[2])
return deleted
`)

// KEYS[1]: lock key, KEYS[2]: lock id index
// ARGV[1]: lock id, ARGV[2]: ttl ms
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  redis.call("PEXPIRE", KEYS[2], ARGV[2])
  return 1
end
return 0
`)

// RedisStore keeps locks as Redis strings with a PX expiry, so expiry is
// enforced by the server clock and abandoned locks vanish without a sweep.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a lock store over client. An empty prefix selects the
// default namespace.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) lockKey(keyID string) string { return s.prefix + "key:" + keyID }
func (s *RedisStore) indexKey(lockID string) string { return s.prefix + "id:" + lockID }

func (s *RedisStore) Insert(ctx context.Context, l Lock, now time.Time) (bool, error) {
	lockKey := s.lockKey(l.Key.ID())
	res, err := acquireScript.Run(ctx, s.client,
		[]string{lockKey, s.indexKey(l.ID)},
		l.ID, lockKey, ttlMillis(l.ExpiresAt, now),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, lockID string) (bool, error) {
	indexKey := s.indexKey(lockID)
	lockKey, err := s.client.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	res, err := releaseScript.Run(ctx, s.client, []string{lockKey, indexKey}, lockID).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) Extend(ctx context.Context, lockID string, expiresAt, now time.Time) (bool, error) {
	indexKey := s.indexKey(lockID)
	lockKey, err := s.client.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	res, err := extendScript.Run(ctx, s.client, []string{lockKey, indexKey}, lockID, ttlMillis(expiresAt, now)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// DeleteExpired is a no-op: Redis evicts expired lock keys itself.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func ttlMillis(expiresAt, now time.Time) int64 {
	ms := expiresAt.Sub(now).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}
