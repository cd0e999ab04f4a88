package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "balancecore:rl:v2:"

// pruneScript trims one history and drops it from the index once empty, so a
// concurrent Append cannot be unindexed between the trim and the check.
var pruneScript = redis.NewScript(`
local n = redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if redis.call("ZCARD", KEYS[1]) == 0 then
	redis.call("SREM", KEYS[2], KEYS[1])
end
return n
`)

// RedisStore keeps each (owner, action) history in a sorted set scored by
// milliseconds since epoch, with a set indexing every history key for cleanup.
// Members carry the exact nanosecond timestamp ahead of a random suffix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a record store over client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// historyKey length-prefixes the action so no (owner, action) pair can
// render to another pair's key.
func (s *RedisStore) historyKey(owner, action string) string {
	return s.prefix + "rec:" + strconv.Itoa(len(action)) + ":" + action + ":" + owner
}

func (s *RedisStore) indexKey() string { return s.prefix + "pairs" }

func (s *RedisStore) Latest(ctx context.Context, owner, action string) (Record, bool, error) {
	res, err := s.client.ZRevRangeWithScores(ctx, s.historyKey(owner, action), 0, 0).Result()
	if err != nil {
		return Record{}, false, err
	}
	if len(res) == 0 {
		return Record{}, false, nil
	}
	return Record{Owner: owner, Action: action, At: memberTime(res[0])}, true, nil
}

// memberTime recovers the nanosecond timestamp from the member, falling back
// to the millisecond score for members it cannot parse.
func memberTime(z redis.Z) time.Time {
	if member, ok := z.Member.(string); ok {
		if head, _, found := strings.Cut(member, ":"); found {
			if ns, err := strconv.ParseInt(head, 10, 64); err == nil {
				return time.Unix(0, ns).UTC()
			}
		}
	}
	return time.UnixMilli(int64(z.Score)).UTC()
}

func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	key := s.historyKey(rec.Owner, rec.Action)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// Same-millisecond members tie on score and order by member; the
		// fixed-width nanosecond prefix keeps that order chronological.
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(rec.At.UnixMilli()),
			Member: strconv.FormatInt(rec.At.UnixNano(), 10) + ":" + uuid.NewString(),
		})
		pipe.SAdd(ctx, s.indexKey(), key)
		return nil
	})
	return err
}

func (s *RedisStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, err
	}

	upper := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	removed := 0
	for _, key := range keys {
		n, err := pruneScript.Run(ctx, s.client, []string{key, s.indexKey()}, upper).Int()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}
