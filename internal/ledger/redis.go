package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
)

const defaultRedisPrefix = "balancecore:ledger:v1:"

// commitScript journals an entry and sets every final balance atomically.
// KEYS[1] reference key, KEYS[2] entry key, KEYS[3..] balance keys.
// ARGV[1] "1" when the reference must be unique, ARGV[2] transfer id,
// ARGV[3] entry JSON, ARGV[4..] final balances matching KEYS[3..].
var commitScript = redis.NewScript(`
if ARGV[1] == "1" and redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
for i = 3, #KEYS do
  redis.call("SET", KEYS[i], ARGV[i + 1])
end
redis.call("SET", KEYS[2], ARGV[3])
if ARGV[1] == "1" then
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// RedisStore keeps each balance as a decimal string and each journal entry as
// JSON. Commit relies on the caller holding locks for every key it writes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a ledger store over client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) balanceKey(k balance.Key) string { return s.prefix + "bal:" + k.ID() }

func (s *RedisStore) entryKey(id string) string { return s.prefix + "tx:" + id }

func (s *RedisStore) refKey(kind, reference string) string {
	return s.prefix + "ref:" + kind + ":" + reference
}

func (s *RedisStore) Balances(ctx context.Context, keys []balance.Key) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.balanceKey(k)
	}
	values, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		out[k.ID()] = decimal.Zero
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		out[k.ID()] = amount
	}
	return out, nil
}

func (s *RedisStore) EntryByReference(ctx context.Context, kind, reference string) (Entry, bool, error) {
	id, err := s.client.Get(ctx, s.refKey(kind, reference)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	raw, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if err != nil {
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (s *RedisStore) Commit(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	unique := "0"
	if entry.Reference != "" {
		unique = "1"
	}
	finals := entry.finals()
	keys := make([]string, 0, len(finals)+2)
	keys = append(keys, s.refKey(entry.Kind, entry.Reference), s.entryKey(entry.TransferID))
	args := make([]interface{}, 0, len(finals)+3)
	args = append(args, unique, entry.TransferID, payload)
	for _, f := range finals {
		keys = append(keys, s.balanceKey(f.key))
		args = append(args, f.value.String())
	}

	ok, err := commitScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrDuplicateTransfer
	}
	return nil
}
