package ratelimit

import (
	"context"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// touchScript: incremento + corrimiento de expiración en un solo round trip.
// Si la key expiró, INCR la recrea en 1 y PTTL previo fue negativo ⇒ el
// contador arranca de cero sin carrera de read-modify-write.
var touchScript = rdb.NewScript(`
local cost = tonumber(ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then ttl = 0 end
local count = redis.call('INCR', KEYS[1])
local newttl = ttl + cost
redis.call('PEXPIRE', KEYS[1], newttl)
return {count, newttl}
`)

// RedisCounterStore respalda los contadores en redis, keyed por
// "<prefix><bucketKey>".
type RedisCounterStore struct {
	Client *rdb.Client
	Prefix string
}

func NewRedisCounterStore(client *rdb.Client, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "rlc:"
	}
	return &RedisCounterStore{Client: client, Prefix: prefix}
}

func (s *RedisCounterStore) Touch(ctx context.Context, counterKey string, cost time.Duration) (int64, time.Duration, error) {
	res, err := touchScript.Run(ctx, s.Client, []string{s.Prefix + counterKey}, cost.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, err
	}
	count, _ := res[0].(int64)
	ttlMs, _ := res[1].(int64)
	return count, time.Duration(ttlMs) * time.Millisecond, nil
}
