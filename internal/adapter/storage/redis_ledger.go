package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	settlementKeyPrefix = "settlement:"
	pendingClaimPrefix  = "pending:"
	claimDone           = "done"

	// pending claims outlive any single settlement attempt but not the ledger ttl
	maxPendingTTL = 10 * time.Minute
)

// claimScript returns 0 when the key was claimed, 1 when pending, 2 when done.
var claimScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 0
end
if current == ARGV[3] then
	return 2
end
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLedger shares settlement claims across every server instance.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func (r *RedisLedger) Claim(ctx context.Context, key, token string) (domain.ClaimState, error) {
	res, err := claimScript.Run(ctx, r.client, []string{settlementKeyPrefix + key},
		pendingClaimPrefix+token, pendingTTL(r.ttl).Milliseconds(), claimDone,
	).Int()
	if err != nil {
		return domain.ClaimPending, err
	}

	switch res {
	case 0:
		return domain.ClaimAcquired, nil
	case 2:
		return domain.ClaimDone, nil
	default:
		return domain.ClaimPending, nil
	}
}

func (r *RedisLedger) Complete(ctx context.Context, key string) error {
	return r.client.Set(ctx, settlementKeyPrefix+key, claimDone, r.ttl).Err()
}

func (r *RedisLedger) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.client, []string{settlementKeyPrefix + key}, pendingClaimPrefix+token).Err()
}

func pendingTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > maxPendingTTL {
		return maxPendingTTL
	}
	return ttl
}
