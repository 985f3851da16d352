package scheduler

import (
	"context"
	"fmt"
	"time"

	"podpiska-billing/internal/common/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease elects the replica that runs a cycle. release is non-nil only when
// acquired is true.
type Lease interface {
	Acquire(ctx context.Context) (release func(), acquired bool, err error)
}

// LocalLease always succeeds. It serves single-replica deployments.
type LocalLease struct{}

func (LocalLease) Acquire(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lease taken over by another replica is never released by us.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLease is a SET NX PX lock with token-checked release.
type RedisLease struct {
	client   redis.Cmdable
	key      string
	ttl      time.Duration
	newToken func() string
	logger   logger.Logger
}

func NewRedisLease(client redis.Cmdable, key string, ttl time.Duration, log logger.Logger) *RedisLease {
	return &RedisLease{
		client:   client,
		key:      key,
		ttl:      ttl,
		newToken: uuid.NewString,
		logger:   log.WithFields(map[string]interface{}{"component": "lease", "key": key}),
	}
}

func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Released after the cycle even if the caller's context is done.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		deleted, err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Int64()
		if err != nil {
			l.logger.Error("failed to release lease; held until ttl", map[string]interface{}{
				"ttl":   l.ttl.String(),
				"error": err.Error(),
			})
			return
		}
		if deleted == 0 {
			l.logger.Warn("lease expired before release", map[string]interface{}{"ttl": l.ttl.String()})
		}
	}
	return release, true, nil
}
