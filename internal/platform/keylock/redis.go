package keylock

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	dErrors "organlink/pkg/domain-errors"
)

const (
	defaultLease       = 10 * time.Second
	defaultAcquireWait = 50 * time.Millisecond
)

// RedisLocker serializes keys across replicas with a SET NX lease. The
// lease bounds how long a crashed holder can block other replicas; lock
// bodies are short store transactions, well under the lease.
type RedisLocker struct {
	client *goredis.Client
	lease  time.Duration
}

func NewRedisLocker(client *goredis.Client) *RedisLocker {
	return &RedisLocker{client: client, lease: defaultLease}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := "organlink:lock:" + key

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.lease).Result()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "acquire lock")
		case <-time.After(defaultAcquireWait):
		}
	}

	unlock := func() {
		// Release only if we still hold the lease; a stale delete after
		// expiry must not drop someone else's lock.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.client.Eval(ctx, script, []string{redisKey}, token).Err()
	}
	return unlock, nil
}
