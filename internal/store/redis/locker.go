package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const lockKeyPrefix = "meanrev:lock:"

// releaseScript deletes the lock only if the caller still owns it, so a
// release that arrives after the TTL expired cannot free another replica's
// lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a per-symbol distributed lock on SET NX PX. The TTL bounds how
// long a crashed holder can block other replicas; the token guards against
// releasing a lock that has since changed hands.
type Locker struct {
	client *goredis.Client
}

// NewLocker wraps a connected client.
func NewLocker(client *goredis.Client) *Locker {
	return &Locker{client: client}
}

// TryLock attempts to acquire the symbol lock without blocking. On success
// it returns a release func; ok reports whether the lock was won.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	full := lockKeyPrefix + key

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Best effort with its own deadline: the caller's ctx is often
		// already done when the deferred release runs.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{full}, token).Err(); err != nil && err != goredis.Nil {
			log.Printf("[redis] lock release %s: %v", key, err)
		}
	}
	return release, true, nil
}
