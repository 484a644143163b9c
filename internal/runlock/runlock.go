// Package runlock provides the external mutual-exclusion fence the core logic
// assumes: the pipeline and delivery binaries are single-writer per store, so
// overlapping scheduled invocations take a Redis lock before touching it.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired means another invocation currently holds the lock.
var ErrNotAcquired = errors.New("run lock held by another invocation")

// Lock is a single-key advisory lock with a TTL guarding against crashed
// holders.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// New builds a lock on the given key. TTL must exceed the longest expected
// run; an expired lock is treated as abandoned.
func New(client *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire takes the lock or returns ErrNotAcquired if a live holder exists.
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return ErrNotAcquired
	}
	return nil
}

// Release frees the lock if this instance still holds it. Releasing a lock
// that expired and was re-acquired elsewhere is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return nil // not ours anymore
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
