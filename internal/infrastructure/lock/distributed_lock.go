package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Per-user locks
// ============================================================================
//
// The record store has no multi-key transactions, so a wallet or quota
// mutation is a read-check-write sequence. Two concurrent transfers from the
// same sender could both read balance=100 and both debit 100:
//
//   g1: read 100 -> debit 100 -> write 0
//   g2: read 100 -> debit 100 -> write 0     (200 left the wallet)
//
// With a per-user lock around the sequence:
//
//   g1: lock -> read 100 -> write 0 -> unlock
//   g2: lock (waits) -> read 0 -> InsufficientFunds -> unlock
//
// Redis backend:
//   acquire: SET key value NX PX ttl
//     NX   only one holder at a time
//     PX   a crashed holder cannot wedge the key forever
//     value a random UUID, checked on release
//   release: Lua GET+DEL, so a holder whose lock already expired cannot
//     delete the lock someone else now holds
//
// ============================================================================

var ErrLockFailed = errors.New("failed to acquire lock")

// Locker hands out exclusive locks by key. Acquire blocks until the lock is
// held, the context ends, or the backend gives up with ErrLockFailed.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock is one SET NX lock on a single Redis key.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock deletes the key only while it still carries this lock's value.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// RedisLocker implements Locker on top of DistributedLock.
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client, prefix string, ttl, retryInterval time.Duration, maxRetries int) *RedisLocker {
	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l := NewDistributedLock(r.client, r.prefix+":lock:"+key, uuid.NewString(), r.ttl)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return func() {
		// release must not depend on a request context that may be gone
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Unlock(ctx)
	}, nil
}

// AcquireAll locks every distinct key in sorted order, so two callers
// locking the same pair never deadlock. The returned release unlocks in
// reverse order.
func AcquireAll(ctx context.Context, locker Locker, keys ...string) (func(), error) {
	uniq := make(map[string]struct{}, len(keys))
	sorted := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := uniq[k]; ok {
			continue
		}
		uniq[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, k := range sorted {
		release, err := locker.Acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// UserKey is the lock key guarding every record owned by userID.
func UserKey(userID string) string {
	return "user:" + userID
}
