package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockHeld is returned when another deployment holds the lock.
	// This is a hard failure; there is no waiting or retrying.
	ErrLockHeld = errors.New("deploy lock held by another process")
	// ErrLeaseLost is returned when releasing a lease that expired or was
	// taken over before release
	ErrLeaseLost = errors.New("lease expired before release")
)

// Lease is a held lock. Release must be called exactly once, typically
// deferred right after a successful Acquire.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named mutual-exclusion locks
type Locker interface {
	Acquire(ctx context.Context, name string) (Lease, error)
}

// RedisLocker implements Locker on a Redis coordination store using the
// redsync mutex. The lock auto-expires after the configured TTL, so a
// crashed deployment cannot wedge future runs.
type RedisLocker struct {
	client *redis.Client
	rs     *redsync.Redsync
	ttl    time.Duration
}

// NewRedisLocker connects to the coordination store at redisURL
// (redis://host:port/db) and returns a locker with the given lease TTL
func NewRedisLocker(redisURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid coordination store URL: %w", err)
	}

	client := redis.NewClient(opts)
	return &RedisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
	}, nil
}

// Acquire takes the named lock or fails immediately with ErrLockHeld if
// another process holds it
func (l *RedisLocker) Acquire(ctx context.Context, name string) (Lease, error) {
	mu := l.rs.NewMutex(name,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(1),
	)

	if err := mu.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, fmt.Errorf("lock %q: %w", name, ErrLockHeld)
		}
		return nil, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}

	return &redisLease{mu: mu}, nil
}

// Ping verifies the coordination store is reachable
func (l *RedisLocker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("coordination store unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisLease struct {
	mu *redsync.Mutex
}

// Release gives up the lock. Returns ErrLeaseLost if the lease expired or
// was taken over before release; the caller treats that as a warning, not a
// failure, since the deployment already completed.
func (r *redisLease) Release(ctx context.Context) error {
	ok, err := r.mu.UnlockContext(ctx)
	if errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return ErrLeaseLost
	}
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}
