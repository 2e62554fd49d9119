package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/redis"
)

// Locker serializes work on one key across concurrent requests. The
// returned unlock func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryLocker serializes within a single process. A waiter gives up with
// ErrLockTimeout after wait, or when its context ends.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
	wait  time.Duration
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker returns a MemoryLocker. A non-positive wait means
// waiters are bounded only by their context.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock), wait: wait}
}

func (m *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	var timeout <-chan time.Time
	if m.wait > 0 {
		timer := time.NewTimer(m.wait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, kl, false)
		return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
	case <-timeout:
		m.release(key, kl, false)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
	var once sync.Once
	return func() { once.Do(func() { m.release(key, kl, true) }) }, nil
}

func (m *MemoryLocker) release(key string, kl *keyLock, held bool) {
	if held {
		<-kl.ch
	}
	m.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

// ErrLockTimeout is returned when a distributed lock could not be taken
// within the configured wait.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// LockStore is the token-guarded key store behind RedisLocker. *redis.Client
// implements it.
type LockStore interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) error
	Unlock(ctx context.Context, key, token string) error
}

// RedisLocker serializes across relay replicas with SET NX PX. The TTL is
// renewed every ttl/3 while the lock is held, so a holder that dies releases
// the key within one TTL and a slow holder keeps it.
type RedisLocker struct {
	client LockStore
	prefix string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger *slog.Logger
}

func NewRedisLocker(client LockStore, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: "lead-relay:lock:",
		ttl:    ttl,
		wait:   wait,
		poll:   100 * time.Millisecond,
		logger: slog.Default().With("component", "redis-locker"),
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)
	for {
		ok, err := r.client.TryLock(ctx, fullKey, token, r.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		timer := time.NewTimer(r.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
	stop := make(chan struct{})
	renewed := make(chan struct{})
	go r.renew(fullKey, token, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Unlock(releaseCtx, fullKey, token); err != nil {
				r.logger.Warn("lock release failed", "key", key, "error", err)
			}
		})
	}, nil
}

// renew extends the lock until stop is closed or the lock is lost.
func (r *RedisLocker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			err := r.client.Extend(ctx, key, token, r.ttl)
			cancel()
			if err != nil {
				r.logger.Warn("lock renewal failed", "key", key, "error", err)
				if errors.Is(err, redis.ErrLockNotHeld) {
					return
				}
			}
		}
	}
}
