// Package lock serializes work on a key across requests and, with Redis,
// across processes.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

var ErrNotObtained = errors.New("lock not obtained")

type Lock interface {
	Release(ctx context.Context) error
}

type Locker interface {
	// Obtain waits up to wait for key, holding it for at most ttl.
	Obtain(ctx context.Context, key string, ttl time.Duration, wait time.Duration) (Lock, error)
}

type RedisLocker struct {
	client *redislock.Client
}

func NewRedis(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration, wait time.Duration) (Lock, error) {
	opts := &redislock.Options{}
	if wait > 0 {
		backoff := 50 * time.Millisecond
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(backoff), int(wait/backoff))
	}
	lk, err := l.client.Obtain(ctx, key, ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lk, nil
}

// LocalLocker is an in-process Locker for single-instance deployments and
// tests. ttl is not enforced; holders must release.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Obtain(ctx context.Context, key string, _ time.Duration, wait time.Duration) (Lock, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return localLock{ch: ch}, nil
	default:
	}
	if wait <= 0 {
		return nil, ErrNotObtained
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return localLock{ch: ch}, nil
	case <-timer.C:
		return nil, ErrNotObtained
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localLock struct {
	ch chan struct{}
}

func (l localLock) Release(_ context.Context) error {
	select {
	case <-l.ch:
	default:
	}
	return nil
}
