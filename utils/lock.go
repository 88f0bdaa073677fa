package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/menu_backend/config"
)

var ErrLockNotObtained = errors.New("could not obtain lock")

// Locker hands out exclusive locks; the returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string, moduleName string, functionName string) (func(), error)
}

// lockHandle is the part of *redislock.Lock the locker needs.
type lockHandle interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
	Release(ctx context.Context) error
}

type obtainFunc func(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (lockHandle, error)

// RedisLocker is a cross-process lock backed by bsm/redislock. A held lock is
// refreshed every ttl/3 until it is released, so long actions such as a
// catalog rebuild keep it past the initial ttl.
type RedisLocker struct {
	obtain obtainFunc
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration, wait time.Duration) *RedisLocker {
	var obtain obtainFunc
	if client != nil {
		obtain = func(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (lockHandle, error) {
			lock, err := client.Obtain(ctx, key, ttl, opt)
			if err != nil {
				return nil, err
			}
			return lock, nil
		}
	}
	return newRedisLocker(obtain, ttl, wait)
}

func newRedisLocker(obtain obtainFunc, ttl time.Duration, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &RedisLocker{obtain: obtain, ttl: ttl, wait: wait}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	if l.obtain == nil {
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", key, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	backoff := 250 * time.Millisecond
	retry := redislock.LimitRetry(redislock.LinearBackoff(backoff), int(l.wait/backoff))
	lock, err := l.obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock", key, err)
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock", key, err)
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lock, key, moduleName, functionName, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release with a fresh context; the caller's may already be cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				config.LogError(logger, moduleName, functionName, "Error releasing lock", key, err)
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(lock lockHandle, key string, moduleName string, functionName string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := lock.Refresh(rctx, l.ttl, nil)
			cancel()
			if errors.Is(err, redislock.ErrNotObtained) {
				config.LogError(config.GetLogger(), moduleName, functionName, "Lock lost before release", key, err)
				return
			}
			if err != nil {
				config.LogError(config.GetLogger(), moduleName, functionName, "Error refreshing lock", key, err)
			}
		}
	}
}

// LocalLocker is the in-process fallback used when Redis is not configured.
type LocalLocker struct {
	keys *KeyedMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: NewKeyedMutex()}
}

func (l *LocalLocker) Lock(ctx context.Context, key string, moduleName string, functionName string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.keys.Lock(key), nil
}

// KeyedMutex serializes work per key. Entries are reference counted and
// dropped when the last holder unlocks.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*keyedEntry{}}
}

func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
