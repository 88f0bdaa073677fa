package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bsm/redislock"
)

type stubLock struct {
	mu        sync.Mutex
	refreshes int
	releases  int
	released  bool
	late      bool
}

func (s *stubLock) Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		s.late = true
	}
	s.refreshes++
	return nil
}

func (s *stubLock) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.releases++
	return nil
}

func (s *stubLock) counts() (int, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes, s.releases, s.late
}

func TestRedisLockerRefreshesUntilReleased(t *testing.T) {
	held := &stubLock{}
	locker := newRedisLocker(func(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (lockHandle, error) {
		return held, nil
	}, 30*time.Millisecond, time.Second)

	unlock, err := locker.Lock(context.Background(), "menu-resolver:brain", "lock_test.go", "TestRedisLockerRefreshesUntilReleased")
	if err != nil {
		t.Fatal(err)
	}
	// Hold for several ttls, as a long rebuild would.
	time.Sleep(150 * time.Millisecond)
	unlock()
	unlock()

	refreshes, releases, late := held.counts()
	if refreshes < 2 {
		t.Fatalf("lock held past its ttl was refreshed %d times", refreshes)
	}
	if releases != 1 || late {
		t.Fatalf("releases=%d refreshAfterRelease=%v", releases, late)
	}

	time.Sleep(50 * time.Millisecond)
	if after, _, _ := held.counts(); after != refreshes {
		t.Fatalf("refresh continued after release: %d -> %d", refreshes, after)
	}
}

func TestRedisLockerNotObtained(t *testing.T) {
	locker := newRedisLocker(func(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (lockHandle, error) {
		return nil, redislock.ErrNotObtained
	}, time.Second, time.Second)

	if _, err := locker.Lock(context.Background(), "k", "lock_test.go", "TestRedisLockerNotObtained"); !errors.Is(err, ErrLockNotObtained) {
		t.Fatalf("expected ErrLockNotObtained, got %v", err)
	}
	if _, err := NewRedisLocker(nil, 0, 0).Lock(context.Background(), "k", "lock_test.go", "TestRedisLockerNotObtained"); err == nil {
		t.Fatalf("locker without a client should refuse")
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("item:1")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("%d holders of one key at once", maxSeen)
	}
	if len(k.locks) != 0 {
		t.Fatalf("entries leaked: %d", len(k.locks))
	}
}
