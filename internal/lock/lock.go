// Package lock provides the mutual exclusion that keeps two daily passes
// from running at the same time.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/inboxpilot/usagecap/internal/errors"
)

// ReleaseFunc releases a held lock.
type ReleaseFunc func(ctx context.Context) error

// Locker acquires named locks. Acquire returns *errors.ErrPassLocked when
// the lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// LocalLocker holds locks in process memory. Expired locks may be taken over.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

// NewLocalLocker creates a process-local locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:  make(map[string]time.Time),
		nowFn: time.Now,
	}
}

// Acquire takes key for at most ttl. A zero ttl never expires.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if expires, ok := l.held[key]; ok && (expires.IsZero() || now.Before(expires)) {
		return nil, &errors.ErrPassLocked{Key: key}
	}

	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	l.held[key] = expires

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == expires {
				delete(l.held, key)
			}
		})
		return nil
	}, nil
}

var _ Locker = (*LocalLocker)(nil)
