// Package lease provides short-lived exclusive leases keyed by resource name.
// A lease serializes work on one resource (an undo of one audit entry, the
// restore of one cascade batch) across goroutines and processes.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = errors.New("lease is held by another holder")

const DefaultTTL = 30 * time.Second

// Locker hands out leases. The returned release func is safe to call more
// than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is an in-process Locker. Expired leases are reclaimed on the
// next Acquire of the same key.
type LocalLocker struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	held map[string]localLease
	seq  uint64
}

type localLease struct {
	token   uint64
	expires time.Time
}

func NewLocalLocker(ttl time.Duration) *LocalLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LocalLocker{ttl: ttl, now: time.Now, held: map[string]localLease{}}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrHeld
	}
	l.seq++
	token := l.seq
	l.held[key] = localLease{token: token, expires: now.Add(l.ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.token == token {
				delete(l.held, key)
			}
		})
	}, nil
}
