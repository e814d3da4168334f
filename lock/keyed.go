/*
Package lock provides per-key mutual exclusion with bounded waits.

IMPLEMENTATIONS:
  Keyed: in-process, one slot per key, for single-instance deployments
  Redis: SET NX PX with a random token, for multi-instance deployments

Both return an unlock func that is safe to call more than once. A wait that
exceeds the configured timeout returns ErrTimeout; a cancelled context
returns ctx.Err().
*/
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout means the key stayed held for longer than the wait bound.
var ErrTimeout = errors.New("lock wait timed out")

// =============================================================================
// KEYED - in-process keyed semaphore
// =============================================================================

// Keyed hands out one exclusive slot per key. Slots are reference counted
// and dropped once nobody holds or waits on them.
type Keyed struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyed creates a Keyed lock. timeout <= 0 waits until ctx is done.
func NewKeyed(timeout time.Duration) *Keyed {
	return &Keyed{
		timeout: timeout,
		slots:   make(map[string]*slot),
	}
}

// Lock blocks until key is free, the timeout elapses, or ctx is done.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	s := k.acquireSlot(key)

	var expired <-chan time.Time
	if k.timeout > 0 {
		timer := time.NewTimer(k.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				k.releaseSlot(key, s)
			})
		}, nil
	case <-ctx.Done():
		k.releaseSlot(key, s)
		return nil, ctx.Err()
	case <-expired:
		k.releaseSlot(key, s)
		return nil, ErrTimeout
	}
}

// Held returns the number of keys currently held or waited on.
func (k *Keyed) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

func (k *Keyed) acquireSlot(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *Keyed) releaseSlot(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}
