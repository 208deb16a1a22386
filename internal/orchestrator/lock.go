package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/admesh/salesagent/internal/errs"
)

// keyedMutex serializes operations per media buy. Acquisition is bounded:
// waiting longer than the timeout surfaces a conflict instead of queueing
// callers indefinitely behind a slow adapter call.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]chan struct{}{}}
}

func (k *keyedMutex) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.locks[key]
	if !ok {
		s = make(chan struct{}, 1)
		k.locks[key] = s
	}
	return s
}

// acquire takes the lock for key, returning an unlock func. It fails with
// conflict after timeout and with the context error on cancellation.
func (k *keyedMutex) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	s := k.slot(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-timer.C:
		return nil, errs.New(errs.KindConflict, "media buy %s is locked by a concurrent operation", key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
