// Package lock provides per-canvas mutual exclusion for state commits.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTooFrequent indicates that the lock stayed contended through the
// whole retry budget.
var ErrTooFrequent = errors.New("lock: operation too frequent")

// Provider is a distributed mutual-exclusion primitive keyed by string.
// Acquire is non-blocking: a held key reports ok=false immediately instead
// of waiting.
type Provider interface {
	Acquire(ctx context.Context, key string) (handle *Handle, ok bool, err error)
}

// Handle releases one held lock. Release is idempotent; only the first
// call reaches the provider.
type Handle struct {
	once    sync.Once
	release func(ctx context.Context) error
}

func NewHandle(release func(ctx context.Context) error) *Handle {
	return &Handle{release: release}
}

func (h *Handle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		err = h.release(ctx)
	})
	return err
}

// Locker wraps a Provider with bounded exponential backoff: one immediate
// attempt, then up to maxRetries retries sleeping initialDelay, doubling
// each time. Defaults (3 retries, 100ms) give up after roughly 700ms of
// sustained contention.
type Locker struct {
	provider     Provider
	maxRetries   int
	initialDelay time.Duration
	logger       *zap.Logger
}

func NewLocker(provider Provider, maxRetries int, initialDelay time.Duration, logger *zap.Logger) *Locker {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initialDelay <= 0 {
		initialDelay = 100 * time.Millisecond
	}
	return &Locker{
		provider:     provider,
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		logger:       logger,
	}
}

// Lock acquires the key or fails with ErrTooFrequent once the retry
// budget is exhausted. Backoff sleeps respect ctx cancellation.
func (l *Locker) Lock(ctx context.Context, key string) (*Handle, error) {
	delay := l.initialDelay
	for attempt := 0; ; attempt++ {
		handle, ok, err := l.provider.Acquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return handle, nil
		}
		if attempt >= l.maxRetries {
			return nil, fmt.Errorf("%w: key %s still held after %d attempts", ErrTooFrequent, key, attempt+1)
		}
		l.logger.Debug("lock contended, backing off",
			zap.String("key", key),
			zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
