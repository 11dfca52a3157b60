package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
	"github.com/rs/zerolog/log"
)

// tryLock takes a lock once. A nil lock with a nil error means another
// worker holds it.
func (e *Engine) tryLock(ctx context.Context, key string, ttl time.Duration) (*statestore.Lock, error) {
	lock, err := e.locks.TryAcquire(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return lock, nil
}

// acquireWithRetry waits up to the poll timeout for a contended lock and
// reports ErrBusy if it never frees up.
func (e *Engine) acquireWithRetry(ctx context.Context, key string, ttl time.Duration) (*statestore.Lock, error) {
	ticker := e.pollClock.NewTicker(e.cfg.ResultsPollInterval)
	defer ticker.Stop()
	deadline := e.pollClock.After(e.cfg.ResultsPollTimeout)

	for {
		lock, err := e.tryLock(ctx, key, ttl)
		if err != nil || lock != nil {
			return lock, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrBusy
		case <-ticker.Chan():
		}
	}
}

// release drops a lock, logging failures. An unreleased lock expires on its own.
func (e *Engine) release(lock *statestore.Lock) {
	if lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		log.Warn().Err(err).Str("lock", lock.Key()).Msg("failed to release lock")
	}
}
