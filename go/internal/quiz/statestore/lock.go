package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

const maxLockAttempts = 3

// Locker hands out short-lived exclusive locks stored in a bucket. A lock is
// a key holding its owner and expiry; an expired lock may be stolen with a
// compare-and-swap, so a crashed holder blocks others for at most its TTL.
type Locker struct {
	bucket Bucket
	clock  clockwork.Clock
	owner  string
}

// NewLocker returns a Locker writing to bucket on behalf of owner.
func NewLocker(bucket Bucket, clock clockwork.Clock, owner string) *Locker {
	return &Locker{bucket: bucket, clock: clock, owner: owner}
}

type lockRecord struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lock is a held lock.
type Lock struct {
	locker   *Locker
	key      string
	revision uint64
}

// Key returns the lock key.
func (k *Lock) Key() string { return k.key }

// TryAcquire takes the lock named key for ttl. It returns (nil, nil) when
// another live holder owns it.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	rec, err := json.Marshal(lockRecord{Owner: l.owner, ExpiresAt: l.clock.Now().Add(ttl)})
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}

	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		rev, err := l.bucket.Create(ctx, key, rec)
		if err == nil {
			return &Lock{locker: l, key: key, revision: rev}, nil
		}
		if !errors.Is(err, ErrKeyExists) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}

		held, err := l.bucket.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue // released between our create and get
		}
		if err != nil {
			return nil, fmt.Errorf("read lock %s: %w", key, err)
		}

		var cur lockRecord
		if err := json.Unmarshal(held.Value, &cur); err == nil && l.clock.Now().Before(cur.ExpiresAt) {
			return nil, nil
		}

		rev, err = l.bucket.Update(ctx, key, rec, held.Revision)
		if err == nil {
			return &Lock{locker: l, key: key, revision: rev}, nil
		}
		if errors.Is(err, ErrRevisionMismatch) {
			// someone else stole it first
			return nil, nil
		}
		return nil, fmt.Errorf("steal lock %s: %w", key, err)
	}
	return nil, nil
}

// Release deletes the lock if it is still ours. Releasing a lock that expired
// and was taken over is a no-op.
func (k *Lock) Release(ctx context.Context) error {
	if k == nil {
		return nil
	}
	err := k.locker.bucket.DeleteIf(ctx, k.key, k.revision)
	if err != nil && !errors.Is(err, ErrRevisionMismatch) {
		return fmt.Errorf("release lock %s: %w", k.key, err)
	}
	return nil
}
