// Package statestore is the shared key-value store every worker reads and
// writes session state through, plus the pub/sub bus used to fan events out
// across workers.
package statestore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("statestore: key not found")
	ErrKeyExists        = errors.New("statestore: key exists")
	ErrRevisionMismatch = errors.New("statestore: revision mismatch")
	ErrClosed           = errors.New("statestore: closed")
)

// Entry is one stored value with the revision it was written at.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// Bucket is a namespace of keys sharing one TTL. Every write refreshes the
// key's TTL.
type Bucket interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	// Create writes only when the key is absent, else ErrKeyExists.
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	// Update writes only when the key is at revision, else ErrRevisionMismatch.
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	// DeleteIf deletes only when the key is at revision, else ErrRevisionMismatch.
	DeleteIf(ctx context.Context, key string, revision uint64) error
	// List returns every live key starting with prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// Handler receives messages delivered on a subscribed subject.
type Handler func(subject string, data []byte)

// Subscription is an active bus subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus is best-effort cross-worker publish/subscribe. Subjects are
// dot-separated; subscriptions accept the `*` and `>` wildcards.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
}

// Config sets bucket names and TTLs.
type Config struct {
	BucketPrefix string
	StateTTL     time.Duration
	ResultsTTL   time.Duration
	LockTTL      time.Duration
}

// DefaultConfig returns the production TTLs.
func DefaultConfig() Config {
	return Config{
		BucketPrefix: "qrhit",
		StateTTL:     6 * time.Hour,
		ResultsTTL:   time.Hour,
		LockTTL:      time.Minute,
	}
}

// Store groups the buckets and bus of one backend.
type Store struct {
	State   Bucket
	Results Bucket
	Locks   Bucket
	Bus     Bus

	closeFn func() error
}

// Close releases the backend's connections.
func (s *Store) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
