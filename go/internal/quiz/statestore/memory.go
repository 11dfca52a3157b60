package statestore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// NewMemory returns a single-process store. Engines sharing one memory store
// behave like workers sharing a NATS cluster, which is what tests rely on.
func NewMemory(clock clockwork.Clock, cfg Config) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		State:   newMemoryBucket(clock, cfg.StateTTL),
		Results: newMemoryBucket(clock, cfg.ResultsTTL),
		Locks:   newMemoryBucket(clock, cfg.LockTTL),
		Bus:     newMemoryBus(),
	}
}

type memoryValue struct {
	value     []byte
	revision  uint64
	expiresAt time.Time
}

type memoryBucket struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu   sync.Mutex
	rev  uint64
	data map[string]memoryValue
}

func newMemoryBucket(clock clockwork.Clock, ttl time.Duration) *memoryBucket {
	return &memoryBucket{
		clock: clock,
		ttl:   ttl,
		data:  make(map[string]memoryValue),
	}
}

// live returns the key's value, dropping it if its TTL elapsed. Caller holds mu.
func (b *memoryBucket) live(key string) (memoryValue, bool) {
	v, ok := b.data[key]
	if !ok {
		return memoryValue{}, false
	}
	if b.ttl > 0 && !b.clock.Now().Before(v.expiresAt) {
		delete(b.data, key)
		return memoryValue{}, false
	}
	return v, true
}

// write stores value under key at a fresh revision. Caller holds mu.
func (b *memoryBucket) write(key string, value []byte) uint64 {
	b.rev++
	v := memoryValue{
		value:    append([]byte(nil), value...),
		revision: b.rev,
	}
	if b.ttl > 0 {
		v.expiresAt = b.clock.Now().Add(b.ttl)
	}
	b.data[key] = v
	return b.rev
}

func (b *memoryBucket) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.live(key)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Key: key, Value: append([]byte(nil), v.value...), Revision: v.revision}, nil
}

func (b *memoryBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(key, value), nil
}

func (b *memoryBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.live(key); ok {
		return 0, ErrKeyExists
	}
	return b.write(key, value), nil
}

func (b *memoryBucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.live(key)
	if !ok || v.revision != revision {
		return 0, ErrRevisionMismatch
	}
	return b.write(key, value), nil
}

func (b *memoryBucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *memoryBucket) DeleteIf(ctx context.Context, key string, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.live(key)
	if !ok || v.revision != revision {
		return ErrRevisionMismatch
	}
	delete(b.data, key)
	return nil
}

func (b *memoryBucket) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for key := range b.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		v, ok := b.live(key)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: key, Value: append([]byte(nil), v.value...), Revision: v.revision})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type memoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]memorySub
}

type memorySub struct {
	pattern []string
	handler Handler
}

func newMemoryBus() *memoryBus {
	return &memoryBus{subs: make(map[int]memorySub)}
}

// Publish delivers synchronously to every matching subscriber.
func (b *memoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tokens := strings.Split(subject, ".")

	b.mu.RLock()
	var handlers []Handler
	for _, s := range b.subs {
		if subjectMatches(s.pattern, tokens) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(subject, append([]byte(nil), data...))
	}
	return nil
}

func (b *memoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = memorySub{pattern: strings.Split(subject, "."), handler: handler}
	return &memorySubscription{bus: b, id: id}, nil
}

type memorySubscription struct {
	bus *memoryBus
	id  int
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}

func subjectMatches(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return len(subject) > i
		}
		if i >= len(subject) {
			return false
		}
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}
