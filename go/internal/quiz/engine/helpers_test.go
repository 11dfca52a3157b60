package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/catalog"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
)

func intPtr(v int) *int { return &v }

type broadcast struct {
	sessionID string
	ev        events.Event
	except    string
}

// cluster is a set of engines sharing one memory store, like workers
// sharing a NATS cluster. Each engine has its own hub of local connections.
type cluster struct {
	clock   *clockwork.FakeClock
	store   *statestore.Store
	engines []*Engine
	hubs    []*fakeHub

	mu         sync.Mutex
	broadcasts []broadcast
	inbox      map[string][]events.Event
}

type fakeHub struct {
	cluster  *cluster
	mu       sync.Mutex
	bindings map[string]Binding
}

func (h *fakeHub) Broadcast(_ context.Context, sessionID string, ev events.Event, except string) error {
	c := h.cluster
	var targets []string
	for _, hub := range c.hubs {
		hub.mu.Lock()
		for connID, b := range hub.bindings {
			if b.SessionID == sessionID && connID != except {
				targets = append(targets, connID)
			}
		}
		hub.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts = append(c.broadcasts, broadcast{sessionID: sessionID, ev: ev, except: except})
	for _, connID := range targets {
		c.inbox[connID] = append(c.inbox[connID], ev)
	}
	return nil
}

func (h *fakeHub) Send(connID string, ev events.Event) error {
	h.cluster.mu.Lock()
	defer h.cluster.mu.Unlock()
	h.cluster.inbox[connID] = append(h.cluster.inbox[connID], ev)
	return nil
}

func (h *fakeHub) Bind(connID string, b Binding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bindings[connID] = b
}

func (h *fakeHub) Unbind(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.bindings, connID)
}

func (h *fakeHub) Binding(connID string) (Binding, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bindings[connID]
	return b, ok
}

func (h *fakeHub) HasPlayer(sessionID, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.bindings {
		if b.SessionID == sessionID && !b.Host && strings.EqualFold(b.Name, name) {
			return true
		}
	}
	return false
}

func (h *fakeHub) HasHost(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.bindings {
		if b.SessionID == sessionID && b.Host {
			return true
		}
	}
	return false
}

func (h *fakeHub) Announce(_ context.Context, c Control) error {
	for _, e := range h.cluster.engines {
		e.HandleControl(c)
	}
	return nil
}

var errStoreDown = errors.New("store unavailable")

// faultyBucket fails or holds chosen operations of the bucket it wraps.
type faultyBucket struct {
	statestore.Bucket

	mu          sync.Mutex
	failPrefix  string
	failUpdates int

	holdPrefix  string
	holdWant    int
	holdArrived int
	holdRelease chan struct{}
}

// failNextUpdates makes the next n updates of keys under prefix fail.
func (b *faultyBucket) failNextUpdates(prefix string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPrefix, b.failUpdates = prefix, n
}

// holdGets blocks the next n reads of keys under prefix until all n have
// arrived, so their callers act on the same revision.
func (b *faultyBucket) holdGets(prefix string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdPrefix, b.holdWant, b.holdArrived = prefix, n, 0
	b.holdRelease = make(chan struct{})
}

func (b *faultyBucket) Get(ctx context.Context, key string) (statestore.Entry, error) {
	b.mu.Lock()
	release := b.holdRelease
	if release != nil && strings.HasPrefix(key, b.holdPrefix) {
		b.holdArrived++
		if b.holdArrived == b.holdWant {
			close(release)
			b.holdRelease = nil
		}
		b.mu.Unlock()
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	} else {
		b.mu.Unlock()
	}
	return b.Bucket.Get(ctx, key)
}

func (b *faultyBucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	b.mu.Lock()
	if b.failUpdates > 0 && strings.HasPrefix(key, b.failPrefix) {
		b.failUpdates--
		b.mu.Unlock()
		return 0, errStoreDown
	}
	b.mu.Unlock()
	return b.Bucket.Update(ctx, key, value, revision)
}

var testTracks = map[int64][]models.Track{
	42: {
		{ContentID: 7, Artist: "Queen", Title: "Bohemian Rhapsody", Year: intPtr(1975)},
		{ContentID: 8, Artist: "Daft Punk", Title: "One More Time", Year: intPtr(2000)},
		{ContentID: 9, Artist: "Nirvana", Title: "Smells Like Teen Spirit", Year: intPtr(1991)},
	},
	43: {
		{ContentID: 1, Artist: "ABBA", Title: "Dancing Queen", Year: intPtr(1976)},
	},
}

func newCluster(t *testing.T, workers int) *cluster {
	t.Helper()
	return newClusterWithStore(t, workers, nil)
}

// newClusterWithStore lets wrap replace store buckets before the engines
// capture them.
func newClusterWithStore(t *testing.T, workers int, wrap func(*statestore.Store)) *cluster {
	t.Helper()
	clock := clockwork.NewFakeClock()
	c := &cluster{
		clock: clock,
		store: statestore.NewMemory(clock, statestore.DefaultConfig()),
		inbox: make(map[string][]events.Event),
	}
	if wrap != nil {
		wrap(c.store)
	}
	cat := catalog.NewFileCatalog(testTracks)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	for i := 0; i < workers; i++ {
		hub := &fakeHub{cluster: c, bindings: make(map[string]Binding)}
		cfg := DefaultConfig()
		cfg.InstanceID = fmt.Sprintf("worker-%d", i)
		eng := New(cfg, c.store, cat, hub, clock)
		c.hubs = append(c.hubs, hub)
		c.engines = append(c.engines, eng)
		go eng.Run(ctx)
	}
	return c
}

func (c *cluster) countType(typ events.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.broadcasts {
		if b.ev.Type() == typ {
			n++
		}
	}
	return n
}

func (c *cluster) lastBroadcast(typ events.Type) (events.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.broadcasts) - 1; i >= 0; i-- {
		if c.broadcasts[i].ev.Type() == typ {
			return c.broadcasts[i].ev, true
		}
	}
	return nil, false
}

func (c *cluster) received(connID string, typ events.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.inbox[connID] {
		if ev.Type() == typ {
			n++
		}
	}
	return n
}

func (c *cluster) lastReceived(connID string, typ events.Type) (events.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	evs := c.inbox[connID]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type() == typ {
			return evs[i], true
		}
	}
	return nil, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func expectCode(t *testing.T, err error, want *Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Code, err)
	}
}

// game is a session with a host on worker 0 and players joined across workers.
type game struct {
	c    *cluster
	code string
}

func (g *game) engine(i int) *Engine { return g.c.engines[i] }

func setupGame(t *testing.T, c *cluster, settings models.GameSettingsPatch, players ...string) *game {
	t.Helper()
	ctx := context.Background()
	session, err := c.engines[0].CreateSession(ctx, CreateSessionParams{ChannelID: 42, Settings: settings})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := c.engines[0].Join(ctx, "host-1", session.ID, JoinParams{Name: "Quizmaster", Host: true}); err != nil {
		t.Fatalf("host join: %v", err)
	}
	for i, name := range players {
		eng := c.engines[(i+1)%len(c.engines)]
		if err := eng.Join(ctx, "conn-"+name, session.ID, JoinParams{Name: name}); err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
	}
	return &game{c: c, code: session.ID}
}

// startRound starts the game if needed, scans contentID and waits for the
// round to open.
func (g *game) startRound(t *testing.T, contentID int64) {
	t.Helper()
	ctx := context.Background()
	session, _, err := g.engine(0).GetSession(ctx, g.code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.State == models.GameStateLobby {
		if err := g.engine(0).Start(ctx, "host-1", g.code); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	before := g.c.countType(events.TypeRoundStart)
	if err := g.engine(0).HandleCardScan(ctx, 42, contentID); err != nil {
		t.Fatalf("scan: %v", err)
	}
	g.c.clock.Advance(3 * time.Second)
	waitFor(t, "roundStart", func() bool { return g.c.countType(events.TypeRoundStart) > before })
}

func (g *game) player(t *testing.T, name string) models.Player {
	t.Helper()
	p, _, err := g.engine(0).repo.getPlayer(context.Background(), g.code, name)
	if err != nil {
		t.Fatalf("get player %s: %v", name, err)
	}
	return *p
}

func (g *game) state(t *testing.T) models.GameState {
	t.Helper()
	s, _, err := g.engine(0).repo.getSession(context.Background(), g.code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s.State
}
