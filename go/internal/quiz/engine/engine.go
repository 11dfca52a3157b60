// Package engine runs quiz sessions. Every worker process owns one Engine;
// engines share no memory and coordinate only through the state store, the
// locks kept in it, and the broadcast fabric.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
	"github.com/rs/zerolog/log"
)

// TrackCatalog resolves a scanned card to its canonical track.
type TrackCatalog interface {
	Track(ctx context.Context, channelID, contentID int64) (*models.Track, error)
}

// Config holds the engine's timings.
type Config struct {
	InstanceID string

	CountdownDelay time.Duration
	HostGrace      time.Duration
	PlayerGrace    time.Duration

	OverrideLockTTL time.Duration
	ResultsLockTTL  time.Duration
	ScanLockTTL     time.Duration
	JoinLockTTL     time.Duration
	LeaveLockTTL    time.Duration
	HostLeftLockTTL time.Duration

	// Losers of the results lock poll the cache this often, for this long.
	ResultsPollInterval time.Duration
	ResultsPollTimeout  time.Duration

	// Sessions are gone once this long has passed since they were created,
	// however recently they were written.
	SessionRetention time.Duration

	Workers        int
	JobTimeout     time.Duration
	MaxCASAttempts int
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		CountdownDelay:      3 * time.Second,
		HostGrace:           10 * time.Second,
		PlayerGrace:         5 * time.Second,
		OverrideLockTTL:     5 * time.Second,
		ResultsLockTTL:      10 * time.Second,
		ScanLockTTL:         5 * time.Second,
		JoinLockTTL:         5 * time.Second,
		LeaveLockTTL:        5 * time.Second,
		HostLeftLockTTL:     15 * time.Second,
		ResultsPollInterval: 100 * time.Millisecond,
		ResultsPollTimeout:  2 * time.Second,
		SessionRetention:    6 * time.Hour,
		Workers:             8,
		JobTimeout:          10 * time.Second,
		MaxCASAttempts:      10,
	}
}

type Engine struct {
	cfg        Config
	instanceID string
	repo       *repository
	locks      *statestore.Locker
	catalog    TrackCatalog
	hub        Hub

	// clock drives game time; pollClock drives short waits on other workers.
	clock     clockwork.Clock
	pollClock clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc

	workCh     chan job
	inFlight   map[string]bool
	inFlightMu sync.Mutex

	activeTimers   map[string]*scheduledTimer
	activeTimersMu sync.Mutex

	resultsComputed atomic.Int64
}

// New builds an engine. Call Run to start its worker pool.
func New(cfg Config, store *statestore.Store, catalog TrackCatalog, hub Hub, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()[:8] // short ID for logging
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxCASAttempts <= 0 {
		cfg.MaxCASAttempts = 1
	}

	repo := newRepository(store, cfg.MaxCASAttempts)
	repo.retention = cfg.SessionRetention
	repo.now = func() time.Time { return clock.Now().UTC() }

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:          cfg,
		instanceID:   cfg.InstanceID,
		repo:         repo,
		locks:        statestore.NewLocker(store.Locks, clock, cfg.InstanceID),
		catalog:      catalog,
		hub:          hub,
		clock:        clock,
		pollClock:    clockwork.NewRealClock(),
		ctx:          ctx,
		cancel:       cancel,
		workCh:       make(chan job, cfg.Workers*2), // Buffer to prevent blocking
		inFlight:     make(map[string]bool),
		activeTimers: make(map[string]*scheduledTimer),
	}
}

// InstanceID identifies this worker in logs and lock records.
func (e *Engine) InstanceID() string { return e.instanceID }

// ResultsComputed counts how many times this engine ran the scoring pass.
func (e *Engine) ResultsComputed() int64 { return e.resultsComputed.Load() }

// ActiveTimers returns the number of pending timers on this worker.
func (e *Engine) ActiveTimers() int {
	e.activeTimersMu.Lock()
	defer e.activeTimersMu.Unlock()
	return len(e.activeTimers)
}

// Run starts the worker pool and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().Str("instance", e.instanceID).Int("workers", e.cfg.Workers).Msg("engine started")

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go e.worker(&wg, i)
	}

	select {
	case <-ctx.Done():
	case <-e.ctx.Done():
	}

	log.Info().Str("instance", e.instanceID).Msg("shutting down workers")
	e.cancel()
	wg.Wait()

	e.activeTimersMu.Lock()
	for key, st := range e.activeTimers {
		st.stop()
		log.Debug().Str("timer", key).Msg("cancelled timer on shutdown")
	}
	e.activeTimers = make(map[string]*scheduledTimer)
	e.activeTimersMu.Unlock()

	log.Info().Str("instance", e.instanceID).Msg("all workers shut down")
	return nil
}

// Stop ends Run.
func (e *Engine) Stop() {
	e.cancel()
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}
