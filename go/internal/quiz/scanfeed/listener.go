package scanfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed scans
	StaleAfter       time.Duration // Older unclaimed scans are ignored
	PingInterval     time.Duration
	BatchSize        int32 // Max scans to fetch per poll
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		DatabaseURL:      "",
		NotifyChannel:    "card_scans",
		FallbackInterval: 5 * time.Second,
		StaleAfter:       30 * time.Second,
		PingInterval:     90 * time.Second,
		BatchSize:        50,
	}
}

// ScanHandler starts a round for a scanned card. *engine.Engine implements it.
type ScanHandler interface {
	HandleCardScan(ctx context.Context, channelID, contentID int64) error
}

// ScanStore claims scans. *Repository implements it.
type ScanStore interface {
	Claim(ctx context.Context, id uuid.UUID) (*Scan, error)
	Unprocessed(ctx context.Context, since time.Time, limit int32) ([]uuid.UUID, error)
}

// Notifier delivers LISTEN notifications. A nil notification means the
// connection was re-established and notifications may have been missed.
type Notifier interface {
	Notifications() <-chan *pq.Notification
	Ping() error
	Close() error
}

type pqNotifier struct {
	l *pq.Listener
}

func (n pqNotifier) Notifications() <-chan *pq.Notification { return n.l.Notify }
func (n pqNotifier) Ping() error                            { return n.l.Ping() }
func (n pqNotifier) Close() error                           { return n.l.Close() }

// Listen opens a pq listener on cfg.NotifyChannel.
func Listen(cfg ListenerConfig) (Notifier, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")
	return pqNotifier{l: l}, nil
}

// Listener turns card scan notifications into rounds. Every worker runs
// one; the claim in the store makes sure each scan is handled once.
type Listener struct {
	notifier Notifier
	store    ScanStore
	handler  ScanHandler
	clock    clockwork.Clock
	cfg      ListenerConfig
}

func NewListener(notifier Notifier, store ScanStore, handler ScanHandler, clock clockwork.Clock, cfg ListenerConfig) *Listener {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Listener{
		notifier: notifier,
		store:    store,
		handler:  handler,
		clock:    clock,
		cfg:      cfg,
	}
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("scan listener started")

	pingTicker := l.clock.NewTicker(l.cfg.PingInterval)
	fallbackTicker := l.clock.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	notes := l.notifier.Notifications()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scan listener shutting down")
			return l.notifier.Close()
		case note, ok := <-notes:
			if !ok {
				return errors.New("notification channel closed")
			}
			if note == nil {
				// reconnected; pick up anything sent while we were away
				if err := l.processUnclaimed(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unclaimed scans")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if err := l.processUnclaimed(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unclaimed scans")
			}
		case <-pingTicker.Chan():
			if err := l.notifier.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// handleNotification handles a pg listen notification. Extra is the scan id.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid scan ID in notification: %w", err)
	}
	return l.process(ctx, id)
}

// process claims the scan and hands it to the engine. Losing the claim is
// not an error.
func (l *Listener) process(ctx context.Context, id uuid.UUID) error {
	scan, err := l.store.Claim(ctx, id)
	if errors.Is(err, ErrAlreadyClaimed) {
		log.Debug().Str("scan_id", id.String()).Msg("scan claimed by another worker")
		return nil
	}
	if err != nil {
		return err
	}

	logger := log.With().
		Str("scan_id", id.String()).
		Int64("channel_id", scan.ChannelID).
		Int64("content_id", scan.ContentID).
		Logger()
	if age := l.clock.Since(scan.ScannedAt); l.cfg.StaleAfter > 0 && age > l.cfg.StaleAfter {
		logger.Warn().Dur("age", age).Msg("dropping stale scan")
		return nil
	}
	if len(scan.DeviceInfo) > 0 {
		logger = logger.With().RawJSON("device_info", scan.DeviceInfo).Logger()
	}

	if err := l.handler.HandleCardScan(ctx, scan.ChannelID, scan.ContentID); err != nil {
		return fmt.Errorf("handle scan %s: %w", id, err)
	}
	logger.Info().Msg("card scan handled")
	return nil
}

// processUnclaimed polls for scans whose notification was missed.
func (l *Listener) processUnclaimed(ctx context.Context) error {
	since := l.clock.Now().Add(-l.cfg.StaleAfter)
	ids, err := l.store.Unprocessed(ctx, since, l.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := l.process(ctx, id); err != nil {
			log.Error().Err(err).Str("scan_id", id.String()).Msg("failed to process scan")
		}
	}
	return nil
}
