package statestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds connection settings for the NATS backend.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Replicas      int
}

// DefaultNATSConfig returns default NATS connection settings.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "qrhit-worker",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		Replicas:      1,
	}
}

// NewNATS connects to NATS and opens (creating if needed) the JetStream KV
// buckets backing the store.
func NewNATS(ctx context.Context, natsCfg NATSConfig, cfg Config) (*Store, error) {
	opts := []nats.Option{
		nats.Name(natsCfg.Name),
		nats.MaxReconnects(natsCfg.MaxReconnects),
		nats.ReconnectWait(natsCfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(natsCfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	open := func(suffix string, ttl time.Duration) (Bucket, error) {
		name := cfg.BucketPrefix + "_" + suffix
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:   name,
			TTL:      ttl,
			History:  1,
			Storage:  jetstream.FileStorage,
			Replicas: natsCfg.Replicas,
		})
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", name, err)
		}
		log.Info().Str("bucket", name).Dur("ttl", ttl).Msg("opened KV bucket")
		return &natsBucket{kv: kv}, nil
	}

	store := &Store{
		Bus: &natsBus{nc: nc},
		closeFn: func() error {
			if err := nc.Drain(); err != nil {
				nc.Close()
				return err
			}
			return nil
		},
	}
	if store.State, err = open("state", cfg.StateTTL); err != nil {
		nc.Close()
		return nil, err
	}
	if store.Results, err = open("results", cfg.ResultsTTL); err != nil {
		nc.Close()
		return nil, err
	}
	if store.Locks, err = open("locks", cfg.LockTTL); err != nil {
		nc.Close()
		return nil, err
	}
	return store, nil
}

type natsBucket struct {
	kv jetstream.KeyValue
}

func (b *natsBucket) Get(ctx context.Context, key string) (Entry, error) {
	e, err := b.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return Entry{Key: e.Key(), Value: e.Value(), Revision: e.Revision()}, nil
}

func (b *natsBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := b.kv.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return rev, nil
}

func (b *natsBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := b.kv.Create(ctx, key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
			return 0, ErrKeyExists
		}
		return 0, fmt.Errorf("create %s: %w", key, err)
	}
	return rev, nil
}

func (b *natsBucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := b.kv.Update(ctx, key, value, revision)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
			return 0, ErrRevisionMismatch
		}
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	return rev, nil
}

func (b *natsBucket) Delete(ctx context.Context, key string) error {
	if err := b.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *natsBucket) DeleteIf(ctx context.Context, key string, revision uint64) error {
	if err := b.kv.Delete(ctx, key, jetstream.LastRevision(revision)); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
			return ErrRevisionMismatch
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *natsBucket) List(ctx context.Context, prefix string) ([]Entry, error) {
	filter := prefix + ">"
	if prefix == "" {
		filter = ">"
	}
	w, err := b.kv.Watch(ctx, filter, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer w.Stop()

	var out []Entry
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e, ok := <-w.Updates():
			if !ok || e == nil {
				return out, nil
			}
			if !strings.HasPrefix(e.Key(), prefix) {
				continue
			}
			out = append(out, Entry{Key: e.Key(), Value: e.Value(), Revision: e.Revision()})
		}
	}
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

type natsBus struct {
	nc *nats.Conn
}

func (b *natsBus) Publish(_ context.Context, subject string, data []byte) error {
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (b *natsBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}
