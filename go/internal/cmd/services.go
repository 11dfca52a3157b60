package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/qrhit/go/internal/quiz/catalog"
	"github.com/mcdev12/qrhit/go/internal/quiz/engine"
	"github.com/mcdev12/qrhit/go/internal/quiz/gateway"
	"github.com/mcdev12/qrhit/go/internal/quiz/rpc"
	"github.com/mcdev12/qrhit/go/internal/quiz/scanfeed"
	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Store    *statestore.Store
	Engine   *engine.Engine
	Gateway  *gateway.Service
	RPC      *rpc.Service
	ScanFeed *scanfeed.Listener
}

func setupStore(ctx context.Context, config *Config) (*statestore.Store, error) {
	switch config.Store.Backend {
	case StoreMemory:
		log.Warn().Msg("using in-memory store, sessions are not shared between workers")
		return statestore.NewMemory(nil, statestore.DefaultConfig()), nil
	default:
		natsCfg := statestore.DefaultNATSConfig()
		natsCfg.URL = config.Store.NATSURL
		natsCfg.Name = "qrhit-" + config.InstanceID
		natsCfg.Replicas = config.Store.Replicas
		return statestore.NewNATS(ctx, natsCfg, statestore.DefaultConfig())
	}
}

func setupCatalog(config *Config, dbs *Databases) (engine.TrackCatalog, error) {
	switch config.Catalog.Source {
	case CatalogFile:
		return catalog.LoadFileCatalog(config.Catalog.File)
	default:
		if dbs == nil {
			return nil, fmt.Errorf("postgres catalog requires a database")
		}
		return catalog.NewPostgresCatalog(dbs.Pool), nil
	}
}

func setupServices(config *Config, store *statestore.Store, tracks engine.TrackCatalog, dbs *Databases) (*Services, error) {
	// Wire up the worker
	// Gateway (connections + fabric) → Engine → RPC / scan feed

	gatewayService := gateway.NewService(gateway.DefaultConfig(), store.Bus, config.InstanceID)

	eng := engine.New(config.engineConfig(), store, tracks, gatewayService.Fabric(), nil)
	gatewayService.Fabric().OnControl(eng.HandleControl)
	gatewayService.SetDispatcher(eng)

	services := &Services{
		Store:   store,
		Engine:  eng,
		Gateway: gatewayService,
		RPC:     rpc.NewService(eng),
	}

	if config.ScanFeed.Enabled && dbs != nil {
		listenerCfg := scanfeed.DefaultListenerConfig()
		listenerCfg.DatabaseURL = dbs.DSN
		if config.ScanFeed.FallbackInterval > 0 {
			listenerCfg.FallbackInterval = config.ScanFeed.FallbackInterval
		}

		notifier, err := scanfeed.Listen(listenerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to start scan feed: %w", err)
		}
		services.ScanFeed = scanfeed.NewListener(notifier, scanfeed.NewRepository(dbs.SQL), eng, nil, listenerCfg)
	}

	return services, nil
}
