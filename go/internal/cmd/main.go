package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := loadConfig(getEnv("QRHIT_CONFIG", "qrhit.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, _ := zerolog.ParseLevel(config.LogLevel)
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dbs *Databases
	if config.needsDatabase() {
		if dbs, err = setupDatabase(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to setup database")
		}
		defer dbs.Close()
	}

	store, err := setupStore(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup state store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close state store")
		}
	}()

	tracks, err := setupCatalog(config, dbs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup track catalog")
	}

	services, err := setupServices(config, store, tracks, dbs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}

	log.Info().
		Str("instance", config.InstanceID).
		Str("store", config.Store.Backend).
		Str("catalog", config.Catalog.Source).
		Bool("scan_feed", services.ScanFeed != nil).
		Str("port", config.Port).
		Msg("starting quiz worker")

	errCh := make(chan error, 3)

	go func() {
		if err := services.Engine.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	go func() {
		if err := services.Gateway.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	if services.ScanFeed != nil {
		go func() {
			if err := services.ScanFeed.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	server := setupServer(config, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("worker component exited unexpectedly")
		stop()
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	services.Engine.Stop()

	log.Info().Msg("quiz worker shutdown complete")
}
