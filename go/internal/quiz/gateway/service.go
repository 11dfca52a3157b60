package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
	"github.com/rs/zerolog/log"
)

// Service is the quiz gateway: WebSocket connections on this worker plus the
// broadcast fabric joining them to the other workers.
type Service struct {
	connectionManager *ConnectionManager
	fabric            *Fabric
	wsHandler         *WebSocketHandler
	config            Config
}

// Config holds configuration for the quiz gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	MessageTimeout   time.Duration
}

// DefaultConfig returns default configuration for the quiz gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		MessageTimeout:   10 * time.Second,
	}
}

// NewService creates the gateway for one worker. The fabric is usable as the
// engine's hub right away; call SetDispatcher before serving connections.
func NewService(config Config, bus statestore.Bus, instanceID string) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)
	return &Service{
		connectionManager: cm,
		fabric:            NewFabric(cm, bus, instanceID),
		config:            config,
	}
}

// Fabric returns the hub handed to the engine.
func (s *Service) Fabric() *Fabric {
	return s.fabric
}

// SetDispatcher wires inbound messages and disconnects to d.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.wsHandler = NewWebSocketHandler(s.connectionManager, s.fabric, d, s.config.MessageTimeout)
}

// Start subscribes the fabric and blocks until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Str("instance", s.fabric.instanceID).Msg("starting quiz gateway service")
	if err := s.fabric.Start(); err != nil {
		return err
	}

	<-ctx.Done()

	log.Info().Msg("quiz gateway service shutting down")
	s.fabric.Stop()
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	if s.wsHandler == nil {
		log.Fatal().Msg("gateway routes registered before a dispatcher was set")
	}
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("quiz gateway routes registered")
}

// Stats returns statistics about the gateway service
func (s *Service) Stats() Stats {
	stats := s.connectionManager.Stats()
	stats.Instance = s.fabric.instanceID
	return stats
}
