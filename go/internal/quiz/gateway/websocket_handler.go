package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mcdev12/qrhit/go/internal/quiz/engine"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
	"github.com/rs/zerolog/log"
)

// Dispatcher runs inbound messages and reacts to closed connections.
// *engine.Engine implements it.
type Dispatcher interface {
	HandleMessage(ctx context.Context, connID, sessionID string, msg events.Message) error
	HandleDisconnect(connID string)
}

// WebSocketHandler handles WebSocket upgrade requests for quiz connections
type WebSocketHandler struct {
	cm             *ConnectionManager
	fabric         *Fabric
	dispatcher     Dispatcher
	messageTimeout time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, fabric *Fabric, dispatcher Dispatcher, messageTimeout time.Duration) *WebSocketHandler {
	if messageTimeout <= 0 {
		messageTimeout = 10 * time.Second
	}
	return &WebSocketHandler{
		cm:             cm,
		fabric:         fabric,
		dispatcher:     dispatcher,
		messageTimeout: messageTimeout,
	}
}

// HandleConnection upgrades the request and serves the connection until it
// closes. The client learns its connection id from the connected event and
// joins a session with a join message.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.cm.Upgrade(w, r)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	go conn.writePump()
	if err := h.fabric.Send(conn.ID, events.Connected{ConnectionID: conn.ID}); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to send connected")
	}

	go func() {
		conn.readPump(h.handleFrame)
		// Disconnect first so the grace period sees the binding
		h.dispatcher.HandleDisconnect(conn.ID)
		h.cm.unregister(conn)
		conn.close()
	}()
}

func (h *WebSocketHandler) handleFrame(conn *Connection, raw []byte) {
	sessionID, msg, err := events.DecodeMessage(raw)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("rejected client frame")
		h.sendError(conn.ID, decodeError(err), "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.messageTimeout)
	defer cancel()

	if err := h.dispatcher.HandleMessage(ctx, conn.ID, sessionID, msg); err != nil {
		if engine.CodeOf(err) == engine.CodeInternal {
			log.Error().
				Err(err).
				Str("connection_id", conn.ID).
				Str("session_id", sessionID).
				Str("action", string(msg.MessageType())).
				Msg("message failed")
		}
		h.sendError(conn.ID, err, msg.MessageType())
	}
}

func (h *WebSocketHandler) sendError(connID string, err error, action events.MessageType) {
	if sendErr := h.fabric.Send(connID, engine.ErrorEvent(err, action)); sendErr != nil {
		log.Debug().Err(sendErr).Str("connection_id", connID).Msg("failed to send error event")
	}
}

// decodeError maps a frame that could not be decoded to a client error.
func decodeError(err error) error {
	switch {
	case errors.Is(err, events.ErrUnknownMessage):
		return &engine.Error{Code: engine.ErrInvalidPayload.Code, Message: err.Error()}
	default:
		return &engine.Error{Code: engine.ErrInvalidPayload.Code, Message: "malformed message"}
	}
}

// HandleStats returns statistics about this worker's connections
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cm.Stats()
	stats.Instance = h.fabric.instanceID

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to write stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
