package gateway

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/qrhit/go/internal/quiz/engine"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns the WebSocket connections of this worker and their
// session bindings.
type ConnectionManager struct {
	mu sync.RWMutex
	// All live connections by id
	connections map[string]*Connection
	// connID -> session binding, set once the connection joins
	bindings map[string]engine.Binding
	// session id -> bound connection ids
	sessions map[string]map[string]bool

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection is one client WebSocket.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time

	closeOnce sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// No authentication at this layer; any origin may connect
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		bindings:    make(map[string]engine.Binding),
		sessions:    make(map[string]map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Upgrade upgrades an HTTP request and registers the new connection. The
// caller starts the pumps.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.mu.Lock()
	cm.connections[c.ID] = c
	total := len(cm.connections)
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", c.ID).
		Int("total_connections", total).
		Msg("connection registered")
	return c, nil
}

// unregister forgets the connection and its binding. It reports whether the
// connection was still registered.
func (cm *ConnectionManager) unregister(c *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cur, ok := cm.connections[c.ID]; !ok || cur != c {
		return false
	}
	delete(cm.connections, c.ID)
	cm.unbindLocked(c.ID)
	close(c.Send)

	log.Info().Str("connection_id", c.ID).Msg("connection unregistered")
	return true
}

// Bind associates connID with a session identity, replacing any earlier
// binding of the same connection.
func (cm *ConnectionManager) Bind(connID string, b engine.Binding) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.unbindLocked(connID)
	cm.bindings[connID] = b
	if cm.sessions[b.SessionID] == nil {
		cm.sessions[b.SessionID] = make(map[string]bool)
	}
	cm.sessions[b.SessionID][connID] = true
}

// Unbind removes the session binding of connID. The connection stays open.
func (cm *ConnectionManager) Unbind(connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.unbindLocked(connID)
}

func (cm *ConnectionManager) unbindLocked(connID string) {
	b, ok := cm.bindings[connID]
	if !ok {
		return
	}
	delete(cm.bindings, connID)
	if conns, ok := cm.sessions[b.SessionID]; ok {
		delete(conns, connID)
		// Clean up empty session pools
		if len(conns) == 0 {
			delete(cm.sessions, b.SessionID)
		}
	}
}

// Binding returns the session binding of connID.
func (cm *ConnectionManager) Binding(connID string) (engine.Binding, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	b, ok := cm.bindings[connID]
	return b, ok
}

// HasPlayer reports whether a local connection is bound to the player name.
func (cm *ConnectionManager) HasPlayer(sessionID, name string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for connID := range cm.sessions[sessionID] {
		b := cm.bindings[connID]
		if !b.Host && strings.EqualFold(b.Name, name) {
			return true
		}
	}
	return false
}

// HasHost reports whether a local connection is bound as the session host.
func (cm *ConnectionManager) HasHost(sessionID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for connID := range cm.sessions[sessionID] {
		if cm.bindings[connID].Host {
			return true
		}
	}
	return false
}

// deliver queues data on every connection bound to the session, except one.
func (cm *ConnectionManager) deliver(sessionID string, data []byte, except string) int {
	cm.mu.RLock()
	// Snapshot targets to avoid holding the lock while sending
	var targets []*Connection
	for connID := range cm.sessions[sessionID] {
		if connID == except {
			continue
		}
		if c, ok := cm.connections[connID]; ok {
			targets = append(targets, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range targets {
		cm.enqueue(c, data)
	}
	return len(targets)
}

// sendTo queues data on one connection. It returns false when the
// connection is unknown.
func (cm *ConnectionManager) sendTo(connID string, data []byte) bool {
	cm.mu.RLock()
	c, ok := cm.connections[connID]
	cm.mu.RUnlock()
	if !ok {
		return false
	}
	cm.enqueue(c, data)
	return true
}

func (cm *ConnectionManager) enqueue(c *Connection, data []byte) {
	cm.mu.RLock()
	_, live := cm.connections[c.ID]
	if live {
		select {
		case c.Send <- data:
			cm.mu.RUnlock()
			return
		default:
		}
	}
	cm.mu.RUnlock()
	if !live {
		return
	}

	// Connection is slow or dead, close it; the read pump reports the disconnect
	log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, closing connection")
	c.close()
}

// Stats returns statistics about active connections
func (cm *ConnectionManager) Stats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	counts := make(map[string]int, len(cm.sessions))
	for sessionID, conns := range cm.sessions {
		counts[sessionID] = len(conns)
	}
	return Stats{
		TotalConnections:   len(cm.connections),
		ActiveSessions:     len(cm.sessions),
		SessionConnections: counts,
	}
}

// Stats is the body of /ws/stats.
type Stats struct {
	Instance           string         `json:"instance,omitempty"`
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.Conn.Close()
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	cfg := c.Manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client frames and hands each to onMessage until the
// connection fails.
func (c *Connection) readPump(onMessage func(*Connection, []byte)) {
	cfg := c.Manager.config
	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		onMessage(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
