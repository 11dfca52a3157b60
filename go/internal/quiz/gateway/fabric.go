package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mcdev12/qrhit/go/internal/quiz/engine"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
	"github.com/rs/zerolog/log"
)

const (
	broadcastSubjectPrefix = "qrhit.broadcast."
	controlSubjectPrefix   = "qrhit.control."
)

// busBroadcast is a session event relayed to the other workers.
type busBroadcast struct {
	Origin  string          `json:"origin"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// busControl is a control message relayed to the other workers.
type busControl struct {
	Origin  string         `json:"origin"`
	Control engine.Control `json:"control"`
}

// Fabric joins this worker's connections to every other worker's through the
// bus. It is the engine's Hub.
type Fabric struct {
	cm         *ConnectionManager
	bus        statestore.Bus
	instanceID string

	mu        sync.RWMutex
	onControl func(engine.Control)
	subs      []statestore.Subscription
}

var _ engine.Hub = (*Fabric)(nil)

// NewFabric creates the fabric for one worker.
func NewFabric(cm *ConnectionManager, bus statestore.Bus, instanceID string) *Fabric {
	return &Fabric{
		cm:         cm,
		bus:        bus,
		instanceID: instanceID,
	}
}

// OnControl sets the handler for control messages from any worker,
// including this one.
func (f *Fabric) OnControl(fn func(engine.Control)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onControl = fn
}

// Start subscribes to the broadcast and control subjects.
func (f *Fabric) Start() error {
	bsub, err := f.bus.Subscribe(broadcastSubjectPrefix+"*", f.handleBroadcast)
	if err != nil {
		return fmt.Errorf("subscribe broadcasts: %w", err)
	}
	csub, err := f.bus.Subscribe(controlSubjectPrefix+"*", f.handleControl)
	if err != nil {
		_ = bsub.Unsubscribe()
		return fmt.Errorf("subscribe control: %w", err)
	}

	f.mu.Lock()
	f.subs = append(f.subs, bsub, csub)
	f.mu.Unlock()

	log.Info().Str("instance", f.instanceID).Msg("broadcast fabric subscribed")
	return nil
}

// Stop drops the bus subscriptions.
func (f *Fabric) Stop() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe")
		}
	}
}

// Broadcast delivers ev to the session's local connections and publishes it
// for the other workers.
func (f *Fabric) Broadcast(ctx context.Context, sessionID string, ev events.Event, except string) error {
	data, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	n := f.cm.deliver(sessionID, data, except)

	log.Debug().
		Str("event_type", string(ev.Type())).
		Str("session_id", sessionID).
		Int("local_connections", n).
		Msg("event broadcasted")

	msg, err := json.Marshal(busBroadcast{Origin: f.instanceID, Except: except, Payload: data})
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	if err := f.bus.Publish(ctx, broadcastSubjectPrefix+sessionID, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type(), err)
	}
	return nil
}

// Send delivers ev to one local connection.
func (f *Fabric) Send(connID string, ev events.Event) error {
	data, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	if !f.cm.sendTo(connID, data) {
		return fmt.Errorf("connection %s is not on this worker", connID)
	}
	return nil
}

func (f *Fabric) Bind(connID string, b engine.Binding)        { f.cm.Bind(connID, b) }
func (f *Fabric) Unbind(connID string)                         { f.cm.Unbind(connID) }
func (f *Fabric) Binding(connID string) (engine.Binding, bool) { return f.cm.Binding(connID) }
func (f *Fabric) HasPlayer(sessionID, name string) bool        { return f.cm.HasPlayer(sessionID, name) }
func (f *Fabric) HasHost(sessionID string) bool                { return f.cm.HasHost(sessionID) }

// Announce applies c on this worker and publishes it to the others.
func (f *Fabric) Announce(ctx context.Context, c engine.Control) error {
	f.applyControl(c)

	msg, err := json.Marshal(busControl{Origin: f.instanceID, Control: c})
	if err != nil {
		return fmt.Errorf("marshal control: %w", err)
	}
	if err := f.bus.Publish(ctx, controlSubjectPrefix+c.SessionID, msg); err != nil {
		return fmt.Errorf("publish control: %w", err)
	}
	return nil
}

func (f *Fabric) handleBroadcast(subject string, data []byte) {
	var msg busBroadcast
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to decode broadcast")
		return
	}
	if msg.Origin == f.instanceID {
		return
	}
	sessionID := strings.TrimPrefix(subject, broadcastSubjectPrefix)
	n := f.cm.deliver(sessionID, msg.Payload, msg.Except)

	log.Debug().
		Str("session_id", sessionID).
		Str("origin", msg.Origin).
		Int("local_connections", n).
		Msg("relayed remote broadcast")
}

func (f *Fabric) handleControl(subject string, data []byte) {
	var msg busControl
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to decode control message")
		return
	}
	if msg.Origin == f.instanceID {
		return
	}
	f.applyControl(msg.Control)
}

func (f *Fabric) applyControl(c engine.Control) {
	f.mu.RLock()
	fn := f.onControl
	f.mu.RUnlock()
	if fn == nil {
		log.Warn().Str("kind", string(c.Kind)).Msg("control message dropped: no handler")
		return
	}
	fn(c)
}
