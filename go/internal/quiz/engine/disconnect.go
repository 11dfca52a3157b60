package engine

import (
	"context"
	"errors"

	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
	"github.com/rs/zerolog/log"
)

// HandleDisconnect detaches a closed connection and starts its grace period.
// The host gets HostGrace to come back before the session ends; a player
// gets PlayerGrace before it is removed from the roster.
func (e *Engine) HandleDisconnect(connID string) {
	b, ok := e.hub.Binding(connID)
	e.hub.Unbind(connID)
	if !ok {
		return
	}

	if b.Host {
		log.Info().Str("session_id", b.SessionID).Str("connection_id", connID).Msg("host disconnected, grace period started")
		e.schedule(hostTimerKey(b.SessionID), e.cfg.HostGrace, job{
			kind:      jobHostGraceExpired,
			sessionID: b.SessionID,
			connID:    connID,
		})
		return
	}

	log.Info().
		Str("session_id", b.SessionID).
		Str("connection_id", connID).
		Str("player", b.Name).
		Msg("player disconnected, grace period started")
	e.schedule(playerTimerKey(connID), e.cfg.PlayerGrace, job{
		kind:      jobPlayerGraceExpired,
		sessionID: b.SessionID,
		name:      b.Name,
		connID:    connID,
	})
}

// HandleControl applies a control message announced by any worker.
func (e *Engine) HandleControl(c Control) {
	switch c.Kind {
	case ControlHostReconnected:
		e.cancelTimer(hostTimerKey(c.SessionID))
	case ControlConnectionReplaced:
		if c.PreviousConnID != "" {
			e.cancelTimer(playerTimerKey(c.PreviousConnID))
		}
	default:
		log.Warn().Str("kind", string(c.Kind)).Msg("unknown control message")
		return
	}

	if c.PreviousConnID == "" || c.PreviousConnID == c.ConnID {
		return
	}
	if b, ok := e.hub.Binding(c.PreviousConnID); ok && b.SessionID == c.SessionID {
		e.hub.Unbind(c.PreviousConnID)
		log.Info().
			Str("session_id", c.SessionID).
			Str("connection_id", c.PreviousConnID).
			Msg("detached superseded connection")
	}
}

// hostGraceExpired ends the session if its host never came back. Only the
// worker winning the host-left lock acts.
func (e *Engine) hostGraceExpired(ctx context.Context, code, connID string) error {
	if e.hub.HasHost(code) {
		return nil
	}
	session, _, err := e.repo.getSession(ctx, code)
	if errIsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !session.IsActive() || session.HostConnID != connID {
		return nil
	}

	lock, err := e.tryLock(ctx, lockKey("hostleft", code), e.cfg.HostLeftLockTTL)
	if err != nil {
		return err
	}
	if lock == nil {
		log.Debug().Str("session_id", code).Msg("host-left handled by another worker")
		return nil
	}
	defer e.release(lock)

	var ended bool
	_, err = e.repo.updateSession(ctx, code, func(s *models.Session) error {
		if !s.IsActive() || s.HostConnID != connID {
			ended = false
			return errNoChange
		}
		finishSession(s, e.now())
		ended = true
		return nil
	})
	if errIsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !ended {
		return nil
	}
	e.cancelSessionTimers(code)

	log.Info().Str("session_id", code).Str("instance", e.instanceID).Msg("host left, session finished")
	return e.hub.Broadcast(ctx, code, events.HostLeft{Reason: "host_disconnected"}, "")
}

// playerGraceExpired removes a player who did not reconnect. A reconnect on
// this worker shows up in the hub; a reconnect anywhere else has moved the
// stored record to another connection id.
func (e *Engine) playerGraceExpired(ctx context.Context, code, name, connID string) error {
	if e.hub.HasPlayer(code, name) {
		return nil
	}
	player, _, err := e.repo.getPlayer(ctx, code, name)
	if errIsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if player.ConnID != connID {
		return nil
	}

	lock, err := e.tryLock(ctx, lockKey("leave", code, nameKey(name)), e.cfg.LeaveLockTTL)
	if err != nil {
		return err
	}
	if lock == nil {
		return nil
	}
	defer e.release(lock)

	player, rev, err := e.repo.getPlayer(ctx, code, name)
	if errIsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if player.ConnID != connID {
		return nil
	}
	if err := e.repo.deletePlayerIf(ctx, code, name, rev); err != nil {
		if errors.Is(err, statestore.ErrRevisionMismatch) {
			// reconnected while we were deciding
			return nil
		}
		return err
	}

	session, _, err := e.repo.getSession(ctx, code)
	if errIsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	players, err := e.repo.listPlayers(ctx, code)
	if err != nil {
		return err
	}

	log.Info().Str("session_id", code).Str("player", player.Name).Msg("player left")
	if err := e.hub.Broadcast(ctx, code, events.PlayerLeft{
		Name:        player.Name,
		PlayerCount: countPlayers(players, session.Settings.HostPlays),
	}, ""); err != nil {
		log.Error().Err(err).Str("session_id", code).Msg("failed to broadcast playerLeft")
	}

	return e.maybeCompleteRound(ctx, code)
}
