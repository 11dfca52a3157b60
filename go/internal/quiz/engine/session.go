package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
	"github.com/mcdev12/qrhit/go/internal/quiz/scoring"
	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
	"github.com/rs/zerolog/log"
)

const (
	sessionCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	sessionCodeLength   = 6
	maxCodeAttempts     = 5
)

func newSessionCode() (string, error) {
	var b strings.Builder
	alphabetSize := big.NewInt(int64(len(sessionCodeAlphabet)))
	for i := 0; i < sessionCodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate session code: %w", err)
		}
		b.WriteByte(sessionCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeSessionCode upper-cases a typed code.
func NormalizeSessionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateSessionParams describes a new session.
type CreateSessionParams struct {
	ChannelID int64
	Sources   []int64
	Settings  models.GameSettingsPatch
}

// CreateSession opens a lobby for a channel. It fails with ErrChannelActive
// while another non-finished session holds the channel.
func (e *Engine) CreateSession(ctx context.Context, p CreateSessionParams) (*models.Session, error) {
	if p.ChannelID <= 0 {
		return nil, withMessage(ErrInvalidPayload, "channel_id is required")
	}
	settings := p.Settings.Apply(models.DefaultGameSettings())
	if err := settings.Validate(); err != nil {
		return nil, withMessage(ErrInvalidSettings, err.Error())
	}

	session := &models.Session{
		ChannelID: p.ChannelID,
		Sources:   p.Sources,
		State:     models.GameStateLobby,
		Settings:  settings,
		CreatedAt: e.now(),
	}

	for attempt := 0; ; attempt++ {
		code, err := newSessionCode()
		if err != nil {
			return nil, err
		}
		session.ID = code
		err = e.repo.createSession(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, statestore.ErrKeyExists) || attempt+1 >= maxCodeAttempts {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	if err := e.repo.claimChannel(ctx, p.ChannelID, session.ID); err != nil {
		if delErr := e.repo.deleteSession(ctx, session.ID); delErr != nil {
			log.Error().Err(delErr).Str("session_id", session.ID).Msg("failed to remove unclaimed session")
		}
		return nil, err
	}

	log.Info().
		Str("session_id", session.ID).
		Int64("channel_id", p.ChannelID).
		Str("instance", e.instanceID).
		Msg("session created")
	return session, nil
}

// GetSession returns the session and its roster.
func (e *Engine) GetSession(ctx context.Context, code string) (*models.Session, []models.Player, error) {
	session, _, err := e.repo.getSession(ctx, NormalizeSessionCode(code))
	if err != nil {
		return nil, nil, err
	}
	players, err := e.repo.listPlayers(ctx, session.ID)
	if err != nil {
		return nil, nil, err
	}
	return session, players, nil
}

// ActiveSessionForChannel returns the non-finished session bound to the
// channel, or ErrSessionNotFound.
func (e *Engine) ActiveSessionForChannel(ctx context.Context, channelID int64) (*models.Session, error) {
	ch, _, err := e.repo.getChannel(ctx, channelID)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load channel: %w", err)
	}
	session, _, err := e.repo.getSession(ctx, ch.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// JoinParams describes a join or rejoin.
type JoinParams struct {
	Name   string
	Host   bool
	Rejoin bool
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if utf8.RuneCountInString(name) > models.MaxPlayerNameLength {
		return "", withMessage(ErrNameTooLong, fmt.Sprintf("names are limited to %d characters", models.MaxPlayerNameLength))
	}
	return name, nil
}

// Join attaches connID to the session under a display name. A name already
// in the session resumes that player, scores included, under the new
// connection; the previous connection is detached on every worker.
func (e *Engine) Join(ctx context.Context, connID, code string, p JoinParams) error {
	code = NormalizeSessionCode(code)
	name, err := validateName(p.Name)
	if err != nil {
		return err
	}

	session, _, err := e.repo.getSession(ctx, code)
	if err != nil {
		return err
	}
	if session.State == models.GameStateFinished && !p.Host {
		return withMessage(ErrInvalidState, "the game has finished")
	}
	if p.Host && session.HostName != "" && !strings.EqualFold(session.HostName, name) {
		return withMessage(ErrNotHost, "this session already has a host")
	}

	player, previousConn, err := e.attachPlayer(ctx, session, connID, name, p)
	if err != nil {
		return err
	}
	reconnected := previousConn != ""

	if p.Host {
		var replacedHost string
		session, err = e.repo.updateSession(ctx, code, func(s *models.Session) error {
			if s.HostName != "" && !strings.EqualFold(s.HostName, player.Name) {
				return withMessage(ErrNotHost, "this session already has a host")
			}
			if s.HostConnID == connID {
				return errNoChange
			}
			replacedHost = s.HostConnID
			s.HostConnID = connID
			s.HostName = player.Name
			return nil
		})
		if err != nil {
			return err
		}
		if replacedHost != "" && replacedHost != connID {
			previousConn = replacedHost
			reconnected = true
		}
	}

	e.hub.Bind(connID, Binding{SessionID: code, Name: player.Name, Host: p.Host})

	if previousConn != "" && previousConn != connID {
		kind := ControlConnectionReplaced
		if p.Host {
			kind = ControlHostReconnected
		}
		if err := e.hub.Announce(ctx, Control{
			Kind:           kind,
			SessionID:      code,
			Name:           player.Name,
			ConnID:         connID,
			PreviousConnID: previousConn,
		}); err != nil {
			log.Error().Err(err).Str("session_id", code).Msg("failed to announce reconnect")
		}
	}

	snapshot, err := e.snapshot(ctx, session, player, reconnected)
	if err != nil {
		return err
	}
	if err := e.hub.Send(connID, snapshot); err != nil {
		log.Warn().Err(err).Str("connection_id", connID).Msg("failed to send game data")
	}

	players, err := e.repo.listPlayers(ctx, code)
	if err != nil {
		return err
	}
	if err := e.hub.Broadcast(ctx, code, events.PlayerJoined{
		Player:      events.NewPlayerView(*player),
		PlayerCount: countPlayers(players, session.Settings.HostPlays),
		Reconnected: reconnected,
	}, connID); err != nil {
		log.Error().Err(err).Str("session_id", code).Msg("failed to broadcast playerJoined")
	}

	log.Info().
		Str("session_id", code).
		Str("connection_id", connID).
		Str("player", player.Name).
		Bool("host", p.Host).
		Bool("reconnected", reconnected).
		Msg("player joined")
	return nil
}

// attachPlayer creates the player record or moves an existing one to connID.
// It returns the record and the connection id it replaced, if any.
func (e *Engine) attachPlayer(ctx context.Context, session *models.Session, connID, name string, p JoinParams) (*models.Player, string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, _, err := e.repo.getPlayer(ctx, session.ID, name)
		if err == nil {
			if existing.IsHost != p.Host {
				return nil, "", ErrNameTaken
			}
			previous := existing.ConnID
			updated, err := e.repo.updatePlayer(ctx, session.ID, name, func(pl *models.Player) error {
				if pl.ConnID == connID {
					return errNoChange
				}
				previous = pl.ConnID
				pl.ConnID = connID
				return nil
			})
			if err != nil {
				return nil, "", err
			}
			if previous == connID {
				previous = ""
			}
			return updated, previous, nil
		}
		if !errors.Is(err, ErrPlayerNotFound) {
			return nil, "", err
		}

		if p.Rejoin {
			return nil, "", ErrNotInGame
		}
		if !p.Host && session.State != models.GameStateLobby {
			return nil, "", ErrGameAlreadyStarted
		}

		player := &models.Player{
			ConnID:   connID,
			Name:     name,
			JoinedAt: e.now(),
			IsHost:   p.Host,
		}
		created, err := e.createPlayer(ctx, session, player)
		if err != nil {
			return nil, "", err
		}
		if created {
			return player, "", nil
		}
		// lost a race for the same name; resume it instead
	}
	return nil, "", ErrBusy
}

// createPlayer adds a new player under the session's join lock so the
// capacity check and the insert are not interleaved with other joins.
func (e *Engine) createPlayer(ctx context.Context, session *models.Session, player *models.Player) (bool, error) {
	if !player.IsHost {
		lock, err := e.acquireWithRetry(ctx, lockKey("join", session.ID), e.cfg.JoinLockTTL)
		if err != nil {
			return false, err
		}
		defer e.release(lock)

		players, err := e.repo.listPlayers(ctx, session.ID)
		if err != nil {
			return false, err
		}
		if countPlayers(players, false) >= session.Settings.MaxPlayers {
			return false, ErrSessionFull
		}
	}

	err := e.repo.createPlayer(ctx, session.ID, player)
	if errors.Is(err, statestore.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create player: %w", err)
	}
	return true, nil
}

// countPlayers counts non-host players, plus the host when it plays.
func countPlayers(players []models.Player, hostPlays bool) int {
	n := 0
	for _, p := range players {
		if !p.IsHost || hostPlays {
			n++
		}
	}
	return n
}

func (e *Engine) snapshot(ctx context.Context, session *models.Session, you *models.Player, reconnected bool) (events.GameData, error) {
	players, err := e.repo.listPlayers(ctx, session.ID)
	if err != nil {
		return events.GameData{}, err
	}
	views := make([]events.PlayerView, len(players))
	for i, p := range players {
		views[i] = events.NewPlayerView(p)
	}

	data := events.GameData{
		Session:     events.NewSessionView(*session),
		Players:     views,
		You:         events.NewPlayerView(*you),
		IsHost:      you.IsHost,
		Reconnected: reconnected,
		ServerTime:  e.now(),
	}

	switch session.State {
	case models.GameStateRoundResults, models.GameStateLeaderboard:
		res, err := e.repo.getResults(ctx, session.ID, session.Game, session.CurrentRound)
		if err == nil {
			data.LastResults = res
		} else if !errors.Is(err, ErrResultsUnavailable) {
			return events.GameData{}, err
		}
		data.Leaderboard = scoring.Leaderboard(players, session.Settings.HostPlays)
	case models.GameStateFinished, models.GameStatePlaying:
		data.Leaderboard = scoring.Leaderboard(players, session.Settings.HostPlays)
	}
	return data, nil
}

// member returns the binding of connID, which must belong to the session.
func (e *Engine) member(connID, code string) (Binding, error) {
	b, ok := e.hub.Binding(connID)
	if !ok || b.SessionID != code {
		return Binding{}, ErrNotInGame
	}
	return b, nil
}

// requireHost loads the session and checks connID is its recorded host.
func (e *Engine) requireHost(ctx context.Context, connID, code string) (*models.Session, error) {
	session, _, err := e.repo.getSession(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.HostConnID == "" || session.HostConnID != connID {
		return nil, ErrNotHost
	}
	return session, nil
}

func hostGuard(connID string, s *models.Session) error {
	if s.HostConnID != connID {
		return ErrNotHost
	}
	return nil
}

// Start moves the session from the lobby into play.
func (e *Engine) Start(ctx context.Context, connID, code string) error {
	code = NormalizeSessionCode(code)
	if _, err := e.requireHost(ctx, connID, code); err != nil {
		return err
	}

	session, err := e.repo.updateSession(ctx, code, func(s *models.Session) error {
		if err := hostGuard(connID, s); err != nil {
			return err
		}
		if s.State != models.GameStateLobby {
			return ErrInvalidState
		}
		now := e.now()
		s.State = models.GameStatePlaying
		s.StartedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("session_id", code).Msg("game started")
	return e.hub.Broadcast(ctx, code, events.GameStarted{
		Settings:  session.Settings,
		StartedAt: *session.StartedAt,
	}, "")
}

// End finishes the session. Ending from the lobby cancels the game; any
// other state publishes final standings.
func (e *Engine) End(ctx context.Context, connID, code string) error {
	code = NormalizeSessionCode(code)
	if _, err := e.requireHost(ctx, connID, code); err != nil {
		return err
	}

	var fromLobby bool
	session, err := e.repo.updateSession(ctx, code, func(s *models.Session) error {
		if err := hostGuard(connID, s); err != nil {
			return err
		}
		if s.State == models.GameStateFinished {
			return ErrInvalidState
		}
		fromLobby = s.State == models.GameStateLobby
		finishSession(s, e.now())
		return nil
	})
	if err != nil {
		return err
	}
	e.cancelSessionTimers(code)

	log.Info().Str("session_id", code).Bool("from_lobby", fromLobby).Msg("game ended by host")
	if fromLobby {
		return e.hub.Broadcast(ctx, code, events.GameCancelled{Reason: "host_ended"}, "")
	}
	return e.broadcastFinalResults(ctx, session)
}

func finishSession(s *models.Session, now time.Time) {
	s.State = models.GameStateFinished
	s.FinishedAt = &now
	s.RoundEndsAt = nil
}

func (e *Engine) broadcastFinalResults(ctx context.Context, session *models.Session) error {
	players, err := e.repo.listPlayers(ctx, session.ID)
	if err != nil {
		return err
	}
	return e.hub.Broadcast(ctx, session.ID, events.FinalResults{
		RoundsPlayed: session.RoundsPlayed,
		Leaderboard:  scoring.Leaderboard(players, session.Settings.HostPlays),
	}, "")
}

// Restart resets scores, rounds and used cards while keeping the code and
// roster. With toLobby the session returns to the lobby instead of play.
func (e *Engine) Restart(ctx context.Context, connID, code string, toLobby bool) error {
	code = NormalizeSessionCode(code)
	session, err := e.requireHost(ctx, connID, code)
	if err != nil {
		return err
	}
	if session.State == models.GameStateLobby {
		return withMessage(ErrInvalidState, "the game has not started")
	}
	if session.State == models.GameStateFinished {
		// the channel may have moved on to a newer session
		if err := e.repo.claimChannel(ctx, session.ChannelID, code); err != nil {
			return err
		}
	}

	e.cancelSessionTimers(code)
	if err := e.repo.clearGame(ctx, code); err != nil {
		return fmt.Errorf("clear game: %w", err)
	}

	players, err := e.repo.listPlayers(ctx, code)
	if err != nil {
		return err
	}
	for i := range players {
		updated, err := e.repo.updatePlayer(ctx, code, players[i].Name, func(p *models.Player) error {
			p.ResetScores()
			return nil
		})
		if errors.Is(err, ErrPlayerNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		players[i] = *updated
	}

	session, err = e.repo.updateSession(ctx, code, func(s *models.Session) error {
		if err := hostGuard(connID, s); err != nil {
			return err
		}
		if s.State == models.GameStateLobby {
			return ErrInvalidState
		}
		s.Game++
		s.CurrentRound = 0
		s.RoundsPlayed = 0
		s.RoundEndsAt = nil
		s.FinishedAt = nil
		if toLobby {
			s.State = models.GameStateLobby
			s.StartedAt = nil
		} else {
			now := e.now()
			s.State = models.GameStatePlaying
			s.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return err
	}

	views := make([]events.PlayerView, len(players))
	for i, p := range players {
		views[i] = events.NewPlayerView(p)
	}

	log.Info().Str("session_id", code).Bool("to_lobby", toLobby).Msg("game restarted")
	if toLobby {
		return e.hub.Broadcast(ctx, code, events.GameReset{Players: views}, "")
	}
	return e.hub.Broadcast(ctx, code, events.GameRestarted{Settings: session.Settings, Players: views}, "")
}

// UpdateSettings applies a partial settings change outside of live rounds.
func (e *Engine) UpdateSettings(ctx context.Context, connID, code string, patch models.GameSettingsPatch) error {
	code = NormalizeSessionCode(code)
	if _, err := e.requireHost(ctx, connID, code); err != nil {
		return err
	}
	players, err := e.repo.listPlayers(ctx, code)
	if err != nil {
		return err
	}

	session, err := e.repo.updateSession(ctx, code, func(s *models.Session) error {
		if err := hostGuard(connID, s); err != nil {
			return err
		}
		switch s.State {
		case models.GameStateCountdown, models.GameStateRoundActive, models.GameStateFinished:
			return ErrInvalidState
		}
		next := patch.Apply(s.Settings)
		if err := next.Validate(); err != nil {
			return withMessage(ErrInvalidSettings, err.Error())
		}
		if next.MaxPlayers < countPlayers(players, false) {
			return withMessage(ErrInvalidSettings, "max_players is below the current number of players")
		}
		s.Settings = next
		return nil
	})
	if err != nil {
		return err
	}

	return e.hub.Broadcast(ctx, code, events.SettingsUpdated{Settings: session.Settings}, "")
}

func (e *Engine) cancelSessionTimers(code string) {
	e.cancelTimer(countdownTimerKey(code))
	e.cancelTimer(roundTimerKey(code))
}
