package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
	"github.com/mcdev12/qrhit/go/internal/quiz/scoring"
	"github.com/rs/zerolog/log"
)

// OverrideAnswer lets the host flip one scored axis of a player's answer in
// the current round. Overrides for the same player are serialized by a
// short-lived lock; a concurrent override gets ErrBusy. The cached results
// are only changed with compare-and-set writes.
func (e *Engine) OverrideAnswer(ctx context.Context, connID, code string, msg events.OverrideAnswer) error {
	code = NormalizeSessionCode(code)
	switch msg.Field {
	case models.AnswerFieldArtist, models.AnswerFieldTitle, models.AnswerFieldYear:
	default:
		return ErrInvalidField
	}
	name := strings.TrimSpace(msg.PlayerName)
	if name == "" {
		return ErrNameRequired
	}

	session, err := e.requireHost(ctx, connID, code)
	if err != nil {
		return err
	}
	if session.State != models.GameStateRoundResults && session.State != models.GameStateLeaderboard {
		return ErrInvalidState
	}

	lock, err := e.tryLock(ctx, lockKey("override", code, nameKey(name)), e.cfg.OverrideLockTTL)
	if err != nil {
		return err
	}
	if lock == nil {
		return ErrBusy
	}
	defer e.release(lock)

	if _, _, err := e.repo.getPlayer(ctx, code, name); err != nil {
		return err
	}

	// Flip the entry on the freshest cached copy; other players' overrides
	// may have landed since the session was read.
	game, round := session.Game, session.CurrentRound
	var (
		updated  models.PlayerResult
		previous models.PlayerResult
		delta    int
	)
	if _, err := e.repo.updateResults(ctx, code, game, round, func(res *models.RoundResults) error {
		idx := resultIndex(res, name)
		if idx < 0 {
			return ErrPlayerNotFound
		}
		u, d, err := scoring.Override(res.Results[idx], msg.Field, msg.Correct)
		if err != nil {
			return withMessage(ErrInvalidField, err.Error())
		}
		previous, updated, delta = res.Results[idx], u, d
		if d == 0 {
			return errNoChange
		}
		res.Results[idx] = u
		return nil
	}); err != nil {
		return err
	}
	if delta == 0 {
		return nil
	}

	player, err := e.repo.updatePlayer(ctx, code, name, func(p *models.Player) error {
		p.Score += delta
		switch msg.Field {
		case models.AnswerFieldArtist:
			p.ArtistScore += delta
		case models.AnswerFieldTitle:
			p.TitleScore += delta
		case models.AnswerFieldYear:
			p.YearScore += delta
		}
		return nil
	})
	if err != nil {
		e.revertOverride(code, game, round, previous)
		return err
	}
	updated.TotalScore = player.Score

	// Players are listed after the cache is read so the last writer's
	// leaderboard includes every override that finished before it.
	results, err := e.repo.updateResults(ctx, code, game, round, func(res *models.RoundResults) error {
		players, err := e.repo.listPlayers(ctx, code)
		if err != nil {
			return err
		}
		if idx := resultIndex(res, name); idx >= 0 {
			res.Results[idx].TotalScore = player.Score
		}
		res.Leaderboard = scoring.Leaderboard(players, session.Settings.HostPlays)
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("session_id", code).
		Str("player", updated.PlayerName).
		Str("field", string(msg.Field)).
		Bool("correct", msg.Correct).
		Int("delta", delta).
		Msg("answer overridden")

	return e.hub.Broadcast(ctx, code, events.AnswerOverridden{
		Round:       results.Round,
		PlayerName:  updated.PlayerName,
		Field:       msg.Field,
		Correct:     msg.Correct,
		Delta:       delta,
		Result:      updated,
		Leaderboard: results.Leaderboard,
	}, "")
}

// revertOverride puts a player's result back after their score could not be
// updated, so the cache never shows a flip the score does not carry.
func (e *Engine) revertOverride(code string, game, round int, previous models.PlayerResult) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.JobTimeout)
	defer cancel()
	if _, err := e.repo.updateResults(ctx, code, game, round, func(res *models.RoundResults) error {
		idx := resultIndex(res, previous.PlayerName)
		if idx < 0 {
			return errNoChange
		}
		res.Results[idx] = previous
		return nil
	}); err != nil {
		log.Error().Err(err).Str("session_id", code).Str("player", previous.PlayerName).Msg("failed to revert override")
	}
}

func resultIndex(res *models.RoundResults, name string) int {
	for i, r := range res.Results {
		if strings.EqualFold(r.PlayerName, name) {
			return i
		}
	}
	return -1
}

// errIsNotFound reports whether err means the session or player is gone.
func errIsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrPlayerNotFound)
}
