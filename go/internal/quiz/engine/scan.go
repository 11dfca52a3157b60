package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/catalog"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
	"github.com/rs/zerolog/log"
)

// HandleCardScan starts a round for the channel's active session when a card
// is scanned. Scans with no session, in the wrong state, or for unknown
// cards are dropped. A card already played in the session produces a
// duplicateCard notification instead of a round.
func (e *Engine) HandleCardScan(ctx context.Context, channelID, contentID int64) error {
	session, err := e.ActiveSessionForChannel(ctx, channelID)
	if errors.Is(err, ErrSessionNotFound) {
		log.Debug().Int64("channel_id", channelID).Msg("scan ignored: no active session")
		return nil
	}
	if err != nil {
		return err
	}
	code := session.ID
	logger := log.With().
		Str("session_id", code).
		Int64("channel_id", channelID).
		Int64("content_id", contentID).
		Str("instance", e.instanceID).
		Logger()

	lock, err := e.tryLock(ctx, lockKey("scan", code), e.cfg.ScanLockTTL)
	if err != nil {
		return err
	}
	if lock == nil {
		logger.Info().Msg("scan ignored: another scan is being processed")
		return nil
	}
	defer e.release(lock)

	session, _, err = e.repo.getSession(ctx, code)
	if err != nil {
		return err
	}
	if !session.AcceptsScan() {
		logger.Info().Str("state", string(session.State)).Msg("scan ignored: session not accepting cards")
		return nil
	}

	track, err := e.catalog.Track(ctx, channelID, contentID)
	if errors.Is(err, catalog.ErrTrackNotFound) {
		logger.Warn().Msg("scan ignored: unknown card")
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up track: %w", err)
	}

	fresh, err := e.repo.markUsed(ctx, code, contentID)
	if err != nil {
		return err
	}
	if !fresh {
		logger.Info().Msg("duplicate card")
		return e.hub.Broadcast(ctx, code, events.DuplicateCard{
			ContentID: contentID,
			Round:     session.CurrentRound,
		}, "")
	}

	game, round := session.Game, session.CurrentRound+1
	if err := e.prepareRound(ctx, code, game, round, *track); err != nil {
		e.rollbackUsed(code, contentID)
		return err
	}

	session, err = e.repo.updateSession(ctx, code, func(s *models.Session) error {
		if !s.AcceptsScan() || s.Game != game || s.CurrentRound != round-1 {
			return ErrInvalidState
		}
		s.State = models.GameStateCountdown
		s.CurrentRound = round
		s.RoundEndsAt = nil
		return nil
	})
	if err != nil {
		e.rollbackUsed(code, contentID)
		if errors.Is(err, ErrInvalidState) {
			logger.Info().Msg("scan ignored: session changed while preparing round")
			return nil
		}
		return err
	}

	logger.Info().Int("round", round).Msg("countdown started")
	if err := e.hub.Broadcast(ctx, code, events.Countdown{
		Round:       round,
		TotalRounds: session.Settings.TotalRounds,
		Seconds:     int(e.cfg.CountdownDelay.Seconds()),
	}, ""); err != nil {
		logger.Error().Err(err).Msg("failed to broadcast countdown")
	}

	e.schedule(countdownTimerKey(code), e.cfg.CountdownDelay, job{
		kind:      jobCountdownElapsed,
		sessionID: code,
		game:      game,
		round:     round,
	})
	return nil
}

// prepareRound stores the secret track and clears the previous round's
// answers and submission flags.
func (e *Engine) prepareRound(ctx context.Context, code string, game, round int, track models.Track) error {
	if err := e.repo.putTrack(ctx, code, models.RoundTrack{Game: game, Round: round, Track: track}); err != nil {
		return err
	}
	if err := e.repo.clearAnswers(ctx, code); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	players, err := e.repo.listPlayers(ctx, code)
	if err != nil {
		return err
	}
	for _, p := range players {
		if !p.HasSubmitted {
			continue
		}
		_, err := e.repo.updatePlayer(ctx, code, p.Name, func(pl *models.Player) error {
			if !pl.HasSubmitted {
				return errNoChange
			}
			pl.HasSubmitted = false
			return nil
		})
		if err != nil && !errors.Is(err, ErrPlayerNotFound) {
			return err
		}
	}
	return nil
}

func (e *Engine) rollbackUsed(code string, contentID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.JobTimeout)
	defer cancel()
	if err := e.repo.unmarkUsed(ctx, code, contentID); err != nil {
		log.Error().Err(err).Str("session_id", code).Int64("content_id", contentID).Msg("failed to release card")
	}
}
