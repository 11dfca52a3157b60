package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
	"github.com/mcdev12/qrhit/go/internal/quiz/scoring"
	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
	"github.com/rs/zerolog/log"
)

const maxAnswerLength = 200

// countdownElapsed opens the round once the countdown has run.
func (e *Engine) countdownElapsed(ctx context.Context, code string, game, round int) error {
	var opened bool
	session, err := e.repo.updateSession(ctx, code, func(s *models.Session) error {
		if s.State != models.GameStateCountdown || s.Game != game || s.CurrentRound != round {
			opened = false
			return errNoChange
		}
		ends := e.now().Add(s.Settings.RoundTimerDuration())
		s.State = models.GameStateRoundActive
		s.RoundEndsAt = &ends
		opened = true
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !opened {
		log.Debug().Str("session_id", code).Int("game", game).Int("round", round).Msg("stale countdown ignored")
		return nil
	}

	ends := *session.RoundEndsAt
	if err := e.repo.putRoundEnd(ctx, code, roundEnd{Game: game, Round: round, EndsAt: ends}); err != nil {
		log.Error().Err(err).Str("session_id", code).Msg("failed to store round end")
	}

	e.schedule(roundTimerKey(code), ends.Sub(e.now()), job{
		kind:      jobRoundExpired,
		sessionID: code,
		game:      game,
		round:     round,
	})

	log.Info().Str("session_id", code).Int("round", round).Time("ends_at", ends).Msg("round started")
	return e.hub.Broadcast(ctx, code, events.RoundStart{
		Round:       round,
		TotalRounds: session.Settings.TotalRounds,
		StartedAt:   e.now(),
		EndTime:     ends,
		DurationSec: session.Settings.RoundTimer,
	}, "")
}

// roundExpired closes the round when its timer runs out.
func (e *Engine) roundExpired(ctx context.Context, code string, game, round int) error {
	session, _, err := e.repo.getSession(ctx, code)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if session.State != models.GameStateRoundActive || session.Game != game || session.CurrentRound != round {
		return nil
	}
	_, err = e.completeRound(ctx, code, game, round)
	if errors.Is(err, ErrInvalidState) {
		return nil
	}
	return err
}

// SubmitAnswer records a player's answer for the current round. Each player
// answers once; the round closes early when every eligible player answered.
func (e *Engine) SubmitAnswer(ctx context.Context, connID, code string, msg events.SubmitAnswer) error {
	code = NormalizeSessionCode(code)
	member, err := e.member(connID, code)
	if err != nil {
		return err
	}

	artist := strings.TrimSpace(msg.Artist)
	title := strings.TrimSpace(msg.Title)
	if len(artist) > maxAnswerLength || len(title) > maxAnswerLength {
		return withMessage(ErrInvalidPayload, "answer is too long")
	}
	if msg.Year != nil && (*msg.Year < 0 || *msg.Year > 9999) {
		return withMessage(ErrInvalidPayload, "year is out of range")
	}

	session, _, err := e.repo.getSession(ctx, code)
	if err != nil {
		return err
	}
	switch session.State {
	case models.GameStateRoundActive:
	case models.GameStateRoundResults, models.GameStateLeaderboard:
		return ErrRoundClosed
	default:
		return ErrInvalidState
	}
	if msg.Round != 0 && msg.Round != session.CurrentRound {
		return ErrRoundClosed
	}
	if session.RoundEndsAt != nil && e.now().After(*session.RoundEndsAt) {
		return ErrRoundClosed
	}
	if member.Host && !session.Settings.HostPlays {
		return ErrNotPlaying
	}

	player, _, err := e.repo.getPlayer(ctx, code, member.Name)
	if errors.Is(err, ErrPlayerNotFound) {
		return ErrNotInGame
	}
	if err != nil {
		return err
	}

	round := session.CurrentRound
	if err := e.repo.createAnswer(ctx, code, round, &models.Answer{
		PlayerName:  player.Name,
		Artist:      artist,
		Title:       title,
		Year:        msg.Year,
		SubmittedAt: e.now(),
	}); err != nil {
		return err
	}

	if _, err := e.repo.updatePlayer(ctx, code, player.Name, func(p *models.Player) error {
		p.HasSubmitted = true
		return nil
	}); err != nil && !errors.Is(err, ErrPlayerNotFound) {
		return err
	}

	submitted, eligible, err := e.submissionCounts(ctx, session, round)
	if err != nil {
		return err
	}

	log.Info().
		Str("session_id", code).
		Str("player", player.Name).
		Int("round", round).
		Int("submitted", submitted).
		Int("eligible", eligible).
		Msg("answer submitted")

	if err := e.hub.Broadcast(ctx, code, events.PlayerSubmitted{
		Name:           player.Name,
		Round:          round,
		SubmittedCount: submitted,
		EligibleCount:  eligible,
	}, ""); err != nil {
		log.Error().Err(err).Str("session_id", code).Msg("failed to broadcast playerSubmitted")
	}

	if eligible > 0 && submitted >= eligible {
		if _, err := e.completeRound(ctx, code, session.Game, round); err != nil && !errors.Is(err, ErrInvalidState) {
			return err
		}
	}
	return nil
}

// submissionCounts returns how many eligible players answered the round and
// how many are eligible.
func (e *Engine) submissionCounts(ctx context.Context, session *models.Session, round int) (int, int, error) {
	players, err := e.repo.listPlayers(ctx, session.ID)
	if err != nil {
		return 0, 0, err
	}
	answers, err := e.repo.listAnswers(ctx, session.ID, round)
	if err != nil {
		return 0, 0, err
	}
	submitted, eligible := 0, 0
	for _, p := range players {
		if p.IsHost && !session.Settings.HostPlays {
			continue
		}
		eligible++
		if _, ok := answers[strings.ToLower(p.Name)]; ok {
			submitted++
		}
	}
	return submitted, eligible, nil
}

// maybeCompleteRound closes an active round whose remaining eligible
// players have all answered.
func (e *Engine) maybeCompleteRound(ctx context.Context, code string) error {
	session, _, err := e.repo.getSession(ctx, code)
	if err != nil {
		return err
	}
	if session.State != models.GameStateRoundActive {
		return nil
	}
	submitted, eligible, err := e.submissionCounts(ctx, session, session.CurrentRound)
	if err != nil {
		return err
	}
	if eligible == 0 || submitted < eligible {
		return nil
	}
	_, err = e.completeRound(ctx, code, session.Game, session.CurrentRound)
	if errors.Is(err, ErrInvalidState) {
		return nil
	}
	return err
}

// CompleteRound scores the current game's round exactly once across all
// workers and closes it.
func (e *Engine) CompleteRound(ctx context.Context, code string, round int) (*models.RoundResults, error) {
	code = NormalizeSessionCode(code)
	session, _, err := e.repo.getSession(ctx, code)
	if err != nil {
		return nil, err
	}
	return e.completeRound(ctx, code, session.Game, round)
}

// completeRound gets the round's results, computing them if nobody has, then
// closes the round. Both steps are safe to repeat: a caller that failed
// after the results were cached finishes the round on its next attempt.
func (e *Engine) completeRound(ctx context.Context, code string, game, round int) (*models.RoundResults, error) {
	results, err := e.roundResults(ctx, code, game, round)
	if err != nil {
		return nil, err
	}
	if err := e.finishRound(ctx, code, results); err != nil {
		return nil, err
	}
	return results, nil
}

// roundResults returns the cached results of the round. The first caller to
// take the (session, game, round) lock computes and caches them; every other
// caller waits for the cached copy.
func (e *Engine) roundResults(ctx context.Context, code string, game, round int) (*models.RoundResults, error) {
	if cached, err := e.repo.getResults(ctx, code, game, round); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrResultsUnavailable) {
		return nil, err
	}

	lock, err := e.tryLock(ctx, lockKey("results", code, fmt.Sprint(game), fmt.Sprint(round)), e.cfg.ResultsLockTTL)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return e.awaitResults(ctx, code, game, round)
	}
	defer e.release(lock)

	if cached, err := e.repo.getResults(ctx, code, game, round); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrResultsUnavailable) {
		return nil, err
	}

	session, _, err := e.repo.getSession(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.State != models.GameStateRoundActive || session.Game != game || session.CurrentRound != round {
		return nil, ErrInvalidState
	}

	results, err := e.computeResults(ctx, session, round)
	if err != nil {
		return nil, err
	}

	// The cache write is the commit point: once it exists nobody recomputes.
	if err := e.repo.createResults(ctx, results); err != nil {
		if errors.Is(err, statestore.ErrKeyExists) {
			return e.repo.getResults(ctx, code, game, round)
		}
		return nil, fmt.Errorf("cache results: %w", err)
	}

	log.Info().
		Str("session_id", code).
		Int("round", round).
		Int("players", len(results.Results)).
		Str("instance", e.instanceID).
		Msg("round results computed")
	return results, nil
}

// finishRound applies the cached scores and moves the session to the
// results view. It does nothing once the session has left the round, and
// only the caller that makes the transition broadcasts the results.
func (e *Engine) finishRound(ctx context.Context, code string, results *models.RoundResults) error {
	open := func(s *models.Session) bool {
		return s.State == models.GameStateRoundActive && s.Game == results.Game && s.CurrentRound == results.Round
	}
	session, _, err := e.repo.getSession(ctx, code)
	if err != nil {
		return err
	}
	if !open(session) {
		return nil
	}

	if err := e.applyScores(ctx, code, results); err != nil {
		return err
	}

	var closed bool
	if _, err := e.repo.updateSession(ctx, code, func(s *models.Session) error {
		if !open(s) {
			closed = false
			return errNoChange
		}
		s.State = models.GameStateRoundResults
		s.RoundsPlayed++
		s.RoundEndsAt = nil
		closed = true
		return nil
	}); err != nil {
		return fmt.Errorf("close round: %w", err)
	}
	if !closed {
		return nil
	}
	e.cancelTimer(roundTimerKey(code))

	log.Info().Str("session_id", code).Int("round", results.Round).Msg("round closed")
	if err := e.hub.Broadcast(ctx, code, events.RoundResults{RoundResults: *results}, ""); err != nil {
		log.Error().Err(err).Str("session_id", code).Msg("failed to broadcast roundResults")
	}
	return nil
}

// computeResults scores every eligible player's answer against the round's
// track.
func (e *Engine) computeResults(ctx context.Context, session *models.Session, round int) (*models.RoundResults, error) {
	e.resultsComputed.Add(1)

	track, err := e.repo.getTrack(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if track.Game != session.Game || track.Round != round {
		return nil, fmt.Errorf("round track is for game %d round %d, want game %d round %d",
			track.Game, track.Round, session.Game, round)
	}
	players, err := e.repo.listPlayers(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	answers, err := e.repo.listAnswers(ctx, session.ID, round)
	if err != nil {
		return nil, err
	}

	results := &models.RoundResults{
		SessionID:   session.ID,
		Game:        session.Game,
		Round:       round,
		Track:       track.Track,
		IsLastRound: session.RoundsPlayed+1 >= session.Settings.TotalRounds,
		ComputedAt:  e.now(),
		ComputedBy:  e.instanceID,
	}
	scored := make([]models.Player, 0, len(players))
	for _, p := range players {
		if p.IsHost && !session.Settings.HostPlays {
			scored = append(scored, p)
			continue
		}
		answer := answers[strings.ToLower(p.Name)]
		res := scoring.Score(track.Track, answer, session.Settings.YearTolerance)
		points := res.Points()

		p.Score += points
		if res.ArtistCorrect {
			p.ArtistScore += scoring.ArtistPoints
		}
		if res.TitleCorrect {
			p.TitleScore += scoring.TitlePoints
		}
		p.YearScore += res.YearPoints
		scored = append(scored, p)

		results.Results = append(results.Results, models.PlayerResult{
			PlayerName:    p.Name,
			Answer:        answer,
			ArtistCorrect: res.ArtistCorrect,
			TitleCorrect:  res.TitleCorrect,
			YearPoints:    res.YearPoints,
			Points:        points,
			TotalScore:    p.Score,
		})
	}
	results.Leaderboard = scoring.Leaderboard(scored, session.Settings.HostPlays)
	return results, nil
}

// applyScores adds each player's round points to their stored totals. A
// player already marked as scored for the round is left alone.
func (e *Engine) applyScores(ctx context.Context, code string, results *models.RoundResults) error {
	byName := make(map[string]models.PlayerResult, len(results.Results))
	for _, r := range results.Results {
		byName[strings.ToLower(r.PlayerName)] = r
	}
	players, err := e.repo.listPlayers(ctx, code)
	if err != nil {
		return err
	}
	for _, p := range players {
		r, ok := byName[strings.ToLower(p.Name)]
		_, err := e.repo.updatePlayer(ctx, code, p.Name, func(pl *models.Player) error {
			if !ok || pl.Scored(results.Game, results.Round) {
				if !pl.HasSubmitted {
					return errNoChange
				}
				pl.HasSubmitted = false
				return nil
			}
			pl.HasSubmitted = false
			pl.Score += r.Points
			if r.ArtistCorrect {
				pl.ArtistScore += scoring.ArtistPoints
			}
			if r.TitleCorrect {
				pl.TitleScore += scoring.TitlePoints
			}
			pl.YearScore += r.YearPoints
			pl.ScoredGame = results.Game
			pl.ScoredRound = results.Round
			return nil
		})
		if errors.Is(err, ErrPlayerNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("apply score for %s: %w", p.Name, err)
		}
	}
	return nil
}

// awaitResults polls the cache while another worker computes the results.
func (e *Engine) awaitResults(ctx context.Context, code string, game, round int) (*models.RoundResults, error) {
	ticker := e.pollClock.NewTicker(e.cfg.ResultsPollInterval)
	defer ticker.Stop()
	deadline := e.pollClock.After(e.cfg.ResultsPollTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrResultsUnavailable
		case <-ticker.Chan():
			res, err := e.repo.getResults(ctx, code, game, round)
			if err == nil {
				return res, nil
			}
			if !errors.Is(err, ErrResultsUnavailable) {
				return nil, err
			}
		}
	}
}

// ShowResults re-broadcasts the current round's cached results.
func (e *Engine) ShowResults(ctx context.Context, connID, code string) error {
	code = NormalizeSessionCode(code)
	session, err := e.requireHost(ctx, connID, code)
	if err != nil {
		return err
	}
	if session.State != models.GameStateRoundResults && session.State != models.GameStateLeaderboard {
		return ErrInvalidState
	}
	results, err := e.repo.getResults(ctx, code, session.Game, session.CurrentRound)
	if err != nil {
		return err
	}

	if session.State == models.GameStateLeaderboard {
		if _, err := e.repo.updateSession(ctx, code, func(s *models.Session) error {
			if s.State != models.GameStateLeaderboard {
				return errNoChange
			}
			s.State = models.GameStateRoundResults
			return nil
		}); err != nil {
			return err
		}
	}
	return e.hub.Broadcast(ctx, code, events.RoundResults{RoundResults: *results}, "")
}

// ShowLeaderboard moves the session to the leaderboard view.
func (e *Engine) ShowLeaderboard(ctx context.Context, connID, code string) error {
	code = NormalizeSessionCode(code)
	if _, err := e.requireHost(ctx, connID, code); err != nil {
		return err
	}
	session, err := e.repo.updateSession(ctx, code, func(s *models.Session) error {
		if err := hostGuard(connID, s); err != nil {
			return err
		}
		switch s.State {
		case models.GameStatePlaying, models.GameStateRoundResults:
			s.State = models.GameStateLeaderboard
			return nil
		case models.GameStateLeaderboard:
			return errNoChange
		default:
			return ErrInvalidState
		}
	})
	if err != nil {
		return err
	}

	players, err := e.repo.listPlayers(ctx, code)
	if err != nil {
		return err
	}
	return e.hub.Broadcast(ctx, code, events.Leaderboard{
		Round:       session.CurrentRound,
		TotalRounds: session.Settings.TotalRounds,
		Standings:   scoring.Leaderboard(players, session.Settings.HostPlays),
	}, "")
}
