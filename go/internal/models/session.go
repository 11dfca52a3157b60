package models

import (
	"fmt"
	"time"
)

// GameState defines the lifecycle state of a session.
type GameState string

const (
	GameStateLobby        GameState = "lobby"
	GameStatePlaying      GameState = "playing"
	GameStateCountdown    GameState = "countdown"
	GameStateRoundActive  GameState = "round-active"
	GameStateRoundResults GameState = "round-results"
	GameStateLeaderboard  GameState = "leaderboard"
	GameStateFinished     GameState = "finished"
)

// Settings limits.
const (
	MinMaxPlayers    = 1
	MaxMaxPlayers    = 100
	MinRoundTimer    = 15
	MaxRoundTimer    = 90
	MinTotalRounds   = 1
	MaxTotalRounds   = 100
	MinYearTolerance = 0
	MaxYearTolerance = 10
)

// GameSettings holds the per-session tunables chosen by the host.
type GameSettings struct {
	MaxPlayers    int  `json:"max_players"`
	RoundTimer    int  `json:"round_timer_sec"`
	TotalRounds   int  `json:"total_rounds"`
	YearTolerance int  `json:"year_tolerance"`
	HostPlays     bool `json:"host_plays"`
}

// DefaultGameSettings returns the settings used when the creator leaves fields unset.
func DefaultGameSettings() GameSettings {
	return GameSettings{
		MaxPlayers:    20,
		RoundTimer:    30,
		TotalRounds:   10,
		YearTolerance: 2,
		HostPlays:     false,
	}
}

// RoundTimerDuration returns the round timer as a duration.
func (s GameSettings) RoundTimerDuration() time.Duration {
	return time.Duration(s.RoundTimer) * time.Second
}

// Session is one running instance of the quiz, identified by a short code.
// Game counts restarts; round timers and cached results carry it so work
// left over from an earlier game is ignored.
type Session struct {
	ID           string       `json:"id"`
	ChannelID    int64        `json:"channel_id"`
	Sources      []int64      `json:"sources"`
	HostConnID   string       `json:"host_conn_id,omitempty"`
	HostName     string       `json:"host_name,omitempty"`
	State        GameState    `json:"state"`
	Settings     GameSettings `json:"settings"`
	Game         int          `json:"game"`
	CurrentRound int          `json:"current_round"`
	RoundsPlayed int          `json:"rounds_played"`
	RoundEndsAt  *time.Time   `json:"round_ends_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// IsActive reports whether the session still occupies its channel.
func (s *Session) IsActive() bool {
	return s.State != GameStateFinished
}

// AcceptsScan reports whether a card scan may start a new round.
func (s *Session) AcceptsScan() bool {
	switch s.State {
	case GameStatePlaying, GameStateLeaderboard, GameStateRoundResults:
		return true
	default:
		return false
	}
}

// Validate checks every setting against its allowed range.
func (s GameSettings) Validate() error {
	switch {
	case s.MaxPlayers < MinMaxPlayers || s.MaxPlayers > MaxMaxPlayers:
		return fmt.Errorf("max_players must be between %d and %d", MinMaxPlayers, MaxMaxPlayers)
	case s.RoundTimer < MinRoundTimer || s.RoundTimer > MaxRoundTimer:
		return fmt.Errorf("round_timer_sec must be between %d and %d", MinRoundTimer, MaxRoundTimer)
	case s.TotalRounds < MinTotalRounds || s.TotalRounds > MaxTotalRounds:
		return fmt.Errorf("total_rounds must be between %d and %d", MinTotalRounds, MaxTotalRounds)
	case s.YearTolerance < MinYearTolerance || s.YearTolerance > MaxYearTolerance:
		return fmt.Errorf("year_tolerance must be between %d and %d", MinYearTolerance, MaxYearTolerance)
	}
	return nil
}

// GameSettingsPatch is a partial settings update; nil fields keep their value.
type GameSettingsPatch struct {
	MaxPlayers    *int  `json:"max_players,omitempty" yaml:"max_players"`
	RoundTimer    *int  `json:"round_timer_sec,omitempty" yaml:"round_timer_sec"`
	TotalRounds   *int  `json:"total_rounds,omitempty" yaml:"total_rounds"`
	YearTolerance *int  `json:"year_tolerance,omitempty" yaml:"year_tolerance"`
	HostPlays     *bool `json:"host_plays,omitempty" yaml:"host_plays"`
}

// Apply returns base with the patch's set fields applied.
func (p GameSettingsPatch) Apply(base GameSettings) GameSettings {
	if p.MaxPlayers != nil {
		base.MaxPlayers = *p.MaxPlayers
	}
	if p.RoundTimer != nil {
		base.RoundTimer = *p.RoundTimer
	}
	if p.TotalRounds != nil {
		base.TotalRounds = *p.TotalRounds
	}
	if p.YearTolerance != nil {
		base.YearTolerance = *p.YearTolerance
	}
	if p.HostPlays != nil {
		base.HostPlays = *p.HostPlays
	}
	return base
}
