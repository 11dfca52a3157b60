package models

import "time"

// MaxPlayerNameLength is the longest display name accepted on join.
const MaxPlayerNameLength = 20

// Player is a participant in a session. Name is the durable identity across
// reconnects; ConnID changes every time the player reconnects.
type Player struct {
	ConnID       string    `json:"conn_id"`
	Name         string    `json:"name"`
	Score        int       `json:"score"`
	ArtistScore  int       `json:"artist_score"`
	TitleScore   int       `json:"title_score"`
	YearScore    int       `json:"year_score"`
	JoinedAt     time.Time `json:"joined_at"`
	IsHost       bool      `json:"is_host"`
	HasSubmitted bool      `json:"has_submitted"`
	// ScoredGame and ScoredRound mark the last round whose points were
	// added to Score.
	ScoredGame  int `json:"scored_game"`
	ScoredRound int `json:"scored_round"`
}

// Scored reports whether the round's points are already in Score.
func (p *Player) Scored(game, round int) bool {
	return p.ScoredGame > game || (p.ScoredGame == game && p.ScoredRound >= round)
}

// ResetScores zeroes the cumulative score and all sub-totals.
func (p *Player) ResetScores() {
	p.Score = 0
	p.ArtistScore = 0
	p.TitleScore = 0
	p.YearScore = 0
	p.HasSubmitted = false
}

// Standing is one leaderboard row.
type Standing struct {
	Rank        int    `json:"rank"`
	Name        string `json:"name"`
	Score       int    `json:"score"`
	ArtistScore int    `json:"artist_score"`
	TitleScore  int    `json:"title_score"`
	YearScore   int    `json:"year_score"`
}
