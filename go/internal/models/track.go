package models

import "time"

// Track is the canonical answer behind a scanned card.
type Track struct {
	ContentID int64  `json:"content_id"`
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Year      *int   `json:"year,omitempty"`
}

// RoundTrack is the secret track of the round currently in play.
type RoundTrack struct {
	Game  int   `json:"game"`
	Round int   `json:"round"`
	Track Track `json:"track"`
}

// Answer is one player's submission for one round. It is written once.
type Answer struct {
	PlayerName  string    `json:"player_name"`
	Artist      string    `json:"artist"`
	Title       string    `json:"title"`
	Year        *int      `json:"year,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AnswerField identifies one scored axis of an answer.
type AnswerField string

const (
	AnswerFieldArtist AnswerField = "artist"
	AnswerFieldTitle  AnswerField = "title"
	AnswerFieldYear   AnswerField = "year"
)

// PlayerResult is the scored outcome of one player's answer in a round.
type PlayerResult struct {
	PlayerName    string  `json:"player_name"`
	Answer        *Answer `json:"answer,omitempty"`
	ArtistCorrect bool    `json:"artist_correct"`
	TitleCorrect  bool    `json:"title_correct"`
	YearPoints    int     `json:"year_points"`
	Points        int     `json:"points"`
	TotalScore    int     `json:"total_score"`
}

// RoundResults is computed once per (session, round) and cached.
type RoundResults struct {
	SessionID   string         `json:"session_id"`
	Game        int            `json:"game"`
	Round       int            `json:"round"`
	Track       Track          `json:"track"`
	Results     []PlayerResult `json:"results"`
	Leaderboard []Standing     `json:"leaderboard"`
	IsLastRound bool           `json:"is_last_round"`
	ComputedAt  time.Time      `json:"computed_at"`
	ComputedBy  string         `json:"computed_by"`
}
