// Package events defines the quiz wire protocol: the outbound events sent to
// connections and the inbound messages connections send.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/qrhit/go/internal/models"
)

// Type is the tag of an outbound event.
type Type string

const (
	TypeConnected        Type = "connected"
	TypeGameData         Type = "gameData"
	TypePlayerJoined     Type = "playerJoined"
	TypePlayerLeft       Type = "playerLeft"
	TypeGameStarted      Type = "gameStarted"
	TypeDuplicateCard    Type = "duplicateCard"
	TypeCountdown        Type = "countdown"
	TypeRoundStart       Type = "roundStart"
	TypePlayerSubmitted  Type = "playerSubmitted"
	TypeRoundResults     Type = "roundResults"
	TypeLeaderboard      Type = "leaderboard"
	TypeAnswerOverridden Type = "answerOverridden"
	TypeSettingsUpdated  Type = "settingsUpdated"
	TypeHostLeft         Type = "hostLeft"
	TypeGameCancelled    Type = "gameCancelled"
	TypeGameReset        Type = "gameReset"
	TypeFinalResults     Type = "finalResults"
	TypeGameRestarted    Type = "gameRestarted"
	TypeError            Type = "error"
)

// Event is an outbound event. The set of implementations is closed.
type Event interface {
	Type() Type
	isEvent()
}

// Envelope is the wire form of an event.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PlayerView is a player as other connections see it.
type PlayerView struct {
	Name         string `json:"name"`
	Score        int    `json:"score"`
	ArtistScore  int    `json:"artist_score"`
	TitleScore   int    `json:"title_score"`
	YearScore    int    `json:"year_score"`
	IsHost       bool   `json:"is_host"`
	HasSubmitted bool   `json:"has_submitted"`
}

// NewPlayerView strips connection details from a player record.
func NewPlayerView(p models.Player) PlayerView {
	return PlayerView{
		Name:         p.Name,
		Score:        p.Score,
		ArtistScore:  p.ArtistScore,
		TitleScore:   p.TitleScore,
		YearScore:    p.YearScore,
		IsHost:       p.IsHost,
		HasSubmitted: p.HasSubmitted,
	}
}

// SessionView is the public part of a session record.
type SessionView struct {
	ID           string              `json:"id"`
	ChannelID    int64               `json:"channel_id"`
	HostName     string              `json:"host_name,omitempty"`
	State        models.GameState    `json:"state"`
	Settings     models.GameSettings `json:"settings"`
	CurrentRound int                 `json:"current_round"`
	RoundsPlayed int                 `json:"rounds_played"`
	RoundEndsAt  *time.Time          `json:"round_ends_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
}

// NewSessionView strips connection details from a session record.
func NewSessionView(s models.Session) SessionView {
	return SessionView{
		ID:           s.ID,
		ChannelID:    s.ChannelID,
		HostName:     s.HostName,
		State:        s.State,
		Settings:     s.Settings,
		CurrentRound: s.CurrentRound,
		RoundsPlayed: s.RoundsPlayed,
		RoundEndsAt:  s.RoundEndsAt,
		CreatedAt:    s.CreatedAt,
		StartedAt:    s.StartedAt,
	}
}

type Connected struct {
	ConnectionID string `json:"connection_id"`
}

// GameData is the full snapshot a connection receives on join and rejoin.
type GameData struct {
	Session     SessionView          `json:"session"`
	Players     []PlayerView         `json:"players"`
	You         PlayerView           `json:"you"`
	IsHost      bool                 `json:"is_host"`
	Reconnected bool                 `json:"reconnected"`
	LastResults *models.RoundResults `json:"last_results,omitempty"`
	Leaderboard []models.Standing    `json:"leaderboard,omitempty"`
	ServerTime  time.Time            `json:"server_time"`
}

type PlayerJoined struct {
	Player      PlayerView `json:"player"`
	PlayerCount int        `json:"player_count"`
	Reconnected bool       `json:"reconnected"`
}

type PlayerLeft struct {
	Name        string `json:"name"`
	PlayerCount int    `json:"player_count"`
}

type GameStarted struct {
	Settings  models.GameSettings `json:"settings"`
	StartedAt time.Time           `json:"started_at"`
}

type DuplicateCard struct {
	ContentID int64 `json:"content_id"`
	Round     int   `json:"round"`
}

type Countdown struct {
	Round       int `json:"round"`
	TotalRounds int `json:"total_rounds"`
	Seconds     int `json:"seconds"`
}

type RoundStart struct {
	Round       int       `json:"round"`
	TotalRounds int       `json:"total_rounds"`
	StartedAt   time.Time `json:"started_at"`
	EndTime     time.Time `json:"end_time"`
	DurationSec int       `json:"duration_sec"`
}

type PlayerSubmitted struct {
	Name           string `json:"name"`
	Round          int    `json:"round"`
	SubmittedCount int    `json:"submitted_count"`
	EligibleCount  int    `json:"eligible_count"`
}

// RoundResults carries the cached results record unchanged.
type RoundResults struct {
	models.RoundResults
}

type Leaderboard struct {
	Round       int               `json:"round"`
	TotalRounds int               `json:"total_rounds"`
	Standings   []models.Standing `json:"standings"`
}

type AnswerOverridden struct {
	Round       int                 `json:"round"`
	PlayerName  string              `json:"player_name"`
	Field       models.AnswerField  `json:"field"`
	Correct     bool                `json:"correct"`
	Delta       int                 `json:"delta"`
	Result      models.PlayerResult `json:"result"`
	Leaderboard []models.Standing   `json:"leaderboard"`
}

type SettingsUpdated struct {
	Settings models.GameSettings `json:"settings"`
}

type HostLeft struct {
	Reason string `json:"reason"`
}

type GameCancelled struct {
	Reason string `json:"reason"`
}

type GameReset struct {
	Players []PlayerView `json:"players"`
}

type FinalResults struct {
	RoundsPlayed int               `json:"rounds_played"`
	Leaderboard  []models.Standing `json:"leaderboard"`
}

type GameRestarted struct {
	Settings models.GameSettings `json:"settings"`
	Players  []PlayerView        `json:"players"`
}

// Error reports a rejected action to the connection that attempted it.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

func (Connected) Type() Type        { return TypeConnected }
func (GameData) Type() Type         { return TypeGameData }
func (PlayerJoined) Type() Type     { return TypePlayerJoined }
func (PlayerLeft) Type() Type       { return TypePlayerLeft }
func (GameStarted) Type() Type      { return TypeGameStarted }
func (DuplicateCard) Type() Type    { return TypeDuplicateCard }
func (Countdown) Type() Type        { return TypeCountdown }
func (RoundStart) Type() Type       { return TypeRoundStart }
func (PlayerSubmitted) Type() Type  { return TypePlayerSubmitted }
func (RoundResults) Type() Type     { return TypeRoundResults }
func (Leaderboard) Type() Type      { return TypeLeaderboard }
func (AnswerOverridden) Type() Type { return TypeAnswerOverridden }
func (SettingsUpdated) Type() Type  { return TypeSettingsUpdated }
func (HostLeft) Type() Type         { return TypeHostLeft }
func (GameCancelled) Type() Type    { return TypeGameCancelled }
func (GameReset) Type() Type        { return TypeGameReset }
func (FinalResults) Type() Type     { return TypeFinalResults }
func (GameRestarted) Type() Type    { return TypeGameRestarted }
func (Error) Type() Type            { return TypeError }

func (Connected) isEvent()        {}
func (GameData) isEvent()         {}
func (PlayerJoined) isEvent()     {}
func (PlayerLeft) isEvent()       {}
func (GameStarted) isEvent()      {}
func (DuplicateCard) isEvent()    {}
func (Countdown) isEvent()        {}
func (RoundStart) isEvent()       {}
func (PlayerSubmitted) isEvent()  {}
func (RoundResults) isEvent()     {}
func (Leaderboard) isEvent()      {}
func (AnswerOverridden) isEvent() {}
func (SettingsUpdated) isEvent()  {}
func (HostLeft) isEvent()         {}
func (GameCancelled) isEvent()    {}
func (GameReset) isEvent()        {}
func (FinalResults) isEvent()     {}
func (GameRestarted) isEvent()    {}
func (Error) isEvent()            {}

// Marshal encodes an event into its wire envelope.
func Marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Type(), err)
	}
	return json.Marshal(Envelope{Type: ev.Type(), Data: data})
}

// Decode parses a wire envelope back into its typed event.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	if err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var ev Event
	switch env.Type {
	case TypeConnected:
		ev = decodeAs[Connected](env.Data, &err)
	case TypeGameData:
		ev = decodeAs[GameData](env.Data, &err)
	case TypePlayerJoined:
		ev = decodeAs[PlayerJoined](env.Data, &err)
	case TypePlayerLeft:
		ev = decodeAs[PlayerLeft](env.Data, &err)
	case TypeGameStarted:
		ev = decodeAs[GameStarted](env.Data, &err)
	case TypeDuplicateCard:
		ev = decodeAs[DuplicateCard](env.Data, &err)
	case TypeCountdown:
		ev = decodeAs[Countdown](env.Data, &err)
	case TypeRoundStart:
		ev = decodeAs[RoundStart](env.Data, &err)
	case TypePlayerSubmitted:
		ev = decodeAs[PlayerSubmitted](env.Data, &err)
	case TypeRoundResults:
		ev = decodeAs[RoundResults](env.Data, &err)
	case TypeLeaderboard:
		ev = decodeAs[Leaderboard](env.Data, &err)
	case TypeAnswerOverridden:
		ev = decodeAs[AnswerOverridden](env.Data, &err)
	case TypeSettingsUpdated:
		ev = decodeAs[SettingsUpdated](env.Data, &err)
	case TypeHostLeft:
		ev = decodeAs[HostLeft](env.Data, &err)
	case TypeGameCancelled:
		ev = decodeAs[GameCancelled](env.Data, &err)
	case TypeGameReset:
		ev = decodeAs[GameReset](env.Data, &err)
	case TypeFinalResults:
		ev = decodeAs[FinalResults](env.Data, &err)
	case TypeGameRestarted:
		ev = decodeAs[GameRestarted](env.Data, &err)
	case TypeError:
		ev = decodeAs[Error](env.Data, &err)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeAs[T Event](data json.RawMessage, errp *error) Event {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		*errp = fmt.Errorf("unmarshal %s payload: %w", v.Type(), err)
	}
	return v
}
