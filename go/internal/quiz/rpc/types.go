package rpc

import (
	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
)

type CreateSessionRequest struct {
	ChannelID int64                    `json:"channel_id"`
	Sources   []int64                  `json:"sources,omitempty"`
	Settings  models.GameSettingsPatch `json:"settings"`
}

type CreateSessionResponse struct {
	Session events.SessionView `json:"session"`
}

type GetSessionRequest struct {
	SessionID string `json:"session_id"`
}

type GetSessionResponse struct {
	Session     events.SessionView  `json:"session"`
	Players     []events.PlayerView `json:"players"`
	Leaderboard []models.Standing   `json:"leaderboard"`
}

type HandleCardScanRequest struct {
	ChannelID int64 `json:"channel_id"`
	ContentID int64 `json:"content_id"`
}

type HandleCardScanResponse struct {
	// SessionID is the channel's active session at the time of the scan, if any.
	SessionID string `json:"session_id,omitempty"`
}
