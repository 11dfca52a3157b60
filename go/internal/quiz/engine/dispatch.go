package engine

import (
	"context"
	"fmt"

	"github.com/mcdev12/qrhit/go/internal/quiz/events"
)

// HandleMessage routes an inbound message from connID to its operation.
func (e *Engine) HandleMessage(ctx context.Context, connID, sessionID string, msg events.Message) error {
	if sessionID == "" {
		return withMessage(ErrInvalidPayload, "sessionId is required")
	}

	switch m := msg.(type) {
	case events.Join:
		return e.Join(ctx, connID, sessionID, JoinParams{Name: m.Name, Host: m.Host})
	case events.Rejoin:
		return e.Join(ctx, connID, sessionID, JoinParams{Name: m.Name, Host: m.Host, Rejoin: true})
	case events.Start:
		return e.Start(ctx, connID, sessionID)
	case events.SubmitAnswer:
		return e.SubmitAnswer(ctx, connID, sessionID, m)
	case events.ShowResults:
		return e.ShowResults(ctx, connID, sessionID)
	case events.ShowLeaderboard:
		return e.ShowLeaderboard(ctx, connID, sessionID)
	case events.End:
		return e.End(ctx, connID, sessionID)
	case events.Restart:
		return e.Restart(ctx, connID, sessionID, m.ToLobby)
	case events.OverrideAnswer:
		return e.OverrideAnswer(ctx, connID, sessionID, m)
	case events.UpdateSettings:
		return e.UpdateSettings(ctx, connID, sessionID, m.GameSettingsPatch)
	default:
		return withMessage(ErrInvalidPayload, fmt.Sprintf("unsupported message %T", msg))
	}
}

// ErrorEvent converts a failed action into the event sent back to the caller.
func ErrorEvent(err error, action events.MessageType) events.Error {
	return events.Error{
		Code:    CodeOf(err),
		Message: MessageOf(err),
		Action:  string(action),
	}
}
