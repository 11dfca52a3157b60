package engine

import (
	"errors"
)

// Error is a rejected action. Code is the stable identifier sent to clients.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any Error with the same code, so detailed variants still satisfy
// errors.Is against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Validation
var (
	ErrInvalidPayload  = &Error{Code: "INVALID_PAYLOAD", Message: "invalid payload"}
	ErrNameRequired    = &Error{Code: "NAME_REQUIRED", Message: "a player name is required"}
	ErrNameTooLong     = &Error{Code: "NAME_TOO_LONG", Message: "player name is too long"}
	ErrInvalidSettings = &Error{Code: "INVALID_SETTINGS", Message: "invalid settings"}
	ErrInvalidField    = &Error{Code: "INVALID_FIELD", Message: "unknown answer field"}
)

// Authorization
var (
	ErrNotHost    = &Error{Code: "NOT_HOST", Message: "only the host can do that"}
	ErrNotPlaying = &Error{Code: "NOT_PLAYING", Message: "the host does not play in this session"}
)

// State
var (
	ErrInvalidState       = &Error{Code: "INVALID_STATE", Message: "action not allowed in the current game state"}
	ErrSessionNotFound    = &Error{Code: "SESSION_NOT_FOUND", Message: "session not found"}
	ErrGameAlreadyStarted = &Error{Code: "GAME_ALREADY_STARTED", Message: "the game has already started"}
	ErrNotInGame          = &Error{Code: "NOT_IN_GAME", Message: "not a member of this session"}
	ErrRoundClosed        = &Error{Code: "ROUND_CLOSED", Message: "the round is closed"}
	ErrResultsUnavailable = &Error{Code: "RESULTS_UNAVAILABLE", Message: "round results are not available"}
	ErrPlayerNotFound     = &Error{Code: "PLAYER_NOT_FOUND", Message: "player not found"}
	ErrChannelActive      = &Error{Code: "CHANNEL_ACTIVE", Message: "the channel already has an active session"}
	ErrSessionFull        = &Error{Code: "SESSION_FULL", Message: "the session is full"}
	ErrNameTaken          = &Error{Code: "NAME_TAKEN", Message: "that name is already taken"}
)

// Contention
var (
	ErrAlreadySubmitted = &Error{Code: "ALREADY_SUBMITTED", Message: "answer already submitted for this round"}
	ErrBusy             = &Error{Code: "BUSY", Message: "another update is in progress, try again"}
)

// CodeInternal is reported for infrastructure failures.
const CodeInternal = "INTERNAL"

// withMessage returns a copy of base carrying a more specific message.
func withMessage(base *Error, msg string) *Error {
	return &Error{Code: base.Code, Message: msg}
}

// CodeOf returns the client-facing code of err. Anything that is not an
// *Error is an infrastructure failure.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the client-facing message of err. Infrastructure details
// are not exposed.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
