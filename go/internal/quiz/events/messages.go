package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/qrhit/go/internal/models"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownMessage   = errors.New("unknown message type")
)

// MessageType is the tag of an inbound message.
type MessageType string

const (
	MessageJoin            MessageType = "join"
	MessageRejoin          MessageType = "rejoin"
	MessageStart           MessageType = "start"
	MessageSubmitAnswer    MessageType = "submitAnswer"
	MessageShowResults     MessageType = "showResults"
	MessageShowLeaderboard MessageType = "showLeaderboard"
	MessageEnd             MessageType = "end"
	MessageRestart         MessageType = "restart"
	MessageOverrideAnswer  MessageType = "overrideAnswer"
	MessageUpdateSettings  MessageType = "updateSettings"
)

// Message is an inbound message. The set of implementations is closed.
type Message interface {
	MessageType() MessageType
	isMessage()
}

// Inbound is the wire form of a message.
type Inbound struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Join attaches a connection to a session. Host connections set Host.
type Join struct {
	Name string `json:"name"`
	Host bool   `json:"host"`
}

// Rejoin is a join that only succeeds for a name already in the session.
type Rejoin struct {
	Name string `json:"name"`
	Host bool   `json:"host"`
}

type Start struct{}

type SubmitAnswer struct {
	Round  int    `json:"round"`
	Artist string `json:"artist"`
	Title  string `json:"title"`
	Year   *int   `json:"year,omitempty"`
}

type ShowResults struct{}

type ShowLeaderboard struct{}

type End struct{}

type Restart struct {
	ToLobby bool `json:"to_lobby"`
}

type OverrideAnswer struct {
	PlayerName string             `json:"player_name"`
	Field      models.AnswerField `json:"field"`
	Correct    bool               `json:"correct"`
}

type UpdateSettings struct {
	models.GameSettingsPatch
}

func (Join) MessageType() MessageType            { return MessageJoin }
func (Rejoin) MessageType() MessageType          { return MessageRejoin }
func (Start) MessageType() MessageType           { return MessageStart }
func (SubmitAnswer) MessageType() MessageType    { return MessageSubmitAnswer }
func (ShowResults) MessageType() MessageType     { return MessageShowResults }
func (ShowLeaderboard) MessageType() MessageType { return MessageShowLeaderboard }
func (End) MessageType() MessageType             { return MessageEnd }
func (Restart) MessageType() MessageType         { return MessageRestart }
func (OverrideAnswer) MessageType() MessageType  { return MessageOverrideAnswer }
func (UpdateSettings) MessageType() MessageType  { return MessageUpdateSettings }

func (Join) isMessage()            {}
func (Rejoin) isMessage()          {}
func (Start) isMessage()           {}
func (SubmitAnswer) isMessage()    {}
func (ShowResults) isMessage()     {}
func (ShowLeaderboard) isMessage() {}
func (End) isMessage()             {}
func (Restart) isMessage()         {}
func (OverrideAnswer) isMessage()  {}
func (UpdateSettings) isMessage()  {}

// DecodeMessage parses an inbound frame. It returns the session id the frame
// is addressed to and the typed message.
func DecodeMessage(raw []byte) (string, Message, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var (
		msg Message
		err error
	)
	switch in.Type {
	case MessageJoin:
		msg, err = decodeMessageAs[Join](in.Data)
	case MessageRejoin:
		msg, err = decodeMessageAs[Rejoin](in.Data)
	case MessageStart:
		msg, err = decodeMessageAs[Start](in.Data)
	case MessageSubmitAnswer:
		msg, err = decodeMessageAs[SubmitAnswer](in.Data)
	case MessageShowResults:
		msg, err = decodeMessageAs[ShowResults](in.Data)
	case MessageShowLeaderboard:
		msg, err = decodeMessageAs[ShowLeaderboard](in.Data)
	case MessageEnd:
		msg, err = decodeMessageAs[End](in.Data)
	case MessageRestart:
		msg, err = decodeMessageAs[Restart](in.Data)
	case MessageOverrideAnswer:
		msg, err = decodeMessageAs[OverrideAnswer](in.Data)
	case MessageUpdateSettings:
		msg, err = decodeMessageAs[UpdateSettings](in.Data)
	default:
		return in.SessionID, nil, fmt.Errorf("%w: %q", ErrUnknownMessage, in.Type)
	}
	if err != nil {
		return in.SessionID, nil, err
	}
	return in.SessionID, msg, nil
}

func decodeMessageAs[T Message](data json.RawMessage) (Message, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, v.MessageType(), err)
	}
	return v, nil
}

// EncodeMessage builds the wire frame for msg. Clients and tests use it.
func EncodeMessage(sessionID string, msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	return json.Marshal(Inbound{Type: msg.MessageType(), SessionID: sessionID, Data: data})
}
