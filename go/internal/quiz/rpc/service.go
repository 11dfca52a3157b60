package rpc

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/engine"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
	"github.com/mcdev12/qrhit/go/internal/quiz/scoring"
	"github.com/rs/zerolog/log"
)

// QuizEngine defines what the RPC layer needs from the engine
type QuizEngine interface {
	CreateSession(ctx context.Context, p engine.CreateSessionParams) (*models.Session, error)
	GetSession(ctx context.Context, code string) (*models.Session, []models.Player, error)
	ActiveSessionForChannel(ctx context.Context, channelID int64) (*models.Session, error)
	HandleCardScan(ctx context.Context, channelID, contentID int64) error
}

// Service implements QuizService and ScanService
type Service struct {
	engine QuizEngine
}

// NewService creates a new quiz RPC service
func NewService(e QuizEngine) *Service {
	return &Service{engine: e}
}

var (
	_ QuizServiceHandler = (*Service)(nil)
	_ ScanServiceHandler = (*Service)(nil)
)

// CreateSession opens a lobby for a channel
func (s *Service) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRequest]) (*connect.Response[CreateSessionResponse], error) {
	session, err := s.engine.CreateSession(ctx, engine.CreateSessionParams{
		ChannelID: req.Msg.ChannelID,
		Sources:   req.Msg.Sources,
		Settings:  req.Msg.Settings,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CreateSessionResponse{
		Session: events.NewSessionView(*session),
	}), nil
}

// GetSession returns a session, its roster and standings
func (s *Service) GetSession(ctx context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}
	session, players, err := s.engine.GetSession(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}

	views := make([]events.PlayerView, len(players))
	for i, p := range players {
		views[i] = events.NewPlayerView(p)
	}
	return connect.NewResponse(&GetSessionResponse{
		Session:     events.NewSessionView(*session),
		Players:     views,
		Leaderboard: scoring.Leaderboard(players, session.Settings.HostPlays),
	}), nil
}

// HandleCardScan forwards a scan from a card reader to the engine
func (s *Service) HandleCardScan(ctx context.Context, req *connect.Request[HandleCardScanRequest]) (*connect.Response[HandleCardScanResponse], error) {
	if req.Msg.ChannelID <= 0 || req.Msg.ContentID <= 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("channel_id and content_id are required"))
	}
	if err := s.engine.HandleCardScan(ctx, req.Msg.ChannelID, req.Msg.ContentID); err != nil {
		return nil, toConnectError(err)
	}

	res := &HandleCardScanResponse{}
	if session, err := s.engine.ActiveSessionForChannel(ctx, req.Msg.ChannelID); err == nil {
		res.SessionID = session.ID
	}
	return connect.NewResponse(res), nil
}

// toConnectError maps engine error codes onto connect codes.
func toConnectError(err error) error {
	var code connect.Code
	switch engine.CodeOf(err) {
	case engine.ErrInvalidPayload.Code,
		engine.ErrNameRequired.Code,
		engine.ErrNameTooLong.Code,
		engine.ErrInvalidSettings.Code,
		engine.ErrInvalidField.Code:
		code = connect.CodeInvalidArgument
	case engine.ErrChannelActive.Code:
		code = connect.CodeAlreadyExists
	case engine.ErrSessionNotFound.Code, engine.ErrPlayerNotFound.Code:
		code = connect.CodeNotFound
	default:
		code = connect.CodeInternal
		log.Error().Err(err).Msg("rpc failed")
	}
	return connect.NewError(code, errors.New(engine.MessageOf(err)))
}
