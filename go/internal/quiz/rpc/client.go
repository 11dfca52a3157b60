package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls QuizService and ScanService.
type Client struct {
	createSession  *connect.Client[CreateSessionRequest, CreateSessionResponse]
	getSession     *connect.Client[GetSessionRequest, GetSessionResponse]
	handleCardScan *connect.Client[HandleCardScanRequest, HandleCardScanResponse]
}

// NewClient creates a client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		createSession:  connect.NewClient[CreateSessionRequest, CreateSessionResponse](httpClient, baseURL+QuizServiceCreateSessionProcedure, opts...),
		getSession:     connect.NewClient[GetSessionRequest, GetSessionResponse](httpClient, baseURL+QuizServiceGetSessionProcedure, opts...),
		handleCardScan: connect.NewClient[HandleCardScanRequest, HandleCardScanResponse](httpClient, baseURL+ScanServiceHandleCardScanProcedure, opts...),
	}
}

func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	res, err := c.createSession.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) GetSession(ctx context.Context, req *GetSessionRequest) (*GetSessionResponse, error) {
	res, err := c.getSession.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) HandleCardScan(ctx context.Context, req *HandleCardScanRequest) (*HandleCardScanResponse, error) {
	res, err := c.handleCardScan.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
