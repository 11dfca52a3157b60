package rpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

const (
	QuizServiceName = "qrhit.quiz.v1.QuizService"
	ScanServiceName = "qrhit.quiz.v1.ScanService"
)

const (
	QuizServiceCreateSessionProcedure  = "/qrhit.quiz.v1.QuizService/CreateSession"
	QuizServiceGetSessionProcedure     = "/qrhit.quiz.v1.QuizService/GetSession"
	ScanServiceHandleCardScanProcedure = "/qrhit.quiz.v1.ScanService/HandleCardScan"
)

// QuizServiceHandler is the server side of QuizService.
type QuizServiceHandler interface {
	CreateSession(context.Context, *connect.Request[CreateSessionRequest]) (*connect.Response[CreateSessionResponse], error)
	GetSession(context.Context, *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error)
}

// ScanServiceHandler is the server side of ScanService.
type ScanServiceHandler interface {
	HandleCardScan(context.Context, *connect.Request[HandleCardScanRequest]) (*connect.Response[HandleCardScanResponse], error)
}

// NewQuizServiceHandler builds an HTTP handler for QuizService and returns
// the path to mount it on.
func NewQuizServiceHandler(svc QuizServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	createSession := connect.NewUnaryHandler(QuizServiceCreateSessionProcedure, svc.CreateSession, opts...)
	getSession := connect.NewUnaryHandler(QuizServiceGetSessionProcedure, svc.GetSession, opts...)

	return "/" + QuizServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case QuizServiceCreateSessionProcedure:
			createSession.ServeHTTP(w, r)
		case QuizServiceGetSessionProcedure:
			getSession.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// NewScanServiceHandler builds an HTTP handler for ScanService and returns
// the path to mount it on.
func NewScanServiceHandler(svc ScanServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	handleCardScan := connect.NewUnaryHandler(ScanServiceHandleCardScanProcedure, svc.HandleCardScan, opts...)

	return "/" + ScanServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ScanServiceHandleCardScanProcedure:
			handleCardScan.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
