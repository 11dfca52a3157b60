package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/qrhit/go/internal/quiz/rpc"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(config *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// Register services
	registerServices(mux, services)
	services.Gateway.RegisterRoutes(mux)

	// Add health check endpoint
	setupHealthCheck(mux)

	return &http.Server{
		Addr:        fmt.Sprintf(":%s", config.Port),
		Handler:     h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		IdleTimeout: 120 * time.Second,
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	quizServicePath, quizServiceHandler := rpc.NewQuizServiceHandler(services.RPC)
	mux.Handle(quizServicePath, quizServiceHandler)

	scanServicePath, scanServiceHandler := rpc.NewScanServiceHandler(services.RPC)
	mux.Handle(scanServicePath, scanServiceHandler)
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
