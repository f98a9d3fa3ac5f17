package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"gemini-relay/internal/cache"
	"gemini-relay/internal/config"
	"gemini-relay/internal/gemini"
	"gemini-relay/internal/upstream"
)

// Server is the gateway HTTP server.
type Server struct {
	httpServer *http.Server
}

// New constructs a Server from the given config.
func New(cfg *config.Config) *Server {
	client := upstream.New(upstream.Config{
		BaseURL:       cfg.UpstreamBaseURL,
		Timeout:       cfg.RequestTimeout,
		MaxRetries:    cfg.MaxRetries,
		BackoffBase:   cfg.BackoffBase,
		BackoffCap:    cfg.BackoffCap,
		RetryStatuses: upstream.RetryStatusSet(cfg.RetryStatuses),
	})
	respCache := cache.New(cfg.CacheTTL, cfg.CacheMaxEntries)
	gmHandler := gemini.NewHandler(client, respCache, cfg.AllowedModels, cfg.APIKey)

	router := mux.NewRouter()
	router.HandleFunc("/v1beta/models/{model}:streamGenerateContent", gmHandler.HandleStreaming).Methods(http.MethodPost)
	router.HandleFunc("/v1beta/models/{model}:generateContent", gmHandler.HandleBlocking).Methods(http.MethodPost)

	var handler http.Handler = router
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:        cfg.ListenAddr,
			Handler:     handler,
			ReadTimeout: 30 * time.Second,
			// Streaming responses are open-ended; no write timeout.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the underlying http.Handler (for use in tests with httptest.NewServer).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
