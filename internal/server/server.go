package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bobmcallan/papertrade/internal/app"
	"github.com/bobmcallan/papertrade/internal/common"
)

// Server wraps the HTTP server and application reference.
type Server struct {
	app          *app.App
	server       *http.Server
	logger       *common.Logger
	shutdownChan chan struct{}

	// revoked holds logged-out token ids until their expiry
	revokedMu sync.Mutex
	revoked   map[string]time.Time
}

// SetShutdownChannel sets the channel that will be signaled when HTTP shutdown is requested.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// NewServer creates a new HTTP REST API server.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:     a,
		logger:  a.Logger,
		revoked: make(map[string]time.Time),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := s.applyMiddleware(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// revoke records a token id as logged out until exp.
func (s *Server) revoke(jti string, exp time.Time) {
	if jti == "" {
		return
	}
	now := time.Now()
	s.revokedMu.Lock()
	defer s.revokedMu.Unlock()
	for id, until := range s.revoked {
		if now.After(until) {
			delete(s.revoked, id)
		}
	}
	s.revoked[jti] = exp
}

func (s *Server) isRevoked(jti string) bool {
	s.revokedMu.Lock()
	defer s.revokedMu.Unlock()
	until, ok := s.revoked[jti]
	return ok && time.Now().Before(until)
}
