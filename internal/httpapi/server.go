// Package httpapi exposes the key-value store and cluster administration
// over HTTP. Writes are proposed through the consensus node and return
// after commit and apply; reads are served from the local state machine.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/KilimcininKorOglu/kurul/internal/kvstore"
	"github.com/KilimcininKorOglu/kurul/internal/logging"
	"github.com/KilimcininKorOglu/kurul/internal/raft"
)

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Address        string
	ProposeTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration

	// ClientAddrs maps peer consensus addresses to their API addresses.
	// Leader redirects use it to hand clients a reachable endpoint.
	ClientAddrs map[string]string
}

// DefaultServerConfig returns default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:        ":8701",
		ProposeTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
	}
}

// Server is the HTTP API server.
type Server struct {
	config   *ServerConfig
	logger   logging.Logger
	handlers *Handlers
	router   *Router
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *ServerConfig, node *raft.Node, store *kvstore.Store, logger logging.Logger) *Server {
	handlers := NewHandlers(node, store, logger, cfg.ProposeTimeout, cfg.ClientAddrs)
	router := NewRouter()

	s := &Server{
		config:   cfg,
		logger:   logger,
		handlers: handlers,
		router:   router,
	}

	s.setupRoutes()
	s.setupMiddleware()

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/v1/health", s.handlers.Health)

	s.router.GET("/v1/kv/{key}", s.handlers.GetKey)
	s.router.PUT("/v1/kv/{key}", s.handlers.PutKey)
	s.router.DELETE("/v1/kv/{key}", s.handlers.DeleteKey)

	s.router.GET("/v1/status", s.handlers.GetStatus)

	s.router.POST("/v1/members", s.handlers.AddMember)
	s.router.DELETE("/v1/members/{id}", s.handlers.RemoveMember)

	s.router.POST("/v1/snapshot", s.handlers.TakeSnapshot)
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(LoggingMiddleware(s.logger))
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info("http api started", "address", listener.Addr().String())

	go s.server.Serve(listener)

	return nil
}

// Addr returns the bound listen address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	s.logger.Info("http api stopped")
	return nil
}
