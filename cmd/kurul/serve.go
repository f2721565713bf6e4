// Package main provides the serve command for the kurul server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/KilimcininKorOglu/kurul/internal/config"
	"github.com/KilimcininKorOglu/kurul/internal/httpapi"
	"github.com/KilimcininKorOglu/kurul/internal/kvstore"
	"github.com/KilimcininKorOglu/kurul/internal/logging"
	"github.com/KilimcininKorOglu/kurul/internal/raft"
)

// Server assembles the consensus node, the key-value state machine, and
// the HTTP API into one runnable unit.
type Server struct {
	config *config.Config
	logger logging.Logger
	store  *kvstore.Store
	node   *raft.Node
	api    *httpapi.Server
}

// NewServer builds the full node stack from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	storage, err := raft.OpenFileStorage(filepath.Join(cfg.Node.DataDir, "raft"))
	if err != nil {
		return nil, fmt.Errorf("failed to open log storage: %w", err)
	}

	snapshots, err := raft.NewSnapshotStore(filepath.Join(cfg.Node.DataDir, "snapshots"))
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	transport := raft.NewTCPTransport(cfg.Node.Listen)
	store := kvstore.NewStore()

	raftCfg := raft.DefaultConfig()
	raftCfg.ID = cfg.Node.ID
	raftCfg.ElectionTimeout = cfg.Raft.ElectionTimeout
	raftCfg.HeartbeatInterval = cfg.Raft.HeartbeatInterval
	raftCfg.MaxEntriesPerAppend = cfg.Raft.MaxEntriesPerAppend
	raftCfg.SnapshotThreshold = cfg.Raft.SnapshotThreshold
	raftCfg.SnapshotChunkSize = cfg.Raft.SnapshotChunkBytes()
	raftCfg.Bootstrap = cfg.Cluster.BootstrapMap()
	raftCfg.Logger = logger.WithFields("component", "raft")

	node, err := raft.NewNode(raftCfg, store, transport, storage, snapshots)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	var api *httpapi.Server
	if cfg.API.Enabled {
		apiCfg := httpapi.DefaultServerConfig()
		apiCfg.Address = cfg.API.Address
		if cfg.API.ReadTimeout > 0 {
			apiCfg.ReadTimeout = cfg.API.ReadTimeout
		}
		if cfg.API.WriteTimeout > 0 {
			apiCfg.WriteTimeout = cfg.API.WriteTimeout
		}
		apiCfg.ClientAddrs = cfg.Cluster.ClientAddrMap()
		api = httpapi.NewServer(apiCfg, node, store, logger)
	}

	return &Server{
		config: cfg,
		logger: logger,
		store:  store,
		node:   node,
		api:    api,
	}, nil
}

// Start starts the consensus node and, when enabled, the HTTP API.
func (s *Server) Start() error {
	if err := s.node.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	if s.api != nil {
		if err := s.api.Start(); err != nil {
			s.node.Stop()
			return fmt.Errorf("failed to start HTTP API: %w", err)
		}
	}

	return nil
}

// Stop shuts the API down first so no new writes arrive, then stops the
// node. Node shutdown closes the transport and storage.
func (s *Server) Stop(ctx context.Context) error {
	if s.api != nil {
		if err := s.api.Stop(ctx); err != nil {
			s.logger.Warn("http api shutdown error", "error", err)
		}
	}

	s.node.Stop()
	s.logger.Info("server stopped")
	return nil
}

// serveCmd handles the serve command.
func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	nodeID := fs.Uint64("id", 0, "Node ID (overrides config)")
	listen := fs.String("listen", "", "Consensus listen address (overrides config)")
	dataDir := fs.String("data-dir", "", "Data directory path (overrides config)")
	apiAddress := fs.String("api-address", "", "HTTP API listen address (overrides config)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printServeUsage(os.Stdout)
		return 0
	}

	// Load configuration
	var cfg *config.Config
	var err error

	if *configFile != "" {
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply command-line overrides (higher priority than config file)
	if *nodeID != 0 {
		cfg.Node.ID = *nodeID
	}
	if *listen != "" {
		cfg.Node.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *apiAddress != "" {
		cfg.API.Address = *apiAddress
		cfg.API.Enabled = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Apply environment variable overrides (highest priority)
	applyEnvOverrides(cfg)

	// Validate configuration
	errs := config.ValidateConfig(cfg)
	if len(errs) > 0 {
		fmt.Fprintln(os.Stderr, "Configuration errors:")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %s\n", e)
		}
		return 1
	}

	srv, err := NewServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		return 1
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		return 1
	}

	srv.logger.Info("node started",
		"id", cfg.Node.ID,
		"listen", cfg.Node.Listen,
		"dataDir", cfg.Node.DataDir,
		"members", len(cfg.Cluster.Members),
	)
	if len(cfg.Cluster.Members) == 0 {
		srv.logger.Info("no bootstrap members configured, waiting to join a cluster")
	}

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		srv.logger.Info("received signal, shutting down", "signal", sig.String())

	case <-srv.node.Done():
		// The decision loop exits on its own only for an unrecoverable
		// storage fault.
		fmt.Fprintln(os.Stderr, "Node stopped unexpectedly, see log for details")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		return 1
	}
	return 0
}
