// Package logging provides structured logging for the kurul consensus server.
//
// # Overview
//
// The logging package provides a structured logging interface with support for:
//
//   - Multiple log levels (debug, info, warn, error)
//   - Text and JSON output formats
//   - Request ID generation for tracing client calls
//   - Field-based contextual logging
//
// # Creating a Logger
//
// Create a logger with configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/kurul/kurul.log",
//	})
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stdout
//
// For testing, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Log Levels
//
// Four log levels are supported:
//
//	logger.Debug("detailed debugging info", "key", "value")
//	logger.Info("informational message", "key", "value")
//	logger.Warn("warning message", "key", "value")
//	logger.Error("error message", "key", "value")
//
// Parse level from string:
//
//	level := logging.ParseLevel("debug") // Returns LevelDebug
//
// # Structured Logging
//
// Add key-value pairs to log entries:
//
//	logger.Info("became leader",
//	    "term", 7,
//	    "lastIndex", 1042,
//	)
//
// Output (JSON format):
//
//	{
//	    "ts": "2026-02-18T10:30:00Z",
//	    "level": "info",
//	    "msg": "became leader",
//	    "term": 7,
//	    "lastIndex": 1042
//	}
//
// # Contextual Fields
//
// Create loggers with persistent fields:
//
//	nodeLogger := logger.WithFields("node", cfg.ID)
//
//	// All subsequent logs include these fields
//	nodeLogger.Info("election timeout")
//	nodeLogger.Info("granted vote", "candidate", 3, "term", 8)
//
// # Request IDs
//
// Generate a unique ID for correlating the log lines of one client call:
//
//	requestID := logging.GenerateRequestID()
//	reqLogger := logger.WithFields("requestId", requestID)
//
// # Output Formats
//
// Text format (human-readable):
//
//	2026-02-18T10:30:00Z [info] became leader term=7 lastIndex=1042
//
// JSON format (machine-parseable):
//
//	{"ts":"2026-02-18T10:30:00Z","level":"info","msg":"became leader",...}
//
// # Output Destinations
//
// Configure output destination:
//
//	logging.Config{Output: "stdout"}             // Standard output
//	logging.Config{Output: "stderr"}             // Standard error
//	logging.Config{Output: "/var/log/kurul.log"} // File path
package logging
