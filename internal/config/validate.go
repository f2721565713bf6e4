// Package config provides configuration parsing and validation for the kurul server.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateNodeConfig(&config.Node)...)
	errs = append(errs, validateClusterConfig(&config.Cluster, config.Node.ID)...)
	errs = append(errs, validateRaftConfig(&config.Raft)...)
	errs = append(errs, validateAPIConfig(&config.API)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

// validateNodeConfig validates node identity configuration.
func validateNodeConfig(config *NodeConfig) []error {
	var errs []error

	if config.ID == 0 {
		errs = append(errs, ValidationError{
			Field:   "node.id",
			Message: "node ID is required and must be nonzero",
		})
	}

	if config.DataDir == "" {
		errs = append(errs, ValidationError{
			Field:   "node.dataDir",
			Message: "data directory is required",
		})
	} else if !filepath.IsAbs(config.DataDir) {
		errs = append(errs, ValidationError{
			Field:   "node.dataDir",
			Message: "must be an absolute path",
		})
	}

	if config.Listen != "" {
		if err := validateAddress(config.Listen); err != nil {
			errs = append(errs, ValidationError{
				Field:   "node.listen",
				Message: err.Error(),
			})
		}
	}

	return errs
}

// validateClusterConfig validates cluster membership configuration.
// An empty member list is allowed: such a node starts without a vote
// and waits to be added to an existing cluster through a membership
// change.
func validateClusterConfig(config *ClusterConfig, selfID uint64) []error {
	var errs []error

	if len(config.Members) == 0 {
		return nil
	}

	seen := make(map[uint64]bool, len(config.Members))
	selfPresent := false
	for i, member := range config.Members {
		if member.ID == 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("cluster.members[%d].id", i),
				Message: "member ID must be nonzero",
			})
		}
		if seen[member.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("cluster.members[%d].id", i),
				Message: fmt.Sprintf("duplicate member ID %d", member.ID),
			})
		}
		seen[member.ID] = true

		if member.Address == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("cluster.members[%d].address", i),
				Message: "address is required",
			})
		} else if err := validateAddress(member.Address); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("cluster.members[%d].address", i),
				Message: err.Error(),
			})
		}

		if member.APIAddress != "" {
			if err := validateAddress(member.APIAddress); err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("cluster.members[%d].apiAddress", i),
					Message: err.Error(),
				})
			}
		}

		if member.ID == selfID {
			selfPresent = true
		}
	}

	if selfID != 0 && !selfPresent {
		errs = append(errs, ValidationError{
			Field:   "cluster.members",
			Message: fmt.Sprintf("node ID %d is not in the member list", selfID),
		})
	}

	return errs
}

// validateRaftConfig validates consensus tuning configuration.
func validateRaftConfig(config *RaftConfig) []error {
	var errs []error

	if config.HeartbeatInterval < 10*time.Millisecond {
		errs = append(errs, ValidationError{
			Field:   "raft.heartbeatInterval",
			Message: "must be at least 10ms",
		})
	}

	if config.ElectionTimeout < 3*config.HeartbeatInterval {
		errs = append(errs, ValidationError{
			Field:   "raft.electionTimeout",
			Message: "must be at least three times the heartbeat interval",
		})
	}

	if config.MaxEntriesPerAppend < 1 {
		errs = append(errs, ValidationError{
			Field:   "raft.maxEntriesPerAppend",
			Message: "must be at least 1",
		})
	}

	if config.SnapshotChunkSize != "" {
		if n, err := parseSize(config.SnapshotChunkSize); err != nil {
			errs = append(errs, ValidationError{
				Field:   "raft.snapshotChunkSize",
				Message: err.Error(),
			})
		} else if n < 4096 {
			errs = append(errs, ValidationError{
				Field:   "raft.snapshotChunkSize",
				Message: "must be at least 4KB",
			})
		}
	}

	return errs
}

// validateAPIConfig validates HTTP API configuration.
func validateAPIConfig(config *APIConfig) []error {
	var errs []error

	if config.Enabled {
		if config.Address == "" {
			errs = append(errs, ValidationError{
				Field:   "api.address",
				Message: "address is required when the API is enabled",
			})
		} else if err := validateAddress(config.Address); err != nil {
			errs = append(errs, ValidationError{
				Field:   "api.address",
				Message: err.Error(),
			})
		}
	}

	if config.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "api.readTimeout",
			Message: "must be non-negative",
		})
	}

	if config.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "api.writeTimeout",
			Message: "must be non-negative",
		})
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	// Validate log format
	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	// Validate output
	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		// Check if it's a valid file path
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}

// validateAddress validates a network address in host:port format.
func validateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %v", err)
	}

	// Validate host if not empty
	if host != "" && host != "localhost" {
		if ip := net.ParseIP(host); ip == nil {
			// Not an IP, could be a hostname - that's okay
		}
	}

	// Validate port
	if port == "" {
		return fmt.Errorf("port is required")
	}

	return nil
}

// parseSize parses a size string like "1MB" or "512KB".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}

	// Longest suffixes first so "MB" is not consumed by "B".
	suffixes := []struct {
		suffix string
		mult   int64
	}{
		{"KB", 1024},
		{"MB", 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"B", 1},
	}

	for _, m := range suffixes {
		if strings.HasSuffix(s, m.suffix) {
			numStr := strings.TrimSuffix(s, m.suffix)
			var num int64
			if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
				return 0, fmt.Errorf("invalid size format: %s", s)
			}
			return num * m.mult, nil
		}
	}

	// Try parsing as plain number
	var num int64
	if _, err := fmt.Sscanf(s, "%d", &num); err != nil {
		return 0, fmt.Errorf("invalid size format: %s", s)
	}
	return num, nil
}
