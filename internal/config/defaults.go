// Package config provides configuration parsing and validation for the kurul server.
package config

import "time"

// DefaultSnapshotChunkBytes is the InstallSnapshot chunk size used when
// none is configured.
const DefaultSnapshotChunkBytes = 1024 * 1024

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      0,
			DataDir: "/var/lib/kurul",
			Listen:  ":4701",
		},
		Cluster: ClusterConfig{
			Members: nil,
		},
		Raft: RaftConfig{
			ElectionTimeout:     300 * time.Millisecond,
			HeartbeatInterval:   100 * time.Millisecond,
			MaxEntriesPerAppend: 64,
			SnapshotThreshold:   10000,
			SnapshotChunkSize:   "1MB",
		},
		API: APIConfig{
			Enabled:      false,
			Address:      ":8701",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
