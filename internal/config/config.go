// Package config provides configuration parsing and validation for the kurul server.
package config

import "time"

// Config holds the complete server configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Raft    RaftConfig    `yaml:"raft"`
	API     APIConfig     `yaml:"api"`
	Logging LogConfig     `yaml:"logging"`
}

// NodeConfig identifies this node and its local resources.
type NodeConfig struct {
	ID      uint64 `yaml:"id"`
	DataDir string `yaml:"dataDir"`
	Listen  string `yaml:"listen"`
}

// ClusterConfig holds the bootstrap cluster membership.
// The list seeds a fresh node's configuration; committed configuration
// entries in the log override it afterwards.
type ClusterConfig struct {
	Members []MemberConfig `yaml:"members"`
}

// MemberConfig describes one cluster member. Address is the consensus
// transport endpoint. APIAddress, when set, is the member's client HTTP
// endpoint; leader redirects use it so clients are not handed a raw
// transport address.
type MemberConfig struct {
	ID         uint64 `yaml:"id"`
	Address    string `yaml:"address"`
	APIAddress string `yaml:"apiAddress,omitempty"`
}

// BootstrapMap returns the member list as an id to transport address
// map, or nil when no members are configured.
func (c *ClusterConfig) BootstrapMap() map[uint64]string {
	if len(c.Members) == 0 {
		return nil
	}
	m := make(map[uint64]string, len(c.Members))
	for _, member := range c.Members {
		m[member.ID] = member.Address
	}
	return m
}

// ClientAddrMap returns a transport address to API address map for the
// members that declare an API endpoint.
func (c *ClusterConfig) ClientAddrMap() map[string]string {
	var m map[string]string
	for _, member := range c.Members {
		if member.APIAddress == "" {
			continue
		}
		if m == nil {
			m = make(map[string]string)
		}
		m[member.Address] = member.APIAddress
	}
	return m
}

// RaftConfig holds consensus protocol tuning.
type RaftConfig struct {
	// ElectionTimeout is the base T; each node randomizes its actual
	// timeout uniformly in [T, 2T).
	ElectionTimeout time.Duration `yaml:"electionTimeout"`
	// HeartbeatInterval is the leader's broadcast period, well below T.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	// MaxEntriesPerAppend caps the batch size of one AppendEntries call.
	MaxEntriesPerAppend int `yaml:"maxEntriesPerAppend"`
	// SnapshotThreshold is the log length that triggers compaction.
	// Zero disables automatic snapshots.
	SnapshotThreshold uint64 `yaml:"snapshotThreshold"`
	// SnapshotChunkSize is the InstallSnapshot chunk size ("1MB", "512KB").
	SnapshotChunkSize string `yaml:"snapshotChunkSize"`
}

// SnapshotChunkBytes returns the chunk size in bytes, falling back to
// the default when the field is empty or malformed.
func (c *RaftConfig) SnapshotChunkBytes() int64 {
	n, err := parseSize(c.SnapshotChunkSize)
	if err != nil || n <= 0 {
		return DefaultSnapshotChunkBytes
	}
	return n
}

// APIConfig holds the HTTP client/admin API configuration.
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
