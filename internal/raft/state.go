package raft

import "time"

// Node states.
const (
	StateFollower uint8 = iota
	StateCandidate
	StateLeader
)

// StateString returns the string representation of a node state.
func StateString(state uint8) string {
	switch state {
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// Config holds configuration for a Raft node.
type Config struct {
	ID uint64 // Unique node ID (must be nonzero)

	// ElectionTimeout is the base election timeout. Each wait is drawn
	// uniformly from [ElectionTimeout, 2*ElectionTimeout) so that
	// candidates rarely collide.
	ElectionTimeout time.Duration

	// HeartbeatInterval is how often the leader sends AppendEntries.
	// Must be well below ElectionTimeout.
	HeartbeatInterval time.Duration

	// MaxEntriesPerAppend caps the entries carried by one AppendEntries.
	MaxEntriesPerAppend int

	// SnapshotThreshold is the number of applied entries after which the
	// node snapshots and compacts automatically. 0 disables automatic
	// snapshots.
	SnapshotThreshold uint64

	// SnapshotChunkSize is the InstallSnapshot chunk size in bytes.
	SnapshotChunkSize int64

	// Bootstrap is the initial cluster membership (id -> address).
	// Membership recorded in snapshots or log entries always takes
	// precedence; Bootstrap only seeds a node whose history holds no
	// configuration. Leave it empty on a node that joins through
	// AddServer.
	Bootstrap map[uint64]string

	// Logger receives node events. Nil disables logging.
	Logger Logger
}

// DefaultConfig returns a config with default timing values.
func DefaultConfig() *Config {
	return &Config{
		ElectionTimeout:     300 * time.Millisecond,
		HeartbeatInterval:   100 * time.Millisecond,
		MaxEntriesPerAppend: 64,
		SnapshotThreshold:   10000,
		SnapshotChunkSize:   1024 * 1024,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ID == 0 {
		return ErrInvalidConfig
	}
	if c.ElectionTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.HeartbeatInterval >= c.ElectionTimeout {
		return ErrInvalidConfig
	}
	if c.MaxEntriesPerAppend <= 0 {
		return ErrInvalidConfig
	}
	if c.SnapshotChunkSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Status is a point-in-time view of a node, taken inside the decision
// loop so all fields are mutually consistent.
type Status struct {
	ID            uint64            `json:"nodeId"`
	State         string            `json:"state"`
	Term          uint64            `json:"term"`
	LeaderID      uint64            `json:"leaderId"`
	LeaderAddr    string            `json:"leaderAddr"`
	CommitIndex   uint64            `json:"commitIndex"`
	LastApplied   uint64            `json:"lastApplied"`
	LastLogIndex  uint64            `json:"lastLogIndex"`
	LastLogTerm   uint64            `json:"lastLogTerm"`
	SnapshotIndex uint64            `json:"snapshotIndex"`
	Members       map[uint64]string `json:"members"`
	Joint         map[uint64]string `json:"joint,omitempty"`
}
