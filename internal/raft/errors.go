package raft

import "errors"

// Raft errors.
var (
	// ErrNotLeader is returned when a write operation is attempted on a non-leader node.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrNodeStopped is returned when operation is attempted on a stopped node.
	ErrNodeStopped = errors.New("raft: node stopped")

	// ErrLogCorrupted is returned when log data is corrupted.
	ErrLogCorrupted = errors.New("raft: log corrupted")

	// ErrLogIndexOutOfRange is returned when accessing an invalid log index.
	ErrLogIndexOutOfRange = errors.New("raft: log index out of range")

	// ErrCompacted is returned when a requested entry was discarded by compaction.
	ErrCompacted = errors.New("raft: log compacted")

	// ErrCorrupted is returned when persisted state fails its integrity check.
	ErrCorrupted = errors.New("raft: persisted state corrupted")

	// ErrSnapshotCorrupted is returned when snapshot data fails its integrity check.
	ErrSnapshotCorrupted = errors.New("raft: snapshot corrupted")

	// ErrConfigChangeInFlight is returned when a membership change is requested
	// while a previous one is still in progress.
	ErrConfigChangeInFlight = errors.New("raft: configuration change in progress")

	// ErrNotMember is returned when removing a server that is not a member.
	ErrNotMember = errors.New("raft: not a cluster member")

	// ErrAlreadyMember is returned when adding a server that is already a member.
	ErrAlreadyMember = errors.New("raft: already a cluster member")

	// ErrTransportClosed is returned when transport is closed.
	ErrTransportClosed = errors.New("raft: transport closed")

	// ErrConnectFailed is returned when connection to peer fails.
	ErrConnectFailed = errors.New("raft: connection failed")

	// ErrTimeout is returned when a peer exchange exceeds its deadline.
	ErrTimeout = errors.New("raft: operation timeout")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("raft: invalid configuration")

	// ErrProposalDropped is returned when leadership is lost while a proposal
	// is still pending. The entry may yet commit under the new leader, so the
	// outcome is unknown and the caller must check before retrying.
	ErrProposalDropped = errors.New("raft: proposal dropped")
)
