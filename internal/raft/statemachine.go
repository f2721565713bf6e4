package raft

// StateMachine is the replicated application state. The node calls it
// from the decision loop, one entry at a time, in log order.
type StateMachine interface {
	// Apply applies a committed command entry and returns the result
	// that is handed back to the proposing client. Apply must be
	// deterministic: the same entry sequence produces the same state
	// on every node.
	Apply(entry *LogEntry) ([]byte, error)

	// Snapshot returns a serialized image of the current state.
	Snapshot() ([]byte, error)

	// Restore replaces the current state with a snapshot image.
	Restore(data []byte) error
}
