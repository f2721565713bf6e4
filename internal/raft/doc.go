// Package raft implements the Raft consensus algorithm for replicated
// state machines.
//
// Raft keeps a log of client commands replicated across a cluster of
// nodes. Once a majority of nodes hold an entry, it is committed and
// every node applies it to its state machine in the same order.
//
// # Overview
//
// This package provides a complete Raft implementation with:
//   - Leader election with randomized timeouts and the up-to-date log
//     restriction
//   - Log replication with truncate-then-append repair and conflict
//     hints that skip a whole term per round trip
//   - Two-phase membership changes through a joint configuration
//   - Snapshots with chunked transfer to lagging followers and log
//     compaction
//   - Durable term, vote, and log storage that is synced before any
//     RPC reply
//   - TCP-based RPC transport, plus an in-memory transport for tests
//
// # Architecture
//
// All protocol state belongs to a single decision loop per node. RPCs,
// timeouts, client proposals, and RPC responses are delivered to the
// loop over channels and handled one at a time, so state transitions
// never race. Blocking work (network sends, snapshot streaming) runs in
// short-lived goroutines that report back into the loop; responses from
// an earlier term are discarded on arrival.
//
// # Usage
//
// Create and start a node:
//
//	cfg := raft.DefaultConfig()
//	cfg.ID = 1
//	cfg.Bootstrap = map[uint64]string{
//	    1: "10.0.0.1:4600",
//	    2: "10.0.0.2:4600",
//	    3: "10.0.0.3:4600",
//	}
//
//	storage, err := raft.OpenFileStorage(dataDir)
//	snapshots, err := raft.NewSnapshotStore(dataDir)
//	transport := raft.NewTCPTransport("10.0.0.1:4600")
//	node, err := raft.NewNode(cfg, stateMachine, transport, storage, snapshots)
//	err = node.Start()
//
//	// Propose a command; blocks until committed and applied
//	result, err := node.Propose(ctx, cmd)
//	if err == raft.ErrNotLeader {
//	    // retry against node.LeaderAddr()
//	}
//
// # Consistency Guarantees
//
//   - Committed entries are never lost while a majority of nodes keep
//     their disks
//   - Every node applies the same entries in the same order
//   - At most one leader exists per term
//   - Propose returns the state machine's result only after the command
//     is committed and applied locally
//
// # Failure Handling
//
// A cluster of N nodes tolerates (N-1)/2 node failures. Nodes that
// crash recover from their persisted term, vote, log, and snapshot. A
// node that finds its persisted state corrupted refuses to start rather
// than rejoin with a hole in its history.
//
// # References
//
//   - Raft Paper: https://raft.github.io/raft.pdf
//   - Raft Visualization: https://raft.github.io/
package raft
