package raft

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestCluster wires several nodes over an in-memory network. Each node
// keeps its MemoryStorage and snapshot directory across restarts so
// recovery paths get exercised with real persisted state.
type TestCluster struct {
	t        *testing.T
	network  *InMemoryNetwork
	members  map[uint64]string
	nodes    map[uint64]*Node
	sms      map[uint64]*MockStateMachine
	storages map[uint64]*MemoryStorage
	snapDirs map[uint64]string

	electionTimeout   time.Duration
	snapshotChunk     int64
	snapshotThreshold uint64
}

func NewTestCluster(t *testing.T, size int) *TestCluster {
	c := &TestCluster{
		t:        t,
		network:  NewInMemoryNetwork(),
		members:  make(map[uint64]string),
		nodes:    make(map[uint64]*Node),
		sms:      make(map[uint64]*MockStateMachine),
		storages: make(map[uint64]*MemoryStorage),
		snapDirs: make(map[uint64]string),

		electionTimeout: 100 * time.Millisecond,
	}
	for i := 1; i <= size; i++ {
		c.members[uint64(i)] = clusterAddr(uint64(i))
	}
	return c
}

func clusterAddr(id uint64) string {
	return "node" + itoa(id) + ":4600"
}

func (c *TestCluster) Start() {
	for id := range c.members {
		c.startNode(id, c.members)
	}
}

// startNode builds and starts one node. Pass a nil bootstrap for a node
// that should join an existing cluster through AddServer.
func (c *TestCluster) startNode(id uint64, bootstrap map[uint64]string) *Node {
	c.t.Helper()

	addr, ok := c.members[id]
	if !ok {
		addr = clusterAddr(id)
		c.members[id] = addr
	}

	cfg := DefaultConfig()
	cfg.ID = id
	cfg.ElectionTimeout = c.electionTimeout
	cfg.HeartbeatInterval = c.electionTimeout / 4
	if c.snapshotChunk > 0 {
		cfg.SnapshotChunkSize = c.snapshotChunk
	}
	if c.snapshotThreshold > 0 {
		cfg.SnapshotThreshold = c.snapshotThreshold
	}
	if len(bootstrap) > 0 {
		cfg.Bootstrap = make(map[uint64]string, len(bootstrap))
		for mid, maddr := range bootstrap {
			cfg.Bootstrap[mid] = maddr
		}
	}

	if c.storages[id] == nil {
		c.storages[id] = NewMemoryStorage()
	}
	if c.snapDirs[id] == "" {
		c.snapDirs[id] = c.t.TempDir()
	}
	snapshots, err := NewSnapshotStore(c.snapDirs[id])
	if err != nil {
		c.t.Fatalf("NewSnapshotStore failed: %v", err)
	}

	sm := NewMockStateMachine()
	node, err := NewNode(cfg, sm, c.network.NewTransport(addr), c.storages[id], snapshots)
	if err != nil {
		c.t.Fatalf("NewNode %d failed: %v", id, err)
	}
	if err := node.Start(); err != nil {
		c.t.Fatalf("Start %d failed: %v", id, err)
	}
	c.nodes[id] = node
	c.sms[id] = sm
	return node
}

func (c *TestCluster) Stop() {
	for _, node := range c.nodes {
		node.Stop()
	}
}

func (c *TestCluster) StopNode(id uint64) {
	c.nodes[id].Stop()
}

// Leader waits for a node claiming leadership, skipping the given IDs.
// With competing claimants the highest term wins, so a partitioned old
// leader never shadows the real one.
func (c *TestCluster) Leader(timeout time.Duration, exclude ...uint64) *Node {
	c.t.Helper()

	skip := make(map[uint64]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var best *Node
		var bestTerm uint64
		for id, node := range c.nodes {
			if skip[id] {
				continue
			}
			st, err := node.Status()
			if err != nil {
				continue
			}
			if st.State == "leader" && st.Term >= bestTerm {
				best = node
				bestTerm = st.Term
			}
		}
		if best != nil {
			return best
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.t.Fatalf("no leader elected within %v", timeout)
	return nil
}

func (c *TestCluster) waitApplied(id uint64, count int, timeout time.Duration) {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.sms[id].AppliedCount() >= count {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.t.Fatalf("node %d applied %d of %d commands within %v",
		id, c.sms[id].AppliedCount(), count, timeout)
}

// isolate cuts one node off from the rest of the network.
func (c *TestCluster) isolate(id uint64) {
	rest := make([]string, 0, len(c.members)-1)
	for mid, addr := range c.members {
		if mid != id {
			rest = append(rest, addr)
		}
	}
	c.network.Partition([]string{c.members[id]}, rest)
}

func (c *TestCluster) heal() {
	c.network.Heal()
}

// pickFollower returns any running node other than the leader.
func (c *TestCluster) pickFollower(leaderID uint64) uint64 {
	c.t.Helper()
	for id := range c.nodes {
		if id != leaderID {
			return id
		}
	}
	c.t.Fatalf("no follower available")
	return 0
}

func TestClusterElection(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.Leader(3 * time.Second)

	// Give heartbeats a moment to settle, then every node must agree
	time.Sleep(300 * time.Millisecond)

	leaders := 0
	for _, node := range cluster.nodes {
		if node.IsLeader() {
			leaders++
		}
	}
	if leaders != 1 {
		t.Errorf("Expected exactly 1 leader, got %d", leaders)
	}

	want, err := leader.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	for id, node := range cluster.nodes {
		st, err := node.Status()
		if err != nil {
			t.Fatalf("Status %d failed: %v", id, err)
		}
		if st.LeaderID != leader.ID() {
			t.Errorf("Node %d sees leader %d, want %d", id, st.LeaderID, leader.ID())
		}
		if st.Term != want.Term {
			t.Errorf("Node %d at term %d, want %d", id, st.Term, want.Term)
		}
	}
}

func TestClusterReplication(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var want [][]byte
	for i := 0; i < 5; i++ {
		cmd := []byte("cmd-" + itoa(uint64(i)))
		result, err := leader.Propose(ctx, cmd)
		if err != nil {
			t.Fatalf("Propose %d failed: %v", i, err)
		}
		if !bytes.HasSuffix(result, cmd) {
			t.Errorf("Result %q does not carry the command", result)
		}
		want = append(want, cmd)
	}

	for id := range cluster.nodes {
		cluster.waitApplied(id, len(want), 3*time.Second)
	}
	for id, sm := range cluster.sms {
		got := sm.AppliedCommands()
		if len(got) != len(want) {
			t.Fatalf("Node %d applied %d commands, want %d", id, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Errorf("Node %d command %d is %q, want %q", id, i, got[i], want[i])
			}
		}
	}
}

func TestFiveNodeCluster(t *testing.T) {
	cluster := NewTestCluster(t, 5)
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		if _, err := leader.Propose(ctx, []byte("user-"+itoa(uint64(i)))); err != nil {
			t.Fatalf("Propose %d failed: %v", i, err)
		}
	}

	for id := range cluster.nodes {
		cluster.waitApplied(id, 10, 5*time.Second)
	}
}

func TestClusterProposeOnFollower(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.Leader(3 * time.Second)
	follower := cluster.nodes[cluster.pickFollower(leader.ID())]

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := follower.Propose(ctx, []byte("misdirected"))
	if err != ErrNotLeader {
		t.Fatalf("Expected ErrNotLeader, got %v", err)
	}

	// The follower's status names the real leader for redirects
	st, err := follower.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.LeaderID != leader.ID() {
		t.Errorf("Follower reports leader %d, want %d", st.LeaderID, leader.ID())
	}
	if st.LeaderAddr == "" {
		t.Errorf("Follower should report the leader address")
	}
}

func TestClusterLeaderFailover(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	old := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := old.Propose(ctx, []byte("before")); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	cluster.isolate(old.ID())

	// The majority side elects a replacement at a higher term
	next := cluster.Leader(3*time.Second, old.ID())
	if _, err := next.Propose(ctx, []byte("during")); err != nil {
		t.Fatalf("Propose on new leader failed: %v", err)
	}

	cluster.heal()

	// The stale leader hears the higher term and rejoins as follower
	deadline := time.Now().Add(3 * time.Second)
	for old.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if old.IsLeader() {
		t.Errorf("Old leader should have stepped down")
	}
	cluster.waitApplied(old.ID(), 2, 3*time.Second)
}

func TestClusterLogRepair(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	old := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := old.Propose(ctx, []byte("shared")); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	for id := range cluster.nodes {
		cluster.waitApplied(id, 1, 3*time.Second)
	}

	cluster.isolate(old.ID())

	// This entry lands in the isolated leader's log but can never
	// commit; repair must truncate it away
	orphanErr := make(chan error, 1)
	go func() {
		_, err := old.Propose(ctx, []byte("orphan"))
		orphanErr <- err
	}()

	next := cluster.Leader(3*time.Second, old.ID())
	want := [][]byte{[]byte("shared")}
	for i := 0; i < 3; i++ {
		cmd := []byte("winner-" + itoa(uint64(i)))
		if _, err := next.Propose(ctx, cmd); err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
		want = append(want, cmd)
	}

	cluster.heal()

	if err := <-orphanErr; err != ErrProposalDropped {
		t.Errorf("Orphan proposal should fail with ErrProposalDropped, got %v", err)
	}
	for id := range cluster.nodes {
		cluster.waitApplied(id, len(want), 3*time.Second)
	}
	for id, sm := range cluster.sms {
		got := sm.AppliedCommands()
		if len(got) != len(want) {
			t.Fatalf("Node %d applied %d commands, want %d", id, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Errorf("Node %d command %d is %q, want %q", id, i, got[i], want[i])
			}
		}
	}
}

func TestClusterMembershipAdd(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if _, err := leader.Propose(ctx, []byte("pre-"+itoa(uint64(i)))); err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
	}

	// The new node starts with empty state and learns everything,
	// including its own membership, from replication
	cluster.startNode(4, nil)

	if err := leader.AddServer(ctx, 4, clusterAddr(4)); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}

	st, err := leader.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(st.Members) != 4 || st.Members[4] != clusterAddr(4) {
		t.Errorf("Leader should report 4 members: %v", st.Members)
	}
	if len(st.Joint) != 0 {
		t.Errorf("Joint set should be empty after the change: %v", st.Joint)
	}

	cluster.waitApplied(4, 2, 3*time.Second)

	if _, err := leader.Propose(ctx, []byte("post")); err != nil {
		t.Fatalf("Propose after add failed: %v", err)
	}
	for id := range cluster.nodes {
		cluster.waitApplied(id, 3, 3*time.Second)
	}

	if err := leader.AddServer(ctx, 4, clusterAddr(4)); err != ErrAlreadyMember {
		t.Errorf("Expected ErrAlreadyMember, got %v", err)
	}
}

func TestClusterMembershipRemove(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	target := cluster.pickFollower(leader.ID())
	if err := leader.RemoveServer(ctx, target); err != nil {
		t.Fatalf("RemoveServer failed: %v", err)
	}
	cluster.StopNode(target)

	st, err := leader.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(st.Members) != 2 {
		t.Errorf("Expected 2 members, got %v", st.Members)
	}
	if _, ok := st.Members[target]; ok {
		t.Errorf("Removed node still in configuration")
	}

	// The two survivors still form a quorum
	if _, err := leader.Propose(ctx, []byte("after-remove")); err != nil {
		t.Fatalf("Propose after remove failed: %v", err)
	}

	if err := leader.RemoveServer(ctx, target); err != ErrNotMember {
		t.Errorf("Expected ErrNotMember, got %v", err)
	}
}

func TestClusterRemovedLeaderStepsDown(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	old := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The leader replicates its own removal, then hands off
	if err := old.RemoveServer(ctx, old.ID()); err != nil {
		t.Fatalf("RemoveServer(self) failed: %v", err)
	}
	cluster.StopNode(old.ID())

	next := cluster.Leader(5*time.Second, old.ID())
	st, err := next.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(st.Members) != 2 {
		t.Errorf("Expected 2 members, got %v", st.Members)
	}
	if _, err := next.Propose(ctx, []byte("after-handoff")); err != nil {
		t.Fatalf("Propose after handoff failed: %v", err)
	}
}

func TestClusterSnapshotCatchUp(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.snapshotChunk = 64 // force a multi-chunk transfer
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lagging := cluster.pickFollower(leader.ID())
	cluster.isolate(lagging)

	var want [][]byte
	for i := 0; i < 6; i++ {
		cmd := []byte("entry-" + itoa(uint64(i)))
		if _, err := leader.Propose(ctx, cmd); err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
		want = append(want, cmd)
	}

	index, err := leader.TakeSnapshot(ctx)
	if err != nil {
		t.Fatalf("TakeSnapshot failed: %v", err)
	}

	// On reconnect the follower sits behind the compacted log and can
	// only catch up through the snapshot
	cluster.heal()
	cluster.waitApplied(lagging, len(want), 5*time.Second)

	if got := cluster.sms[lagging].Restores(); got != 1 {
		t.Errorf("Expected 1 restore, got %d", got)
	}
	got := cluster.sms[lagging].AppliedCommands()
	if len(got) != len(want) {
		t.Fatalf("Lagging node applied %d commands, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("Command %d is %q, want %q", i, got[i], want[i])
		}
	}

	st, err := cluster.nodes[lagging].Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.SnapshotIndex != index {
		t.Errorf("SnapshotIndex %d, want %d", st.SnapshotIndex, index)
	}
}

func TestClusterAutoSnapshot(t *testing.T) {
	cluster := NewTestCluster(t, 1)
	cluster.snapshotThreshold = 3
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		if _, err := leader.Propose(ctx, []byte{byte('0' + i)}); err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := leader.Status()
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if st.SnapshotIndex >= 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("automatic snapshot never happened")
}

func TestClusterRestartRecovery(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.Leader(3 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var want [][]byte
	for i := 0; i < 3; i++ {
		cmd := []byte("pre-" + itoa(uint64(i)))
		if _, err := leader.Propose(ctx, cmd); err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
		want = append(want, cmd)
	}

	target := cluster.pickFollower(leader.ID())
	cluster.waitApplied(target, len(want), 3*time.Second)
	cluster.StopNode(target)

	for i := 0; i < 2; i++ {
		cmd := []byte("mid-" + itoa(uint64(i)))
		if _, err := leader.Propose(ctx, cmd); err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
		want = append(want, cmd)
	}

	// Same storage, fresh process: the durable log replays and
	// replication fills in what was missed
	cluster.startNode(target, cluster.members)
	cluster.waitApplied(target, len(want), 5*time.Second)

	got := cluster.sms[target].AppliedCommands()
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("Command %d is %q, want %q", i, got[i], want[i])
		}
	}
}

// failingStorage starts failing PersistEntries once its budget of
// successful writes runs out.
type failingStorage struct {
	*MemoryStorage
	mu        sync.Mutex
	remaining int
}

var errDiskFailure = errors.New("simulated disk failure")

func (s *failingStorage) PersistEntries(entries []*LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining <= 0 {
		return errDiskFailure
	}
	s.remaining--
	return s.MemoryStorage.PersistEntries(entries)
}

func TestNodeStopsOnStorageFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ID = 1
	cfg.ElectionTimeout = 100 * time.Millisecond
	cfg.HeartbeatInterval = 25 * time.Millisecond
	cfg.Bootstrap = map[uint64]string{1: "node1:4600"}

	network := NewInMemoryNetwork()
	// One successful write covers the election no-op; the proposal
	// after it hits the failure
	storage := &failingStorage{MemoryStorage: NewMemoryStorage(), remaining: 1}
	snapshots, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshotStore failed: %v", err)
	}

	node, err := NewNode(cfg, NewMockStateMachine(), network.NewTransport("node1:4600"), storage, snapshots)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	node.Start()
	defer node.Stop()
	waitLeader(t, node, 3*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := node.Propose(ctx, []byte("boom")); err != ErrNodeStopped {
		t.Errorf("Expected ErrNodeStopped, got %v", err)
	}

	// A node that cannot persist must not keep serving
	select {
	case <-node.doneCh:
	case <-time.After(2 * time.Second):
		t.Errorf("Node loop should have exited")
	}
}
