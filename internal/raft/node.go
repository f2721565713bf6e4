package raft

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Logger interface for Raft logging
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// defaultLogger is a no-op logger
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, args ...interface{}) {}
func (l *defaultLogger) Info(msg string, args ...interface{})  {}
func (l *defaultLogger) Warn(msg string, args ...interface{})  {}
func (l *defaultLogger) Error(msg string, args ...interface{}) {}

// rpcEnvelope carries an incoming RPC into the decision loop.
type rpcEnvelope struct {
	msgType uint8
	data    []byte
	respCh  chan []byte
}

// proposal is a client command waiting for commit and apply.
type proposal struct {
	cmd    []byte
	respCh chan proposalResult
}

type proposalResult struct {
	data []byte
	err  error
}

// confChange is a membership change request.
type confChange struct {
	add    bool
	id     uint64
	addr   string
	respCh chan error
}

type snapshotRequest struct {
	respCh chan snapshotResult
}

type snapshotResult struct {
	index uint64
	err   error
}

// voteResult is a RequestVote reply tagged with the term it was sent
// under, so the loop can discard stale responses.
type voteResult struct {
	from     uint64
	sentTerm uint64
	reply    *RequestVoteReply
}

// appendResult is an AppendEntries reply. match is the last index the
// follower holds if the reply reports success.
type appendResult struct {
	from     uint64
	sentTerm uint64
	match    uint64
	reply    *AppendEntriesReply
}

// snapResult reports the outcome of a chunked snapshot transfer.
type snapResult struct {
	from     uint64
	sentTerm uint64
	index    uint64
	term     uint64 // Peer's term if it exceeded ours, else 0
	err      error
}

// incomingSnapshot accumulates snapshot chunks on a follower.
type incomingSnapshot struct {
	index uint64
	term  uint64
	data  []byte
}

// Node is a member of a Raft cluster. All protocol state is owned by a
// single decision loop; every input (RPCs, timeouts, client requests,
// RPC responses) is delivered to it over a channel and handled one at a
// time, so no protocol state needs locking.
type Node struct {
	id     uint64
	config *Config

	// State owned by the decision loop
	term        uint64
	votedFor    uint64
	state       uint8
	leaderID    uint64
	log         *RaftLog
	commitIndex uint64
	lastApplied uint64

	// Active cluster configuration. baseConf is the fallback below the
	// oldest config entry still in the log: the snapshot's configuration
	// or the bootstrap set.
	conf      *Configuration
	confIndex uint64
	baseConf  *Configuration

	// Leader volatile state
	nextIndex    map[uint64]uint64
	matchIndex   map[uint64]uint64
	snapshotting map[uint64]bool
	votesGranted map[uint64]bool

	// Pending client work
	pendingProposals map[uint64]*proposal
	pendingConf      *confChange
	jointIndex       uint64 // Joint config entry awaiting commit
	finalIndex       uint64 // Final config entry awaiting commit

	// Snapshot chunks being received
	pendingSnap *incomingSnapshot

	// Components
	storage      StableStorage
	snapshots    *SnapshotStore
	transport    Transport
	stateMachine StateMachine
	logger       Logger

	// Channels into the decision loop
	rpcCh        chan *rpcEnvelope
	proposeCh    chan *proposal
	confChangeCh chan *confChange
	snapshotCh   chan *snapshotRequest
	statusCh     chan chan Status
	voteRespCh   chan voteResult
	appendRespCh chan appendResult
	snapRespCh   chan snapResult

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  int32

	electionTimer  *time.Timer
	heartbeatTimer *time.Timer
}

// NewNode creates a Raft node, recovering any persisted state. The
// snapshot and log are reconciled so an interrupted compaction finishes
// here; corrupted persisted state fails the call and the node must not
// be started.
func NewNode(cfg *Config, sm StateMachine, transport Transport, storage StableStorage, snapshots *SnapshotStore) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &defaultLogger{}
	}

	n := &Node{
		id:               cfg.ID,
		config:           cfg,
		state:            StateFollower,
		storage:          storage,
		snapshots:        snapshots,
		transport:        transport,
		stateMachine:     sm,
		logger:           logger,
		nextIndex:        make(map[uint64]uint64),
		matchIndex:       make(map[uint64]uint64),
		snapshotting:     make(map[uint64]bool),
		pendingProposals: make(map[uint64]*proposal),
		rpcCh:            make(chan *rpcEnvelope),
		proposeCh:        make(chan *proposal),
		confChangeCh:     make(chan *confChange),
		snapshotCh:       make(chan *snapshotRequest),
		statusCh:         make(chan chan Status),
		voteRespCh:       make(chan voteResult, 64),
		appendRespCh:     make(chan appendResult, 64),
		snapRespCh:       make(chan snapResult, 16),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}

	if err := n.recover(); err != nil {
		return nil, err
	}

	return n, nil
}

// recover rebuilds node state from the snapshot store and stable storage.
func (n *Node) recover() error {
	snap, err := n.snapshots.Latest()
	if err != nil {
		return err
	}

	hs, base, baseTerm, entries, err := n.storage.Load()
	if err != nil {
		return err
	}
	n.term = hs.Term
	n.votedFor = hs.VotedFor

	if snap != nil {
		if base > snap.LastIncludedIndex {
			// The snapshot covering the compacted prefix is gone
			return ErrCorrupted
		}
		if base < snap.LastIncludedIndex {
			// Crash between snapshot save and log compaction; finish it
			if err := n.storage.CompactTo(snap.LastIncludedIndex, snap.LastIncludedTerm); err != nil {
				return err
			}
			kept := entries[:0]
			for _, e := range entries {
				if e.Index > snap.LastIncludedIndex {
					kept = append(kept, e)
				}
			}
			entries = kept
			base = snap.LastIncludedIndex
			baseTerm = snap.LastIncludedTerm
		}
		if err := n.stateMachine.Restore(snap.Data); err != nil {
			return err
		}
		n.commitIndex = snap.LastIncludedIndex
		n.lastApplied = snap.LastIncludedIndex
		n.baseConf = snap.Conf
	} else if base > 0 {
		// Log was compacted but no snapshot survives
		return ErrCorrupted
	}

	n.log = NewRaftLogFrom(base, baseTerm, entries)

	if n.baseConf == nil {
		if len(n.config.Bootstrap) > 0 {
			n.baseConf = NewConfiguration(n.config.Bootstrap)
		} else {
			n.baseConf = &Configuration{Members: make(map[uint64]string)}
		}
	}
	n.refreshConfig()

	return nil
}

// refreshConfig recomputes the active configuration from the newest
// config entry in the log, falling back to the base configuration.
func (n *Node) refreshConfig() {
	for idx := n.log.LastIndex(); idx > n.log.Base(); idx-- {
		entry, err := n.log.Get(idx)
		if err != nil {
			break
		}
		if entry.Type != LogEntryConfig {
			continue
		}
		conf, err := DeserializeConfiguration(entry.Command)
		if err != nil {
			n.logger.Error("invalid config entry", "index", idx, "error", err)
			break
		}
		n.conf = conf
		n.confIndex = idx
		return
	}
	n.conf = n.baseConf.Clone()
	n.confIndex = 0
}

// ID returns the node's ID.
func (n *Node) ID() uint64 {
	return n.id
}

// Start begins the decision loop and transport listener.
func (n *Node) Start() error {
	if !atomic.CompareAndSwapInt32(&n.started, 0, 1) {
		return nil
	}

	if err := n.transport.Listen(n.handleRPC); err != nil {
		atomic.StoreInt32(&n.started, 0)
		return err
	}

	go n.run()
	return nil
}

// Stop shuts the node down and waits for the decision loop to exit.
func (n *Node) Stop() {
	if atomic.LoadInt32(&n.started) == 0 {
		return
	}
	n.stopOnce.Do(func() { close(n.stopCh) })
	<-n.doneCh
}

// Done returns a channel that is closed once the decision loop has
// exited, whether through Stop or an unrecoverable storage fault.
func (n *Node) Done() <-chan struct{} {
	return n.doneCh
}

// fatal records an unrecoverable fault (a failed persistence write) and
// stops the node. Continuing after a failed write could acknowledge
// state that is not durable.
func (n *Node) fatal(err error) {
	n.logger.Error("unrecoverable storage fault, stopping node", "error", err)
	n.stopOnce.Do(func() { close(n.stopCh) })
}

// Propose submits a command for replication. It returns the state
// machine's result once the command is committed and applied, or
// ErrNotLeader if this node cannot accept writes.
func (n *Node) Propose(ctx context.Context, cmd []byte) ([]byte, error) {
	if atomic.LoadInt32(&n.started) == 0 {
		return nil, ErrNodeStopped
	}

	req := &proposal{cmd: cmd, respCh: make(chan proposalResult, 1)}

	select {
	case n.proposeCh <- req:
	case <-n.stopCh:
		return nil, ErrNodeStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.respCh:
		return res.data, res.err
	case <-n.stopCh:
		return nil, ErrNodeStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AddServer starts a joint-consensus change adding a member. It returns
// once the final configuration is committed.
func (n *Node) AddServer(ctx context.Context, id uint64, addr string) error {
	return n.changeConfig(ctx, &confChange{add: true, id: id, addr: addr, respCh: make(chan error, 1)})
}

// RemoveServer starts a joint-consensus change removing a member. It
// returns once the final configuration is committed.
func (n *Node) RemoveServer(ctx context.Context, id uint64) error {
	return n.changeConfig(ctx, &confChange{add: false, id: id, respCh: make(chan error, 1)})
}

func (n *Node) changeConfig(ctx context.Context, cc *confChange) error {
	if atomic.LoadInt32(&n.started) == 0 {
		return ErrNodeStopped
	}

	select {
	case n.confChangeCh <- cc:
	case <-n.stopCh:
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cc.respCh:
		return err
	case <-n.stopCh:
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakeSnapshot snapshots the state machine and compacts the log,
// returning the last index folded into the snapshot.
func (n *Node) TakeSnapshot(ctx context.Context) (uint64, error) {
	if atomic.LoadInt32(&n.started) == 0 {
		return 0, ErrNodeStopped
	}

	req := &snapshotRequest{respCh: make(chan snapshotResult, 1)}

	select {
	case n.snapshotCh <- req:
	case <-n.stopCh:
		return 0, ErrNodeStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-req.respCh:
		return res.index, res.err
	case <-n.stopCh:
		return 0, ErrNodeStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Status returns a consistent view of the node.
func (n *Node) Status() (Status, error) {
	if atomic.LoadInt32(&n.started) == 0 {
		return Status{}, ErrNodeStopped
	}

	ch := make(chan Status, 1)
	select {
	case n.statusCh <- ch:
	case <-n.stopCh:
		return Status{}, ErrNodeStopped
	}

	select {
	case st := <-ch:
		return st, nil
	case <-n.stopCh:
		return Status{}, ErrNodeStopped
	}
}

// IsLeader reports whether this node is currently the leader.
func (n *Node) IsLeader() bool {
	st, err := n.Status()
	return err == nil && st.State == "leader"
}

// LeaderAddr returns the transport address of the known leader, or ""
// when no leader is known.
func (n *Node) LeaderAddr() string {
	st, err := n.Status()
	if err != nil {
		return ""
	}
	return st.LeaderAddr
}

// run is the decision loop. It owns all protocol state.
func (n *Node) run() {
	defer close(n.doneCh)
	defer n.storage.Close()
	defer n.transport.Close()

	n.electionTimer = time.NewTimer(n.randomElectionTimeout())
	defer n.electionTimer.Stop()

	for {
		var heartbeatC <-chan time.Time
		if n.state == StateLeader && n.heartbeatTimer != nil {
			heartbeatC = n.heartbeatTimer.C
		}

		select {
		case <-n.stopCh:
			n.failPending(ErrNodeStopped)
			return

		case env := <-n.rpcCh:
			env.respCh <- n.dispatchRPC(env.msgType, env.data)

		case <-n.electionTimer.C:
			n.onElectionTimeout()

		case <-heartbeatC:
			n.onHeartbeatTick()

		case req := <-n.proposeCh:
			n.onPropose(req)

		case cc := <-n.confChangeCh:
			n.onConfChange(cc)

		case req := <-n.snapshotCh:
			index, err := n.takeSnapshot()
			req.respCh <- snapshotResult{index: index, err: err}

		case ch := <-n.statusCh:
			ch <- n.buildStatus()

		case res := <-n.voteRespCh:
			n.onVoteResult(res)

		case res := <-n.appendRespCh:
			n.onAppendResult(res)

		case res := <-n.snapRespCh:
			n.onSnapshotResult(res)
		}
	}
}

// handleRPC delivers an incoming RPC to the decision loop and waits for
// its reply. Called from transport goroutines.
func (n *Node) handleRPC(msgType uint8, data []byte) []byte {
	env := &rpcEnvelope{msgType: msgType, data: data, respCh: make(chan []byte, 1)}

	select {
	case n.rpcCh <- env:
	case <-n.stopCh:
		return nil
	}

	select {
	case resp := <-env.respCh:
		return resp
	case <-n.stopCh:
		return nil
	}
}

func (n *Node) dispatchRPC(msgType uint8, data []byte) []byte {
	switch msgType {
	case RPCRequestVote:
		return n.handleRequestVote(data)
	case RPCAppendEntries:
		return n.handleAppendEntries(data)
	case RPCInstallSnapshot:
		return n.handleInstallSnapshot(data)
	default:
		return nil
	}
}

func (n *Node) handleRequestVote(data []byte) []byte {
	args, err := DeserializeRequestVoteArgs(data)
	if err != nil {
		return (&RequestVoteReply{Term: n.term}).Serialize()
	}

	reply := &RequestVoteReply{}

	// Reply false if term < currentTerm
	if args.Term < n.term {
		reply.Term = n.term
		return reply.Serialize()
	}

	if args.Term > n.term {
		if !n.stepDown(args.Term, 0) {
			reply.Term = n.term
			return reply.Serialize()
		}
	}
	reply.Term = n.term

	// Election restriction: only vote for candidates whose log is at
	// least as up to date as ours
	upToDate := args.LastLogTerm > n.log.LastTerm() ||
		(args.LastLogTerm == n.log.LastTerm() && args.LastLogIndex >= n.log.LastIndex())

	if (n.votedFor == 0 || n.votedFor == args.CandidateID) && upToDate {
		if n.votedFor != args.CandidateID {
			n.votedFor = args.CandidateID
			// The vote must be durable before the reply leaves
			if err := n.storage.PersistState(n.term, n.votedFor); err != nil {
				n.fatal(err)
				return reply.Serialize()
			}
		}
		reply.VoteGranted = true
		n.resetElectionTimer()
	}

	return reply.Serialize()
}

func (n *Node) handleAppendEntries(data []byte) []byte {
	args, err := DeserializeAppendEntriesArgs(data)
	if err != nil {
		return (&AppendEntriesReply{Term: n.term}).Serialize()
	}

	reply := &AppendEntriesReply{}

	// Reply false if term < currentTerm
	if args.Term < n.term {
		reply.Term = n.term
		return reply.Serialize()
	}

	if args.Term > n.term || n.state == StateCandidate {
		// A valid leader for this term exists
		if !n.stepDown(args.Term, args.LeaderID) {
			reply.Term = n.term
			return reply.Serialize()
		}
	}
	reply.Term = n.term
	n.leaderID = args.LeaderID
	n.resetElectionTimer()

	// Consistency check on the entry preceding the new ones
	prevTerm, err := n.log.Term(args.PrevLogIndex)
	if err == ErrLogIndexOutOfRange {
		// Log too short: hint where it ends
		reply.ConflictIndex = n.log.LastIndex() + 1
		return reply.Serialize()
	}
	if err == nil && prevTerm != args.PrevLogTerm {
		// Terms disagree: hint the whole conflicting term
		reply.ConflictTerm = prevTerm
		reply.ConflictIndex = n.log.FirstIndexOfTerm(args.PrevLogIndex)
		return reply.Serialize()
	}
	// A compacted prevLogIndex matches by construction: the snapshot
	// holds only committed entries.

	// Append new entries, truncating our log at the first conflict
	var toPersist []*LogEntry
	truncated := false
	hasConfig := false
	for _, entry := range args.Entries {
		if entry.Index <= n.log.Base() {
			continue
		}
		if entry.Index <= n.log.LastIndex() {
			have, _ := n.log.Term(entry.Index)
			if have == entry.Term {
				continue
			}
			n.log.TruncateFrom(entry.Index)
			truncated = true
		}
		n.log.Append(entry)
		if entry.Type == LogEntryConfig {
			hasConfig = true
		}
		toPersist = append(toPersist, entry)
	}

	if len(toPersist) > 0 {
		// Entries must be durable before the reply leaves
		if err := n.storage.PersistEntries(toPersist); err != nil {
			n.fatal(err)
			return reply.Serialize()
		}
	}
	if truncated || hasConfig {
		n.refreshConfig()
	}

	// Advance commit to what the leader reports, bounded by our log
	if args.LeaderCommit > n.commitIndex {
		newCommit := args.LeaderCommit
		if last := n.log.LastIndex(); newCommit > last {
			newCommit = last
		}
		if newCommit > n.commitIndex {
			n.commitIndex = newCommit
			n.applyCommitted()
		}
	}

	reply.Success = true
	return reply.Serialize()
}

func (n *Node) handleInstallSnapshot(data []byte) []byte {
	args, err := DeserializeInstallSnapshotArgs(data)
	if err != nil {
		return (&InstallSnapshotReply{Term: n.term}).Serialize()
	}

	reply := &InstallSnapshotReply{Term: n.term}

	// Reply if term < currentTerm
	if args.Term < n.term {
		return reply.Serialize()
	}
	if args.Term > n.term || n.state == StateCandidate {
		if !n.stepDown(args.Term, args.LeaderID) {
			reply.Term = n.term
			return reply.Serialize()
		}
	}
	reply.Term = n.term
	n.leaderID = args.LeaderID
	n.resetElectionTimer()

	// Assemble chunks; any gap aborts the transfer and the leader
	// starts over
	if args.Offset == 0 {
		n.pendingSnap = &incomingSnapshot{index: args.LastIncludedIndex, term: args.LastIncludedTerm}
	}
	ps := n.pendingSnap
	if ps == nil || ps.index != args.LastIncludedIndex || ps.term != args.LastIncludedTerm ||
		uint64(len(ps.data)) != args.Offset {
		n.pendingSnap = nil
		return reply.Serialize()
	}
	ps.data = append(ps.data, args.Data...)
	if !args.Done {
		return reply.Serialize()
	}
	n.pendingSnap = nil

	snap, err := DecodeSnapshot(ps.data)
	if err != nil || snap.LastIncludedIndex != args.LastIncludedIndex || snap.LastIncludedTerm != args.LastIncludedTerm {
		n.logger.Error("discarding corrupted snapshot transfer", "from", args.LeaderID)
		return reply.Serialize()
	}

	// A snapshot behind our commit point adds nothing
	if snap.LastIncludedIndex <= n.commitIndex {
		return reply.Serialize()
	}

	// Make the snapshot durable, then cut the log over, then load it
	if err := n.snapshots.Save(snap); err != nil {
		n.fatal(err)
		return reply.Serialize()
	}
	if err := n.storage.CompactTo(snap.LastIncludedIndex, snap.LastIncludedTerm); err != nil {
		n.fatal(err)
		return reply.Serialize()
	}
	n.log.Reset(snap.LastIncludedIndex, snap.LastIncludedTerm)
	if err := n.stateMachine.Restore(snap.Data); err != nil {
		n.fatal(err)
		return reply.Serialize()
	}

	n.baseConf = snap.Conf
	n.refreshConfig()
	n.commitIndex = snap.LastIncludedIndex
	n.lastApplied = snap.LastIncludedIndex

	n.logger.Info("snapshot installed",
		"index", snap.LastIncludedIndex, "term", snap.LastIncludedTerm)

	return reply.Serialize()
}

// stepDown moves to follower, adopting the given term if it is newer.
// Returns false if the term could not be persisted.
func (n *Node) stepDown(term uint64, leader uint64) bool {
	wasLeader := n.state == StateLeader
	newTerm := term > n.term
	n.state = StateFollower

	if newTerm {
		n.term = term
		n.votedFor = 0
		if err := n.storage.PersistState(n.term, n.votedFor); err != nil {
			n.fatal(err)
			return false
		}
	}
	if leader != 0 {
		n.leaderID = leader
	} else if newTerm || wasLeader {
		n.leaderID = 0
	}

	if wasLeader || n.pendingConf != nil {
		// Entries already accepted into the log may still commit under
		// the new leader, so the outcome is unknown to the caller.
		n.failPending(ErrProposalDropped)
	}
	n.jointIndex = 0
	n.finalIndex = 0
	n.resetElectionTimer()
	return true
}

func (n *Node) failPending(err error) {
	for index, req := range n.pendingProposals {
		req.respCh <- proposalResult{err: err}
		delete(n.pendingProposals, index)
	}
	if n.pendingConf != nil {
		n.pendingConf.respCh <- err
		n.pendingConf = nil
	}
}

func (n *Node) onElectionTimeout() {
	if n.state == StateLeader {
		return
	}
	if !n.conf.Contains(n.id) {
		// Not a voting member; wait for the leader to catch us up
		n.resetElectionTimer()
		return
	}
	n.startElection()
}

func (n *Node) startElection() {
	n.state = StateCandidate
	n.term++
	n.votedFor = n.id
	n.leaderID = 0

	// Term and self-vote must be durable before requesting votes
	if err := n.storage.PersistState(n.term, n.votedFor); err != nil {
		n.fatal(err)
		return
	}

	n.votesGranted = map[uint64]bool{n.id: true}
	n.resetElectionTimer()
	n.logger.Info("starting election", "term", n.term)

	if n.conf.Quorum(n.votesGranted) {
		// Single-node cluster
		n.becomeLeader()
		return
	}

	args := &RequestVoteArgs{
		Term:         n.term,
		CandidateID:  n.id,
		LastLogIndex: n.log.LastIndex(),
		LastLogTerm:  n.log.LastTerm(),
	}
	data := args.Serialize()

	for _, peerID := range n.conf.Peers(n.id) {
		addr, ok := n.conf.Address(peerID)
		if !ok {
			continue
		}
		go n.sendRequestVote(peerID, addr, n.term, data)
	}
}

func (n *Node) sendRequestVote(peerID uint64, addr string, term uint64, data []byte) {
	resp, err := n.transport.Send(addr, RPCRequestVote, data)
	if err != nil {
		return
	}
	reply, err := DeserializeRequestVoteReply(resp)
	if err != nil {
		return
	}

	select {
	case n.voteRespCh <- voteResult{from: peerID, sentTerm: term, reply: reply}:
	case <-n.stopCh:
	}
}

func (n *Node) onVoteResult(res voteResult) {
	if res.reply.Term > n.term {
		n.stepDown(res.reply.Term, 0)
		return
	}
	if n.state != StateCandidate || res.sentTerm != n.term {
		return
	}
	if !res.reply.VoteGranted {
		return
	}

	n.votesGranted[res.from] = true
	if n.conf.Quorum(n.votesGranted) {
		n.becomeLeader()
	}
}

func (n *Node) becomeLeader() {
	n.state = StateLeader
	n.leaderID = n.id
	n.logger.Info("became leader", "term", n.term)

	n.nextIndex = make(map[uint64]uint64)
	n.matchIndex = make(map[uint64]uint64)
	for _, peerID := range n.conf.Peers(n.id) {
		n.nextIndex[peerID] = n.log.LastIndex() + 1
		n.matchIndex[peerID] = 0
	}

	// Commit an entry of our own term to unlock the commit rule
	noop := &LogEntry{Index: n.log.LastIndex() + 1, Term: n.term, Type: LogEntryNoop}
	if !n.appendAsLeader(noop) {
		return
	}

	// Finish a membership change a previous leader left half done
	if n.conf.IsJoint() {
		if n.confIndex > n.commitIndex {
			n.jointIndex = n.confIndex
		} else {
			n.appendFinalConfig()
		}
	}

	n.advanceCommit()
	n.broadcastAppend()
	n.resetHeartbeatTimer()
}

// appendAsLeader appends an entry to the local log and makes it durable
// before it is offered to any follower.
func (n *Node) appendAsLeader(entry *LogEntry) bool {
	n.log.Append(entry)
	if err := n.storage.PersistEntries([]*LogEntry{entry}); err != nil {
		n.fatal(err)
		return false
	}
	n.matchIndex[n.id] = n.log.LastIndex()
	return true
}

func (n *Node) onPropose(req *proposal) {
	if n.state != StateLeader {
		req.respCh <- proposalResult{err: ErrNotLeader}
		return
	}

	entry := &LogEntry{
		Index:   n.log.LastIndex() + 1,
		Term:    n.term,
		Type:    LogEntryCommand,
		Command: req.cmd,
	}
	if !n.appendAsLeader(entry) {
		req.respCh <- proposalResult{err: ErrNodeStopped}
		return
	}

	n.pendingProposals[entry.Index] = req
	n.advanceCommit()
	n.broadcastAppend()
}

func (n *Node) onConfChange(cc *confChange) {
	if n.state != StateLeader {
		cc.respCh <- ErrNotLeader
		return
	}
	// One change at a time: the previous one must be fully committed
	if n.conf.IsJoint() || n.confIndex > n.commitIndex {
		cc.respCh <- ErrConfigChangeInFlight
		return
	}

	target := make(map[uint64]string, len(n.conf.Members)+1)
	for id, addr := range n.conf.Members {
		target[id] = addr
	}
	if cc.add {
		if _, ok := target[cc.id]; ok {
			cc.respCh <- ErrAlreadyMember
			return
		}
		if cc.id == 0 || cc.addr == "" {
			cc.respCh <- ErrInvalidConfig
			return
		}
		target[cc.id] = cc.addr
	} else {
		if _, ok := target[cc.id]; !ok {
			cc.respCh <- ErrNotMember
			return
		}
		delete(target, cc.id)
		if len(target) == 0 {
			cc.respCh <- ErrInvalidConfig
			return
		}
	}

	joint := n.conf.EnterJoint(target)
	data, err := joint.Serialize()
	if err != nil {
		cc.respCh <- err
		return
	}

	entry := &LogEntry{
		Index:   n.log.LastIndex() + 1,
		Term:    n.term,
		Type:    LogEntryConfig,
		Command: data,
	}
	if !n.appendAsLeader(entry) {
		cc.respCh <- ErrNodeStopped
		return
	}

	// The joint configuration governs from the moment it is appended
	n.conf = joint
	n.confIndex = entry.Index
	n.jointIndex = entry.Index
	n.pendingConf = cc

	n.logger.Info("membership change started",
		"add", cc.add, "node", cc.id, "index", entry.Index)

	// New members need replication state before the next heartbeat
	for _, peerID := range n.conf.Peers(n.id) {
		if _, ok := n.nextIndex[peerID]; !ok {
			n.nextIndex[peerID] = n.log.LastIndex() + 1
			n.matchIndex[peerID] = 0
		}
	}

	n.advanceCommit()
	n.broadcastAppend()
}

func (n *Node) onHeartbeatTick() {
	if n.state != StateLeader {
		return
	}
	n.broadcastAppend()
	n.resetHeartbeatTimer()
}

func (n *Node) resetElectionTimer() {
	timeout := n.randomElectionTimeout()
	if n.electionTimer == nil {
		n.electionTimer = time.NewTimer(timeout)
		return
	}
	if !n.electionTimer.Stop() {
		select {
		case <-n.electionTimer.C:
		default:
		}
	}
	n.electionTimer.Reset(timeout)
}

func (n *Node) resetHeartbeatTimer() {
	if n.heartbeatTimer == nil {
		n.heartbeatTimer = time.NewTimer(n.config.HeartbeatInterval)
		return
	}
	if !n.heartbeatTimer.Stop() {
		select {
		case <-n.heartbeatTimer.C:
		default:
		}
	}
	n.heartbeatTimer.Reset(n.config.HeartbeatInterval)
}

// randomElectionTimeout draws from [ElectionTimeout, 2*ElectionTimeout)
// so competing candidates rarely time out together.
func (n *Node) randomElectionTimeout() time.Duration {
	return n.config.ElectionTimeout + time.Duration(rand.Int63n(int64(n.config.ElectionTimeout)))
}

func (n *Node) buildStatus() Status {
	leaderAddr := ""
	if n.leaderID != 0 {
		leaderAddr, _ = n.conf.Address(n.leaderID)
	}

	members := make(map[uint64]string, len(n.conf.Members))
	for id, addr := range n.conf.Members {
		members[id] = addr
	}
	var joint map[uint64]string
	if n.conf.Joint != nil {
		joint = make(map[uint64]string, len(n.conf.Joint))
		for id, addr := range n.conf.Joint {
			joint[id] = addr
		}
	}

	return Status{
		ID:            n.id,
		State:         StateString(n.state),
		Term:          n.term,
		LeaderID:      n.leaderID,
		LeaderAddr:    leaderAddr,
		CommitIndex:   n.commitIndex,
		LastApplied:   n.lastApplied,
		LastLogIndex:  n.log.LastIndex(),
		LastLogTerm:   n.log.LastTerm(),
		SnapshotIndex: n.log.Base(),
		Members:       members,
		Joint:         joint,
	}
}
