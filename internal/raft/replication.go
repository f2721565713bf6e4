package raft

// broadcastAppend sends AppendEntries to every peer. Serves as both
// replication and heartbeat; an empty entry set still carries the
// leader's term and commit index.
func (n *Node) broadcastAppend() {
	for _, peerID := range n.conf.Peers(n.id) {
		n.replicateTo(peerID)
	}
}

// replicateTo sends the next batch of entries to one peer, or starts a
// snapshot transfer when the needed entries are already compacted.
func (n *Node) replicateTo(peerID uint64) {
	addr, ok := n.conf.Address(peerID)
	if !ok {
		return
	}

	next := n.nextIndex[peerID]
	if next == 0 {
		next = n.log.LastIndex() + 1
		n.nextIndex[peerID] = next
	}

	if next <= n.log.Base() {
		n.sendSnapshotTo(peerID, addr)
		return
	}

	prev := next - 1
	prevTerm, err := n.log.Term(prev)
	if err != nil {
		// Compacted from under us; fall back to a snapshot
		n.sendSnapshotTo(peerID, addr)
		return
	}

	entries := n.log.GetFrom(next, n.config.MaxEntriesPerAppend)
	args := &AppendEntriesArgs{
		Term:         n.term,
		LeaderID:     n.id,
		PrevLogIndex: prev,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	match := prev + uint64(len(entries))

	go n.sendAppendEntries(peerID, addr, n.term, match, args.Serialize())
}

func (n *Node) sendAppendEntries(peerID uint64, addr string, term, match uint64, data []byte) {
	resp, err := n.transport.Send(addr, RPCAppendEntries, data)
	if err != nil {
		return
	}
	reply, err := DeserializeAppendEntriesReply(resp)
	if err != nil {
		return
	}

	select {
	case n.appendRespCh <- appendResult{from: peerID, sentTerm: term, match: match, reply: reply}:
	case <-n.stopCh:
	}
}

func (n *Node) onAppendResult(res appendResult) {
	if res.reply.Term > n.term {
		n.stepDown(res.reply.Term, 0)
		return
	}
	if n.state != StateLeader || res.sentTerm != n.term {
		return
	}
	if _, ok := n.nextIndex[res.from]; !ok {
		// Peer left the configuration while the RPC was in flight
		return
	}

	if res.reply.Success {
		if res.match > n.matchIndex[res.from] {
			n.matchIndex[res.from] = res.match
		}
		if res.match+1 > n.nextIndex[res.from] {
			n.nextIndex[res.from] = res.match + 1
		}
		n.advanceCommit()
		if n.state == StateLeader && n.nextIndex[res.from] <= n.log.LastIndex() {
			n.replicateTo(res.from)
		}
		return
	}

	n.nextIndex[res.from] = n.backupNextIndex(res.reply)
	n.replicateTo(res.from)
}

// backupNextIndex turns a follower's conflict hint into the next index
// to try, skipping a whole term per round trip instead of one entry.
func (n *Node) backupNextIndex(reply *AppendEntriesReply) uint64 {
	next := reply.ConflictIndex
	if reply.ConflictTerm != 0 {
		if last := n.log.LastIndexOfTerm(reply.ConflictTerm); last > 0 {
			// We hold the conflicting term too; resume right after our
			// last entry of it
			next = last + 1
		}
	}
	if next < 1 {
		next = 1
	}
	return next
}

// advanceCommit applies the leader commit rule and then applies newly
// committed entries.
func (n *Node) advanceCommit() {
	n.maybeCommit()
	n.applyCommitted()
}

// maybeCommit advances commitIndex to the highest index of the current
// term that a quorum holds. Entries from earlier terms are never counted
// directly; they commit alongside.
func (n *Node) maybeCommit() {
	if n.state != StateLeader {
		return
	}

	for idx := n.log.LastIndex(); idx > n.commitIndex; idx-- {
		term, err := n.log.Term(idx)
		if err != nil {
			return
		}
		if term != n.term {
			return
		}

		votes := make(map[uint64]bool)
		for id, match := range n.matchIndex {
			if match >= idx {
				votes[id] = true
			}
		}
		if n.conf.Quorum(votes) {
			n.commitIndex = idx
			return
		}
	}
}

// applyCommitted feeds committed entries to the state machine in order
// and answers waiting proposals. Runs on both leaders and followers.
func (n *Node) applyCommitted() {
	for n.lastApplied < n.commitIndex {
		idx := n.lastApplied + 1
		entry, err := n.log.Get(idx)
		if err != nil {
			n.logger.Error("committed entry missing from log", "index", idx, "error", err)
			return
		}

		var result []byte
		var applyErr error
		if entry.Type == LogEntryCommand {
			result, applyErr = n.stateMachine.Apply(entry)
		}

		n.lastApplied = idx

		if req, ok := n.pendingProposals[idx]; ok {
			delete(n.pendingProposals, idx)
			req.respCh <- proposalResult{data: result, err: applyErr}
		}

		if entry.Type == LogEntryConfig {
			n.onConfigCommitted(idx)
		}
	}

	if n.config.SnapshotThreshold > 0 && n.lastApplied-n.log.Base() >= n.config.SnapshotThreshold {
		if _, err := n.takeSnapshot(); err != nil {
			n.logger.Error("automatic snapshot failed", "error", err)
		}
	}
}

// onConfigCommitted drives the two phases of a membership change on the
// leader. Committing the joint configuration under both majorities
// unlocks the final one; committing the final one completes the change.
func (n *Node) onConfigCommitted(idx uint64) {
	if n.state != StateLeader {
		return
	}

	if idx == n.jointIndex && n.conf.IsJoint() {
		n.jointIndex = 0
		n.appendFinalConfig()
		return
	}

	if idx == n.finalIndex {
		n.finalIndex = 0
		if n.pendingConf != nil {
			n.pendingConf.respCh <- nil
			n.pendingConf = nil
		}
		n.logger.Info("membership change committed", "members", len(n.conf.Members))
		if !n.conf.Contains(n.id) {
			// We replicated our own removal; hand off leadership
			n.logger.Info("removed from cluster, stepping down")
			n.stepDown(n.term, 0)
		}
	}
}

func (n *Node) appendFinalConfig() {
	final := n.conf.LeaveJoint()
	data, err := final.Serialize()
	if err != nil {
		n.logger.Error("cannot encode final configuration", "error", err)
		return
	}

	entry := &LogEntry{
		Index:   n.log.LastIndex() + 1,
		Term:    n.term,
		Type:    LogEntryConfig,
		Command: data,
	}
	if !n.appendAsLeader(entry) {
		return
	}

	n.conf = final
	n.confIndex = entry.Index
	n.finalIndex = entry.Index

	n.maybeCommit()
	n.broadcastAppend()
}

// sendSnapshotTo starts a chunked snapshot transfer to a peer whose
// nextIndex predates the log base. At most one transfer per peer runs
// at a time.
func (n *Node) sendSnapshotTo(peerID uint64, addr string) {
	if n.snapshotting[peerID] {
		return
	}

	snap, err := n.snapshots.Latest()
	if err != nil {
		n.logger.Error("cannot load snapshot for lagging peer", "peer", peerID, "error", err)
		return
	}
	if snap == nil || snap.LastIncludedIndex != n.log.Base() {
		n.logger.Error("no snapshot covering compacted log", "peer", peerID, "base", n.log.Base())
		return
	}

	raw, err := EncodeSnapshot(snap)
	if err != nil {
		n.logger.Error("cannot encode snapshot", "error", err)
		return
	}

	n.snapshotting[peerID] = true
	n.logger.Info("sending snapshot", "peer", peerID,
		"index", snap.LastIncludedIndex, "size", len(raw))

	go n.streamSnapshot(peerID, addr, n.term, snap.LastIncludedIndex, snap.LastIncludedTerm, raw)
}

// streamSnapshot pushes the encoded snapshot to one peer in
// SnapshotChunkSize pieces, each chunk acknowledged before the next is
// sent. Runs outside the decision loop; the outcome is reported back in.
func (n *Node) streamSnapshot(peerID uint64, addr string, term, index, snapTerm uint64, raw []byte) {
	chunkSize := n.config.SnapshotChunkSize
	res := snapResult{from: peerID, sentTerm: term, index: index}

	for offset := int64(0); ; {
		end := offset + chunkSize
		if end > int64(len(raw)) {
			end = int64(len(raw))
		}
		done := end == int64(len(raw))

		args := &InstallSnapshotArgs{
			Term:              term,
			LeaderID:          n.id,
			LastIncludedIndex: index,
			LastIncludedTerm:  snapTerm,
			Offset:            uint64(offset),
			Done:              done,
			Data:              raw[offset:end],
		}

		resp, err := n.transport.Send(addr, RPCInstallSnapshot, args.Serialize())
		if err != nil {
			res.err = err
			break
		}
		reply, err := DeserializeInstallSnapshotReply(resp)
		if err != nil {
			res.err = err
			break
		}
		if reply.Term > term {
			res.term = reply.Term
			break
		}
		if done {
			break
		}
		offset = end
	}

	select {
	case n.snapRespCh <- res:
	case <-n.stopCh:
	}
}

func (n *Node) onSnapshotResult(res snapResult) {
	delete(n.snapshotting, res.from)

	if res.term > n.term {
		n.stepDown(res.term, 0)
		return
	}
	if n.state != StateLeader || res.sentTerm != n.term {
		return
	}
	if res.err != nil {
		n.logger.Warn("snapshot transfer failed", "peer", res.from, "error", res.err)
		return
	}
	if _, ok := n.nextIndex[res.from]; !ok {
		return
	}

	if res.index > n.matchIndex[res.from] {
		n.matchIndex[res.from] = res.index
	}
	if res.index+1 > n.nextIndex[res.from] {
		n.nextIndex[res.from] = res.index + 1
	}
	n.logger.Info("snapshot transfer complete", "peer", res.from, "index", res.index)

	n.advanceCommit()
	if n.state == StateLeader && n.nextIndex[res.from] <= n.log.LastIndex() {
		n.replicateTo(res.from)
	}
}

// takeSnapshot captures the state machine at lastApplied, persists it,
// and compacts the log up to it.
func (n *Node) takeSnapshot() (uint64, error) {
	index := n.lastApplied
	if index <= n.log.Base() {
		return n.log.Base(), nil
	}

	term, err := n.log.Term(index)
	if err != nil {
		return 0, err
	}
	data, err := n.stateMachine.Snapshot()
	if err != nil {
		return 0, err
	}

	snap := &Snapshot{
		LastIncludedIndex: index,
		LastIncludedTerm:  term,
		Conf:              n.confAt(index),
		Data:              data,
	}
	if err := n.snapshots.Save(snap); err != nil {
		return 0, err
	}

	// The snapshot is durable; cutting the log is now safe
	if err := n.storage.CompactTo(index, term); err != nil {
		n.fatal(err)
		return 0, err
	}
	if err := n.log.CompactTo(index); err != nil {
		return 0, err
	}
	n.baseConf = snap.Conf

	n.logger.Info("snapshot taken", "index", index, "term", term)
	return index, nil
}

// confAt resolves the configuration in force at the given log index.
func (n *Node) confAt(index uint64) *Configuration {
	if n.confIndex <= index {
		return n.conf.Clone()
	}
	for idx := index; idx > n.log.Base(); idx-- {
		entry, err := n.log.Get(idx)
		if err != nil {
			break
		}
		if entry.Type != LogEntryConfig {
			continue
		}
		if conf, err := DeserializeConfiguration(entry.Command); err == nil {
			return conf
		}
	}
	return n.baseConf.Clone()
}
