package raft

import (
	"encoding/binary"
	"io"
)

// Log entry types.
const (
	LogEntryCommand uint8 = iota // State machine command
	LogEntryConfig               // Cluster configuration change
	LogEntryNoop                 // No-op entry appended on leader election
)

// LogEntry represents a single entry in the Raft log.
type LogEntry struct {
	Index   uint64 // Log index (1-based)
	Term    uint64 // Term when entry was created
	Type    uint8  // Entry type (LogEntryCommand, LogEntryConfig, LogEntryNoop)
	Command []byte // Serialized command data
}

// Serialize encodes the log entry to bytes.
// Format: [Index:8][Term:8][Type:1][CommandLen:4][Command:N]
func (e *LogEntry) Serialize() []byte {
	size := 8 + 8 + 1 + 4 + len(e.Command)
	buf := make([]byte, size)

	binary.LittleEndian.PutUint64(buf[0:8], e.Index)
	binary.LittleEndian.PutUint64(buf[8:16], e.Term)
	buf[16] = e.Type
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(e.Command)))
	copy(buf[21:], e.Command)

	return buf
}

// DeserializeLogEntry decodes a log entry from bytes.
func DeserializeLogEntry(data []byte) (*LogEntry, error) {
	if len(data) < 21 {
		return nil, ErrLogCorrupted
	}

	cmdLen := binary.LittleEndian.Uint32(data[17:21])
	if len(data) < 21+int(cmdLen) {
		return nil, ErrLogCorrupted
	}

	return &LogEntry{
		Index:   binary.LittleEndian.Uint64(data[0:8]),
		Term:    binary.LittleEndian.Uint64(data[8:16]),
		Type:    data[16],
		Command: data[21 : 21+cmdLen],
	}, nil
}

// RaftLog manages the in-memory Raft log.
//
// Entries up to and including base have been discarded by snapshot
// compaction. The base index and term stand in for the last discarded
// entry so consistency checks against the snapshot point still work.
// A fresh log has base 0 and holds entries starting at index 1.
type RaftLog struct {
	base     uint64      // Index of last compacted entry (0 = nothing compacted)
	baseTerm uint64      // Term of last compacted entry
	entries  []*LogEntry // Entries base+1 .. base+len(entries)
}

// NewRaftLog creates an empty Raft log.
func NewRaftLog() *RaftLog {
	return &RaftLog{}
}

// NewRaftLogFrom creates a Raft log from recovered state: the compaction
// point and the entries that survive after it.
func NewRaftLogFrom(base, baseTerm uint64, entries []*LogEntry) *RaftLog {
	return &RaftLog{
		base:     base,
		baseTerm: baseTerm,
		entries:  entries,
	}
}

// Base returns the index of the last compacted entry.
func (l *RaftLog) Base() uint64 {
	return l.base
}

// BaseTerm returns the term of the last compacted entry.
func (l *RaftLog) BaseTerm() uint64 {
	return l.baseTerm
}

// FirstIndex returns the index of the first entry still held in the log.
func (l *RaftLog) FirstIndex() uint64 {
	return l.base + 1
}

// LastIndex returns the index of the last entry.
func (l *RaftLog) LastIndex() uint64 {
	return l.base + uint64(len(l.entries))
}

// LastTerm returns the term of the last entry.
func (l *RaftLog) LastTerm() uint64 {
	if len(l.entries) == 0 {
		return l.baseTerm
	}
	return l.entries[len(l.entries)-1].Term
}

// Len returns the number of entries currently held in memory.
func (l *RaftLog) Len() int {
	return len(l.entries)
}

// Term returns the term of the entry at the given index. The base index
// resolves to the base term, so consistency checks work across the
// compaction point.
func (l *RaftLog) Term(index uint64) (uint64, error) {
	if index == l.base {
		return l.baseTerm, nil
	}
	if index < l.base {
		return 0, ErrCompacted
	}
	if index > l.LastIndex() {
		return 0, ErrLogIndexOutOfRange
	}
	return l.entries[index-l.base-1].Term, nil
}

// Get returns the entry at the given index.
func (l *RaftLog) Get(index uint64) (*LogEntry, error) {
	if index <= l.base {
		return nil, ErrCompacted
	}
	if index > l.LastIndex() {
		return nil, ErrLogIndexOutOfRange
	}
	return l.entries[index-l.base-1], nil
}

// GetFrom returns entries from the given index onwards. At most max
// entries are returned; max <= 0 means no limit.
func (l *RaftLog) GetFrom(index uint64, max int) []*LogEntry {
	if index <= l.base || index > l.LastIndex() {
		return nil
	}
	from := l.entries[index-l.base-1:]
	if max > 0 && len(from) > max {
		from = from[:max]
	}
	return from
}

// Append adds entries to the end of the log.
func (l *RaftLog) Append(entries ...*LogEntry) {
	l.entries = append(l.entries, entries...)
}

// TruncateFrom removes all entries from the given index onwards.
func (l *RaftLog) TruncateFrom(index uint64) {
	if index <= l.base {
		return
	}
	if index > l.LastIndex() {
		return
	}
	l.entries = l.entries[:index-l.base-1]
}

// CompactTo discards all entries up to and including index, which becomes
// the new base. The index must be within the log.
func (l *RaftLog) CompactTo(index uint64) error {
	if index <= l.base {
		return nil
	}
	if index > l.LastIndex() {
		return ErrLogIndexOutOfRange
	}
	term := l.entries[index-l.base-1].Term
	remaining := l.entries[index-l.base:]
	l.entries = make([]*LogEntry, len(remaining))
	copy(l.entries, remaining)
	l.base = index
	l.baseTerm = term
	return nil
}

// Reset discards the entire log and restarts it after the given point.
// Used when installing a snapshot that supersedes the local log.
func (l *RaftLog) Reset(base, baseTerm uint64) {
	l.base = base
	l.baseTerm = baseTerm
	l.entries = nil
}

// FirstIndexOfTerm walks back from the given index to the first entry
// carrying the same term. Used to build the conflict hint in
// AppendEntries rejections.
func (l *RaftLog) FirstIndexOfTerm(index uint64) uint64 {
	if index <= l.base || index > l.LastIndex() {
		return index
	}
	term := l.entries[index-l.base-1].Term
	for index > l.base+1 && l.entries[index-l.base-2].Term == term {
		index--
	}
	return index
}

// LastIndexOfTerm returns the index of the last entry with the given term,
// or 0 if no such entry is held. Used by the leader to resolve a conflict
// hint into the next index to send.
func (l *RaftLog) LastIndexOfTerm(term uint64) uint64 {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Term == term {
			return l.entries[i].Index
		}
		if l.entries[i].Term < term {
			break
		}
	}
	if l.baseTerm == term {
		return l.base
	}
	return 0
}

// Helper functions for serialization

func writeString(w io.Writer, s string) error {
	data := []byte(s)
	if err := binary.Write(w, binary.LittleEndian, uint16(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readString(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}
