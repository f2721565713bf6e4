// Package kvstore implements a replicated in-memory key/value state
// machine. Commands arrive through the consensus log; reads are served
// from local state and may trail the leader on followers.
package kvstore

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/KilimcininKorOglu/kurul/internal/raft"
)

// Store is an in-memory key/value map driven by the replicated log.
// It implements raft.StateMachine.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Apply executes one committed command. Puts return the previous value
// (nil for a fresh key); deletes return the removed value and fail on a
// missing key so the proposer learns the delete was a no-op.
func (s *Store) Apply(entry *raft.LogEntry) ([]byte, error) {
	op, key, value, err := DecodeCommand(entry.Command)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case OpPut:
		prev := s.data[key]
		stored := make([]byte, len(value))
		copy(stored, value)
		s.data[key] = stored
		return prev, nil
	case OpDelete:
		prev, ok := s.data[key]
		if !ok {
			return nil, ErrKeyNotFound
		}
		delete(s.data, key)
		return prev, nil
	}
	return nil, ErrInvalidCommand
}

// Get returns a copy of the value for key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot serializes the full map: [count:4] then a length-prefixed
// key/value frame per entry, keys sorted so the image is deterministic.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(keys)))
	for _, key := range keys {
		binary.Write(&buf, binary.LittleEndian, uint16(len(key)))
		buf.WriteString(key)
		value := s.data[key]
		binary.Write(&buf, binary.LittleEndian, uint32(len(value)))
		buf.Write(value)
	}
	return buf.Bytes(), nil
}

// Restore replaces the map with a snapshot image. An empty image is a
// valid empty store.
func (s *Store) Restore(data []byte) error {
	fresh := make(map[string][]byte)

	if len(data) > 0 {
		reader := bytes.NewReader(data)
		var count uint32
		if err := binary.Read(reader, binary.LittleEndian, &count); err != nil {
			return ErrCorrupted
		}
		for i := uint32(0); i < count; i++ {
			var keyLen uint16
			if err := binary.Read(reader, binary.LittleEndian, &keyLen); err != nil {
				return ErrCorrupted
			}
			key := make([]byte, keyLen)
			if _, err := io.ReadFull(reader, key); err != nil {
				return ErrCorrupted
			}
			var valLen uint32
			if err := binary.Read(reader, binary.LittleEndian, &valLen); err != nil {
				return ErrCorrupted
			}
			value := make([]byte, valLen)
			if _, err := io.ReadFull(reader, value); err != nil {
				return ErrCorrupted
			}
			fresh[string(key)] = value
		}
		if reader.Len() != 0 {
			return ErrCorrupted
		}
	}

	s.mu.Lock()
	s.data = fresh
	s.mu.Unlock()
	return nil
}
