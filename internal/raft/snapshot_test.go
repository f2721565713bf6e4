package raft

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testSnapshot(index, term uint64, data string) *Snapshot {
	return &Snapshot{
		LastIncludedIndex: index,
		LastIncludedTerm:  term,
		Conf:              NewConfiguration(map[uint64]string{1: "node1:4600", 2: "node2:4600"}),
		Data:              []byte(data),
	}
}

func TestSnapshotEncodeDecode(t *testing.T) {
	snap := testSnapshot(100, 7, "state machine image")

	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}

	restored, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}

	if restored.LastIncludedIndex != 100 {
		t.Errorf("LastIncludedIndex mismatch: got %d", restored.LastIncludedIndex)
	}
	if restored.LastIncludedTerm != 7 {
		t.Errorf("LastIncludedTerm mismatch: got %d", restored.LastIncludedTerm)
	}
	if !bytes.Equal(restored.Data, snap.Data) {
		t.Errorf("Data mismatch: got %q", restored.Data)
	}
	if len(restored.Conf.Members) != 2 || restored.Conf.Members[1] != "node1:4600" {
		t.Errorf("Conf mismatch: %v", restored.Conf.Members)
	}
}

func TestSnapshotEncodeDecodeEmpty(t *testing.T) {
	snap := testSnapshot(1, 1, "")
	snap.Data = nil

	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}
	restored, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	if len(restored.Data) != 0 {
		t.Errorf("Data should be empty, got %d bytes", len(restored.Data))
	}
}

func TestDecodeSnapshotCorrupted(t *testing.T) {
	snap := testSnapshot(5, 2, "payload")
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}

	t.Run("flipped byte", func(t *testing.T) {
		bad := make([]byte, len(data))
		copy(bad, data)
		bad[len(bad)/2] ^= 0xFF

		if _, err := DecodeSnapshot(bad); err != ErrSnapshotCorrupted {
			t.Errorf("Expected ErrSnapshotCorrupted, got %v", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		if _, err := DecodeSnapshot(data[:10]); err != ErrSnapshotCorrupted {
			t.Errorf("Expected ErrSnapshotCorrupted, got %v", err)
		}
	})
}

func TestSnapshotStoreSaveLatest(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshotStore failed: %v", err)
	}

	// Empty store
	snap, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest on empty store failed: %v", err)
	}
	if snap != nil {
		t.Fatal("Latest on empty store should be nil")
	}

	if err := store.Save(testSnapshot(10, 2, "first")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	snap, err = store.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if snap == nil || snap.LastIncludedIndex != 10 {
		t.Fatalf("Latest returned wrong snapshot: %+v", snap)
	}
	if string(snap.Data) != "first" {
		t.Errorf("Data mismatch: %q", snap.Data)
	}
}

func TestSnapshotStorePrune(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSnapshotStore(dir)
	if err != nil {
		t.Fatalf("NewSnapshotStore failed: %v", err)
	}

	store.Save(testSnapshot(10, 2, "old"))
	store.Save(testSnapshot(20, 3, "new"))

	snap, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if snap.LastIncludedIndex != 20 || string(snap.Data) != "new" {
		t.Errorf("Latest should be the newer snapshot: %+v", snap)
	}

	// Only the newest file survives
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	count := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".snap") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected 1 snapshot file after prune, got %d", count)
	}
}

func TestSnapshotStoreCorruptedLatest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSnapshotStore(dir)
	if err != nil {
		t.Fatalf("NewSnapshotStore failed: %v", err)
	}

	store.Save(testSnapshot(30, 4, "image"))

	// Damage the snapshot file body
	entries, _ := os.ReadDir(dir)
	var path string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".snap") {
			path = filepath.Join(dir, e.Name())
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data[len(data)-6] ^= 0xFF
	os.WriteFile(path, data, 0644)

	// A corrupt newest snapshot is an error, never a silent fallback
	if _, err := store.Latest(); err != ErrSnapshotCorrupted {
		t.Errorf("Expected ErrSnapshotCorrupted, got %v", err)
	}
}
