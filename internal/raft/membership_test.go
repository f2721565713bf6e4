package raft

import (
	"testing"
)

func TestConfigurationBasics(t *testing.T) {
	conf := NewConfiguration(map[uint64]string{
		1: "node1:4600",
		2: "node2:4600",
		3: "node3:4600",
	})

	if conf.IsJoint() {
		t.Error("Fresh configuration should not be joint")
	}
	if !conf.Contains(2) {
		t.Error("Contains(2) should be true")
	}
	if conf.Contains(9) {
		t.Error("Contains(9) should be false")
	}

	addr, ok := conf.Address(3)
	if !ok || addr != "node3:4600" {
		t.Errorf("Address(3) = %q, %v", addr, ok)
	}

	peers := conf.Peers(1)
	if len(peers) != 2 {
		t.Fatalf("Peers(1) should have 2 entries, got %d", len(peers))
	}
	// Sorted, self excluded
	if peers[0] != 2 || peers[1] != 3 {
		t.Errorf("Peers(1) = %v, want [2 3]", peers)
	}
}

func TestConfigurationQuorum(t *testing.T) {
	conf := NewConfiguration(map[uint64]string{1: "a", 2: "b", 3: "c"})

	tests := []struct {
		name string
		yes  map[uint64]bool
		want bool
	}{
		{"no votes", map[uint64]bool{}, false},
		{"one of three", map[uint64]bool{1: true}, false},
		{"two of three", map[uint64]bool{1: true, 3: true}, true},
		{"all three", map[uint64]bool{1: true, 2: true, 3: true}, true},
		{"votes from non-members ignored", map[uint64]bool{1: true, 8: true, 9: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := conf.Quorum(tt.yes); got != tt.want {
				t.Errorf("Quorum(%v) = %v, want %v", tt.yes, got, tt.want)
			}
		})
	}
}

func TestConfigurationJointQuorum(t *testing.T) {
	// Old set {1,2,3}, target set {2,3,4}
	conf := NewConfiguration(map[uint64]string{1: "a", 2: "b", 3: "c"})
	joint := conf.EnterJoint(map[uint64]string{2: "b", 3: "c", 4: "d"})

	if !joint.IsJoint() {
		t.Fatal("EnterJoint should produce a joint configuration")
	}
	// The original is untouched
	if conf.IsJoint() {
		t.Error("EnterJoint should not mutate the receiver")
	}

	tests := []struct {
		name string
		yes  map[uint64]bool
		want bool
	}{
		// 2 and 3 are a majority of both sets
		{"overlap majority", map[uint64]bool{2: true, 3: true}, true},
		// 1 and 2 carry the old set but only 2 counts in the new one
		{"old majority only", map[uint64]bool{1: true, 2: true}, false},
		// 3 and 4 carry the new set but only 3 counts in the old one
		{"new majority only", map[uint64]bool{3: true, 4: true}, false},
		{"both majorities", map[uint64]bool{1: true, 2: true, 4: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joint.Quorum(tt.yes); got != tt.want {
				t.Errorf("Quorum(%v) = %v, want %v", tt.yes, got, tt.want)
			}
		})
	}

	// Union of both sets, self excluded, sorted
	peers := joint.Peers(2)
	if len(peers) != 3 || peers[0] != 1 || peers[1] != 3 || peers[2] != 4 {
		t.Errorf("Joint Peers(2) = %v, want [1 3 4]", peers)
	}

	final := joint.LeaveJoint()
	if final.IsJoint() {
		t.Error("LeaveJoint should produce a simple configuration")
	}
	if final.Contains(1) {
		t.Error("Final configuration should not contain removed node 1")
	}
	if !final.Contains(4) {
		t.Error("Final configuration should contain added node 4")
	}
}

func TestConfigurationSerialization(t *testing.T) {
	conf := NewConfiguration(map[uint64]string{
		1: "node1:4600",
		2: "node2:4600",
	})

	data, err := conf.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	restored, err := DeserializeConfiguration(data)
	if err != nil {
		t.Fatalf("DeserializeConfiguration failed: %v", err)
	}

	if restored.IsJoint() {
		t.Error("Restored configuration should not be joint")
	}
	if len(restored.Members) != 2 {
		t.Errorf("Members count mismatch: got %d", len(restored.Members))
	}
	if restored.Members[1] != "node1:4600" || restored.Members[2] != "node2:4600" {
		t.Errorf("Members mismatch: %v", restored.Members)
	}
}

func TestConfigurationSerializationJoint(t *testing.T) {
	conf := NewConfiguration(map[uint64]string{1: "a", 2: "b"})
	joint := conf.EnterJoint(map[uint64]string{2: "b", 3: "c"})

	data, err := joint.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	restored, err := DeserializeConfiguration(data)
	if err != nil {
		t.Fatalf("DeserializeConfiguration failed: %v", err)
	}

	if !restored.IsJoint() {
		t.Fatal("Joint flag lost in round trip")
	}
	if len(restored.Members) != 2 || len(restored.Joint) != 2 {
		t.Errorf("Set sizes mismatch: members %d, joint %d", len(restored.Members), len(restored.Joint))
	}
	if restored.Joint[3] != "c" {
		t.Errorf("Joint member mismatch: %v", restored.Joint)
	}

	// Deterministic encoding
	data2, err := joint.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if string(data) != string(data2) {
		t.Error("Serialization should be deterministic")
	}
}

func TestDeserializeConfigurationCorrupted(t *testing.T) {
	if _, err := DeserializeConfiguration([]byte{0xFF}); err != ErrLogCorrupted {
		t.Errorf("Expected ErrLogCorrupted, got %v", err)
	}
	if _, err := DeserializeConfiguration(nil); err != ErrLogCorrupted {
		t.Errorf("Expected ErrLogCorrupted for empty input, got %v", err)
	}
}

func TestConfigurationClone(t *testing.T) {
	conf := NewConfiguration(map[uint64]string{1: "a"})
	clone := conf.Clone()

	clone.Members[2] = "b"
	if conf.Contains(2) {
		t.Error("Clone should not share the members map")
	}
}
