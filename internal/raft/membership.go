package raft

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// Configuration describes the voting membership of the cluster. During a
// joint change both sets are active and every decision needs a majority
// in each; Joint holds the target set and is nil otherwise.
type Configuration struct {
	Members map[uint64]string // Node ID -> transport address
	Joint   map[uint64]string // Target member set during a joint change
}

// NewConfiguration creates a configuration with the given members.
func NewConfiguration(members map[uint64]string) *Configuration {
	c := &Configuration{Members: make(map[uint64]string, len(members))}
	for id, addr := range members {
		c.Members[id] = addr
	}
	return c
}

// Clone returns a deep copy of the configuration.
func (c *Configuration) Clone() *Configuration {
	clone := &Configuration{Members: make(map[uint64]string, len(c.Members))}
	for id, addr := range c.Members {
		clone.Members[id] = addr
	}
	if c.Joint != nil {
		clone.Joint = make(map[uint64]string, len(c.Joint))
		for id, addr := range c.Joint {
			clone.Joint[id] = addr
		}
	}
	return clone
}

// IsJoint reports whether a membership change is in progress.
func (c *Configuration) IsJoint() bool {
	return c.Joint != nil
}

// Contains reports whether the node is a member of either active set.
func (c *Configuration) Contains(id uint64) bool {
	if _, ok := c.Members[id]; ok {
		return true
	}
	if c.Joint != nil {
		if _, ok := c.Joint[id]; ok {
			return true
		}
	}
	return false
}

// Address returns the transport address of a member.
func (c *Configuration) Address(id uint64) (string, bool) {
	if addr, ok := c.Members[id]; ok {
		return addr, true
	}
	if c.Joint != nil {
		if addr, ok := c.Joint[id]; ok {
			return addr, true
		}
	}
	return "", false
}

// Peers returns the IDs of all members except self, sorted for
// deterministic iteration.
func (c *Configuration) Peers(self uint64) []uint64 {
	seen := make(map[uint64]bool, len(c.Members))
	ids := make([]uint64, 0, len(c.Members))
	for id := range c.Members {
		if id != self && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if c.Joint != nil {
		for id := range c.Joint {
			if id != self && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Quorum reports whether the yes-set carries the configuration. In a
// joint configuration both member sets must reach a majority.
func (c *Configuration) Quorum(yes map[uint64]bool) bool {
	if !majority(c.Members, yes) {
		return false
	}
	if c.Joint != nil && !majority(c.Joint, yes) {
		return false
	}
	return true
}

func majority(set map[uint64]string, yes map[uint64]bool) bool {
	count := 0
	for id := range set {
		if yes[id] {
			count++
		}
	}
	return count >= len(set)/2+1
}

// EnterJoint returns the joint configuration that begins a change from
// the current members to target.
func (c *Configuration) EnterJoint(target map[uint64]string) *Configuration {
	joint := c.Clone()
	joint.Joint = make(map[uint64]string, len(target))
	for id, addr := range target {
		joint.Joint[id] = addr
	}
	return joint
}

// LeaveJoint returns the final configuration that completes a change.
func (c *Configuration) LeaveJoint() *Configuration {
	final := &Configuration{Members: make(map[uint64]string, len(c.Joint))}
	for id, addr := range c.Joint {
		final.Members[id] = addr
	}
	return final
}

// Serialize encodes the configuration to bytes.
func (c *Configuration) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	if err := writeMemberSet(&buf, c.Members); err != nil {
		return nil, err
	}

	joint := c.Joint != nil
	if err := binary.Write(&buf, binary.LittleEndian, joint); err != nil {
		return nil, err
	}
	if joint {
		if err := writeMemberSet(&buf, c.Joint); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DeserializeConfiguration decodes a configuration from bytes.
func DeserializeConfiguration(data []byte) (*Configuration, error) {
	buf := bytes.NewReader(data)

	members, err := readMemberSet(buf)
	if err != nil {
		return nil, ErrLogCorrupted
	}
	c := &Configuration{Members: members}

	var joint bool
	if err := binary.Read(buf, binary.LittleEndian, &joint); err != nil {
		return nil, ErrLogCorrupted
	}
	if joint {
		c.Joint, err = readMemberSet(buf)
		if err != nil {
			return nil, ErrLogCorrupted
		}
	}

	return c, nil
}

func writeMemberSet(buf *bytes.Buffer, set map[uint64]string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(set))); err != nil {
		return err
	}

	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := binary.Write(buf, binary.LittleEndian, id); err != nil {
			return err
		}
		if err := writeString(buf, set[id]); err != nil {
			return err
		}
	}
	return nil
}

func readMemberSet(buf *bytes.Reader) (map[uint64]string, error) {
	var count uint16
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	set := make(map[uint64]string, count)
	for i := uint16(0); i < count; i++ {
		var id uint64
		if err := binary.Read(buf, binary.LittleEndian, &id); err != nil {
			return nil, err
		}
		addr, err := readString(buf)
		if err != nil {
			return nil, err
		}
		set[id] = addr
	}
	return set, nil
}
