package raft

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Snapshot is a point-in-time image of the state machine together with
// the log position and cluster configuration it covers.
type Snapshot struct {
	LastIncludedIndex uint64         // Last log index folded into the snapshot
	LastIncludedTerm  uint64         // Term of that index
	Conf              *Configuration // Membership as of the snapshot point
	Data              []byte         // State machine image
}

// snapshotHeaderSize is the fixed prefix of a snapshot file.
// Layout:
//   - Bytes 0-7:   LastIncludedIndex (uint64)
//   - Bytes 8-15:  LastIncludedTerm (uint64)
//   - Bytes 16-19: ConfLen (uint32)
//
// The configuration bytes follow, then [DataLen:8][Data:N], and the file
// ends with a CRC32 over everything before it.
const snapshotHeaderSize = 20

// EncodeSnapshot builds the on-disk (and on-wire) snapshot image.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	confData, err := snap.Conf.Serialize()
	if err != nil {
		return nil, err
	}

	size := snapshotHeaderSize + len(confData) + 8 + len(snap.Data) + 4
	buf := make([]byte, size)

	binary.LittleEndian.PutUint64(buf[0:8], snap.LastIncludedIndex)
	binary.LittleEndian.PutUint64(buf[8:16], snap.LastIncludedTerm)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(confData)))
	offset := snapshotHeaderSize
	copy(buf[offset:], confData)
	offset += len(confData)
	binary.LittleEndian.PutUint64(buf[offset:offset+8], uint64(len(snap.Data)))
	offset += 8
	copy(buf[offset:], snap.Data)
	offset += len(snap.Data)
	binary.LittleEndian.PutUint32(buf[offset:offset+4], crc32.ChecksumIEEE(buf[:offset]))

	return buf, nil
}

// DecodeSnapshot parses and verifies a snapshot image.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) < snapshotHeaderSize+8+4 {
		return nil, ErrSnapshotCorrupted
	}

	sum := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(data[:len(data)-4]) != sum {
		return nil, ErrSnapshotCorrupted
	}

	snap := &Snapshot{
		LastIncludedIndex: binary.LittleEndian.Uint64(data[0:8]),
		LastIncludedTerm:  binary.LittleEndian.Uint64(data[8:16]),
	}

	confLen := binary.LittleEndian.Uint32(data[16:20])
	offset := snapshotHeaderSize
	if len(data) < offset+int(confLen)+8+4 {
		return nil, ErrSnapshotCorrupted
	}

	conf, err := DeserializeConfiguration(data[offset : offset+int(confLen)])
	if err != nil {
		return nil, ErrSnapshotCorrupted
	}
	snap.Conf = conf
	offset += int(confLen)

	dataLen := binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	if uint64(len(data)) < uint64(offset)+dataLen+4 {
		return nil, ErrSnapshotCorrupted
	}
	snap.Data = make([]byte, dataLen)
	copy(snap.Data, data[offset:uint64(offset)+dataLen])

	return snap, nil
}

// SnapshotStore manages snapshot files in a directory. Files are named
// snapshot-<index>-<term>.snap and written atomically; only the newest
// one is authoritative.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore creates a snapshot store in dir.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) snapshotFilename(index, term uint64) string {
	return filepath.Join(s.dir, "snapshot-"+itoa(index)+"-"+itoa(term)+".snap")
}

// Save writes a snapshot durably via a temp file rename and prunes any
// older snapshot files.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	path := s.snapshotFilename(snap.LastIncludedIndex, snap.LastIncludedTerm)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	s.prune(path)
	return nil
}

// prune removes all snapshot files except keep. Failures are ignored;
// stale files are harmless and retried on the next save.
func (s *SnapshotStore) prune(keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot-") {
			continue
		}
		path := filepath.Join(s.dir, name)
		if path != keep {
			os.Remove(path)
		}
	}
}

// Latest returns the newest snapshot, or nil if none exists. A newest
// snapshot that fails verification is an error: the caller must not
// silently fall back to older state.
func (s *SnapshotStore) Latest() (*Snapshot, error) {
	path, err := s.latestPath()
	if err != nil || path == "" {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}

// latestPath finds the snapshot file with the highest index by reading
// each file's header.
func (s *SnapshotStore) latestPath() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", err
	}

	var best string
	var bestIndex uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".snap") {
			continue
		}
		path := filepath.Join(s.dir, name)
		index, ok := readSnapshotIndex(path)
		if !ok {
			continue
		}
		if best == "" || index > bestIndex {
			best = path
			bestIndex = index
		}
	}
	return best, nil
}

func readSnapshotIndex(path string) (uint64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(header), true
}

// itoa converts uint64 to string without fmt package.
func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
