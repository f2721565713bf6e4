package raft

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// Storage file names.
const (
	hardStateFile = "hardstate.dat"
	logFile       = "log.dat"
)

// Storage format constants.
const (
	// hardStateSize is the fixed size of the hard state file.
	// Layout:
	//   - Bytes 0-7:   Term (uint64)
	//   - Bytes 8-15:  VotedFor (uint64)
	//   - Bytes 16-19: Checksum (uint32)
	hardStateSize = 20

	// logHeaderSize is the fixed size of the log file header.
	// Layout:
	//   - Bytes 0-7:   BaseIndex (uint64)
	//   - Bytes 8-15:  BaseTerm (uint64)
	//   - Bytes 16-19: Checksum (uint32)
	logHeaderSize = 20

	// recordHeaderSize is the size of the per-record framing.
	// Layout:
	//   - Bytes 0-3: Length (uint32)
	//   - Bytes 4-7: Checksum (uint32, over the entry bytes)
	recordHeaderSize = 8

	// maxRecordSize bounds a single log record.
	maxRecordSize = 64 * 1024 * 1024
)

// HardState is the durable per-node Raft state. It must be persisted
// before any RPC reply that depends on it.
type HardState struct {
	Term     uint64 // Latest term this node has seen
	VotedFor uint64 // Candidate voted for in Term (0 = none)
}

// StableStorage persists Raft state that must survive restarts.
// Implementations must make each mutation durable before returning.
type StableStorage interface {
	// PersistState durably saves the current term and vote.
	PersistState(term, votedFor uint64) error

	// PersistEntries durably appends entries to the log. If the log
	// already holds entries at entries[0].Index or beyond, those are
	// discarded first.
	PersistEntries(entries []*LogEntry) error

	// CompactTo discards all entries up to and including index and
	// records (index, term) as the new log base. Compacting beyond the
	// last entry empties the log entirely.
	CompactTo(index, term uint64) error

	// Load returns the recovered hard state, the log base index and
	// term, and the entries after the base.
	Load() (HardState, uint64, uint64, []*LogEntry, error)

	// Close releases storage resources.
	Close() error
}

// FileStorage is a file-backed StableStorage. The hard state lives in a
// small fixed-size file rewritten atomically; the log is an append-only
// file of checksummed records. A torn final record is dropped during
// recovery; corruption anywhere else fails the load with ErrCorrupted.
type FileStorage struct {
	dir  string
	file *os.File // Open log file

	state    HardState
	base     uint64
	baseTerm uint64
	entries  []*LogEntry

	size    int64   // Logical end of the log file
	offsets []int64 // File offset of each entry after the base
}

// OpenFileStorage opens or creates file storage in dir and recovers any
// persisted state.
func OpenFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	s := &FileStorage{dir: dir}

	if err := s.loadHardState(); err != nil {
		return nil, err
	}
	if err := s.openLog(); err != nil {
		return nil, err
	}

	return s, nil
}

// Load returns the recovered state. The returned slice is the caller's
// to keep.
func (s *FileStorage) Load() (HardState, uint64, uint64, []*LogEntry, error) {
	entries := make([]*LogEntry, len(s.entries))
	copy(entries, s.entries)
	return s.state, s.base, s.baseTerm, entries, nil
}

func (s *FileStorage) loadHardState() error {
	data, err := os.ReadFile(filepath.Join(s.dir, hardStateFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) != hardStateSize {
		return ErrCorrupted
	}

	sum := binary.LittleEndian.Uint32(data[16:20])
	if crc32.ChecksumIEEE(data[0:16]) != sum {
		return ErrCorrupted
	}

	s.state.Term = binary.LittleEndian.Uint64(data[0:8])
	s.state.VotedFor = binary.LittleEndian.Uint64(data[8:16])
	return nil
}

// PersistState saves term and vote atomically via a temp file rename.
func (s *FileStorage) PersistState(term, votedFor uint64) error {
	buf := make([]byte, hardStateSize)
	binary.LittleEndian.PutUint64(buf[0:8], term)
	binary.LittleEndian.PutUint64(buf[8:16], votedFor)
	binary.LittleEndian.PutUint32(buf[16:20], crc32.ChecksumIEEE(buf[0:16]))

	path := filepath.Join(s.dir, hardStateFile)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
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

	s.state.Term = term
	s.state.VotedFor = votedFor
	return nil
}

func (s *FileStorage) openLog() error {
	path := filepath.Join(s.dir, logFile)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	s.file = file

	info, err := file.Stat()
	if err != nil {
		return err
	}
	fileSize := info.Size()

	if fileSize == 0 {
		// Fresh log, write the header
		return s.writeLogHeader(0, 0)
	}

	// Read and verify the header
	header := make([]byte, logHeaderSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return ErrCorrupted
	}
	sum := binary.LittleEndian.Uint32(header[16:20])
	if crc32.ChecksumIEEE(header[0:16]) != sum {
		return ErrCorrupted
	}
	s.base = binary.LittleEndian.Uint64(header[0:8])
	s.baseTerm = binary.LittleEndian.Uint64(header[8:16])

	return s.scanRecords(fileSize)
}

// scanRecords walks the record frames after the header, rebuilding the
// in-memory entries and offset index. A record torn at the tail is
// dropped by truncating the file; a bad record with valid data after it
// means the file is damaged and the node must not start.
func (s *FileStorage) scanRecords(fileSize int64) error {
	offset := int64(logHeaderSize)
	expected := s.base + 1

	for offset < fileSize {
		if fileSize-offset < recordHeaderSize {
			// Torn record header at the tail
			return s.truncateTail(offset)
		}

		header := make([]byte, recordHeaderSize)
		if _, err := s.file.ReadAt(header, offset); err != nil {
			return err
		}
		recordLen := binary.LittleEndian.Uint32(header[0:4])
		sum := binary.LittleEndian.Uint32(header[4:8])

		end := offset + recordHeaderSize + int64(recordLen)
		if recordLen == 0 || recordLen > maxRecordSize || end > fileSize {
			// Length prefix damaged or record extends past EOF
			if end >= fileSize {
				return s.truncateTail(offset)
			}
			return ErrCorrupted
		}

		data := make([]byte, recordLen)
		if _, err := s.file.ReadAt(data, offset+recordHeaderSize); err != nil {
			if err == io.EOF {
				return s.truncateTail(offset)
			}
			return err
		}

		if crc32.ChecksumIEEE(data) != sum {
			if end == fileSize {
				// Torn final record
				return s.truncateTail(offset)
			}
			return ErrCorrupted
		}

		entry, err := DeserializeLogEntry(data)
		if err != nil || entry.Index != expected {
			if end == fileSize {
				return s.truncateTail(offset)
			}
			return ErrCorrupted
		}

		s.entries = append(s.entries, entry)
		s.offsets = append(s.offsets, offset)
		expected++
		offset = end
	}

	s.size = offset
	return nil
}

func (s *FileStorage) truncateTail(offset int64) error {
	if err := s.file.Truncate(offset); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	s.size = offset
	return nil
}

func (s *FileStorage) writeLogHeader(base, baseTerm uint64) error {
	header := make([]byte, logHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], base)
	binary.LittleEndian.PutUint64(header[8:16], baseTerm)
	binary.LittleEndian.PutUint32(header[16:20], crc32.ChecksumIEEE(header[0:16]))

	if _, err := s.file.WriteAt(header, 0); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	s.base = base
	s.baseTerm = baseTerm
	s.size = logHeaderSize
	return nil
}

func (s *FileStorage) lastIndex() uint64 {
	return s.base + uint64(len(s.entries))
}

// PersistEntries appends entries to the log, truncating any conflicting
// suffix first. The write is durable when this returns.
func (s *FileStorage) PersistEntries(entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	first := entries[0].Index
	if first <= s.base || first > s.lastIndex()+1 {
		return ErrLogIndexOutOfRange
	}

	// Truncate conflicting suffix
	if first <= s.lastIndex() {
		pos := first - s.base - 1
		if err := s.truncateTail(s.offsets[pos]); err != nil {
			return err
		}
		s.entries = s.entries[:pos]
		s.offsets = s.offsets[:pos]
	}

	// Append the new records
	for _, entry := range entries {
		data := entry.Serialize()
		record := make([]byte, recordHeaderSize+len(data))
		binary.LittleEndian.PutUint32(record[0:4], uint32(len(data)))
		binary.LittleEndian.PutUint32(record[4:8], crc32.ChecksumIEEE(data))
		copy(record[recordHeaderSize:], data)

		if _, err := s.file.WriteAt(record, s.size); err != nil {
			return err
		}
		s.entries = append(s.entries, entry)
		s.offsets = append(s.offsets, s.size)
		s.size += int64(len(record))
	}

	return s.file.Sync()
}

// CompactTo rewrites the log with a new base, dropping entries covered
// by a snapshot. The rewrite goes through a temp file so a crash leaves
// either the old log or the new one.
func (s *FileStorage) CompactTo(index, term uint64) error {
	if index <= s.base {
		return nil
	}

	// Entries surviving the compaction
	var surviving []*LogEntry
	if index < s.lastIndex() {
		tail := s.entries[index-s.base:]
		surviving = make([]*LogEntry, len(tail))
		copy(surviving, tail)
	}

	path := filepath.Join(s.dir, logFile)
	tmpPath := path + ".tmp"

	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	header := make([]byte, logHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], index)
	binary.LittleEndian.PutUint64(header[8:16], term)
	binary.LittleEndian.PutUint32(header[16:20], crc32.ChecksumIEEE(header[0:16]))

	size := int64(logHeaderSize)
	offsets := make([]int64, 0, len(surviving))

	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	for _, entry := range surviving {
		data := entry.Serialize()
		record := make([]byte, recordHeaderSize+len(data))
		binary.LittleEndian.PutUint32(record[0:4], uint32(len(data)))
		binary.LittleEndian.PutUint32(record[4:8], crc32.ChecksumIEEE(data))
		copy(record[recordHeaderSize:], data)

		if _, err := tmp.Write(record); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		offsets = append(offsets, size)
		size += int64(len(record))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	s.file.Close()
	s.file = tmp
	s.base = index
	s.baseTerm = term
	s.entries = surviving
	s.offsets = offsets
	s.size = size
	return nil
}

// Close closes the storage files.
func (s *FileStorage) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// MemoryStorage is an in-memory StableStorage for tests and examples.
type MemoryStorage struct {
	state    HardState
	base     uint64
	baseTerm uint64
	entries  []*LogEntry
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// PersistState saves term and vote.
func (s *MemoryStorage) PersistState(term, votedFor uint64) error {
	s.state.Term = term
	s.state.VotedFor = votedFor
	return nil
}

// PersistEntries appends entries, truncating any conflicting suffix.
func (s *MemoryStorage) PersistEntries(entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	first := entries[0].Index
	last := s.base + uint64(len(s.entries))
	if first <= s.base || first > last+1 {
		return ErrLogIndexOutOfRange
	}
	if first <= last {
		s.entries = s.entries[:first-s.base-1]
	}
	s.entries = append(s.entries, entries...)
	return nil
}

// CompactTo discards entries up to and including index.
func (s *MemoryStorage) CompactTo(index, term uint64) error {
	if index <= s.base {
		return nil
	}
	last := s.base + uint64(len(s.entries))
	var surviving []*LogEntry
	if index < last {
		surviving = append(surviving, s.entries[index-s.base:]...)
	}
	s.base = index
	s.baseTerm = term
	s.entries = surviving
	return nil
}

// Load returns the stored state.
func (s *MemoryStorage) Load() (HardState, uint64, uint64, []*LogEntry, error) {
	entries := make([]*LogEntry, len(s.entries))
	copy(entries, s.entries)
	return s.state, s.base, s.baseTerm, entries, nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}
