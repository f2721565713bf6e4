package kvstore

import (
	"encoding/binary"
	"errors"
)

// Command operations.
const (
	OpPut uint8 = iota
	OpDelete
)

var (
	ErrInvalidCommand = errors.New("kvstore: invalid command")
	ErrKeyNotFound    = errors.New("kvstore: key not found")
	ErrCorrupted      = errors.New("kvstore: corrupted snapshot")
)

// MaxKeyLen bounds key sizes to what the wire format can carry.
const MaxKeyLen = 1<<16 - 1

// Command layout: [Op:1][KeyLen:2][Key][ValLen:4][Val], LittleEndian.
// Deletes carry a zero-length value.

// EncodePut builds a put command for the replicated log.
func EncodePut(key string, value []byte) ([]byte, error) {
	if key == "" || len(key) > MaxKeyLen {
		return nil, ErrInvalidCommand
	}
	buf := make([]byte, 1+2+len(key)+4+len(value))
	buf[0] = OpPut
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(key)))
	copy(buf[3:], key)
	off := 3 + len(key)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(value)))
	copy(buf[off+4:], value)
	return buf, nil
}

// EncodeDelete builds a delete command for the replicated log.
func EncodeDelete(key string) ([]byte, error) {
	if key == "" || len(key) > MaxKeyLen {
		return nil, ErrInvalidCommand
	}
	buf := make([]byte, 1+2+len(key)+4)
	buf[0] = OpDelete
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(key)))
	copy(buf[3:], key)
	return buf, nil
}

// DecodeCommand parses a command. Trailing bytes or a short buffer mean
// the entry did not come from this codec.
func DecodeCommand(data []byte) (op uint8, key string, value []byte, err error) {
	if len(data) < 3 {
		return 0, "", nil, ErrInvalidCommand
	}
	op = data[0]
	if op != OpPut && op != OpDelete {
		return 0, "", nil, ErrInvalidCommand
	}
	keyLen := int(binary.LittleEndian.Uint16(data[1:3]))
	if keyLen == 0 || len(data) < 3+keyLen+4 {
		return 0, "", nil, ErrInvalidCommand
	}
	key = string(data[3 : 3+keyLen])
	off := 3 + keyLen
	valLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	if len(data) != off+4+valLen {
		return 0, "", nil, ErrInvalidCommand
	}
	if op == OpDelete && valLen != 0 {
		return 0, "", nil, ErrInvalidCommand
	}
	if valLen > 0 {
		value = data[off+4:]
	}
	return op, key, value, nil
}
