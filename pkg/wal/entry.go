package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// OpType represents the type of journal entry
type OpType byte

const (
	// OpAppend carries a payload awaiting acknowledgement
	OpAppend OpType = 1

	// OpAck acknowledges the OpAppend entry whose LSN it names
	OpAck OpType = 2
)

const (
	// EntryHeaderSize is the fixed size of the entry header
	// Layout: LSN(8) + OpType(1) + Reserved(3) + KeyLen(4) + ValLen(4) + Timestamp(8)
	EntryHeaderSize = 28
)

// Entry represents a single journal entry
type Entry struct {
	LSN       uint64 // Log Sequence Number (monotonically increasing)
	OpType    OpType
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Encode serializes the entry to bytes with CRC32 checksum
// Format: [Header(28)] [Key] [Value] [CRC32(4)]
func (e *Entry) Encode() []byte {
	keyLen := len(e.Key)
	valLen := len(e.Value)
	buf := make([]byte, EntryHeaderSize+keyLen+valLen+4)

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	buf[8] = byte(e.OpType)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(valLen))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(e.Timestamp.UnixNano()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Key)
	offset += keyLen
	copy(buf[offset:], e.Value)
	offset += valLen

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:], crc)
	return buf
}

// payloadLen reads the key and value lengths out of a header
func payloadLen(header []byte) int {
	return int(binary.LittleEndian.Uint32(header[12:16])) + int(binary.LittleEndian.Uint32(header[16:20]))
}

// DecodeEntry deserializes an entry from bytes
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}
	if len(data) < EntryHeaderSize+payloadLen(data)+4 {
		return nil, ErrTruncated
	}
	data = data[:EntryHeaderSize+payloadLen(data)+4]

	end := len(data) - 4
	if binary.LittleEndian.Uint32(data[end:]) != crc32.ChecksumIEEE(data[:end]) {
		return nil, ErrCorrupted
	}

	keyLen := int(binary.LittleEndian.Uint32(data[12:16]))
	entry := &Entry{
		LSN:       binary.LittleEndian.Uint64(data[0:8]),
		OpType:    OpType(data[8]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[20:28]))),
	}
	if keyLen > 0 {
		entry.Key = append([]byte(nil), data[EntryHeaderSize:EntryHeaderSize+keyLen]...)
	}
	if end > EntryHeaderSize+keyLen {
		entry.Value = append([]byte(nil), data[EntryHeaderSize+keyLen:end]...)
	}
	return entry, nil
}

// Size returns the encoded size of the entry
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Key) + len(e.Value) + 4
}

// AckedLSN returns the LSN an OpAck entry acknowledges
func (e *Entry) AckedLSN() (uint64, bool) {
	if e.OpType != OpAck || len(e.Value) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(e.Value), true
}

func (e *Entry) String() string {
	opName := "UNKNOWN"
	switch e.OpType {
	case OpAppend:
		opName = "APPEND"
	case OpAck:
		opName = "ACK"
	}
	return fmt.Sprintf("WAL[LSN=%d Op=%s KeyLen=%d ValLen=%d]", e.LSN, opName, len(e.Key), len(e.Value))
}
