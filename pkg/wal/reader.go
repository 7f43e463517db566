package wal

import (
	"bufio"
	"errors"
	"io"
)

// readEntries decodes entries until the end of r. A torn or corrupted tail
// ends the scan; good is the offset just past the last intact entry.
func readEntries(r io.Reader) (entries []*Entry, good int64, err error) {
	br := bufio.NewReader(r)
	header := make([]byte, EntryHeaderSize)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, good, nil
			}
			return entries, good, err
		}
		data := make([]byte, EntryHeaderSize+payloadLen(header)+4)
		copy(data, header)
		if _, err := io.ReadFull(br, data[EntryHeaderSize:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, good, nil
			}
			return entries, good, err
		}
		entry, err := DecodeEntry(data)
		if err != nil {
			return entries, good, nil
		}
		entries = append(entries, entry)
		good += int64(len(data))
	}
}

// pending returns the OpAppend entries with no matching OpAck, in LSN order
func pending(entries []*Entry) []*Entry {
	acked := make(map[uint64]bool)
	for _, e := range entries {
		if lsn, ok := e.AckedLSN(); ok {
			acked[lsn] = true
		}
	}
	var out []*Entry
	for _, e := range entries {
		if e.OpType == OpAppend && !acked[e.LSN] {
			out = append(out, e)
		}
	}
	return out
}
