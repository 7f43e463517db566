package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WAL is an append-only journal backed by one file
type WAL struct {
	// Path is the journal file (e.g., "/data/feed.wal")
	Path string

	fd      *os.File
	mu      sync.Mutex
	lsn     uint64
	entries []*Entry
	closed  bool
}

// Open opens or creates the journal at path. A torn tail left by a crash is
// cut off before new entries are appended.
func Open(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	entries, good, err := readEntries(fd)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("read journal %s: %w", path, err)
	}
	if err := fd.Truncate(good); err != nil {
		fd.Close()
		return nil, err
	}
	if _, err := fd.Seek(good, 0); err != nil {
		fd.Close()
		return nil, err
	}

	w := &WAL{Path: path, fd: fd, entries: entries}
	for _, e := range entries {
		w.lsn = max(w.lsn, e.LSN)
	}
	return w, nil
}

// write appends one entry and syncs it (caller must hold mu)
func (w *WAL) write(op OpType, key, value []byte) (uint64, error) {
	if w.closed {
		return 0, ErrLogClosed
	}
	entry := &Entry{LSN: w.lsn + 1, OpType: op, Key: key, Value: value, Timestamp: time.Now()}
	if _, err := w.fd.Write(entry.Encode()); err != nil {
		return 0, err
	}
	if err := w.fd.Sync(); err != nil {
		return 0, err
	}
	w.lsn = entry.LSN
	w.entries = append(w.entries, entry)
	return entry.LSN, nil
}

// Append durably records a payload and returns its LSN
func (w *WAL) Append(key, value []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(OpAppend, key, value)
}

// Ack durably marks the payload at lsn as handled
func (w *WAL) Ack(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	found := false
	for _, e := range w.entries {
		if e.OpType == OpAppend && e.LSN == lsn {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrUnknownLSN, lsn)
	}
	value := binary.LittleEndian.AppendUint64(nil, lsn)
	_, err := w.write(OpAck, nil, value)
	return err
}

// Pending returns the payloads not yet acknowledged, oldest first
func (w *WAL) Pending() []*Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return pending(w.entries)
}

// Len is the number of entries in the file
func (w *WAL) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Compact rewrites the journal with only the pending payloads. The new file
// replaces the old one by rename so a crash leaves one of them intact.
func (w *WAL) Compact() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}
	keep := pending(w.entries)
	if len(keep) == len(w.entries) {
		return nil
	}

	tmp := w.Path + ".compact"
	fd, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	for _, e := range keep {
		if _, err := fd.Write(e.Encode()); err != nil {
			fd.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := fd.Sync(); err != nil {
		fd.Close()
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, w.Path); err != nil {
		fd.Close()
		os.Remove(tmp)
		return err
	}

	w.fd.Close()
	w.fd = fd
	w.entries = keep
	return nil
}

// Close closes the journal
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.fd.Close()
}
