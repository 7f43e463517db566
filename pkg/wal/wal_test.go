package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEntryEncodeDecode(t *testing.T) {
	entry := &Entry{
		LSN:       42,
		OpType:    OpAppend,
		Key:       []byte("eu-32016R0679"),
		Value:     []byte(`{"version":"20190930"}`),
		Timestamp: time.Unix(0, 1700000000123456789),
	}

	decoded, err := DecodeEntry(entry.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.LSN != entry.LSN || decoded.OpType != entry.OpType {
		t.Errorf("header mismatch: got %s, want %s", decoded, entry)
	}
	if string(decoded.Key) != string(entry.Key) {
		t.Errorf("Key mismatch: got %s, want %s", decoded.Key, entry.Key)
	}
	if string(decoded.Value) != string(entry.Value) {
		t.Errorf("Value mismatch: got %s, want %s", decoded.Value, entry.Value)
	}
	if !decoded.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("Timestamp mismatch: got %v, want %v", decoded.Timestamp, entry.Timestamp)
	}
	if entry.Size() != len(entry.Encode()) {
		t.Errorf("Size mismatch: got %d, want %d", entry.Size(), len(entry.Encode()))
	}
}

func TestEntryCorruption(t *testing.T) {
	entry := &Entry{LSN: 1, OpType: OpAppend, Key: []byte("k"), Value: []byte("v")}
	data := entry.Encode()

	data[EntryHeaderSize] ^= 0xFF
	if _, err := DecodeEntry(data); err != ErrCorrupted {
		t.Errorf("expected ErrCorrupted, got %v", err)
	}
	if _, err := DecodeEntry(data[:10]); err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func openTemp(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.wal")
	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestAppendAckPending(t *testing.T) {
	w, _ := openTemp(t)

	first, err := w.Append([]byte("a"), []byte("one"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.Append([]byte("b"), []byte("two"))
	if err != nil {
		t.Fatal(err)
	}
	if second != first+1 {
		t.Errorf("LSNs not consecutive: %d, %d", first, second)
	}

	if err := w.Ack(first); err != nil {
		t.Fatal(err)
	}
	pending := w.Pending()
	if len(pending) != 1 || pending[0].LSN != second {
		t.Fatalf("expected only LSN %d pending, got %v", second, pending)
	}

	if err := w.Ack(99); err == nil {
		t.Error("ack of an unknown LSN should fail")
	}
}

func TestReopenKeepsPending(t *testing.T) {
	w, path := openTemp(t)
	lsn, _ := w.Append([]byte("a"), []byte("one"))
	w.Append([]byte("b"), []byte("two"))
	w.Ack(lsn)
	w.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	pending := reopened.Pending()
	if len(pending) != 1 || string(pending[0].Value) != "two" {
		t.Fatalf("unexpected pending after reopen: %v", pending)
	}
	next, err := reopened.Append([]byte("c"), []byte("three"))
	if err != nil {
		t.Fatal(err)
	}
	if next != 4 {
		t.Errorf("LSN should continue after reopen: got %d, want 4", next)
	}
}

func TestTornTailIsCut(t *testing.T) {
	w, path := openTemp(t)
	w.Append([]byte("a"), []byte("one"))
	w.Close()

	fd, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	partial := (&Entry{LSN: 2, OpType: OpAppend, Value: []byte("half written")}).Encode()
	fd.Write(partial[:len(partial)/2])
	fd.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if reopened.Len() != 1 {
		t.Fatalf("expected 1 intact entry, got %d", reopened.Len())
	}
	if _, err := reopened.Append([]byte("b"), []byte("two")); err != nil {
		t.Fatal(err)
	}
	reopened.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if len(again.Pending()) != 2 {
		t.Errorf("expected 2 pending entries after append over the torn tail, got %d", len(again.Pending()))
	}
}

func TestCompactDropsAcknowledged(t *testing.T) {
	w, path := openTemp(t)
	for i := 0; i < 5; i++ {
		lsn, err := w.Append([]byte("k"), []byte{byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		if i < 4 {
			w.Ack(lsn)
		}
	}
	before, _ := os.Stat(path)

	if err := w.Compact(); err != nil {
		t.Fatal(err)
	}
	if w.Len() != 1 {
		t.Errorf("expected 1 entry after compaction, got %d", w.Len())
	}
	after, _ := os.Stat(path)
	if after.Size() >= before.Size() {
		t.Errorf("compaction should shrink the file: %d -> %d", before.Size(), after.Size())
	}

	// writes after compaction land in the new file
	if _, err := w.Append([]byte("k"), []byte{9}); err != nil {
		t.Fatal(err)
	}
	w.Close()
	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if got := len(reopened.Pending()); got != 2 {
		t.Errorf("expected 2 pending after reopen, got %d", got)
	}
}

func TestClosedLog(t *testing.T) {
	w, _ := openTemp(t)
	w.Close()
	if _, err := w.Append(nil, []byte("x")); err != ErrLogClosed {
		t.Errorf("expected ErrLogClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}
