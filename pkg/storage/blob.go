// ABOUTME: Chunked values on top of the B+Tree for payloads above BTREE_MAX_VAL_SIZE
// ABOUTME: A blob is a run of keys sharing a composite key plus a uint64 chunk index

package storage

import (
	"bytes"
)

// BLOB_CHUNK_SIZE keeps every chunk well under the B+Tree value limit
const BLOB_CHUNK_SIZE = 2048

// chunkSuffixLen is the encoded size of the uint64 chunk index
const chunkSuffixLen = 9

func chunkKey(prefix uint32, key []Value, idx int) []byte {
	vals := make([]Value, 0, len(key)+1)
	vals = append(vals, key...)
	vals = append(vals, NewUint64Value(uint64(idx)))
	return EncodeKey(prefix, vals)
}

// chunks lists the chunk keys of the blob stored under key
func (tx *KVTX) chunks(prefix uint32, key []Value, fn func(k, v []byte)) {
	start := EncodeKey(prefix, key)
	tx.ScanPrefix(start, func(k, v []byte) bool {
		if len(k) == len(start)+chunkSuffixLen {
			fn(k, v)
		}
		return true
	})
}

// PutBlob replaces the blob stored under key. An empty blob still occupies
// chunk 0 so it can be told apart from a missing one.
func (tx *KVTX) PutBlob(prefix uint32, key []Value, data []byte) error {
	tx.DelBlob(prefix, key)
	for idx, off := 0, 0; off < len(data) || idx == 0; idx++ {
		end := min(off+BLOB_CHUNK_SIZE, len(data))
		if err := tx.Set(chunkKey(prefix, key, idx), data[off:end]); err != nil {
			return err
		}
		off = end
	}
	return nil
}

// GetBlob reassembles the blob stored under key
func (tx *KVTX) GetBlob(prefix uint32, key []Value) ([]byte, bool) {
	var out []byte
	found := false
	tx.chunks(prefix, key, func(_, v []byte) {
		found = true
		out = append(out, v...)
	})
	return out, found
}

// DelBlob removes every chunk of the blob stored under key
func (tx *KVTX) DelBlob(prefix uint32, key []Value) bool {
	var keys [][]byte
	tx.chunks(prefix, key, func(k, _ []byte) {
		keys = append(keys, append([]byte(nil), k...))
	})
	for _, k := range keys {
		tx.Del(k)
	}
	return len(keys) > 0
}

// ScanBlobs visits every blob whose key starts with the given values.
// width is the number of values in a full blob key.
func (tx *KVTX) ScanBlobs(prefix uint32, head []Value, width int, fn func(key []Value, data []byte) bool) error {
	type blob struct {
		key  []Value
		data []byte
	}
	var blobs []blob
	var current []byte
	var scanErr error

	tx.ScanPrefix(EncodeKey(prefix, head), func(k, v []byte) bool {
		vals, err := ExtractValues(k)
		if err != nil {
			scanErr = err
			return false
		}
		if len(vals) != width+1 {
			return true
		}
		blobKey := k[:len(k)-chunkSuffixLen]
		if current == nil || !bytes.Equal(current, blobKey) {
			current = append([]byte(nil), blobKey...)
			blobs = append(blobs, blob{key: vals[:width]})
		}
		last := &blobs[len(blobs)-1]
		last.data = append(last.data, v...)
		return true
	})
	if scanErr != nil {
		return scanErr
	}

	for _, b := range blobs {
		if !fn(b.key, b.data) {
			break
		}
	}
	return nil
}
