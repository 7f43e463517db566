// ABOUTME: Content store on the copy-on-write B+Tree KV file
// ABOUTME: Parts and histories are chunked blobs under composite keys

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/nainya/lexstore/pkg/part"
	"github.com/nainya/lexstore/pkg/storage"
)

// Key prefixes (table ids) inside the KV file
const (
	prefixParts     uint32 = 1
	prefixHistories uint32 = 2

	partKeyWidth = 4
)

// KVStore persists parts in a single B+Tree file. Every write commits
// immediately, so Refresh has nothing to publish.
type KVStore struct {
	mu sync.Mutex
	db *storage.KV
}

// OpenKV opens (or creates) the database file at path
func OpenKV(path string) (*KVStore, error) {
	db := &storage.KV{Path: path}
	if err := db.Open(); err != nil {
		return nil, fmt.Errorf("open kv store %s: %w", path, err)
	}
	return &KVStore{db: db}, nil
}

func partKey(k part.Key) []storage.Value {
	return []storage.Value{
		storage.NewStringValue(k.Domain),
		storage.NewStringValue(k.IDLocal),
		storage.NewStringValue(k.SubID),
		storage.NewStringValue(k.HiddenVersion),
	}
}

func historyKey(doc part.DocID) []storage.Value {
	return []storage.Value{
		storage.NewStringValue(doc.Domain),
		storage.NewStringValue(doc.IDLocal),
	}
}

// scanHead narrows the range scan to the most specific leading key columns
func scanHead(f Filter) []storage.Value {
	if f.Domain == "" {
		return nil
	}
	head := []storage.Value{storage.NewStringValue(f.Domain)}
	if f.IDLocal != "" {
		head = append(head, storage.NewStringValue(f.IDLocal))
	}
	return head
}

// write runs fn in one transaction; an fn error aborts it
func (s *KVStore) write(fn func(tx *storage.KVTX) error) error {
	tx := s.db.Begin()
	if err := fn(tx); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv commit: %w", err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, key part.Key) (part.Part, error) {
	s.mu.Lock()
	data, ok := s.db.Begin().GetBlob(prefixParts, partKey(key))
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return part.Unmarshal(data)
}

func (s *KVStore) Save(ctx context.Context, p part.Part) error {
	data, err := part.Marshal(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(func(tx *storage.KVTX) error {
		return tx.PutBlob(prefixParts, partKey(p.Common().Key()), data)
	})
}

func (s *KVStore) Delete(ctx context.Context, key part.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	err := s.write(func(tx *storage.KVTX) error {
		found = tx.DelBlob(prefixParts, partKey(key))
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

func (s *KVStore) matching(f Filter) ([]part.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parts []part.Part
	var decodeErr error
	err := s.db.Begin().ScanBlobs(prefixParts, scanHead(f), partKeyWidth, func(_ []storage.Value, data []byte) bool {
		p, err := part.Unmarshal(data)
		if err != nil {
			decodeErr = err
			return false
		}
		if f.Match(p) {
			parts = append(parts, p)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return parts, decodeErr
}

func (s *KVStore) Scan(ctx context.Context, f Filter, fn func(part.Part) error) error {
	parts, err := s.matching(f)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *KVStore) DeleteMatching(ctx context.Context, f Filter) (int, error) {
	parts, err := s.matching(f)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	err = s.write(func(tx *storage.KVTX) error {
		for _, p := range parts {
			if tx.DelBlob(prefixParts, partKey(p.Common().Key())) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *KVStore) LoadHistory(ctx context.Context, doc part.DocID) ([]byte, error) {
	s.mu.Lock()
	data, ok := s.db.Begin().GetBlob(prefixHistories, historyKey(doc))
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: history %s", ErrNotFound, doc)
	}
	return data, nil
}

func (s *KVStore) SaveHistory(ctx context.Context, doc part.DocID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(func(tx *storage.KVTX) error {
		return tx.PutBlob(prefixHistories, historyKey(doc), data)
	})
}

func (s *KVStore) DeleteHistory(ctx context.Context, doc part.DocID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	err := s.write(func(tx *storage.KVTX) error {
		found = tx.DelBlob(prefixHistories, historyKey(doc))
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: history %s", ErrNotFound, doc)
	}
	return nil
}

func (s *KVStore) Refresh(ctx context.Context) error {
	return nil
}

func (s *KVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Stats reports page usage of the underlying file
func (s *KVStore) Stats() (storage.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Stats()
}
