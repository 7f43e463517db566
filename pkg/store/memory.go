// ABOUTME: In-memory content store with near-real-time search semantics
// ABOUTME: Get sees every write, Scan only what was present at the last Refresh

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nainya/lexstore/pkg/part"
)

// MemoryStore keeps encoded parts in maps. Scan and DeleteMatching work on
// the snapshot taken by the last Refresh, the way a search index would.
type MemoryStore struct {
	mu        sync.RWMutex
	live      map[part.Key][]byte
	searcher  map[part.Key][]byte
	histories map[part.DocID][]byte
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		live:      make(map[part.Key][]byte),
		searcher:  make(map[part.Key][]byte),
		histories: make(map[part.DocID][]byte),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key part.Key) (part.Part, error) {
	s.mu.RLock()
	data, ok := s.live[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return part.Unmarshal(data)
}

func (s *MemoryStore) Save(ctx context.Context, p part.Part) error {
	data, err := part.Marshal(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.live[p.Common().Key()] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key part.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.live, key)
	return nil
}

// visible returns the searchable parts matching f, in key order
func (s *MemoryStore) visible(f Filter) ([]part.Key, []part.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []part.Key
	for k := range s.searcher {
		if f.Domain != "" && k.Domain != f.Domain {
			continue
		}
		if f.IDLocal != "" && k.IDLocal != f.IDLocal {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var matchedKeys []part.Key
	var parts []part.Part
	for _, k := range keys {
		p, err := part.Unmarshal(s.searcher[k])
		if err != nil {
			return nil, nil, err
		}
		if f.Match(p) {
			matchedKeys = append(matchedKeys, k)
			parts = append(parts, p)
		}
	}
	return matchedKeys, parts, nil
}

func (s *MemoryStore) Scan(ctx context.Context, f Filter, fn func(part.Part) error) error {
	_, parts, err := s.visible(f)
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

func (s *MemoryStore) DeleteMatching(ctx context.Context, f Filter) (int, error) {
	keys, _, err := s.visible(f)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := s.live[k]; ok {
			delete(s.live, k)
			n++
		}
		delete(s.searcher, k)
	}
	return n, nil
}

func (s *MemoryStore) LoadHistory(ctx context.Context, doc part.DocID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.histories[doc]
	if !ok {
		return nil, fmt.Errorf("%w: history %s", ErrNotFound, doc)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) SaveHistory(ctx context.Context, doc part.DocID, data []byte) error {
	s.mu.Lock()
	s.histories[doc] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteHistory(ctx context.Context, doc part.DocID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.histories[doc]; !ok {
		return fmt.Errorf("%w: history %s", ErrNotFound, doc)
	}
	delete(s.histories, doc)
	return nil
}

// Refresh publishes the live state to the searcher snapshot
func (s *MemoryStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searcher = make(map[part.Key][]byte, len(s.live))
	for k, v := range s.live {
		s.searcher[k] = v
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored parts
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}
