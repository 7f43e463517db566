// ABOUTME: Content store contract used by the history engine
// ABOUTME: Parts by key, document histories as opaque blobs, and a refresh barrier

package store

import (
	"context"
	"errors"

	"github.com/nainya/lexstore/pkg/part"
)

var (
	// ErrNotFound is returned when a part or history does not exist
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks a transient store timeout; callers may retry
	ErrTimeout = errors.New("store timeout")
)

// ContentStore persists parts and document histories.
//
// Writes may not be visible to Scan until Refresh returns. Get, LoadHistory
// and the write methods always operate on the latest state.
type ContentStore interface {
	Get(ctx context.Context, key part.Key) (part.Part, error)
	Save(ctx context.Context, p part.Part) error
	Delete(ctx context.Context, key part.Key) error

	// Scan calls fn for every part matching f; a non-nil error from fn stops the scan
	Scan(ctx context.Context, f Filter, fn func(part.Part) error) error
	// DeleteMatching removes every part Scan would report for f
	DeleteMatching(ctx context.Context, f Filter) (int, error)

	LoadHistory(ctx context.Context, doc part.DocID) ([]byte, error)
	SaveHistory(ctx context.Context, doc part.DocID, data []byte) error
	DeleteHistory(ctx context.Context, doc part.DocID) error

	// Refresh makes every completed write visible to Scan
	Refresh(ctx context.Context) error
	Close() error
}

// Filter selects parts; zero fields match everything
type Filter struct {
	Domain   string
	IDLocal  string
	Kind     part.Kind
	IsLatest *bool
}

// ForDocument returns a filter matching every atom of a document
func ForDocument(doc part.DocID) Filter {
	return Filter{Domain: doc.Domain, IDLocal: doc.IDLocal}
}

// Match reports whether p satisfies the filter
func (f Filter) Match(p part.Part) bool {
	b := p.Common()
	if f.Domain != "" && b.Abstract.Domain != f.Domain {
		return false
	}
	if f.IDLocal != "" && b.Abstract.IDLocal != f.IDLocal {
		return false
	}
	if f.Kind != "" && p.Kind() != f.Kind {
		return false
	}
	if f.IsLatest != nil && b.Abstract.IsLatest != *f.IsLatest {
		return false
	}
	return true
}

// IsNotFound reports whether err means the object is absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTimeout reports whether err is a transient store timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
