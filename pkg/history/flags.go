// ABOUTME: Document-level in_force flag, read and cascaded over the stored atoms
// ABOUTME: Taking a document out of force demotes every historical atom

package history

import (
	"context"
	"fmt"

	"github.com/nainya/lexstore/pkg/part"
	"github.com/nainya/lexstore/pkg/store"
)

// InForce returns the in_force value shared by every atom of the latest
// available edition; nil means unset. Mixed values are an integrity error.
func (e *Engine) InForce(ctx context.Context, doc part.DocID) (*bool, error) {
	h, err := e.loadHistory(ctx, doc)
	if err != nil {
		return nil, err
	}
	label := h.LatestAvailable(e.now())
	if label == "" {
		return nil, fmt.Errorf("%w: %s has no available edition", ErrVersionNotAvailable, doc)
	}

	seen := make(map[string]*bool)
	err = e.store.Scan(ctx, store.ForDocument(doc), func(p part.Part) error {
		a := p.Common().Abstract
		if a.HasVersion(label) {
			seen[part.FlagString(a.InForce)] = a.InForce
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(seen) != 1 {
		return nil, fmt.Errorf("%w: %s@%s has %d distinct values", ErrInconsistentInForce, doc, label, len(seen))
	}
	for _, v := range seen {
		return v, nil
	}
	return nil, nil
}

// SetInForce cascades value to the atoms of the latest available edition,
// or to every atom of the document when value is false. Each atom write is
// retried on store timeouts.
func (e *Engine) SetInForce(ctx context.Context, doc part.DocID, value *bool) (n int, err error) {
	ctx, span := e.span(ctx, "SetInForce", doc, "")
	defer func() { endSpan(span, err) }()

	unlock, err := e.lock(ctx, doc)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := e.refresh(ctx); err != nil {
		return 0, err
	}
	h, err := e.loadHistory(ctx, doc)
	if err != nil {
		return 0, err
	}
	label := h.LatestAvailable(e.now())
	everything := value != nil && !*value

	var keys []part.Key
	err = e.store.Scan(ctx, store.ForDocument(doc), func(p part.Part) error {
		if everything || p.Common().Abstract.HasVersion(label) {
			keys = append(keys, p.Common().Key())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		changed := false
		err := e.retry.Do(ctx, func() error {
			p, err := e.store.Get(ctx, key)
			if err != nil {
				return err
			}
			a := &p.Common().Abstract
			if part.SameFlag(a.InForce, value) {
				return nil
			}
			a.InForce = value
			changed = true
			return e.store.Save(ctx, p)
		})
		if err != nil {
			return n, fmt.Errorf("set in_force on %s: %w", key, err)
		}
		if changed {
			n++
		}
	}

	e.log.Info().
		Str("domain", doc.Domain).
		Str("id_local", doc.IDLocal).
		Str("in_force", part.FlagString(value)).
		Int("atoms", n).
		Msg("in_force updated")
	return n, e.refresh(ctx)
}
