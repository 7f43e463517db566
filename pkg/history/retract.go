// ABOUTME: Retraction of the newest edition, purge of a whole document, placeholder editions
// ABOUTME: removeLatest doubles as the compensation step of a failed incorporation

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/lexstore/pkg/part"
	"github.com/nainya/lexstore/pkg/store"
)

// RemoveLatest undoes the last ledger entry of a document. Removing the only
// entry purges the document.
func (e *Engine) RemoveLatest(ctx context.Context, doc part.DocID) (err error) {
	ctx, span := e.span(ctx, "RemoveLatest", doc, "")
	defer func() { endSpan(span, err) }()

	unlock, err := e.lock(ctx, doc)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.refresh(ctx); err != nil {
		return err
	}
	h, err := e.loadHistory(ctx, doc)
	if err != nil {
		return err
	}
	if err := e.removeLatest(ctx, h); err != nil {
		return err
	}
	return e.refresh(ctx)
}

// RemoveVersion retracts label, which must be the last ledger entry
func (e *Engine) RemoveVersion(ctx context.Context, doc part.DocID, label string) error {
	h, err := e.loadHistory(ctx, doc)
	if err != nil {
		return err
	}
	n := len(h.Availabilities)
	if n == 0 || h.Availabilities[n-1].Version != label {
		return fmt.Errorf("%w: %s@%s", ErrNotLatest, doc, label)
	}
	return e.RemoveLatest(ctx, doc)
}

func (e *Engine) removeLatest(ctx context.Context, h *DocumentHistory) error {
	last, ok := h.Availabilities.Pop()
	if !ok || len(h.Availabilities) == 0 {
		return e.purge(ctx, h.Doc)
	}
	label := last.Version
	log := e.log.With().Str("domain", h.Doc.Domain).Str("id_local", h.Doc.IDLocal).Str("version", label).Logger()

	var trimmed []Entry
	for _, en := range h.Dedup.Entries() {
		n := len(en.ExposedVersions)
		if n > 1 && en.ExposedVersions[n-1] == label {
			trimmed = append(trimmed, en)
		}
	}

	for _, en := range h.Dedup.Retract(label) {
		key := part.Key{Domain: h.Doc.Domain, IDLocal: h.Doc.IDLocal, SubID: en.SubID, HiddenVersion: label}
		if err := e.store.Delete(ctx, key); err != nil && !store.IsNotFound(err) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}

	for _, en := range trimmed {
		key := part.Key{Domain: h.Doc.Domain, IDLocal: h.Doc.IDLocal, SubID: en.SubID, HiddenVersion: en.HiddenVersion}
		p, err := e.store.Get(ctx, key)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		if p.Common().Abstract.DropVersion(label) {
			if err := e.savePart(ctx, p); err != nil {
				return fmt.Errorf("trim %s: %w", key, err)
			}
		}
	}

	// the new latest available edition becomes the displayed one again
	current, err := e.resolveParts(ctx, h, h.LatestAvailable(e.now()))
	if err != nil {
		return err
	}
	for _, p := range current {
		if p.Common().Abstract.IsLatest {
			continue
		}
		p.Common().Abstract.IsLatest = true
		if err := e.savePart(ctx, p); err != nil {
			return err
		}
	}

	if err := e.saveHistory(ctx, h); err != nil {
		return err
	}
	log.Info().Int("remaining", len(h.Availabilities)).Msg("Latest edition removed")
	return nil
}

// Purge deletes every stored part of a document and its history. A missing
// history is reported as ErrHistoryNotFound after the parts are gone.
func (e *Engine) Purge(ctx context.Context, doc part.DocID) (err error) {
	ctx, span := e.span(ctx, "Purge", doc, "")
	defer func() { endSpan(span, err) }()

	unlock, err := e.lock(ctx, doc)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.refresh(ctx); err != nil {
		return err
	}
	if err := e.purge(ctx, doc); err != nil {
		return err
	}
	return e.refresh(ctx)
}

func (e *Engine) purge(ctx context.Context, doc part.DocID) error {
	n, err := e.store.DeleteMatching(ctx, store.ForDocument(doc))
	if err != nil {
		return fmt.Errorf("purge parts of %s: %w", doc, err)
	}
	err = e.store.DeleteHistory(ctx, doc)
	if store.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrHistoryNotFound, doc)
	}
	if err != nil {
		return fmt.Errorf("purge history of %s: %w", doc, err)
	}
	e.log.Info().Str("domain", doc.Domain).Str("id_local", doc.IDLocal).Int("parts", n).Msg("Document purged")
	return nil
}

// InsertUnavailable records a known edition that has no content yet, after
// the label `after` or at the end of the ledger when after is empty.
func (e *Engine) InsertUnavailable(ctx context.Context, doc part.DocID, label string, date time.Time, after string) (err error) {
	ctx, span := e.span(ctx, "InsertUnavailable", doc, label)
	defer func() { endSpan(span, err) }()

	unlock, err := e.lock(ctx, doc)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.refresh(ctx); err != nil {
		return err
	}
	h, err := e.loadHistory(ctx, doc)
	if err != nil {
		return err
	}
	if err := h.Availabilities.InsertUnavailable(label, dateOnly(date), after); err != nil {
		return err
	}
	if err := e.saveHistory(ctx, h); err != nil {
		return err
	}
	return e.refresh(ctx)
}
