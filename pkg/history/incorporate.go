// ABOUTME: Incorporation of a candidate edition into a document history
// ABOUTME: New slots are stored, equal content is relabeled, changed content retires its predecessor

package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nainya/lexstore/pkg/part"
)

// IncorporationResult lists what an incorporation did, by sub_id
type IncorporationResult struct {
	RunID     string
	Doc       part.DocID
	Version   string
	New       []string // slots without predecessor
	Relabeled []string // unchanged content, now also exposed by Version
	Changed   []string // predecessor retired, new content stored
	Obsoleted []string // slots the edition dropped

	// Fingerprints maps every slot of the edition to its content digest
	Fingerprints map[string]string
}

// Incorporate merges a candidate edition into its document history.
// Store refreshes run before and after, so the next read sees every effect.
func (e *Engine) Incorporate(ctx context.Context, v *DocumentVersion) (res *IncorporationResult, err error) {
	if v.DateDocument == nil {
		return nil, ErrMissingDateDocument
	}
	if v.Cover == nil {
		return nil, fmt.Errorf("%w: candidate %q has no cover", ErrIncompleteVersion, v.Version)
	}
	if v.Version == "" || v.Version == LatestAlias {
		return nil, fmt.Errorf("%w: invalid label %q", ErrInconsistentHistory, v.Version)
	}
	doc := v.Doc()
	seen := make(map[string]bool)
	for _, p := range v.Parts() {
		b := p.Common()
		if b.Doc() != doc {
			return nil, fmt.Errorf("%w: part %s belongs to %s, not %s", ErrDocumentMismatch, b.SubID, b.Doc(), doc)
		}
		if seen[b.SubID] {
			return nil, fmt.Errorf("%w: candidate %q repeats sub_id %s", ErrInconsistentHistory, v.Version, b.SubID)
		}
		seen[b.SubID] = true
	}

	ctx, span := e.span(ctx, "Incorporate", doc, v.Version)
	defer func() { endSpan(span, err) }()

	unlock, err := e.lock(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.refresh(ctx); err != nil {
		return nil, err
	}

	h, err := e.loadHistory(ctx, doc)
	if errors.Is(err, ErrHistoryNotFound) {
		h = NewDocumentHistory(doc)
		err = e.saveHistory(ctx, h)
	}
	if err != nil {
		return nil, err
	}

	res, err = e.incorporate(ctx, h, v)
	if err != nil {
		return nil, err
	}
	if err := e.refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommitted, err)
	}
	return res, nil
}

func (e *Engine) incorporate(ctx context.Context, h *DocumentHistory, v *DocumentVersion) (*IncorporationResult, error) {
	label := v.Version
	now := e.now()
	log := e.log.With().
		Str("domain", h.Doc.Domain).
		Str("id_local", h.Doc.IDLocal).
		Str("version", label).
		Logger()
	res := &IncorporationResult{
		RunID:        uuid.NewString(),
		Doc:          h.Doc,
		Version:      label,
		Fingerprints: make(map[string]string),
	}

	// The live set (and with it the cover baseline) is the latest available
	// edition, so a pending future edition never serves as comparison base.
	liveLabel := h.LatestAvailable(now)
	live, err := e.resolveParts(ctx, h, liveLabel)
	if err != nil {
		return nil, err
	}

	if err := h.Availabilities.Append(Availability{
		Version:      label,
		DateDocument: dateOnly(*v.DateDocument),
		DateReceived: now.UTC(),
		Available:    v.Available,
	}); err != nil {
		return nil, err
	}

	for _, p := range v.Parts() {
		b := p.Common()
		b.Abstract.Version = []string{label}
		b.Abstract.IsLatest = true

		if c, ok := p.(*part.Cover); ok {
			c.Normalize()
			if e.backlinks != nil {
				if err := e.backlinks.Propagate(ctx, c); err != nil {
					return nil, err
				}
			}
		}

		res.Fingerprints[b.SubID] = p.Fingerprint()
		prior := live[b.SubID]
		switch {
		case prior == nil:
			if err := e.savePart(ctx, p); err != nil {
				return nil, fmt.Errorf("save %s: %w", b.Key(), err)
			}
			h.Dedup.Add(b.SubID, label)
			res.New = append(res.New, b.SubID)

		case prior.Equal(p):
			pb := prior.Common()
			if err := h.Dedup.Expose(b.SubID, pb.HiddenVersion(), label); err != nil {
				return nil, err
			}
			pb.Abstract.AddVersion(label)
			if err := e.savePart(ctx, prior); err != nil {
				return nil, fmt.Errorf("relabel %s: %w", pb.Key(), err)
			}
			res.Relabeled = append(res.Relabeled, b.SubID)

		default:
			pb := prior.Common()
			pb.Abstract.IsLatest = false
			if b.SubID != part.SubIDCover {
				// cover in_force is document level
				pb.Abstract.InForce = part.Bool(false)
			}
			if err := e.savePart(ctx, prior); err != nil {
				return nil, fmt.Errorf("retire %s: %w", pb.Key(), err)
			}
			if err := e.savePart(ctx, p); err != nil {
				log.Error().Err(err).Str("sub_id", b.SubID).Msg("saving new content failed, rolling back")
				if rbErr := e.removeLatest(ctx, h); rbErr != nil {
					log.Error().Err(rbErr).Msg("rollback failed")
				} else if rfErr := e.refresh(ctx); rfErr != nil {
					log.Warn().Err(rfErr).Msg("refresh after rollback failed")
				}
				return nil, fmt.Errorf("save %s: %w", b.Key(), err)
			}
			h.Dedup.Add(b.SubID, label)
			res.Changed = append(res.Changed, b.SubID)
		}
	}

	if err := e.sweepObsolete(ctx, h, v, live, res); err != nil {
		return nil, err
	}
	if err := h.Dedup.Validate(); err != nil {
		return nil, err
	}

	if err := e.saveHistory(ctx, h); err != nil {
		return nil, err
	}
	log.Info().
		Str("run_id", res.RunID).
		Int("new", len(res.New)).
		Int("relabeled", len(res.Relabeled)).
		Int("changed", len(res.Changed)).
		Int("obsoleted", len(res.Obsoleted)).
		Msg("Edition incorporated")
	return res, nil
}

// sweepObsolete demotes the slots the previous available edition exposed
// but the new (available) edition dropped.
func (e *Engine) sweepObsolete(ctx context.Context, h *DocumentHistory, v *DocumentVersion, live map[string]part.Part, res *IncorporationResult) error {
	ledger := h.Availabilities
	if len(ledger) == 0 || !ledger[len(ledger)-1].Available {
		return nil
	}
	prev := ""
	for _, a := range ledger {
		if a.Available && a.Version != v.Version {
			prev = a.Version
		}
	}
	if prev == "" {
		return nil
	}

	present := v.SubIDs()
	exposed := h.Dedup.Resolve(prev)
	for _, subID := range h.Dedup.SubIDs() {
		hidden, ok := exposed[subID]
		if !ok || present[subID] {
			continue
		}
		p := live[subID]
		if p == nil || p.Common().HiddenVersion() != hidden {
			var err error
			p, err = e.store.Get(ctx, part.Key{Domain: h.Doc.Domain, IDLocal: h.Doc.IDLocal, SubID: subID, HiddenVersion: hidden})
			if err != nil {
				return fmt.Errorf("load obsolete %s: %w", subID, err)
			}
		}
		a := &p.Common().Abstract
		if a.InForce != nil && !*a.InForce && !a.IsLatest {
			continue
		}
		a.InForce = part.Bool(false)
		a.IsLatest = false
		if err := e.savePart(ctx, p); err != nil {
			return fmt.Errorf("obsolete %s: %w", subID, err)
		}
		res.Obsoleted = append(res.Obsoleted, subID)
	}
	return nil
}
