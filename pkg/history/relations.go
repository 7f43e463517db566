// ABOUTME: Backlink upkeep between covers of the same domain
// ABOUTME: An incoming cover that amends X makes X's latest cover list it under amended_by

package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/nainya/lexstore/pkg/part"
	"github.com/nainya/lexstore/pkg/store"
)

// BacklinkKeeper mirrors outgoing cover relations as back-relations on the
// targets' latest covers
type BacklinkKeeper struct {
	store   store.ContentStore
	baseIRI string
}

// NewBacklinkKeeper creates a keeper for anchors below baseIRI
func NewBacklinkKeeper(s store.ContentStore, baseIRI string) *BacklinkKeeper {
	return &BacklinkKeeper{store: s, baseIRI: baseIRI}
}

// target extracts (domain, id_local) from an anchor href below the base IRI
func (k *BacklinkKeeper) target(href string) (part.DocID, bool) {
	base := strings.TrimRight(k.baseIRI, "/")
	if !strings.HasPrefix(href, base+"/") {
		return part.DocID{}, false
	}
	rel := strings.Trim(strings.TrimPrefix(href, base), "/")
	fields := strings.Split(rel, "/")
	if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
		return part.DocID{}, false
	}
	return part.DocID{Domain: fields[0], IDLocal: fields[1]}, true
}

// Propagate adds c's anchor to the back-relation lists of every same-domain
// document c points at.
func (k *BacklinkKeeper) Propagate(ctx context.Context, c *part.Cover) error {
	self := c.Doc()
	anchor := c.AsAnchor(k.baseIRI)

	for _, rel := range part.Relations {
		back, ok := part.BackRelation(rel)
		if !ok {
			continue
		}
		for _, a := range *c.Anchors(rel) {
			doc, ok := k.target(a.Href)
			if !ok || doc.Domain != self.Domain || doc == self {
				continue
			}
			var stale []part.Part
			err := k.store.Scan(ctx, store.Filter{
				Domain:   doc.Domain,
				IDLocal:  doc.IDLocal,
				Kind:     part.KindCover,
				IsLatest: part.Bool(true),
			}, func(p part.Part) error {
				if cov, ok := p.(*part.Cover); ok && !cov.HasAnchor(back, anchor.Href) {
					stale = append(stale, p)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("scan covers of %s: %w", doc, err)
			}
			for _, p := range stale {
				// re-read: the scan may lag behind the latest write
				fresh, err := k.store.Get(ctx, p.Common().Key())
				if err != nil {
					return fmt.Errorf("load cover %s: %w", p.Common().Key(), err)
				}
				target, ok := fresh.(*part.Cover)
				if !ok || target.HasAnchor(back, anchor.Href) {
					continue
				}
				list := target.Anchors(back)
				*list = append(*list, anchor)
				if err := k.store.Save(ctx, target); err != nil {
					return fmt.Errorf("save backlink on %s: %w", doc, err)
				}
			}
		}
	}
	return nil
}
