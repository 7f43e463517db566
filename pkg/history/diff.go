// ABOUTME: Per-edition change classification and per-slot version listings
// ABOUTME: Feeds "what changed" listings and the version switcher of readers

package history

import (
	"context"
	"time"

	"github.com/nainya/lexstore/pkg/part"
)

// ChangeKind classifies a slot between two consecutive available editions
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change of one article slot
type Change struct {
	SubID string     `json:"sub_id"`
	Kind  ChangeKind `json:"change"`
}

// Changes classifies the article slots of label against the previous
// available edition. Unknown or unavailable labels yield no changes.
func (h *DocumentHistory) Changes(label string) []Change {
	availables := h.Availabilities.AvailableLabels()
	idx := -1
	for i, v := range availables {
		if v == label {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	var out []Change
	if idx == 0 {
		for _, subID := range h.Dedup.SubIDs() {
			if !part.IsArticleSubID(subID) {
				continue
			}
			if _, ok := h.Dedup.HiddenFor(subID, label); ok {
				out = append(out, Change{SubID: subID, Kind: ChangeInsert})
			}
		}
		return out
	}

	prev := availables[idx-1]
	for _, subID := range h.Dedup.SubIDs() {
		if !part.IsArticleSubID(subID) {
			continue
		}
		cur, hasCur := h.Dedup.HiddenFor(subID, label)
		old, hasOld := h.Dedup.HiddenFor(subID, prev)
		switch {
		case hasCur == hasOld && cur == old:
		case !hasCur:
			out = append(out, Change{SubID: subID, Kind: ChangeDelete})
		case !hasOld:
			out = append(out, Change{SubID: subID, Kind: ChangeInsert})
		default:
			out = append(out, Change{SubID: subID, Kind: ChangeUpdate})
		}
	}
	return out
}

// SubIDChange classifies the article slots of one edition of a document
func (e *Engine) SubIDChange(ctx context.Context, doc part.DocID, label string) ([]Change, error) {
	h, err := e.loadHistory(ctx, doc)
	if err != nil {
		return nil, err
	}
	if label == LatestAlias {
		label = h.LatestAvailable(e.now())
	}
	return h.Changes(label), nil
}

// VersionAvailability is one entry of a slot's version listing
type VersionAvailability struct {
	ID           string    `json:"id"`
	Folder       string    `json:"folder"` // empty for the edition served as "latest"
	Display      string    `json:"display"`
	DateDocument time.Time `json:"date_document"`
	Loaded       bool      `json:"loaded"`
}

// VersionsAvailability lists the editions exposing subID in ledger order.
// The contents table is listed against every edition.
func (h *DocumentHistory) VersionsAvailability(subID string, today time.Time) []VersionAvailability {
	exposing := make(map[string]bool)
	if subID == part.SubIDContents {
		for _, a := range h.Availabilities {
			exposing[a.Version] = true
		}
	} else {
		for _, en := range h.Dedup.Entries() {
			if en.SubID != subID {
				continue
			}
			for _, v := range en.ExposedVersions {
				exposing[v] = true
			}
		}
	}

	var out []VersionAvailability
	for _, a := range h.Availabilities {
		if !exposing[a.Version] {
			continue
		}
		out = append(out, VersionAvailability{
			ID:           a.Version,
			Folder:       a.Version,
			Display:      a.DateDocument.Format("2 January 2006"),
			DateDocument: a.DateDocument,
			Loaded:       a.Available,
		})
	}
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Loaded && notAfter(out[i].DateDocument, today) {
			out[i].Folder = ""
			break
		}
	}
	return out
}

// VersionsAvailability lists the editions of a document exposing subID
func (e *Engine) VersionsAvailability(ctx context.Context, doc part.DocID, subID string) ([]VersionAvailability, error) {
	h, err := e.loadHistory(ctx, doc)
	if err != nil {
		return nil, err
	}
	return h.VersionsAvailability(subID, e.now()), nil
}
