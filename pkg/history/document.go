// ABOUTME: DocumentHistory (ledger + dedup map, persisted) and DocumentVersion (transient)
// ABOUTME: A DocumentVersion is a full snapshot of the parts of one edition

package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nainya/lexstore/pkg/part"
)

// DocumentHistory is the persisted timeline and deduplication map of one document
type DocumentHistory struct {
	Doc            part.DocID
	Availabilities Ledger
	Dedup          *DedupMap
}

// NewDocumentHistory returns an empty history for doc
func NewDocumentHistory(doc part.DocID) *DocumentHistory {
	return &DocumentHistory{Doc: doc, Availabilities: Ledger{}, Dedup: NewDedupMap()}
}

type historyJSON struct {
	Domain           string    `json:"domain"`
	IDLocal          string    `json:"id_local"`
	DocType          string    `json:"doc_type"`
	Availabilities   Ledger    `json:"availabilities"`
	ExposedAndHidden *DedupMap `json:"exposed_and_hidden"`
}

func (h *DocumentHistory) MarshalJSON() ([]byte, error) {
	return json.Marshal(historyJSON{
		Domain:           h.Doc.Domain,
		IDLocal:          h.Doc.IDLocal,
		DocType:          "versionsmap",
		Availabilities:   h.Availabilities,
		ExposedAndHidden: h.Dedup,
	})
}

func (h *DocumentHistory) UnmarshalJSON(data []byte) error {
	aux := historyJSON{ExposedAndHidden: NewDedupMap()}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	h.Doc = part.DocID{Domain: aux.Domain, IDLocal: aux.IDLocal}
	h.Availabilities = aux.Availabilities
	h.Dedup = aux.ExposedAndHidden
	if h.Dedup == nil {
		h.Dedup = NewDedupMap()
	}
	return nil
}

// Latest is the label of the last edition dated today or earlier
func (h *DocumentHistory) Latest(today time.Time) string {
	a, _ := h.Availabilities.Latest(today)
	return a.Version
}

// LatestAvailable is the label of the edition readers get by default
func (h *DocumentHistory) LatestAvailable(today time.Time) string {
	a, _ := h.Availabilities.LatestAvailable(today)
	return a.Version
}

// DocumentVersion is one edition of a document as a set of parts
type DocumentVersion struct {
	Version      string
	DateDocument *time.Time
	Available    bool

	Cover       *part.Cover
	Contents    *part.ContentsTable
	Preamble    *part.Preamble
	Articles    []*part.Article
	Definitions []*part.Definition
}

// Doc is the document identity taken from the cover
func (v *DocumentVersion) Doc() part.DocID {
	if v.Cover == nil {
		return part.DocID{}
	}
	return v.Cover.Doc()
}

// Parts lists the parts in processing order: cover, preamble, contents, articles, definitions
func (v *DocumentVersion) Parts() []part.Part {
	var out []part.Part
	if v.Cover != nil {
		out = append(out, v.Cover)
	}
	if v.Preamble != nil {
		out = append(out, v.Preamble)
	}
	if v.Contents != nil {
		out = append(out, v.Contents)
	}
	for _, a := range v.Articles {
		out = append(out, a)
	}
	for _, d := range v.Definitions {
		out = append(out, d)
	}
	return out
}

// SubIDs is the set of structural slots of the edition
func (v *DocumentVersion) SubIDs() map[string]bool {
	out := make(map[string]bool)
	for _, p := range v.Parts() {
		out[p.Common().SubID] = true
	}
	return out
}

type versionJSON struct {
	Version      string              `json:"version"`
	DateDocument *time.Time          `json:"date_document"`
	Available    *bool               `json:"available,omitempty"`
	Cover        *part.Cover         `json:"cover"`
	Contents     *part.ContentsTable `json:"toc,omitempty"`
	Preamble     *part.Preamble      `json:"preamble,omitempty"`
	Articles     []*part.Article     `json:"articles,omitempty"`
	Definitions  []*part.Definition  `json:"definitions,omitempty"`
}

func (v *DocumentVersion) MarshalJSON() ([]byte, error) {
	return json.Marshal(versionJSON{
		Version:      v.Version,
		DateDocument: v.DateDocument,
		Available:    part.Bool(v.Available),
		Cover:        v.Cover,
		Contents:     v.Contents,
		Preamble:     v.Preamble,
		Articles:     v.Articles,
		Definitions:  v.Definitions,
	})
}

// UnmarshalJSON decodes a receiver payload; a missing available flag means true
func (v *DocumentVersion) UnmarshalJSON(data []byte) error {
	var aux versionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("decode document version: %w", err)
	}
	*v = DocumentVersion{
		Version:      aux.Version,
		DateDocument: aux.DateDocument,
		Available:    aux.Available == nil || *aux.Available,
		Cover:        aux.Cover,
		Contents:     aux.Contents,
		Preamble:     aux.Preamble,
		Articles:     aux.Articles,
		Definitions:  aux.Definitions,
	}
	return nil
}
