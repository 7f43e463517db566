// ABOUTME: Cover part: document-level ELI metadata and relations
// ABOUTME: Equality covers every field except the Abstract

package part

import (
	"sort"
	"strings"
	"time"
)

// Anchor is a link to a related document
type Anchor struct {
	Text        string `json:"text"`
	Href        string `json:"href"`
	Title       string `json:"title,omitempty"`
	Implemented *bool  `json:"implemented,omitempty"` // only meaningful for changers
}

func (a Anchor) identity() string {
	return strings.Join([]string{a.Href, a.Text, a.Title, FlagString(a.Implemented)}, "\x00")
}

// Relation names an anchor list of the cover
type Relation string

const (
	RelBasedOn     Relation = "based_on"
	RelRepealedBy  Relation = "repealed_by"
	RelCorrectedBy Relation = "corrected_by"
	RelAmendedBy   Relation = "amended_by"
	RelCompletedBy Relation = "completed_by"
	RelRepeals     Relation = "repeals"
	RelCorrects    Relation = "corrects"
	RelAmends      Relation = "amends"
	RelCompletes   Relation = "completes"
	RelCites       Relation = "cites"
	RelCitedBy     Relation = "cited_by"
)

// Relations lists every anchor list of a cover
var Relations = []Relation{
	RelBasedOn, RelRepealedBy, RelCorrectedBy, RelAmendedBy, RelCompletedBy,
	RelRepeals, RelCorrects, RelAmends, RelCompletes, RelCites, RelCitedBy,
}

// BackRelation returns the inverse relation (amends <-> amended_by, ...)
func BackRelation(r Relation) (Relation, bool) {
	switch r {
	case RelAmends:
		return RelAmendedBy, true
	case RelAmendedBy:
		return RelAmends, true
	case RelCorrects:
		return RelCorrectedBy, true
	case RelCorrectedBy:
		return RelCorrects, true
	case RelRepeals:
		return RelRepealedBy, true
	case RelRepealedBy:
		return RelRepeals, true
	case RelCompletes:
		return RelCompletedBy, true
	case RelCompletedBy:
		return RelCompletes, true
	case RelCites:
		return RelCitedBy, true
	case RelCitedBy:
		return RelCites, true
	}
	return "", false
}

// Cover holds the document metadata of one edition
type Cover struct {
	Base

	SourceIRI    string `json:"source_iri"`
	SourceURL    string `json:"source_url"`
	TitleEssence string `json:"title_essence,omitempty"`
	PopTitle     string `json:"pop_title,omitempty"`
	PopAcronym   string `json:"pop_acronym,omitempty"`
	IDHuman      string `json:"id_human,omitempty"`
	Title        string `json:"title,omitempty"`

	FirstDateEntryInForce *time.Time `json:"first_date_entry_in_force,omitempty"`
	DateNoLongerInForce   *time.Time `json:"date_no_longer_in_force,omitempty"`
	DateApplicability     *time.Time `json:"date_applicability,omitempty"`

	PassedBy []string `json:"passed_by,omitempty"`
	IsAbout  []string `json:"is_about,omitempty"`

	BasedOn     []Anchor `json:"based_on,omitempty"`
	RepealedBy  []Anchor `json:"repealed_by,omitempty"`
	CorrectedBy []Anchor `json:"corrected_by,omitempty"`
	AmendedBy   []Anchor `json:"amended_by,omitempty"`
	CompletedBy []Anchor `json:"completed_by,omitempty"`
	Repeals     []Anchor `json:"repeals,omitempty"`
	Corrects    []Anchor `json:"corrects,omitempty"`
	Amends      []Anchor `json:"amends,omitempty"`
	Completes   []Anchor `json:"completes,omitempty"`
	Cites       []Anchor `json:"cites,omitempty"`
	CitedBy     []Anchor `json:"cited_by,omitempty"`
}

func (c *Cover) Kind() Kind { return KindCover }

// Anchors returns a pointer to the anchor list of the given relation
func (c *Cover) Anchors(r Relation) *[]Anchor {
	switch r {
	case RelBasedOn:
		return &c.BasedOn
	case RelRepealedBy:
		return &c.RepealedBy
	case RelCorrectedBy:
		return &c.CorrectedBy
	case RelAmendedBy:
		return &c.AmendedBy
	case RelCompletedBy:
		return &c.CompletedBy
	case RelRepeals:
		return &c.Repeals
	case RelCorrects:
		return &c.Corrects
	case RelAmends:
		return &c.Amends
	case RelCompletes:
		return &c.Completes
	case RelCites:
		return &c.Cites
	case RelCitedBy:
		return &c.CitedBy
	}
	return nil
}

// Equal compares all metadata fields except the Abstract
func (c *Cover) Equal(other Part) bool {
	o, ok := other.(*Cover)
	if !ok {
		return false
	}

	if c.SourceIRI != o.SourceIRI ||
		c.SourceURL != o.SourceURL ||
		c.TitleEssence != o.TitleEssence ||
		c.PopTitle != o.PopTitle ||
		c.PopAcronym != o.PopAcronym ||
		c.IDHuman != o.IDHuman ||
		c.Title != o.Title {
		return false
	}

	if !DatesEqual(c.FirstDateEntryInForce, o.FirstDateEntryInForce) ||
		!DatesEqual(c.DateNoLongerInForce, o.DateNoLongerInForce) ||
		!DatesEqual(c.DateApplicability, o.DateApplicability) {
		return false
	}

	if !stringSetsEqual(c.PassedBy, o.PassedBy) || !stringSetsEqual(c.IsAbout, o.IsAbout) {
		return false
	}

	for _, r := range Relations {
		if !anchorSetsEqual(*c.Anchors(r), *o.Anchors(r)) {
			return false
		}
	}
	return true
}

// Normalize de-duplicates every anchor list by href. Lists without duplicates
// keep their order; otherwise the list is rebuilt sorted by href, the last
// anchor per href winning. Returns whether anything changed.
func (c *Cover) Normalize() bool {
	changed := false
	for _, r := range Relations {
		if uniquifyAnchors(c.Anchors(r)) {
			changed = true
		}
	}
	return changed
}

func uniquifyAnchors(list *[]Anchor) bool {
	byHref := make(map[string]Anchor, len(*list))
	for _, a := range *list {
		byHref[a.Href] = a
	}
	if len(byHref) == len(*list) {
		return false
	}

	unique := make([]Anchor, 0, len(byHref))
	for _, a := range byHref {
		unique = append(unique, a)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Href < unique[j].Href })
	*list = unique
	return true
}

// AsAnchor returns the anchor other covers use to point at this document
func (c *Cover) AsAnchor(baseIRI string) Anchor {
	text := firstNonEmpty(c.PopAcronym, c.IDHuman, c.Abstract.IDLocal)
	title := firstNonEmpty(c.PopTitle, c.TitleEssence, c.Title)
	return Anchor{
		Href:  strings.TrimRight(baseIRI, "/") + "/" + c.Abstract.Domain + "/" + c.Abstract.IDLocal + "/",
		Text:  text,
		Title: title,
	}
}

// HasAnchor reports whether the relation already links to href
func (c *Cover) HasAnchor(r Relation, href string) bool {
	list := c.Anchors(r)
	if list == nil {
		return false
	}
	for _, a := range *list {
		if a.Href == href {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
