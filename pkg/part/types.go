// ABOUTME: Part model for versioned legal acts
// ABOUTME: Defines Abstract, Base, stored-object keys and the Part capability set

package part

import (
	"strings"
	"time"
)

// Kind identifies the part variant (the stored doc_type)
type Kind string

const (
	KindCover         Kind = "cover"
	KindPreamble      Kind = "preamble"
	KindArticle       Kind = "article"
	KindDefinition    Kind = "definition"
	KindContentsTable Kind = "contentstable"
)

// Structural slot names shared by every edition of a document
const (
	SubIDCover    = "COV"
	SubIDContents = "TOC"
	SubIDPreamble = "PRE"

	definitionPrefix = "DEF_"
)

// IsDefinitionSubID reports whether subID names a definition slot
func IsDefinitionSubID(subID string) bool {
	return strings.HasPrefix(subID, definitionPrefix)
}

// IsArticleSubID reports whether subID could come from an article
// (anything that is neither cover, contents, preamble nor definition)
func IsArticleSubID(subID string) bool {
	switch subID {
	case SubIDCover, SubIDContents, SubIDPreamble:
		return false
	}
	return !IsDefinitionSubID(subID)
}

// Abstract holds the identity and status fields embedded in every part
type Abstract struct {
	Domain          string     `json:"domain"`
	IDLocal         string     `json:"id_local"`
	Version         []string   `json:"version"` // labels this stored object represents; hidden version first
	TypeDocument    string     `json:"type_document,omitempty"`
	SerialNumber    *int       `json:"serial_number,omitempty"`
	InForce         *bool      `json:"in_force,omitempty"` // nil means unset
	DatePublication *time.Time `json:"date_publication,omitempty"`
	IsLatest        bool       `json:"is_latest"`
}

// HasVersion reports whether label is one of the represented versions
func (a *Abstract) HasVersion(label string) bool {
	for _, v := range a.Version {
		if v == label {
			return true
		}
	}
	return false
}

// AddVersion appends label unless it is already present
func (a *Abstract) AddVersion(label string) {
	if !a.HasVersion(label) {
		a.Version = append(a.Version, label)
	}
}

// DropVersion removes label, returning whether it was present
func (a *Abstract) DropVersion(label string) bool {
	for i, v := range a.Version {
		if v == label {
			a.Version = append(a.Version[:i], a.Version[i+1:]...)
			return true
		}
	}
	return false
}

// Base is embedded in every part variant
type Base struct {
	SubID    string   `json:"sub_id"`
	Abstract Abstract `json:"abstract"`
}

// Common gives access to the shared fields of any part
func (b *Base) Common() *Base {
	return b
}

// HiddenVersion is the label under which the content was stored
func (b *Base) HiddenVersion() string {
	if len(b.Abstract.Version) == 0 {
		return ""
	}
	return b.Abstract.Version[0]
}

// Key returns the stored-object identifier of the part
func (b *Base) Key() Key {
	return Key{
		Domain:        b.Abstract.Domain,
		IDLocal:       b.Abstract.IDLocal,
		SubID:         b.SubID,
		HiddenVersion: b.HiddenVersion(),
	}
}

// Doc returns the document the part belongs to
func (b *Base) Doc() DocID {
	return DocID{Domain: b.Abstract.Domain, IDLocal: b.Abstract.IDLocal}
}

// Part is a typed content unit of a legal act
type Part interface {
	Kind() Kind
	Common() *Base
	// Equal compares content only; Abstract.Version and Abstract.IsLatest never count
	Equal(other Part) bool
	// Fingerprint is a digest of the same content Equal looks at
	Fingerprint() string
}

// DocID identifies a document (domain, id_local)
type DocID struct {
	Domain  string
	IDLocal string
}

func (d DocID) String() string {
	return d.Domain + "-" + d.IDLocal
}

// Key identifies a stored part: (domain, id_local, sub_id, hidden_version)
type Key struct {
	Domain        string
	IDLocal       string
	SubID         string
	HiddenVersion string
}

// Doc returns the document portion of the key
func (k Key) Doc() DocID {
	return DocID{Domain: k.Domain, IDLocal: k.IDLocal}
}

// String renders <domain>-<id_local>-<sub_id>-<hidden_version>
func (k Key) String() string {
	return strings.Join([]string{k.Domain, k.IDLocal, k.SubID, k.HiddenVersion}, "-")
}

// Bool returns a pointer to v, for tri-state flags
func Bool(v bool) *bool {
	return &v
}

// SameFlag compares two tri-state flags
func SameFlag(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// FlagString renders a tri-state flag as True, False or None
func FlagString(v *bool) string {
	switch {
	case v == nil:
		return "None"
	case *v:
		return "True"
	default:
		return "False"
	}
}
