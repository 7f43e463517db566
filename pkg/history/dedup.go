// ABOUTME: Deduplication map from structural slots to the labels sharing stored content
// ABOUTME: Derived lookups are memoized and invalidated on every mutation

package history

import (
	"encoding/json"
	"fmt"
)

// Entry says that the content stored for SubID under HiddenVersion is
// exposed by every label of ExposedVersions; HiddenVersion comes first.
type Entry struct {
	SubID           string   `json:"sub_id"`
	HiddenVersion   string   `json:"hidden_version"`
	ExposedVersions []string `json:"exposed_versions"`
}

// Exposure is a (sub_id, exposed label) pair
type Exposure struct {
	SubID   string
	Exposed string
}

// DedupMap holds the entries of one document
type DedupMap struct {
	entries []Entry

	e2h map[Exposure]string
	h2e map[string]map[string][]string
}

// NewDedupMap builds a map over a copy of entries
func NewDedupMap(entries ...Entry) *DedupMap {
	m := &DedupMap{}
	for _, e := range entries {
		m.entries = append(m.entries, Entry{
			SubID:           e.SubID,
			HiddenVersion:   e.HiddenVersion,
			ExposedVersions: append([]string(nil), e.ExposedVersions...),
		})
	}
	return m
}

func (m *DedupMap) invalidate() {
	m.e2h = nil
	m.h2e = nil
}

// Entries returns a copy of the entries in insertion order
func (m *DedupMap) Entries() []Entry {
	return NewDedupMap(m.entries...).entries
}

// Len is the number of entries
func (m *DedupMap) Len() int {
	return len(m.entries)
}

// Add records content newly stored for subID under label
func (m *DedupMap) Add(subID, label string) {
	m.entries = append(m.entries, Entry{
		SubID:           subID,
		HiddenVersion:   label,
		ExposedVersions: []string{label},
	})
	m.invalidate()
}

// Expose makes the content stored under (subID, hidden) also visible as label
func (m *DedupMap) Expose(subID, hidden, label string) error {
	for i := range m.entries {
		e := &m.entries[i]
		if e.SubID == subID && e.HiddenVersion == hidden {
			e.ExposedVersions = append(e.ExposedVersions, label)
			m.invalidate()
			return nil
		}
	}
	return fmt.Errorf("%w: no entry for %s stored under %s", ErrInconsistentHistory, subID, hidden)
}

// ExposedToHidden maps (sub_id, exposed label) to the hidden version
func (m *DedupMap) ExposedToHidden() map[Exposure]string {
	if m.e2h == nil {
		m.e2h = make(map[Exposure]string)
		for _, e := range m.entries {
			for _, v := range e.ExposedVersions {
				m.e2h[Exposure{SubID: e.SubID, Exposed: v}] = e.HiddenVersion
			}
		}
	}
	return m.e2h
}

// HiddenFor returns the hidden version exposing subID as label
func (m *DedupMap) HiddenFor(subID, label string) (string, bool) {
	h, ok := m.ExposedToHidden()[Exposure{SubID: subID, Exposed: label}]
	return h, ok
}

// HiddenToExposed maps sub_id -> hidden version -> exposed labels
func (m *DedupMap) HiddenToExposed() map[string]map[string][]string {
	if m.h2e == nil {
		m.h2e = make(map[string]map[string][]string)
		for _, e := range m.entries {
			if m.h2e[e.SubID] == nil {
				m.h2e[e.SubID] = make(map[string][]string)
			}
			m.h2e[e.SubID][e.HiddenVersion] = e.ExposedVersions
		}
	}
	return m.h2e
}

// Resolve turns a label into sub_id -> hidden version
func (m *DedupMap) Resolve(label string) map[string]string {
	out := make(map[string]string)
	for _, e := range m.entries {
		for _, v := range e.ExposedVersions {
			if v == label {
				out[e.SubID] = e.HiddenVersion
				break
			}
		}
	}
	return out
}

// SubIDs lists the distinct sub_ids in first-seen order
func (m *DedupMap) SubIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range m.entries {
		if !seen[e.SubID] {
			seen[e.SubID] = true
			out = append(out, e.SubID)
		}
	}
	return out
}

// Retract undoes label, assuming it is the newest label of the document.
// Entries that only exist for label are dropped and returned; entries
// where label is the last exposure are trimmed.
func (m *DedupMap) Retract(label string) []Entry {
	var dropped []Entry
	kept := m.entries[:0]
	for _, e := range m.entries {
		n := len(e.ExposedVersions)
		switch {
		case n == 1 && e.ExposedVersions[0] == label:
			dropped = append(dropped, e)
			continue
		case n > 0 && e.ExposedVersions[n-1] == label:
			e.ExposedVersions = e.ExposedVersions[:n-1]
		}
		kept = append(kept, e)
	}
	m.entries = kept
	m.invalidate()
	return dropped
}

// Validate checks the structural invariants: hidden version first among the
// exposed labels, and no label exposed twice for the same sub_id.
func (m *DedupMap) Validate() error {
	seen := make(map[Exposure]string)
	for _, e := range m.entries {
		if len(e.ExposedVersions) == 0 || e.ExposedVersions[0] != e.HiddenVersion {
			return fmt.Errorf("%w: %s/%s does not expose its hidden version first", ErrInconsistentHistory, e.SubID, e.HiddenVersion)
		}
		for _, v := range e.ExposedVersions {
			k := Exposure{SubID: e.SubID, Exposed: v}
			if other, dup := seen[k]; dup {
				return fmt.Errorf("%w: %s exposes %s under both %s and %s", ErrInconsistentHistory, e.SubID, v, other, e.HiddenVersion)
			}
			seen[k] = e.HiddenVersion
		}
	}
	return nil
}

func (m *DedupMap) MarshalJSON() ([]byte, error) {
	if m.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.entries)
}

func (m *DedupMap) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	m.entries = entries
	m.invalidate()
	return nil
}
