// ABOUTME: Timeline ledger: ordered availabilities of one document
// ABOUTME: Insertion order is kept; latest queries filter on the document date

package history

import (
	"fmt"
	"time"
)

// Availability records one edition label of a document
type Availability struct {
	Version      string    `json:"version"`
	DateDocument time.Time `json:"date_document"`
	DateReceived time.Time `json:"date_received"`
	Available    bool      `json:"available"`
}

// Ledger is the ordered list of availabilities. Labels are unique.
type Ledger []Availability

// dateOnly drops the clock part, keeping the calendar day of t
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func notAfter(d, today time.Time) bool {
	return !dateOnly(d).After(dateOnly(today))
}

// Index returns the position of label, or -1
func (l Ledger) Index(label string) int {
	for i, a := range l {
		if a.Version == label {
			return i
		}
	}
	return -1
}

// Lookup returns the availability recorded for label
func (l Ledger) Lookup(label string) (Availability, bool) {
	if i := l.Index(label); i >= 0 {
		return l[i], true
	}
	return Availability{}, false
}

// Append adds a new availability at the end
func (l *Ledger) Append(a Availability) error {
	if l.Index(a.Version) >= 0 {
		return fmt.Errorf("%w: version %s already recorded", ErrInconsistentHistory, a.Version)
	}
	*l = append(*l, a)
	return nil
}

// Latest is the last entry whose document date is not in the future
func (l Ledger) Latest(today time.Time) (Availability, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if notAfter(l[i].DateDocument, today) {
			return l[i], true
		}
	}
	return Availability{}, false
}

// LatestAvailable is the last available entry that is not in the future.
// Documents whose only available editions are future-dated fall back to the
// last available entry.
func (l Ledger) LatestAvailable(today time.Time) (Availability, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].Available && notAfter(l[i].DateDocument, today) {
			return l[i], true
		}
	}
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].Available {
			return l[i], true
		}
	}
	return Availability{}, false
}

// AvailableLabels lists the labels of available entries in ledger order
func (l Ledger) AvailableLabels() []string {
	var out []string
	for _, a := range l {
		if a.Available {
			out = append(out, a.Version)
		}
	}
	return out
}

// InsertUnavailable records a known but not yet ingested edition, right
// after the label `after` or at the end when after is empty.
func (l *Ledger) InsertUnavailable(label string, date time.Time, after string) error {
	if l.Index(label) >= 0 {
		return fmt.Errorf("%w: version %s already recorded", ErrInconsistentHistory, label)
	}
	entry := Availability{Version: label, DateDocument: date, Available: false}
	if after == "" {
		*l = append(*l, entry)
		return nil
	}
	i := l.Index(after)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLabelNotFound, after)
	}
	out := make(Ledger, 0, len(*l)+1)
	out = append(out, (*l)[:i+1]...)
	out = append(out, entry)
	out = append(out, (*l)[i+1:]...)
	*l = out
	return nil
}

// Pop removes and returns the last entry
func (l *Ledger) Pop() (Availability, bool) {
	if len(*l) == 0 {
		return Availability{}, false
	}
	last := (*l)[len(*l)-1]
	*l = (*l)[:len(*l)-1]
	return last, true
}
