// ABOUTME: Alias table mapping document identifiers to their popular names
// ABOUTME: Constructed from configuration and passed to whoever needs it

package alias

import (
	"fmt"
	"sort"
	"strings"
)

// Table maps id_local values to aliases (32016R0679 -> GDPR) and back.
// A Table is immutable after New and safe for concurrent use.
type Table struct {
	forward  map[string]string
	backward map[string]string
	folded   map[string]string
}

// New builds a table from id_local -> alias pairs. Two identifiers sharing
// an alias, or an alias that is itself another identifier, are rejected.
func New(pairs map[string]string) (*Table, error) {
	t := &Table{
		forward:  make(map[string]string, len(pairs)),
		backward: make(map[string]string, len(pairs)),
		folded:   make(map[string]string, len(pairs)),
	}
	for idLocal, name := range pairs {
		if idLocal == "" || name == "" {
			return nil, fmt.Errorf("alias: empty entry %q -> %q", idLocal, name)
		}
		key := strings.ToLower(name)
		if prev, ok := t.folded[key]; ok {
			return nil, fmt.Errorf("alias: %q used by %s and %s", name, t.backward[prev], idLocal)
		}
		if _, ok := pairs[name]; ok && name != idLocal {
			return nil, fmt.Errorf("alias: %q is also an identifier", name)
		}
		t.forward[idLocal] = name
		t.backward[name] = idLocal
		t.folded[key] = name
	}
	return t, nil
}

// Empty returns a table without aliases
func Empty() *Table {
	t, _ := New(nil)
	return t
}

// Canonical returns the id_local an alias stands for. Matching is
// case-insensitive; anything unknown is returned unchanged.
func (t *Table) Canonical(name string) string {
	if t == nil {
		return name
	}
	if exact, ok := t.folded[strings.ToLower(name)]; ok {
		name = exact
	}
	if idLocal, ok := t.backward[name]; ok {
		return idLocal
	}
	return name
}

// Alias returns the popular name of idLocal, or idLocal itself
func (t *Table) Alias(idLocal string) string {
	if t == nil {
		return idLocal
	}
	if exact, ok := t.folded[strings.ToLower(idLocal)]; ok {
		idLocal = t.backward[exact]
	}
	if name, ok := t.forward[idLocal]; ok {
		return name
	}
	return idLocal
}

// Len is the number of aliases
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.forward)
}

// Names lists the aliases in sorted order
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.backward))
	for name := range t.backward {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
