// ABOUTME: Body-carrying parts: Article, Preamble, Definition, ContentsTable
// ABOUTME: Equality looks at tag-stripped text and headings only

package part

// Article is a single article (or annex) of a legal act
type Article struct {
	Base
	Heading Heading `json:"heading"`
	Body    Twix    `json:"body"`
}

func (a *Article) Kind() Kind { return KindArticle }

func (a *Article) Equal(other Part) bool {
	o, ok := other.(*Article)
	if !ok {
		return false
	}
	return a.Heading.Equal(o.Heading) && a.Body.Equal(o.Body)
}

// Recital is one numbered consideration of a preamble
type Recital struct {
	InferredTitle string `json:"inferred_title,omitempty"`
	Body          Twix   `json:"body"`
}

// Preamble holds the citations and recitals preceding the enacting terms
type Preamble struct {
	Base
	Ordinate string    `json:"ordinate,omitempty"`
	Body     Twix      `json:"body"` // remainder after removing the recitals
	Recitals []Recital `json:"recitals,omitempty"`
}

func (p *Preamble) Kind() Kind { return KindPreamble }

func (p *Preamble) Equal(other Part) bool {
	o, ok := other.(*Preamble)
	if !ok {
		return false
	}
	if PlainText(p.Ordinate) != PlainText(o.Ordinate) || !p.Body.Equal(o.Body) {
		return false
	}
	if len(p.Recitals) != len(o.Recitals) {
		return false
	}
	for i := range p.Recitals {
		if !p.Recitals[i].Body.Equal(o.Recitals[i].Body) {
			return false
		}
	}
	return true
}

// Definition of a term used throughout the act
type Definition struct {
	Base
	Terms []string `json:"terms,omitempty"` // alternative terminology
	Body  Twix     `json:"body"`
}

func (d *Definition) Kind() Kind { return KindDefinition }

func (d *Definition) Equal(other Part) bool {
	o, ok := other.(*Definition)
	if !ok {
		return false
	}
	return stringSetsEqual(d.Terms, o.Terms) && d.Body.Equal(o.Body)
}

// ContentsNode is one entry of the table of contents
type ContentsNode struct {
	Locator  string   `json:"locator"` // path part of the URL plus fragment
	Heading  Heading  `json:"heading"`
	Children []string `json:"children,omitempty"`
}

// ContentsTable is the flattened table of contents of an edition
type ContentsTable struct {
	Base
	Table []ContentsNode `json:"table,omitempty"`
}

func (t *ContentsTable) Kind() Kind { return KindContentsTable }

func (t *ContentsTable) Equal(other Part) bool {
	o, ok := other.(*ContentsTable)
	if !ok {
		return false
	}
	if len(t.Table) != len(o.Table) {
		return false
	}
	for i := range t.Table {
		a, b := t.Table[i], o.Table[i]
		if a.Locator != b.Locator || !a.Heading.Equal(b.Heading) || !stringListsEqual(a.Children, b.Children) {
			return false
		}
	}
	return true
}
