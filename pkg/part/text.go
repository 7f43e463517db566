// ABOUTME: Markup-carrying text fields and tag stripping
// ABOUTME: Equality on text ignores markup and whitespace layout

package part

import (
	"strings"

	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html"
)

// Twix holds a text twice: stripped for search and comparison, dressed for display
type Twix struct {
	Stripped string `json:"stripped,omitempty"`
	Dressed  string `json:"dressed,omitempty"`
}

// Text returns the normalized plain text; derived from Dressed when Stripped is empty
func (t Twix) Text() string {
	if t.Stripped != "" {
		return NormalizeText(t.Stripped)
	}
	return NormalizeText(StripMarkup(t.Dressed))
}

// Equal compares the plain text only, so markup-only edits are not changes
func (t Twix) Equal(other Twix) bool {
	return t.Text() == other.Text()
}

// Heading of an article or contents-table node
type Heading struct {
	Ordinate string `json:"ordinate,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Equal compares ordinate and title as plain text
func (h Heading) Equal(other Heading) bool {
	return PlainText(h.Ordinate) == PlainText(other.Ordinate) &&
		PlainText(h.Title) == PlainText(other.Title)
}

// PlainText strips markup from a short field and normalizes its whitespace
func PlainText(s string) string {
	return NormalizeText(StripMarkup(s))
}

// NormalizeText collapses every whitespace run into a single space
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// blockElements break words; every other element is inline and joins its
// text with the neighbouring text unchanged.
var blockElements = map[string]bool{
	"address": true, "article": true, "blockquote": true, "br": true, "dd": true,
	"div": true, "dl": true, "dt": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "hr": true, "li": true, "ol": true,
	"p": true, "section": true, "table": true, "td": true, "th": true,
	"tr": true, "ul": true,
}

func isBlock(name string) bool {
	return blockElements[strings.ToLower(name)]
}

// StripMarkup returns the normalized text content of a markup fragment.
// Well-formed fragments are parsed as XML; anything else falls back to the
// HTML tokenizer, which also resolves named entities.
func StripMarkup(markup string) string {
	if !strings.ContainsAny(markup, "<&") {
		return markup
	}

	doc, err := xmlquery.Parse(strings.NewReader("<lxp>" + markup + "</lxp>"))
	if err != nil {
		return stripHTML(markup)
	}

	var sb strings.Builder
	collectText(doc, &sb)
	return NormalizeText(sb.String())
}

func collectText(n *xmlquery.Node, sb *strings.Builder) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case xmlquery.TextNode, xmlquery.CharDataNode:
			sb.WriteString(child.Data)
		case xmlquery.DocumentNode:
			collectText(child, sb)
		case xmlquery.ElementNode:
			block := isBlock(child.Data)
			if block {
				sb.WriteByte(' ')
			}
			collectText(child, sb)
			if block {
				sb.WriteByte(' ')
			}
		}
	}
}

func stripHTML(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return NormalizeText(sb.String())
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); isBlock(string(name)) {
				sb.WriteByte(' ')
			}
		}
	}
}
