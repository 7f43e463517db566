// ABOUTME: Content fingerprints for parts (BLAKE3 over the compared fields)
// ABOUTME: Content-equal parts share a fingerprint; Abstract never contributes

package part

import (
	"encoding/hex"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

type digest struct {
	h *blake3.Hasher
}

func newDigest(kind Kind) *digest {
	d := &digest{h: blake3.New()}
	d.str(string(kind))
	return d
}

func (d *digest) str(s string) {
	d.h.Write([]byte(s))
	d.h.Write([]byte{0})
}

func (d *digest) set(values []string) {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	d.list(sorted)
}

func (d *digest) list(values []string) {
	for _, v := range values {
		d.str(v)
	}
	d.h.Write([]byte{1})
}

func (d *digest) date(t *time.Time) {
	switch {
	case t == nil:
		d.str("-")
	case isMidnight(*t):
		d.str("d:" + t.Format("2006-01-02"))
	default:
		d.str("t:" + t.UTC().Format(time.RFC3339Nano))
	}
}

func (d *digest) sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

func (c *Cover) Fingerprint() string {
	d := newDigest(KindCover)
	for _, s := range []string{c.SourceIRI, c.SourceURL, c.TitleEssence, c.PopTitle, c.PopAcronym, c.IDHuman, c.Title} {
		d.str(s)
	}
	d.date(c.FirstDateEntryInForce)
	d.date(c.DateNoLongerInForce)
	d.date(c.DateApplicability)
	d.set(c.PassedBy)
	d.set(c.IsAbout)
	for _, r := range Relations {
		anchors := *c.Anchors(r)
		ids := make([]string, len(anchors))
		for i, a := range anchors {
			ids[i] = a.identity()
		}
		d.set(ids)
	}
	return d.sum()
}

func (a *Article) Fingerprint() string {
	d := newDigest(KindArticle)
	d.str(PlainText(a.Heading.Ordinate))
	d.str(PlainText(a.Heading.Title))
	d.str(a.Body.Text())
	return d.sum()
}

func (p *Preamble) Fingerprint() string {
	d := newDigest(KindPreamble)
	d.str(PlainText(p.Ordinate))
	d.str(p.Body.Text())
	for _, r := range p.Recitals {
		d.str(r.Body.Text())
	}
	return d.sum()
}

func (df *Definition) Fingerprint() string {
	d := newDigest(KindDefinition)
	d.set(df.Terms)
	d.str(df.Body.Text())
	return d.sum()
}

func (t *ContentsTable) Fingerprint() string {
	d := newDigest(KindContentsTable)
	for _, n := range t.Table {
		d.str(n.Locator)
		d.str(PlainText(n.Heading.Ordinate))
		d.str(PlainText(n.Heading.Title))
		d.list(n.Children)
	}
	return d.sum()
}
