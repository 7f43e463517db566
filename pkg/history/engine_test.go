package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/lexstore/pkg/part"
	"github.com/nainya/lexstore/pkg/store"
)

var (
	testToday = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	gdpr      = part.DocID{Domain: "eu", IDLocal: "32016R0679"}
)

func newTestEngine(s store.ContentStore, opts ...Option) *Engine {
	base := []Option{
		WithClock(func() time.Time { return testToday }),
		WithRetry(3, time.Millisecond),
	}
	return NewEngine(s, append(base, opts...)...)
}

func abstract(doc part.DocID) part.Abstract {
	return part.Abstract{Domain: doc.Domain, IDLocal: doc.IDLocal, TypeDocument: "REG"}
}

// edition builds a candidate; articles are "SUB_ID=body" pairs
func edition(doc part.DocID, label string, date time.Time, title string, articles ...string) *DocumentVersion {
	v := &DocumentVersion{
		Version:      label,
		DateDocument: &date,
		Available:    true,
		Cover: &part.Cover{
			Base:      part.Base{SubID: part.SubIDCover, Abstract: abstract(doc)},
			SourceIRI: "http://data.europa.eu/eli/reg/2016/679/oj",
			SourceURL: "https://eur-lex.europa.eu/eli/reg/2016/679/oj",
			Title:     title,
		},
	}
	for _, a := range articles {
		subID, body, _ := strings.Cut(a, "=")
		v.Articles = append(v.Articles, &part.Article{
			Base:    part.Base{SubID: subID, Abstract: abstract(doc)},
			Heading: part.Heading{Ordinate: subID},
			Body:    part.Twix{Dressed: "<p>" + body + "</p>"},
		})
	}
	return v
}

// fullEdition adds the contents table, preamble and a definition
func fullEdition(doc part.DocID, label string, date time.Time, title string, articles ...string) *DocumentVersion {
	v := edition(doc, label, date, title, articles...)
	v.Contents = &part.ContentsTable{
		Base:  part.Base{SubID: part.SubIDContents, Abstract: abstract(doc)},
		Table: []part.ContentsNode{{Locator: "ART_1", Heading: part.Heading{Ordinate: "Article 1"}}},
	}
	v.Preamble = &part.Preamble{
		Base: part.Base{SubID: part.SubIDPreamble, Abstract: abstract(doc)},
		Body: part.Twix{Stripped: "Having regard to the Treaty"},
	}
	v.Definitions = []*part.Definition{{
		Base:  part.Base{SubID: "DEF_1", Abstract: abstract(doc)},
		Terms: []string{"personal data"},
		Body:  part.Twix{Stripped: "any information relating to an identified person"},
	}}
	return v
}

func key(doc part.DocID, subID, hidden string) part.Key {
	return part.Key{Domain: doc.Domain, IDLocal: doc.IDLocal, SubID: subID, HiddenVersion: hidden}
}

func getPart(t *testing.T, s store.ContentStore, k part.Key) part.Part {
	t.Helper()
	p, err := s.Get(context.Background(), k)
	require.NoError(t, err)
	return p
}

func entries(t *testing.T, e *Engine, doc part.DocID) map[string]map[string][]string {
	t.Helper()
	h, err := e.History(context.Background(), doc)
	require.NoError(t, err)
	return h.Dedup.HiddenToExposed()
}

// incorporateScenario runs initial -> 20190930 (relabel) -> 20200101 (change + delete)
func TestIncorporateScenario(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	// initial
	res, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=body text"))
	require.NoError(t, err)
	assert.Equal(t, []string{"COV", "ART_1"}, res.New)
	assert.NotEmpty(t, res.RunID)

	h, err := e.History(ctx, gdpr)
	require.NoError(t, err)
	require.Len(t, h.Availabilities, 1)
	assert.Equal(t, "initial", h.Availabilities[0].Version)
	assert.Equal(t, ymd(2016, 4, 27), h.Availabilities[0].DateDocument)
	assert.True(t, h.Availabilities[0].Available)
	assert.Equal(t, map[string]map[string][]string{
		"COV":   {"initial": {"initial"}},
		"ART_1": {"initial": {"initial"}},
	}, h.Dedup.HiddenToExposed())
	assert.Equal(t, 2, s.Len())

	// relabel: identical content creates no stored objects
	res, err = e.Incorporate(ctx, edition(gdpr, "20190930", ymd(2019, 9, 30), "C1", "ART_1=body text"))
	require.NoError(t, err)
	assert.Empty(t, res.New)
	assert.Equal(t, []string{"COV", "ART_1"}, res.Relabeled)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, map[string]map[string][]string{
		"COV":   {"initial": {"initial", "20190930"}},
		"ART_1": {"initial": {"initial", "20190930"}},
	}, entries(t, e, gdpr))
	for _, subID := range []string{"COV", "ART_1"} {
		p := getPart(t, s, key(gdpr, subID, "initial"))
		assert.Equal(t, []string{"initial", "20190930"}, p.Common().Abstract.Version)
		assert.True(t, p.Common().Abstract.IsLatest)
	}

	// content change + deletion
	res, err = e.Incorporate(ctx, edition(gdpr, "20200101", ymd(2020, 1, 1), "C2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"COV"}, res.Changed)
	assert.Equal(t, []string{"ART_1"}, res.Obsoleted)
	assert.Equal(t, 3, s.Len())

	oldCover := getPart(t, s, key(gdpr, "COV", "initial")).Common().Abstract
	assert.False(t, oldCover.IsLatest)
	assert.Nil(t, oldCover.InForce, "cover in_force is document level")

	newCover := getPart(t, s, key(gdpr, "COV", "20200101"))
	assert.Equal(t, "C2", newCover.(*part.Cover).Title)
	assert.True(t, newCover.Common().Abstract.IsLatest)

	art := getPart(t, s, key(gdpr, "ART_1", "initial")).Common().Abstract
	assert.False(t, art.IsLatest)
	require.NotNil(t, art.InForce)
	assert.False(t, *art.InForce)

	changes, err := e.SubIDChange(ctx, gdpr, "20200101")
	require.NoError(t, err)
	assert.Equal(t, []Change{{SubID: "ART_1", Kind: ChangeDelete}}, changes)

	changes, err = e.SubIDChange(ctx, gdpr, "initial")
	require.NoError(t, err)
	assert.Equal(t, []Change{{SubID: "ART_1", Kind: ChangeInsert}}, changes)

	changes, err = e.SubIDChange(ctx, gdpr, "20190930")
	require.NoError(t, err)
	assert.Empty(t, changes)

	h, err = e.History(ctx, gdpr)
	require.NoError(t, err)
	require.NoError(t, h.Dedup.Validate())
}

func TestIncorporateClassifiesUpdates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(store.NewMemoryStore())

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one", "ART_2=two"))
	require.NoError(t, err)
	_, err = e.Incorporate(ctx, edition(gdpr, "20200101", ymd(2020, 1, 1), "C1", "ART_1=one amended", "ART_2=two", "ART_3=three"))
	require.NoError(t, err)

	changes, err := e.SubIDChange(ctx, gdpr, "20200101")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Change{
		{SubID: "ART_1", Kind: ChangeUpdate},
		{SubID: "ART_3", Kind: ChangeInsert},
	}, changes)
}

func TestIncorporateMarkupOnlyChangeIsRelabel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=body text"))
	require.NoError(t, err)

	next := edition(gdpr, "20190930", ymd(2019, 9, 30), "C1", "ART_1=body text")
	next.Articles[0].Body.Dressed = "<div><p>body <em>text</em></p></div>"
	res, err := e.Incorporate(ctx, next)
	require.NoError(t, err)
	assert.Contains(t, res.Relabeled, "ART_1")
	assert.Equal(t, 2, s.Len())
}

func TestIncorporateInlineMarkupSplitIsRelabel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=the controller shall"))
	require.NoError(t, err)

	next := edition(gdpr, "20190930", ymd(2019, 9, 30), "C1", "ART_1=the controller shall")
	next.Articles[0].Body.Dressed = "<p>the control<i>ler</i> shall</p>"
	res, err := e.Incorporate(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"COV", "ART_1"}, res.Relabeled)
	assert.Empty(t, res.Changed)
	assert.Equal(t, 2, s.Len())

	prior := getPart(t, s, key(gdpr, "ART_1", "initial"))
	assert.True(t, prior.Common().Abstract.IsLatest)
	assert.Nil(t, prior.Common().Abstract.InForce)
}

func TestIncorporateReportsFingerprints(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	res, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one", "ART_2=two"))
	require.NoError(t, err)
	require.Len(t, res.Fingerprints, 3)
	for _, subID := range []string{"COV", "ART_1", "ART_2"} {
		stored := getPart(t, s, key(gdpr, subID, "initial"))
		assert.Equal(t, stored.Fingerprint(), res.Fingerprints[subID], subID)
	}
	assert.NotEqual(t, res.Fingerprints["ART_1"], res.Fingerprints["ART_2"])

	again, err := e.Incorporate(ctx, edition(gdpr, "20190930", ymd(2019, 9, 30), "C1", "ART_1=one", "ART_2=changed"))
	require.NoError(t, err)
	assert.Equal(t, res.Fingerprints["ART_1"], again.Fingerprints["ART_1"])
	assert.NotEqual(t, res.Fingerprints["ART_2"], again.Fingerprints["ART_2"])
}

func TestIncorporateDuplicateLabel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=body"))
	require.NoError(t, err)
	before, err := e.History(ctx, gdpr)
	require.NoError(t, err)

	_, err = e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "other", "ART_1=changed"))
	assert.ErrorIs(t, err, ErrInconsistentHistory)

	after, err := e.History(ctx, gdpr)
	require.NoError(t, err)
	assert.Equal(t, before.Availabilities, after.Availabilities)
	assert.Equal(t, before.Dedup.Entries(), after.Dedup.Entries())
	assert.Equal(t, 2, s.Len())
}

func TestIncorporateValidatesCandidate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(store.NewMemoryStore())

	v := edition(gdpr, "initial", ymd(2016, 4, 27), "C1")
	v.DateDocument = nil
	_, err := e.Incorporate(ctx, v)
	assert.ErrorIs(t, err, ErrMissingDateDocument)

	v = edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=x")
	v.Articles[0].Abstract.IDLocal = "32013R0575"
	_, err = e.Incorporate(ctx, v)
	assert.ErrorIs(t, err, ErrDocumentMismatch)

	v = edition(gdpr, LatestAlias, ymd(2016, 4, 27), "C1")
	_, err = e.Incorporate(ctx, v)
	assert.ErrorIs(t, err, ErrInconsistentHistory)
}

func TestIncorporateRejectsRepeatedSubID(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one", "ART_1=other"))
	assert.ErrorIs(t, err, ErrInconsistentHistory)
	assert.Zero(t, s.Len())
	_, err = e.History(ctx, gdpr)
	assert.ErrorIs(t, err, ErrHistoryNotFound)

	_, err = e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one"))
	require.NoError(t, err)
	h, err := e.History(ctx, gdpr)
	require.NoError(t, err)
	assert.NoError(t, h.Dedup.Validate())
}

func TestIncorporateMarksCommittedFailures(t *testing.T) {
	ctx := context.Background()
	reset := errors.New("connection reset")
	s := &faultyStore{MemoryStore: store.NewMemoryStore()}
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one"))
	require.NoError(t, err)

	// before the merge: nothing reached the ledger
	s.mu.Lock()
	s.refreshes = 0
	s.failRefresh = func(n int) error {
		if n == 1 {
			return reset
		}
		return nil
	}
	s.mu.Unlock()
	_, err = e.Incorporate(ctx, edition(gdpr, "20200101", ymd(2020, 1, 1), "C2", "ART_1=one"))
	require.ErrorIs(t, err, reset)
	assert.NotErrorIs(t, err, ErrCommitted)

	// after the merge: the label is stored
	s.mu.Lock()
	s.refreshes = 0
	s.failRefresh = func(n int) error {
		if n == 2 {
			return reset
		}
		return nil
	}
	s.mu.Unlock()
	_, err = e.Incorporate(ctx, edition(gdpr, "20200101", ymd(2020, 1, 1), "C2", "ART_1=one"))
	require.ErrorIs(t, err, reset)
	assert.ErrorIs(t, err, ErrCommitted)

	h, err := e.History(ctx, gdpr)
	require.NoError(t, err)
	require.Len(t, h.Availabilities, 2)
	assert.Equal(t, "20200101", h.Availabilities[1].Version)
}

func TestRemoveLatestIsInverseOfIncorporate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=body"))
	require.NoError(t, err)
	before, err := e.History(ctx, gdpr)
	require.NoError(t, err)

	// identical content plus a brand-new slot
	_, err = e.Incorporate(ctx, edition(gdpr, "20190930", ymd(2019, 9, 30), "C1", "ART_1=body", "ART_2=new"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	require.NoError(t, e.RemoveLatest(ctx, gdpr))

	after, err := e.History(ctx, gdpr)
	require.NoError(t, err)
	assert.Equal(t, before.Availabilities, after.Availabilities)
	assert.Equal(t, before.Dedup.Entries(), after.Dedup.Entries())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"initial"}, getPart(t, s, key(gdpr, "ART_1", "initial")).Common().Abstract.Version)
}

func TestRemoveLatestRestoresDisplayFlag(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=body"))
	require.NoError(t, err)
	_, err = e.Incorporate(ctx, edition(gdpr, "20200101", ymd(2020, 1, 1), "C2", "ART_1=body"))
	require.NoError(t, err)
	assert.False(t, getPart(t, s, key(gdpr, "COV", "initial")).Common().Abstract.IsLatest)

	require.NoError(t, e.RemoveVersion(ctx, gdpr, "20200101"))
	assert.True(t, getPart(t, s, key(gdpr, "COV", "initial")).Common().Abstract.IsLatest)
	_, err = s.Get(ctx, key(gdpr, "COV", "20200101"))
	assert.True(t, store.IsNotFound(err))

	assert.ErrorIs(t, e.RemoveVersion(ctx, gdpr, "20200101"), ErrNotLatest)
}

func TestRemoveLastEditionPurges(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=body"))
	require.NoError(t, err)
	require.NoError(t, e.RemoveLatest(ctx, gdpr))

	assert.Zero(t, s.Len())
	_, err = e.History(ctx, gdpr)
	assert.ErrorIs(t, err, ErrHistoryNotFound)
}

func TestPurgeIsIdempotentAtTheBoundary(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=body"))
	require.NoError(t, err)
	_, err = e.Incorporate(ctx, edition(gdpr, "20200101", ymd(2020, 1, 1), "C2", "ART_1=changed"))
	require.NoError(t, err)

	require.NoError(t, e.Purge(ctx, gdpr))
	assert.Zero(t, s.Len())
	assert.ErrorIs(t, e.Purge(ctx, gdpr), ErrHistoryNotFound)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(store.NewMemoryStore())

	_, err := e.Incorporate(ctx, fullEdition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one", "ART_2=two"))
	require.NoError(t, err)
	_, err = e.Incorporate(ctx, fullEdition(gdpr, "20190930", ymd(2019, 9, 30), "C1", "ART_1=one", "ART_2=two b"))
	require.NoError(t, err)

	v, err := e.Resolve(ctx, gdpr, LatestAlias)
	require.NoError(t, err)
	assert.Equal(t, "20190930", v.Version)
	assert.Equal(t, ymd(2019, 9, 30), *v.DateDocument)
	require.Len(t, v.Articles, 2)
	assert.Equal(t, "ART_1", v.Articles[0].SubID)
	assert.Equal(t, "initial", v.Articles[0].HiddenVersion())
	assert.Equal(t, "20190930", v.Articles[1].HiddenVersion())
	require.Len(t, v.Definitions, 1)
	assert.NotNil(t, v.Contents)
	assert.NotNil(t, v.Preamble)

	v, err = e.Resolve(ctx, gdpr, "initial")
	require.NoError(t, err)
	assert.Equal(t, "initial", v.Articles[1].HiddenVersion())

	_, err = e.Resolve(ctx, gdpr, "19990101")
	assert.ErrorIs(t, err, ErrVersionNotAvailable)
	_, err = e.Resolve(ctx, part.DocID{Domain: "eu", IDLocal: "unknown"}, "initial")
	assert.ErrorIs(t, err, ErrVersionNotAvailable)

	require.NoError(t, e.InsertUnavailable(ctx, gdpr, "20210101", ymd(2021, 1, 1), ""))
	_, err = e.Resolve(ctx, gdpr, "20210101")
	assert.ErrorIs(t, err, ErrVersionNotAvailable)
}

func TestResolveRequiresStructuralParts(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(store.NewMemoryStore())

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one"))
	require.NoError(t, err)
	_, err = e.Resolve(ctx, gdpr, "initial")
	assert.ErrorIs(t, err, ErrIncompleteVersion)
}

func TestInsertUnavailable(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(store.NewMemoryStore())

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1"))
	require.NoError(t, err)
	_, err = e.Incorporate(ctx, edition(gdpr, "20200101", ymd(2020, 1, 1), "C2"))
	require.NoError(t, err)

	require.NoError(t, e.InsertUnavailable(ctx, gdpr, "20180101", ymd(2018, 1, 1), "initial"))
	assert.ErrorIs(t, e.InsertUnavailable(ctx, gdpr, "x", ymd(2018, 1, 1), "missing"), ErrLabelNotFound)
	assert.ErrorIs(t, e.InsertUnavailable(ctx, part.DocID{Domain: "eu", IDLocal: "nope"}, "x", ymd(2018, 1, 1), ""), ErrHistoryNotFound)

	h, err := e.History(ctx, gdpr)
	require.NoError(t, err)
	var labels []string
	for _, a := range h.Availabilities {
		labels = append(labels, a.Version)
	}
	assert.Equal(t, []string{"initial", "20180101", "20200101"}, labels)
	assert.False(t, h.Availabilities[1].Available)
	assert.Equal(t, "20200101", h.LatestAvailable(testToday))
}

func TestInForceConsistency(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one", "ART_2=two"))
	require.NoError(t, err)

	v, err := e.InForce(ctx, gdpr)
	require.NoError(t, err)
	assert.Nil(t, v)

	n, err := e.SetInForce(ctx, gdpr, part.Bool(true))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	v, err = e.InForce(ctx, gdpr)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, *v)

	// same value again touches nothing
	n, err = e.SetInForce(ctx, gdpr, part.Bool(true))
	require.NoError(t, err)
	assert.Zero(t, n)

	// new edition: only ART_2 changes; every atom of it stays consistent
	next := edition(gdpr, "20200101", ymd(2020, 1, 1), "C1", "ART_1=one", "ART_2=two amended")
	for _, p := range next.Parts() {
		p.Common().Abstract.InForce = part.Bool(true)
	}
	_, err = e.Incorporate(ctx, next)
	require.NoError(t, err)
	v, err = e.InForce(ctx, gdpr)
	require.NoError(t, err)
	assert.True(t, *v)

	// false cascades to the whole history
	_, err = e.SetInForce(ctx, gdpr, part.Bool(false))
	require.NoError(t, err)
	require.NoError(t, s.Scan(ctx, store.ForDocument(gdpr), func(p part.Part) error {
		in := p.Common().Abstract.InForce
		require.NotNil(t, in)
		assert.False(t, *in, p.Common().Key().String())
		return nil
	}))
}

func TestInForceDetectsMixedValues(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one"))
	require.NoError(t, err)
	_, err = e.SetInForce(ctx, gdpr, part.Bool(true))
	require.NoError(t, err)

	art := getPart(t, s, key(gdpr, "ART_1", "initial"))
	art.Common().Abstract.InForce = nil
	require.NoError(t, s.Save(ctx, art))
	require.NoError(t, s.Refresh(ctx))

	_, err = e.InForce(ctx, gdpr)
	assert.ErrorIs(t, err, ErrInconsistentInForce)
}

// faultyStore injects errors into Save and Refresh
type faultyStore struct {
	*store.MemoryStore
	mu          sync.Mutex
	saves       int
	refreshes   int
	failSave    func(p part.Part, attempt int) error
	failRefresh func(n int) error
}

func (f *faultyStore) Refresh(ctx context.Context) error {
	f.mu.Lock()
	f.refreshes++
	n := f.refreshes
	f.mu.Unlock()
	if f.failRefresh != nil {
		if err := f.failRefresh(n); err != nil {
			return err
		}
	}
	return f.MemoryStore.Refresh(ctx)
}

func (f *faultyStore) Save(ctx context.Context, p part.Part) error {
	f.mu.Lock()
	f.saves++
	attempt := f.saves
	f.mu.Unlock()
	if f.failSave != nil {
		if err := f.failSave(p, attempt); err != nil {
			return err
		}
	}
	return f.MemoryStore.Save(ctx, p)
}

func TestIncorporateRollsBackWhenNewContentFails(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("disk full")
	s := &faultyStore{MemoryStore: store.NewMemoryStore()}
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one"))
	require.NoError(t, err)
	before, err := e.History(ctx, gdpr)
	require.NoError(t, err)

	s.failSave = func(p part.Part, _ int) error {
		if p.Common().Key() == key(gdpr, "COV", "20200101") {
			return diskFull
		}
		return nil
	}
	_, err = e.Incorporate(ctx, edition(gdpr, "20200101", ymd(2020, 1, 1), "C2", "ART_1=one"))
	require.ErrorIs(t, err, diskFull)

	after, err := e.History(ctx, gdpr)
	require.NoError(t, err)
	assert.Equal(t, before.Availabilities, after.Availabilities)
	assert.Equal(t, before.Dedup.Entries(), after.Dedup.Entries())
	assert.True(t, getPart(t, s, key(gdpr, "COV", "initial")).Common().Abstract.IsLatest)
	assert.Equal(t, 2, s.Len())
}

func TestIncorporateRetriesTimeouts(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{MemoryStore: store.NewMemoryStore()}
	s.failSave = func(_ part.Part, attempt int) error {
		if attempt <= 2 {
			return store.ErrTimeout
		}
		return nil
	}
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one"))
	require.NoError(t, err)
	assert.Equal(t, 2, s.MemoryStore.Len())

	s.failSave = func(part.Part, int) error { return store.ErrTimeout }
	_, err = e.Incorporate(ctx, edition(gdpr, "20200101", ymd(2020, 1, 1), "C1", "ART_1=one", "ART_2=new"))
	assert.ErrorIs(t, err, store.ErrTimeout)
}

func TestIncorporateLeavesStoreRefreshed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one"))
	require.NoError(t, err)

	n := 0
	require.NoError(t, s.Scan(ctx, store.ForDocument(gdpr), func(part.Part) error {
		n++
		return nil
	}))
	assert.Equal(t, 2, n, "scan after incorporate must see every write")
}

func TestFutureEditionDoesNotBecomeLatestAvailable(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(store.NewMemoryStore())

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1", "ART_1=one"))
	require.NoError(t, err)
	_, err = e.Incorporate(ctx, edition(gdpr, "20300101", ymd(2030, 1, 1), "C2", "ART_1=future"))
	require.NoError(t, err)

	h, err := e.History(ctx, gdpr)
	require.NoError(t, err)
	assert.Equal(t, "initial", h.Latest(testToday))
	assert.Equal(t, "initial", h.LatestAvailable(testToday))

	listing, err := e.VersionsAvailability(ctx, gdpr, "ART_1")
	require.NoError(t, err)
	require.Len(t, listing, 2)
	assert.Equal(t, "", listing[0].Folder)
	assert.Equal(t, "initial", listing[0].ID)
	assert.Equal(t, "20300101", listing[1].Folder)
	assert.Equal(t, "27 April 2016", listing[0].Display)

	// the next edition compares against the latest available one, not the future one
	res, err := e.Incorporate(ctx, edition(gdpr, "20210101", ymd(2021, 1, 1), "C1", "ART_1=one"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"COV", "ART_1"}, res.Relabeled)
}

func TestBacklinksPropagate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s, WithRelations("https://lexparency.org"))
	dpd := part.DocID{Domain: "eu", IDLocal: "31995L0046"}

	_, err := e.Incorporate(ctx, edition(dpd, "initial", ymd(1995, 10, 24), "Data Protection Directive"))
	require.NoError(t, err)

	v := edition(gdpr, "initial", ymd(2016, 4, 27), "General Data Protection Regulation")
	v.Cover.PopAcronym = "GDPR"
	v.Cover.Repeals = []part.Anchor{{Href: "https://lexparency.org/eu/31995L0046/", Text: "DPD"}}
	_, err = e.Incorporate(ctx, v)
	require.NoError(t, err)

	target := getPart(t, s, key(dpd, "COV", "initial")).(*part.Cover)
	require.Len(t, target.RepealedBy, 1)
	assert.Equal(t, "https://lexparency.org/eu/32016R0679/", target.RepealedBy[0].Href)
	assert.Equal(t, "GDPR", target.RepealedBy[0].Text)

	// a second edition does not duplicate the backlink
	v = edition(gdpr, "20200101", ymd(2020, 1, 1), "General Data Protection Regulation")
	v.Cover.PopAcronym = "GDPR"
	v.Cover.Repeals = []part.Anchor{{Href: "https://lexparency.org/eu/31995L0046/", Text: "DPD"}}
	_, err = e.Incorporate(ctx, v)
	require.NoError(t, err)
	target = getPart(t, s, key(dpd, "COV", "initial")).(*part.Cover)
	assert.Len(t, target.RepealedBy, 1)
}

type recordingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return func() {}, nil
}

func TestMutationsTakeTheDocumentLock(t *testing.T) {
	ctx := context.Background()
	locker := &recordingLocker{}
	e := newTestEngine(store.NewMemoryStore(), WithLocker(locker))

	_, err := e.Incorporate(ctx, edition(gdpr, "initial", ymd(2016, 4, 27), "C1"))
	require.NoError(t, err)
	_, err = e.SetInForce(ctx, gdpr, part.Bool(true))
	require.NoError(t, err)
	require.NoError(t, e.Purge(ctx, gdpr))

	assert.Equal(t, []string{
		"lexstore:history:eu-32016R0679",
		"lexstore:history:eu-32016R0679",
		"lexstore:history:eu-32016R0679",
	}, locker.keys)
}
