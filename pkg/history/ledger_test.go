package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/lexstore/pkg/part"
)

func ymd(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLedgerAppendRejectsDuplicates(t *testing.T) {
	var l Ledger
	require.NoError(t, l.Append(Availability{Version: "initial", DateDocument: ymd(2016, 4, 27), Available: true}))
	err := l.Append(Availability{Version: "initial", DateDocument: ymd(2017, 1, 1), Available: true})
	assert.ErrorIs(t, err, ErrInconsistentHistory)
	assert.Len(t, l, 1)
}

func TestLedgerLatestSkipsFuture(t *testing.T) {
	today := ymd(2021, 6, 1)
	l := Ledger{
		{Version: "initial", DateDocument: ymd(2016, 4, 27), Available: true},
		{Version: "20200101", DateDocument: ymd(2020, 1, 1), Available: false},
		{Version: "20300101", DateDocument: ymd(2030, 1, 1), Available: true},
	}

	latest, ok := l.Latest(today)
	require.True(t, ok)
	assert.Equal(t, "20200101", latest.Version)

	avail, ok := l.LatestAvailable(today)
	require.True(t, ok)
	assert.Equal(t, "initial", avail.Version)

	assert.Equal(t, []string{"initial", "20300101"}, l.AvailableLabels())
}

func TestLedgerLatestAvailableFallsBackToFuture(t *testing.T) {
	today := ymd(2021, 6, 1)
	l := Ledger{{Version: "20300101", DateDocument: ymd(2030, 1, 1), Available: true}}

	_, ok := l.Latest(today)
	assert.False(t, ok)
	avail, ok := l.LatestAvailable(today)
	require.True(t, ok)
	assert.Equal(t, "20300101", avail.Version)

	var empty Ledger
	_, ok = empty.LatestAvailable(today)
	assert.False(t, ok)
}

func TestLedgerLatestIgnoresClockTime(t *testing.T) {
	l := Ledger{{Version: "v", DateDocument: ymd(2021, 6, 1), Available: true}}
	lateEvening := time.Date(2021, 6, 1, 23, 59, 0, 0, time.UTC)
	_, ok := l.Latest(lateEvening)
	assert.True(t, ok)
}

func TestLedgerInsertUnavailable(t *testing.T) {
	l := Ledger{
		{Version: "a", Available: true},
		{Version: "c", Available: true},
	}
	require.NoError(t, l.InsertUnavailable("b", ymd(2020, 1, 1), "a"))
	require.NoError(t, l.InsertUnavailable("d", ymd(2022, 1, 1), ""))

	var labels []string
	for _, a := range l {
		labels = append(labels, a.Version)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, labels)
	assert.False(t, l[1].Available)

	assert.ErrorIs(t, l.InsertUnavailable("x", ymd(2020, 1, 1), "missing"), ErrLabelNotFound)
	assert.ErrorIs(t, l.InsertUnavailable("b", ymd(2020, 1, 1), ""), ErrInconsistentHistory)
}

func TestDedupLookupsFollowMutations(t *testing.T) {
	m := NewDedupMap()
	m.Add("COV", "initial")
	m.Add("ART_1", "initial")

	_, ok := m.HiddenFor("ART_1", "v2")
	assert.False(t, ok)

	require.NoError(t, m.Expose("ART_1", "initial", "v2"))
	hidden, ok := m.HiddenFor("ART_1", "v2")
	require.True(t, ok)
	assert.Equal(t, "initial", hidden)
	assert.Equal(t, []string{"initial", "v2"}, m.HiddenToExposed()["ART_1"]["initial"])

	m.Add("COV", "v2")
	assert.Equal(t, map[string]string{"COV": "v2", "ART_1": "initial"}, m.Resolve("v2"))
	assert.Equal(t, []string{"COV", "ART_1"}, m.SubIDs())
	require.NoError(t, m.Validate())

	assert.ErrorIs(t, m.Expose("ART_9", "initial", "v3"), ErrInconsistentHistory)
}

func TestDedupRetract(t *testing.T) {
	m := NewDedupMap(
		Entry{SubID: "COV", HiddenVersion: "initial", ExposedVersions: []string{"initial", "v2"}},
		Entry{SubID: "ART_1", HiddenVersion: "initial", ExposedVersions: []string{"initial"}},
		Entry{SubID: "ART_2", HiddenVersion: "v2", ExposedVersions: []string{"v2"}},
	)
	dropped := m.Retract("v2")
	require.Len(t, dropped, 1)
	assert.Equal(t, "ART_2", dropped[0].SubID)
	assert.Equal(t, []Entry{
		{SubID: "COV", HiddenVersion: "initial", ExposedVersions: []string{"initial"}},
		{SubID: "ART_1", HiddenVersion: "initial", ExposedVersions: []string{"initial"}},
	}, m.Entries())
	_, ok := m.HiddenFor("COV", "v2")
	assert.False(t, ok)
}

func TestDedupValidateRejectsOverlap(t *testing.T) {
	m := NewDedupMap(
		Entry{SubID: "ART_1", HiddenVersion: "a", ExposedVersions: []string{"a", "b"}},
		Entry{SubID: "ART_1", HiddenVersion: "b", ExposedVersions: []string{"b"}},
	)
	assert.ErrorIs(t, m.Validate(), ErrInconsistentHistory)

	m = NewDedupMap(Entry{SubID: "ART_1", HiddenVersion: "a", ExposedVersions: []string{"b"}})
	assert.ErrorIs(t, m.Validate(), ErrInconsistentHistory)
}

func TestDocumentHistoryJSON(t *testing.T) {
	h := NewDocumentHistory(part.DocID{Domain: "eu", IDLocal: "32016R0679"})
	require.NoError(t, h.Availabilities.Append(Availability{Version: "initial", DateDocument: ymd(2016, 4, 27), Available: true}))
	h.Dedup.Add("COV", "initial")

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"exposed_and_hidden":[{"sub_id":"COV","hidden_version":"initial","exposed_versions":["initial"]}]`)

	var back DocumentHistory
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, h.Doc, back.Doc)
	assert.Equal(t, h.Dedup.Entries(), back.Dedup.Entries())
	assert.Equal(t, "initial", back.Availabilities[0].Version)
}

func TestDocumentVersionJSONDefaultsAvailable(t *testing.T) {
	var v DocumentVersion
	require.NoError(t, json.Unmarshal([]byte(`{
		"version": "initial",
		"date_document": "2016-04-27T00:00:00Z",
		"cover": {"sub_id": "COV", "abstract": {"domain": "eu", "id_local": "32016R0679", "version": ["initial"], "is_latest": false}, "source_iri": "x", "source_url": "y"},
		"articles": [{"sub_id": "ART_1", "abstract": {"domain": "eu", "id_local": "32016R0679", "is_latest": false}, "body": {"stripped": "text"}}]
	}`), &v))
	assert.True(t, v.Available)
	assert.Equal(t, part.DocID{Domain: "eu", IDLocal: "32016R0679"}, v.Doc())
	assert.Len(t, v.Parts(), 2)
}
