package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/lexstore/internal/metrics"
	"github.com/nainya/lexstore/internal/service"
	"github.com/nainya/lexstore/pkg/alias"
	"github.com/nainya/lexstore/pkg/history"
	"github.com/nainya/lexstore/pkg/store"
)

// httptest requests come from 192.0.2.1
const testHost = "192.0.2.1"

const secret = "admin-secret"

func edition(label, date, title string, articles ...string) string {
	var arts []string
	for _, a := range articles {
		subID, body, _ := strings.Cut(a, "=")
		arts = append(arts, `{"sub_id":"`+subID+`","abstract":{"domain":"eu","id_local":"32016R0679","version":[],"is_latest":false},"body":{"dressed":"<p>`+body+`</p>"}}`)
	}
	return `{
		"version": "` + label + `",
		"date_document": "` + date + `T00:00:00Z",
		"cover": {"sub_id":"COV","abstract":{"domain":"eu","id_local":"32016R0679","version":[],"is_latest":false},"title":"` + title + `"},
		"articles": [` + strings.Join(arts, ",") + `]
	}`
}

type fixture struct {
	router  http.Handler
	svc     *service.Service
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, trusted ...string) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	engine := history.NewEngine(st,
		history.WithClock(func() time.Time { return time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC) }),
		history.WithRetry(1, time.Millisecond),
	)
	aliases, err := alias.New(map[string]string{"32016R0679": "GDPR"})
	require.NoError(t, err)
	svc := service.New(engine, st, service.WithAliases(aliases))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := New(svc, NewGuard(trusted, secret), nil, m)
	return &fixture{router: h.Routes(), svc: svc, metrics: m}
}

func (f *fixture) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadAndHistory(t *testing.T) {
	f := newFixture(t, testHost)

	rec := f.do(http.MethodPost, "/eu/", edition("initial", "2016-04-27", "C1", "ART_1=one"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Uploaded to /eu/32016R0679/initial", rec.Body.String())

	rec = f.do(http.MethodPost, "/eu/", edition("20200101", "2020-01-01", "C2"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/eu/GDPR/_history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dh history.DocumentHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dh))
	assert.Len(t, dh.Availabilities, 2)

	rec = f.do(http.MethodGet, "/eu/32016R0679/20200101/_changes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"sub_id":"ART_1","change":"delete"}]`, rec.Body.String())

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.AdminRequestsTotal.WithLabelValues("/{domain}/", "2xx")))
}

func TestUploadErrors(t *testing.T) {
	f := newFixture(t, testHost)

	rec := f.do(http.MethodPost, "/de/", edition("initial", "2016-04-27", "C1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Inconsistent document domain")

	rec = f.do(http.MethodPost, "/eu/", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/eu/", edition("initial", "2016-04-27", "C1")).Code)
	rec = f.do(http.MethodPost, "/eu/", edition("initial", "2016-04-27", "C1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRemoveLatestAndPurge(t *testing.T) {
	f := newFixture(t, testHost)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/eu/", edition("initial", "2016-04-27", "C1", "ART_1=one")).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/eu/", edition("20200101", "2020-01-01", "C2", "ART_1=two")).Code)

	rec := f.do(http.MethodDelete, "/eu/32016R0679/initial", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodDelete, "/eu/32016R0679/20200101", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Deleted /eu/32016R0679/20200101", rec.Body.String())

	rec = f.do(http.MethodDelete, "/eu/GDPR/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "All versions of /eu/32016R0679/ deleted")

	rec = f.do(http.MethodDelete, "/eu/GDPR/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Seems like someone deleted it already", rec.Body.String())
}

func TestUnavailableAndMetadata(t *testing.T) {
	f := newFixture(t, testHost)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/eu/", edition("initial", "2016-04-27", "C1", "ART_1=one")).Code)

	rec := f.do(http.MethodPost, "/_unavailable/eu/32016R0679/20180525", `{"date_document":"2018-05-25"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/_unavailable/eu/32016R0679/20190101", `{"date_document":"2019-01-01","after":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/_unavailable/eu/32016R0679/20190101", `{"date_document":"01.01.2019"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPut, "/_metadata/eu/32016R0679/?in_force=False", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPut, "/_metadata/eu/32016R0679/?in_force=maybe", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPut, "/_metadata/eu/32016R0679/?title=x", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func token(t *testing.T, key string, expires time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "receiver",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expires)),
	})
	signed, err := tok.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestGuard(t *testing.T) {
	f := newFixture(t, "10.0.0.1")

	rec := f.do(http.MethodDelete, "/eu/32016R0679/", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodDelete, "/eu/32016R0679/", "", "Authorization", "Bearer "+token(t, "wrong", time.Minute))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodDelete, "/eu/32016R0679/", "", "Authorization", "Bearer "+token(t, secret, -time.Minute))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodDelete, "/eu/32016R0679/", "", "Authorization", "Bearer "+token(t, secret, time.Minute))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardWithoutSecret(t *testing.T) {
	h := NewGuard(nil, "").Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
