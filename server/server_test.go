package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daveroberts0321/flagfilter/audience"
)

func testStore(t *testing.T) *audience.Store {
	t.Helper()
	f, err := audience.Decode([]byte(`audiences:
  - audienceId: testers
    name: QA Engineers
    filter: "user.email in ['james@qa.local', 'mike@qa.local']"
  - audienceId: adults
    name: Adults
    filter: "age >= 18"
flags:
  - flagId: maintenance
    name: Maintenance
    type: boolean
    value: false
  - flagId: limit
    name: Limit
    type: number
    value: 10
overrides:
  - overrideId: o1
    flagId: maintenance
    audienceId: testers
    type: boolean
    value: true
  - overrideId: o2
    flagId: limit
    audienceId: adults
    type: number
    value: 100
`))
	require.NoError(t, err)
	s := audience.NewStore()
	s.Replace(f)
	return s
}

func newServer(t *testing.T, opts Options) *Server {
	t.Helper()
	store := testStore(t)
	srv, err := New(store, audience.NewMatcher(store, 0, nil), opts)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func ids[T any](items []T, id func(T) string) []string {
	out := []string{}
	for _, it := range items {
		out = append(out, id(it))
	}
	return out
}

func TestHealth(t *testing.T) {
	rec := do(t, newServer(t, Options{}), "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestMatchAudiences(t *testing.T) {
	srv := newServer(t, Options{})
	before := matches.Value()
	rec := do(t, srv, "POST", "/api/match", `{"returns": "audiences", "context": {"user": {"email": "james@qa.local"}, "age": 30}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[[]audience.AudienceWithOverrides](t, rec)
	assert.Equal(t, []string{"testers", "adults"}, ids(got, func(a audience.AudienceWithOverrides) string { return a.AudienceID }))
	assert.Equal(t, before+1, matches.Value())
}

func TestMatchFlags(t *testing.T) {
	srv := newServer(t, Options{})
	rec := do(t, srv, "POST", "/api/match", `{"returns": "flags", "context": {"age": 17}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]audience.FlagWithOverrides](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, false, got[0].Value)
	assert.Equal(t, 10.0, got[1].Value)

	rec = do(t, srv, "POST", "/api/flags/evaluate", `{"context": {"age": 18}}`)
	got = decode[[]audience.FlagWithOverrides](t, rec)
	assert.Equal(t, 100.0, got[1].Value)
}

func TestMatchOverrides(t *testing.T) {
	srv := newServer(t, Options{})
	rec := do(t, srv, "POST", "/api/overrides/evaluate", `{"context": {"user": {"email": "mike@qa.local"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]audience.ExpandedOverride](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].OverrideID)
	assert.Equal(t, "Maintenance", got[0].Flag.Name)
	assert.Equal(t, "QA Engineers", got[0].Audience.Name)
}

func TestInvalidParams(t *testing.T) {
	srv := newServer(t, Options{})
	for _, body := range []string{
		``,
		`not json`,
		`{"returns": "users", "context": {}}`,
		`{"returns": "flags"}`,
		`{"returns": "flags", "context": []}`,
		`{"returns": "flags", "context": {}, "extra": 1}`,
		`{"returns": "flags", "context": {}} {}`,
	} {
		rec := do(t, srv, "POST", "/api/match", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "invalid params", decode[errorResponse](t, rec).Error, body)
	}
}

func TestAppHeaderSelectsApp(t *testing.T) {
	srv := newServer(t, Options{})
	rec := do(t, srv, "GET", "/api/audiences", "", AppHeader, "other")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = do(t, srv, "GET", "/api/audiences", "")
	assert.Len(t, decode[[]audience.AudienceWithOverrides](t, rec), 2)
}

func TestAPIKeys(t *testing.T) {
	srv := newServer(t, Options{APIKeys: map[string]string{"secret": audience.DefaultApp}})

	rec := do(t, srv, "GET", "/api/flags", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[errorResponse](t, rec).Error)

	rec = do(t, srv, "GET", "/api/flags", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, "GET", "/api/flags", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]audience.FlagWithOverrides](t, rec), 2)

	rec = do(t, srv, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAudienceCRUD(t *testing.T) {
	srv := newServer(t, Options{})

	rec := do(t, srv, "GET", "/api/audiences/testers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[audience.AudienceWithOverrides](t, rec)
	assert.Equal(t, "QA Engineers", got.Name)
	require.Len(t, got.Overrides, 1)
	assert.Equal(t, "maintenance", got.Overrides[0].Flag.FlagID)

	rec = do(t, srv, "GET", "/api/audiences/testrs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	nf := decode[errorResponse](t, rec)
	assert.Equal(t, "not found", nf.Error)
	assert.Equal(t, []string{"testers"}, nf.Suggestions)

	rec = do(t, srv, "POST", "/api/audiences", `{"audienceId": "dutch", "name": "Dutch", "description": null, "filter": "country = 'nl'"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[audience.AudienceWithOverrides](t, rec)
	assert.Equal(t, audience.DefaultApp, created.AppID)
	assert.NotEmpty(t, created.CreatedAt)
	assert.Empty(t, created.Overrides)

	rec = do(t, srv, "POST", "/api/audiences", `{"audienceId": "dutch", "name": "Dutch", "filter": "true"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already exists", decode[errorResponse](t, rec).Error)

	rec = do(t, srv, "POST", "/api/audiences", `{"audienceId": "broken", "name": "Broken", "filter": "age >"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, srv, "POST", "/api/audiences", `{"audienceId": "bad id", "name": "x", "filter": "true"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, "PUT", "/api/audiences/dutch", `{"name": "Netherlands", "filter": "country in ['nl', 'be']"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Netherlands", decode[audience.AudienceWithOverrides](t, rec).Name)

	rec = do(t, srv, "POST", "/api/audiences/evaluate", `{"context": {"country": "be"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	evaluated := decode[[]audience.AudienceWithOverrides](t, rec)
	assert.Equal(t, []string{"dutch"}, ids(evaluated, func(a audience.AudienceWithOverrides) string { return a.AudienceID }))

	rec = do(t, srv, "PUT", "/api/audiences/ghost", `{"name": "Ghost", "filter": "true"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, "DELETE", "/api/audiences/testers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "testers", decode[audience.AudienceWithOverrides](t, rec).AudienceID)

	rec = do(t, srv, "GET", "/api/overrides", "")
	assert.Len(t, decode[[]audience.ExpandedOverride](t, rec), 1)

	rec = do(t, srv, "DELETE", "/api/audiences/testers", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckFilter(t *testing.T) {
	srv := newServer(t, Options{})

	rec := do(t, srv, "POST", "/api/filters/check", `{"filter": "plan in ['pro','team'] and seats >= 5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ok := decode[checkResponse](t, rec)
	assert.True(t, ok.Valid)
	assert.Equal(t, `plan in ["pro", "team"] && seats >= 5`, ok.Filter)
	assert.Equal(t, []string{"plan", "seats"}, ok.Accessors)

	before := filterErrors.Value()
	rec = do(t, srv, "POST", "/api/filters/check", `{"filter": "a << 1.2"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	bad := decode[checkResponse](t, rec)
	assert.False(t, bad.Valid)
	assert.Equal(t, `token "<" should not follow node of type "comparison"`, bad.Error)
	require.NotNil(t, bad.Offset)
	assert.Equal(t, 3, *bad.Offset)
	assert.Equal(t, before+1, filterErrors.Value())
}

func TestRateLimit(t *testing.T) {
	srv := newServer(t, Options{RatePerSecond: 0.001, Burst: 2})
	for range 2 {
		assert.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/flags", "").Code)
	}
	rec := do(t, srv, "GET", "/api/flags", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/flags", "", AppHeader, "other").Code)
}

func TestOpenAPIAndMetrics(t *testing.T) {
	srv := newServer(t, Options{})
	rec := do(t, srv, "GET", "/api/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "/api/match:")

	rec = do(t, srv, "GET", "/debug/vars", "")
	require.Equal(t, http.StatusOK, rec.Code)
	vars := decode[map[string]json.RawMessage](t, rec)
	assert.Contains(t, vars, "flagfilter.requests")
	assert.Contains(t, vars, "flagfilter.respcode")
}

func TestRecoverPanics(t *testing.T) {
	srv := newServer(t, Options{})
	h := srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := do(t, h, "GET", "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode[errorResponse](t, rec).Error)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv := newServer(t, Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
