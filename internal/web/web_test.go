package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metacal/internal/catalog"
	"metacal/internal/config"
)

var fixedNow = time.Date(2024, 3, 1, 8, 50, 0, 0, time.UTC)

func newTestServer(t *testing.T, mutate func(*config.Config)) http.Handler {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	s := NewServer(cfg, cat)
	s.now = func() time.Time { return fixedNow }
	return s.Handler()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetas(t *testing.T) {
	h := newTestServer(t, nil)

	rec := get(t, h, "/api/metas")
	require.Equal(t, http.StatusOK, rec.Code)
	metas := decode[[]metaDTO](t, rec)
	assert.Len(t, metas, 27)
	assert.Equal(t, "day_and_night", metas[0].Key)

	rec = get(t, h, "/api/metas/dry_top")
	require.Equal(t, http.StatusOK, rec.Code)
	dt := decode[metaDTO](t, rec)
	assert.Equal(t, "Dry Top", dt.Name)
	assert.Equal(t, []eventDTO{
		{Name: "Crash Site", Offset: "00:00", FrequencyMinutes: 60, LengthMinutes: 40},
		{Name: "Sandstorm", Offset: "00:40", FrequencyMinutes: 60, LengthMinutes: 20},
	}, dt.Events)

	rec = get(t, h, "/api/metas/atlantis")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "atlantis")
}

func TestNow(t *testing.T) {
	h := newTestServer(t, nil)

	rec := get(t, h, "/api/metas/world_bosses/now")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[nowResponse](t, rec)
	assert.Equal(t, fixedNow, resp.At)
	require.NotNil(t, resp.Active)
	assert.Equal(t, "Fire Elemental", resp.Active.Name)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 45, 0, 0, time.UTC), resp.Active.Start)

	rec = get(t, h, "/api/metas/hard_world_bosses/now?at=2024-03-01T00:45:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[nowResponse](t, rec).Active)
	assert.Contains(t, rec.Body.String(), `"active":null`)

	rec = get(t, h, "/api/metas/world_bosses/now?at=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNext(t *testing.T) {
	h := newTestServer(t, nil)

	rec := get(t, h, "/api/metas/world_bosses/next?at=2024-03-01T08:41:00Z&n=3")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[nextResponse](t, rec)
	require.Len(t, resp.Occurrences, 3)
	assert.Equal(t, "Fire Elemental", resp.Occurrences[0].Name)
	assert.Equal(t, "Admiral Taidha Covington", resp.Occurrences[1].Name)
	assert.Equal(t, "Great Jungle Wurm", resp.Occurrences[2].Name)
	assert.Equal(t, "world_bosses", resp.Occurrences[2].Meta)

	rec = get(t, h, "/api/metas/world_bosses/next")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[nextResponse](t, rec).Occurrences, config.DefaultConfig().Upcoming)

	for _, n := range []string{"0", "501", "many"} {
		rec = get(t, h, "/api/metas/world_bosses/next?n="+n)
		assert.Equal(t, http.StatusBadRequest, rec.Code, n)
	}
}

func TestCalendar(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/metas/dry_top/calendar.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar"))

	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "DTSTART:20240301T004000Z")
	assert.Contains(t, body, "RRULE:FREQ=HOURLY")
}

func TestOccurrences(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) { cfg.Metas = []string{"dry_top"} })

	rec := get(t, h, "/api/occurrences?from=2024-03-01T10:50:00Z&to=2024-03-01T12:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[occurrencesResponse](t, rec)
	require.Len(t, resp.Occurrences, 3)
	assert.Equal(t, "Sandstorm", resp.Occurrences[0].Name)
	assert.Equal(t, "Crash Site", resp.Occurrences[1].Name)

	rec = get(t, h, "/api/occurrences?from=2024-03-01T08:41:00Z&to=2024-03-01T09:20:00Z&meta=world_bosses")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[occurrencesResponse](t, rec)
	require.Len(t, resp.Occurrences, 4)
	assert.Equal(t, "Claw of Jormag", resp.Occurrences[0].Name)

	rec = get(t, h, "/api/occurrences")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[occurrencesResponse](t, rec)
	assert.Equal(t, fixedNow, resp.RangeStart)
	assert.Equal(t, fixedNow.Add(24*time.Hour), resp.RangeEnd)
	assert.Len(t, resp.Occurrences, 49)
}

func TestOccurrencesBadRequests(t *testing.T) {
	h := newTestServer(t, nil)
	for _, target := range []string{
		"/api/occurrences?from=nope",
		"/api/occurrences?to=nope",
		"/api/occurrences?from=2024-03-02T00:00:00Z&to=2024-03-01T00:00:00Z",
		"/api/occurrences?from=2024-03-01T00:00:00Z&to=2024-05-01T00:00:00Z",
		"/api/occurrences?meta=dry_top,atlantis",
	} {
		rec := get(t, h, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.NotEmpty(t, decode[map[string]string](t, rec)["error"], target)
	}
}

func TestBasicAuth(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)

	rec := get(t, h, "/api/metas")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/metas", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/metas", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthDisabledWithEmptyCredentials(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin"}
	})
	assert.Equal(t, http.StatusOK, get(t, h, "/api/metas").Code)
}
