package harvest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/mcpharvest/harvest/internal/store"
)

func doRequest(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedServers(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	for _, s := range []*store.Server{
		{URL: "https://github.com/a/low", StarCount: 5, Tags: []string{"files"}, Detail: store.ServerDetail{Name: "low", Description: "reads files", Command: "npx"}},
		{URL: "https://github.com/a/high", StarCount: 500, Tags: []string{"search", "web"}, Detail: store.ServerDetail{Name: "high", Description: "web search", Command: "uvx"}},
	} {
		require.NoError(t, svc.store.InsertServer(ctx, s))
	}
}

func TestHTTP_Health(t *testing.T) {
	svc := setupService(t, &stubForge{})
	rec := doRequest(t, svc.Routes(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHTTP_ListServers(t *testing.T) {
	// WHAT: Servers come back most starred first and filters apply.
	svc := setupService(t, &stubForge{})
	seedServers(t, svc)
	h := svc.Routes()

	rec := doRequest(t, h, http.MethodGet, "/api/servers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []store.Server
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "high", all[0].Detail.Name)

	rec = doRequest(t, h, http.MethodGet, "/api/servers?tag=files", "")
	var tagged []store.Server
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tagged))
	require.Len(t, tagged, 1)
	assert.Equal(t, "low", tagged[0].Detail.Name)

	rec = doRequest(t, h, http.MethodGet, "/api/servers?min_stars=100&q=search", "")
	var starred []store.Server
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &starred))
	require.Len(t, starred, 1)
	assert.Equal(t, "high", starred[0].Detail.Name)

	rec = doRequest(t, h, http.MethodGet, "/api/servers?limit=-4", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_GetServer(t *testing.T) {
	svc := setupService(t, &stubForge{})
	seedServers(t, svc)
	h := svc.Routes()

	rec := doRequest(t, h, http.MethodGet, "/api/servers/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var srv store.Server
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &srv))
	assert.Equal(t, "high", srv.Detail.Name)

	rec = doRequest(t, h, http.MethodGet, "/api/servers/by-url?url="+url.QueryEscape("https://github.com/a/low.git"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &srv))
	assert.Equal(t, "low", srv.Detail.Name)

	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodGet, "/api/servers/77", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodGet, "/api/servers/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodGet, "/api/servers/by-url", "").Code)
}

func TestHTTP_TagsAndStats(t *testing.T) {
	svc := setupService(t, &stubForge{})
	ctx := context.Background()
	_, err := svc.store.InsertTag(ctx, "web")
	require.NoError(t, err)
	h := svc.Routes()

	rec := doRequest(t, h, http.MethodGet, "/api/tags", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tag":"web"`)

	rec = doRequest(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Tags)
}

func TestHTTP_AdminAuth(t *testing.T) {
	// WHAT: Admin routes need the bearer token matching the bcrypt hash.
	svc := setupService(t, &stubForge{})
	h := svc.Routes()

	rec := doRequest(t, h, http.MethodPost, "/api/admin/intake", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = doRequest(t, h, http.MethodPost, "/api/admin/intake", "not-the-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/admin/intake", adminToken)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())
}

func TestHTTP_AdminTriggers(t *testing.T) {
	svc := setupService(t, &stubForge{})
	h := svc.Routes()

	// Triggers run in the background; wait for the stage lock to free up.
	post := func(target string) int {
		var code int
		require.Eventually(t, func() bool {
			code = doRequest(t, h, http.MethodPost, target, adminToken).Code
			return code != http.StatusConflict
		}, 5*time.Second, 10*time.Millisecond)
		return code
	}

	assert.Equal(t, http.StatusAccepted, post("/api/admin/discover/0"))
	assert.Equal(t, http.StatusAccepted, post("/api/admin/intake"))
	assert.Equal(t, http.StatusAccepted, post("/api/admin/enrich"))
	assert.Equal(t, http.StatusAccepted, post("/api/admin/run?facet=1"))
	assert.Equal(t, http.StatusBadRequest, post("/api/admin/discover/9"))
	assert.Equal(t, http.StatusBadRequest, post("/api/admin/discover/x"))
	assert.Equal(t, http.StatusNotFound, post("/api/admin/enrich/srv-nope"))

	require.NoError(t, svc.Close())
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Servers)

	rec := doRequest(t, h, http.MethodGet, "/api/admin/runs?limit=10", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []store.RunLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 4)
	stages := map[string]bool{}
	for _, l := range logs {
		stages[l.Stage] = true
		assert.Equal(t, "admin", l.Trigger)
		assert.Equal(t, "http", l.Transport)
		assert.NotEmpty(t, l.RequestID)
	}
	assert.Equal(t, map[string]bool{"discovery": true, "intake": true, "enrichment": true, "run": true}, stages)
}

func TestHTTP_AdminBusy(t *testing.T) {
	f := &stubForge{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := setupService(t, f)
	h := svc.Routes()

	rec := doRequest(t, h, http.MethodPost, "/api/admin/run", adminToken)
	require.Equal(t, http.StatusAccepted, rec.Code)
	<-f.entered

	rec = doRequest(t, h, http.MethodPost, "/api/admin/intake", adminToken)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "in progress"))
	close(f.gate)
}
