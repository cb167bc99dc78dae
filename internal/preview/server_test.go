package preview

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurisko/demosite/internal/registry"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("index.html", "<h1>landing</h1>")
	write("acme-co/index.html", "<h1>Acme Co</h1>")
	write(".demosite/config.yaml", "summary:\n  api_key: secret\n")
	write("assets/sites.json", `{"updated":"2026-10-19","sites":[{"id":"acme-co","name":"Acme Co","description":"","tag":"Demo","logoUrl":"","path":"/acme-co/","archived":false}]}`)

	store := registry.NewStore(filepath.Join(root, "assets", "sites.json"), registry.DefaultOptions())
	s, err := New(Config{Root: root, Store: store})
	require.NoError(t, err)
	return s, root
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_RequiresRootAndStore(t *testing.T) {
	_, err := New(Config{Store: registry.NewStore("sites.json", registry.DefaultOptions())})
	require.Error(t, err)
	_, err = New(Config{Root: t.TempDir()})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestSites(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/api/sites")
	require.Equal(t, http.StatusOK, rec.Code)

	var reg registry.Registry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reg))
	require.Len(t, reg.Sites, 1)
	assert.Equal(t, "acme-co", reg.Sites[0].ID)
}

func TestSites_FollowsFileChanges(t *testing.T) {
	s, root := newTestServer(t)
	h := s.Handler()
	require.Equal(t, http.StatusOK, get(t, h, "/api/sites").Code)
	require.Equal(t, 1, s.sites.ItemCount())

	require.NoError(t, os.WriteFile(filepath.Join(root, "assets", "sites.json"), []byte(`{"updated":"2026-10-20","sites":[]}`), 0o644))
	rec := get(t, h, "/api/sites")
	require.Equal(t, http.StatusOK, rec.Code)

	var reg registry.Registry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reg))
	assert.Empty(t, reg.Sites)
	assert.Equal(t, "2026-10-20", reg.Updated)
}

func TestSites_CorruptRegistry(t *testing.T) {
	s, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "assets", "sites.json"), []byte("{not json"), 0o644))

	rec := get(t, s.Handler(), "/api/sites")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "CorruptRegistry", body.Kind)
}

func TestStaticFiles(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := get(t, h, "/acme-co/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Acme Co")

	rec = get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "landing")
}

func TestStaticFiles_HidesDotfiles(t *testing.T) {
	s, root := newTestServer(t)
	h := s.Handler()

	rec := get(t, h, "/.demosite/config.yaml")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	// directory listing of a folder without index.html
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets", ".stage-x"), 0o755))
	rec = get(t, h, "/assets/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sites.json")
	assert.NotContains(t, rec.Body.String(), ".stage-x")
}

func TestIsHidden(t *testing.T) {
	assert.True(t, isHidden("/.git/config"))
	assert.True(t, isHidden("/acme-co/.env"))
	assert.False(t, isHidden("/acme-co/index.html"))
	assert.False(t, isHidden("/"))
}

func TestServe_StopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/health")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"ok"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
