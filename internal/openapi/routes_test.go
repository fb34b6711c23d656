package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	RegisterRoutes(router)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestOpenAPI_ServesEmbeddedYAML(t *testing.T) {
	rec := serve(t, "/v1/openapi")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/yaml; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "openapi: 3.0.3")
}

func TestOpenAPI_ServesJSON(t *testing.T) {
	rec := serve(t, "/v1/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "3.0.3", doc["openapi"])
	paths := doc["paths"].(map[string]any)
	require.Contains(t, paths, "/v1/players")
	require.Contains(t, paths, "/v1/events/stream")
}

func TestOpenAPI_PathOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("openapi: 3.1.0\npaths: {}\n"), 0o644))
	t.Setenv("OPENAPI_SPEC_PATH", path)

	rec := serve(t, "/v1/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"3.1.0"`)

	t.Setenv("OPENAPI_SPEC_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	rec = serve(t, "/v1/openapi")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
