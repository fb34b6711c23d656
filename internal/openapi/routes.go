// Package openapi serves the hub's OpenAPI document.
package openapi

import (
	_ "embed"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/strefethen/heos-hub-go/internal/api"
	"github.com/strefethen/heos-hub-go/internal/apperrors"
)

//go:embed heos-hub.v1.yaml
var embeddedSpec []byte

// RegisterRoutes wires OpenAPI routes to the router.
func RegisterRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/openapi", api.Handler(serveOpenAPIYAML()))
	router.Method(http.MethodGet, "/v1/openapi.json", api.Handler(serveOpenAPIJSON()))
}

// loadSpec returns the document named by OPENAPI_SPEC_PATH, or the embedded
// copy when the variable is unset.
func loadSpec() ([]byte, error) {
	if path := os.Getenv("OPENAPI_SPEC_PATH"); path != "" {
		return os.ReadFile(path)
	}
	return embeddedSpec, nil
}

func serveOpenAPIYAML() api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		spec, err := loadSpec()
		if err != nil {
			return apperrors.NewInternalError("Failed to read OpenAPI specification")
		}

		w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(spec)
		return nil
	}
}

func serveOpenAPIJSON() api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		spec, err := loadSpec()
		if err != nil {
			return apperrors.NewInternalError("Failed to read OpenAPI specification")
		}

		var parsed map[string]any
		if err := yaml.Unmarshal(spec, &parsed); err != nil {
			return apperrors.NewInternalError("Failed to parse OpenAPI specification")
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		return api.WriteJSON(w, http.StatusOK, parsed)
	}
}
