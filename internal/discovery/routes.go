package discovery

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/heos-hub-go/internal/api"
)

// RegisterRoutes wires discovery routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/discovery/devices", api.Handler(listDevices(service)))
}

// listDevices handles GET /v1/discovery/devices
func listDevices(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteList(w, "/v1/discovery/devices", service.Devices(), false)
	}
}
