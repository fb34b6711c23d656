package system

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/heos-hub-go/internal/api"
)

// RegisterRoutes wires system routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(getSystemInfo(service)))
	router.Method(http.MethodGet, "/v1/system/attention", api.Handler(getAttention(service)))
}

// getSystemInfo handles GET /v1/system/info
func getSystemInfo(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteResource(w, http.StatusOK, formatSystemInfo(service.GetSystemInfo()))
	}
}

// getAttention handles GET /v1/system/attention
func getAttention(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteList(w, "/v1/system/attention", service.GetAttentionItems(), false)
	}
}

func formatSystemInfo(info *SystemInfo) map[string]any {
	result := map[string]any{
		"object":            "system_info",
		"hub_version":       info.HubVersion,
		"uptime_seconds":    info.Uptime,
		"memory_mb":         info.MemoryUsageMB,
		"players_total":     info.PlayersTotal,
		"players_healthy":   info.PlayersHealthy,
		"sources_total":     info.SourcesTotal,
		"event_watch_state": info.WatchState,
		"event_subscribers": info.EventSubscribers,
		"journal_running":   info.JournalRunning,
	}

	if info.LastDiscovery != nil {
		result["last_discovery"] = info.LastDiscovery.UTC().Format(time.RFC3339)
	} else {
		result["last_discovery"] = nil
	}

	return result
}
