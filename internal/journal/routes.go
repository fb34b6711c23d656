package journal

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/heos-hub-go/internal/api"
	"github.com/strefethen/heos-hub-go/internal/apperrors"
)

// RegisterRoutes wires journal routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/events/history", api.Handler(listEntries(service)))
	router.Method(http.MethodGet, "/v1/events/history/{event_id}", api.Handler(getEntry(service)))
}

// listEntries handles GET /v1/events/history
func listEntries(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		filter, err := parseFilter(r)
		if err != nil {
			return err
		}

		entries, _, hasMore, err := service.List(filter)
		if err != nil {
			return apperrors.NewInternalError("Failed to query event history")
		}

		data := make([]map[string]any, 0, len(entries))
		for i := range entries {
			data = append(data, formatEntry(&entries[i]))
		}
		return api.WriteList(w, "/v1/events/history", data, hasMore)
	}
}

// getEntry handles GET /v1/events/history/{event_id}
func getEntry(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		eventID := chi.URLParam(r, "event_id")
		entry, err := service.Get(eventID)
		if err != nil {
			var notFound *EntryNotFoundError
			if errors.As(err, &notFound) {
				return apperrors.NewNotFoundResource("event", eventID)
			}
			return apperrors.NewInternalError("Failed to get event")
		}
		return api.WriteResource(w, http.StatusOK, formatEntry(entry))
	}
}

func parseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	filter := Filter{
		Event: query.Get("event"),
		Host:  query.Get("host"),
	}

	if value := query.Get("pid"); value != "" {
		pid, err := strconv.Atoi(value)
		if err != nil {
			return Filter{}, apperrors.NewValidationError("pid must be an integer", map[string]any{"pid": value})
		}
		filter.PID = &pid
	}
	if value := query.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 1 {
			return Filter{}, apperrors.NewValidationError("limit must be a positive integer", map[string]any{"limit": value})
		}
		filter.Limit = limit
	}
	if value := query.Get("offset"); value != "" {
		offset, err := strconv.Atoi(value)
		if err != nil || offset < 0 {
			return Filter{}, apperrors.NewValidationError("offset must be a non-negative integer", map[string]any{"offset": value})
		}
		filter.Offset = offset
	}
	for _, bound := range []struct {
		key    string
		target **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		value := query.Get(bound.key)
		if value == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return Filter{}, apperrors.NewValidationError(bound.key+" must be an RFC 3339 timestamp", map[string]any{bound.key: value})
		}
		*bound.target = &parsed
	}
	return filter, nil
}

func formatEntry(entry *Entry) map[string]any {
	result := map[string]any{
		"object":      "event",
		"id":          entry.EventID,
		"received_at": entry.ReceivedAt.UTC().Format(time.RFC3339Nano),
		"host":        entry.Host,
		"event":       entry.Event,
		"command":     entry.Command,
		"message":     entry.Message,
		"heos":        entry.Heos,
	}
	if entry.PID != nil {
		result["pid"] = *entry.PID
	} else {
		result["pid"] = nil
	}
	return result
}
