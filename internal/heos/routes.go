package heos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/heos-hub-go/internal/api"
	"github.com/strefethen/heos-hub-go/internal/apperrors"
	"github.com/strefethen/heos-hub-go/internal/heos/catalog"
	"github.com/strefethen/heos-hub-go/internal/heos/player"
	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

// RegisterRoutes wires player, source and discovery routes to the router.
// Rescans run through scanner so they serialize with background scans.
func RegisterRoutes(router chi.Router, manager *Manager, scanner *Scanner) {
	router.Method(http.MethodGet, "/v1/players", api.Handler(listPlayers(manager)))
	router.Method(http.MethodGet, "/v1/players/{player}", api.Handler(getPlayer(manager)))
	router.Method(http.MethodGet, "/v1/players/{player}/volume", api.Handler(getVolume(manager)))
	router.Method(http.MethodPut, "/v1/players/{player}/volume", api.Handler(setVolume(manager)))
	router.Method(http.MethodPost, "/v1/players/{player}/{command}", api.Handler(playerCommand(manager)))

	router.Method(http.MethodGet, "/v1/sources", api.Handler(listSources(manager)))
	router.Method(http.MethodGet, "/v1/sources/{sid}", api.Handler(getSource(manager)))
	router.Method(http.MethodGet, "/v1/sources/{sid}/containers/*", api.Handler(getContainer(manager)))

	router.Method(http.MethodPost, "/v1/discovery/rescan", api.Handler(rescan(manager, scanner)))
}

// listPlayers handles GET /v1/players
func listPlayers(manager *Manager) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		devices := manager.Devices()
		data := make([]playerResource, 0, len(devices))
		for _, device := range devices {
			data = append(data, formatPlayer(device.Snapshot()))
		}
		return api.WriteList(w, "/v1/players", data, false)
	}
}

// getPlayer handles GET /v1/players/{player}
func getPlayer(manager *Manager) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		device, err := lookupPlayer(manager, r)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatPlayer(device.Snapshot()))
	}
}

// getVolume handles GET /v1/players/{player}/volume
func getVolume(manager *Manager) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		device, err := lookupPlayer(manager, r)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object": "volume",
			"pid":    device.PID(),
			"level":  device.Volume(),
			"muted":  device.Muted(),
		})
	}
}

type setVolumeRequest struct {
	Level *int `json:"level"`
}

// setVolume handles PUT /v1/players/{player}/volume
func setVolume(manager *Manager) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		device, err := lookupPlayer(manager, r)
		if err != nil {
			return err
		}

		var req setVolumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("Invalid request body", nil)
		}
		if req.Level == nil {
			return apperrors.NewValidationError("level is required", map[string]any{"field": "level"})
		}
		if *req.Level < player.MinVolume || *req.Level > player.MaxVolume {
			return apperrors.NewValidationError("level must be between 0 and 100", map[string]any{
				"field": "level",
				"value": *req.Level,
			})
		}

		ok := device.SetVolume(r.Context(), *req.Level)
		return writeCommandResult(w, device, "set_volume", ok)
	}
}

// playerCommand handles POST /v1/players/{player}/{command}
func playerCommand(manager *Manager) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		device, err := lookupPlayer(manager, r)
		if err != nil {
			return err
		}

		command := chi.URLParam(r, "command")
		ctx := r.Context()
		var ok bool
		switch command {
		case "play", "pause", "stop":
			ok = device.SetPlayState(ctx, command)
		case "volume_up":
			ok = device.VolumeUp(ctx, stepParam(r))
		case "volume_down":
			ok = device.VolumeDown(ctx, stepParam(r))
		case "next":
			ok = device.NextTrack(ctx)
		case "prev":
			ok = device.PreviousTrack(ctx)
		case "mute":
			ok = device.SetMute(ctx, true)
		case "unmute":
			ok = device.SetMute(ctx, false)
		default:
			return apperrors.NewInvalidCommand(command)
		}
		return writeCommandResult(w, device, command, ok)
	}
}

// listSources handles GET /v1/sources
func listSources(manager *Manager) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		sources := manager.Sources()
		data := make([]map[string]any, 0, len(sources))
		for _, source := range sources {
			data = append(data, catalog.Describe(source))
		}
		return api.WriteList(w, "/v1/sources", data, false)
	}
}

// getSource handles GET /v1/sources/{sid}. ?refresh=true re-reads
// availability from the player first.
func getSource(manager *Manager) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		source, err := lookupSource(manager, r)
		if err != nil {
			return err
		}
		if r.URL.Query().Get("refresh") == "true" {
			if err := source.Refresh(r.Context()); err != nil {
				return deviceError(err)
			}
		}
		return api.WriteResource(w, http.StatusOK, catalog.Describe(source))
	}
}

// getContainer handles GET /v1/sources/{sid}/containers/*. The container is
// browsed one level before it is described.
func getContainer(manager *Manager) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		sidParam := chi.URLParam(r, "sid")
		sid, err := strconv.Atoi(sidParam)
		if err != nil {
			return apperrors.NewValidationError("sid must be an integer", map[string]any{"sid": sidParam})
		}
		cid := chi.URLParam(r, "*")

		container, err := manager.ResolveContainer(sid, cid)
		switch {
		case errors.Is(err, ErrSourceNotFound):
			return apperrors.NewSourceNotFound(sidParam)
		case errors.Is(err, ErrContainerNotFound):
			return apperrors.NewContainerNotFound(sidParam, cid)
		case err != nil:
			return err
		}

		// one level below the children, so grandchildren are listed too
		if err := container.Browse(r.Context(), 1); err != nil {
			return deviceError(err)
		}
		return api.WriteResource(w, http.StatusOK, catalog.Describe(container))
	}
}

// rescan handles POST /v1/discovery/rescan
func rescan(manager *Manager, scanner *Scanner) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		scan := scanner.Scan(r.Context())
		if scan.DiscoveryErr != nil && len(scan.Hosts) == 0 {
			return apperrors.NewAppError(apperrors.ErrorCodeHeosUnreachable, "Discovery failed: "+scan.DiscoveryErr.Error(), http.StatusBadGateway, nil, nil)
		}

		result := map[string]any{
			"object":        "rescan",
			"hosts":         scan.Hosts,
			"players_total": len(manager.Devices()),
			"players_added": scan.PlayersAdded,
			"sources_total": len(manager.Sources()),
			"watch_state":   manager.WatchState().String(),
		}
		if scan.DiscoveryErr != nil {
			result["discovery_error"] = scan.DiscoveryErr.Error()
		}
		if scan.ScanErr != nil {
			result["error"] = scan.ScanErr.Error()
		}
		if scan.WatchErr != nil {
			result["watch_error"] = scan.WatchErr.Error()
		}
		return api.WriteAction(w, http.StatusOK, result)
	}
}

func lookupPlayer(manager *Manager, r *http.Request) (*player.Device, error) {
	ref := chi.URLParam(r, "player")
	device, err := manager.LookupDevice(ref)
	if err != nil {
		return nil, apperrors.NewDeviceNotFound(ref)
	}
	return device, nil
}

func lookupSource(manager *Manager, r *http.Request) (*catalog.Source, error) {
	sidParam := chi.URLParam(r, "sid")
	sid, err := strconv.Atoi(sidParam)
	if err != nil {
		return nil, apperrors.NewValidationError("sid must be an integer", map[string]any{"sid": sidParam})
	}
	source, ok := manager.SourceByID(sid)
	if !ok {
		return nil, apperrors.NewSourceNotFound(sidParam)
	}
	return source, nil
}

func stepParam(r *http.Request) int {
	step, err := strconv.Atoi(r.URL.Query().Get("step"))
	if err != nil || step <= 0 {
		return player.DefaultVolumeStep
	}
	return step
}

// deviceError maps protocol failures onto HTTP errors.
func deviceError(err error) error {
	var transportErr *protocol.TransportError
	var rejected *protocol.CommandRejectedError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewAppError(apperrors.ErrorCodeHeosTimeout, "Player did not answer in time", http.StatusGatewayTimeout, nil, nil)
	case errors.As(err, &transportErr):
		return apperrors.NewAppError(apperrors.ErrorCodeHeosUnreachable, transportErr.Error(), http.StatusBadGateway, map[string]any{"host": transportErr.Host}, nil)
	case errors.As(err, &rejected):
		return apperrors.NewAppError(apperrors.ErrorCodeHeosRejected, rejected.Error(), http.StatusBadGateway, nil, nil)
	default:
		return apperrors.NewAppError(apperrors.ErrorCodeHeosProtocol, err.Error(), http.StatusBadGateway, nil, nil)
	}
}

func writeCommandResult(w http.ResponseWriter, device *player.Device, command string, ok bool) error {
	return api.WriteAction(w, http.StatusOK, map[string]any{
		"object":     "player_command",
		"pid":        device.PID(),
		"command":    command,
		"successful": ok,
		"player":     formatPlayer(device.Snapshot()),
	})
}

type playerResource struct {
	Object string `json:"object"`
	player.Snapshot
}

func formatPlayer(snapshot player.Snapshot) playerResource {
	return playerResource{Object: "player", Snapshot: snapshot}
}
