package events

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/strefethen/heos-hub-go/internal/heos/player"
)

// Registry is the view of the device registry the watcher needs.
type Registry interface {
	DeviceByPID(pid int) (*player.Device, bool)
	DeviceHosts() []string
}

// DefaultFetchTimeout bounds the follow-up query some events require.
const DefaultFetchTimeout = 5 * time.Second

type applyFunc func(ctx context.Context, device *player.Device, args []string) error

// route maps an event to a device update. params are read from the message
// in order and passed to apply.
type route struct {
	params []string
	apply  applyFunc
}

// Dispatcher applies events to the device they name.
type Dispatcher struct {
	registry     Registry
	routes       map[string]route
	fetchTimeout time.Duration
	logger       *log.Logger
}

func NewDispatcher(registry Registry, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		registry:     registry,
		routes:       dispatchTable(),
		fetchTimeout: DefaultFetchTimeout,
		logger:       logger,
	}
}

func dispatchTable() map[string]route {
	return map[string]route{
		"player_state_changed": {
			params: []string{"state"},
			apply: func(_ context.Context, d *player.Device, args []string) error {
				return d.ApplyPlayStateChanged(args[0])
			},
		},
		"player_volume_changed": {
			params: []string{"level", "mute"},
			apply: func(_ context.Context, d *player.Device, args []string) error {
				return d.ApplyVolumeChanged(args[0], args[1])
			},
		},
		"player_now_playing_changed": {
			apply: func(ctx context.Context, d *player.Device, _ []string) error {
				payload, err := d.FetchNowPlaying(ctx)
				if err != nil {
					return err
				}
				return d.ApplyNowPlayingChanged(payload)
			},
		},
		"player_now_playing_progress": {
			params: []string{"cur_pos", "duration"},
			apply: func(_ context.Context, d *player.Device, args []string) error {
				return d.ApplyProgress(args[0], args[1])
			},
		},
		"repeat_mode_changed": {
			params: []string{"repeat"},
			apply: func(_ context.Context, d *player.Device, args []string) error {
				return d.ApplyRepeatModeChanged(args[0])
			},
		},
		"shuffle_mode_changed": {
			params: []string{"shuffle"},
			apply: func(_ context.Context, d *player.Device, args []string) error {
				return d.ApplyShuffleModeChanged(args[0])
			},
		},
	}
}

// Handles reports whether name has a device update.
func (d *Dispatcher) Handles(name string) bool {
	_, ok := d.routes[name]
	return ok
}

// Events lists the handled event names in sorted order.
func (d *Dispatcher) Events() []string {
	names := make([]string, 0, len(d.routes))
	for name := range d.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch applies ev to its device. Events without a route and events for
// an unknown pid are skipped and return nil. A missing or unparseable
// parameter returns an error; the device is left unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	r, ok := d.routes[ev.Name]
	if !ok {
		return nil
	}

	pid, err := ev.Message.Int("pid")
	if err != nil {
		return fmt.Errorf("%s: %w", ev.Name, err)
	}
	device, ok := d.registry.DeviceByPID(pid)
	if !ok {
		d.logger.Printf("WATCH: %s for unknown pid %d ignored", ev.Name, pid)
		return nil
	}

	args := make([]string, len(r.params))
	for i, param := range r.params {
		value, ok := ev.Message.Lookup(param)
		if !ok {
			return fmt.Errorf("%s for pid %d: missing %q", ev.Name, pid, param)
		}
		args[i] = value
	}

	ctx, cancel := context.WithTimeout(ctx, d.fetchTimeout)
	defer cancel()
	if err := r.apply(ctx, device, args); err != nil {
		return fmt.Errorf("%s for pid %d: %w", ev.Name, pid, err)
	}
	return nil
}
