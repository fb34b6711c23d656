// Package heos is the entry point to the player network: it scans hosts,
// keeps the device and source registries and owns the event watcher.
package heos

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/strefethen/heos-hub-go/internal/heos/catalog"
	"github.com/strefethen/heos-hub-go/internal/heos/events"
	"github.com/strefethen/heos-hub-go/internal/heos/player"
	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrSourceNotFound    = errors.New("source not found")
	ErrContainerNotFound = errors.New("container not found")
)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Port              int
	CommandTimeout    time.Duration
	Dial              protocol.DialFunc
	QueueSize         int
	PollDelay         time.Duration
	Heartbeat         bool
	HeartbeatSchedule string
	Logger            *log.Logger
}

// Manager owns the device and source registries. Both are append-only:
// an entry is created the first time its pid or sid is seen and is never
// removed.
type Manager struct {
	pool      *protocol.Pool
	broadcast *events.Broadcast
	watcher   *events.Watcher
	logger    *log.Logger

	heartbeat         bool
	heartbeatSchedule string

	mu          sync.RWMutex
	devices     map[int]*player.Device
	deviceOrder []int
	sources     map[int]*catalog.Source
	sourceOrder []int
}

func NewManager(options Options) *Manager {
	if options.Logger == nil {
		options.Logger = log.Default()
	}
	pool := protocol.NewPool(protocol.PoolOptions{
		Port:           options.Port,
		CommandTimeout: options.CommandTimeout,
		Dial:           options.Dial,
		Logger:         options.Logger,
	})
	manager := &Manager{
		pool:              pool,
		broadcast:         events.NewBroadcast(options.QueueSize),
		logger:            options.Logger,
		heartbeat:         options.Heartbeat,
		heartbeatSchedule: options.HeartbeatSchedule,
		devices:           make(map[int]*player.Device),
		sources:           make(map[int]*catalog.Source),
	}
	manager.watcher = events.NewWatcher(
		manager,
		events.NewDispatcher(manager, options.Logger),
		manager.broadcast,
		events.WatcherOptions{
			Port:      pool.Port(),
			Dial:      options.Dial,
			PollDelay: options.PollDelay,
			Logger:    options.Logger,
		},
	)
	return manager
}

// ==========================================================================
// Scanning
// ==========================================================================

// Initialize scans every host in turn. A host that cannot be reached (or
// answers nonsense) contributes its error to the joined result and the scan
// moves on, so a partial registry is normal.
func (m *Manager) Initialize(ctx context.Context, hosts []string) error {
	var errs []error
	for _, host := range hosts {
		if err := m.scanHost(ctx, host); err != nil {
			m.logger.Printf("HEOS: scan of %s incomplete: %v", host, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) scanHost(ctx context.Context, host string) error {
	env, err := m.pool.Send(ctx, host, protocol.GetPlayers())
	if err != nil {
		return err
	}
	players, err := player.ParsePlayers(env, host)
	if err != nil {
		return err
	}

	var errs []error
	for _, info := range players {
		device, created := m.addDevice(info)
		if !created {
			continue
		}
		m.logger.Printf("HEOS: found player %q (pid %d) at %s", info.Name, info.PID, info.Host)
		if err := device.Initialize(ctx); err != nil {
			errs = append(errs, err)
		}
		if m.heartbeat {
			if err := device.StartHeartbeat(m.heartbeatSchedule); err != nil {
				m.logger.Printf("HEOS: %s: %v", info.Name, err)
			}
		}
	}

	env, err = m.pool.Send(ctx, host, protocol.GetMusicSources())
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	sources, err := catalog.ParseSources(env, host, m.pool, m.logger)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, source := range sources {
		if !m.addSource(source) {
			continue
		}
		if err := source.Initialize(ctx); err != nil {
			var transportErr *protocol.TransportError
			if errors.As(err, &transportErr) {
				errs = append(errs, err)
			}
			m.logger.Printf("HEOS: source %q (sid %d): %v", source.Name, source.SID, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) addDevice(info player.Info) (*player.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.devices[info.PID]; ok {
		return existing, false
	}
	device := player.NewDevice(info, m.pool, m.logger)
	m.devices[info.PID] = device
	m.deviceOrder = append(m.deviceOrder, info.PID)
	return device, true
}

func (m *Manager) addSource(source *catalog.Source) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[source.SID]; ok {
		return false
	}
	m.sources[source.SID] = source
	m.sourceOrder = append(m.sourceOrder, source.SID)
	return true
}

// ==========================================================================
// Event watching
// ==========================================================================

// StartWatchEvents starts the watcher on the first known device.
func (m *Manager) StartWatchEvents(ctx context.Context) error {
	return m.watcher.Start(ctx)
}

// StopWatchEvents stops the watcher and waits for its loop to end.
func (m *Manager) StopWatchEvents() {
	m.watcher.Stop()
}

func (m *Manager) WatchState() events.State {
	return m.watcher.State()
}

// Subscribe returns a fresh bounded queue of raw events.
func (m *Manager) Subscribe() *events.Subscription {
	return m.broadcast.Subscribe()
}

func (m *Manager) Unsubscribe(sub *events.Subscription) {
	m.broadcast.Unsubscribe(sub)
}

// Broadcast exposes the fan-out for stream handlers.
func (m *Manager) Broadcast() *events.Broadcast {
	return m.broadcast
}

// ==========================================================================
// Accessors
// ==========================================================================

// Devices returns every known device in discovery order.
func (m *Manager) Devices() []*player.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*player.Device, 0, len(m.deviceOrder))
	for _, pid := range m.deviceOrder {
		out = append(out, m.devices[pid])
	}
	return out
}

func (m *Manager) DeviceByPID(pid int) (*player.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	device, ok := m.devices[pid]
	return device, ok
}

// DeviceByName matches exactly first, then case-insensitively.
func (m *Manager) DeviceByName(name string) (*player.Device, bool) {
	devices := m.Devices()
	for _, device := range devices {
		if device.Name() == name {
			return device, true
		}
	}
	for _, device := range devices {
		if strings.EqualFold(device.Name(), name) {
			return device, true
		}
	}
	return nil, false
}

// LookupDevice resolves a name or a numeric pid.
func (m *Manager) LookupDevice(ref string) (*player.Device, error) {
	if device, ok := m.DeviceByName(ref); ok {
		return device, nil
	}
	if pid, err := strconv.Atoi(ref); err == nil {
		if device, ok := m.DeviceByPID(pid); ok {
			return device, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, ref)
}

// DeviceHosts lists the distinct device hosts in discovery order.
func (m *Manager) DeviceHosts() []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, device := range m.Devices() {
		host := device.Host()
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	return hosts
}

// Sources returns every top-level source in discovery order.
func (m *Manager) Sources() []*catalog.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*catalog.Source, 0, len(m.sourceOrder))
	for _, sid := range m.sourceOrder {
		out = append(out, m.sources[sid])
	}
	return out
}

// SourceByID finds a top-level source, or a source nested inside one.
func (m *Manager) SourceByID(sid int) (*catalog.Source, bool) {
	m.mu.RLock()
	source, ok := m.sources[sid]
	m.mu.RUnlock()
	if ok {
		return source, true
	}
	for _, root := range m.Sources() {
		if nested, ok := root.FindSource(sid); ok {
			return nested, true
		}
	}
	return nil, false
}

// ResolveContainer finds container cid below source sid.
func (m *Manager) ResolveContainer(sid int, cid string) (*catalog.Container, error) {
	source, ok := m.SourceByID(sid)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSourceNotFound, sid)
	}
	container, ok := source.GetContainer(cid)
	if !ok {
		return nil, fmt.Errorf("%w: %s in source %d", ErrContainerNotFound, cid, sid)
	}
	return container, nil
}

// Close stops the watcher and heartbeats, ends all subscriptions and closes
// every pooled connection.
func (m *Manager) Close() error {
	m.watcher.Stop()
	for _, device := range m.Devices() {
		device.StopHeartbeat()
	}
	m.broadcast.Close()
	return m.pool.Close()
}
