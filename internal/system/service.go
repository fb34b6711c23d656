package system

import (
	"log"
	"runtime"
	"time"

	"github.com/strefethen/heos-hub-go/internal/heos"
	"github.com/strefethen/heos-hub-go/internal/heos/events"
)

// Version is the hub version, set at build time or defaulted.
var Version = "1.0.0"

// DiscoveryStatus reports when discovery last ran.
type DiscoveryStatus interface {
	LastDiscovery() time.Time
}

// JournalStatus reports whether the event journal is recording.
type JournalStatus interface {
	Running() bool
	IsHealthy() bool
}

// Service provides hub status and the attention list.
type Service struct {
	logger    *log.Logger
	manager   *heos.Manager
	discovery DiscoveryStatus
	journal   JournalStatus
	startTime time.Time
}

// NewService creates a new system service. discovery and journal may be nil.
func NewService(manager *heos.Manager, discovery DiscoveryStatus, journal JournalStatus, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		logger:    logger,
		manager:   manager,
		discovery: discovery,
		journal:   journal,
		startTime: time.Now(),
	}
}

// SystemInfo holds hub status.
type SystemInfo struct {
	HubVersion       string     `json:"hub_version"`
	Uptime           int64      `json:"uptime_seconds"`
	MemoryUsageMB    float64    `json:"memory_mb"`
	PlayersTotal     int        `json:"players_total"`
	PlayersHealthy   int        `json:"players_healthy"`
	SourcesTotal     int        `json:"sources_total"`
	WatchState       string     `json:"event_watch_state"`
	EventSubscribers int        `json:"event_subscribers"`
	JournalRunning   bool       `json:"journal_running"`
	LastDiscovery    *time.Time `json:"last_discovery,omitempty"`
}

// AttentionItem represents a condition the operator should look at.
type AttentionItem struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ResolveHint string         `json:"resolve_hint,omitempty"`
}

// GetSystemInfo returns current hub status.
func (s *Service) GetSystemInfo() *SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	devices := s.manager.Devices()
	healthy := 0
	for _, device := range devices {
		if device.Snapshot().HeartbeatMissed == 0 {
			healthy++
		}
	}

	info := &SystemInfo{
		HubVersion:       Version,
		Uptime:           int64(time.Since(s.startTime).Seconds()),
		MemoryUsageMB:    float64(memStats.Alloc) / 1024 / 1024,
		PlayersTotal:     len(devices),
		PlayersHealthy:   healthy,
		SourcesTotal:     len(s.manager.Sources()),
		WatchState:       s.manager.WatchState().String(),
		EventSubscribers: s.manager.Broadcast().Len(),
	}
	if s.journal != nil {
		info.JournalRunning = s.journal.Running()
	}
	if s.discovery != nil {
		if last := s.discovery.LastDiscovery(); !last.IsZero() {
			info.LastDiscovery = &last
		}
	}
	return info
}

// GetAttentionItems lists conditions that need a look, most severe first.
func (s *Service) GetAttentionItems() []AttentionItem {
	items := []AttentionItem{}
	devices := s.manager.Devices()

	if len(devices) == 0 {
		items = append(items, AttentionItem{
			Type:        "no_players",
			Severity:    "error",
			Message:     "No HEOS players are known",
			ResolveHint: "Check that players are powered on and on this network, or set STATIC_DEVICE_IPS",
		})
	}

	if len(devices) > 0 && s.manager.WatchState() == events.StateStopped {
		items = append(items, AttentionItem{
			Type:        "events_not_watched",
			Severity:    "warning",
			Message:     "Player state is not being updated from change events",
			ResolveHint: "Trigger POST /v1/discovery/rescan or restart the hub",
		})
	}

	for _, device := range devices {
		snapshot := device.Snapshot()
		if snapshot.HeartbeatMissed == 0 {
			continue
		}
		items = append(items, AttentionItem{
			Type:     "heartbeat_failing",
			Severity: "warning",
			Message:  snapshot.Name + " is not answering heartbeats",
			Details: map[string]any{
				"pid":                snapshot.PID,
				"heartbeat_missed":   snapshot.HeartbeatMissed,
				"heartbeat_failures": snapshot.HeartbeatFailures,
			},
			ResolveHint: "Check the player's power and network connectivity",
		})
	}

	if s.journal != nil && !s.journal.IsHealthy() {
		items = append(items, AttentionItem{
			Type:     "journal_unhealthy",
			Severity: "warning",
			Message:  "The event journal is failing to write",
		})
	}

	return items
}
