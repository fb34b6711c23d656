package heos

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/strefethen/heos-hub-go/internal/heos/events"
)

// HostFinder supplies the hosts to scan on a rescan.
type HostFinder interface {
	Discover(ctx context.Context) ([]string, error)
}

// ScannerOptions configures a Scanner.
type ScannerOptions struct {
	// Watch starts the event watcher after a scan whenever it is stopped.
	Watch  bool
	Logger *log.Logger
}

// ScanResult describes one pass of Scanner.Scan.
type ScanResult struct {
	Hosts        []string
	PlayersAdded int
	DiscoveryErr error
	ScanErr      error
	WatchErr     error
}

// Scanner runs discovery followed by a registry scan and restarts the event
// watcher once players are known. The startup scan, the cron rescan and the
// rescan route all go through Scan, which is serialized.
type Scanner struct {
	manager *Manager
	finder  HostFinder
	watch   bool
	logger  *log.Logger

	mu    sync.Mutex
	ready atomic.Bool
}

// NewScanner creates a Scanner. finder may be nil, in which case scans only
// revisit known hosts.
func NewScanner(manager *Manager, finder HostFinder, options ScannerOptions) *Scanner {
	if options.Logger == nil {
		options.Logger = log.Default()
	}
	return &Scanner{manager: manager, finder: finder, watch: options.Watch, logger: options.Logger}
}

// Scan revisits every known host plus whatever the finder returns. A
// discovery failure still rescans the known hosts. The first completed scan
// marks the scanner ready, even a partial one.
func (s *Scanner) Scan(ctx context.Context) ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.ready.Store(true)

	var result ScanResult
	hosts := s.manager.DeviceHosts()
	if s.finder != nil {
		found, err := s.finder.Discover(ctx)
		if err != nil {
			s.logger.Printf("DISCOVERY: %v", err)
			result.DiscoveryErr = err
		}
		hosts = mergeHosts(hosts, found)
	}
	result.Hosts = hosts
	if len(hosts) == 0 {
		s.logger.Printf("HEOS: no hosts to scan")
		return result
	}

	before := len(s.manager.Devices())
	if err := s.manager.Initialize(ctx, hosts); err != nil {
		s.logger.Printf("HEOS: scan finished with errors: %v", err)
		result.ScanErr = err
	}
	result.PlayersAdded = len(s.manager.Devices()) - before
	s.logger.Printf("HEOS: %d players, %d sources known", len(s.manager.Devices()), len(s.manager.Sources()))

	if s.watch && s.manager.WatchState() == events.StateStopped {
		if err := s.manager.StartWatchEvents(ctx); err != nil {
			s.logger.Printf("WATCH: %v", err)
			result.WatchErr = err
		}
	}
	return result
}

// Ready reports whether the first scan has finished.
func (s *Scanner) Ready() bool {
	return s.ready.Load()
}

func mergeHosts(known, found []string) []string {
	seen := make(map[string]struct{}, len(known)+len(found))
	out := make([]string, 0, len(known)+len(found))
	for _, host := range append(append([]string(nil), known...), found...) {
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	return out
}
