package discovery

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// SearchFunc runs an SSDP search; Search is the production implementation.
type SearchFunc func(ctx context.Context, target string, passes int, passInterval, timeout time.Duration) ([]Response, error)

// ProbeFunc fetches a device description; ProbeLocation is the production
// implementation.
type ProbeFunc func(ctx context.Context, location string) (*RawDevice, error)

type Options struct {
	Passes       int
	PassInterval time.Duration
	Timeout      time.Duration
	ProbeTimeout time.Duration
	StaticHosts  []string
	Logger       *log.Logger

	Search SearchFunc
	Probe  ProbeFunc
}

// Service finds HEOS players on the local network and remembers what it
// found. Players are identified by friendly name.
type Service struct {
	options Options
	logger  *log.Logger

	mu            sync.RWMutex
	devices       []*RawDevice
	lastDiscovery time.Time
}

func NewService(options Options) *Service {
	if options.Logger == nil {
		options.Logger = log.Default()
	}
	if options.Passes <= 0 {
		options.Passes = 3
	}
	if options.Timeout <= 0 {
		options.Timeout = 5 * time.Second
	}
	if options.ProbeTimeout <= 0 {
		options.ProbeTimeout = 10 * time.Second
	}
	if options.Search == nil {
		options.Search = Search
	}
	if options.Probe == nil {
		options.Probe = ProbeLocation
	}
	return &Service{options: options, logger: options.Logger}
}

// Discover searches the network and returns the hosts to scan: every
// confirmed HEOS player followed by every configured static host. Static
// hosts are returned even when they cannot be probed.
func (s *Service) Discover(ctx context.Context) ([]string, error) {
	s.logger.Printf("DISCOVERY: searching (%d passes, %d static hosts)", s.options.Passes, len(s.options.StaticHosts))

	responses, searchErr := s.options.Search(ctx, SearchTarget, s.options.Passes, s.options.PassInterval, s.options.Timeout)
	if searchErr != nil {
		s.logger.Printf("DISCOVERY: SSDP search failed: %v", searchErr)
	}

	var hosts []string
	seen := make(map[string]struct{})
	add := func(host string) {
		if _, ok := seen[host]; ok || host == "" {
			return
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}

	for _, resp := range responses {
		device, err := s.probe(ctx, resp.Location)
		if err != nil {
			s.logger.Printf("DISCOVERY: probe of %s failed: %v", resp.Location, err)
			continue
		}
		if device == nil {
			continue
		}
		s.remember(device)
		add(device.Host)
	}

	for _, host := range s.options.StaticHosts {
		if _, ok := seen[host]; !ok {
			if device, err := s.probe(ctx, DescriptionURL(host)); err != nil {
				s.logger.Printf("DISCOVERY: static host %s did not describe itself: %v", host, err)
			} else if device != nil {
				s.remember(device)
			}
		}
		add(host)
	}

	s.mu.Lock()
	s.lastDiscovery = time.Now()
	s.mu.Unlock()

	s.logger.Printf("DISCOVERY: %d hosts", len(hosts))
	if len(hosts) == 0 && searchErr != nil {
		return nil, searchErr
	}
	if hosts == nil {
		hosts = []string{}
	}
	return hosts, nil
}

func (s *Service) probe(ctx context.Context, location string) (*RawDevice, error) {
	if location == "" {
		return nil, errors.New("empty location")
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.options.ProbeTimeout)
	defer cancel()
	return s.options.Probe(probeCtx, location)
}

func (s *Service) remember(device *RawDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.devices {
		if existing.Name == device.Name {
			s.devices[i] = device
			return
		}
	}
	s.logger.Printf("DISCOVERY: found %q at %s", device.Name, device.Host)
	s.devices = append(s.devices, device)
}

// Devices returns the players found so far in discovery order.
func (s *Service) Devices() []RawDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RawDevice, 0, len(s.devices))
	for _, device := range s.devices {
		out = append(out, *device)
	}
	return out
}

// LastDiscovery is zero until the first Discover completes.
func (s *Service) LastDiscovery() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDiscovery
}
