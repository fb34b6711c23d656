package journal

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/heos-hub-go/internal/heos/events"
)

const (
	DefaultRetentionDays   = 30
	DefaultPruneSchedule   = "@daily"
	DefaultQueryLimit      = 100
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// Options configures a Service. Zero values select defaults.
type Options struct {
	RetentionDays int
	PruneSchedule string
	Logger        *log.Logger
}

// Service records every broadcast event and prunes old entries.
type Service struct {
	repo          *Repository
	broadcast     *events.Broadcast
	logger        *log.Logger
	retentionDays int
	pruneSchedule string

	mu      sync.Mutex
	sub     *events.Subscription
	stopCh  chan struct{}
	wg      sync.WaitGroup
	cron    *cron.Cron
	running bool

	healthMu            sync.RWMutex
	healthy             bool
	consecutiveFailures int
	recorded            int64
	gaps                int64
}

func NewService(dbPair DBPair, broadcast *events.Broadcast, options Options) *Service {
	if options.Logger == nil {
		options.Logger = log.Default()
	}
	if options.RetentionDays <= 0 {
		options.RetentionDays = DefaultRetentionDays
	}
	if options.PruneSchedule == "" {
		options.PruneSchedule = DefaultPruneSchedule
	}
	return &Service{
		repo:          NewRepository(dbPair),
		broadcast:     broadcast,
		logger:        options.Logger,
		retentionDays: options.RetentionDays,
		pruneSchedule: options.PruneSchedule,
		healthy:       true,
	}
}

// Start subscribes to the broadcast and schedules pruning. Pruning also
// runs once immediately.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.logger))))
	if _, err := scheduler.AddFunc(s.pruneSchedule, s.runPrune); err != nil {
		return fmt.Errorf("journal prune schedule %q: %w", s.pruneSchedule, err)
	}

	s.logger.Printf("JOURNAL: recording events (retention: %d days, prune: %s)", s.retentionDays, s.pruneSchedule)
	s.sub = s.broadcast.Subscribe()
	s.stopCh = make(chan struct{})
	s.cron = scheduler
	s.running = true

	s.wg.Add(1)
	go s.record(s.sub, s.stopCh)

	s.runPrune()
	scheduler.Start()
	return nil
}

// Stop ends recording and pruning. Events still queued are dropped.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	sub := s.sub
	scheduler := s.cron
	s.mu.Unlock()

	s.broadcast.Unsubscribe(sub)
	<-scheduler.Stop().Done()
	s.wg.Wait()
	s.logger.Printf("JOURNAL: stopped")
}

func (s *Service) record(sub *events.Subscription, stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case ev, ok := <-sub.C():
			if ok {
				s.insert(ev)
				continue
			}
			if !sub.Evicted() {
				return
			}
			// fell behind; some events were never recorded
			s.healthMu.Lock()
			s.gaps++
			s.healthMu.Unlock()
			s.logger.Printf("JOURNAL: evicted as a slow subscriber, resubscribing; events were lost")

			s.mu.Lock()
			if !s.running {
				s.mu.Unlock()
				return
			}
			sub = s.broadcast.Subscribe()
			s.sub = sub
			s.mu.Unlock()
		}
	}
}

func (s *Service) insert(ev events.Event) {
	if err := s.repo.Insert(ev); err != nil {
		s.recordFailure()
		s.logger.Printf("JOURNAL: insert %s: %v", ev.Name, err)
		return
	}
	s.recordSuccess()
	s.healthMu.Lock()
	s.recorded++
	s.healthMu.Unlock()
}

func (s *Service) runPrune() {
	if count, err := s.Prune(); err != nil {
		s.logger.Printf("JOURNAL: %v", err)
	} else if count > 0 {
		s.logger.Printf("JOURNAL: pruned %d entries", count)
	}
}

// Prune deletes entries older than the retention period.
func (s *Service) Prune() (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	count, err := s.repo.Prune(cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	s.recordSuccess()
	return count, nil
}

// List queries entries, clamping the limit. hasMore reports whether
// entries exist beyond this page.
func (s *Service) List(filter Filter) ([]Entry, int, bool, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryLimit
	}
	if filter.Limit > MaxQueryLimit {
		filter.Limit = MaxQueryLimit
	}

	entries, total, err := s.repo.List(filter)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query journal: %w", err)
	}
	s.recordSuccess()
	return entries, total, filter.Offset+len(entries) < total, nil
}

func (s *Service) Get(eventID string) (*Entry, error) {
	entry, err := s.repo.Get(eventID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	if entry == nil {
		return nil, &EntryNotFoundError{EventID: eventID}
	}
	s.recordSuccess()
	return entry, nil
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats reports how many events were recorded and how many eviction gaps
// occurred since start.
func (s *Service) Stats() (recorded, gaps int64) {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.recorded, s.gaps
}

// IsHealthy is false after MaxConsecutiveFailures database errors in a row.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}
