package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/strefethen/heos-hub-go/internal/api"
	"github.com/strefethen/heos-hub-go/internal/config"
	"github.com/strefethen/heos-hub-go/internal/db"
	"github.com/strefethen/heos-hub-go/internal/discovery"
	"github.com/strefethen/heos-hub-go/internal/heos"
	"github.com/strefethen/heos-hub-go/internal/heos/events"
	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
	"github.com/strefethen/heos-hub-go/internal/journal"
	"github.com/strefethen/heos-hub-go/internal/openapi"
	"github.com/strefethen/heos-hub-go/internal/system"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the wrapper.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack hands the connection to the websocket upgrader.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Printf("HTTP: %s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
		})
	}
}

// Options controls server wiring.
type Options struct {
	// DisableDiscovery skips the SSDP search; only static hosts are scanned.
	DisableDiscovery bool
	// Dial, Search and Probe replace the network for tests.
	Dial   protocol.DialFunc
	Search discovery.SearchFunc
	Probe  discovery.ProbeFunc
	Logger *log.Logger
}

// NewHandler builds the HTTP handler, starts the initial scan in the
// background and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	logger := options.Logger
	if logger == nil {
		logger = log.Default()
	}

	manager := heos.NewManager(heos.Options{
		Port:              cfg.HeosPort,
		CommandTimeout:    cfg.CommandTimeout(),
		Dial:              options.Dial,
		QueueSize:         cfg.EventQueueSize,
		PollDelay:         cfg.EventPollDelay(),
		Heartbeat:         cfg.HeosHeartbeatEnabled,
		HeartbeatSchedule: cfg.HeosHeartbeatSchedule,
		Logger:            logger,
	})

	search := options.Search
	if options.DisableDiscovery {
		search = func(context.Context, string, int, time.Duration, time.Duration) ([]discovery.Response, error) {
			return nil, nil
		}
	}
	discoveryService := discovery.NewService(discovery.Options{
		Passes:       cfg.SSDPDiscoveryPasses,
		PassInterval: time.Duration(cfg.SSDPPassIntervalMs) * time.Millisecond,
		Timeout:      time.Duration(cfg.SSDPDiscoveryTimeoutMs) * time.Millisecond,
		StaticHosts:  cfg.StaticDeviceIPs,
		Logger:       logger,
		Search:       search,
		Probe:        options.Probe,
	})

	var dbPair *db.DBPair
	var journalService *journal.Service
	if cfg.JournalEnabled {
		logger.Printf("JOURNAL: using database %s", cfg.SQLiteDBPath)
		var err error
		dbPair, err = db.Init(cfg.SQLiteDBPath)
		if err != nil {
			_ = manager.Close()
			return nil, nil, err
		}
		journalService = journal.NewService(dbPair, manager.Broadcast(), journal.Options{
			RetentionDays: cfg.JournalRetentionDays,
			PruneSchedule: cfg.JournalPruneSchedule,
			Logger:        logger,
		})
		if err := journalService.Start(); err != nil {
			_ = manager.Close()
			_ = dbPair.Close()
			return nil, nil, err
		}
	}

	scan := heos.NewScanner(manager, discoveryService, heos.ScannerOptions{Watch: cfg.HeosWatchEvents, Logger: logger})

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware(logger))
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)

	registerHealthRoutes(router, scan)
	openapi.RegisterRoutes(router)
	heos.RegisterRoutes(router, manager, scan)
	discovery.RegisterRoutes(router, discoveryService)
	events.RegisterRoutes(router, manager.Broadcast(), logger)

	var journalStatus system.JournalStatus
	if journalService != nil {
		journal.RegisterRoutes(router, journalService)
		journalStatus = journalService
	}
	system.RegisterRoutes(router, system.NewService(manager, discoveryService, journalStatus, logger))

	scanCtx, cancelScans := context.WithCancel(context.Background())
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scan.Scan(scanCtx)
	}()

	var rescan *cron.Cron
	if cfg.SSDPRescanSchedule != "" {
		rescan = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))))
		if _, err := rescan.AddFunc(cfg.SSDPRescanSchedule, func() { scan.Scan(scanCtx) }); err != nil {
			logger.Printf("DISCOVERY: invalid rescan schedule %q: %v", cfg.SSDPRescanSchedule, err)
			rescan = nil
		} else {
			rescan.Start()
		}
	}

	shutdown := func(ctx context.Context) error {
		cancelScans()
		if rescan != nil {
			<-rescan.Stop().Done()
		}
		select {
		case <-scanDone:
		case <-ctx.Done():
		}
		if journalService != nil {
			journalService.Stop()
		}
		var errs []error
		errs = append(errs, manager.Close())
		if dbPair != nil {
			errs = append(errs, dbPair.Close())
		}
		return errors.Join(errs...)
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router, scan *heos.Scanner) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "heos-hub",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if !scan.Ready() {
			return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "scanning"})
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
