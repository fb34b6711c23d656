package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strefethen/heos-hub-go/internal/config"
	"github.com/strefethen/heos-hub-go/internal/discovery"
	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	host := flag.String("host", "", "player address (default: first static or discovered host)")
	port := flag.Int("port", cfg.HeosPort, "CLI port")
	timeout := flag.Duration("timeout", cfg.CommandTimeout(), "per-command timeout")
	verbose := flag.Bool("v", false, "log connection activity")
	flag.Parse()

	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *host == "" {
		*host = firstHost(ctx, cfg, logger)
	}

	pool := protocol.NewPool(protocol.PoolOptions{Port: *port, CommandTimeout: *timeout, Logger: logger})
	defer pool.Close()

	editor := newLineEditor(os.Stdin, os.Stdout)
	defer editor.Close()
	if editor.Interactive() {
		fmt.Println("HEOS console. Type .help for help.")
	}

	c := &console{sender: pool, host: *host, timeout: *timeout, out: os.Stdout}
	if err := c.Run(ctx, editor.ReadLine); err != nil {
		log.Fatalf("console error: %v", err)
	}
}

// firstHost picks a static host if one is configured, otherwise the first
// player found by a short SSDP search.
func firstHost(ctx context.Context, cfg config.Config, logger *log.Logger) string {
	if len(cfg.StaticDeviceIPs) > 0 {
		return cfg.StaticDeviceIPs[0]
	}
	service := discovery.NewService(discovery.Options{
		Passes:       1,
		Timeout:      3 * time.Second,
		ProbeTimeout: 3 * time.Second,
		Logger:       logger,
	})
	hosts, err := service.Discover(ctx)
	if err != nil || len(hosts) == 0 {
		return ""
	}
	return hosts[0]
}
