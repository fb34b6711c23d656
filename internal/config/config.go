package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the hub configuration.
type Config struct {
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	SQLiteDBPath string `yaml:"sqlite_db_path"`

	HeosPort              int    `yaml:"heos_port"`
	HeosCommandTimeoutMs  int    `yaml:"heos_command_timeout_ms"`
	HeosHeartbeatEnabled  bool   `yaml:"heos_heartbeat_enabled"`
	HeosHeartbeatSchedule string `yaml:"heos_heartbeat_schedule"`
	HeosWatchEvents       bool   `yaml:"heos_watch_events"`
	HeosEventPollDelayMs  int    `yaml:"heos_event_poll_delay_ms"`
	EventQueueSize        int    `yaml:"event_queue_size"`

	SSDPDiscoveryTimeoutMs int      `yaml:"ssdp_discovery_timeout_ms"`
	SSDPDiscoveryPasses    int      `yaml:"ssdp_discovery_passes"`
	SSDPPassIntervalMs     int      `yaml:"ssdp_pass_interval_ms"`
	SSDPRescanSchedule     string   `yaml:"ssdp_rescan_schedule"`
	StaticDeviceIPs        []string `yaml:"static_device_ips"`

	JournalEnabled       bool   `yaml:"journal_enabled"`
	JournalRetentionDays int    `yaml:"journal_retention_days"`
	JournalPruneSchedule string `yaml:"journal_prune_schedule"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Host:                   "0.0.0.0",
		Port:                   "9000",
		SQLiteDBPath:           "./data/heos-hub.db",
		HeosPort:               1255,
		HeosCommandTimeoutMs:   5000,
		HeosHeartbeatEnabled:   true,
		HeosHeartbeatSchedule:  "@every 60s",
		HeosWatchEvents:        true,
		HeosEventPollDelayMs:   100,
		EventQueueSize:         2048,
		SSDPDiscoveryTimeoutMs: 5000,
		SSDPDiscoveryPasses:    3,
		SSDPPassIntervalMs:     2000,
		StaticDeviceIPs:        []string{},
		JournalEnabled:         true,
		JournalRetentionDays:   30,
		JournalPruneSchedule:   "@daily",
	}
}

// Load builds the configuration in three layers: defaults, then the YAML
// file named by HEOS_CONFIG_FILE (if set), then environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("HEOS_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Host = envString("HOST", cfg.Host)
	cfg.Port = envString("PORT", cfg.Port)
	cfg.SQLiteDBPath = envString("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.HeosPort = envInt("HEOS_PORT", cfg.HeosPort)
	cfg.HeosCommandTimeoutMs = envInt("HEOS_COMMAND_TIMEOUT_MS", cfg.HeosCommandTimeoutMs)
	cfg.HeosHeartbeatEnabled = envBool("HEOS_HEARTBEAT_ENABLED", cfg.HeosHeartbeatEnabled)
	cfg.HeosHeartbeatSchedule = envString("HEOS_HEARTBEAT_SCHEDULE", cfg.HeosHeartbeatSchedule)
	cfg.HeosWatchEvents = envBool("HEOS_WATCH_EVENTS", cfg.HeosWatchEvents)
	cfg.HeosEventPollDelayMs = envInt("HEOS_EVENT_POLL_DELAY_MS", cfg.HeosEventPollDelayMs)
	cfg.EventQueueSize = envInt("EVENT_QUEUE_SIZE", cfg.EventQueueSize)
	cfg.SSDPDiscoveryTimeoutMs = envInt("SSDP_DISCOVERY_TIMEOUT_MS", cfg.SSDPDiscoveryTimeoutMs)
	cfg.SSDPDiscoveryPasses = envInt("SSDP_DISCOVERY_PASSES", cfg.SSDPDiscoveryPasses)
	cfg.SSDPPassIntervalMs = envInt("SSDP_PASS_INTERVAL_MS", cfg.SSDPPassIntervalMs)
	cfg.SSDPRescanSchedule = envString("SSDP_RESCAN_SCHEDULE", cfg.SSDPRescanSchedule)
	if ips := envCSV("STATIC_DEVICE_IPS"); len(ips) > 0 {
		cfg.StaticDeviceIPs = ips
	}
	cfg.JournalEnabled = envBool("JOURNAL_ENABLED", cfg.JournalEnabled)
	cfg.JournalRetentionDays = envInt("JOURNAL_RETENTION_DAYS", cfg.JournalRetentionDays)
	cfg.JournalPruneSchedule = envString("JOURNAL_PRUNE_SCHEDULE", cfg.JournalPruneSchedule)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.HeosPort <= 0 || c.HeosPort > 65535 {
		return fmt.Errorf("HEOS_PORT must be a valid TCP port, got %d", c.HeosPort)
	}
	if c.HeosCommandTimeoutMs <= 0 {
		return fmt.Errorf("HEOS_COMMAND_TIMEOUT_MS must be positive, got %d", c.HeosCommandTimeoutMs)
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("EVENT_QUEUE_SIZE must be positive, got %d", c.EventQueueSize)
	}
	if c.JournalEnabled && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLITE_DB_PATH is required when the journal is enabled")
	}
	return nil
}

func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.HeosCommandTimeoutMs) * time.Millisecond
}

func (c Config) EventPollDelay() time.Duration {
	return time.Duration(c.HeosEventPollDelayMs) * time.Millisecond
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return []string{}
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
