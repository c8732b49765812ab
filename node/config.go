// Package node implements the Indra's Network node lifecycle, wiring
// identity, channel directory, packet router, and artifact store into
// one process and managing their start/stop order
// through a dependency-aware ServiceRegistry.
package node

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration for an Indra's Network node (§3 "Ambient
// stack additions").
type Config struct {
	// DataDir is the root directory for all data storage.
	DataDir string

	// Name is a human-readable node identifier (used in logs).
	Name string

	// DefaultTTL is the initial hop budget for originated packets (§3
	// Packet.ttl, default 10).
	DefaultTTL int

	// MaxHoldDuration bounds how long a packet may sit in custody before
	// being dropped (§4.3.2 max_hold, default 7 days).
	MaxHoldDuration string

	// SprayAndWaitN is the fan-out count for the spray-and-wait strategy
	// (§4.3.3, default 4).
	SprayAndWaitN int

	// CustodyK is the number of backup custodians for the custody
	// strategy (§4.3.3, default 2).
	CustodyK int

	// PresenceWindow bounds how long a peer is considered "recently
	// seen" (§4.3.1, default 5m).
	PresenceWindow string

	// RelayHints lists suggested relay peer addresses, parsed from the
	// RELAY_HINTS env var as a comma-separated list (§6).
	RelayHints []string

	// LogLevel controls log verbosity, parsed from LOG_LEVEL
	// (debug, info, warn, error).
	LogLevel string

	// EventQueueSize bounds the per-subsystem goroutine loop's inbound
	// channel capacity (§5, default 256).
	EventQueueSize int

	// Metrics enables the metrics collection subsystem.
	Metrics bool
}

// defaultDataDir returns the platform-specific default data directory.
// Falls back to ".indra" in the current directory if the home directory
// cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".indra"
	}
	return filepath.Join(home, ".indra")
}

// DefaultConfig returns a Config with sensible defaults (§9 spray-and-wait
// N=4, custody k=2, TTL=10).
func DefaultConfig() Config {
	return Config{
		DataDir:         defaultDataDir(),
		Name:            "indra",
		DefaultTTL:      10,
		MaxHoldDuration: "168h",
		SprayAndWaitN:   4,
		CustodyK:        2,
		PresenceWindow:  "5m",
		LogLevel:        "info",
		EventQueueSize:  256,
		Metrics:         false,
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("config: invalid default ttl: %d", c.DefaultTTL)
	}
	if c.SprayAndWaitN <= 0 {
		return fmt.Errorf("config: invalid spray-and-wait n: %d", c.SprayAndWaitN)
	}
	if c.CustodyK <= 0 {
		return fmt.Errorf("config: invalid custody k: %d", c.CustodyK)
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("config: invalid event queue size: %d", c.EventQueueSize)
	}
	if _, err := time.ParseDuration(c.MaxHoldDuration); err != nil {
		return fmt.Errorf("config: invalid max hold duration %q: %w", c.MaxHoldDuration, err)
	}
	if _, err := time.ParseDuration(c.PresenceWindow); err != nil {
		return fmt.Errorf("config: invalid presence window %q: %w", c.PresenceWindow, err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// SlogLevel converts LogLevel to an slog.Level, for constructing the
// process-wide logger (§3 "Logging... log package is kept from the
// teacher almost verbatim").
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dataDirSubdirs lists subdirectories created inside the data directory.
var dataDirSubdirs = []string{
	"channels",
	"artifacts",
	"keys",
}

// InitDataDir creates the data directory and its standard subdirectories
// if they do not already exist.
func (c *Config) InitDataDir() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("config: create datadir: %w", err)
	}
	for _, sub := range dataDirSubdirs {
		dir := filepath.Join(c.DataDir, sub)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("config: create %s: %w", sub, err)
		}
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// ConfigFromEnv overlays DATA_DIR, LOG_LEVEL, and RELAY_HINTS environment
// variables onto cfg, leaving fields untouched when the corresponding
// variable is unset (§6 "Env vars DATA_DIR, LOG_LEVEL, RELAY_HINTS parsed
// in node.Config").
func ConfigFromEnv(cfg Config) Config {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RELAY_HINTS"); v != "" {
		cfg.RelayHints = splitRelayHints(v)
	}
	return cfg
}

// splitRelayHints parses a comma-separated relay hint list, trimming
// whitespace and discarding empty entries.
func splitRelayHints(v string) []string {
	parts := strings.Split(v, ",")
	hints := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			hints = append(hints, p)
		}
	}
	return hints
}
