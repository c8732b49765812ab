package node

import (
	"os"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate: %v", err)
	}
	if cfg.DefaultTTL != 10 {
		t.Errorf("DefaultTTL = %d, want 10", cfg.DefaultTTL)
	}
	if cfg.SprayAndWaitN != 4 {
		t.Errorf("SprayAndWaitN = %d, want 4", cfg.SprayAndWaitN)
	}
	if cfg.CustodyK != 2 {
		t.Errorf("CustodyK = %d, want 2", cfg.CustodyK)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	base := DefaultConfig()

	cases := []func(*Config){
		func(c *Config) { c.DataDir = "" },
		func(c *Config) { c.DefaultTTL = 0 },
		func(c *Config) { c.SprayAndWaitN = 0 },
		func(c *Config) { c.CustodyK = -1 },
		func(c *Config) { c.EventQueueSize = 0 },
		func(c *Config) { c.MaxHoldDuration = "not-a-duration" },
		func(c *Config) { c.PresenceWindow = "not-a-duration" },
		func(c *Config) { c.LogLevel = "verbose" },
	}

	for i, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error, got nil", i)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
	}{
		{"debug"}, {"info"}, {"warn"}, {"error"}, {"unknown"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.LogLevel = tt.level
		_ = cfg.SlogLevel() // must not panic for any input
	}
}

func TestInitDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir

	if err := cfg.InitDataDir(); err != nil {
		t.Fatalf("InitDataDir: %v", err)
	}
	for _, sub := range dataDirSubdirs {
		info, err := os.Stat(cfg.ResolvePath(sub))
		if err != nil {
			t.Errorf("subdir %s: %v", sub, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("subdir %s is not a directory", sub)
		}
	}
}

func TestResolvePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/indra"

	if got := cfg.ResolvePath("channels"); got != "/var/lib/indra/channels" {
		t.Errorf("ResolvePath(relative) = %s", got)
	}
	if got := cfg.ResolvePath("/abs/path"); got != "/abs/path" {
		t.Errorf("ResolvePath(absolute) = %s, want unchanged", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/indra-env")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RELAY_HINTS", "relay1.example:4433, relay2.example:4433,")

	cfg := ConfigFromEnv(DefaultConfig())

	if cfg.DataDir != "/tmp/indra-env" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s", cfg.LogLevel)
	}
	want := []string{"relay1.example:4433", "relay2.example:4433"}
	if len(cfg.RelayHints) != len(want) {
		t.Fatalf("RelayHints = %v, want %v", cfg.RelayHints, want)
	}
	for i := range want {
		if cfg.RelayHints[i] != want[i] {
			t.Errorf("RelayHints[%d] = %s, want %s", i, cfg.RelayHints[i], want[i])
		}
	}
}

func TestConfigFromEnvLeavesDefaultsWhenUnset(t *testing.T) {
	cfg := ConfigFromEnv(DefaultConfig())
	want := DefaultConfig()
	if cfg.DataDir != want.DataDir || cfg.LogLevel != want.LogLevel {
		t.Errorf("ConfigFromEnv mutated config with no env vars set")
	}
}
