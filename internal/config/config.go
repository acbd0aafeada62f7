// Package config provides configuration management for agentwatch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the worker and the bounding policy. The caps and windows
// keep aggregation cost independent of total historical volume.
const (
	DefaultWorkerPort       = 9179
	DefaultMaxConns         = 4
	DefaultCollectInterval  = 15 * time.Second
	DefaultTailPollInterval = 500 * time.Millisecond

	DefaultInvocationWindow = 7 * 24 * time.Hour
	DefaultSessionWindow    = 30 * 24 * time.Hour
	DefaultInvocationCap    = 10000
	DefaultSessionCap       = 1000
	DefaultDurationCap      = 5000

	DefaultSequenceLength = 3
	DefaultSequenceTopN   = 10
	DefaultBottleneckSecs = 10.0
	DefaultPromptMaxBytes = 4096

	DefaultHintRetention = 24 * time.Hour

	DefaultMemWarnBytes     = 512 << 20
	DefaultMemCriticalBytes = 1 << 30
)

// Config holds all tunables for the hooks and the worker.
type Config struct {
	WorkerPort int    `yaml:"worker_port"`
	DBPath     string `yaml:"db_path"`
	MaxConns   int    `yaml:"max_conns"`

	CollectInterval  time.Duration `yaml:"collect_interval"`
	TailPollInterval time.Duration `yaml:"tail_poll_interval"`

	InvocationWindow time.Duration `yaml:"invocation_window"`
	SessionWindow    time.Duration `yaml:"session_window"`
	InvocationCap    int           `yaml:"invocation_cap"`
	SessionCap       int           `yaml:"session_cap"`
	DurationCap      int           `yaml:"duration_cap"`

	SequenceLength int     `yaml:"sequence_length"`
	SequenceTopN   int     `yaml:"sequence_top_n"`
	BottleneckSecs float64 `yaml:"bottleneck_seconds"`
	PromptMaxBytes int     `yaml:"prompt_max_bytes"`

	HintRetention time.Duration `yaml:"hint_retention"`

	MemWarnBytes     uint64 `yaml:"mem_warn_bytes"`
	MemCriticalBytes uint64 `yaml:"mem_critical_bytes"`

	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no worker.yaml exists.
func Default() *Config {
	return &Config{
		WorkerPort:       DefaultWorkerPort,
		DBPath:           DBPath(),
		MaxConns:         DefaultMaxConns,
		CollectInterval:  DefaultCollectInterval,
		TailPollInterval: DefaultTailPollInterval,
		InvocationWindow: DefaultInvocationWindow,
		SessionWindow:    DefaultSessionWindow,
		InvocationCap:    DefaultInvocationCap,
		SessionCap:       DefaultSessionCap,
		DurationCap:      DefaultDurationCap,
		SequenceLength:   DefaultSequenceLength,
		SequenceTopN:     DefaultSequenceTopN,
		BottleneckSecs:   DefaultBottleneckSecs,
		PromptMaxBytes:   DefaultPromptMaxBytes,
		HintRetention:    DefaultHintRetention,
		MemWarnBytes:     DefaultMemWarnBytes,
		MemCriticalBytes: DefaultMemCriticalBytes,
	}
}

// DataDir returns the agentwatch state directory.
func DataDir() string {
	if dir := os.Getenv("AGENTWATCH_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".agentwatch")
}

// DBPath returns the path of the durable event store.
func DBPath() string {
	if p := os.Getenv("AGENTWATCH_DB"); p != "" {
		return p
	}
	return filepath.Join(DataDir(), "agentwatch.db")
}

// SessionsDir returns the directory holding the ephemeral per-session
// side state (correlation hints and context stacks).
func SessionsDir() string {
	return filepath.Join(DataDir(), "sessions")
}

// WorkerConfigPath returns the optional worker YAML config path.
func WorkerConfigPath() string {
	return filepath.Join(DataDir(), "worker.yaml")
}

// EnsureDataDir creates the data and sessions directories.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("config: create data dir: %w", err)
	}
	if err := os.MkdirAll(SessionsDir(), 0o755); err != nil {
		return fmt.Errorf("config: create sessions dir: %w", err)
	}
	return nil
}

// Load reads worker.yaml when present and applies environment
// overrides on top of defaults. A missing file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(WorkerConfigPath())
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", WorkerConfigPath(), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", WorkerConfigPath(), err)
	}

	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if p := os.Getenv("AGENTWATCH_DB"); p != "" {
		cfg.DBPath = p
	}
	if v := os.Getenv("AGENTWATCH_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.WorkerPort = port
		}
	}
	if v := os.Getenv("AGENTWATCH_COLLECT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CollectInterval = d
		}
	}
	if os.Getenv("AGENTWATCH_DEBUG") == "1" {
		cfg.Debug = true
	}
}

// normalize backfills zero values so a sparse worker.yaml cannot
// disable the bounding policy.
func (c *Config) normalize() {
	d := Default()
	if c.WorkerPort <= 0 {
		c.WorkerPort = d.WorkerPort
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.MaxConns <= 0 {
		c.MaxConns = d.MaxConns
	}
	if c.CollectInterval <= 0 {
		c.CollectInterval = d.CollectInterval
	}
	if c.TailPollInterval <= 0 {
		c.TailPollInterval = d.TailPollInterval
	}
	if c.InvocationWindow <= 0 {
		c.InvocationWindow = d.InvocationWindow
	}
	if c.SessionWindow <= 0 {
		c.SessionWindow = d.SessionWindow
	}
	if c.InvocationCap <= 0 {
		c.InvocationCap = d.InvocationCap
	}
	if c.SessionCap <= 0 {
		c.SessionCap = d.SessionCap
	}
	if c.DurationCap <= 0 {
		c.DurationCap = d.DurationCap
	}
	if c.SequenceLength < 2 {
		c.SequenceLength = d.SequenceLength
	}
	if c.SequenceTopN <= 0 {
		c.SequenceTopN = d.SequenceTopN
	}
	if c.BottleneckSecs <= 0 {
		c.BottleneckSecs = d.BottleneckSecs
	}
	if c.PromptMaxBytes <= 0 {
		c.PromptMaxBytes = d.PromptMaxBytes
	}
	if c.HintRetention <= 0 {
		c.HintRetention = d.HintRetention
	}
	if c.MemWarnBytes == 0 {
		c.MemWarnBytes = d.MemWarnBytes
	}
	if c.MemCriticalBytes == 0 {
		c.MemCriticalBytes = d.MemCriticalBytes
	}
}
