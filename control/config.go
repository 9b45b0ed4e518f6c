// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed configuration loaded through viper, plus a thread-safe key/value
// store with reload listeners for values changed at run time.

package control

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix             = "KQ"
	defaultConfigTemplate = `# hioload-kq configuration
[scan]
batch_size = 32          # events copied out per queue-lock release

[timer]
resolution = "1ms"       # scheduler tick, timer intervals round up to it
max_per_owner = 4096     # 0 disables the cap

[queue]
check_invariants = false # verify ready-list accounting after every scan

[reactor]
max_events = 128         # epoll_wait batch

[logging]
level = "info"           # debug, info, warn, error
format = "json"          # json, console
output = "stderr"        # stderr, stdout, or a file path

[metrics]
enabled = false
namespace = "kq"
runtime = false          # also export Go and process collectors
`
)

type ScanConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type TimerConfig struct {
	Resolution  time.Duration `mapstructure:"resolution"`
	MaxPerOwner int           `mapstructure:"max_per_owner"`
}

type QueueConfig struct {
	CheckInvariants bool `mapstructure:"check_invariants"`
}

type ReactorConfig struct {
	MaxEvents int `mapstructure:"max_events"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Runtime   bool   `mapstructure:"runtime"`
}

// Config is the full runtime configuration.
type Config struct {
	Scan    ScanConfig    `mapstructure:"scan"`
	Timer   TimerConfig   `mapstructure:"timer"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Reactor ReactorConfig `mapstructure:"reactor"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		panic(fmt.Sprintf("control: default config: %v", err))
	}
	return cfg
}

// LoadConfig layers the defaults, an optional TOML/YAML/JSON file at path
// and KQ_* environment variables (KQ_SCAN_BATCH_SIZE and so on).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewBufferString(defaultConfigTemplate)); err != nil {
		return nil, fmt.Errorf("control: default config: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			v.SetConfigType(ext)
		}
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("control: read %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("control: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Scan.BatchSize <= 0 {
		return fmt.Errorf("control: scan.batch_size must be positive, got %d", c.Scan.BatchSize)
	}
	if c.Timer.Resolution <= 0 {
		return fmt.Errorf("control: timer.resolution must be positive, got %s", c.Timer.Resolution)
	}
	if c.Timer.MaxPerOwner < 0 {
		return fmt.Errorf("control: timer.max_per_owner must not be negative")
	}
	if c.Reactor.MaxEvents <= 0 {
		return fmt.Errorf("control: reactor.max_events must be positive, got %d", c.Reactor.MaxEvents)
	}
	return nil
}

// Store returns a ConfigStore seeded with the tunables that may change at
// run time.
func (c *Config) Store() *ConfigStore {
	cs := NewConfigStore()
	cs.config[KeyScanBatchSize] = c.Scan.BatchSize
	cs.config[KeyCheckInvariants] = c.Queue.CheckInvariants
	return cs
}

// Keys understood by ConfigStore listeners.
const (
	KeyScanBatchSize   = "scan.batch_size"
	KeyCheckInvariants = "queue.check_invariants"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func(snapshot map[string]any)
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.snapshotLocked()
}

// Int returns key as an int, or def when unset or of another type.
func (cs *ConfigStore) Int(key string, def int) int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if v, ok := cs.config[key].(int); ok {
		return v
	}
	return def
}

// SetConfig merges new values and runs the listeners synchronously with the
// merged snapshot.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	snap := cs.snapshotLocked()
	listeners := append([]func(map[string]any){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(snapshot map[string]any)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

func (cs *ConfigStore) snapshotLocked() map[string]any {
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}
