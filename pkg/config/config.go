// Package config loads the YAML configuration for the asset-sync freshness
// engine, following the teacher's pattern: nested structs tagged for
// gopkg.in/yaml.v3, github.com/creasty/defaults populating the operational
// defaults spec.md calls out by name, and a Validate step before the config
// is handed to the DI layer.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Config is the root of config.yaml.
type Config struct {
	Environment string          `yaml:"environment" default:"development"`
	Logger      LoggerConfig    `yaml:"logger"`
	Server      ServerConfig    `yaml:"server"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Store       StoreConfig     `yaml:"store"`
	Sink        SinkConfig      `yaml:"sink"`
	Planner     PlannerConfig   `yaml:"planner"`
	Runtime     RuntimeConfig   `yaml:"runtime"`
	Providers   ProvidersConfig `yaml:"providers"`
	// SpecFile points at the YAML document of AssetSpec records (spec.md
	// §6.4) that the declarative reconciliation applies once on startup;
	// it is not reloaded while the process runs (SIGHUP is not handled).
	SpecFile string `yaml:"spec_file" default:"config/streams.yaml"`
}

type LoggerConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"console"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// StoreConfig configures the Manifest Store (spec.md §4.1, §6.3).
type StoreConfig struct {
	// SQLitePath is the database file; ":memory:" is valid for tests but
	// loses state across restarts.
	SQLitePath string `yaml:"sqlite_path" default:"data/assetsync.db"`
}

// SinkConfig configures the ClickHouse sink (spec.md §6.2, §2A).
type SinkConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"assetsync"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http" default:"false"`
	AsyncInsert      bool          `yaml:"async_insert" default:"true"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert" default:"false"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

// PlannerConfig carries the tunables spec.md §4.3 names explicitly.
type PlannerConfig struct {
	Tick            time.Duration `yaml:"tick" default:"60s"`
	HotWindow       time.Duration `yaml:"hot_window" default:"15m"`
	FailureCooldown time.Duration `yaml:"failure_cooldown" default:"10m"`
	GapRetention    time.Duration `yaml:"gap_retention" default:"24h"`
	// MaxAttempts bounds how many times a gap is leased before it is given
	// up on for good (spec.md §7, §8 scenario 1).
	MaxAttempts int `yaml:"max_attempts" default:"5"`
}

// RuntimeConfig carries the tunables spec.md §4.4 names explicitly.
type RuntimeConfig struct {
	Concurrency      int           `yaml:"concurrency" default:"0"` // 0 => number of cores
	LeaseTTL         time.Duration `yaml:"lease_ttl" default:"5m"`
	ShutdownGrace    time.Duration `yaml:"shutdown_grace" default:"30s"`
	IdlePoll         time.Duration `yaml:"idle_poll" default:"2s"`
	MaxCommitRetries int           `yaml:"max_commit_retries" default:"5"`
}

// ProvidersConfig holds per-provider credentials and overrides. Only
// "alpaca" is wired end-to-end (spec.md §2A); the map shape lets a second
// provider register without touching the planner or runtime.
type ProvidersConfig struct {
	Alpaca AlpacaConfig `yaml:"alpaca"`
}

type AlpacaConfig struct {
	APIKeyID       string        `yaml:"api_key_id"`
	APISecretKey   string        `yaml:"api_secret_key"`
	BaseURL        string        `yaml:"base_url" default:"https://data.alpaca.markets"`
	Plan           string        `yaml:"plan" default:"free"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
}

// Load reads and parses a YAML configuration file, applying
// github.com/creasty/defaults before validating (spec.md §1A).
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides secrets with environment
// variables, matching the teacher's pattern of never requiring credentials
// in a checked-in file.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("ALPACA_API_KEY_ID"); v != "" {
		c.Providers.Alpaca.APIKeyID = v
	}
	if v := os.Getenv("ALPACA_API_SECRET_KEY"); v != "" {
		c.Providers.Alpaca.APISecretKey = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.Sink.Password = v
	}
	return c, nil
}

// Validate checks the invariants the config layer is responsible for before
// anything touches the manifest store (spec.md §7 Configuration class).
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Store.SQLitePath == "" {
		return fmt.Errorf("store.sqlite_path is required")
	}
	if c.Runtime.Concurrency < 0 {
		return fmt.Errorf("runtime.concurrency must be >= 0")
	}
	if c.Planner.Tick <= 0 {
		return fmt.Errorf("planner.tick must be positive")
	}
	if c.Runtime.LeaseTTL <= 0 {
		return fmt.Errorf("runtime.lease_ttl must be positive")
	}
	if c.Planner.MaxAttempts <= 0 {
		return fmt.Errorf("planner.max_attempts must be positive")
	}
	return nil
}
