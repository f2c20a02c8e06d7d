// Package config handles ctrlupgrade configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (ACC_*)
// 3. Config file (YAML), given by --config or a profile under ~/.acc
// 4. Defaults
//
// # Example Config File
//
//	server: https://acc.example.net/apm/acc
//	token: op://Operations/acc-api/credential
//	wait: 300
//	poll_interval: 5s
//
//	history:
//	  database_url: postgres://ctrlupgrade@db/ctrlupgrade
//
//	events:
//	  redis_url: redis://cache:6379/0
//
//	metrics:
//	  pushgateway_url: http://pushgateway:9091
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultProfile is loaded when it exists and nothing else was asked for.
const DefaultProfile = "default"

// Config is the complete ctrlupgrade configuration.
type Config struct {
	Server string `yaml:"server"` // API base URL
	Token  string `yaml:"token"`  // Bearer token or secret reference

	// Wait is the polling budget in seconds; 0 disables polling.
	Wait int `yaml:"wait"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PageSize       int           `yaml:"page_size"`
	RateLimit      float64       `yaml:"rate_limit"` // requests/second

	OnePassword OnePasswordConfig `yaml:"onepassword"`
	History     HistoryConfig     `yaml:"history"`
	Events      EventsConfig      `yaml:"events"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// OnePasswordConfig locates the 1Password Connect server used to resolve
// op:// token references.
type OnePasswordConfig struct {
	ConnectHost  string `yaml:"connect_host"`  // OP_CONNECT_HOST
	ConnectToken string `yaml:"connect_token"` // OP_CONNECT_TOKEN
}

// HistoryConfig enables the PostgreSQL run history.
type HistoryConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// EventsConfig enables Redis task events.
type EventsConfig struct {
	RedisURL string        `yaml:"redis_url"`
	Channel  string        `yaml:"channel"`
	TTL      time.Duration `yaml:"ttl"` // lifetime of cached task status
}

// MetricsConfig enables pushing run metrics to a Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Wait:           180,
		PollInterval:   3 * time.Second,
		RequestTimeout: 10 * time.Second,
		PageSize:       1000,
		RateLimit:      10,
		Events: EventsConfig{
			Channel: "ctrlupgrade:events",
			TTL:     24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Job: "ctrlupgrade",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ProfilePath returns the file backing a named profile: ~/.acc/<name>.yaml.
func ProfilePath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid profile name %q", name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".acc", name+".yaml"), nil
}

// Load picks the config source. An explicit path wins, then a named
// profile (argument or ACC_PROFILE), which must exist. Without either the
// default profile is used when present, otherwise built-in defaults.
func Load(path, profile string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}

	if profile == "" {
		profile = os.Getenv("ACC_PROFILE")
	}
	if profile != "" {
		p, err := ProfilePath(profile)
		if err != nil {
			return nil, err
		}
		cfg, err := LoadFromFile(p)
		if err != nil {
			return nil, fmt.Errorf("loading profile %s: %w", profile, err)
		}
		return cfg, nil
	}

	p, err := ProfilePath(DefaultProfile)
	if err != nil {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return LoadFromFile(p)
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server is required (--server, ACC_SERVER or config file)")
	}
	if !strings.HasPrefix(c.Server, "http://") && !strings.HasPrefix(c.Server, "https://") {
		return fmt.Errorf("server must be an http(s) URL: %q", c.Server)
	}
	if c.Wait < 0 {
		return fmt.Errorf("wait must not be negative: %d", c.Wait)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	return nil
}

// WaitDuration returns the polling budget.
func (c *Config) WaitDuration() time.Duration {
	return time.Duration(c.Wait) * time.Second
}

// ApplyEnvOverrides applies environment variable overrides:
// - ACC_SERVER
// - ACC_TOKEN
// - ACC_WAIT (seconds)
// - OP_CONNECT_HOST
// - OP_CONNECT_TOKEN
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("ACC_SERVER"); v != "" {
		c.Server = v
	}
	if v := os.Getenv("ACC_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("ACC_WAIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ACC_WAIT: %w", err)
		}
		c.Wait = n
	}
	if v := os.Getenv("OP_CONNECT_HOST"); v != "" {
		c.OnePassword.ConnectHost = v
	}
	if v := os.Getenv("OP_CONNECT_TOKEN"); v != "" {
		c.OnePassword.ConnectToken = v
	}
	return nil
}
