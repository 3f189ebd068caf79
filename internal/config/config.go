package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Feed    FeedConfig    `yaml:"feed"`
	Redis   RedisConfig   `yaml:"redis"`
	Journal JournalConfig `yaml:"journal"`
	Refresh RefreshConfig `yaml:"refresh"`
}

// ServerConfig controls the observability HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// APIConfig controls the REST client for the signal API.
type APIConfig struct {
	BaseURL           string `yaml:"base_url"`
	AuthToken         string `yaml:"auth_token"`
	UserAgent         string `yaml:"user_agent"`
	TimeoutMS         int    `yaml:"timeout_ms"`
	RPS               int    `yaml:"rps"`
	Burst             int    `yaml:"burst"`
	BreakerFailures   int    `yaml:"breaker_failures"`
	BreakerCooldownMS int    `yaml:"breaker_cooldown_ms"`
}

// FeedConfig controls the live event websocket and reconnection.
type FeedConfig struct {
	URL             string   `yaml:"url"`
	AuthToken       string   `yaml:"auth_token"`
	Scopes          []string `yaml:"scopes"` // markets to subscribe on startup
	BackoffBaseMS   int      `yaml:"backoff_base_ms"`
	BackoffMaxMS    int      `yaml:"backoff_max_ms"`
	PingSecs        int      `yaml:"ping_secs"`
	ReadTimeoutSecs int      `yaml:"read_timeout_secs"`
}

// RedisConfig controls the optional detail mirror.
type RedisConfig struct {
	Addr    string `yaml:"addr"` // empty disables the mirror
	TTLSecs int    `yaml:"ttl_secs"`
}

// JournalConfig controls the optional Postgres event journal.
type JournalConfig struct {
	DSN string `yaml:"dsn"` // empty disables the journal
}

// RefreshConfig tunes the pull-to-refresh gesture.
type RefreshConfig struct {
	Threshold  float64 `yaml:"threshold"`
	Resistance float64 `yaml:"resistance"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8087"
	}
	if c.API.TimeoutMS <= 0 {
		c.API.TimeoutMS = 10000
	}
	if c.API.RPS <= 0 {
		c.API.RPS = 10
	}
	if c.API.Burst <= 0 {
		c.API.Burst = 5
	}
	if c.API.BreakerFailures <= 0 {
		c.API.BreakerFailures = 5
	}
	if c.API.BreakerCooldownMS <= 0 {
		c.API.BreakerCooldownMS = 30000
	}
	if c.Feed.BackoffBaseMS <= 0 {
		c.Feed.BackoffBaseMS = 1000
	}
	if c.Feed.BackoffMaxMS <= 0 {
		c.Feed.BackoffMaxMS = 30000
	}
	if c.Feed.PingSecs <= 0 {
		c.Feed.PingSecs = 30
	}
	if c.Feed.ReadTimeoutSecs <= 0 {
		c.Feed.ReadTimeoutSecs = 60
	}
	if c.Redis.TTLSecs <= 0 {
		c.Redis.TTLSecs = 3600
	}
	if c.Refresh.Threshold <= 0 {
		c.Refresh.Threshold = 70
	}
	if c.Refresh.Resistance <= 0 {
		c.Refresh.Resistance = 0.5
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if len(c.Feed.Scopes) == 0 {
		return fmt.Errorf("feed.scopes must name at least one market")
	}
	if c.Feed.BackoffBaseMS > c.Feed.BackoffMaxMS {
		return fmt.Errorf("feed.backoff_base_ms %d exceeds backoff_max_ms %d", c.Feed.BackoffBaseMS, c.Feed.BackoffMaxMS)
	}
	return nil
}

func (c *Config) APITimeout() time.Duration { return time.Duration(c.API.TimeoutMS) * time.Millisecond }

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.API.BreakerCooldownMS) * time.Millisecond
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Feed.BackoffBaseMS) * time.Millisecond
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Feed.BackoffMaxMS) * time.Millisecond
}

func (c *Config) RedisTTL() time.Duration { return time.Duration(c.Redis.TTLSecs) * time.Second }

func (c *Config) PingInterval() time.Duration { return time.Duration(c.Feed.PingSecs) * time.Second }

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Feed.ReadTimeoutSecs) * time.Second
}
