package mixer

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/emojimix/horosafe"
)

// DefaultSourceURL is the published emoji kitchen metadata document.
const DefaultSourceURL = "https://raw.githubusercontent.com/xsalazar/emoji-kitchen-backend/main/app/metadata.json"

// Config holds all emojimix configuration.
type Config struct {
	DBPath  string        `yaml:"db_path"`
	RawPath string        `yaml:"raw_path"`
	Addr    string        `yaml:"addr"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Refresh RefreshConfig `yaml:"refresh"`
	Cache   CacheConfig   `yaml:"cache"`
	Watch   WatchConfig   `yaml:"watch"`
	Admin   AdminConfig   `yaml:"admin"`
}

// FetchConfig controls the upstream download.
type FetchConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
	// Retries applies to transport failures only. Negative disables.
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// RefreshConfig controls the refresh cycle.
type RefreshConfig struct {
	// Timeout bounds fetch, persist, parse and replace together.
	Timeout time.Duration `yaml:"timeout"`
	// BootstrapPoll is how often a lookup waiting on another caller's
	// bootstrap re-checks the store.
	BootstrapPoll time.Duration `yaml:"bootstrap_poll"`
}

// CacheConfig controls the lookup memo.
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity uint64        `yaml:"capacity"`
}

// WatchConfig controls detection of refreshes made by other processes.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AdminConfig protects /update. An empty hash leaves it open.
type AdminConfig struct {
	PasswordHash string `yaml:"password_hash"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "emoji.db"
	}
	if c.RawPath == "" {
		c.RawPath = "metadata.json"
	}
	if c.Addr == "" {
		c.Addr = ":21387"
	}
	if c.Fetch.URL == "" {
		c.Fetch.URL = DefaultSourceURL
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 60 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = horosafe.MaxResponseBody
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "emojimix/1.0"
	}
	if c.Fetch.Retries == 0 {
		c.Fetch.Retries = 2
	}
	if c.Fetch.RetryBackoff <= 0 {
		c.Fetch.RetryBackoff = time.Second
	}
	if c.Refresh.Timeout <= 0 {
		c.Refresh.Timeout = 2 * time.Minute
	}
	if c.Refresh.BootstrapPoll <= 0 {
		c.Refresh.BootstrapPoll = 100 * time.Millisecond
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 10_000
	}
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = 2 * time.Second
	}
}

// Validate checks values defaults cannot repair.
func (c *Config) Validate() error {
	if err := horosafe.ValidateScheme(c.Fetch.URL); err != nil {
		return fmt.Errorf("fetch.url: %w", err)
	}
	return nil
}

// LoadConfigFile reads a YAML config file. Missing keys take their defaults
// when the Service is created.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}
