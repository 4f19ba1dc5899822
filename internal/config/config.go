// Package config loads and hot-reloads the gateway's YAML configuration.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// SchedulingMode mirrors identity.Mode's string values without importing
// the identity package, so config stays leaf-level.
type SchedulingMode string

const (
	SchedulingRoundRobin    SchedulingMode = "round-robin"
	SchedulingLeastRecently SchedulingMode = "least-recently-used"
	SchedulingBestQuota     SchedulingMode = "best-quota"
	SchedulingSticky        SchedulingMode = "sticky"
)

// ModelMapping is one ordered rewrite rule: requests whose model matches
// Pattern are rewritten to Target. Pattern may be an exact model id or a
// simple glob (leading/trailing "*").
type ModelMapping struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Target  string `yaml:"target" json:"target"`
}

// UpstreamProxy configures an optional outbound HTTP/SOCKS5 proxy.
type UpstreamProxy struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
}

// Config is the full set of recognised options.
type Config struct {
	Port             int            `yaml:"port" json:"port"`
	APIKey           string         `yaml:"api_key" json:"api_key"`
	AllowLANAccess   bool           `yaml:"allow_lan_access" json:"allow_lan_access"`
	RequestTimeout   int            `yaml:"request_timeout" json:"request_timeout"`
	SchedulingMode   SchedulingMode `yaml:"scheduling_mode" json:"scheduling_mode"`
	AnthropicMapping []ModelMapping `yaml:"anthropic_mapping" json:"anthropic_mapping"`
	OpenAIMapping    []ModelMapping `yaml:"openai_mapping" json:"openai_mapping"`
	CustomMapping    []ModelMapping `yaml:"custom_mapping" json:"custom_mapping"`
	UpstreamProxy    UpstreamProxy  `yaml:"upstream_proxy" json:"upstream_proxy"`
}

// Default returns a Config with the documented defaults applied.
func Default() *Config {
	return &Config{
		Port:           8045,
		AllowLANAccess: false,
		RequestTimeout: 300,
		SchedulingMode: SchedulingRoundRobin,
	}
}

// BindAddress returns the address the listener should bind, honoring
// AllowLANAccess.
func (c *Config) BindAddress() string {
	host := "127.0.0.1"
	if c.AllowLANAccess {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// Load reads and parses a YAML config file, applying defaults for any
// field the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Store holds the live Config behind a lock so a background reload
// goroutine can swap it out while request handlers read a consistent
// snapshot.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore wraps an initial Config.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current Config snapshot.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set swaps in a newly loaded Config.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}
