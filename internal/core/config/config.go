// Package config handles configuration loading and validation for databus.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/internal/core/validate"
)

// BridgePath is the HTTP path the websocket bridge is served on.
const BridgePath = "/bus"

// Config holds the application configuration.
type Config struct {
	// Namespace prefixes the tags of providers that do not set their own.
	Namespace      string           `yaml:"namespace"`
	Listen         string           `yaml:"listen"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	HTTP           HTTPConfig       `yaml:"http"`
	Providers      []ProviderConfig `yaml:"providers"`
	Journal        JournalConfig    `yaml:"journal"`
	Activity       ActivityConfig   `yaml:"activity"`
	DataDir        string           `yaml:"-"` // set by caller, not from config file
}

// HTTPConfig configures the upstream fetcher.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ProviderConfig declares a provider run by `databus serve`.
type ProviderConfig struct {
	Namespace    string `yaml:"namespace"`
	Store        string `yaml:"store"`
	Version      int    `yaml:"version"`
	APIURL       string `yaml:"api_url"`
	AllowRefresh bool   `yaml:"allow_refresh"`
}

// Channel returns the provider's channel, falling back to defaultNamespace.
func (p ProviderConfig) Channel(defaultNamespace string) messaging.Channel {
	ns := p.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	ch := messaging.NewChannel(p.Store, p.Version)
	if ns != "" {
		ch.Namespace = ns
	}
	return ch
}

// JournalConfig controls recording of bus traffic.
type JournalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Pattern    string `yaml:"pattern"`
	MaxRecords int    `yaml:"max_records"`
}

// ActivityConfig controls the provider activity log.
type ActivityConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:      messaging.DefaultNamespace,
		Listen:         "127.0.0.1:7420",
		AllowedOrigins: []string{},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		Providers: []ProviderConfig{},
		Journal: JournalConfig{
			Enabled:    true,
			Pattern:    "**",
			MaxRecords: 100,
		},
		Activity: ActivityConfig{
			Enabled:    true,
			MaxEntries: 1000,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Namespace == "" {
		c.Namespace = defaults.Namespace
	}
	if c.Listen == "" {
		c.Listen = defaults.Listen
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = defaults.HTTP.Timeout
	}
	if c.Journal.Pattern == "" {
		c.Journal.Pattern = defaults.Journal.Pattern
	}
	if c.Journal.MaxRecords == 0 {
		c.Journal.MaxRecords = defaults.Journal.MaxRecords
	}
	if c.Activity.MaxEntries == 0 {
		c.Activity.MaxEntries = defaults.Activity.MaxEntries
	}
	for i := range c.Providers {
		if c.Providers[i].Version == 0 {
			c.Providers[i].Version = 1
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if err := validate.Segment("namespace", c.Namespace); err != nil {
		return err
	}

	if c.Listen == "" {
		return fmt.Errorf("listen cannot be empty")
	}

	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout cannot be negative")
	}

	if !doublestar.ValidatePattern(c.Journal.Pattern) {
		return fmt.Errorf("journal.pattern %q is not a valid glob", c.Journal.Pattern)
	}

	if c.Journal.MaxRecords < 1 {
		return fmt.Errorf("journal.max_records must be at least 1")
	}

	if c.Activity.MaxEntries < 1 {
		return fmt.Errorf("activity.max_entries must be at least 1")
	}

	for i, p := range c.Providers {
		if err := p.Channel(c.Namespace).Validate(); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		if err := validate.APIURL(p.APIURL); err != nil {
			return fmt.Errorf("providers[%d].api_url: %w", i, err)
		}
	}

	return nil
}

// JournalDir returns the directory journal records are stored in.
func (c *Config) JournalDir() string {
	return filepath.Join(c.DataDir, "journal")
}

// ActivityDir returns the directory the activity log is stored in.
func (c *Config) ActivityDir() string {
	return c.DataDir
}

// BridgeURL returns the websocket URL local clients use to reach
// `databus serve`. Wildcard listen hosts are dialed on loopback.
func (c *Config) BridgeURL() string {
	addr := c.Listen
	if host, port, err := net.SplitHostPort(addr); err == nil {
		switch host {
		case "", "0.0.0.0", "::":
			addr = net.JoinHostPort("127.0.0.1", port)
		}
	}
	return "ws://" + addr + BridgePath
}
