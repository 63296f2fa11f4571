package nav

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all navigation engine configuration.
type Config struct {
	// BaseURL anchors same-origin checks and relative resolution.
	BaseURL string `yaml:"base_url"`
	// PartialHeader is the request header marking partial fetches.
	PartialHeader string `yaml:"partial_header"`
	// IndicatorDelay is how long a fetch must run before the loading
	// indicator shows.
	IndicatorDelay time.Duration `yaml:"indicator_delay"`
	// FetchTimeout bounds one partial fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// HistoryDB is the navigation journal path. Empty disables journaling.
	HistoryDB string `yaml:"history_db"`
	// Sanitize runs fragment content through the HTML sanitizer before it
	// reaches the live document.
	Sanitize bool `yaml:"sanitize"`

	Manifest ManifestConfig `yaml:"manifest"`
}

// ManifestConfig controls island manifest loading and hot reload.
type ManifestConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Debounce     time.Duration `yaml:"debounce"`
}

func (c *Config) defaults() {
	if c.PartialHeader == "" {
		c.PartialHeader = DefaultPartialHeader
	}
	if c.IndicatorDelay <= 0 {
		c.IndicatorDelay = DefaultIndicatorDelay
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.Manifest.PollInterval <= 0 {
		c.Manifest.PollInterval = time.Second
	}
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}
