package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by vclsync. The API key, service ID and
// coordination store URL are required; the rest have defaults.
const (
	EnvAPIKey    = "FASTLY_API_KEY"
	EnvServiceID = "FASTLY_SERVICE_ID"
	EnvBaseURL   = "FASTLY_API_BASE_URL"
	EnvRedisURL  = "REDIS_URL"
	EnvVCLDir    = "VCL_DIR"
)

// Duration wraps time.Duration for YAML decoding of values like "5m"
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete vclsync configuration
type Config struct {
	API   APIConfig   `yaml:"api"`
	Lock  LockConfig  `yaml:"lock"`
	Local LocalConfig `yaml:"local"`
}

// APIConfig configures the remote configuration API. The key is sourced
// from the environment only, never from the config file.
type APIConfig struct {
	Key       string `yaml:"-"`
	ServiceID string `yaml:"service_id"`
	BaseURL   string `yaml:"base_url"`
	MainVCL   string `yaml:"main_vcl"`
}

// LockConfig configures the distributed deploy lock
type LockConfig struct {
	RedisURL string   `yaml:"redis_url"`
	Name     string   `yaml:"name"`
	TTL      Duration `yaml:"ttl"`
}

// LocalConfig configures the local VCL source directory
type LocalConfig struct {
	VCLDir string `yaml:"vcl_dir"`
}

// Load builds the configuration from an optional YAML file plus the
// environment. Environment variables override file values; defaults fill
// whatever remains. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(os.ExpandEnv(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.expandEnv()
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds the configuration from the environment alone
func FromEnv() (*Config, error) {
	return Load("")
}

// expandEnv expands environment variables in string fields loaded from file
func (c *Config) expandEnv() {
	c.API.ServiceID = os.ExpandEnv(c.API.ServiceID)
	c.API.BaseURL = os.ExpandEnv(c.API.BaseURL)
	c.API.MainVCL = os.ExpandEnv(c.API.MainVCL)
	c.Lock.RedisURL = os.ExpandEnv(c.Lock.RedisURL)
	c.Lock.Name = os.ExpandEnv(c.Lock.Name)
	c.Local.VCLDir = os.ExpandEnv(c.Local.VCLDir)
}

// applyEnv overrides fields from environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.API.Key = v
	}
	if v := os.Getenv(EnvServiceID); v != "" {
		c.API.ServiceID = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Lock.RedisURL = v
	}
	if v := os.Getenv(EnvVCLDir); v != "" {
		c.Local.VCLDir = v
	}
}

// applyDefaults fills in zero-value fields with sensible defaults
func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://api.fastly.com"
	}
	if c.API.MainVCL == "" {
		c.API.MainVCL = "main"
	}
	if c.Local.VCLDir == "" {
		c.Local.VCLDir = "./vcl"
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = Duration(5 * time.Minute)
	}
	if c.Lock.Name == "" && c.API.ServiceID != "" {
		c.Lock.Name = "vclsync:deploy:" + c.API.ServiceID
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.API.Key == "" {
		return fmt.Errorf("%s is required", EnvAPIKey)
	}
	if c.API.ServiceID == "" {
		return fmt.Errorf("api.service_id is required (or set %s)", EnvServiceID)
	}
	if c.Lock.RedisURL == "" {
		return fmt.Errorf("lock.redis_url is required (or set %s)", EnvRedisURL)
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}
	return nil
}
