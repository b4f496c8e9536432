// Package config loads the flagfilter server configuration.
//
// config.go contains the YAML file format, defaults and environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

const (
	DefaultListen    = ":8080"
	DefaultCacheSize = 1024
	DefaultTable     = "audiences"
)

// DefaultAudienceFiles is used when neither the file nor a database names a source.
var DefaultAudienceFiles = []string{"audiences"}

type Database struct {
	Driver string `yaml:"driver,omitempty"`
	URL    string `yaml:"url,omitempty"`
	Table  string `yaml:"table,omitempty"`
}

type RateLimit struct {
	// PerSecond of zero disables limiting.
	PerSecond float64 `yaml:"perSecond,omitempty"`
	Burst     int     `yaml:"burst,omitempty"`
}

type Config struct {
	Listen string `yaml:"listen,omitempty"`
	// AudienceFiles lists audience YAML files or directories to scan.
	AudienceFiles []string  `yaml:"audienceFiles,omitempty"`
	Database      Database  `yaml:"database,omitempty"`
	CacheSize     int       `yaml:"cacheSize,omitempty"`
	RateLimit     RateLimit `yaml:"rateLimit,omitempty"`
	LogLevel      string    `yaml:"logLevel,omitempty"`
	Watch         bool      `yaml:"watch,omitempty"`
	// APIKeys maps bearer tokens to the app they act for. When empty the
	// app is taken from the X-App-Id header.
	APIKeys map[string]string `yaml:"apiKeys,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path, fills in defaults, applies FLAGFILTER_* environment
// overrides and validates the result. An empty path loads only defaults
// and the environment.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	c.applyDefaults()
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.Database.URL != "" && c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Table == "" {
		c.Database.Table = DefaultTable
	}
	if len(c.AudienceFiles) == 0 && c.Database.URL == "" {
		c.AudienceFiles = append([]string(nil), DefaultAudienceFiles...)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.PerSecond)
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("FLAGFILTER_LISTEN"); ok {
		c.Listen = v
	}
	if v, ok := lookup("FLAGFILTER_DB_URL"); ok {
		c.Database.URL = v
		if c.Database.Driver == "" {
			c.Database.Driver = "postgres"
		}
	}
	if v, ok := lookup("FLAGFILTER_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("FLAGFILTER_CACHE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: FLAGFILTER_CACHE_SIZE: %v", ErrInvalid, err)
		}
		c.CacheSize = n
	}
	if v, ok := lookup("FLAGFILTER_AUDIENCE_FILES"); ok {
		c.AudienceFiles = strings.Split(v, ",")
	}
	return nil
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("%w: listen address is empty", ErrInvalid))
	}
	if c.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("%w: cacheSize must not be negative", ErrInvalid))
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("%w: rateLimit must not be negative", ErrInvalid))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(c.AudienceFiles) == 0 && c.Database.URL == "" {
		errs = append(errs, fmt.Errorf("%w: no audience source configured", ErrInvalid))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return l, nil
}

// Logger builds the text logger used by the command line tools.
func (c *Config) Logger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
