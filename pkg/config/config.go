// Package config loads the lookup tool configuration from defaults, an
// optional YAML file, a .env file and EXEMPTIONS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the lookup tool configuration.
type Config struct {
	// Upstream open data host; credentials are only sent to this host.
	DataHost         string `yaml:"data_host"`
	AppToken         string `yaml:"app_token"`
	CredentialHeader string `yaml:"credential_header"`

	ExemptionsURL string `yaml:"exemptions_url"`
	CodeLookupURL string `yaml:"code_lookup_url"`
	SchemaURL     string `yaml:"schema_url"`
	PlutoURL      string `yaml:"pluto_url"`

	// First tax year offered by the year selector.
	MinYear int `yaml:"min_year"`

	// Retry on 429
	MaxRetries        int           `yaml:"max_retries"`
	DefaultRetryAfter time.Duration `yaml:"default_retry_after"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`

	// Politeness delays between sequential queries
	ProbeDelay  time.Duration `yaml:"probe_delay"`
	ExportDelay time.Duration `yaml:"export_delay"`

	RecordLimit     int           `yaml:"record_limit"`
	ExportYearLimit int           `yaml:"export_year_limit"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`

	// Session cache; RedisURL empty means in-memory only.
	RedisURL   string        `yaml:"redis_url"`
	CacheSize  int           `yaml:"cache_size"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	LogLevel   string `yaml:"log_level"`
	LogPretty  bool   `yaml:"log_pretty"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns the configuration matching the public NYC open data
// endpoints.
func DefaultConfig() *Config {
	return &Config{
		DataHost:          "data.cityofnewyork.us",
		CredentialHeader:  "X-App-Token",
		ExemptionsURL:     "https://data.cityofnewyork.us/resource/muvi-b6kx.json",
		CodeLookupURL:     "https://data.cityofnewyork.us/resource/myn9-hwsy.json",
		SchemaURL:         "https://data.cityofnewyork.us/api/views/muvi-b6kx/columns.json",
		PlutoURL:          "https://data.cityofnewyork.us/resource/64uk-42ks.json",
		MinYear:           2021,
		MaxRetries:        3,
		DefaultRetryAfter: 2 * time.Second,
		BaseBackoff:       1 * time.Second,
		ProbeDelay:        75 * time.Millisecond,
		ExportDelay:       100 * time.Millisecond,
		RecordLimit:       5000,
		ExportYearLimit:   1000,
		HTTPTimeout:       30 * time.Second,
		CacheSize:         256,
		SessionTTL:        12 * time.Hour,
		LogLevel:          "info",
		ListenAddr:        ":8080",
	}
}

// Load builds a configuration from defaults, the YAML file at path (if path
// is not empty), a .env file in the working directory (if present) and the
// process environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DataHost = envString("EXEMPTIONS_DATA_HOST", c.DataHost)
	c.AppToken = envString("EXEMPTIONS_APP_TOKEN", c.AppToken)
	c.CredentialHeader = envString("EXEMPTIONS_CREDENTIAL_HEADER", c.CredentialHeader)
	c.ExemptionsURL = envString("EXEMPTIONS_URL", c.ExemptionsURL)
	c.CodeLookupURL = envString("EXEMPTIONS_CODE_LOOKUP_URL", c.CodeLookupURL)
	c.SchemaURL = envString("EXEMPTIONS_SCHEMA_URL", c.SchemaURL)
	c.PlutoURL = envString("EXEMPTIONS_PLUTO_URL", c.PlutoURL)
	c.RedisURL = envString("EXEMPTIONS_REDIS_URL", c.RedisURL)
	c.LogLevel = envString("EXEMPTIONS_LOG_LEVEL", c.LogLevel)
	c.ListenAddr = envString("EXEMPTIONS_LISTEN_ADDR", c.ListenAddr)

	var err error
	if c.MinYear, err = envInt("EXEMPTIONS_MIN_YEAR", c.MinYear); err != nil {
		return err
	}
	if c.MaxRetries, err = envInt("EXEMPTIONS_MAX_RETRIES", c.MaxRetries); err != nil {
		return err
	}
	if c.RecordLimit, err = envInt("EXEMPTIONS_RECORD_LIMIT", c.RecordLimit); err != nil {
		return err
	}
	if c.ExportYearLimit, err = envInt("EXEMPTIONS_EXPORT_YEAR_LIMIT", c.ExportYearLimit); err != nil {
		return err
	}
	if c.CacheSize, err = envInt("EXEMPTIONS_CACHE_SIZE", c.CacheSize); err != nil {
		return err
	}
	if c.DefaultRetryAfter, err = envDuration("EXEMPTIONS_DEFAULT_RETRY_AFTER", c.DefaultRetryAfter); err != nil {
		return err
	}
	if c.BaseBackoff, err = envDuration("EXEMPTIONS_BASE_BACKOFF", c.BaseBackoff); err != nil {
		return err
	}
	if c.ProbeDelay, err = envDuration("EXEMPTIONS_PROBE_DELAY", c.ProbeDelay); err != nil {
		return err
	}
	if c.ExportDelay, err = envDuration("EXEMPTIONS_EXPORT_DELAY", c.ExportDelay); err != nil {
		return err
	}
	if c.HTTPTimeout, err = envDuration("EXEMPTIONS_HTTP_TIMEOUT", c.HTTPTimeout); err != nil {
		return err
	}
	if c.SessionTTL, err = envDuration("EXEMPTIONS_SESSION_TTL", c.SessionTTL); err != nil {
		return err
	}
	if c.LogPretty, err = envBool("EXEMPTIONS_LOG_PRETTY", c.LogPretty); err != nil {
		return err
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.DataHost == "" {
		return fmt.Errorf("data host cannot be empty")
	}
	if c.CredentialHeader == "" {
		return fmt.Errorf("credential header cannot be empty")
	}
	for name, raw := range map[string]string{
		"exemptions url":  c.ExemptionsURL,
		"code lookup url": c.CodeLookupURL,
		"schema url":      c.SchemaURL,
		"pluto url":       c.PlutoURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}
	if c.MinYear <= 0 {
		return fmt.Errorf("min year must be positive")
	}
	// the year range runs from next calendar year down to MinYear
	if newest := time.Now().Year() + 1; c.MinYear > newest {
		return fmt.Errorf("min year %d is after the newest tax year %d", c.MinYear, newest)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.DefaultRetryAfter < 0 || c.BaseBackoff < 0 {
		return fmt.Errorf("retry durations cannot be negative")
	}
	if c.ProbeDelay < 0 || c.ExportDelay < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if c.RecordLimit <= 0 || c.ExportYearLimit <= 0 {
		return fmt.Errorf("result limits must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	return nil
}

func envString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}
	return value, nil
}

func envDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected a duration, got '%s'", key, valueStr)
	}
	return value, nil
}

func envBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: expected a boolean, got '%s'", key, valueStr)
	}
	return value, nil
}
