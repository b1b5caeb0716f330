// Package config loads campaignd configuration from a TOML file with
// environment overrides. Every key has a default so the daemon starts with
// no config file at all.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/errors"
)

// Config is the full campaignd configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// QueueConfig configures the worker pool.
type QueueConfig struct {
	Workers             int `mapstructure:"workers"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// PollInterval returns the poll interval as a duration.
func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// BreakerConfig configures circuit breaker thresholds. Thresholds is keyed
// by service name and overrides the default per service.
type BreakerConfig struct {
	DefaultFailureThreshold int            `mapstructure:"default_failure_threshold"`
	Thresholds              map[string]int `mapstructure:"thresholds"`
}

// ServiceThresholds returns per-service overrides keyed by known service.
// Unknown service names in the config are ignored.
func (c BreakerConfig) ServiceThresholds() map[breaker.Service]int {
	out := make(map[breaker.Service]int, len(c.Thresholds))
	for name, n := range c.Thresholds {
		if breaker.IsKnownService(name) && n > 0 {
			out[breaker.Service(name)] = n
		}
	}
	return out
}

// ProvidersConfig configures third-party provider endpoints and pacing.
type ProvidersConfig struct {
	LeadSourceURL     string  `mapstructure:"lead_source_url"`
	EnrichmentURL     string  `mapstructure:"enrichment_url"`
	CopyGenURL        string  `mapstructure:"copy_gen_url"`
	OutreachURL       string  `mapstructure:"outreach_url"`
	VerificationURL   string  `mapstructure:"verification_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RetentionDays     int     `mapstructure:"retention_days"`
}

// URLs returns configured endpoints keyed by service. Services with no URL
// are omitted.
func (c ProvidersConfig) URLs() map[breaker.Service]string {
	urls := map[breaker.Service]string{
		breaker.ServiceLeadSource:   c.LeadSourceURL,
		breaker.ServiceEnrichment:   c.EnrichmentURL,
		breaker.ServiceCopyGen:      c.CopyGenURL,
		breaker.ServiceOutreach:     c.OutreachURL,
		breaker.ServiceVerification: c.VerificationURL,
	}
	for svc, url := range urls {
		if url == "" {
			delete(urls, svc)
		}
	}
	return urls
}

// Timeout returns the provider call timeout as a duration.
func (c ProvidersConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Retention returns the terminal-job retention window as a duration.
func (c ProvidersConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", defaultDatabasePath())
	v.SetDefault("server.port", 8090)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.poll_interval_seconds", 5)
	v.SetDefault("breaker.default_failure_threshold", 5)
	v.SetDefault("providers.requests_per_second", 5.0)
	v.SetDefault("providers.timeout_seconds", 30)
	v.SetDefault("providers.retention_days", 30)
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "campaignd.db"
	}
	return filepath.Join(home, ".campaignd", "campaignd.db")
}

// Load reads configuration from path. An empty path loads defaults plus
// environment overrides only; a missing file at an explicit path is an
// error. Environment variables use the CAMPAIGND_ prefix with dots replaced
// by underscores (CAMPAIGND_SERVER_PORT, CAMPAIGND_DATABASE_PATH).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix("CAMPAIGND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port %d out of range", c.Server.Port)
	}
	if c.Queue.Workers <= 0 {
		return errors.Newf("queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Breaker.DefaultFailureThreshold <= 0 {
		return errors.Newf("breaker.default_failure_threshold must be positive, got %d", c.Breaker.DefaultFailureThreshold)
	}
	return nil
}
