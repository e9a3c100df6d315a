// Package config loads scrapecore configuration from defaults, an optional
// YAML file and SCRAPECORE_ environment variables.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Scraper   ScraperConfig             `mapstructure:"scraper"`
	Scheduler SchedulerConfig           `mapstructure:"scheduler"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ScraperConfig holds settings shared by all providers.
type ScraperConfig struct {
	DefinitionsDir    string        `mapstructure:"definitions_dir"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	Backoff           time.Duration `mapstructure:"backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	// DetailDelay overrides the descriptor delay between detail fetches when set.
	DetailDelay  time.Duration `mapstructure:"detail_delay"`
	CookieSecret string        `mapstructure:"cookie_secret"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// SchedulerConfig holds cache refresh scheduling.
type SchedulerConfig struct {
	CacheCron   string `mapstructure:"cache_cron"`
	RunOnStart  bool   `mapstructure:"run_on_start"`
	CleanupCron string `mapstructure:"cleanup_cron"`
}

// ProviderConfig is the per-site configuration handed to a provider.
type ProviderConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	MinSeed   int    `mapstructure:"minseed"`
	MinLeech  int    `mapstructure:"minleech"`
	Freeleech bool   `mapstructure:"freeleech"`
	Anime     bool   `mapstructure:"anime"`
	Digest    string `mapstructure:"digest"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// Values returns the settings exposed to descriptor templates.
func (p ProviderConfig) Values() map[string]string {
	values := make(map[string]string, 3)
	if p.Digest != "" {
		values["digest"] = p.Digest
	}
	if p.Username != "" {
		values["username"] = p.Username
	}
	if p.Password != "" {
		values["password"] = p.Password
	}
	return values
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8585,
		},
		Database: DatabaseConfig{
			Path: "./data/scrapecore.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Scraper: ScraperConfig{
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 1,
			Burst:             2,
			FailureThreshold:  3,
			Backoff:           time.Minute,
			MaxBackoff:        30 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			CacheCron:   "*/15 * * * *",
			CleanupCron: "0 3 * * *",
		},
		Providers: map[string]ProviderConfig{},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.scrapecore")
	}

	v.SetEnvPrefix("SCRAPECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalizeProviders()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("scraper.definitions_dir", "")
	v.SetDefault("scraper.request_timeout", d.Scraper.RequestTimeout)
	v.SetDefault("scraper.requests_per_second", d.Scraper.RequestsPerSecond)
	v.SetDefault("scraper.burst", d.Scraper.Burst)
	v.SetDefault("scraper.failure_threshold", d.Scraper.FailureThreshold)
	v.SetDefault("scraper.backoff", d.Scraper.Backoff)
	v.SetDefault("scraper.max_backoff", d.Scraper.MaxBackoff)
	v.SetDefault("scraper.detail_delay", time.Duration(0))
	v.SetDefault("scraper.cookie_secret", "")
	v.SetDefault("scraper.user_agent", "")

	v.SetDefault("scheduler.cache_cron", d.Scheduler.CacheCron)
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.cleanup_cron", d.Scheduler.CleanupCron)
}

// viper lowercases map keys; provider ids are matched case-insensitively anyway.
func (c *Config) normalizeProviders() {
	normalized := make(map[string]ProviderConfig, len(c.Providers))
	for id, p := range c.Providers {
		normalized[strings.ToLower(id)] = p
	}
	c.Providers = normalized
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Scraper.RequestsPerSecond < 0 {
		return fmt.Errorf("scraper.requests_per_second must not be negative")
	}
	for id, p := range c.Providers {
		if p.MinSeed < 0 || p.MinLeech < 0 {
			return fmt.Errorf("provider %s: minseed and minleech must not be negative", id)
		}
	}
	return nil
}

// EnabledProviders returns the ids of enabled providers in sorted order.
func (c *Config) EnabledProviders() []string {
	ids := make([]string, 0, len(c.Providers))
	for id, p := range c.Providers {
		if p.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
