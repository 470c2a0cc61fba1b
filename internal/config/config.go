// Package config provides configuration management for coursecheck.
// Configuration is loaded once at startup from an optional YAML file with
// environment variable overrides, then injected explicitly everywhere.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonesrussell/coursecheck/internal/logger"
)

// Database holds PostgreSQL connection settings.
type Database struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Validate checks the database configuration.
func (d *Database) Validate() error {
	if d.Host == "" {
		return errors.New("database host is required")
	}
	if d.DBName == "" {
		return errors.New("database name is required")
	}
	return nil
}

// Server holds the status API server settings.
type Server struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Runner holds job-runner settings.
type Runner struct {
	// TickInterval is the cadence at which ProcessTick is invoked.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// SweepInterval is the cadence of the stale-lock reclamation sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// DefaultMaxConcurrency bounds concurrent jobs per tick when the run
	// does not specify its own limit.
	DefaultMaxConcurrency int `mapstructure:"default_max_concurrency"`
	// LockTTL is the lease duration stamped on claimed jobs.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// Validate checks the runner configuration.
func (r *Runner) Validate() error {
	if r.DefaultMaxConcurrency <= 0 {
		return errors.New("default_max_concurrency must be positive")
	}
	if r.LockTTL <= 0 {
		return errors.New("lock_ttl must be positive")
	}
	return nil
}

// Provider holds one LLM backend's settings. A provider with an empty
// APIKey is left out of the provider set at bootstrap.
type Provider struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// Providers holds all configured LLM backends.
type Providers struct {
	Anthropic Provider `mapstructure:"anthropic"`
	OpenAI    Provider `mapstructure:"openai"`
	Gemini    Provider `mapstructure:"gemini"`
	DeepSeek  Provider `mapstructure:"deepseek"`
}

// Scraper holds source-adapter settings.
type Scraper struct {
	// AllowedHosts is the scraper adapter's host allowlist.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
	// FetchTimeout bounds a single content fetch.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// UserAgent is sent on all outbound content fetches.
	UserAgent string `mapstructure:"user_agent"`
}

// Secrets holds the credential cipher settings.
type Secrets struct {
	// Key is the 32-byte secretbox key, hex encoded.
	Key string `mapstructure:"key"`
}

// Config is the root application configuration.
type Config struct {
	Logger    logger.Config `mapstructure:"logger"`
	Database  Database      `mapstructure:"database"`
	Server    Server        `mapstructure:"server"`
	Runner    Runner        `mapstructure:"runner"`
	Providers Providers     `mapstructure:"providers"`
	Scraper   Scraper       `mapstructure:"scraper"`
	Secrets   Secrets       `mapstructure:"secrets"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Runner.Validate(); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	return nil
}

// Load reads configuration from the given file path (optional), environment
// variables prefixed with COURSECHECK_, and built-in defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("COURSECHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults and environment variables apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "coursecheck")
	v.SetDefault("database.dbname", "coursecheck")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("runner.tick_interval", 15*time.Second)
	v.SetDefault("runner.sweep_interval", time.Minute)
	v.SetDefault("runner.default_max_concurrency", 3)
	v.SetDefault("runner.lock_ttl", 90*time.Second)

	v.SetDefault("providers.anthropic.default_model", "claude-sonnet-4-20250514")
	v.SetDefault("providers.anthropic.timeout", 60*time.Second)
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.default_model", "gpt-4o")
	v.SetDefault("providers.openai.timeout", 60*time.Second)
	v.SetDefault("providers.gemini.default_model", "gemini-2.0-flash")
	v.SetDefault("providers.gemini.timeout", 60*time.Second)
	v.SetDefault("providers.deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("providers.deepseek.default_model", "deepseek-chat")
	v.SetDefault("providers.deepseek.timeout", 60*time.Second)

	v.SetDefault("scraper.fetch_timeout", 30*time.Second)
	v.SetDefault("scraper.user_agent", "coursecheck/1.0")
}
