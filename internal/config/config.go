// Package config provides configuration loading and management for opsmetric.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Source    SourceConfig      `yaml:"source"`
	Catalogue CatalogueConfig   `yaml:"catalogue"`
	Countries map[string]string `yaml:"countries"`
	Schedule  ScheduleConfig    `yaml:"schedule"`
	Digest    DigestConfig      `yaml:"digest"`
	Notifier  NotifierConfig    `yaml:"notifier"`
	Server    ServerConfig      `yaml:"server"`
}

// SourceConfig selects and parameterizes the data source backend.
type SourceConfig struct {
	// Backend is one of: postgres, sqlite, csv, mock.
	Backend string `yaml:"backend"`

	// Postgres connection settings.
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	// Path is the database file for sqlite, or the table directory for csv.
	Path string `yaml:"path"`

	// Seed drives the mock backend's deterministic generator.
	Seed int64 `yaml:"seed"`
}

// DSN returns the PostgreSQL connection string.
func (s *SourceConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.DBName, s.SSLMode,
	)
}

// CatalogueConfig locates the KPI catalogue within the data source.
type CatalogueConfig struct {
	// Table is the name of the catalogue table.
	Table string `yaml:"table"`
}

// ScheduleConfig defines when digest jobs run.
type ScheduleConfig struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`

	// Location is resolved from Timezone by Validate.
	Location *time.Location `yaml:"-"`
}

// DigestConfig defines the scope of scheduled KPI digests.
type DigestConfig struct {
	// Country is the country the digest covers.
	Country string `yaml:"country"`

	// Week pins the digest to a specific week. Empty means the latest week
	// found in WeeksTable.
	Week string `yaml:"week"`

	// WeeksTable is where the latest week is discovered.
	WeeksTable string `yaml:"weeks_table"`
}

// NotifierConfig holds notification channel settings.
type NotifierConfig struct {
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Retries    int    `yaml:"retries"`
	RetryDelay string `yaml:"retry_delay"`
}

// RetryDelayParsed returns the parsed retry delay duration.
func (n *NotifierConfig) RetryDelayParsed() (time.Duration, error) {
	return time.ParseDuration(n.RetryDelay)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port      int  `yaml:"port"`
	DeepCheck bool `yaml:"deep_check"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} and ${VAR:-default} patterns in the input string.
func expandEnvVars(input string) string {
	// Pattern: ${VAR:-default} or ${VAR}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) > 2 {
			defaultVal = parts[2]
		}

		if val, exists := os.LookupEnv(varName); exists {
			return val
		}
		return defaultVal
	})
}

// applyDefaults sets default values for any unset configuration fields.
func applyDefaults(cfg *Config) {
	// Source defaults
	if cfg.Source.Backend == "" {
		cfg.Source.Backend = "mock"
	}
	if cfg.Source.Host == "" {
		cfg.Source.Host = "127.0.0.1"
	}
	if cfg.Source.Port == 0 {
		cfg.Source.Port = 5432
	}
	if cfg.Source.User == "" {
		cfg.Source.User = "opsmetric_readonly"
	}
	if cfg.Source.DBName == "" {
		cfg.Source.DBName = "opsmetric"
	}
	if cfg.Source.SSLMode == "" {
		cfg.Source.SSLMode = "disable"
	}
	if cfg.Source.Seed == 0 {
		cfg.Source.Seed = 42
	}

	// Catalogue defaults
	if cfg.Catalogue.Table == "" {
		cfg.Catalogue.Table = "kpi_catalogue"
	}

	// Schedule defaults (6-field cron with seconds)
	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = "0 0 8 * * 1" // Every Monday at 8:00 AM
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "UTC"
	}

	// Digest defaults
	if cfg.Digest.WeeksTable == "" {
		cfg.Digest.WeeksTable = "interventions"
	}

	// Notifier defaults
	if cfg.Notifier.Type == "" {
		cfg.Notifier.Type = "console"
	}
	if cfg.Notifier.Retries == 0 {
		cfg.Notifier.Retries = 3
	}
	if cfg.Notifier.RetryDelay == "" {
		cfg.Notifier.RetryDelay = "1s"
	}

	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	validBackends := map[string]bool{"postgres": true, "sqlite": true, "csv": true, "mock": true}
	if !validBackends[c.Source.Backend] {
		errs = append(errs, "source.backend must be one of: postgres, sqlite, csv, mock")
	}
	switch c.Source.Backend {
	case "postgres":
		if c.Source.Host == "" {
			errs = append(errs, "source.host is required for the postgres backend")
		}
	case "sqlite", "csv":
		if c.Source.Path == "" {
			errs = append(errs, fmt.Sprintf("source.path is required for the %s backend", c.Source.Backend))
		}
	}

	// Validate notifier type
	validNotifierTypes := map[string]bool{"webhook": true, "console": true}
	if !validNotifierTypes[c.Notifier.Type] {
		errs = append(errs, "notifier.type must be one of: webhook, console")
	}

	// Validate notifier webhook URL
	if c.Notifier.Type == "webhook" && c.Notifier.WebhookURL == "" {
		errs = append(errs, "notifier.webhook_url is required when type is 'webhook'")
	}

	// Validate durations
	if _, err := c.Notifier.RetryDelayParsed(); err != nil {
		errs = append(errs, fmt.Sprintf("notifier.retry_delay is invalid: %v", err))
	}

	// Resolve the schedule timezone
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		errs = append(errs, fmt.Sprintf("schedule.timezone is invalid: %v", err))
	} else {
		c.Schedule.Location = loc
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
