package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultLookbackDays  = 150
	DefaultBatchSize     = 80
	MaxBatchSize         = 100 // Gmail rejects larger batch requests
	DefaultMaxRetries    = 5
	DefaultInitialDelay  = time.Second
	DefaultTemplateSheet = "Template"
	DefaultCategory      = "Uncategorized"
)

// DefaultRequiredKeywords are the currency markers a body must mention before
// it is handed to a parser.
var DefaultRequiredKeywords = []string{"inr", "rs."}

var (
	ErrNoIssuers        = errors.New("no issuers configured")
	ErrInvalidDirection = errors.New("pattern direction must be 1 or -1")
)

// Pattern is one ordered extraction rule as written in the config file.
type Pattern struct {
	Pattern   string `yaml:"pattern"`
	Direction int    `yaml:"direction"`
}

// Issuer describes one bank/card issuer whose notification emails are parsed.
type Issuer struct {
	Name                   string    `yaml:"name"`
	ParserClass            string    `yaml:"parser_class"`
	Patterns               []Pattern `yaml:"patterns"`
	EmailQuery             string    `yaml:"email_query"`
	NotifyBalance          bool      `yaml:"notify_balance"`
	NotifyExcludeMerchants []string  `yaml:"notify_exclude_merchants"`
}

// Config is the contents of config.yml.
type Config struct {
	SpreadsheetID    string        `yaml:"spreadsheet_id"`
	TemplateSheet    string        `yaml:"template_sheet"`
	LookbackDays     int           `yaml:"lookback_days"`
	Debug            bool          `yaml:"debug"`
	BatchSize        int           `yaml:"batch_size"`
	MaxRetries       *int          `yaml:"max_retries"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	RequiredKeywords []string      `yaml:"required_keywords"`
	Timezone         string        `yaml:"timezone"`
	Issuers          []Issuer      `yaml:"issuers"`

	location *time.Location
}

// ConfigError ties a validation failure to the issuer it was found in.
type ConfigError struct {
	Issuer string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("issuer %q: %v", e.Issuer, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config at %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes YAML config bytes, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.TemplateSheet == "" {
		c.TemplateSheet = DefaultTemplateSheet
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = DefaultLookbackDays
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries == nil {
		n := DefaultMaxRetries
		c.MaxRetries = &n
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.RequiredKeywords == nil {
		c.RequiredKeywords = append([]string(nil), DefaultRequiredKeywords...)
	}
	c.location = time.Local
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", c.Timezone, err)
		}
		c.location = loc
	}
	return nil
}

// Validate checks the shape of the config. Parser construction (regex
// compilation, parser class lookup) is checked separately by the issuer package.
func (c *Config) Validate() error {
	if len(c.Issuers) == 0 {
		return ErrNoIssuers
	}
	seen := make(map[string]struct{}, len(c.Issuers))
	for i, iss := range c.Issuers {
		name := strings.TrimSpace(iss.Name)
		if name == "" {
			return &ConfigError{Issuer: fmt.Sprintf("#%d", i+1), Err: errors.New("name is required")}
		}
		if _, dup := seen[name]; dup {
			return &ConfigError{Issuer: name, Err: errors.New("duplicate issuer name")}
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(iss.EmailQuery) == "" {
			return &ConfigError{Issuer: name, Err: errors.New("email_query is required")}
		}
		for j, p := range iss.Patterns {
			if p.Direction != 1 && p.Direction != -1 {
				return &ConfigError{Issuer: name, Err: fmt.Errorf("pattern %d: %w", j+1, ErrInvalidDirection)}
			}
		}
	}
	if c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch_size %d exceeds the Gmail batch limit of %d", c.BatchSize, MaxBatchSize)
	}
	if *c.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	return nil
}

// Location is the time zone transaction dates are rendered in.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// Retries returns the configured rate-limit retry cap.
func (c *Config) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// Dir returns the directory holding config.yml, client_secret.json,
// token.json and the sqlite cache.
func Dir() (string, error) {
	if d := os.Getenv("MAILMINT_CONFIG_DIR"); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "mailmint"), nil
}
