// Package config loads service settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/zombar/newsranker/internal/provider"
	"github.com/zombar/newsranker/internal/scorer"
	"github.com/zombar/newsranker/internal/selector"
)

// Provider types
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Config holds all configuration for the service and CLI.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Providers []ProviderConfig `yaml:"providers"` // Order defines the fallback chain
	Scoring   ScoringConfig    `yaml:"scoring"`
	Selection SelectionConfig  `yaml:"selection"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the asynq broker settings.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Concurrency int    `yaml:"concurrency"`
}

// ProviderConfig describes one LLM backend.
type ProviderConfig struct {
	Type      string           `yaml:"type"` // "ollama", "openai", "mock"
	URL       string           `yaml:"url"`
	Model     string           `yaml:"model"`
	APIKey    string           `yaml:"api_key"`
	APIKeyEnv string           `yaml:"api_key_env"` // Environment variable holding the API key
	Timeout   time.Duration    `yaml:"timeout"`
	Pricing   provider.Pricing `yaml:"pricing"`
}

// ResolvedAPIKey returns APIKey, or the value of APIKeyEnv when APIKey is empty.
func (p ProviderConfig) ResolvedAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// ScoringConfig tunes the scoring prompts.
type ScoringConfig struct {
	PrimaryLanguage    string  `yaml:"primary_language"`
	ScoringTemperature float64 `yaml:"scoring_temperature"`
	ScoringMaxTokens   int     `yaml:"scoring_max_tokens"`
	SummaryTemperature float64 `yaml:"summary_temperature"`
	SummaryMaxTokens   int     `yaml:"summary_max_tokens"`
	MaxBodyRunes       int     `yaml:"max_body_runes"`
	ExcerptRunes       int     `yaml:"excerpt_runes"`
}

// ScorerConfig converts to the scorer's settings
func (s ScoringConfig) ScorerConfig() scorer.Config {
	return scorer.Config{
		PrimaryLanguage:    s.PrimaryLanguage,
		ScoringTemperature: s.ScoringTemperature,
		ScoringMaxTokens:   s.ScoringMaxTokens,
		SummaryTemperature: s.SummaryTemperature,
		SummaryMaxTokens:   s.SummaryMaxTokens,
		MaxBodyRunes:       s.MaxBodyRunes,
		ExcerptRunes:       s.ExcerptRunes,
	}
}

// SelectionConfig holds selection parameters and the optional schedule.
type SelectionConfig struct {
	selector.Params `yaml:",inline"`
	Schedule        string        `yaml:"schedule"` // Cron expression, empty disables scheduled runs
	Window          time.Duration `yaml:"window"`   // How far back scheduled runs look
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Default returns the default configuration.
func Default() *Config {
	sc := scorer.DefaultConfig()
	return &Config{
		Server:   ServerConfig{Port: "8080", CORSOrigins: []string{"*"}},
		Database: DatabaseConfig{Path: "newsranker.db"},
		Redis:    RedisConfig{Addr: "localhost:6379", Concurrency: 1},
		Providers: []ProviderConfig{
			{Type: ProviderOllama, URL: "http://localhost:11434", Model: "gpt-oss:20b", Timeout: 360 * time.Second},
		},
		Scoring: ScoringConfig{
			PrimaryLanguage:    sc.PrimaryLanguage,
			ScoringTemperature: sc.ScoringTemperature,
			ScoringMaxTokens:   sc.ScoringMaxTokens,
			SummaryTemperature: sc.SummaryTemperature,
			SummaryMaxTokens:   sc.SummaryMaxTokens,
			MaxBodyRunes:       sc.MaxBodyRunes,
			ExcerptRunes:       sc.ExcerptRunes,
		},
		Selection: SelectionConfig{
			Params: selector.DefaultParams(),
			Window: 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKER_CONCURRENCY: %w", err)
		}
		c.Redis.Concurrency = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if url, model := os.Getenv("OLLAMA_URL"), os.Getenv("OLLAMA_MODEL"); url != "" || model != "" {
		p := c.provider(ProviderOllama, true)
		if url != "" {
			p.URL = url
		}
		if model != "" {
			p.Model = model
		}
	}

	// An OpenAI key in the environment adds the fallback provider when the
	// file does not configure one.
	key, model, baseURL := os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_MODEL"), os.Getenv("OPENAI_BASE_URL")
	if key != "" || model != "" || baseURL != "" {
		p := c.provider(ProviderOpenAI, key != "")
		if p != nil {
			if key != "" {
				p.APIKey = key
			}
			if model != "" {
				p.Model = model
			}
			if baseURL != "" {
				p.URL = baseURL
			}
		}
	}
	return nil
}

// provider returns the first provider of type typ, appending one when create
// is set and none exists.
func (c *Config) provider(typ string, create bool) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Type == typ {
			return &c.Providers[i]
		}
	}
	if !create {
		return nil
	}
	c.Providers = append(c.Providers, ProviderConfig{Type: typ})
	return &c.Providers[len(c.Providers)-1]
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider is required"))
	}
	for i, p := range c.Providers {
		switch p.Type {
		case ProviderOllama, ProviderMock:
		case ProviderOpenAI:
			if p.ResolvedAPIKey() == "" {
				errs = append(errs, fmt.Errorf("providers[%d]: openai requires api_key or api_key_env", i))
			}
		default:
			errs = append(errs, fmt.Errorf("providers[%d]: unknown type %q", i, p.Type))
		}
		if p.Pricing.InputPerMillion < 0 || p.Pricing.OutputPerMillion < 0 {
			errs = append(errs, fmt.Errorf("providers[%d]: pricing must not be negative", i))
		}
	}

	if c.Selection.Limit < 1 {
		errs = append(errs, fmt.Errorf("selection.limit must be at least 1, got %d", c.Selection.Limit))
	}
	if err := c.Selection.Params.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("selection: %w", err))
	}
	if c.Selection.Schedule != "" {
		if _, err := cron.ParseStandard(c.Selection.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("selection.schedule: %w", err))
		}
		if c.Selection.Window <= 0 {
			errs = append(errs, errors.New("selection.window must be positive when a schedule is set"))
		}
	}

	if c.Redis.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("redis.concurrency must be at least 1, got %d", c.Redis.Concurrency))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
