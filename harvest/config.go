package harvest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/mcpharvest/harvest/internal/pipeline"
	"github.com/hazyhaar/mcpharvest/harvest/internal/ratelimit"
)

// Config holds the full harvest configuration.
type Config struct {
	DBPath         string          `yaml:"db_path"`
	Listen         string          `yaml:"listen"`
	LogLevel       string          `yaml:"log_level"`
	AdminTokenHash string          `yaml:"admin_token_hash"` // bcrypt hash of the admin bearer token
	Forge          ForgeConfig     `yaml:"forge"`
	GenAI          GenAIConfig     `yaml:"genai"`
	Pipeline       PipelineConfig  `yaml:"pipeline"`
	Scheduler      SchedulerConfig `yaml:"scheduler"`
	Facets         FacetsConfig    `yaml:"facets"`
}

// ForgeConfig configures the GitHub client and discovery search.
type ForgeConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout"`
	PerPage           int           `yaml:"per_page"`
	MaxPages          int           `yaml:"max_pages"`
	RequestsPerWindow int           `yaml:"requests_per_window"` // 0 disables
	Window            time.Duration `yaml:"window"`
	Query             string        `yaml:"query"`
}

// GenAIConfig configures the generative-language client.
type GenAIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerWindow int           `yaml:"requests_per_window"` // 0 disables
	Window            time.Duration `yaml:"window"`
	MaxReadmeChars    int           `yaml:"max_readme_chars"`
}

// PipelineConfig bounds one run.
type PipelineConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	IntakeRounds    int           `yaml:"intake_rounds"`
	BatchesPerRound int           `yaml:"batches_per_round"`
	MaxEnrichments  int           `yaml:"max_enrichments"`
	ForbiddenBudget int           `yaml:"forbidden_budget"`
	ClaimLease      time.Duration `yaml:"claim_lease"`
}

// SchedulerConfig configures periodic runs in serve mode.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// FacetsConfig is the discovery query space.
type FacetsConfig struct {
	Languages []string `yaml:"languages"`
	Licenses  []string `yaml:"licenses"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	p := pipeline.DefaultConfig()
	return &Config{
		DBPath:   "data/harvest.db",
		Listen:   ":8080",
		LogLevel: "info",
		Forge: ForgeConfig{
			Timeout:           30 * time.Second,
			PerPage:           30,
			MaxPages:          p.MaxPages,
			RequestsPerWindow: 25,
			Window:            time.Minute,
			Query:             p.SearchText,
		},
		GenAI: GenAIConfig{
			Model:             "gemini-2.0-flash",
			Timeout:           60 * time.Second,
			RequestsPerWindow: p.AIPerWindow,
			Window:            p.AIWindow,
			MaxReadmeChars:    p.MaxReadmeChars,
		},
		Pipeline: PipelineConfig{
			BatchSize:       p.BatchSize,
			IntakeRounds:    p.IntakeRounds,
			BatchesPerRound: p.BatchesPerRound,
			MaxEnrichments:  p.MaxEnrichments,
			ForbiddenBudget: p.ForbiddenBudget,
			ClaimLease:      p.ClaimLease,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Interval: 6 * time.Hour,
		},
		Facets: FacetsConfig{
			Languages: append([]string(nil), pipeline.DefaultLanguages...),
			Licenses:  append([]string(nil), pipeline.DefaultLicenses...),
		},
	}
}

// LoadConfig builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then environment variables. A .env file in
// the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("HARVEST_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Listen = ":" + v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("GITHUB_TOKEN"); v != "" {
		c.Forge.Token = v
	}
	if v := getenv("GEMINI_API_KEY"); v != "" {
		c.GenAI.APIKey = v
	}
	if v := getenv("ADMIN_TOKEN_HASH"); v != "" {
		c.AdminTokenHash = v
	}
	return nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q: use debug, info, warn or error", c.LogLevel)
	}
	if c.Forge.PerPage < 0 || c.Forge.PerPage > 100 {
		return fmt.Errorf("forge.per_page must be between 1 and 100")
	}
	if c.Forge.RequestsPerWindow < 0 || c.GenAI.RequestsPerWindow < 0 {
		return fmt.Errorf("requests_per_window must be >= 0")
	}
	if c.Forge.Window < 0 || c.GenAI.Window < 0 {
		return fmt.Errorf("window must be >= 0")
	}
	if c.Pipeline.BatchSize < 0 || c.Pipeline.ForbiddenBudget < 0 || c.Pipeline.MaxEnrichments < 0 {
		return fmt.Errorf("pipeline bounds must be >= 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval < time.Minute {
		return fmt.Errorf("scheduler.interval must be at least 1m")
	}
	if len(c.Facets.Languages) == 0 || len(c.Facets.Licenses) == 0 {
		return fmt.Errorf("facets.languages and facets.licenses must not be empty")
	}
	return nil
}

// PipelineConfig converts the YAML bounds into pipeline.Config.
func (c *Config) PipelineConfig() pipeline.Config {
	ai := c.GenAI.RequestsPerWindow
	if ai == 0 {
		ai = -1
	}
	return pipeline.Config{
		SearchText:      c.Forge.Query,
		MaxPages:        c.Forge.MaxPages,
		BatchSize:       c.Pipeline.BatchSize,
		IntakeRounds:    c.Pipeline.IntakeRounds,
		BatchesPerRound: c.Pipeline.BatchesPerRound,
		MaxEnrichments:  c.Pipeline.MaxEnrichments,
		ForbiddenBudget: c.Pipeline.ForbiddenBudget,
		ClaimLease:      c.Pipeline.ClaimLease,
		MaxReadmeChars:  c.GenAI.MaxReadmeChars,
		AIPerWindow:     ai,
		AIWindow:        c.GenAI.Window,
	}
}

// forgeLimiter gates forge calls. Nil when forge.requests_per_window is 0.
func (c *Config) forgeLimiter() *ratelimit.Limiter {
	return ratelimit.New(c.Forge.RequestsPerWindow, c.Forge.Window)
}
