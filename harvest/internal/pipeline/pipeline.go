// Package pipeline runs the harvest stages: discovery fills the pending
// discovery queue from forge search, intake turns queued repositories into
// catalog records, and enrichment rewrites each record's description and
// tags with AI output. Every stage drains its queue oldest-first through
// leased claims, so overlapping runs never take the same item.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/mcpharvest/harvest/internal/forge"
	"github.com/hazyhaar/mcpharvest/harvest/internal/genai"
	"github.com/hazyhaar/mcpharvest/harvest/internal/metrics"
	"github.com/hazyhaar/mcpharvest/harvest/internal/ratelimit"
	"github.com/hazyhaar/mcpharvest/harvest/internal/readme"
	"github.com/hazyhaar/mcpharvest/harvest/internal/store"
)

// Forge is the subset of the forge client the stages call.
type Forge interface {
	Search(ctx context.Context, q forge.Query, page int) ([]forge.Repo, error)
	Repository(ctx context.Context, owner, repo string) (*forge.RepoMeta, error)
	Readme(ctx context.Context, owner, repo string) (*forge.Readme, error)
}

// Config bounds the work done by one run.
type Config struct {
	SearchText      string        // free text of every discovery query
	MaxPages        int           // search pages per facet
	BatchSize       int           // discovery items per intake batch
	IntakeRounds    int           // outer intake loop, pending count checked each round
	BatchesPerRound int           // intake batches per round
	MaxEnrichments  int           // enrichment drains per run
	ForbiddenBudget int           // quota errors tolerated per stage per run
	ClaimLease      time.Duration // how long a claimed item stays invisible
	MaxReadmeChars  int           // prepared README size sent to the AI, negative for no limit
	AIPerWindow     int           // AI calls admitted per AIWindow, negative for no limit
	AIWindow        time.Duration
}

// DefaultConfig returns the bounds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		SearchText:      "mcp server",
		MaxPages:        10,
		BatchSize:       10,
		IntakeRounds:    15,
		BatchesPerRound: 10,
		MaxEnrichments:  1000,
		ForbiddenBudget: 3,
		ClaimLease:      10 * time.Minute,
		MaxReadmeChars:  20000,
		AIPerWindow:     10,
		AIWindow:        time.Minute,
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.SearchText == "" {
		c.SearchText = d.SearchText
	}
	if c.MaxPages <= 0 {
		c.MaxPages = d.MaxPages
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.IntakeRounds <= 0 {
		c.IntakeRounds = d.IntakeRounds
	}
	if c.BatchesPerRound <= 0 {
		c.BatchesPerRound = d.BatchesPerRound
	}
	if c.MaxEnrichments <= 0 {
		c.MaxEnrichments = d.MaxEnrichments
	}
	if c.ForbiddenBudget <= 0 {
		c.ForbiddenBudget = d.ForbiddenBudget
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = d.ClaimLease
	}
	if c.MaxReadmeChars == 0 {
		c.MaxReadmeChars = d.MaxReadmeChars
	}
	if c.AIPerWindow == 0 {
		c.AIPerWindow = d.AIPerWindow
	}
	if c.AIWindow <= 0 {
		c.AIWindow = d.AIWindow
	}
}

// Pipeline wires the stores and external clients of the harvest stages.
type Pipeline struct {
	store      *store.Store
	forge      Forge
	ai         genai.Generator
	parser     *readme.Parser
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
	limiterOpt []ratelimit.Option
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLimiterOptions is applied to the AI limiter created for each
// enrichment run (for testing with a simulated clock).
func WithLimiterOptions(opts ...ratelimit.Option) Option {
	return func(p *Pipeline) { p.limiterOpt = opts }
}

// New creates a Pipeline. Zero fields of cfg take DefaultConfig values.
func New(s *store.Store, f Forge, ai genai.Generator, cfg Config, opts ...Option) *Pipeline {
	cfg.fill()
	p := &Pipeline{
		store:  s,
		forge:  f,
		ai:     ai,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.parser = readme.NewParser(p.logger)
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// NormalizeURL strips surrounding space, a trailing slash and a trailing
// ".git" so that clone and browse URLs of one repository compare equal.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimRight(u, "/")
	return strings.TrimSuffix(u, ".git")
}

// PlaceholderDescription is stored at intake until enrichment succeeds.
func PlaceholderDescription(url string) string {
	return fmt.Sprintf("We apologize for the inconvenience: a description of this MCP server is still being prepared. "+
		"See %s for its documentation.", url)
}

// FallbackDescription replaces the placeholder when the AI produced no
// usable summary.
func FallbackDescription(name, url string) string {
	return fmt.Sprintf("%s is an MCP server. We apologize for the inconvenience: no summary could be generated. "+
		"See %s for its documentation.", name, url)
}
