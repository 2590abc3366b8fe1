// Package harvest discovers MCP servers on a code forge, catalogs their
// launch configuration and enriches the catalog with AI-written summaries
// and tags. Service is the entry point used by the HTTP routes, the MCP
// tools, the scheduler and the CLI.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/mcpharvest/harvest/internal/forge"
	"github.com/hazyhaar/mcpharvest/harvest/internal/genai"
	"github.com/hazyhaar/mcpharvest/harvest/internal/metrics"
	"github.com/hazyhaar/mcpharvest/harvest/internal/pipeline"
	"github.com/hazyhaar/mcpharvest/harvest/internal/ratelimit"
	"github.com/hazyhaar/mcpharvest/harvest/internal/scheduler"
	"github.com/hazyhaar/mcpharvest/harvest/internal/store"
	"github.com/hazyhaar/mcpharvest/kit"
)

// Re-exported so callers outside the module tree can name results.
type (
	Server         = store.Server
	Tag            = store.Tag
	Stats          = store.Stats
	ListFilter     = store.ListFilter
	RunLog         = store.RunLog
	Facet          = pipeline.Facet
	Report         = pipeline.Report
	DiscoverResult = pipeline.DiscoverResult
	IntakeResult   = pipeline.IntakeResult
	EnrichResult   = pipeline.EnrichResult
)

// Service runs the harvest pipeline against one catalog store.
type Service struct {
	store    *store.Store
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	config   *Config
	logger   *slog.Logger
	facets   []pipeline.Facet

	forge       pipeline.Forge
	ai          genai.Generator
	registerer  prometheus.Registerer
	limiterOpts []ratelimit.Option

	// stage is held by whichever stage or full run is executing.
	stage     sync.Mutex
	runs      singleflight.Group
	nextFacet atomic.Int64

	bgCtx     context.Context
	bgCancel  context.CancelFunc
	bg        sync.WaitGroup
	ownsStore bool
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithForge replaces the GitHub client (tests use a fake).
func WithForge(f pipeline.Forge) ServiceOption {
	return func(s *Service) { s.forge = f }
}

// WithGenerator replaces the Gemini client.
func WithGenerator(g genai.Generator) ServiceOption {
	return func(s *Service) { s.ai = g }
}

// WithRegisterer registers pipeline metrics on reg. Without it metrics are
// not collected.
func WithRegisterer(reg prometheus.Registerer) ServiceOption {
	return func(s *Service) { s.registerer = reg }
}

// WithLimiterOptions is passed to the per-run AI limiter.
func WithLimiterOptions(opts ...ratelimit.Option) ServiceOption {
	return func(s *Service) { s.limiterOpts = opts }
}

// New creates a Service over st.
func New(st *store.Store, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		store:  st,
		config: cfg,
		logger: logger,
		facets: pipeline.Facets(cfg.Facets.Languages, cfg.Facets.Licenses),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.forge == nil {
		svc.forge = forge.New(
			forge.WithBaseURL(cfg.Forge.BaseURL),
			forge.WithToken(cfg.Forge.Token),
			forge.WithTimeout(cfg.Forge.Timeout),
			forge.WithPerPage(cfg.Forge.PerPage),
			forge.WithLimiter(cfg.forgeLimiter()),
			forge.WithLogger(logger),
		)
	}
	if svc.ai == nil {
		svc.ai = genai.New(
			genai.WithBaseURL(cfg.GenAI.BaseURL),
			genai.WithAPIKey(cfg.GenAI.APIKey),
			genai.WithModel(cfg.GenAI.Model),
			genai.WithTimeout(cfg.GenAI.Timeout),
			genai.WithLogger(logger),
		)
	}
	if svc.registerer != nil {
		svc.metrics = metrics.New(svc.registerer)
	}

	svc.pipeline = pipeline.New(st, svc.forge, svc.ai, cfg.PipelineConfig(),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(svc.metrics),
		pipeline.WithLimiterOptions(svc.limiterOpts...),
	)
	svc.bgCtx, svc.bgCancel = context.WithCancel(context.Background())
	return svc, nil
}

// Open opens the catalog database at cfg.DBPath and creates a Service
// over it. Close also closes the database.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	svc, err := New(st, cfg, logger, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	svc.ownsStore = true
	return svc, nil
}

// Start launches the periodic scheduler when enabled. It returns at once;
// the scheduler stops with ctx or Close.
func (svc *Service) Start(ctx context.Context) {
	if !svc.config.Scheduler.Enabled {
		svc.logger.Info("harvest: started, scheduler disabled")
		return
	}
	sched := scheduler.New(func(ctx context.Context, tick int) error {
		ctx = kit.WithTransport(kit.WithTrigger(ctx, "scheduler"), "internal")
		_, err := svc.RunOnce(ctx, -1)
		return err
	}, scheduler.Config{Interval: svc.config.Scheduler.Interval}, svc.logger)

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(svc.bgCtx, cancel)
	svc.bg.Add(1)
	go func() {
		defer svc.bg.Done()
		defer stop()
		defer cancel()
		sched.Run(ctx)
	}()
	svc.logger.Info("harvest: started", "interval", svc.config.Scheduler.Interval)
}

// Close cancels background runs and waits for them to return.
func (svc *Service) Close() error {
	svc.bgCancel()
	svc.bg.Wait()
	svc.logger.Info("harvest: closed")
	if svc.ownsStore {
		svc.ownsStore = false
		return svc.store.Close()
	}
	return nil
}

// Facets returns the discovery query space.
func (svc *Service) Facets() []Facet {
	return append([]Facet(nil), svc.facets...)
}

// Facet returns the facet at index i.
func (svc *Service) Facet(i int) (Facet, error) {
	if i < 0 || i >= len(svc.facets) {
		return Facet{}, fmt.Errorf("%w: %d (have %d)", ErrInvalidFacet, i, len(svc.facets))
	}
	return svc.facets[i], nil
}

// rotate picks the facet for an unspecified run, cycling through all.
func (svc *Service) rotate() Facet {
	n := svc.nextFacet.Add(1) - 1
	return svc.facets[int(n%int64(len(svc.facets)))]
}

func (svc *Service) resolveFacet(i int) (Facet, error) {
	if i == -1 {
		return svc.rotate(), nil
	}
	return svc.Facet(i)
}

// --- Pipeline triggers ---

// RunOnce runs discovery for facetIndex (-1 picks the next facet in
// rotation), then intake, then enrichment. Concurrent callers share one
// run, which belongs to the service: a caller whose ctx is cancelled stops
// waiting, the run goes on until it finishes or Close. ErrRunInProgress is
// returned while a single stage is executing.
func (svc *Service) RunOnce(ctx context.Context, facetIndex int) (*Report, error) {
	if facetIndex != -1 {
		if _, err := svc.Facet(facetIndex); err != nil {
			return nil, err
		}
	}
	runCtx := svc.detach(ctx)
	ch := svc.runs.DoChan("run", func() (any, error) {
		if !svc.stage.TryLock() {
			return nil, ErrRunInProgress
		}
		defer svc.stage.Unlock()
		svc.bg.Add(1)
		defer svc.bg.Done()

		facet, err := svc.resolveFacet(facetIndex)
		if err != nil {
			return nil, err
		}
		return svc.run(runCtx, facet)
	})
	select {
	case res := <-ch:
		if res.Shared {
			svc.logger.Debug("harvest: joined running pipeline")
		}
		rep, _ := res.Val.(*Report)
		return rep, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Discover runs the discovery stage for one facet.
func (svc *Service) Discover(ctx context.Context, facetIndex int) (*DiscoverResult, error) {
	facet, err := svc.Facet(facetIndex)
	if err != nil {
		return nil, err
	}
	if !svc.stage.TryLock() {
		return nil, ErrRunInProgress
	}
	defer svc.stage.Unlock()
	return svc.discover(ctx, facet)
}

// Intake drains the pending discovery queue.
func (svc *Service) Intake(ctx context.Context) (*IntakeResult, error) {
	if !svc.stage.TryLock() {
		return nil, ErrRunInProgress
	}
	defer svc.stage.Unlock()
	return svc.intake(ctx)
}

// Enrich drains the pending enrichment queue. With serverID set only that
// server is (re)processed.
func (svc *Service) Enrich(ctx context.Context, serverID string) (*EnrichResult, error) {
	if err := svc.checkServer(ctx, serverID); err != nil {
		return nil, err
	}
	if !svc.stage.TryLock() {
		return nil, ErrRunInProgress
	}
	defer svc.stage.Unlock()
	return svc.enrich(ctx, serverID)
}

// StartRun is RunOnce in the background. It fails only when the pipeline
// is busy or the facet is invalid.
func (svc *Service) StartRun(ctx context.Context, facetIndex int) error {
	facet, err := svc.resolveFacet(facetIndex)
	if err != nil {
		return err
	}
	return svc.background(ctx, "run", func(ctx context.Context) error {
		_, err := svc.run(ctx, facet)
		return err
	})
}

// StartDiscover is Discover in the background.
func (svc *Service) StartDiscover(ctx context.Context, facetIndex int) error {
	facet, err := svc.Facet(facetIndex)
	if err != nil {
		return err
	}
	return svc.background(ctx, "discovery", func(ctx context.Context) error {
		_, err := svc.discover(ctx, facet)
		return err
	})
}

// StartIntake is Intake in the background.
func (svc *Service) StartIntake(ctx context.Context) error {
	return svc.background(ctx, "intake", func(ctx context.Context) error {
		_, err := svc.intake(ctx)
		return err
	})
}

// StartEnrich is Enrich in the background.
func (svc *Service) StartEnrich(ctx context.Context, serverID string) error {
	if err := svc.checkServer(ctx, serverID); err != nil {
		return err
	}
	return svc.background(ctx, "enrichment", func(ctx context.Context) error {
		_, err := svc.enrich(ctx, serverID)
		return err
	})
}

// background takes the stage lock and runs fn detached from the request.
// The request's trigger, transport and request id are carried over; its
// cancellation is not. Outcomes land in the run log.
func (svc *Service) background(ctx context.Context, stage string, fn func(context.Context) error) error {
	if !svc.stage.TryLock() {
		return ErrRunInProgress
	}
	runCtx := svc.detach(ctx)

	svc.logger.Debug("harvest: background stage started", "stage", stage)
	svc.bg.Add(1)
	go func() {
		defer svc.bg.Done()
		defer svc.stage.Unlock()
		_ = fn(runCtx)
	}()
	return nil
}

// detach returns a context under the service lifetime carrying the
// trigger, transport and request id of ctx.
func (svc *Service) detach(ctx context.Context) context.Context {
	runCtx := kit.WithTrigger(svc.bgCtx, kit.GetTrigger(ctx))
	runCtx = kit.WithTransport(runCtx, kit.GetTransport(ctx))
	return kit.WithRequestID(runCtx, kit.GetRequestID(ctx))
}

func (svc *Service) checkServer(ctx context.Context, serverID string) error {
	if serverID == "" {
		return nil
	}
	srv, err := svc.store.GetServer(ctx, serverID)
	if err != nil {
		return err
	}
	if srv == nil {
		return fmt.Errorf("%w: server %s", ErrNotFound, serverID)
	}
	return nil
}

// The unexported stage methods assume the stage lock is held.

func (svc *Service) run(ctx context.Context, facet Facet) (*Report, error) {
	return record(ctx, svc, "run", facet, func(ctx context.Context) (*Report, error) {
		svc.logger.Info("harvest: run started", "facet", facet.Index, "language", facet.Language, "license", facet.License)
		return svc.pipeline.Run(ctx, &facet)
	})
}

func (svc *Service) discover(ctx context.Context, facet Facet) (*DiscoverResult, error) {
	return record(ctx, svc, "discovery", facet, func(ctx context.Context) (*DiscoverResult, error) {
		return svc.pipeline.Discover(ctx, facet)
	})
}

func (svc *Service) intake(ctx context.Context) (*IntakeResult, error) {
	return record(ctx, svc, "intake", nil, svc.pipeline.RunIntake)
}

func (svc *Service) enrich(ctx context.Context, serverID string) (*EnrichResult, error) {
	var params any
	if serverID != "" {
		params = map[string]string{"server_id": serverID}
	}
	return record(ctx, svc, "enrichment", params, func(ctx context.Context) (*EnrichResult, error) {
		return svc.pipeline.RunEnrichment(ctx, serverID)
	})
}

// record runs one stage, observes it in metrics and appends it to the run
// log. A run log write failure is logged, never returned.
func record[T any](ctx context.Context, svc *Service, stage string, params any, fn func(context.Context) (*T, error)) (*T, error) {
	trigger := kit.GetTrigger(ctx)
	done := svc.metrics.Run(stage, trigger)
	start := time.Now()

	res, err := fn(ctx)
	done()

	entry := &store.RunLog{
		Stage:      stage,
		Trigger:    trigger,
		Transport:  kit.GetTransport(ctx),
		RequestID:  kit.GetRequestID(ctx),
		StartedAt:  start.UnixMilli(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if params != nil {
		if b, merr := json.Marshal(params); merr == nil {
			entry.Parameters = string(b)
		}
	}
	if res != nil {
		if b, merr := json.Marshal(res); merr == nil {
			entry.Result = string(b)
		}
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if lerr := svc.store.InsertRunLog(context.WithoutCancel(ctx), entry); lerr != nil {
		svc.logger.Error("harvest: write run log", "stage", stage, "error", lerr)
	}

	log := svc.logger.With("stage", stage, "trigger", trigger, "duration_ms", entry.DurationMs)
	if err != nil {
		log.Warn("harvest: stage finished with error", "error", err)
	} else {
		log.Info("harvest: stage done")
	}
	return res, err
}

// RunLogs returns the latest stage executions, newest first.
func (svc *Service) RunLogs(ctx context.Context, limit int) ([]*RunLog, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidInput)
	}
	if limit > 500 {
		limit = 500
	}
	return svc.store.ListRunLogs(ctx, limit)
}

// --- Catalog reads ---

// ListServers returns catalog records, most starred first.
func (svc *Service) ListServers(ctx context.Context, f ListFilter) ([]*Server, error) {
	if f.Limit < 0 || f.Offset < 0 || f.MinStars < 0 {
		return nil, fmt.Errorf("%w: negative limit, offset or min_stars", ErrInvalidInput)
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	f.Tag = strings.ToLower(strings.TrimSpace(f.Tag))
	return svc.store.ListServers(ctx, f)
}

// GetServerBySeq returns the record with sequence number seq.
func (svc *Service) GetServerBySeq(ctx context.Context, seq int64) (*Server, error) {
	srv, err := svc.store.GetServerBySeq(ctx, seq)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, fmt.Errorf("%w: server #%d", ErrNotFound, seq)
	}
	return srv, nil
}

// GetServerByURL looks a record up by repository URL. Clone and browse
// forms of the URL both match.
func (svc *Service) GetServerByURL(ctx context.Context, url string) (*Server, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	norm := pipeline.NormalizeURL(url)
	srv, err := svc.store.GetServerByURL(ctx, norm)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, fmt.Errorf("%w: server %s", ErrNotFound, norm)
	}
	return srv, nil
}

// ListTags returns every known tag, alphabetically.
func (svc *Service) ListTags(ctx context.Context) ([]*Tag, error) {
	return svc.store.ListTags(ctx)
}

// Stats returns per-collection counters.
func (svc *Service) Stats(ctx context.Context) (*Stats, error) {
	return svc.store.Stats(ctx)
}

// VerifyAdminToken reports whether token matches the configured bcrypt
// hash. With no hash configured every token is refused.
func (svc *Service) VerifyAdminToken(token string) bool {
	if svc.config.AdminTokenHash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(svc.config.AdminTokenHash), []byte(token)) == nil
}
