package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/mcpharvest/harvest/internal/metrics"
	"github.com/hazyhaar/mcpharvest/harvest/internal/ratelimit"
)

// EnrichResult counts what an enrichment run did.
type EnrichResult struct {
	Drained   int  `json:"drained"`
	Enriched  int  `json:"enriched"`
	Fallback  int  `json:"fallback"`
	Malformed int  `json:"malformed"`
	NoTags    int  `json:"no_tags"`
	Forbidden int  `json:"forbidden"`
	Errors    int  `json:"errors"`
	Aborted   bool `json:"aborted"`
}

func (r *EnrichResult) count(outcome string) {
	r.Drained++
	switch outcome {
	case metrics.OutcomeEnriched:
		r.Enriched++
	case metrics.OutcomeFallback:
		r.Fallback++
	case metrics.OutcomeMalformed:
		r.Malformed++
	case metrics.OutcomeNoTags:
		r.NoTags++
	case metrics.OutcomeForbidden:
		r.Forbidden++
	default:
		r.Errors++
	}
}

// Report is the outcome of a full pipeline run.
type Report struct {
	Discovery  *DiscoverResult `json:"discovery,omitempty"`
	Intake     *IntakeResult   `json:"intake"`
	Enrichment *EnrichResult   `json:"enrichment"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
}

// RunIntake drains the pending discovery queue in bounded rounds of batches.
// Each round starts only if unprocessed items remain, and a batch that
// claims nothing ends the run. The forbidden budget is shared by all
// batches; ErrBudgetExhausted is returned with the partial result.
func (p *Pipeline) RunIntake(ctx context.Context) (*IntakeResult, error) {
	total := &IntakeResult{}
	budget := NewBudget(p.cfg.ForbiddenBudget)

	for round := 0; round < p.cfg.IntakeRounds; round++ {
		pending, err := p.store.CountPendingDiscovery(ctx)
		if err != nil {
			return total, err
		}
		if pending == 0 {
			break
		}
		for b := 0; b < p.cfg.BatchesPerRound; b++ {
			res, err := p.DrainDiscoveryBatch(ctx, p.cfg.BatchSize, budget)
			total.add(res)
			p.logger.Info("pipeline: intake batch",
				"round", round+1, "batch", b+1, "claimed", res.Claimed,
				"cataloged", res.Cataloged, "skipped", res.Duplicates+res.NotFound+res.NoConfig+res.Malformed,
				"failed", res.Errors+res.Forbidden, "budget", budget.Remaining())
			if err != nil {
				return total, err
			}
			if res.Claimed == 0 {
				return total, nil
			}
		}
	}
	return total, nil
}

// RunEnrichment drains up to MaxEnrichments items through the AI stage. A
// non-empty targetServerID drains just that server's item. The AI limiter
// and forbidden budget belong to this run only.
func (p *Pipeline) RunEnrichment(ctx context.Context, targetServerID string) (*EnrichResult, error) {
	total := &EnrichResult{}
	budget := NewBudget(p.cfg.ForbiddenBudget)
	limiter := ratelimit.New(p.cfg.AIPerWindow, p.cfg.AIWindow, p.limiterOpt...)

	limit := p.cfg.MaxEnrichments
	if targetServerID != "" {
		limit = 1
	}
	for i := 0; i < limit; i++ {
		res, err := p.DrainOneEnrichment(ctx, targetServerID, limiter, budget)
		if res == nil && err == nil {
			break
		}
		if res != nil {
			total.count(res.Outcome)
		}
		if errors.Is(err, ErrBudgetExhausted) {
			total.Aborted = true
			p.logger.Warn("pipeline: enrichment aborted, forbidden budget exhausted", "drained", total.Drained)
			return total, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return total, ctxErr
		}
		if res == nil {
			// Claim failed at the store level.
			return total, err
		}
		if (i+1)%50 == 0 {
			p.logger.Info("pipeline: enrichment progress", "drained", total.Drained, "enriched", total.Enriched)
		}
	}
	p.logger.Info("pipeline: enrichment done",
		"drained", total.Drained, "enriched", total.Enriched, "fallback", total.Fallback,
		"no_tags", total.NoTags, "forbidden", total.Forbidden, "errors", total.Errors)
	return total, nil
}

// Run executes discovery for facet (skipped when nil), then intake, then
// enrichment. An exhausted forbidden budget or failed discovery is logged
// and the next stage still runs; only cancellation and store errors stop
// the run.
func (p *Pipeline) Run(ctx context.Context, facet *Facet) (*Report, error) {
	rep := &Report{StartedAt: time.Now()}
	defer func() { rep.Duration = time.Since(rep.StartedAt) }()

	if facet != nil {
		res, err := p.Discover(ctx, *facet)
		rep.Discovery = res
		if err != nil {
			if ctx.Err() != nil {
				return rep, err
			}
			p.logger.Warn("pipeline: discovery incomplete", "facet", facet.Index, "error", err)
		}
	}

	intake, err := p.RunIntake(ctx)
	rep.Intake = intake
	if err != nil && !errors.Is(err, ErrBudgetExhausted) {
		return rep, err
	}

	enrich, err := p.RunEnrichment(ctx, "")
	rep.Enrichment = enrich
	if err != nil && !errors.Is(err, ErrBudgetExhausted) {
		return rep, err
	}
	return rep, nil
}
