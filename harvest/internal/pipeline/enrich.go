package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/mcpharvest/harvest/internal/genai"
	"github.com/hazyhaar/mcpharvest/harvest/internal/metrics"
	"github.com/hazyhaar/mcpharvest/harvest/internal/ratelimit"
	"github.com/hazyhaar/mcpharvest/harvest/internal/store"
)

// EnrichItemResult describes one drained enrichment item.
type EnrichItemResult struct {
	ServerID    string   `json:"server_id"`
	Outcome     string   `json:"outcome"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// DrainOneEnrichment claims one pending enrichment item and runs the two AI
// calls for it, each admitted by limiter. With targetServerID empty the
// oldest unprocessed item is taken; otherwise the item for that server is
// taken whatever its processed flag. Returns nil, nil when nothing could be
// claimed.
//
// Forbidden responses spend budget and leave the item unprocessed;
// ErrBudgetExhausted is returned once budget runs out.
func (p *Pipeline) DrainOneEnrichment(ctx context.Context, targetServerID string, limiter *ratelimit.Limiter, budget *Budget) (*EnrichItemResult, error) {
	var item *store.PendingEnrichment
	var err error
	if targetServerID != "" {
		item, err = p.store.ClaimEnrichmentByServer(ctx, targetServerID, p.cfg.ClaimLease)
	} else {
		item, err = p.store.ClaimNextEnrichment(ctx, p.cfg.ClaimLease)
	}
	if err != nil || item == nil {
		return nil, err
	}

	res, err := p.enrichItem(ctx, item, limiter)
	p.metrics.Enrichment(res.Outcome)

	switch res.Outcome {
	case metrics.OutcomeEnriched, metrics.OutcomeFallback, metrics.OutcomeMalformed:
		if merr := p.store.MarkEnrichmentProcessed(ctx, item.ID); merr != nil {
			return res, fmt.Errorf("mark enrichment processed: %w", merr)
		}
		return res, nil
	}

	// Left unprocessed. A targeted call releases at once so it can be
	// retried; a queue drain keeps the lease so this run moves on.
	if targetServerID != "" || ctx.Err() != nil {
		if rerr := p.store.ReleaseEnrichment(context.WithoutCancel(ctx), item.ID); rerr != nil {
			p.logger.Error("pipeline: release enrichment item", "id", item.ID, "error", rerr)
		}
	}
	if res.Outcome == metrics.OutcomeForbidden && budget.Spend() {
		return res, ErrBudgetExhausted
	}
	return res, err
}

func (p *Pipeline) enrichItem(ctx context.Context, item *store.PendingEnrichment, limiter *ratelimit.Limiter) (*EnrichItemResult, error) {
	res := &EnrichItemResult{ServerID: item.ServerID}
	log := p.logger.With("stage", "enrichment", "id", item.ID, "seq", item.Seq, "server_id", item.ServerID)

	if item.ServerID == "" || item.PreparedReadme == "" {
		log.Info("pipeline: malformed enrichment item")
		res.Outcome = metrics.OutcomeMalformed
		return res, nil
	}
	srv, err := p.store.GetServer(ctx, item.ServerID)
	if err != nil {
		log.Error("pipeline: load server", "error", err)
		res.Outcome = metrics.OutcomeError
		return res, err
	}
	if srv == nil {
		log.Info("pipeline: enrichment item references a missing server")
		res.Outcome = metrics.OutcomeMalformed
		return res, nil
	}
	name := item.ServerName
	if name == "" {
		name = srv.Detail.Name
	}

	raw, err := p.generate(ctx, limiter, genai.SummaryPrompt(item.PreparedReadme))
	if outcome, stop := p.classifyAI(log, "summary", err); stop {
		res.Outcome = outcome
		return res, err
	}
	summary, readmeTags, perr := genai.ParseSummary(raw)
	if perr != nil {
		log.Info("pipeline: unusable summary response", "error", perr)
	}
	res.Outcome = metrics.OutcomeEnriched
	if summary == "" {
		summary = FallbackDescription(name, srv.URL)
		res.Outcome = metrics.OutcomeFallback
	}

	raw, err = p.generate(ctx, limiter, genai.TagPrompt(name))
	if outcome, stop := p.classifyAI(log, "tags", err); stop {
		res.Outcome = outcome
		return res, err
	}
	nameTags, perr := genai.ParseTags(raw)
	if len(nameTags) == 0 {
		log.Info("pipeline: no tags derived from name", "name", name, "parse_error", perr)
		res.Outcome = metrics.OutcomeNoTags
		return res, nil
	}

	if err := p.store.UpdateServerEnrichment(ctx, srv.ID, summary, nameTags); err != nil {
		log.Error("pipeline: update server", "error", err)
		res.Outcome = metrics.OutcomeError
		return res, err
	}
	p.upsertTags(ctx, log, nameTags, readmeTags)

	res.Description = summary
	res.Tags = nameTags
	log.Info("pipeline: server enriched", "outcome", res.Outcome, "tags", len(nameTags))
	return res, nil
}

func (p *Pipeline) generate(ctx context.Context, limiter *ratelimit.Limiter, prompt string) (string, error) {
	if err := limiter.Admit(ctx); err != nil {
		return "", err
	}
	return p.ai.Generate(ctx, prompt)
}

// classifyAI maps an AI call error to an outcome. stop is false when err is nil.
func (p *Pipeline) classifyAI(log *slog.Logger, call string, err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, genai.ErrForbidden):
		log.Warn("pipeline: ai "+call+" forbidden", "error", err)
		return metrics.OutcomeForbidden, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("pipeline: ai "+call+" interrupted", "error", err)
		return metrics.OutcomeError, true
	default:
		log.Error("pipeline: ai "+call+" failed", "error", err)
		return metrics.OutcomeError, true
	}
}

// upsertTags records every tag from both sources, skipping known ones.
func (p *Pipeline) upsertTags(ctx context.Context, log *slog.Logger, sets ...[]string) {
	for _, set := range sets {
		for _, tag := range set {
			created, err := p.store.InsertTag(ctx, tag)
			if err != nil {
				log.Error("pipeline: insert tag", "tag", tag, "error", err)
				continue
			}
			if created {
				p.metrics.TagCreated()
			}
		}
	}
}
