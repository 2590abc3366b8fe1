package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/mcpharvest/harvest/internal/forge"
	"github.com/hazyhaar/mcpharvest/harvest/internal/metrics"
	"github.com/hazyhaar/mcpharvest/harvest/internal/readme"
	"github.com/hazyhaar/mcpharvest/harvest/internal/store"
)

// IntakeResult counts what one or more intake batches did.
type IntakeResult struct {
	Batches    int  `json:"batches"`
	Claimed    int  `json:"claimed"`
	Cataloged  int  `json:"cataloged"`
	Duplicates int  `json:"duplicates"`
	NotFound   int  `json:"not_found"`
	NoConfig   int  `json:"no_config"`
	Malformed  int  `json:"malformed"`
	Forbidden  int  `json:"forbidden"`
	Errors     int  `json:"errors"`
	Aborted    bool `json:"aborted"`
}

func (r *IntakeResult) add(o *IntakeResult) {
	r.Batches += o.Batches
	r.Claimed += o.Claimed
	r.Cataloged += o.Cataloged
	r.Duplicates += o.Duplicates
	r.NotFound += o.NotFound
	r.NoConfig += o.NoConfig
	r.Malformed += o.Malformed
	r.Forbidden += o.Forbidden
	r.Errors += o.Errors
	r.Aborted = r.Aborted || o.Aborted
}

func (r *IntakeResult) count(outcome string) {
	switch outcome {
	case metrics.OutcomeCataloged:
		r.Cataloged++
	case metrics.OutcomeDuplicate:
		r.Duplicates++
	case metrics.OutcomeNotFound:
		r.NotFound++
	case metrics.OutcomeNoConfig:
		r.NoConfig++
	case metrics.OutcomeMalformed:
		r.Malformed++
	case metrics.OutcomeForbidden:
		r.Forbidden++
	case metrics.OutcomeError:
		r.Errors++
	}
}

// DrainDiscoveryBatch claims up to batchSize pending discovery items, oldest
// first, and takes each through intake independently. When budget runs out
// the batch stops, the unvisited items are released, and ErrBudgetExhausted
// is returned. Items that failed for other reasons keep their lease so the
// same run does not retry them.
func (p *Pipeline) DrainDiscoveryBatch(ctx context.Context, batchSize int, budget *Budget) (*IntakeResult, error) {
	res := &IntakeResult{Batches: 1}
	items, err := p.store.ClaimDiscoveryBatch(ctx, batchSize, p.cfg.ClaimLease)
	if err != nil {
		return res, err
	}
	res.Claimed = len(items)

	for i, item := range items {
		outcome, err := p.intakeItem(ctx, item)
		res.count(outcome)
		p.metrics.Intake(outcome)

		if outcome == metrics.OutcomeForbidden && budget.Spend() {
			p.logger.Warn("pipeline: intake aborted, forbidden budget exhausted",
				"seq", item.Seq, "left_unprocessed", len(items)-i)
			p.release(ctx, items[i:])
			res.Aborted = true
			return res, ErrBudgetExhausted
		}
		if err != nil && ctx.Err() != nil {
			p.release(ctx, items[i:])
			return res, ctx.Err()
		}
	}
	return res, nil
}

func (p *Pipeline) release(ctx context.Context, items []*store.PendingDiscovery) {
	// A cancelled ctx must not prevent the release.
	ctx = context.WithoutCancel(ctx)
	for _, it := range items {
		if err := p.store.ReleaseDiscovery(ctx, it.ID); err != nil {
			p.logger.Error("pipeline: release discovery item", "id", it.ID, "error", err)
		}
	}
}

// intakeItem processes one pending discovery item and returns its outcome.
// Every outcome except forbidden and error marks the item processed.
func (p *Pipeline) intakeItem(ctx context.Context, item *store.PendingDiscovery) (string, error) {
	log := p.logger.With("stage", "intake", "id", item.ID, "seq", item.Seq, "owner", item.Owner, "repo", item.Repo)

	if item.Owner == "" || item.Repo == "" {
		log.Info("pipeline: malformed discovery item")
		return p.finishDiscovery(ctx, item, metrics.OutcomeMalformed)
	}

	rd, err := p.forge.Readme(ctx, item.Owner, item.Repo)
	if outcome, done := p.classifyForge(log, "readme", err); done {
		if outcome == metrics.OutcomeNotFound {
			return p.finishDiscovery(ctx, item, outcome)
		}
		return outcome, err
	}

	text, ok := p.parser.Decode(rd.Content)
	if !ok {
		return p.finishDiscovery(ctx, item, metrics.OutcomeNoConfig)
	}
	if readme.IsHTMLName(rd.Name) {
		text = p.parser.FromHTML(text)
	}
	cfg := p.parser.Parse(text)
	if cfg == nil {
		log.Debug("pipeline: no launch config in readme")
		return p.finishDiscovery(ctx, item, metrics.OutcomeNoConfig)
	}

	meta, err := p.forge.Repository(ctx, item.Owner, item.Repo)
	if outcome, done := p.classifyForge(log, "repository", err); done {
		if outcome == metrics.OutcomeNotFound {
			return p.finishDiscovery(ctx, item, outcome)
		}
		return outcome, err
	}

	rawURL := meta.CloneURL
	if rawURL == "" {
		rawURL = meta.HTMLURL
	}
	url := NormalizeURL(rawURL)
	if url == "" {
		log.Info("pipeline: repository has no url")
		return p.finishDiscovery(ctx, item, metrics.OutcomeMalformed)
	}

	existing, err := p.store.GetServerByURL(ctx, url)
	if err != nil {
		log.Error("pipeline: lookup server by url", "url", url, "error", err)
		return metrics.OutcomeError, err
	}
	if existing != nil {
		log.Debug("pipeline: server already catalogued", "url", url, "server_id", existing.ID)
		return p.finishDiscovery(ctx, item, metrics.OutcomeDuplicate)
	}

	name := cfg.Name
	if name == readme.DefaultName {
		name = item.Repo
	}
	srv := &store.Server{
		LaunchType:   store.LaunchSTDIO,
		URL:          url,
		StarCount:    meta.Stars,
		SecurityRank: store.RankUnrated,
		Tags:         []string{},
		Detail: store.ServerDetail{
			Name:        name,
			Description: PlaceholderDescription(url),
			Command:     cfg.Command,
			Args:        cfg.Args,
			Env:         cfg.Env,
		},
	}
	// The server and its enrichment item commit together: a failed enqueue
	// leaves nothing behind, and the retry after the lease catalogs afresh.
	err = p.store.CatalogServer(ctx, srv, &store.PendingEnrichment{
		ServerName:     name,
		PreparedReadme: readme.Prepare(text, p.cfg.MaxReadmeChars),
	})
	if errors.Is(err, store.ErrDuplicate) {
		log.Debug("pipeline: server inserted concurrently", "url", url)
		return p.finishDiscovery(ctx, item, metrics.OutcomeDuplicate)
	}
	if err != nil {
		log.Error("pipeline: catalog server", "url", url, "error", err)
		return metrics.OutcomeError, err
	}

	log.Info("pipeline: server catalogued", "server_id", srv.ID, "url", url, "stars", srv.StarCount, "command", cfg.Command)
	return p.finishDiscovery(ctx, item, metrics.OutcomeCataloged)
}

// classifyForge maps a forge error to an outcome. done is false when err is nil.
func (p *Pipeline) classifyForge(log *slog.Logger, call string, err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, forge.ErrNotFound):
		log.Info("pipeline: forge "+call+" not found")
		return metrics.OutcomeNotFound, true
	case errors.Is(err, forge.ErrForbidden):
		log.Warn("pipeline: forge "+call+" forbidden", "error", err)
		return metrics.OutcomeForbidden, true
	default:
		log.Error("pipeline: forge "+call+" failed", "error", err)
		return metrics.OutcomeError, true
	}
}

func (p *Pipeline) finishDiscovery(ctx context.Context, item *store.PendingDiscovery, outcome string) (string, error) {
	if err := p.store.MarkDiscoveryProcessed(ctx, item.ID); err != nil {
		p.logger.Error("pipeline: mark discovery processed", "id", item.ID, "error", err)
		return metrics.OutcomeError, fmt.Errorf("mark processed: %w", err)
	}
	return outcome, nil
}
