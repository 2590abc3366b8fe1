package pipeline

import (
	"context"
	"fmt"

	"github.com/hazyhaar/mcpharvest/harvest/internal/forge"
	"github.com/hazyhaar/mcpharvest/harvest/internal/store"
)

// DiscoverResult summarizes one discovery pass.
type DiscoverResult struct {
	Facet  Facet `json:"facet"`
	Pages  int   `json:"pages"`
	Found  int   `json:"found"`
	Queued int   `json:"queued"`
}

// Discover pages through forge search for facet, most starred first, and
// queues every repository not already known. It stops at MaxPages or at
// the first empty page. Safe to re-run: the natural key absorbs repeats.
// A search error ends the pass; what was queued before it stays queued.
func (p *Pipeline) Discover(ctx context.Context, facet Facet) (*DiscoverResult, error) {
	res := &DiscoverResult{Facet: facet}
	q := forge.Query{Text: p.cfg.SearchText, Language: facet.Language, License: facet.License}
	log := p.logger.With("facet", facet.Index, "language", facet.Language, "license", facet.License)
	seen := make(map[string]bool)

	for page := 1; page <= p.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		repos, err := p.forge.Search(ctx, q, page)
		if err != nil {
			log.Warn("pipeline: discovery search failed", "page", page, "error", err)
			return res, fmt.Errorf("discover facet %d: %w", facet.Index, err)
		}
		if len(repos) == 0 {
			break
		}
		res.Pages++

		for _, r := range repos {
			if r.Owner == "" || r.Name == "" {
				continue
			}
			key := store.NaturalKey(r.Owner, r.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			res.Found++

			inserted, err := p.store.InsertPendingDiscovery(ctx, r.Owner, r.Name)
			if err != nil {
				return res, fmt.Errorf("discover facet %d: %w", facet.Index, err)
			}
			if inserted {
				res.Queued++
			}
		}
	}

	p.metrics.Discovered(res.Queued)
	log.Info("pipeline: discovery done", "pages", res.Pages, "found", res.Found, "queued", res.Queued)
	return res, nil
}
