package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/mcpharvest/harvest/internal/forge"
	"github.com/hazyhaar/mcpharvest/harvest/internal/store"
)

func TestDrainDiscoveryBatch_FIFO(t *testing.T) {
	// WHAT: A batch of k takes the k lowest-seq unprocessed items, in order.
	f := newFakeForge()
	p, s := setup(t, f, fixedAI("", ""), testConfig())
	ctx := context.Background()
	seed(t, s, "o/e", "o/a", "o/d", "o/b", "o/c")

	res, err := p.DrainDiscoveryBatch(ctx, 3, NewBudget(3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Claimed)
	// No README fixtures: every item is a soft not-found.
	assert.Equal(t, 3, res.NotFound)
	assert.Equal(t, []string{"o/e", "o/a", "o/d"}, f.readmeCalls)

	n, _ := s.CountPendingDiscovery(ctx)
	assert.Equal(t, 2, n)
	d, _ := s.GetPendingDiscoveryByKey(ctx, store.NaturalKey("o", "b"))
	assert.False(t, d.Processed)
}

func TestIntake_URLDeduplication(t *testing.T) {
	// WHAT: Clone URLs with and without .git produce one catalog record.
	f := newFakeForge()
	f.addRepo("x", "y", "https://x/y.git", 5)
	f.addRepo("x", "y-mirror", "https://x/y", 1)
	p, s := setup(t, f, fixedAI("", ""), testConfig())
	ctx := context.Background()
	seed(t, s, "x/y", "x/y-mirror")

	res, err := p.DrainDiscoveryBatch(ctx, 10, NewBudget(3))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cataloged)
	assert.Equal(t, 1, res.Duplicates)

	count, _ := s.CountServers(ctx)
	assert.Equal(t, 1, count)
	srv, _ := s.GetServerByURL(ctx, "https://x/y")
	require.NotNil(t, srv)
	assert.Equal(t, int64(5), srv.StarCount)

	pending, _ := s.CountPendingDiscovery(ctx)
	assert.Equal(t, 0, pending)
	queued, _ := s.CountPendingEnrichment(ctx)
	assert.Equal(t, 1, queued)
}

func TestIntake_ForbiddenBudgetAbortsBatch(t *testing.T) {
	// WHAT: Three forbidden responses abort the batch; no fourth request is made.
	// WHY: Quota exhaustion must not burn through the remaining items.
	f := newFakeForge()
	for _, r := range []string{"a", "b", "c", "d", "e"} {
		f.readmeErr["o/"+r] = forge.ErrForbidden
	}
	p, s := setup(t, f, fixedAI("", ""), testConfig())
	ctx := context.Background()
	seed(t, s, "o/a", "o/b", "o/c", "o/d", "o/e")

	res, err := p.DrainDiscoveryBatch(ctx, 10, NewBudget(3))
	require.True(t, errors.Is(err, ErrBudgetExhausted))
	assert.True(t, res.Aborted)
	assert.Equal(t, 3, res.Forbidden)
	assert.Len(t, f.readmeCalls, 3)

	pending, _ := s.CountPendingDiscovery(ctx)
	assert.Equal(t, 5, pending)

	// The third item and the unvisited ones were released.
	again, err := s.ClaimDiscoveryBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 3)
	assert.Equal(t, "c", again[0].Repo)
}

func TestIntake_SoftFailures(t *testing.T) {
	f := newFakeForge()
	// o/missing: no fixtures, README 404.
	f.readmes["o/noconfig"] = readmeFixture("# Nothing to run here\n")
	f.readmes["o/badb64"] = &forge.Readme{Name: "README.md", Content: "%%%"}
	f.readmes["o/nometa"] = readmeFixture(uvxReadme)
	f.readmeErr["o/flaky"] = errors.New("connection reset")
	p, s := setup(t, f, fixedAI("", ""), testConfig())
	ctx := context.Background()
	seed(t, s, "/orphan", "o/missing", "o/noconfig", "o/badb64", "o/nometa", "o/flaky")

	res, err := p.DrainDiscoveryBatch(ctx, 10, NewBudget(3))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 2, res.NotFound)
	assert.Equal(t, 2, res.NoConfig)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 0, res.Cataloged)

	// Only the transport failure stays unprocessed.
	pending, _ := s.CountPendingDiscovery(ctx)
	assert.Equal(t, 1, pending)
	d, _ := s.GetPendingDiscoveryByKey(ctx, store.NaturalKey("o", "flaky"))
	assert.False(t, d.Processed)
	// Its lease is kept, so the same run does not retry it.
	again, _ := s.ClaimDiscoveryBatch(ctx, 10, time.Minute)
	assert.Empty(t, again)
}

func TestIntake_HTMLReadme(t *testing.T) {
	f := newFakeForge()
	f.readmes["o/site"] = &forge.Readme{
		Name: "README.html",
		Content: b64(`<h1>Site</h1><p>Config:</p><pre><code class="language-json">` +
			`{"mcpServers":{"site":{"command":"npx","args":["-y","site-mcp"],"env":{"TOKEN":"x"}}}}` +
			`</code></pre>`),
	}
	f.metas["o/site"] = &forge.RepoMeta{CloneURL: "https://forge/o/site.git", Stars: 3}
	p, s := setup(t, f, fixedAI("", ""), testConfig())
	ctx := context.Background()
	seed(t, s, "o/site")

	res, err := p.DrainDiscoveryBatch(ctx, 10, NewBudget(3))
	require.NoError(t, err)
	require.Equal(t, 1, res.Cataloged)

	srv, _ := s.GetServerByURL(ctx, "https://forge/o/site")
	require.NotNil(t, srv)
	assert.Equal(t, "site", srv.Detail.Name)
	assert.Equal(t, "npx", srv.Detail.Command)
	assert.Equal(t, map[string]string{"TOKEN": "x"}, srv.Detail.Env)
}

func TestRunIntake_StopsWhenQueueEmpty(t *testing.T) {
	f := newFakeForge()
	for _, r := range []string{"a", "b", "c"} {
		f.addRepo("o", r, "https://forge/o/"+r+".git", 1)
	}
	cfg := testConfig()
	cfg.BatchSize = 2
	p, s := setup(t, f, fixedAI("", ""), cfg)
	ctx := context.Background()
	seed(t, s, "o/a", "o/b", "o/c")

	res, err := p.RunIntake(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Cataloged)
	// Two full batches, then an empty claim ends the run.
	assert.Equal(t, 3, res.Batches)
	pending, _ := s.CountPendingDiscovery(ctx)
	assert.Equal(t, 0, pending)
}

func TestIntake_FailedEnqueueLeavesNoServer(t *testing.T) {
	// WHAT: When the enrichment enqueue fails, the server insert rolls back and
	// the item catalogs normally once its lease expires.
	// WHY: A server without a queue item would keep its placeholder description.
	f := newFakeForge()
	f.addRepo("acme", "tool", "https://github.com/acme/tool.git", 9)
	now := time.Unix(1_700_000_000, 0)
	s := store.OpenMemory(t, store.WithClock(func() time.Time { return now }))
	p := New(s, f, fixedAI("", ""), testConfig())
	ctx := context.Background()
	seed(t, s, "acme/tool")

	_, err := s.DB.ExecContext(ctx, `ALTER TABLE pending_enrichment RENAME TO pending_enrichment_off`)
	require.NoError(t, err)
	res, err := p.DrainDiscoveryBatch(ctx, 10, NewBudget(3))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)

	count, _ := s.CountServers(ctx)
	assert.Equal(t, 0, count)

	_, err = s.DB.ExecContext(ctx, `ALTER TABLE pending_enrichment_off RENAME TO pending_enrichment`)
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)

	res, err = p.DrainDiscoveryBatch(ctx, 10, NewBudget(3))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cataloged)
	assert.Equal(t, 0, res.Duplicates)

	srv, err := s.GetServerByURL(ctx, "https://github.com/acme/tool")
	require.NoError(t, err)
	require.NotNil(t, srv)
	e, err := s.GetPendingEnrichmentByServer(ctx, srv.ID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.False(t, e.Processed)
	pending, _ := s.CountPendingDiscovery(ctx)
	assert.Equal(t, 0, pending)
}
