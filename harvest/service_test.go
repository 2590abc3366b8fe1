package harvest

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/mcpharvest/harvest/internal/forge"
	"github.com/hazyhaar/mcpharvest/harvest/internal/genai"
	"github.com/hazyhaar/mcpharvest/harvest/internal/store"
	"github.com/hazyhaar/mcpharvest/idgen"
)

const (
	adminToken = "s3cret-admin"
	uvxReadme  = "# Tool\n\n```json\n" +
		`{"mcpServers":{"tool":{"command":"uvx","args":["acme-tool"]}}}` +
		"\n```\n"
)

// stubForge serves one repository for every search and can block inside
// Search until released.
type stubForge struct {
	mu        sync.Mutex
	languages []string
	gate      chan struct{} // when non-nil, Search waits on it
	entered   chan struct{}
}

func (f *stubForge) Search(ctx context.Context, q forge.Query, page int) ([]forge.Repo, error) {
	f.mu.Lock()
	f.languages = append(f.languages, q.Language)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if page > 1 {
		return nil, nil
	}
	return []forge.Repo{{Owner: "acme", Name: "tool"}}, nil
}

func (f *stubForge) Repository(ctx context.Context, owner, repo string) (*forge.RepoMeta, error) {
	return &forge.RepoMeta{
		FullName: owner + "/" + repo,
		CloneURL: "https://github.com/" + owner + "/" + repo + ".git",
		Stars:    42,
	}, nil
}

func (f *stubForge) Readme(ctx context.Context, owner, repo string) (*forge.Readme, error) {
	return &forge.Readme{
		Name:     "README.md",
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString([]byte(uvxReadme)),
	}, nil
}

func (f *stubForge) searched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.languages...)
}

func testServiceConfig(t *testing.T) *Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AdminTokenHash = string(hash)
	cfg.GenAI.RequestsPerWindow = 0
	cfg.Forge.MaxPages = 2
	cfg.Pipeline.ClaimLease = time.Hour
	cfg.Facets.Languages = []string{"go", "rust"}
	cfg.Facets.Licenses = []string{"mit"}
	return cfg
}

func setupService(t *testing.T, f *stubForge) *Service {
	t.Helper()
	st := store.OpenMemory(t, store.WithIDGenerator(idgen.Sequential("srv")))
	svc, err := New(st, testServiceConfig(t), nil,
		WithForge(f),
		WithGenerator(&genai.MockGenerator{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestService_RequiresStore(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_Facets(t *testing.T) {
	// WHAT: The query space is languages x licenses and indexes are checked.
	svc := setupService(t, &stubForge{})

	facets := svc.Facets()
	require.Len(t, facets, 2)
	assert.Equal(t, "go", facets[0].Language)
	assert.Equal(t, "rust", facets[1].Language)

	_, err := svc.Facet(2)
	assert.ErrorIs(t, err, ErrInvalidFacet)
	_, err = svc.Discover(context.Background(), -3)
	assert.ErrorIs(t, err, ErrInvalidFacet)
}

func TestService_RunOnce(t *testing.T) {
	// WHAT: One run discovers, catalogs and enriches the stub repository.
	// WHY: This is the path the scheduler and admin trigger take.
	f := &stubForge{}
	svc := setupService(t, f)
	ctx := context.Background()

	rep, err := svc.RunOnce(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, rep.Discovery)
	assert.Equal(t, 1, rep.Discovery.Queued)
	assert.Equal(t, 1, rep.Intake.Cataloged)
	assert.Equal(t, 1, rep.Enrichment.Drained)

	srv, err := svc.GetServerByURL(ctx, "https://github.com/acme/tool/")
	require.NoError(t, err)
	assert.Equal(t, "uvx", srv.Detail.Command)
	assert.Equal(t, []string{"acme-tool"}, srv.Detail.Args)
	assert.EqualValues(t, 42, srv.StarCount)

	bySeq, err := svc.GetServerBySeq(ctx, srv.Seq)
	require.NoError(t, err)
	assert.Equal(t, srv.ID, bySeq.ID)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Servers)
	assert.Equal(t, 0, stats.PendingDiscovery)

	logs, err := svc.RunLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "run", logs[0].Stage)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, "manual", logs[0].Trigger)
	assert.Contains(t, logs[0].Parameters, `"language":"go"`)
	assert.Contains(t, logs[0].Result, `"cataloged":1`)
}

func TestService_RunLogRecordsFailure(t *testing.T) {
	svc := setupService(t, &stubForge{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Discover(ctx, 1)
	require.Error(t, err)

	logs, err := svc.RunLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "discovery", logs[0].Stage)
	assert.Equal(t, "error", logs[0].Status)
	assert.Contains(t, logs[0].Error, "canceled")
}

func TestService_RunOnceRotatesFacets(t *testing.T) {
	f := &stubForge{}
	svc := setupService(t, f)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RunOnce(ctx, -1)
		require.NoError(t, err)
	}
	langs := f.searched()
	require.NotEmpty(t, langs)
	assert.Equal(t, "go", langs[0])
	assert.Contains(t, langs, "rust")
	assert.Equal(t, "go", langs[len(langs)-1])
}

func TestService_RunOnceSharedRun(t *testing.T) {
	// WHAT: A caller joining a live run does not advance the facet rotation,
	// and the first caller giving up does not cancel the run.
	f := &stubForge{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := setupService(t, f)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.RunOnce(firstCtx, -1)
		firstErr <- err
	}()
	select {
	case <-f.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}

	joinCtx, cancelJoin := context.WithCancel(context.Background())
	cancelJoin()
	_, err := svc.RunOnce(joinCtx, -1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, svc.nextFacet.Load())

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("first caller did not return on cancel")
	}

	close(f.gate)
	require.Eventually(t, func() bool {
		logs, err := svc.RunLogs(context.Background(), 10)
		return err == nil && len(logs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	logs, err := svc.RunLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "run", logs[0].Stage)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, []string{"go", "go"}, f.searched())

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Servers)
}

func TestService_StageBusy(t *testing.T) {
	// WHAT: While a background stage runs every other trigger is refused.
	f := &stubForge{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := setupService(t, f)
	ctx := context.Background()

	require.NoError(t, svc.StartDiscover(ctx, 0))
	select {
	case <-f.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("discovery did not start")
	}

	_, err := svc.Intake(ctx)
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = svc.RunOnce(ctx, 1)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.ErrorIs(t, svc.StartIntake(ctx), ErrRunInProgress)
	assert.ErrorIs(t, svc.StartEnrich(ctx, ""), ErrRunInProgress)

	close(f.gate)
	require.Eventually(t, func() bool {
		_, err := svc.Intake(ctx)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Servers)
}

func TestService_CloseCancelsBackground(t *testing.T) {
	f := &stubForge{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := setupService(t, f)

	require.NoError(t, svc.StartRun(context.Background(), -1))
	<-f.entered

	done := make(chan struct{})
	go func() {
		svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not wait for cancelled run")
	}
}

func TestService_EnrichUnknownServer(t *testing.T) {
	svc := setupService(t, &stubForge{})

	_, err := svc.Enrich(context.Background(), "srv-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.StartEnrich(context.Background(), "srv-missing"), ErrNotFound)
}

func TestService_EnrichTargeted(t *testing.T) {
	// WHAT: A targeted enrichment reprocesses an already enriched server.
	svc := setupService(t, &stubForge{})
	ctx := context.Background()

	_, err := svc.RunOnce(ctx, 0)
	require.NoError(t, err)
	srv, err := svc.GetServerByURL(ctx, "https://github.com/acme/tool")
	require.NoError(t, err)

	res, err := svc.Enrich(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Drained)
}

func TestService_Lookups(t *testing.T) {
	svc := setupService(t, &stubForge{})
	ctx := context.Background()

	_, err := svc.GetServerBySeq(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetServerByURL(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.ListServers(ctx, ListFilter{Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_VerifyAdminToken(t *testing.T) {
	svc := setupService(t, &stubForge{})

	assert.True(t, svc.VerifyAdminToken(adminToken))
	assert.False(t, svc.VerifyAdminToken("wrong"))
	assert.False(t, svc.VerifyAdminToken(""))

	svc.config.AdminTokenHash = ""
	assert.False(t, svc.VerifyAdminToken(adminToken), "no hash configured refuses everything")
}

func TestService_SchedulerDisabled(t *testing.T) {
	f := &stubForge{}
	svc := setupService(t, f)

	svc.Start(context.Background())
	require.NoError(t, svc.Close())
	assert.Empty(t, f.searched())
}

func TestService_SchedulerRunsAtStart(t *testing.T) {
	f := &stubForge{}
	svc := setupService(t, f)
	svc.config.Scheduler.Enabled = true
	svc.config.Scheduler.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	require.Eventually(t, func() bool {
		stats, err := svc.Stats(ctx)
		return err == nil && stats.Servers == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Close())
}
