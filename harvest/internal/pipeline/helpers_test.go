package pipeline

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/mcpharvest/harvest/internal/forge"
	"github.com/hazyhaar/mcpharvest/harvest/internal/genai"
	"github.com/hazyhaar/mcpharvest/harvest/internal/store"
)

const uvxReadme = "# Tool\n\nRun it:\n\n```json\n" +
	`{"mcpServers":{"tool":{"command":"uvx","args":["acme-tool"]}}}` +
	"\n```\n"

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func readmeFixture(body string) *forge.Readme {
	return &forge.Readme{Name: "README.md", Encoding: "base64", Content: b64(body)}
}

// fakeForge serves fixtures keyed by "owner/repo".
type fakeForge struct {
	mu        sync.Mutex
	pages     [][]forge.Repo
	searchErr error
	readmes   map[string]*forge.Readme
	readmeErr map[string]error
	metas     map[string]*forge.RepoMeta
	metaErr   map[string]error

	searchCalls int
	readmeCalls []string
	metaCalls   []string
}

func newFakeForge() *fakeForge {
	return &fakeForge{
		readmes:   map[string]*forge.Readme{},
		readmeErr: map[string]error{},
		metas:     map[string]*forge.RepoMeta{},
		metaErr:   map[string]error{},
	}
}

func (f *fakeForge) Search(ctx context.Context, q forge.Query, page int) ([]forge.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if page-1 < len(f.pages) {
		return f.pages[page-1], nil
	}
	return nil, nil
}

func (f *fakeForge) Readme(ctx context.Context, owner, repo string) (*forge.Readme, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + repo
	f.readmeCalls = append(f.readmeCalls, key)
	if err := f.readmeErr[key]; err != nil {
		return nil, err
	}
	if rd, ok := f.readmes[key]; ok {
		return rd, nil
	}
	return nil, forge.ErrNotFound
}

func (f *fakeForge) Repository(ctx context.Context, owner, repo string) (*forge.RepoMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + repo
	f.metaCalls = append(f.metaCalls, key)
	if err := f.metaErr[key]; err != nil {
		return nil, err
	}
	if m, ok := f.metas[key]; ok {
		return m, nil
	}
	return nil, forge.ErrNotFound
}

// addRepo registers a repository with a valid uvx README.
func (f *fakeForge) addRepo(owner, repo, cloneURL string, stars int64) {
	key := owner + "/" + repo
	f.readmes[key] = readmeFixture(uvxReadme)
	f.metas[key] = &forge.RepoMeta{FullName: key, CloneURL: cloneURL, Stars: stars}
}

// scriptedAI answers summary and tag prompts separately and counts calls.
type scriptedAI struct {
	mu      sync.Mutex
	summary func() (string, error)
	tags    func(name string) (string, error)
	calls   int
}

func (a *scriptedAI) Generate(ctx context.Context, prompt string) (string, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if i := strings.Index(prompt, "Package name: "); i >= 0 {
		return a.tags(strings.TrimSpace(prompt[i+len("Package name: "):]))
	}
	return a.summary()
}

var _ genai.Generator = (*scriptedAI)(nil)

func fixedAI(summary, tags string) *scriptedAI {
	return &scriptedAI{
		summary: func() (string, error) { return summary, nil },
		tags:    func(string) (string, error) { return tags, nil },
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AIPerWindow = -1
	cfg.ClaimLease = time.Hour
	return cfg
}

func setup(t *testing.T, f Forge, ai genai.Generator, cfg Config, opts ...Option) (*Pipeline, *store.Store) {
	t.Helper()
	s := store.OpenMemory(t)
	return New(s, f, ai, cfg, opts...), s
}

func seed(t *testing.T, s *store.Store, pairs ...string) {
	t.Helper()
	for _, pr := range pairs {
		owner, repo, _ := strings.Cut(pr, "/")
		if _, err := s.InsertPendingDiscovery(context.Background(), owner, repo); err != nil {
			t.Fatalf("seed %s: %v", pr, err)
		}
	}
}

func storeFilterAll() store.ListFilter { return store.ListFilter{Limit: 100} }
