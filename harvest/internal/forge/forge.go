// Package forge is a small GitHub REST client covering the three calls the
// harvest pipeline makes: repository search, repository metadata and README.
package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/mcpharvest/harvest/internal/ratelimit"
)

// DefaultBaseURL is the production GitHub API.
const DefaultBaseURL = "https://api.github.com"

var (
	// ErrNotFound is returned for HTTP 404.
	ErrNotFound = errors.New("forge: not found")
	// ErrForbidden is returned for HTTP 403 and 429 (permission or quota).
	ErrForbidden = errors.New("forge: forbidden or rate limited")
)

// Repo identifies a repository found by search.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// RepoMeta is the subset of repository metadata the pipeline keeps.
type RepoMeta struct {
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
	HTMLURL  string `json:"html_url"`
	Stars    int64  `json:"stargazers_count"`
}

// Readme is a README file as returned by the contents API.
type Readme struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// Query is one search: free text narrowed by language and license.
type Query struct {
	Text     string
	Language string
	License  string
}

// String renders the GitHub search qualifier syntax.
func (q Query) String() string {
	parts := []string{strings.TrimSpace(q.Text)}
	if q.Language != "" {
		parts = append(parts, "language:"+q.Language)
	}
	if q.License != "" {
		parts = append(parts, "license:"+q.License)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Client calls the GitHub REST API.
type Client struct {
	baseURL string
	token   string
	perPage int
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithPerPage sets the search page size (GitHub caps it at 100).
func WithPerPage(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= 100 {
			c.perPage = n
		}
	}
}

// WithLimiter gates every request through l.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client with a 30s timeout against the production API.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		perPage: 30,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search returns one page of repositories matching q, most starred first.
// Pages start at 1. An empty slice means there are no more results.
func (c *Client) Search(ctx context.Context, q Query, page int) ([]Repo, error) {
	if page < 1 {
		page = 1
	}
	v := url.Values{}
	v.Set("q", q.String())
	v.Set("sort", "stars")
	v.Set("order", "desc")
	v.Set("per_page", fmt.Sprint(c.perPage))
	v.Set("page", fmt.Sprint(page))

	var resp struct {
		Items []struct {
			Name  string `json:"name"`
			Owner struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"items"`
	}
	if err := c.get(ctx, "/search/repositories?"+v.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("forge: search %q page %d: %w", q.String(), page, err)
	}
	repos := make([]Repo, 0, len(resp.Items))
	for _, it := range resp.Items {
		repos = append(repos, Repo{Owner: it.Owner.Login, Name: it.Name})
	}
	return repos, nil
}

// Repository returns metadata for owner/repo.
func (c *Client) Repository(ctx context.Context, owner, repo string) (*RepoMeta, error) {
	var meta RepoMeta
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
	if err := c.get(ctx, path, &meta); err != nil {
		return nil, fmt.Errorf("forge: repository %s/%s: %w", owner, repo, err)
	}
	return &meta, nil
}

// Readme returns the default-branch README of owner/repo. Content is
// base64 with embedded line breaks, exactly as GitHub sends it.
func (c *Client) Readme(ctx context.Context, owner, repo string) (*Readme, error) {
	var rd Readme
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/readme"
	if err := c.get(ctx, path, &rd); err != nil {
		return nil, fmt.Errorf("forge: readme %s/%s: %w", owner, repo, err)
	}
	return &rd, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Admit(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "mcpharvest")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("forge: quota or permission error",
			"status", resp.StatusCode, "path", path,
			"remaining", resp.Header.Get("X-RateLimit-Remaining"), "body", string(body))
		return fmt.Errorf("%w: HTTP %d", ErrForbidden, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 10*1024*1024)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
