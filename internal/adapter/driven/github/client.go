// Package github publishes build outcomes as GitHub commit statuses.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

// StatusContext is the context label shown next to the status on GitHub.
const StatusContext = "shotrun/visual"

// Compile-time interface satisfaction check.
var _ driven.CommitStatusPublisher = (*Client)(nil)

// Client implements driven.CommitStatusPublisher for a single repository.
type Client struct {
	gh     *gh.Client
	owner  string
	repo   string
	logger *slog.Logger
}

// NewClient creates a GitHub client for repoFullName ("owner/repo") with the
// following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token, repoFullName string, logger *slog.Logger) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)

	return &Client{
		gh:     gh.NewClient(rateLimitClient).WithAuthToken(token),
		owner:  owner,
		repo:   repo,
		logger: logger,
	}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token, repoFullName string, logger *slog.Logger) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	client := gh.NewClient(httpClient).WithAuthToken(token)
	client.BaseURL = u

	return &Client{
		gh:     client,
		owner:  owner,
		repo:   repo,
		logger: logger,
	}, nil
}

// PublishStatus creates a commit status for status.SHA.
func (c *Client) PublishStatus(ctx context.Context, status model.CommitStatus) error {
	if status.SHA == "" {
		return fmt.Errorf("publish commit status: no commit SHA")
	}

	body := &gh.RepoStatus{
		State:       gh.Ptr(string(status.State)),
		Description: gh.Ptr(truncate(status.Description, 140)),
		Context:     gh.Ptr(StatusContext),
	}
	if status.TargetURL != "" {
		body.TargetURL = gh.Ptr(status.TargetURL)
	}

	path := fmt.Sprintf("repos/%s/%s/statuses/%s",
		url.PathEscape(c.owner), url.PathEscape(c.repo), url.PathEscape(status.SHA))

	req, err := c.gh.NewRequest(http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("build commit status request: %w", err)
	}

	var created gh.RepoStatus
	resp, err := c.gh.Do(ctx, req, &created)
	if err != nil {
		return fmt.Errorf("create status for %s/%s@%s: %w", c.owner, c.repo, status.SHA, err)
	}

	c.logRateLimit(resp, "statuses")
	c.logger.Info("published commit status",
		"repo", c.owner+"/"+c.repo,
		"sha", status.SHA,
		"state", created.GetState(),
	)
	return nil
}

// logRateLimit logs the GitHub API rate limit status after each call.
func (c *Client) logRateLimit(resp *gh.Response, endpoint string) {
	if resp == nil {
		return
	}

	c.logger.Debug("github api call",
		"endpoint", endpoint,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		c.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
