// Package api is the HTTP client for the remote build service that stores
// screenshots and runs visual comparisons.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BuildAPI = (*Client)(nil)

const userAgent = "shotrun-cli"

// Error is a non-2xx response from the build service.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("build api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("build api: HTTP %d: %s", e.StatusCode, e.Message)
}

// Option configures a Client.
type Option func(*retryablehttp.Client)

// WithRetryPolicy overrides the retry count and the wait bounds between attempts.
func WithRetryPolicy(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryMax = maxRetries
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// Client implements driven.BuildAPI over JSON/HTTP. Transient failures
// (connection errors, 429 and 5xx) are retried with backoff.
type Client struct {
	http    *retryablehttp.Client
	baseURL *url.URL
	token   string
}

// NewClient creates a Client for the service rooted at baseURL.
func NewClient(baseURL, token string, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 60 * time.Second
	rc.Logger = logger
	for _, opt := range opts {
		opt(rc)
	}

	return &Client{http: rc, baseURL: u, token: token}, nil
}

type createBuildRequest struct {
	Build buildPayload `json:"build"`
}

type buildPayload struct {
	Name        string `json:"name"`
	Branch      string `json:"branch,omitempty"`
	CommitSHA   string `json:"commit_sha,omitempty"`
	Environment string `json:"environment,omitempty"`
	SetBaseline bool   `json:"set_baseline,omitempty"`
}

type buildResponse struct {
	ID          string              `json:"id"`
	URL         string              `json:"url"`
	Status      string              `json:"status"`
	Processed   bool                `json:"processed"`
	Comparisons *comparisonsPayload `json:"comparisons,omitempty"`
}

type comparisonsPayload struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	New    int `json:"new"`
}

type finalizeRequest struct {
	Status          string `json:"status"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

type uploadRequest struct {
	Name       string            `json:"name"`
	ImageData  string            `json:"image_data"`
	Properties propertiesPayload `json:"properties"`
}

type propertiesPayload struct {
	Browser  string            `json:"browser,omitempty"`
	Viewport viewportPayload   `json:"viewport"`
	Tags     map[string]string `json:"tags,omitempty"`
}

type viewportPayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateBuild registers a new remote build.
func (c *Client) CreateBuild(ctx context.Context, meta model.RemoteBuildMetadata) (model.RemoteBuild, error) {
	req := createBuildRequest{Build: buildPayload{
		Name:        meta.Name,
		Branch:      meta.Branch,
		CommitSHA:   meta.Commit,
		Environment: meta.Environment,
		SetBaseline: meta.SetBaseline,
	}}

	var resp buildResponse
	if err := c.do(ctx, http.MethodPost, "v1/builds", req, &resp); err != nil {
		return model.RemoteBuild{}, fmt.Errorf("create build: %w", err)
	}
	if resp.ID == "" {
		return model.RemoteBuild{}, errors.New("create build: response has no build id")
	}
	return model.RemoteBuild{ID: resp.ID, URL: resp.URL}, nil
}

// FinalizeBuild marks the remote build completed or failed.
func (c *Client) FinalizeBuild(ctx context.Context, buildID string, success bool, elapsed time.Duration) (string, error) {
	req := finalizeRequest{Status: "failed", ExecutionTimeMs: elapsed.Milliseconds()}
	if success {
		req.Status = "completed"
	}

	var resp buildResponse
	if err := c.do(ctx, http.MethodPut, "v1/builds/"+url.PathEscape(buildID)+"/status", req, &resp); err != nil {
		return "", fmt.Errorf("finalize build %s: %w", buildID, err)
	}
	if resp.Status == "" {
		return req.Status, nil
	}
	return resp.Status, nil
}

// UploadScreenshot sends one image to the remote build.
func (c *Client) UploadScreenshot(ctx context.Context, buildID, name string, image []byte, props model.ScreenshotProperties) (model.UploadAck, error) {
	req := uploadRequest{
		Name:      name,
		ImageData: base64.StdEncoding.EncodeToString(image),
		Properties: propertiesPayload{
			Browser:  props.Browser,
			Viewport: viewportPayload{Width: props.ViewportWidth, Height: props.ViewportHeight},
			Tags:     props.Tags,
		},
	}

	var resp uploadResponse
	if err := c.do(ctx, http.MethodPost, "v1/builds/"+url.PathEscape(buildID)+"/screenshots", req, &resp); err != nil {
		return model.UploadAck{}, fmt.Errorf("upload screenshot %q: %w", name, err)
	}
	return model.UploadAck{ID: resp.ID}, nil
}

// GetBuild reports the remote processing state of a build.
func (c *Client) GetBuild(ctx context.Context, buildID string) (model.RemoteBuildState, error) {
	var resp buildResponse
	if err := c.do(ctx, http.MethodGet, "v1/builds/"+url.PathEscape(buildID), nil, &resp); err != nil {
		return model.RemoteBuildState{}, fmt.Errorf("get build %s: %w", buildID, err)
	}

	state := model.RemoteBuildState{ID: resp.ID, Status: resp.Status, Processed: resp.Processed}
	if resp.Comparisons != nil {
		state.Comparisons = model.ComparisonSummary{
			Total:  resp.Comparisons.Total,
			Passed: resp.Comparisons.Passed,
			Failed: resp.Comparisons.Failed,
			New:    resp.Comparisons.New,
		}
	}
	return state, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: path})

	var reqBody any
	if payload != nil {
		reqBody = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: errorMessage(data)}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", model.ErrBuildNotFound, apiErr)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var p errorPayload
	if err := json.Unmarshal(data, &p); err == nil {
		if p.Message != "" {
			return p.Message
		}
		if p.Error != "" {
			return p.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
