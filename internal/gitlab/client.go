package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"cimon/internal/models"
)

const (
	// DefaultBaseURL is the GitLab instance used when none is configured.
	DefaultBaseURL = "https://gitlab.freedesktop.org"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	// maxAttempts bounds the transient-error retry inside the client. The
	// monitor loop relies on this: it never retries a poll or mutation
	// itself.
	maxAttempts = 4

	// perPage is the page size used for paginated listings.
	perPage = 100
)

// Client is a GitLab API client.
type Client struct {
	baseURL    string
	token      string
	bearer     bool
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom GitLab instance URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithOAuth sends the token as an OAuth bearer token instead of the
// PRIVATE-TOKEN header, via an oauth2 token-source backed HTTP client.
func WithOAuth(ctx context.Context) ClientOption {
	return func(c *Client) {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: c.token},
		)
		c.httpClient = oauth2.NewClient(ctx, ts)
		c.httpClient.Timeout = DefaultTimeout
		c.bearer = true
	}
}

// NewClient creates a new GitLab API client. An empty token gives
// anonymous access.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the configured GitLab instance URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs an API request with rate limiting and bounded retry of
// transient failures (network errors, HTTP 429/5xx). Permanent failures
// surface as *APIError without retry.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RateLimitError{RetryAfter: time.Second}
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var respBody []byte
	var permanent error
	err := retry.Retry(func(attempt uint) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			permanent = fmt.Errorf("failed to create request: %w", err)
			return nil
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" && !c.bearer {
			req.Header.Set("PRIVATE-TOKEN", c.token)
		}

		if c.logger != nil && attempt > 1 {
			c.logger.Debug().
				Str("url", c.baseURL+path).
				Int("attempt", int(attempt)).
				Msg("Retrying GitLab API request")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				permanent = ctx.Err()
				return nil
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Message:    string(data),
				Endpoint:   path,
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return apiErr
			}
			permanent = apiErr
			return nil
		}

		respBody = data
		return nil
	}, strategy.Limit(maxAttempts), strategy.Backoff(backoff.BinaryExponential(500*time.Millisecond)))

	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// getJSON performs a GET request and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, result interface{}) error {
	data, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// notFound converts a 404 APIError into a typed NotFoundError so callers
// can report which entity is missing instead of a raw status code.
func notFound(err error, kind, ref string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return &NotFoundError{Kind: kind, Ref: ref}
	}
	return err
}

// Project retrieves a project by path (namespace/name) or numeric id.
func (c *Client) Project(ctx context.Context, pathOrID string) (*models.Project, error) {
	var project models.Project
	endpoint := "/api/v4/projects/" + url.PathEscape(pathOrID)
	if err := c.getJSON(ctx, endpoint, nil, &project); err != nil {
		return nil, notFound(err, "project", pathOrID)
	}
	return &project, nil
}

// Pipeline retrieves a pipeline by id.
func (c *Client) Pipeline(ctx context.Context, projectID, pipelineID int64) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	endpoint := fmt.Sprintf("/api/v4/projects/%d/pipelines/%d", projectID, pipelineID)
	if err := c.getJSON(ctx, endpoint, nil, &pipeline); err != nil {
		return nil, notFound(err, "pipeline", strconv.FormatInt(pipelineID, 10))
	}
	return &pipeline, nil
}

// ListPipelines returns the pipelines for a revision, newest first.
func (c *Client) ListPipelines(ctx context.Context, projectID int64, sha string) ([]models.Pipeline, error) {
	params := url.Values{}
	params.Set("sha", sha)
	params.Set("sort", "desc")

	var pipelines []models.Pipeline
	endpoint := fmt.Sprintf("/api/v4/projects/%d/pipelines", projectID)
	if err := c.getJSON(ctx, endpoint, params, &pipelines); err != nil {
		return nil, err
	}
	return pipelines, nil
}

// ListPipelineJobs returns every job of a pipeline in descending order.
// The listing is fully paginated; a pipeline with more jobs than one page
// is never truncated.
func (c *Client) ListPipelineJobs(ctx context.Context, projectID, pipelineID int64) ([]models.Job, error) {
	endpoint := fmt.Sprintf("/api/v4/projects/%d/pipelines/%d/jobs", projectID, pipelineID)

	var all []models.Job
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("per_page", strconv.Itoa(perPage))
		params.Set("page", strconv.Itoa(page))
		params.Set("sort", "desc")

		var jobs []models.Job
		if err := c.getJSON(ctx, endpoint, params, &jobs); err != nil {
			return nil, err
		}
		all = append(all, jobs...)
		if len(jobs) < perPage {
			return all, nil
		}
	}
}

// GetJob retrieves a single job by id.
func (c *Client) GetJob(ctx context.Context, projectID, jobID int64) (*models.Job, error) {
	var job models.Job
	endpoint := fmt.Sprintf("/api/v4/projects/%d/jobs/%d", projectID, jobID)
	if err := c.getJSON(ctx, endpoint, nil, &job); err != nil {
		return nil, notFound(err, "job", strconv.FormatInt(jobID, 10))
	}
	return &job, nil
}

// PlayJob starts a job that is waiting for manual action.
func (c *Client) PlayJob(ctx context.Context, projectID, jobID int64) error {
	endpoint := fmt.Sprintf("/api/v4/projects/%d/jobs/%d/play", projectID, jobID)
	_, err := c.do(ctx, http.MethodPost, endpoint, nil, nil)
	return err
}

// RetryJob re-runs a completed job.
func (c *Client) RetryJob(ctx context.Context, projectID, jobID int64) error {
	endpoint := fmt.Sprintf("/api/v4/projects/%d/jobs/%d/retry", projectID, jobID)
	_, err := c.do(ctx, http.MethodPost, endpoint, nil, nil)
	return err
}

// CancelJob cancels a job.
func (c *Client) CancelJob(ctx context.Context, projectID, jobID int64) error {
	endpoint := fmt.Sprintf("/api/v4/projects/%d/jobs/%d/cancel", projectID, jobID)
	_, err := c.do(ctx, http.MethodPost, endpoint, nil, nil)
	return err
}

// JobTrace fetches the full accumulated log text of a job. The API offers
// no incremental fetch, so callers re-fetch the whole trace every poll.
func (c *Client) JobTrace(ctx context.Context, projectID, jobID int64) (string, error) {
	endpoint := fmt.Sprintf("/api/v4/projects/%d/jobs/%d/trace", projectID, jobID)
	data, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// graphQLRequest is the wire format of a GraphQL POST.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// GraphQL executes a query against /api/graphql and decodes the "data"
// object into result.
func (c *Client) GraphQL(ctx context.Context, query string, variables map[string]interface{}, result interface{}) error {
	body := graphQLRequest{Query: query, Variables: variables}
	data, err := c.do(ctx, http.MethodPost, "/api/graphql", nil, body)
	if err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode GraphQL response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("GraphQL query failed: %s", envelope.Errors[0].Message)
	}
	if result != nil && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("failed to decode GraphQL data: %w", err)
		}
	}
	return nil
}
