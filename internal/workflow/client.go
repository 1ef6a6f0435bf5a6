package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"path"
	"time"

	"AgentFlow-Chain/internal/auth"
	xerrors "AgentFlow-Chain/internal/errors"
	"AgentFlow-Chain/internal/events"
	"AgentFlow-Chain/internal/metrics"
	"AgentFlow-Chain/internal/retry"
	"AgentFlow-Chain/pkg/logger"
)

// Default durations used when the configuration leaves a knob empty.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxWait      = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// Config describes one orchestrator endpoint. Each duration resolves with
// the precedence explicit milliseconds > explicit seconds > legacy
// millisecond alias > component default.
type Config struct {
	BaseURL string `yaml:"base_url"`

	TimeoutMS      int64 `yaml:"timeout_ms"`
	TimeoutSeconds int64 `yaml:"timeout_seconds"`
	// Timeout is the legacy millisecond alias kept for old config files.
	Timeout int64 `yaml:"timeout"`

	MaxWaitMS      int64 `yaml:"max_wait_ms"`
	MaxWaitSeconds int64 `yaml:"max_wait_seconds"`
	MaxWait        int64 `yaml:"max_wait"`

	PollIntervalMS      int64 `yaml:"poll_interval_ms"`
	PollIntervalSeconds int64 `yaml:"poll_interval_seconds"`
	PollInterval        int64 `yaml:"poll_interval"`

	Retry retry.Policy `yaml:"retry"`
}

func resolveDuration(ms, seconds, legacyMS int64, fallback time.Duration) time.Duration {
	switch {
	case ms > 0:
		return time.Duration(ms) * time.Millisecond
	case seconds > 0:
		return time.Duration(seconds) * time.Second
	case legacyMS > 0:
		return time.Duration(legacyMS) * time.Millisecond
	default:
		return fallback
	}
}

// Client talks to the orchestration service. All operations share one
// retry wrapper driven by the error classifier and backoff calculator.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	auth         *auth.Authenticator
	policy       retry.Policy
	backoff      *retry.Backoff
	timeout      time.Duration
	maxWait      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *metrics.Registry
	events       events.Publisher
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuthenticator attaches request authentication.
func WithAuthenticator(a *auth.Authenticator) ClientOption {
	return func(c *Client) {
		c.auth = a
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBackoffRand injects the random source used for retry jitter.
func WithBackoffRand(rng *rand.Rand) ClientOption {
	return func(c *Client) {
		c.backoff = retry.NewBackoff(c.policy, retry.WithRand(rng))
	}
}

// WithMetrics attaches a metrics registry.
func WithMetrics(reg *metrics.Registry) ClientOption {
	return func(c *Client) {
		if reg != nil {
			c.metrics = reg
		}
	}
}

// WithEventPublisher fans poll observations out to a publisher. Delivery is
// best effort and never fails the poll loop.
func WithEventPublisher(pub events.Publisher) ClientOption {
	return func(c *Client) {
		c.events = pub
	}
}

// NewClient validates the configuration and builds a Client.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "orchestrator base url is missing or malformed",
			xerrors.WithMetadata("base_url", cfg.BaseURL))
	}

	policy := cfg.Retry
	if policy.MaxRetries == 0 && policy.InitialDelay == 0 {
		policy = retry.DefaultPolicy()
	}

	timeout := resolveDuration(cfg.TimeoutMS, cfg.TimeoutSeconds, cfg.Timeout, DefaultTimeout)
	c := &Client{
		baseURL:      parsed,
		httpClient:   &http.Client{Timeout: timeout},
		policy:       policy,
		backoff:      retry.NewBackoff(policy),
		timeout:      timeout,
		maxWait:      resolveDuration(cfg.MaxWaitMS, cfg.MaxWaitSeconds, cfg.MaxWait, DefaultMaxWait),
		pollInterval: resolveDuration(cfg.PollIntervalMS, cfg.PollIntervalSeconds, cfg.PollInterval, DefaultPollInterval),
		logger:       logger.Named("workflow"),
		metrics:      metrics.NewRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Metrics returns the client's metrics registry.
func (c *Client) Metrics() *metrics.Registry {
	return c.metrics
}

// Submit starts a workflow. Mode-specific required fields are validated
// before any network traffic; a submit that may already have reached the
// server is never retried automatically.
func (c *Client) Submit(ctx context.Context, req Request) (*Status, error) {
	if req == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "workflow request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var status Status
	if err := c.do(ctx, "submit", http.MethodPost, req.Endpoint(), nil, req, &status, true); err != nil {
		return nil, err
	}
	return &status, nil
}

// Get fetches the status envelope for one workflow.
func (c *Client) Get(ctx context.Context, workflowID string) (*Status, error) {
	if workflowID == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "workflow id is empty")
	}
	var status Status
	endpoint := "/workflows/" + url.PathEscape(workflowID)
	if err := c.do(ctx, "get", http.MethodGet, endpoint, nil, nil, &status, false); err != nil {
		return nil, err
	}
	return &status, nil
}

// List returns workflows matching the filter. An empty result is valid.
func (c *Client) List(ctx context.Context, filter ListFilter) ([]Status, error) {
	query := url.Values{}
	if filter.Studio != "" {
		query.Set("studio", filter.Studio)
	}
	if filter.State != "" {
		query.Set("state", string(filter.State))
	}
	if filter.Type != "" {
		query.Set("type", string(filter.Type))
	}
	var envelope struct {
		Workflows []Status `json:"workflows"`
	}
	if err := c.do(ctx, "list", http.MethodGet, "/workflows", query, nil, &envelope, false); err != nil {
		return nil, err
	}
	return envelope.Workflows, nil
}

// HealthCheck fetches the orchestrator health envelope.
func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, nil, &health, false); err != nil {
		return nil, err
	}
	return &health, nil
}

// IsHealthy downgrades every failure to false. It never returns an error.
func (c *Client) IsHealthy(ctx context.Context) bool {
	_, err := c.HealthCheck(ctx)
	return err == nil
}

// do runs one logical operation through the shared retry wrapper. When
// submit is set, only connection-level failures that happened before a
// response was received are eligible for retry; anything that may have
// reached the server surfaces immediately.
func (c *Client) do(ctx context.Context, operation, method, endpoint string, query url.Values, payload, out any, submit bool) error {
	for attempt := 0; ; attempt++ {
		err := c.once(ctx, operation, method, endpoint, query, payload, out)
		if err == nil {
			return nil
		}
		ue, ok := xerrors.From(err)
		if !ok {
			return err
		}
		retryable := ue.Retryable()
		if submit && (ue.StatusCode() != 0 || ue.Code() != xerrors.CodeConnection) {
			retryable = false
		}
		if !c.policy.Enabled || !retryable || attempt >= c.policy.MaxRetries {
			return err
		}
		delay := c.backoff.Delay(attempt)
		c.metrics.ObserveRetry(operation)
		c.logger.Warn("retrying after transient failure",
			"operation", operation,
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "cancelled while waiting to retry")
		case <-time.After(delay):
		}
	}
}

func (c *Client) once(ctx context.Context, operation, method, endpoint string, query url.Values, payload, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeUnknown, err, "encode request")
		}
		body = bytes.NewReader(encoded)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.auth.Apply(req); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(operation, 0, time.Since(start))
		info := retry.ClassifyTransportError(err)
		return xerrors.Wrap(retry.CodeFor(info, retry.IsTimeout(err)), err, "request failed",
			xerrors.WithCategory(info.Category),
			xerrors.WithRetryable(info.Retryable),
		)
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(operation, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		info := retry.ClassifyStatus(resp.StatusCode)
		return xerrors.New(retry.CodeFor(info, false), remoteMessage(data, resp.StatusCode),
			xerrors.WithStatusCode(resp.StatusCode),
			xerrors.WithBody(string(data)),
			xerrors.WithCategory(info.Category),
			xerrors.WithRetryable(info.Retryable),
		)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "decode response")
	}
	return nil
}

// remoteMessage digs the server-provided message out of an error body,
// falling back to the raw payload or the status text.
func remoteMessage(data []byte, status int) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &nested); err == nil {
		if nested.Error.Message != "" {
			return nested.Error.Message
		}
		if nested.Message != "" {
			return nested.Message
		}
	}
	if trimmed := string(bytes.TrimSpace(data)); trimmed != "" {
		return trimmed
	}
	return http.StatusText(status)
}
