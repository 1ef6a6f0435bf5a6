package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	xerrors "AgentFlow-Chain/internal/errors"
	"AgentFlow-Chain/internal/metrics"
	"AgentFlow-Chain/internal/retry"
	"AgentFlow-Chain/pkg/logger"

	"github.com/google/uuid"
)

// FacilitatorConfig describes the settlement endpoint.
type FacilitatorConfig struct {
	BaseURL string        `yaml:"base_url"`
	AgentID string        `yaml:"agent_id"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   retry.Policy  `yaml:"retry"`
}

// FacilitatorClient negotiates settlement of signed transfer
// authorizations. Every attempt carries a unique idempotency key, which is
// what makes retrying the same logical settlement safe even though the
// underlying authorization is single-use.
type FacilitatorClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	agentID    string
	policy     retry.Policy
	backoff    *retry.Backoff
	logger     *slog.Logger
	metrics    *metrics.Registry
}

// FacilitatorOption customises a FacilitatorClient.
type FacilitatorOption func(*FacilitatorClient)

// WithFacilitatorHTTPClient overrides the transport, mainly for tests.
func WithFacilitatorHTTPClient(httpClient *http.Client) FacilitatorOption {
	return func(f *FacilitatorClient) {
		if httpClient != nil {
			f.httpClient = httpClient
		}
	}
}

// WithFacilitatorLogger overrides the component logger.
func WithFacilitatorLogger(l *slog.Logger) FacilitatorOption {
	return func(f *FacilitatorClient) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFacilitatorMetrics attaches a metrics registry.
func WithFacilitatorMetrics(reg *metrics.Registry) FacilitatorOption {
	return func(f *FacilitatorClient) {
		if reg != nil {
			f.metrics = reg
		}
	}
}

// NewFacilitatorClient validates the configuration and builds a client.
func NewFacilitatorClient(cfg FacilitatorConfig, opts ...FacilitatorOption) (*FacilitatorClient, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "facilitator base url is missing or malformed",
			xerrors.WithMetadata("base_url", cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := cfg.Retry
	if policy.MaxRetries == 0 && policy.InitialDelay == 0 {
		policy = retry.DefaultPolicy()
	}
	return &FacilitatorClient{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		agentID:    strings.TrimSpace(cfg.AgentID),
		policy:     policy,
		backoff:    retry.NewBackoff(policy),
		logger:     logger.Named("facilitator"),
		metrics:    metrics.NewRegistry(),
	}, nil
}

type settleRequest struct {
	Header       Header       `json:"header"`
	Requirements Requirements `json:"requirements"`
}

// Settle posts the signed header and requirements to the settlement
// endpoint. A success:false response surfaces as a payment error carrying
// the facilitator's stated reason alongside the decoded result.
func (f *FacilitatorClient) Settle(ctx context.Context, header Header, requirements Requirements) (*SettlementResult, error) {
	payload := settleRequest{Header: header, Requirements: requirements}
	key := f.idempotencyKey()

	var result *SettlementResult
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, lastErr = f.settleOnce(ctx, payload, key)
		if lastErr == nil {
			break
		}
		ue, ok := xerrors.From(lastErr)
		if !ok || !f.policy.Enabled || !ue.Retryable() || attempt >= f.policy.MaxRetries {
			return nil, lastErr
		}
		delay := f.backoff.Delay(attempt)
		f.metrics.ObserveRetry("settle")
		f.logger.Warn("retrying settlement",
			"attempt", attempt+1,
			"delay", delay.String(),
			"idempotency_key", key,
			"error", lastErr.Error(),
		)
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "cancelled while waiting to retry settlement")
		case <-time.After(delay):
		}
	}

	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "facilitator rejected the settlement"
		}
		return result, xerrors.New(xerrors.CodePayment, reason,
			xerrors.WithMetadata("status", string(result.Status)),
			xerrors.WithMetadata("idempotency_key", key),
		)
	}

	logger.Audit().Info("settlement_accepted",
		"tx_hash", result.TxHash,
		"tx_hash_fee", result.TxHashFee,
		"net_amount", result.NetAmount,
		"fee_amount", result.FeeAmount,
		"status", string(result.Status),
		"idempotency_key", key,
	)
	return result, nil
}

func (f *FacilitatorClient) settleOnce(ctx context.Context, payload settleRequest, key string) (*SettlementResult, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "encode settlement request")
	}

	rel := &url.URL{Path: path.Join(f.baseURL.Path, "/settle")}
	u := f.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(encoded))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "create settlement request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.metrics.ObserveRequest("settle", 0, time.Since(start))
		info := retry.ClassifyTransportError(err)
		return nil, xerrors.Wrap(retry.CodeFor(info, retry.IsTimeout(err)), err, "settlement request failed",
			xerrors.WithCategory(info.Category),
			xerrors.WithRetryable(info.Retryable),
		)
	}
	defer resp.Body.Close()
	f.metrics.ObserveRequest("settle", resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		info := retry.ClassifyStatus(resp.StatusCode)
		return nil, xerrors.New(retry.CodeFor(info, false), strings.TrimSpace(string(data)),
			xerrors.WithStatusCode(resp.StatusCode),
			xerrors.WithBody(string(data)),
			xerrors.WithCategory(info.Category),
			xerrors.WithRetryable(info.Retryable),
		)
	}

	var result SettlementResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "decode settlement response")
	}
	return &result, nil
}

// idempotencyKey builds {agentID|anon}_{timestamp}_{random}, unique per
// settlement attempt sequence.
func (f *FacilitatorClient) idempotencyKey() string {
	agent := f.agentID
	if agent == "" {
		agent = "anon"
	}
	return fmt.Sprintf("%s_%d_%s", agent, time.Now().UnixMilli(), uuid.NewString()[:8])
}
