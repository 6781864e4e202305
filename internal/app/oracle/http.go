package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/tutu-network/escrow/internal/domain"
)

// RetryConfig configures exponential backoff for arbitrator calls.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
}

// DefaultRetryConfig keeps retries well inside one API request.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
		Multiplier:      2.0,
	}
}

// HTTPArbitrator submits assertions to a remote arbitration service. The
// service answers with a handle and later calls back the verdict endpoint.
type HTTPArbitrator struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
}

// NewHTTPArbitrator creates a client for the service at baseURL.
func NewHTTPArbitrator(baseURL string, timeout time.Duration, retry RetryConfig, logger *slog.Logger) *HTTPArbitrator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "arbitrator",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Rejections are answers, not outages.
			return errors.Is(err, domain.ErrOracleRejected) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &HTTPArbitrator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
		retry:   retry,
	}
}

type assertResponse struct {
	AssertionID string `json:"assertion_id"`
	Error       string `json:"error,omitempty"`
}

// Assert implements domain.Arbitrator.
func (h *HTTPArbitrator) Assert(ctx context.Context, req domain.AssertionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode assertion: %w", err)
	}

	var id string
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		result, err := h.breaker.Execute(func() (interface{}, error) {
			return h.post(ctx, body)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
				errors.Is(err, domain.ErrOracleRejected) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		id = result.(string)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.retry.InitialInterval
	policy.MaxInterval = h.retry.MaxInterval
	policy.MaxElapsedTime = h.retry.MaxElapsedTime
	policy.Multiplier = h.retry.Multiplier

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, domain.ErrOracleRejected) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	return id, nil
}

func (h *HTTPArbitrator) post(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/assertions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out assertResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("arbitrator returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: %d %s", domain.ErrOracleRejected, resp.StatusCode, out.Error)
	case out.AssertionID == "":
		return "", fmt.Errorf("%w: response without assertion id", domain.ErrOracleRejected)
	}
	return out.AssertionID, nil
}
