package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// Client wraps a provider with a hard per-call timeout, outbound pacing and
// error classification. It never retries: a failed call is reported once and
// the caller decides what happens to the job.
type Client struct {
	provider models.AIProvider
	timeout  time.Duration
	limiter  *rate.Limiter
}

// NewClient creates a Client. requestsPerSecond <= 0 disables pacing.
func NewClient(provider models.AIProvider, timeout time.Duration, requestsPerSecond float64) *Client {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		provider: provider,
		timeout:  timeout,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

func (c *Client) ProviderName() string { return c.provider.Name() }
func (c *Client) Model() string        { return c.provider.Model() }

// Generate performs one generation call. Errors wrap exactly one of
// ErrInferenceTimeout, ErrProviderError or ErrEmptyResponse, or the caller's
// own context error when ctx was cancelled before the call finished.
func (c *Client) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for request slot: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.provider.Generate(callCtx, req)
	if err != nil {
		return "", c.classify(ctx, callCtx, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyResponse, c.provider.Name())
	}
	return text, nil
}

// SupportsBatch reports whether the wrapped provider implements batches.
func (c *Client) SupportsBatch() bool {
	_, ok := c.provider.(models.BatchProvider)
	return ok
}

// SubmitBatch submits parts as one remote batch and returns its reference.
func (c *Client) SubmitBatch(ctx context.Context, parts []models.BatchPart, params models.GenerateRequest) (string, error) {
	bp, ok := c.provider.(models.BatchProvider)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBatchUnsupported, c.provider.Name())
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for request slot: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ref, err := bp.SubmitBatch(callCtx, parts, params)
	if err != nil {
		return "", c.classify(ctx, callCtx, err)
	}
	return ref, nil
}

// PollBatch fetches the current state of a remote batch.
func (c *Client) PollBatch(ctx context.Context, ref string) (models.BatchResult, error) {
	bp, ok := c.provider.(models.BatchProvider)
	if !ok {
		return models.BatchResult{}, fmt.Errorf("%w: %s", ErrBatchUnsupported, c.provider.Name())
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := bp.PollBatch(callCtx, ref)
	if err != nil {
		return models.BatchResult{}, c.classify(ctx, callCtx, err)
	}
	return res, nil
}

func (c *Client) classify(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s call aborted: %w", c.provider.Name(), parent.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s did not answer within %s", ErrInferenceTimeout, c.provider.Name(), c.timeout)
	}
	return fmt.Errorf("%w: %s: %w", ErrProviderError, c.provider.Name(), err)
}

// KindOf maps an error returned by Client to the failure kind recorded for a job.
func KindOf(err error) models.FailureKind {
	switch {
	case errors.Is(err, ErrInferenceTimeout):
		return models.FailureTimeout
	case errors.Is(err, ErrEmptyResponse):
		return models.FailureEmptyResponse
	case errors.Is(err, ErrProviderError), errors.Is(err, ErrBatchUnsupported):
		return models.FailureProviderError
	default:
		return models.FailureInternal
	}
}
