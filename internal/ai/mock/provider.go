package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing.
type MockProvider struct {
	Name_        string
	Model_       string
	GenerateFunc func(ctx context.Context, req models.GenerateRequest) (string, error)

	calls atomic.Int64
	mu    sync.Mutex
	seen  []models.GenerateRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Model() string {
	if m.Model_ == "" {
		return "mock-v1"
	}
	return m.Model_
}

func (m *MockProvider) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.seen = append(m.seen, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return "", nil
}

// Calls returns how many times Generate was invoked.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

// Requests returns a copy of every request passed to Generate.
func (m *MockProvider) Requests() []models.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.GenerateRequest(nil), m.seen...)
}

// NewMockProvider returns a MockProvider whose output echoes the prompt,
// which lets tests check that part results are assembled in order.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, req models.GenerateRequest) (string, error) {
			return "analysis: " + req.Prompt, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenerateRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until its context ends.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ models.GenerateRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
}

// NewEmptyProvider returns a MockProvider that succeeds with blank output.
func NewEmptyProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-empty",
		GenerateFunc: func(_ context.Context, _ models.GenerateRequest) (string, error) {
			return "  \n", nil
		},
	}
}

// BatchProvider is a MockProvider that also implements models.BatchProvider.
type BatchProvider struct {
	*MockProvider
	SubmitBatchFunc func(ctx context.Context, parts []models.BatchPart, params models.GenerateRequest) (string, error)
	PollBatchFunc   func(ctx context.Context, ref string) (models.BatchResult, error)

	polls atomic.Int64
}

func (b *BatchProvider) SubmitBatch(ctx context.Context, parts []models.BatchPart, params models.GenerateRequest) (string, error) {
	if b.SubmitBatchFunc != nil {
		return b.SubmitBatchFunc(ctx, parts, params)
	}
	return "", fmt.Errorf("SubmitBatchFunc not set")
}

func (b *BatchProvider) PollBatch(ctx context.Context, ref string) (models.BatchResult, error) {
	b.polls.Add(1)
	if b.PollBatchFunc != nil {
		return b.PollBatchFunc(ctx, ref)
	}
	return models.BatchResult{State: models.BatchInProgress}, nil
}

// Polls returns how many times PollBatch was invoked.
func (b *BatchProvider) Polls() int { return int(b.polls.Load()) }

// NewBatchProvider returns a BatchProvider that finishes after the given number
// of in-progress polls. Parts listed in failing end errored; the rest succeed
// with "analysis: <prompt>". Results come back in reverse index order, the way
// a remote batch may return them.
func NewBatchProvider(pollsBeforeEnd int, failing ...int) *BatchProvider {
	bp := &BatchProvider{MockProvider: NewMockProvider()}
	bp.Name_ = "mock-batch"

	var (
		mu        sync.Mutex
		submitted []models.BatchPart
	)
	failed := make(map[int]bool, len(failing))
	for _, idx := range failing {
		failed[idx] = true
	}

	bp.SubmitBatchFunc = func(_ context.Context, parts []models.BatchPart, _ models.GenerateRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		submitted = append([]models.BatchPart(nil), parts...)
		return "msgbatch_mock", nil
	}
	bp.PollBatchFunc = func(_ context.Context, _ string) (models.BatchResult, error) {
		mu.Lock()
		defer mu.Unlock()

		n := int(bp.polls.Load())
		total := len(submitted)
		if n <= pollsBeforeEnd {
			done := 0
			if pollsBeforeEnd > 0 {
				done = total * (n - 1) / pollsBeforeEnd
			}
			return models.BatchResult{State: models.BatchInProgress, Completed: done, Total: total}, nil
		}

		res := models.BatchResult{State: models.BatchEnded, Completed: total, Total: total}
		for i := total - 1; i >= 0; i-- {
			p := submitted[i]
			if failed[p.Index] {
				res.Parts = append(res.Parts, models.BatchPartResult{
					Index: p.Index, Status: models.PartStatusErrored, Error: "overloaded_error: try later",
				})
				continue
			}
			res.Parts = append(res.Parts, models.BatchPartResult{
				Index: p.Index, Status: models.PartStatusSucceeded, Text: "analysis: " + strings.TrimSpace(p.Prompt),
			})
		}
		return res, nil
	}
	return bp
}

// Compile-time checks.
var (
	_ models.AIProvider    = (*MockProvider)(nil)
	_ models.BatchProvider = (*BatchProvider)(nil)
)
