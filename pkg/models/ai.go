// Package models contains shared data models used across the beyanname codebase.
package models

import (
	"context"
)

// AIProvider is the core interface every model integration implements.
// Callers never reach a vendor SDK directly; they go through this interface.
type AIProvider interface {
	// Generate sends one prompt and returns the model's text output.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
	// Model returns the configured model identifier.
	Model() string
}

// GenerateRequest is the input to a single generation call.
type GenerateRequest struct {
	Prompt          string
	System          string
	MaxOutputTokens int
	Temperature     float64
}

// BatchProvider is implemented by providers that accept many prompts in one
// remote batch and let the caller poll for completion.
type BatchProvider interface {
	SubmitBatch(ctx context.Context, parts []BatchPart, params GenerateRequest) (string, error)
	PollBatch(ctx context.Context, ref string) (BatchResult, error)
}

// BatchPart is one prompt inside a remote batch, keyed by its part index.
type BatchPart struct {
	Index  int
	Prompt string
}

// BatchState is the coarse remote status of a submitted batch.
type BatchState string

const (
	BatchInProgress BatchState = "in_progress"
	BatchEnded      BatchState = "ended"
	BatchErrored    BatchState = "errored"
)

// BatchResult is one poll of a remote batch. Parts is populated once State is ended.
type BatchResult struct {
	State     BatchState
	Completed int
	Total     int
	Parts     []BatchPartResult
}

// BatchPartResult is the outcome of one part of an ended batch.
type BatchPartResult struct {
	Index  int
	Status PartStatus
	Text   string
	Error  string
}
