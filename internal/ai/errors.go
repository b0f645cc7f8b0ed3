package ai

import "errors"

var (
	ErrInferenceTimeout = errors.New("ai inference timeout")
	ErrProviderError    = errors.New("ai provider error")
	ErrEmptyResponse    = errors.New("ai provider returned empty response")
	ErrBatchUnsupported = errors.New("ai provider does not support batches")
)
