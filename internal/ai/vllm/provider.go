package vllm

import (
	"strings"

	"github.com/openai/openai-go/v3/option"

	"github.com/kiranshivaraju/beyanname/internal/ai/openai"
	"github.com/kiranshivaraju/beyanname/internal/config"
)

// NewProvider returns a provider for a vLLM server. vLLM exposes the OpenAI
// Chat Completions API under /v1.
func NewProvider(cfg config.VLLMConfig, opts ...option.RequestOption) *openai.Provider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return openai.NewCompatible("vllm", base+"/", "", cfg.Model, opts...)
}
