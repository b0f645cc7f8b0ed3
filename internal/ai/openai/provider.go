package openai

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/kiranshivaraju/beyanname/internal/config"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// Provider implements models.AIProvider over the Chat Completions API.
// It also serves any OpenAI-compatible endpoint (vLLM, LiteLLM) through NewCompatible.
type Provider struct {
	name   string
	model  string
	client oai.Client
}

func NewProvider(cfg config.OpenAIConfig, opts ...option.RequestOption) *Provider {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	return newProvider("openai", cfg.Model, append(base, opts...))
}

// NewCompatible builds a provider for an OpenAI-compatible server at baseURL.
func NewCompatible(name, baseURL, apiKey, model string, opts ...option.RequestOption) *Provider {
	if apiKey == "" {
		apiKey = "unused"
	}
	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)}
	return newProvider(name, model, append(base, opts...))
}

func newProvider(name, model string, opts []option.RequestOption) *Provider {
	// retries are owned by the job lifecycle, not the SDK
	opts = append([]option.RequestOption{option.WithMaxRetries(0)}, opts...)
	return &Provider{
		name:   name,
		model:  model,
		client: oai.NewClient(opts...),
	}
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Model:       p.model,
		Messages:    messages,
		Temperature: oai.Float(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(req.MaxOutputTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

var _ models.AIProvider = (*Provider)(nil)
