package anthropic

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kiranshivaraju/beyanname/internal/config"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

const customIDPrefix = "part-"

// Provider implements models.AIProvider and models.BatchProvider using the
// Anthropic Messages and Message Batches APIs.
type Provider struct {
	model  string
	client sdk.Client
}

func NewProvider(cfg config.AnthropicConfig, opts ...option.RequestOption) *Provider {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{
		model:  cfg.Model,
		client: sdk.NewClient(append(base, opts...)...),
	}
}

func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	msg, err := p.client.Messages.New(ctx, p.messageParams(req))
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	return messageText(msg), nil
}

func (p *Provider) messageParams(req models.GenerateRequest) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(p.model),
		MaxTokens:   int64(req.MaxOutputTokens),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Temperature: sdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	return params
}

// SubmitBatch creates one Message Batch holding every part. Each request's
// custom id encodes the part index so results can be reordered on collection.
func (p *Provider) SubmitBatch(ctx context.Context, parts []models.BatchPart, params models.GenerateRequest) (string, error) {
	requests := make([]sdk.MessageBatchNewParamsRequest, 0, len(parts))
	for _, part := range parts {
		req := params
		req.Prompt = part.Prompt
		mp := p.messageParams(req)
		requests = append(requests, sdk.MessageBatchNewParamsRequest{
			CustomID: customIDPrefix + strconv.Itoa(part.Index),
			Params: sdk.MessageBatchNewParamsRequestParams{
				Model:       mp.Model,
				MaxTokens:   mp.MaxTokens,
				Messages:    mp.Messages,
				System:      mp.System,
				Temperature: mp.Temperature,
			},
		})
	}

	batch, err := p.client.Messages.Batches.New(ctx, sdk.MessageBatchNewParams{Requests: requests})
	if err != nil {
		return "", fmt.Errorf("anthropic batch create: %w", err)
	}
	return batch.ID, nil
}

// PollBatch reports batch progress and, once the batch has ended, every part's result.
func (p *Provider) PollBatch(ctx context.Context, ref string) (models.BatchResult, error) {
	batch, err := p.client.Messages.Batches.Get(ctx, ref)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("anthropic batch get: %w", err)
	}

	c := batch.RequestCounts
	total := int(c.Processing + c.Succeeded + c.Errored + c.Canceled + c.Expired)
	res := models.BatchResult{
		State:     models.BatchInProgress,
		Completed: total - int(c.Processing),
		Total:     total,
	}
	if batch.ProcessingStatus != sdk.MessageBatchProcessingStatusEnded {
		return res, nil
	}

	parts, err := p.collect(ctx, ref)
	if err != nil {
		return models.BatchResult{}, err
	}
	res.State = models.BatchEnded
	res.Parts = parts
	return res, nil
}

func (p *Provider) collect(ctx context.Context, ref string) ([]models.BatchPartResult, error) {
	stream := p.client.Messages.Batches.ResultsStreaming(ctx, ref)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic batch results: %w", err)
	}
	defer stream.Close()

	var parts []models.BatchPartResult
	for stream.Next() {
		item := stream.Current()
		idx, err := strconv.Atoi(strings.TrimPrefix(item.CustomID, customIDPrefix))
		if err != nil {
			return nil, fmt.Errorf("anthropic batch result: unexpected custom id %q", item.CustomID)
		}

		part := models.BatchPartResult{Index: idx}
		switch item.Result.Type {
		case "succeeded":
			part.Status = models.PartStatusSucceeded
			part.Text = messageText(&item.Result.Message)
		case "errored":
			part.Status = models.PartStatusErrored
			part.Error = fmt.Sprintf("%s: %s", item.Result.Error.Error.Type, item.Result.Error.Error.Message)
		default:
			part.Status = models.PartStatusErrored
			part.Error = "request " + item.Result.Type
		}
		parts = append(parts, part)
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic batch results: %w", err)
	}
	return parts, nil
}

func messageText(msg *sdk.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

var (
	_ models.AIProvider    = (*Provider)(nil)
	_ models.BatchProvider = (*Provider)(nil)
)
