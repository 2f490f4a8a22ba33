// Package openai adapts the OpenAI Chat Completions API to the Model
// contract.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lbds137/tzurot/internal/domain"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
)

// Provider implements the Model interface for OpenAI models.
type Provider struct {
	client *openai.Client
}

// NewProvider creates a new OpenAI provider with the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	return &Provider{client: &client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return chatSvc.ProviderOpenAI
}

// Invoke sends one generation request, bounded by opts.Timeout.
func (p *Provider) Invoke(ctx context.Context, messages []chatSvc.Message, opts chatSvc.InvokeOptions) (string, error) {
	params := opts.Params.OpenAI
	if params == nil {
		return "", domain.Permanent(fmt.Errorf("openai params missing"))
	}

	apiMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if params.System != "" {
		apiMessages = append(apiMessages, openai.SystemMessage(params.System))
	}
	for _, msg := range messages {
		if msg.Role == "assistant" {
			apiMessages = append(apiMessages, openai.AssistantMessage(msg.Content))
		} else {
			apiMessages = append(apiMessages, openai.UserMessage(msg.Content))
		}
	}

	apiParams := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(params.Model),
		Messages: apiMessages,
	}
	if params.MaxCompletionTokens > 0 {
		apiParams.MaxCompletionTokens = openai.Int(params.MaxCompletionTokens)
	}
	if params.Temperature != nil {
		apiParams.Temperature = openai.Float(*params.Temperature)
	}

	callCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	completion, err := p.client.Chat.Completions.New(callCtx, apiParams)
	if err != nil {
		return "", classify(err)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", domain.Transient(fmt.Errorf("empty completion from %s", params.Model))
	}
	return completion.Choices[0].Message.Content, nil
}

func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 408,
			apierr.StatusCode == 409,
			apierr.StatusCode == 429,
			apierr.StatusCode >= 500:
			return domain.Transient(err)
		default:
			return domain.Permanent(err)
		}
	}
	return domain.Transient(err)
}
