// Package anthropic adapts the Anthropic Messages API to the Model
// contract.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lbds137/tzurot/internal/domain"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
)

// Provider implements the Model interface for Claude models.
type Provider struct {
	client *anthropic.Client
}

// NewProvider creates a new Anthropic provider with the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Provider{client: &client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return chatSvc.ProviderAnthropic
}

// Invoke sends one generation request, bounded by opts.Timeout.
func (p *Provider) Invoke(ctx context.Context, messages []chatSvc.Message, opts chatSvc.InvokeOptions) (string, error) {
	params := opts.Params.Anthropic
	if params == nil {
		return "", domain.Permanent(fmt.Errorf("anthropic params missing"))
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	apiParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		MaxTokens: maxTokens,
		Messages:  convertMessages(messages),
	}
	if params.Temperature != nil {
		apiParams.Temperature = anthropic.Float(*params.Temperature)
	}
	if params.System != "" {
		apiParams.System = []anthropic.TextBlockParam{{Text: params.System}}
	}

	callCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	message, err := p.client.Messages.New(callCtx, apiParams)
	if err != nil {
		return "", classify(err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", domain.Transient(fmt.Errorf("empty completion from %s", params.Model))
	}
	return text, nil
}

func convertMessages(messages []chatSvc.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// classify maps API failures onto the retryable/terminal split. Rate
// limits, conflicts, and server-side errors are worth retrying; the rest
// (bad request, auth, permission) are not.
func classify(err error) error {
	var apierr *anthropic.Error
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
	// Network-level failures and deadline overruns: retryable as long as
	// budget remains.
	return domain.Transient(err)
}
