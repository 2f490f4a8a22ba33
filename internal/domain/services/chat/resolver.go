package chat

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config sources, highest precedence first.
const (
	SourceContextOverride = "context-override"
	SourceUserDefault     = "user-default"
	SourceSystemDefault   = "system-default"
)

// Provider names used by the registry and the tagged params union.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// AnthropicParams is the Anthropic-specific generation parameter set.
type AnthropicParams struct {
	Model       string   `json:"model"`
	MaxTokens   int64    `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	System      string   `json:"system,omitempty"`
}

// OpenAIParams is the OpenAI-specific generation parameter set.
type OpenAIParams struct {
	Model               string   `json:"model"`
	MaxCompletionTokens int64    `json:"max_completion_tokens,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	System              string   `json:"system,omitempty"`
}

// ProviderParams is a tagged union: exactly one provider's parameter set is
// populated. It replaces duck-typed per-provider config maps with a shape
// that is validated once at the resolver boundary.
type ProviderParams struct {
	Anthropic *AnthropicParams `json:"anthropic,omitempty"`
	OpenAI    *OpenAIParams    `json:"openai,omitempty"`
}

// Provider returns the name of the populated branch.
func (p ProviderParams) Provider() string {
	switch {
	case p.Anthropic != nil:
		return ProviderAnthropic
	case p.OpenAI != nil:
		return ProviderOpenAI
	default:
		return ""
	}
}

// ModelID returns the provider-specific model identifier.
func (p ProviderParams) ModelID() string {
	switch {
	case p.Anthropic != nil:
		return p.Anthropic.Model
	case p.OpenAI != nil:
		return p.OpenAI.Model
	default:
		return ""
	}
}

// System returns the resolved system prompt, if any.
func (p ProviderParams) System() string {
	switch {
	case p.Anthropic != nil:
		return p.Anthropic.System
	case p.OpenAI != nil:
		return p.OpenAI.System
	default:
		return ""
	}
}

// Validate enforces the union shape: exactly one branch set, with a model.
func (p ProviderParams) Validate() error {
	set := 0
	if p.Anthropic != nil {
		set++
	}
	if p.OpenAI != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("provider params must set exactly one provider, got %d", set)
	}

	if p.Anthropic != nil {
		return validation.ValidateStruct(p.Anthropic,
			validation.Field(&p.Anthropic.Model, validation.Required),
			validation.Field(&p.Anthropic.MaxTokens, validation.Min(0)),
		)
	}
	return validation.ValidateStruct(p.OpenAI,
		validation.Field(&p.OpenAI.Model, validation.Required),
		validation.Field(&p.OpenAI.MaxCompletionTokens, validation.Min(0)),
	)
}

// ResolvedConfig is the outcome of the cascading lookup.
type ResolvedConfig struct {
	Source string
	Params ProviderParams
}

// ConfigResolver resolves the effective model configuration for a user and
// personality: context-override > user-default > system-default. Results
// are cached; Invalidate drops a cached entry explicitly.
type ConfigResolver interface {
	Resolve(ctx context.Context, userID, personalityID string) (*ResolvedConfig, error)
	Invalidate(userID, personalityID string)
}
