package chat

import (
	"context"
	"time"
)

// Message is one prompt message handed to a model provider.
type Message struct {
	Role    string
	Content string
}

// InvokeOptions bound a single model invocation.
type InvokeOptions struct {
	// Timeout is the remaining model-level budget for this attempt.
	Timeout time.Duration
	// Params selects the provider and its generation parameters.
	Params ProviderParams
}

// Model generates a reply from assembled prompt messages. Implementations
// classify failures with domain.Transient / domain.Permanent so the caller
// can decide what to retry.
type Model interface {
	Name() string
	Invoke(ctx context.Context, messages []Message, opts InvokeOptions) (string, error)
}
