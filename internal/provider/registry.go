// Package provider routes resolved provider parameters to the matching
// model implementation.
package provider

import (
	"fmt"
	"log/slog"

	"github.com/lbds137/tzurot/internal/config"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
	"github.com/lbds137/tzurot/internal/provider/anthropic"
	"github.com/lbds137/tzurot/internal/provider/openai"
)

// Registry maps provider names to Model implementations.
type Registry struct {
	models map[string]chatSvc.Model
}

// Setup initializes every provider with a configured API key. At least one
// provider must come up, otherwise no job could ever complete.
func Setup(cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	r := &Registry{models: make(map[string]chatSvc.Model)}

	if cfg.AnthropicAPIKey != "" {
		p, err := anthropic.NewProvider(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("setup anthropic provider: %w", err)
		}
		r.models[p.Name()] = p
		logger.Info("provider available", "name", p.Name())
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set - Anthropic provider not available")
	}

	if cfg.OpenAIAPIKey != "" {
		p, err := openai.NewProvider(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("setup openai provider: %w", err)
		}
		r.models[p.Name()] = p
		logger.Info("provider available", "name", p.Name())
	} else {
		logger.Warn("OPENAI_API_KEY not set - OpenAI provider not available")
	}

	if len(r.models) == 0 {
		return nil, fmt.Errorf("no model providers configured")
	}
	return r, nil
}

// NewRegistry builds a registry from explicit models, used by tests.
func NewRegistry(models ...chatSvc.Model) *Registry {
	r := &Registry{models: make(map[string]chatSvc.Model, len(models))}
	for _, m := range models {
		r.models[m.Name()] = m
	}
	return r
}

// For returns the model matching the populated branch of params.
func (r *Registry) For(params chatSvc.ProviderParams) (chatSvc.Model, error) {
	name := params.Provider()
	if name == "" {
		return nil, fmt.Errorf("provider params select no provider")
	}
	model, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return model, nil
}
