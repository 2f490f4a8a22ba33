// Package resolver implements the cascading model-configuration lookup:
// context-override > user-default > system-default, with a process-local
// cache and explicit invalidation.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lbds137/tzurot/internal/domain"
	chatRepo "github.com/lbds137/tzurot/internal/domain/repositories/chat"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
)

// Service implements the ConfigResolver interface.
type Service struct {
	configs chatRepo.PersonaConfigStore
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]*chatSvc.ResolvedConfig
}

// NewService creates a new resolver.
func NewService(configs chatRepo.PersonaConfigStore, logger *slog.Logger) *Service {
	return &Service{
		configs: configs,
		logger:  logger.With("service", "ConfigResolver"),
		cache:   make(map[string]*chatSvc.ResolvedConfig),
	}
}

func cacheKey(userID, personalityID string) string {
	return userID + "\x00" + personalityID
}

// Resolve walks the scopes in precedence order and returns the first hit,
// validated. The result is cached until Invalidate drops it.
func (s *Service) Resolve(ctx context.Context, userID, personalityID string) (*chatSvc.ResolvedConfig, error) {
	key := cacheKey(userID, personalityID)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	resolved, err := s.lookup(ctx, userID, personalityID)
	if err != nil {
		return nil, err
	}

	if err := resolved.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%s config for user %s invalid: %w", resolved.Source, userID, err)
	}

	s.mu.Lock()
	s.cache[key] = resolved
	s.mu.Unlock()

	s.logger.Debug("config resolved",
		"user_id", userID,
		"personality_id", personalityID,
		"source", resolved.Source,
		"provider", resolved.Params.Provider(),
	)
	return resolved, nil
}

func (s *Service) lookup(ctx context.Context, userID, personalityID string) (*chatSvc.ResolvedConfig, error) {
	scopes := []struct {
		scope         string
		scopeID       string
		personalityID string
		source        string
	}{
		{chatRepo.ScopeContext, userID, personalityID, chatSvc.SourceContextOverride},
		{chatRepo.ScopeUser, userID, "", chatSvc.SourceUserDefault},
		{chatRepo.ScopeSystem, "", "", chatSvc.SourceSystemDefault},
	}

	for _, sc := range scopes {
		params, err := s.configs.Lookup(ctx, sc.scope, sc.scopeID, sc.personalityID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		return &chatSvc.ResolvedConfig{Source: sc.source, Params: params}, nil
	}

	return nil, fmt.Errorf("no model config for user %s, personality %s: %w",
		userID, personalityID, domain.ErrNotFound)
}

// Invalidate drops the cached entry for one (user, personality) pair.
// Config mutations call this so the next resolve sees fresh rows.
func (s *Service) Invalidate(userID, personalityID string) {
	s.mu.Lock()
	delete(s.cache, cacheKey(userID, personalityID))
	s.mu.Unlock()
}
