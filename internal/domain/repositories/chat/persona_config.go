package chat

import (
	"context"

	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
)

// Config scopes stored in the persona_configs table.
const (
	ScopeContext = "context"
	ScopeUser    = "user"
	ScopeSystem  = "system"
)

// PersonaConfigStore is the persistence behind the cascading resolver.
type PersonaConfigStore interface {
	// Lookup returns the stored provider params for one scope key.
	// Returns domain.ErrNotFound when the scope has no row.
	Lookup(ctx context.Context, scope, scopeID, personalityID string) (chatSvc.ProviderParams, error)
}
