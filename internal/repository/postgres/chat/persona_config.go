package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lbds137/tzurot/internal/domain"
	chatRepo "github.com/lbds137/tzurot/internal/domain/repositories/chat"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
	"github.com/lbds137/tzurot/internal/repository/postgres"
)

// PostgresPersonaConfigStore implements PersonaConfigStore using PostgreSQL.
type PostgresPersonaConfigStore struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewPersonaConfigStore creates a new PostgresPersonaConfigStore
func NewPersonaConfigStore(config *postgres.RepositoryConfig) chatRepo.PersonaConfigStore {
	return &PostgresPersonaConfigStore{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Lookup returns the stored provider params for one scope key.
func (r *PostgresPersonaConfigStore) Lookup(ctx context.Context, scope, scopeID, personalityID string) (chatSvc.ProviderParams, error) {
	query := fmt.Sprintf(`
		SELECT params FROM %s
		WHERE scope = $1 AND scope_id = $2 AND personality_id = $3
	`, r.tables.PersonaConfigs)

	var raw []byte
	err := r.pool.QueryRow(ctx, query, scope, scopeID, personalityID).Scan(&raw)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return chatSvc.ProviderParams{}, domain.ErrNotFound
		}
		return chatSvc.ProviderParams{}, fmt.Errorf("lookup persona config: %w", err)
	}

	var params chatSvc.ProviderParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return chatSvc.ProviderParams{}, fmt.Errorf("decode persona config: %w", err)
	}
	return params, nil
}
