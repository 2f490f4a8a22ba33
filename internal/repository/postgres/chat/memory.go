package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
	"github.com/lbds137/tzurot/internal/repository/postgres"
)

// PostgresMemoryStore implements the long-term memory contract over
// full-text search. Ranking quality is bounded by tsquery; the call
// contract is what matters to the pipeline.
type PostgresMemoryStore struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewMemoryStore creates a new PostgresMemoryStore
func NewMemoryStore(config *postgres.RepositoryConfig) chatSvc.MemoryStore {
	return &PostgresMemoryStore{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Search returns ranked snippets for a persona. Memories newer than
// opts.ExcludeNewerThan are filtered out so retrieval never leaks content
// from the uncommitted short-term window.
func (r *PostgresMemoryStore) Search(ctx context.Context, personaID, query string, opts chatSvc.MemorySearchOptions) ([]chatSvc.MemorySnippet, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}
	cutoff := opts.ExcludeNewerThan
	if cutoff.IsZero() {
		cutoff = time.Now().UTC()
	}

	sql := fmt.Sprintf(`
		SELECT content,
		       ts_rank(to_tsvector('english', content), websearch_to_tsquery('english', $2)) AS rank,
		       created_at
		FROM %s
		WHERE persona_id = $1
		  AND ($3 = '' OR personality_id = $3)
		  AND created_at < $4
		  AND to_tsvector('english', content) @@ websearch_to_tsquery('english', $2)
		ORDER BY rank DESC
		LIMIT $5
	`, r.tables.Memories)

	rows, err := r.pool.Query(ctx, sql, personaID, query, opts.PersonalityID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var snippets []chatSvc.MemorySnippet
	for rows.Next() {
		var s chatSvc.MemorySnippet
		if err := rows.Scan(&s.Text, &s.Score, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		snippets = append(snippets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return snippets, nil
}

// Add stores one memory. Callers treat this as fire-and-forget after a
// turn pair commits.
func (r *PostgresMemoryStore) Add(ctx context.Context, personaID, text string, metadata map[string]string) error {
	personalityID := metadata["personality_id"]

	sql := fmt.Sprintf(`
		INSERT INTO %s (persona_id, personality_id, content, metadata)
		VALUES ($1, $2, $3, $4)
	`, r.tables.Memories)

	meta := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	if _, err := r.pool.Exec(ctx, sql, personaID, personalityID, text, meta); err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}
