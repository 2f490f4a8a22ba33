package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lbds137/tzurot/internal/domain"
	chatModels "github.com/lbds137/tzurot/internal/domain/models/chat"
	chatRepo "github.com/lbds137/tzurot/internal/domain/repositories/chat"
	"github.com/lbds137/tzurot/internal/repository/postgres"
)

// PostgresTurnStore implements the TurnStore interface using PostgreSQL.
//
// The table carries a partial unique index on (job_id) WHERE role =
// 'assistant'. That single constraint is the whole idempotency protocol:
// every write is one atomic insert, and a duplicate assistant commit for a
// job collapses into the existing row.
type PostgresTurnStore struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewTurnStore creates a new PostgresTurnStore
func NewTurnStore(config *postgres.RepositoryConfig) chatRepo.TurnStore {
	return &PostgresTurnStore{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// AppendUserTurn inserts a fully enriched user turn.
func (r *PostgresTurnStore) AppendUserTurn(ctx context.Context, turn *chatModels.UserTurn) (string, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			channel_id, personality_id, persona_id, guild_id, role, content,
			attachment_notes, reference_notes, external_message_ids, job_id, turn_ts
		)
		VALUES ($1, $2, $3, $4, 'user', $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, r.tables.Turns)

	externalIDs := []string{}
	if turn.ExternalMessageID != "" {
		externalIDs = []string{turn.ExternalMessageID}
	}

	var id string
	err := r.pool.QueryRow(ctx, query,
		turn.ChannelID,
		turn.PersonalityID,
		turn.PersonaID,
		nullable(turn.GuildID),
		turn.Content,
		emptyToSlice(turn.AttachmentNotes),
		emptyToSlice(turn.ReferenceNotes),
		externalIDs,
		turn.JobID,
		turn.TurnTS,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("append user turn: %w", err)
	}

	return id, nil
}

// AppendAssistantTurn commits the reply for a job, idempotent on job_id.
// ON CONFLICT DO NOTHING against the partial unique index means a retried
// commit performs no write; the existing row's ID is returned instead.
func (r *PostgresTurnStore) AppendAssistantTurn(ctx context.Context, turn *chatModels.AssistantTurn) (string, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			channel_id, personality_id, persona_id, guild_id, role, content,
			external_message_ids, job_id, model, turn_ts
		)
		VALUES ($1, $2, $3, $4, 'assistant', $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) WHERE role = 'assistant' DO NOTHING
		RETURNING id
	`, r.tables.Turns)

	var id string
	err := r.pool.QueryRow(ctx, query,
		turn.ChannelID,
		turn.PersonalityID,
		turn.PersonaID,
		nullable(turn.GuildID),
		turn.Content,
		emptyToSlice(turn.ExternalMessageIDs),
		turn.JobID,
		nullable(turn.Model),
		turn.TurnTS,
	).Scan(&id)

	if err == nil {
		return id, nil
	}
	if !postgres.IsPgNoRowsError(err) {
		return "", fmt.Errorf("append assistant turn: %w", err)
	}

	// Conflict path: a turn already exists for this job_id.
	existing, err := r.assistantTurnID(ctx, turn.JobID)
	if err != nil {
		return "", err
	}
	r.logger.Debug("duplicate assistant commit collapsed",
		"job_id", turn.JobID,
		"turn_id", existing,
	)
	return existing, nil
}

func (r *PostgresTurnStore) assistantTurnID(ctx context.Context, jobID string) (string, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s WHERE job_id = $1 AND role = 'assistant'
	`, r.tables.Turns)

	var id string
	err := r.pool.QueryRow(ctx, query, jobID).Scan(&id)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return "", fmt.Errorf("assistant turn for job %s: %w", jobID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("lookup assistant turn: %w", err)
	}
	return id, nil
}

// RecentTurns returns the most recent turns in a partition, oldest first.
func (r *PostgresTurnStore) RecentTurns(ctx context.Context, channelID, personalityID string, limit int) ([]chatModels.Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, channel_id, personality_id, persona_id, guild_id, role, content,
		       attachment_notes, reference_notes, external_message_ids,
		       job_id, model, turn_ts, created_at
		FROM (
			SELECT * FROM %s
			WHERE channel_id = $1 AND personality_id = $2
			ORDER BY turn_ts DESC
			LIMIT $3
		) recent
		ORDER BY turn_ts ASC
	`, r.tables.Turns)

	rows, err := r.pool.Query(ctx, query, channelID, personalityID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var turns []chatModels.Turn
	for rows.Next() {
		var turn chatModels.Turn
		var guildID *string
		err := rows.Scan(
			&turn.ID,
			&turn.ChannelID,
			&turn.PersonalityID,
			&turn.PersonaID,
			&guildID,
			&turn.Role,
			&turn.Content,
			&turn.AttachmentNotes,
			&turn.ReferenceNotes,
			&turn.ExternalMessageIDs,
			&turn.JobID,
			&turn.Model,
			&turn.TurnTS,
			&turn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if guildID != nil {
			turn.GuildID = *guildID
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	if turns == nil {
		turns = []chatModels.Turn{}
	}
	return turns, nil
}

// UserTurnTimestamp returns the turn_ts of the user turn for a job.
func (r *PostgresTurnStore) UserTurnTimestamp(ctx context.Context, jobID string) (time.Time, error) {
	query := fmt.Sprintf(`
		SELECT turn_ts FROM %s WHERE job_id = $1 AND role = 'user'
	`, r.tables.Turns)

	var ts time.Time
	err := r.pool.QueryRow(ctx, query, jobID).Scan(&ts)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return time.Time{}, fmt.Errorf("user turn for job %s: %w", jobID, domain.ErrNotFound)
		}
		return time.Time{}, fmt.Errorf("user turn timestamp: %w", err)
	}
	return ts, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// emptyToSlice keeps text[] columns NOT NULL by writing [] instead of nil.
func emptyToSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
