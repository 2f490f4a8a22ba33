package chat

import (
	"context"
	"time"

	"github.com/lbds137/tzurot/internal/domain/models/chat"
)

// TurnReader is the read-side view of the conversation log. Workers hold
// only this interface; they never get write access to the store.
type TurnReader interface {
	// RecentTurns returns the most recent turns in a partition, oldest
	// first. Only fully-formed turns are ever visible; there is no
	// intermediate state to filter out.
	RecentTurns(ctx context.Context, channelID, personalityID string, limit int) ([]chat.Turn, error)

	// UserTurnTimestamp returns the turn_ts of the user turn that
	// originated the given job. Returns domain.ErrNotFound if the job has
	// no committed user turn.
	UserTurnTimestamp(ctx context.Context, jobID string) (time.Time, error)
}

// TurnWriter exposes only append operations. There is no update and no
// delete: a turn is durable and immutable the instant an append returns.
type TurnWriter interface {
	// AppendUserTurn inserts a fully enriched user turn and returns its ID.
	// Callers must have resolved all attachment and reference notes first.
	AppendUserTurn(ctx context.Context, turn *chat.UserTurn) (string, error)

	// AppendAssistantTurn commits the reply for a job. It is idempotent on
	// JobID: if an assistant turn already exists for the job, the existing
	// ID is returned and nothing is written. Callers invoke this only
	// after the external delivery has succeeded.
	AppendAssistantTurn(ctx context.Context, turn *chat.AssistantTurn) (string, error)
}

// TurnStore is the full conversation log contract.
type TurnStore interface {
	TurnReader
	TurnWriter
}
