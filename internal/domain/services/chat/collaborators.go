package chat

import (
	"context"
	"time"

	"github.com/lbds137/tzurot/internal/domain/models/chat"
)

// MemorySnippet is one ranked long-term memory hit.
type MemorySnippet struct {
	Text      string
	Score     float64
	CreatedAt time.Time
}

// MemorySearchOptions scope a long-term memory lookup.
type MemorySearchOptions struct {
	PersonalityID string
	Limit         int
	// ExcludeNewerThan drops memories created after the given instant,
	// so a search never surfaces content from the short-term window that
	// has not been committed yet.
	ExcludeNewerThan time.Time
}

// MemoryStore is the long-term memory collaborator. Retrieval failures are
// degraded, not fatal; Add is fire-and-forget after commit.
type MemoryStore interface {
	Search(ctx context.Context, personaID, query string, opts MemorySearchOptions) ([]MemorySnippet, error)
	Add(ctx context.Context, personaID, text string, metadata map[string]string) error
}

// SenderIdentity is the face the delivered message wears: the personality's
// display name and avatar, not the bot account's.
type SenderIdentity struct {
	Name      string
	AvatarURL string
}

// IdentityResolver maps a personality to the identity its delivered
// messages wear. Failures degrade: callers fall back to a bare name.
type IdentityResolver interface {
	Identity(ctx context.Context, personalityID string) (SenderIdentity, error)
}

// DeliveryChannel pushes content to the external platform. One external
// message ID is returned per delivered chunk, in delivery order.
type DeliveryChannel interface {
	Deliver(ctx context.Context, channelID, content string, identity SenderIdentity) ([]string, error)
}

// MediaDescriber turns a media attachment into prose usable in a prompt
// and in the persisted turn. Both calls are expensive external API calls;
// their cost is what the timeout budget's vision/audio terms account for.
type MediaDescriber interface {
	DescribeImage(ctx context.Context, att chat.Attachment) (string, error)
	Transcribe(ctx context.Context, att chat.Attachment) (string, error)
}
