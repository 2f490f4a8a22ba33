package chat

import (
	"time"
)

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one persisted message in a (channel_id, personality_id) partition.
// Turns are written exactly once, fully enriched, and are immutable after
// creation. Within a partition they are totally ordered by TurnTS.
type Turn struct {
	ID                 string    `json:"id" db:"id"`
	ChannelID          string    `json:"channel_id" db:"channel_id"`
	PersonalityID      string    `json:"personality_id" db:"personality_id"`
	PersonaID          string    `json:"persona_id" db:"persona_id"`
	GuildID            string    `json:"guild_id,omitempty" db:"guild_id"`
	Role               string    `json:"role" db:"role"`
	Content            string    `json:"content" db:"content"`
	AttachmentNotes    []string  `json:"attachment_notes,omitempty" db:"attachment_notes"`
	ReferenceNotes     []string  `json:"reference_notes,omitempty" db:"reference_notes"`
	ExternalMessageIDs []string  `json:"external_message_ids,omitempty" db:"external_message_ids"`
	JobID              *string   `json:"job_id,omitempty" db:"job_id"`
	Model              *string   `json:"model,omitempty" db:"model"`
	TurnTS             time.Time `json:"turn_ts" db:"turn_ts"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// UserTurn carries everything needed to append a user turn. Content and the
// note slices must already be fully resolved; the store never accepts
// placeholders that get fixed later.
type UserTurn struct {
	JobID             string
	ChannelID         string
	PersonalityID     string
	PersonaID         string
	GuildID           string
	Content           string
	AttachmentNotes   []string
	ReferenceNotes    []string
	ExternalMessageID string
	TurnTS            time.Time
}

// AssistantTurn carries everything needed to commit the reply side of a
// pair. TurnTS is derived from the paired user turn, not wall clock, so the
// pair stays ordered even when generation outlasts the gap between
// unrelated messages.
type AssistantTurn struct {
	JobID              string
	ChannelID          string
	PersonalityID      string
	PersonaID          string
	GuildID            string
	Content            string
	Model              string
	ExternalMessageIDs []string
	TurnTS             time.Time
}

// AssistantTurnOffset is the minimal increment applied to the paired user
// turn's timestamp when committing the assistant turn.
const AssistantTurnOffset = time.Millisecond
