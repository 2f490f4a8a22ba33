package chat

import (
	"encoding/json"
	"time"
)

// Budget is the per-request timeout pair derived from attachment
// composition and the hard platform ceiling. It is never persisted;
// it is recomputed deterministically at enqueue time.
type Budget struct {
	JobTimeout   time.Duration
	ModelTimeout time.Duration
}

// budgetWire keeps the queue payload in milliseconds, matching how the
// budgets are specified and logged everywhere else.
type budgetWire struct {
	JobTimeoutMs   int64 `json:"job_timeout_ms"`
	ModelTimeoutMs int64 `json:"model_timeout_ms"`
}

func (b Budget) MarshalJSON() ([]byte, error) {
	return json.Marshal(budgetWire{
		JobTimeoutMs:   b.JobTimeout.Milliseconds(),
		ModelTimeoutMs: b.ModelTimeout.Milliseconds(),
	})
}

func (b *Budget) UnmarshalJSON(data []byte) error {
	var w budgetWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.JobTimeout = time.Duration(w.JobTimeoutMs) * time.Millisecond
	b.ModelTimeout = time.Duration(w.ModelTimeoutMs) * time.Millisecond
	return nil
}

// GenerationJob is the unit of work dispatched from ingress to a worker.
// JobID doubles as the idempotency key: no matter how many times the queue
// redelivers this job, at most one assistant turn is ever committed for it.
type GenerationJob struct {
	JobID         string    `json:"job_id"`
	ChannelID     string    `json:"channel_id"`
	PersonalityID string    `json:"personality_id"`
	PersonaID     string    `json:"persona_id"`
	UserID        string    `json:"user_id"`
	GuildID       string    `json:"guild_id,omitempty"`
	Content       string    `json:"content"`

	// Enrichment snapshot, computed once at ingress. Workers consume these
	// verbatim and never re-run the underlying media calls.
	AttachmentNotes []string `json:"attachment_notes,omitempty"`
	ReferenceNotes  []string `json:"reference_notes,omitempty"`

	UserTurnTS time.Time `json:"user_turn_ts"`
	Budget     Budget    `json:"budget"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Deadline is the wall-clock instant after which the job is not worth
// working on: the ingress side has already given up waiting.
func (j *GenerationJob) Deadline() time.Time {
	return j.EnqueuedAt.Add(j.Budget.JobTimeout)
}

// GenerationResult is the transient outcome of one job. It is produced once
// per job, consumed once by the ingress side, and is not a system of record.
type GenerationResult struct {
	JobID           string   `json:"job_id"`
	Content         string   `json:"content"`
	AttachmentNotes []string `json:"attachment_notes,omitempty"`
	ReferenceNotes  []string `json:"reference_notes,omitempty"`
	Model           string   `json:"model"`
}
