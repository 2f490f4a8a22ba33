// Package ingress orchestrates one inbound message end to end: enrich,
// commit the user turn, enqueue generation, wait for the result, deliver,
// and only then commit the assistant turn. The ordering is the crash
// consistency story: at every failure point the store holds either a bare
// user turn or a complete pair, never an assistant turn without delivery.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/lbds137/tzurot/internal/budget"
	"github.com/lbds137/tzurot/internal/domain"
	chatModels "github.com/lbds137/tzurot/internal/domain/models/chat"
	chatRepo "github.com/lbds137/tzurot/internal/domain/repositories/chat"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
	"github.com/lbds137/tzurot/internal/service/enrich"
)

// JobQueue is the enqueue-side view of the job queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job *chatModels.GenerationJob) error
	RequestCancel(ctx context.Context, jobID string) error
}

// ResultWaiter is a single-use subscription to one job's outcome.
type ResultWaiter interface {
	Wait(ctx context.Context, timeout time.Duration) (*chatModels.GenerationResult, error)
	Close() error
}

// ResultListener opens a result subscription for a job. Listen must be
// called before the job is enqueued.
type ResultListener interface {
	Listen(ctx context.Context, jobID string) (ResultWaiter, error)
}

// Receipt summarizes a fully completed exchange.
type Receipt struct {
	JobID              string   `json:"job_id"`
	UserTurnID         string   `json:"user_turn_id"`
	AssistantTurnID    string   `json:"assistant_turn_id"`
	ExternalMessageIDs []string `json:"external_message_ids"`
	Model              string   `json:"model"`
	Content            string   `json:"content"`
}

// Service is the ingress controller and delivery confirmer.
type Service struct {
	turns      chatRepo.TurnStore
	jobs       JobQueue
	results    ResultListener
	enricher   *enrich.Service
	allocator  *budget.Allocator
	memory     chatSvc.MemoryStore
	channel    chatSvc.DeliveryChannel
	identities chatSvc.IdentityResolver
	logger     *slog.Logger
}

// NewService creates the ingress service.
func NewService(
	turns chatRepo.TurnStore,
	jobs JobQueue,
	results ResultListener,
	enricher *enrich.Service,
	allocator *budget.Allocator,
	memory chatSvc.MemoryStore,
	channel chatSvc.DeliveryChannel,
	identities chatSvc.IdentityResolver,
	logger *slog.Logger,
) *Service {
	return &Service{
		turns:      turns,
		jobs:       jobs,
		results:    results,
		enricher:   enricher,
		allocator:  allocator,
		memory:     memory,
		channel:    channel,
		identities: identities,
		logger:     logger.With("service", "IngressController"),
	}
}

func validateEvent(ev *chatModels.InboundEvent) error {
	err := validation.ValidateStruct(ev,
		validation.Field(&ev.ChannelID, validation.Required),
		validation.Field(&ev.PersonalityID, validation.Required),
		validation.Field(&ev.PersonaID, validation.Required),
		validation.Field(&ev.UserID, validation.Required),
	)
	if err != nil {
		return &domain.ValidationError{Message: err.Error()}
	}
	if ev.Content == "" && len(ev.Attachments) == 0 {
		return &domain.ValidationError{Message: "event must carry content or attachments"}
	}
	return nil
}

// HandleEvent runs the full exchange for one inbound message and blocks
// until it is delivered and committed, or until a terminal failure.
func (s *Service) HandleEvent(ctx context.Context, ev *chatModels.InboundEvent) (*Receipt, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	log := s.logger.With("job_id", jobID, "channel_id", ev.ChannelID, "personality_id", ev.PersonalityID)

	// All media is resolved here, once. The worker and the store both see
	// the same notes; nothing expensive runs twice on redelivery.
	notes := s.enricher.Describe(ctx, ev)

	images, audio := ev.MediaCounts()
	b, tight := s.allocator.Allocate(images, audio)
	if tight {
		log.Warn("tight budget", "images", images, "audio", audio,
			"job_timeout", b.JobTimeout, "model_timeout", b.ModelTimeout)
	}

	userTS := time.Now().UTC()
	userTurnID, err := s.turns.AppendUserTurn(ctx, &chatModels.UserTurn{
		JobID:             jobID,
		ChannelID:         ev.ChannelID,
		PersonalityID:     ev.PersonalityID,
		PersonaID:         ev.PersonaID,
		GuildID:           ev.GuildID,
		Content:           ev.Content,
		AttachmentNotes:   notes.Attachments,
		ReferenceNotes:    notes.References,
		ExternalMessageID: ev.ExternalMessageID,
		TurnTS:            userTS,
	})
	if err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	// Subscribe before enqueue so a fast worker cannot publish before
	// anyone is listening.
	waiter, err := s.results.Listen(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("listen for results: %w", err)
	}
	defer waiter.Close()

	job := &chatModels.GenerationJob{
		JobID:           jobID,
		ChannelID:       ev.ChannelID,
		PersonalityID:   ev.PersonalityID,
		PersonaID:       ev.PersonaID,
		UserID:          ev.UserID,
		GuildID:         ev.GuildID,
		Content:         ev.Content,
		AttachmentNotes: notes.Attachments,
		ReferenceNotes:  notes.References,
		UserTurnTS:      userTS,
		Budget:          chatModels.Budget{JobTimeout: b.JobTimeout, ModelTimeout: b.ModelTimeout},
		EnqueuedAt:      time.Now().UTC(),
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	log.Info("job enqueued",
		"job_timeout", b.JobTimeout,
		"model_timeout", b.ModelTimeout,
		"images", images,
		"audio", audio,
	)

	result, err := waiter.Wait(ctx, b.JobTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrJobTimeout) {
			// Best effort: a worker mid-flight checks this flag between
			// attempts and stops burning budget on an abandoned job.
			if cancelErr := s.jobs.RequestCancel(context.WithoutCancel(ctx), jobID); cancelErr != nil {
				log.Warn("cancel request failed", "error", cancelErr)
			}
			log.Warn("job timed out", "job_timeout", b.JobTimeout)
		}
		return nil, err
	}

	return s.confirm(ctx, log, ev, result, userTurnID, userTS)
}

// confirm runs the delivery-then-commit tail of the exchange. The
// assistant turn is written only after the platform accepted the message.
func (s *Service) confirm(
	ctx context.Context,
	log *slog.Logger,
	ev *chatModels.InboundEvent,
	result *chatModels.GenerationResult,
	userTurnID string,
	userTS time.Time,
) (*Receipt, error) {
	identity, err := s.identities.Identity(ctx, ev.PersonalityID)
	if err != nil {
		log.Warn("identity lookup degraded", "error", err)
		identity = chatSvc.SenderIdentity{Name: ev.PersonalityID}
	}

	externalIDs, err := s.channel.Deliver(ctx, ev.ChannelID, result.Content, identity)
	if err != nil {
		log.Error("delivery failed, assistant turn not committed", "error", err)
		return nil, err
	}

	// The stored user timestamp is authoritative for pairing. The local
	// copy only covers the window before the row is visible.
	turnTS := userTS
	if ts, err := s.turns.UserTurnTimestamp(ctx, result.JobID); err == nil {
		turnTS = ts
	} else {
		log.Warn("user turn timestamp lookup degraded", "error", err)
	}

	assistantTurnID, err := s.turns.AppendAssistantTurn(ctx, &chatModels.AssistantTurn{
		JobID:              result.JobID,
		ChannelID:          ev.ChannelID,
		PersonalityID:      ev.PersonalityID,
		PersonaID:          ev.PersonaID,
		GuildID:            ev.GuildID,
		Content:            result.Content,
		Model:              result.Model,
		ExternalMessageIDs: externalIDs,
		TurnTS:             turnTS.Add(chatModels.AssistantTurnOffset),
	})
	if err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}

	log.Info("exchange committed",
		"user_turn_id", userTurnID,
		"assistant_turn_id", assistantTurnID,
		"chunks", len(externalIDs),
		"model", result.Model,
	)

	s.recordMemory(ctx, ev, result)

	return &Receipt{
		JobID:              result.JobID,
		UserTurnID:         userTurnID,
		AssistantTurnID:    assistantTurnID,
		ExternalMessageIDs: externalIDs,
		Model:              result.Model,
		Content:            result.Content,
	}, nil
}

// recordMemory writes the exchange to long-term memory after commit.
// Fire and forget: failures are logged, never surfaced.
func (s *Service) recordMemory(ctx context.Context, ev *chatModels.InboundEvent, result *chatModels.GenerationResult) {
	text := fmt.Sprintf("%s: %s\n%s: %s", ev.UserID, ev.Content, ev.PersonalityID, result.Content)
	meta := map[string]string{
		"channel_id":     ev.ChannelID,
		"personality_id": ev.PersonalityID,
		"job_id":         result.JobID,
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		addCtx, cancel := context.WithTimeout(bg, 10*time.Second)
		defer cancel()
		if err := s.memory.Add(addCtx, ev.PersonaID, text, meta); err != nil {
			s.logger.Warn("memory write failed", "job_id", result.JobID, "error", err)
		}
	}()
}
