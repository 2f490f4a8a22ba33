// Package worker executes generation jobs. A worker assembles context,
// invokes the model within the job's model budget, and returns the result
// to the queue layer. It never writes to the conversation store:
// persistence happens only after the ingress side confirms delivery.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lbds137/tzurot/internal/domain"
	chatModels "github.com/lbds137/tzurot/internal/domain/models/chat"
	chatRepo "github.com/lbds137/tzurot/internal/domain/repositories/chat"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
	"github.com/lbds137/tzurot/internal/provider"
)

const (
	maxModelAttempts = 3
	initialBackoff   = 500 * time.Millisecond

	historyLimit = 20
	memoryLimit  = 5
)

// CancelCheck reports whether the requester abandoned the job.
type CancelCheck func(ctx context.Context, jobID string) bool

// Service implements the generation worker.
type Service struct {
	resolver  chatSvc.ConfigResolver
	providers *provider.Registry
	memory    chatSvc.MemoryStore
	turns     chatRepo.TurnReader
	cancelled CancelCheck
	logger    *slog.Logger
}

// NewService creates a worker service.
func NewService(
	resolver chatSvc.ConfigResolver,
	providers *provider.Registry,
	memory chatSvc.MemoryStore,
	turns chatRepo.TurnReader,
	cancelled CancelCheck,
	logger *slog.Logger,
) *Service {
	if cancelled == nil {
		cancelled = func(context.Context, string) bool { return false }
	}
	return &Service{
		resolver:  resolver,
		providers: providers,
		memory:    memory,
		turns:     turns,
		cancelled: cancelled,
		logger:    logger.With("service", "GenerationWorker"),
	}
}

// Handle executes one job and returns its result. Attachment and
// reference notes arrive pre-resolved in the job payload; the expensive
// media calls are never repeated here.
func (s *Service) Handle(ctx context.Context, job *chatModels.GenerationJob) (*chatModels.GenerationResult, error) {
	log := s.logger.With("job_id", job.JobID, "channel_id", job.ChannelID)

	resolved, err := s.resolver.Resolve(ctx, job.UserID, job.PersonalityID)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}

	model, err := s.providers.For(resolved.Params)
	if err != nil {
		return nil, fmt.Errorf("select provider: %w", err)
	}

	// Memory newer than the job's user turn belongs to the short-term
	// window and must not surface through retrieval.
	memories, err := s.memory.Search(ctx, job.PersonaID, job.Content, chatSvc.MemorySearchOptions{
		PersonalityID:    job.PersonalityID,
		Limit:            memoryLimit,
		ExcludeNewerThan: job.UserTurnTS,
	})
	if err != nil {
		log.Warn("memory retrieval degraded", "error", err)
		memories = nil
	}

	history, err := s.turns.RecentTurns(ctx, job.ChannelID, job.PersonalityID, historyLimit)
	if err != nil {
		log.Warn("history retrieval degraded", "error", err)
		history = nil
	}

	messages := buildMessages(job, history, memories)

	content, err := s.invokeWithRetry(ctx, log, model, messages, resolved.Params, job)
	if err != nil {
		return nil, err
	}

	log.Info("generation complete",
		"model", resolved.Params.ModelID(),
		"source", resolved.Source,
		"content_len", len(content),
	)

	return &chatModels.GenerationResult{
		JobID:           job.JobID,
		Content:         content,
		AttachmentNotes: job.AttachmentNotes,
		ReferenceNotes:  job.ReferenceNotes,
		Model:           resolved.Params.ModelID(),
	}, nil
}

// invokeWithRetry calls the model up to maxModelAttempts times on
// transient failures, with exponential backoff, never exceeding the job's
// model budget. Permanent failures surface immediately.
func (s *Service) invokeWithRetry(
	ctx context.Context,
	log *slog.Logger,
	model chatSvc.Model,
	messages []chatSvc.Message,
	params chatSvc.ProviderParams,
	job *chatModels.GenerationJob,
) (string, error) {
	deadline := time.Now().Add(job.Budget.ModelTimeout)
	backoff := initialBackoff

	var lastErr error
	for attempt := 1; attempt <= maxModelAttempts; attempt++ {
		if s.cancelled(ctx, job.JobID) {
			return "", fmt.Errorf("job %s: %w", job.JobID, domain.ErrResultAbandoned)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		content, err := model.Invoke(ctx, messages, chatSvc.InvokeOptions{
			Timeout: remaining,
			Params:  params,
		})
		if err == nil {
			return content, nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			return "", err
		}
		log.Warn("model attempt failed",
			"attempt", attempt,
			"remaining", remaining,
			"error", err,
		)

		if attempt < maxModelAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("model budget %v exhausted", job.Budget.ModelTimeout)
	}
	return "", fmt.Errorf("model failed after retries: %w", lastErr)
}
