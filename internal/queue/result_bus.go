package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lbds137/tzurot/internal/domain"
	"github.com/lbds137/tzurot/internal/domain/models/chat"
)

const (
	outcomeOK         = "ok"
	outcomeFatal      = "fatal"
	outcomeDeadLetter = "dead_letter"
)

// resultEnvelope is the wire format on the per-job result channel.
type resultEnvelope struct {
	JobID   string                 `json:"job_id"`
	Outcome string                 `json:"outcome"`
	Result  *chat.GenerationResult `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// ResultBus correlates a worker's outcome back to the ingress process
// waiting on the job, over a redis pub/sub channel named by job ID.
// Publishes to a channel nobody subscribes to vanish, which is exactly the
// discard semantics late results need.
type ResultBus struct {
	rdb *goredis.Client
	log *slog.Logger
}

// NewResultBus creates a result bus over an existing redis client.
func NewResultBus(rdb *goredis.Client, log *slog.Logger) *ResultBus {
	return &ResultBus{rdb: rdb, log: log.With("service", "ResultBus")}
}

func resultChannel(jobID string) string { return "genresult:" + jobID }

// Listen subscribes to the job's result channel. Callers must subscribe
// before enqueueing the job, otherwise a fast worker could publish into
// the void, and must Close the waiter when done.
func (b *ResultBus) Listen(ctx context.Context, jobID string) (*ResultWaiter, error) {
	sub := b.rdb.Subscribe(ctx, resultChannel(jobID))

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe results for job %s: %w", jobID, err)
	}

	return &ResultWaiter{sub: sub, jobID: jobID, log: b.log}, nil
}

// PublishResult announces a successful generation.
func (b *ResultBus) PublishResult(ctx context.Context, result *chat.GenerationResult) error {
	return b.publish(ctx, resultEnvelope{
		JobID:   result.JobID,
		Outcome: outcomeOK,
		Result:  result,
	})
}

// PublishFailure announces a terminal failure for a job.
func (b *ResultBus) PublishFailure(ctx context.Context, jobID string, cause error) error {
	outcome := outcomeFatal
	if errors.Is(cause, domain.ErrJobDeadLettered) {
		outcome = outcomeDeadLetter
	}
	return b.publish(ctx, resultEnvelope{
		JobID:   jobID,
		Outcome: outcome,
		Error:   cause.Error(),
	})
}

func (b *ResultBus) publish(ctx context.Context, env resultEnvelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, resultChannel(env.JobID), raw).Err()
}

// ResultWaiter is a single-use subscription to one job's outcome.
type ResultWaiter struct {
	sub   *goredis.PubSub
	jobID string
	log   *slog.Logger
}

// Wait blocks until the job's outcome arrives, the timeout passes, or ctx
// is cancelled. Envelopes for any other job ID are discarded, never
// returned.
func (w *ResultWaiter) Wait(ctx context.Context, timeout time.Duration) (*chat.GenerationResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ch := w.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, domain.ErrJobTimeout
		case m, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("result channel closed for job %s", w.jobID)
			}
			var env resultEnvelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				w.log.Warn("bad result payload", "job_id", w.jobID, "error", err)
				continue
			}
			if env.JobID != w.jobID {
				w.log.Warn("discarding result for foreign job",
					"expected", w.jobID,
					"got", env.JobID,
				)
				continue
			}

			switch env.Outcome {
			case outcomeOK:
				if env.Result == nil {
					return nil, fmt.Errorf("ok outcome without result for job %s", w.jobID)
				}
				return env.Result, nil
			case outcomeDeadLetter:
				return nil, fmt.Errorf("%s: %w", env.Error, domain.ErrJobDeadLettered)
			default:
				return nil, fmt.Errorf("generation failed: %s", env.Error)
			}
		}
	}
}

// Close tears down the subscription. After Close, any result published for
// this job has no listener and is dropped by redis.
func (w *ResultWaiter) Close() error {
	return w.sub.Close()
}
