// Package queue implements durable, at-least-once job dispatch between the
// ingress tier and the generation workers on top of redis streams, plus the
// per-job result channel that correlates a worker's outcome back to the
// waiting ingress process. The two tiers share nothing else.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lbds137/tzurot/internal/domain"
	"github.com/lbds137/tzurot/internal/domain/models/chat"
)

const (
	jobField    = "job"
	jobIDField  = "job_id"
	cancelTTL   = 5 * time.Minute
	reclaimSpan = 16
)

// Config tunes the queue's delivery behavior.
type Config struct {
	Stream     string
	DeadStream string
	Group      string
	// Consumer names one worker process within the group.
	Consumer string

	// VisibilityTimeout is the idle time after which a claimed entry is
	// reassigned to a live consumer. Crashed workers lose their claim
	// this way. It must exceed the longest job budget: a healthy worker
	// refreshes its claim while generating, but the refresh interval is
	// a fraction of this value, so a timeout shorter than a legitimate
	// generation invites duplicate processing.
	VisibilityTimeout time.Duration

	// MaxAttempts caps total deliveries before dead-lettering.
	MaxAttempts int

	// Concurrency bounds jobs processed at once by one worker.
	Concurrency int

	// Block is the XREADGROUP block interval.
	Block time.Duration
}

// DefaultConfig returns queue defaults for the given consumer name.
func DefaultConfig(consumer string) Config {
	return Config{
		Stream:            "genjobs",
		DeadStream:        "genjobs:dead",
		Group:             "genworkers",
		Consumer:          consumer,
		// Above the 270s job-budget ceiling with margin. Operators who
		// raise the ceiling must raise this too; the tuning loader
		// derives it from the ceiling when not set explicitly.
		VisibilityTimeout: 5 * time.Minute,
		MaxAttempts:       3,
		Concurrency:       4,
		Block:             5 * time.Second,
	}
}

// Handler executes one generation job and returns its result.
type Handler func(ctx context.Context, job *chat.GenerationJob) (*chat.GenerationResult, error)

// Queue is the durable work-distribution channel. Enqueue is used by the
// ingress tier; Consume runs in worker processes.
type Queue struct {
	rdb     *goredis.Client
	cfg     Config
	results *ResultBus
	log     *slog.Logger
}

// New creates a queue over an existing redis client.
func New(rdb *goredis.Client, cfg Config, results *ResultBus, log *slog.Logger) *Queue {
	return &Queue{
		rdb:     rdb,
		cfg:     cfg,
		results: results,
		log:     log.With("service", "JobQueue"),
	}
}

// Enqueue appends the job to the stream. It returns once redis has
// acknowledged the append; the job survives a crash of this process.
func (q *Queue) Enqueue(ctx context.Context, job *chat.GenerationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	err = q.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{
			jobField:   string(payload),
			jobIDField: job.JobID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.JobID, err)
	}

	q.log.Debug("job enqueued",
		"job_id", job.JobID,
		"channel_id", job.ChannelID,
		"job_timeout", job.Budget.JobTimeout,
	)
	return nil
}

// RequestCancel flags a job as abandoned by the requester. Workers check
// the flag between model attempts; this is best effort, not a guarantee.
func (q *Queue) RequestCancel(ctx context.Context, jobID string) error {
	return q.rdb.Set(ctx, cancelKey(jobID), "1", cancelTTL).Err()
}

// CancelRequested reports whether the requester has abandoned the job.
func (q *Queue) CancelRequested(ctx context.Context, jobID string) bool {
	n, err := q.rdb.Exists(ctx, cancelKey(jobID)).Result()
	return err == nil && n > 0
}

func cancelKey(jobID string) string { return "gencancel:" + jobID }

// Consume processes jobs with handler until ctx is cancelled. At most one
// consumer in the group holds a given entry at a time; entries claimed by
// a crashed consumer are reassigned after the visibility timeout.
func (q *Queue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	go q.reclaimLoop(ctx, handler)

	sem := make(chan struct{}, q.cfg.Concurrency)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := q.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    int64(q.cfg.Concurrency),
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if err == goredis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Warn("read group failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				sem <- struct{}{}
				go func(m goredis.XMessage) {
					defer func() { <-sem }()
					q.process(ctx, m, handler)
				}(msg)
			}
		}
	}
}

func (q *Queue) ensureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// process runs one claimed entry through the handler, publishes the
// outcome, and acks. Entries are acked even on handler failure: a terminal
// failure has been surfaced to the requester, so redelivery would only
// burn budget on a job nobody is waiting for.
func (q *Queue) process(ctx context.Context, msg goredis.XMessage, handler Handler) {
	job, err := decodeJob(msg)
	if err != nil {
		q.log.Error("dropping undecodable entry", "entry_id", msg.ID, "error", err)
		q.ack(ctx, msg.ID)
		return
	}

	log := q.log.With("job_id", job.JobID, "entry_id", msg.ID)

	// The requester stops waiting at the job deadline; work past it is
	// wasted and its result must not surface anywhere.
	if time.Now().After(job.Deadline()) {
		log.Warn("discarding job past its deadline", "deadline", job.Deadline())
		q.ack(ctx, msg.ID)
		return
	}
	if q.CancelRequested(ctx, job.JobID) {
		log.Info("discarding cancelled job")
		q.ack(ctx, msg.ID)
		return
	}

	jobCtx, cancel := context.WithDeadline(ctx, job.Deadline())
	done := make(chan struct{})
	go q.keepClaim(jobCtx, msg.ID, done)
	result, err := handler(jobCtx, job)
	close(done)
	cancel()

	if err != nil {
		log.Error("job failed", "error", err)
		if pubErr := q.results.PublishFailure(ctx, job.JobID, err); pubErr != nil {
			log.Warn("publish failure notification", "error", pubErr)
		}
		q.ack(ctx, msg.ID)
		return
	}

	if pubErr := q.results.PublishResult(ctx, result); pubErr != nil {
		// The result channel is gone or redis hiccuped. The requester
		// will time out and surface a failure; nothing was committed.
		log.Warn("publish result", "error", pubErr)
	}
	q.ack(ctx, msg.ID)
}

// keepClaim refreshes the entry's idle time while the handler is in
// flight, so the reclaim loop never hands a live job to a second
// consumer. XCLAIM with JUSTID resets idle without bumping the delivery
// count, so a long generation does not creep toward the attempt cap.
func (q *Queue) keepClaim(ctx context.Context, entryID string, done <-chan struct{}) {
	interval := q.cfg.VisibilityTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := q.rdb.XClaimJustID(ctx, &goredis.XClaimArgs{
				Stream:   q.cfg.Stream,
				Group:    q.cfg.Group,
				Consumer: q.cfg.Consumer,
				MinIdle:  0,
				Messages: []string{entryID},
			}).Err()
			if err != nil && err != goredis.Nil {
				q.log.Warn("claim keepalive failed", "entry_id", entryID, "error", err)
			}
		}
	}
}

// reclaimLoop sweeps entries whose consumer went quiet past the visibility
// timeout. Entries still under the attempt cap are re-processed here;
// entries over it are dead-lettered and the waiting requester is told.
func (q *Queue) reclaimLoop(ctx context.Context, handler Handler) {
	interval := q.cfg.VisibilityTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := "0-0"
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msgs, next, err := q.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			MinIdle:  q.cfg.VisibilityTimeout,
			Start:    start,
			Count:    reclaimSpan,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("autoclaim failed", "error", err)
			continue
		}
		start = next

		for _, msg := range msgs {
			attempts := q.deliveryCount(ctx, msg.ID)
			if attempts > int64(q.cfg.MaxAttempts) {
				// Dead-letter only once the requester has stopped
				// waiting. An over-cap entry still inside its deadline
				// accumulated claims, not failures, and gets one more
				// run instead of a spurious terminal error.
				if job, err := decodeJob(msg); err != nil || time.Now().After(job.Deadline()) {
					q.deadLetter(ctx, msg, attempts)
					continue
				}
			}
			q.process(ctx, msg, handler)
		}
	}
}

func (q *Queue) deliveryCount(ctx context.Context, entryID string) int64 {
	pending, err := q.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return pending[0].RetryCount
}

// deadLetter parks the entry and surfaces a terminal failure so the
// requester is not left to a silent timeout.
func (q *Queue) deadLetter(ctx context.Context, msg goredis.XMessage, attempts int64) {
	jobID, _ := msg.Values[jobIDField].(string)
	q.log.Error("dead-lettering job",
		"job_id", jobID,
		"entry_id", msg.ID,
		"attempts", attempts,
	)

	values := map[string]interface{}{jobIDField: jobID, "attempts": attempts}
	if raw, ok := msg.Values[jobField]; ok {
		values[jobField] = raw
	}
	if err := q.rdb.XAdd(ctx, &goredis.XAddArgs{Stream: q.cfg.DeadStream, Values: values}).Err(); err != nil {
		q.log.Error("write dead-letter entry", "job_id", jobID, "error", err)
	}

	if jobID != "" {
		if err := q.results.PublishFailure(ctx, jobID, domain.ErrJobDeadLettered); err != nil {
			q.log.Warn("publish dead-letter notification", "job_id", jobID, "error", err)
		}
	}
	q.ack(ctx, msg.ID)
}

func (q *Queue) ack(ctx context.Context, entryID string) {
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, entryID).Err(); err != nil {
		q.log.Warn("ack failed", "entry_id", entryID, "error", err)
	}
}

func decodeJob(msg goredis.XMessage) (*chat.GenerationJob, error) {
	raw, ok := msg.Values[jobField].(string)
	if !ok {
		return nil, fmt.Errorf("entry %s missing %q field", msg.ID, jobField)
	}
	var job chat.GenerationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	if job.JobID == "" {
		return nil, fmt.Errorf("entry %s has empty job_id", msg.ID)
	}
	return &job, nil
}
