package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lbds137/tzurot/internal/domain"
	"github.com/lbds137/tzurot/internal/domain/models/chat"
)

func newTestQueue(t *testing.T, mutate func(*Config)) (*Queue, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig("test-1")
	cfg.Block = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	return New(rdb, cfg, NewResultBus(rdb, log), log), rdb
}

func testJob(jobTimeout time.Duration) *chat.GenerationJob {
	now := time.Now().UTC()
	return &chat.GenerationJob{
		JobID:         "job-1",
		ChannelID:     "chan-1",
		PersonalityID: "lilith",
		PersonaID:     "persona-1",
		UserID:        "user-1",
		Content:       "hello",
		UserTurnTS:    now,
		Budget:        chat.Budget{JobTimeout: jobTimeout, ModelTimeout: jobTimeout / 2},
		EnqueuedAt:    now,
	}
}

// readOwn claims the stream's next entry for the given consumer and
// returns it, simulating a delivery without running the handler.
func readOwn(t *testing.T, rdb *goredis.Client, q *Queue, consumer string) goredis.XMessage {
	t.Helper()

	streams, err := rdb.XReadGroup(context.Background(), &goredis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    1,
		Block:    time.Millisecond,
	}).Result()
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		t.Fatal("no entry delivered")
	}
	return streams[0].Messages[0]
}

func pendingCount(t *testing.T, rdb *goredis.Client, q *Queue) int64 {
	t.Helper()

	info, err := rdb.XPending(context.Background(), q.cfg.Stream, q.cfg.Group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	return info.Count
}

// A generation legitimately runs for minutes. The claim keepalive must
// hold the entry while the handler is in flight, so the reclaim loop
// never starts a duplicate model invocation.
func TestLongRunningJobIsProcessedExactlyOnce(t *testing.T) {
	q, _ := newTestQueue(t, func(c *Config) {
		c.VisibilityTimeout = 300 * time.Millisecond
	})

	var calls atomic.Int32
	firstDone := make(chan struct{})
	handler := func(ctx context.Context, job *chat.GenerationJob) (*chat.GenerationResult, error) {
		first := calls.Add(1) == 1
		time.Sleep(1200 * time.Millisecond)
		if first {
			close(firstDone)
		}
		return &chat.GenerationResult{JobID: job.JobID, Content: "done"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Consume(ctx, handler)

	if err := q.Enqueue(ctx, testJob(10*time.Second)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	// Leave the reclaim loop time to tick again before counting.
	time.Sleep(1500 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("job processed %d times, want exactly 1", n)
	}
}

func TestReclaimsEntryFromCrashedConsumer(t *testing.T) {
	q, rdb := newTestQueue(t, func(c *Config) {
		c.VisibilityTimeout = 100 * time.Millisecond
	})
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob(10*time.Second)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	readOwn(t, rdb, q, "crashed-1")

	processed := make(chan string, 1)
	handler := func(ctx context.Context, job *chat.GenerationJob) (*chat.GenerationResult, error) {
		processed <- job.JobID
		return &chat.GenerationResult{JobID: job.JobID, Content: "done"}, nil
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go q.Consume(cctx, handler)

	select {
	case id := <-processed:
		if id != "job-1" {
			t.Errorf("reclaimed job = %q, want %q", id, "job-1")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("entry was never reclaimed from the crashed consumer")
	}
}

func TestDeadLettersAbandonedEntryOverAttemptCap(t *testing.T) {
	q, rdb := newTestQueue(t, func(c *Config) {
		c.VisibilityTimeout = 100 * time.Millisecond
		c.MaxAttempts = 2
	})
	ctx := context.Background()

	// The requester stops waiting almost immediately.
	job := testJob(50 * time.Millisecond)
	waiter, err := q.results.Listen(ctx, job.JobID)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer waiter.Close()

	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	msg := readOwn(t, rdb, q, "crashed-1")

	// Each claim bumps the delivery count past the cap.
	for i := 0; i < 3; i++ {
		err := rdb.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: "crashed-2",
			MinIdle:  0,
			Messages: []string{msg.ID},
		}).Err()
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	handler := func(ctx context.Context, job *chat.GenerationJob) (*chat.GenerationResult, error) {
		t.Error("handler ran for a dead-lettered entry")
		return nil, errors.New("unreachable")
	}
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go q.Consume(cctx, handler)

	if _, err := waiter.Wait(ctx, 5*time.Second); !errors.Is(err, domain.ErrJobDeadLettered) {
		t.Fatalf("Wait error = %v, want ErrJobDeadLettered", err)
	}

	if n, err := rdb.XLen(ctx, q.cfg.DeadStream).Result(); err != nil || n != 1 {
		t.Errorf("dead stream length = %d (err %v), want 1", n, err)
	}
	if n := pendingCount(t, rdb, q); n != 0 {
		t.Errorf("pending entries after dead-letter = %d, want 0", n)
	}
}

// An entry over the attempt cap whose requester is still waiting gets
// re-run, not a terminal error. Claims are not failures.
func TestReclaimSparesOverCapEntryInsideDeadline(t *testing.T) {
	q, rdb := newTestQueue(t, func(c *Config) {
		c.VisibilityTimeout = 100 * time.Millisecond
		c.MaxAttempts = 2
	})
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob(time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	msg := readOwn(t, rdb, q, "crashed-1")

	for i := 0; i < 3; i++ {
		err := rdb.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: "crashed-2",
			MinIdle:  0,
			Messages: []string{msg.ID},
		}).Err()
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	processed := make(chan struct{}, 1)
	handler := func(ctx context.Context, job *chat.GenerationJob) (*chat.GenerationResult, error) {
		processed <- struct{}{}
		return &chat.GenerationResult{JobID: job.JobID, Content: "done"}, nil
	}
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go q.Consume(cctx, handler)

	select {
	case <-processed:
	case <-time.After(5 * time.Second):
		t.Fatal("over-cap entry inside its deadline was not re-run")
	}

	if n, err := rdb.XLen(ctx, q.cfg.DeadStream).Result(); err == nil && n != 0 {
		t.Errorf("dead stream length = %d, want 0", n)
	}
}

func TestCancelledJobIsDiscardedWithoutProcessing(t *testing.T) {
	q, rdb := newTestQueue(t, nil)
	ctx := context.Background()

	job := testJob(10 * time.Second)
	if err := q.RequestCancel(ctx, job.JobID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	msg := readOwn(t, rdb, q, q.cfg.Consumer)

	called := false
	q.process(ctx, msg, func(ctx context.Context, job *chat.GenerationJob) (*chat.GenerationResult, error) {
		called = true
		return nil, nil
	})

	if called {
		t.Error("handler ran for a cancelled job")
	}
	if n := pendingCount(t, rdb, q); n != 0 {
		t.Errorf("pending entries after discard = %d, want 0", n)
	}
}

func TestPastDeadlineJobIsDiscarded(t *testing.T) {
	q, rdb := newTestQueue(t, nil)
	ctx := context.Background()

	job := testJob(10 * time.Millisecond)
	job.EnqueuedAt = time.Now().UTC().Add(-time.Second)
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	msg := readOwn(t, rdb, q, q.cfg.Consumer)

	called := false
	q.process(ctx, msg, func(ctx context.Context, job *chat.GenerationJob) (*chat.GenerationResult, error) {
		called = true
		return nil, nil
	})

	if called {
		t.Error("handler ran for a job past its deadline")
	}
	if n := pendingCount(t, rdb, q); n != 0 {
		t.Errorf("pending entries after discard = %d, want 0", n)
	}
}

func TestProcessPublishesResultAndAcks(t *testing.T) {
	q, rdb := newTestQueue(t, nil)
	ctx := context.Background()

	job := testJob(10 * time.Second)
	waiter, err := q.results.Listen(ctx, job.JobID)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer waiter.Close()

	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	msg := readOwn(t, rdb, q, q.cfg.Consumer)

	q.process(ctx, msg, func(ctx context.Context, job *chat.GenerationJob) (*chat.GenerationResult, error) {
		return &chat.GenerationResult{JobID: job.JobID, Content: "hi there", Model: "claude-sonnet-4"}, nil
	})

	result, err := waiter.Wait(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.Content != "hi there" {
		t.Errorf("result content = %q, want %q", result.Content, "hi there")
	}
	if n := pendingCount(t, rdb, q); n != 0 {
		t.Errorf("pending entries after ack = %d, want 0", n)
	}
}

func TestProcessPublishesTerminalFailure(t *testing.T) {
	q, rdb := newTestQueue(t, nil)
	ctx := context.Background()

	job := testJob(10 * time.Second)
	waiter, err := q.results.Listen(ctx, job.JobID)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer waiter.Close()

	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	msg := readOwn(t, rdb, q, q.cfg.Consumer)

	q.process(ctx, msg, func(ctx context.Context, job *chat.GenerationJob) (*chat.GenerationResult, error) {
		return nil, errors.New("model rejected the prompt")
	})

	if _, err := waiter.Wait(ctx, 2*time.Second); err == nil || errors.Is(err, domain.ErrJobTimeout) {
		t.Fatalf("Wait error = %v, want terminal generation failure", err)
	}
	if n := pendingCount(t, rdb, q); n != 0 {
		t.Errorf("pending entries after failure = %d, want 0", n)
	}
}

func TestDeliveryCountDefaultsToOneWhenUnknown(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := context.Background()

	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if n := q.deliveryCount(ctx, "1-1"); n != 1 {
		t.Errorf("delivery count for unknown entry = %d, want 1", n)
	}
}
