// Package enrich resolves attachments and referenced messages into the
// prose that gets persisted with the user turn and snapshotted into the
// generation job. Enrichment happens exactly once, before the turn is
// written; nothing downstream re-runs these calls.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	chatModels "github.com/lbds137/tzurot/internal/domain/models/chat"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
)

// DefaultFanOut bounds concurrent media calls per request.
const DefaultFanOut = 4

// Service runs the bounded, settle-all media fan-out. A failure on any
// single item degrades that item to a textual placeholder; it never fails
// the request.
type Service struct {
	describer chatSvc.MediaDescriber
	fanOut    int
	logger    *slog.Logger
}

// NewService creates an enrichment service.
func NewService(describer chatSvc.MediaDescriber, fanOut int, logger *slog.Logger) *Service {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &Service{
		describer: describer,
		fanOut:    fanOut,
		logger:    logger.With("service", "Enrich"),
	}
}

// Notes is the fully resolved enrichment for one inbound event.
type Notes struct {
	Attachments []string
	References  []string
}

// Describe resolves every attachment on the event and on its referenced
// messages. All items across modalities run concurrently under one bounded
// group; the group never returns an error because each item settles to
// either a description or a placeholder.
func (s *Service) Describe(ctx context.Context, ev *chatModels.InboundEvent) Notes {
	attachments := make([]string, len(ev.Attachments))
	references := make([]string, len(ev.References))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)

	for i, att := range ev.Attachments {
		i, att := i, att
		g.Go(func() error {
			note := s.describeOne(gctx, att)
			mu.Lock()
			attachments[i] = note
			mu.Unlock()
			return nil
		})
	}

	for i, ref := range ev.References {
		i, ref := i, ref
		g.Go(func() error {
			note := s.describeReference(gctx, ref)
			mu.Lock()
			references[i] = note
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return Notes{Attachments: attachments, References: references}
}

// describeOne settles a single attachment: description on success,
// placeholder on failure or unsupported type.
func (s *Service) describeOne(ctx context.Context, att chatModels.Attachment) string {
	var (
		text string
		err  error
	)
	switch {
	case att.IsImage():
		text, err = s.describer.DescribeImage(ctx, att)
	case att.IsAudio():
		text, err = s.describer.Transcribe(ctx, att)
	default:
		return placeholder(att)
	}

	if err != nil {
		s.logger.Warn("attachment degraded to placeholder",
			"url", att.URL,
			"content_type", att.ContentType,
			"error", err,
		)
		return placeholder(att)
	}
	return text
}

// describeReference renders a referenced message, inlining its own
// attachments sequentially. References rarely carry more than one item;
// cross-item parallelism already comes from the outer group.
func (s *Service) describeReference(ctx context.Context, ref chatModels.Reference) string {
	note := ref.Content
	if ref.AuthorName != "" {
		note = fmt.Sprintf("%s: %s", ref.AuthorName, ref.Content)
	}
	for _, att := range ref.Attachments {
		note += "\n" + s.describeOne(ctx, att)
	}
	return note
}

func placeholder(att chatModels.Attachment) string {
	name := att.Name
	if name == "" {
		name = att.URL
	}
	switch {
	case att.IsImage():
		return fmt.Sprintf("[Image: %s]", name)
	case att.IsAudio():
		return fmt.Sprintf("[Audio: %s]", name)
	default:
		return fmt.Sprintf("[Attachment: %s]", name)
	}
}
