package worker

import (
	"strings"

	chatModels "github.com/lbds137/tzurot/internal/domain/models/chat"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
)

// buildMessages assembles the provider message list: retrieved memories,
// recent channel history, then the current user turn with its media and
// reference notes inlined. The persona system prompt travels separately
// in the provider params.
func buildMessages(job *chatModels.GenerationJob, history []chatModels.Turn, memories []chatSvc.MemorySnippet) []chatSvc.Message {
	messages := make([]chatSvc.Message, 0, len(history)+2)

	if len(memories) > 0 {
		var b strings.Builder
		b.WriteString("Relevant memories from past conversations:\n")
		for _, m := range memories {
			b.WriteString("- ")
			b.WriteString(m.Text)
			b.WriteString("\n")
		}
		messages = append(messages, chatSvc.Message{
			Role:    chatModels.RoleUser,
			Content: strings.TrimRight(b.String(), "\n"),
		})
	}

	for _, turn := range history {
		// The triggering user turn is committed before enqueue, so it
		// shows up in history. Skip it there and place it last instead.
		if turn.JobID != nil && *turn.JobID == job.JobID {
			continue
		}
		messages = append(messages, chatSvc.Message{
			Role:    turn.Role,
			Content: turnText(turn.Content, turn.AttachmentNotes, turn.ReferenceNotes),
		})
	}

	messages = append(messages, chatSvc.Message{
		Role:    chatModels.RoleUser,
		Content: turnText(job.Content, job.AttachmentNotes, job.ReferenceNotes),
	})

	return normalizeAlternation(messages)
}

// turnText inlines note lists below the turn's text so the model sees
// media descriptions and referenced messages as part of the turn.
func turnText(content string, attachments, references []string) string {
	if len(attachments) == 0 && len(references) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	if len(references) > 0 {
		b.WriteString("\n\nReferenced messages:")
		for _, r := range references {
			b.WriteString("\n> ")
			b.WriteString(r)
		}
	}
	if len(attachments) > 0 {
		b.WriteString("\n\nAttachments:")
		for _, a := range attachments {
			b.WriteString("\n")
			b.WriteString(a)
		}
	}
	return b.String()
}

// normalizeAlternation merges adjacent same-role messages. Anthropic
// rejects consecutive turns from the same role.
func normalizeAlternation(messages []chatSvc.Message) []chatSvc.Message {
	out := make([]chatSvc.Message, 0, len(messages))
	for _, m := range messages {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content = out[n-1].Content + "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
