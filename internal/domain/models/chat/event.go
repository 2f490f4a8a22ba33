package chat

import "strings"

// Attachment is a media item on an inbound message, prior to enrichment.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Name        string `json:"name,omitempty"`
}

// IsImage reports whether the attachment goes through the vision path.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.ContentType, "image/")
}

// IsAudio reports whether the attachment goes through fetch + transcription.
func (a Attachment) IsAudio() bool {
	return strings.HasPrefix(a.ContentType, "audio/") || strings.HasPrefix(a.ContentType, "video/")
}

// Reference is a quoted/replied-to message carried on an inbound event.
type Reference struct {
	ExternalMessageID string       `json:"external_message_id"`
	AuthorName        string       `json:"author_name,omitempty"`
	Content           string       `json:"content"`
	Attachments       []Attachment `json:"attachments,omitempty"`
}

// InboundEvent is the boundary representation of one incoming message.
type InboundEvent struct {
	ChannelID         string       `json:"channel_id"`
	PersonalityID     string       `json:"personality_id"`
	PersonaID         string       `json:"persona_id"`
	UserID            string       `json:"user_id"`
	GuildID           string       `json:"guild_id,omitempty"`
	Content           string       `json:"content"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	References        []Reference  `json:"references,omitempty"`
	ExternalMessageID string       `json:"external_message_id"`
}

// MediaCounts tallies image and audio items across the event's own
// attachments and its referenced messages. Both feed the budget: a
// referenced voice note costs the same transcription call as a direct one.
func (e *InboundEvent) MediaCounts() (images, audio int) {
	count := func(atts []Attachment) {
		for _, a := range atts {
			switch {
			case a.IsImage():
				images++
			case a.IsAudio():
				audio++
			}
		}
	}
	count(e.Attachments)
	for _, ref := range e.References {
		count(ref.Attachments)
	}
	return images, audio
}
