// Package delivery pushes generated replies to the external platform via
// per-channel webhooks, one message per chunk.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lbds137/tzurot/internal/domain"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
)

// WebhookChannel implements DeliveryChannel against a webhook gateway:
// POST {base}/channels/{channelID}/messages.
type WebhookChannel struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhookChannel creates a webhook-backed delivery channel.
func NewWebhookChannel(baseURL string, logger *slog.Logger) *WebhookChannel {
	return &WebhookChannel{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("service", "WebhookDelivery"),
	}
}

type webhookMessage struct {
	Content   string `json:"content"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type webhookResponse struct {
	ID string `json:"id"`
}

// Deliver sends content as one or more chunked messages wearing the given
// identity. On any chunk failure the whole delivery counts as failed:
// callers commit nothing, even if earlier chunks went out.
func (c *WebhookChannel) Deliver(ctx context.Context, channelID, content string, identity chatSvc.SenderIdentity) ([]string, error) {
	chunks := SplitMessage(content, MaxChunkLen)
	if len(chunks) == 0 {
		return nil, &domain.DeliveryError{ChannelID: channelID, Err: fmt.Errorf("empty content")}
	}

	endpoint := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channelID)
	ids := make([]string, 0, len(chunks))

	for i, chunk := range chunks {
		id, err := c.send(ctx, endpoint, webhookMessage{
			Content:   chunk,
			Username:  identity.Name,
			AvatarURL: identity.AvatarURL,
		})
		if err != nil {
			c.logger.Error("delivery failed",
				"channel_id", channelID,
				"chunk", i,
				"chunks_total", len(chunks),
				"error", err,
			)
			return nil, &domain.DeliveryError{ChannelID: channelID, Err: err}
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func (c *WebhookChannel) send(ctx context.Context, endpoint string, msg webhookMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("webhook status %d: %s", resp.StatusCode, snippet)
	}

	var out webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode webhook response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("webhook response missing message id")
	}
	return out.ID, nil
}
