// Package media holds clients for the external description services: the
// vision captioner and the audio transcriber. Their latency is what the
// budget allocator's vision and audio terms pay for.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	chatModels "github.com/lbds137/tzurot/internal/domain/models/chat"
)

// HTTPDescriber implements the MediaDescriber contract against two simple
// HTTP endpoints: POST {url} -> {"text": "..."}.
type HTTPDescriber struct {
	visionURL     string
	transcribeURL string
	client        *http.Client
}

// NewHTTPDescriber creates a describer for the given endpoints.
func NewHTTPDescriber(visionURL, transcribeURL string) *HTTPDescriber {
	return &HTTPDescriber{
		visionURL:     visionURL,
		transcribeURL: transcribeURL,
		client: &http.Client{
			// Individual requests are bounded by the caller's context;
			// this is a backstop against a hung connection.
			Timeout: 3 * time.Minute,
		},
	}
}

type describeRequest struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Name        string `json:"name,omitempty"`
}

type describeResponse struct {
	Text string `json:"text"`
}

// DescribeImage captions an image attachment.
func (d *HTTPDescriber) DescribeImage(ctx context.Context, att chatModels.Attachment) (string, error) {
	if d.visionURL == "" {
		return "", fmt.Errorf("vision endpoint not configured")
	}
	return d.post(ctx, d.visionURL, att)
}

// Transcribe fetches and transcribes an audio attachment.
func (d *HTTPDescriber) Transcribe(ctx context.Context, att chatModels.Attachment) (string, error) {
	if d.transcribeURL == "" {
		return "", fmt.Errorf("transcribe endpoint not configured")
	}
	return d.post(ctx, d.transcribeURL, att)
}

func (d *HTTPDescriber) post(ctx context.Context, endpoint string, att chatModels.Attachment) (string, error) {
	body, err := json.Marshal(describeRequest{
		URL:         att.URL,
		ContentType: att.ContentType,
		Name:        att.Name,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", att.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("describe %s: status %d: %s", att.URL, resp.StatusCode, snippet)
	}

	var out describeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode description: %w", err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("empty description for %s", att.URL)
	}
	return out.Text, nil
}
