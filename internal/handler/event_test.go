package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lbds137/tzurot/internal/domain"
	chatModels "github.com/lbds137/tzurot/internal/domain/models/chat"
	"github.com/lbds137/tzurot/internal/service/ingress"
)

type stubService struct {
	receipt *ingress.Receipt
	err     error
	gotEv   *chatModels.InboundEvent
}

func (s *stubService) HandleEvent(ctx context.Context, ev *chatModels.InboundEvent) (*ingress.Receipt, error) {
	s.gotEv = ev
	if s.err != nil {
		return nil, s.err
	}
	return s.receipt, nil
}

func newHandler(svc *stubService) *EventHandler {
	return NewEventHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func post(t *testing.T, h *EventHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)
	return rec
}

func TestHandleMessageSuccess(t *testing.T) {
	svc := &stubService{receipt: &ingress.Receipt{
		JobID:              "job-1",
		AssistantTurnID:    "turn-2",
		ExternalMessageIDs: []string{"ext-1"},
		Model:              "claude-sonnet-4-5",
		Content:            "hello",
	}}

	rec := post(t, newHandler(svc), `{"channel_id":"c1","personality_id":"p1","persona_id":"pe1","user_id":"u1","content":"hi"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var got ingress.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.JobID != "job-1" || got.Content != "hello" {
		t.Errorf("receipt = %+v", got)
	}
	if svc.gotEv.ChannelID != "c1" {
		t.Errorf("event channel = %q", svc.gotEv.ChannelID)
	}
}

func TestHandleMessageBadJSON(t *testing.T) {
	rec := post(t, newHandler(&stubService{}), `{"channel_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMessageErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &domain.ValidationError{Message: "bad event"}, http.StatusBadRequest},
		{"timeout", domain.ErrJobTimeout, http.StatusGatewayTimeout},
		{"dead letter", domain.ErrJobDeadLettered, http.StatusBadGateway},
		{"delivery", &domain.DeliveryError{ChannelID: "c1"}, http.StatusBadGateway},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newHandler(&stubService{err: tt.err}),
				`{"channel_id":"c1","personality_id":"p1","persona_id":"pe1","user_id":"u1","content":"hi"}`)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("content type = %q", ct)
			}
		})
	}
}
