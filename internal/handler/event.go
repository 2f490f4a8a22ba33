// Package handler is the HTTP boundary of the ingress service.
// Handlers only talk to services, never repositories.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	chatModels "github.com/lbds137/tzurot/internal/domain/models/chat"
	"github.com/lbds137/tzurot/internal/httputil"
	"github.com/lbds137/tzurot/internal/service/ingress"
)

// EventService is the slice of the ingress service the handler needs.
type EventService interface {
	HandleEvent(ctx context.Context, ev *chatModels.InboundEvent) (*ingress.Receipt, error)
}

// EventHandler handles inbound message events
type EventHandler struct {
	service EventService
	logger  *slog.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(service EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{service: service, logger: logger}
}

// HandleMessage ingests one inbound message event and blocks until the
// reply is delivered and committed, or a terminal failure occurs.
// POST /v1/messages
func (h *EventHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var ev chatModels.InboundEvent
	if err := httputil.ParseJSON(w, r, &ev); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := h.service.HandleEvent(r.Context(), &ev)
	if err != nil {
		h.logger.Warn("event failed",
			"channel_id", ev.ChannelID,
			"personality_id", ev.PersonalityID,
			"caller", httputil.GetCallerID(r),
			"error", err,
		)
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, receipt)
}

// Health reports liveness.
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
