package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

// EventRaiser accepts domain events for asynchronous dispatch.
type EventRaiser interface {
	Raise(ev models.Event) bool
}

type EventHandler struct {
	events EventRaiser
}

func NewEventHandler(events EventRaiser) *EventHandler {
	return &EventHandler{events: events}
}

type raiseEventRequest struct {
	Kind       string        `json:"kind"`
	ProjectID  string        `json:"project_id"`
	Fields     models.Fields `json:"fields"`
	OccurredAt *time.Time    `json:"occurred_at"`
}

type raiseEventResponse struct {
	Kind   models.EventKind `json:"kind"`
	Queued bool             `json:"queued"`
}

// Raise is fire-and-forget: delivery outcomes are only visible in the
// delivery log.
func (h *EventHandler) Raise(w http.ResponseWriter, r *http.Request) {
	var req raiseEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := models.EventKind(req.Kind)
	if !kind.Known() {
		writeError(w, http.StatusBadRequest, "unknown event kind "+strconv.Quote(req.Kind))
		return
	}

	ev := models.NewEvent(kind, req.ProjectID, req.Fields)
	if req.OccurredAt != nil {
		ev.OccurredAt = req.OccurredAt.UTC()
	}

	queued := h.events.Raise(ev)
	writeJSON(w, http.StatusAccepted, raiseEventResponse{Kind: kind, Queued: queued})
}
