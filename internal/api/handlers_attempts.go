package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zentryhq/zentry-webhooks/internal/delivery"
	"github.com/zentryhq/zentry-webhooks/internal/models"
	"github.com/zentryhq/zentry-webhooks/internal/storage"
)

type AttemptHandler struct {
	store   storage.Storage
	retrier *delivery.Retrier
	log     zerolog.Logger
}

func NewAttemptHandler(store storage.Storage, retrier *delivery.Retrier, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{store: store, retrier: retrier, log: log}
}

func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.GetAttempt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to get attempt")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, models.ErrAttemptNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AttemptHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := models.AttemptState(q.Get("state"))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, "state must be one of pending, sent, failed")
		return
	}

	attempts, err := h.store.ListAttempts(r.Context(), models.AttemptFilter{
		IntegrationID: q.Get("integration_id"),
		State:         state,
		EventKind:     models.EventKind(q.Get("event_kind")),
		Limit:         queryInt(r, "limit"),
		Offset:        queryInt(r, "offset"),
	})
	if err != nil {
		writeDomainError(w, h.log, err, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []models.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *AttemptHandler) Retry(w http.ResponseWriter, r *http.Request) {
	a, err := h.retrier.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to retry attempt")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
