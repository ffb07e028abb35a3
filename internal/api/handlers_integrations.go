package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zentryhq/zentry-webhooks/internal/delivery"
	"github.com/zentryhq/zentry-webhooks/internal/models"
	"github.com/zentryhq/zentry-webhooks/internal/registry"
	"github.com/zentryhq/zentry-webhooks/internal/storage"
)

type IntegrationHandler struct {
	registry   *registry.Registry
	dispatcher *delivery.Dispatcher
	store      storage.Storage
	log        zerolog.Logger
}

func NewIntegrationHandler(reg *registry.Registry, dispatcher *delivery.Dispatcher, store storage.Storage, log zerolog.Logger) *IntegrationHandler {
	return &IntegrationHandler{registry: reg, dispatcher: dispatcher, store: store, log: log}
}

func (h *IntegrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req registry.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ig, err := h.registry.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to create integration")
		return
	}
	writeJSON(w, http.StatusCreated, ig)
}

func (h *IntegrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ig, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to get integration")
		return
	}
	writeJSON(w, http.StatusOK, ig)
}

func (h *IntegrationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.IntegrationFilter{
		DestinationKind: models.DestinationKind(q.Get("destination_kind")),
		ProjectID:       q.Get("project_id"),
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		filter.Active = &active
	}

	igs, err := h.registry.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to list integrations")
		return
	}
	if igs == nil {
		igs = []models.Integration{}
	}
	writeJSON(w, http.StatusOK, igs)
}

func (h *IntegrationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req registry.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ig, err := h.registry.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to update integration")
		return
	}
	writeJSON(w, http.StatusOK, ig)
}

func (h *IntegrationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ig, err := h.registry.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to activate integration")
		return
	}
	writeJSON(w, http.StatusOK, ig)
}

func (h *IntegrationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ig, err := h.registry.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to deactivate integration")
		return
	}
	writeJSON(w, http.StatusOK, ig)
}

func (h *IntegrationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, h.log, err, "failed to delete integration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testRequest struct {
	Message string `json:"message"`
}

// Test sends a synthetic notification and answers with the recorded attempt,
// whatever its outcome.
func (h *IntegrationHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	a, err := h.dispatcher.TestIntegration(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeDomainError(w, h.log, err, "failed to test integration")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *IntegrationHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	ig, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to get integration")
		return
	}

	attempts, err := h.store.ListAttempts(r.Context(), models.AttemptFilter{
		IntegrationID: ig.ID,
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
