package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/zentryhq/zentry-webhooks/internal/storage"
)

type StatsHandler struct {
	store storage.Storage
	log   zerolog.Logger
}

func NewStatsHandler(store storage.Storage, log zerolog.Logger) *StatsHandler {
	return &StatsHandler{store: store, log: log}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "zentry-webhooks",
	})
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeDomainError(w, h.log, err, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
