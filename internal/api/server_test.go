package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentryhq/zentry-webhooks/internal/config"
	"github.com/zentryhq/zentry-webhooks/internal/delivery"
	"github.com/zentryhq/zentry-webhooks/internal/models"
	"github.com/zentryhq/zentry-webhooks/internal/registry"
	"github.com/zentryhq/zentry-webhooks/internal/storage"
)

type recordingRaiser struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingRaiser) Raise(ev models.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

type testServer struct {
	handler http.Handler
	store   storage.Storage
	events  *recordingRaiser
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	log := zerolog.Nop()
	reg := registry.New(store, log)
	dispatcher := delivery.NewDispatcher(reg, store, delivery.NewSender(2*time.Second, 0, 0), 4, log)
	events := &recordingRaiser{}

	srv := NewServer(config.ServerConfig{}, config.MetricsConfig{Enabled: true, Path: "/metrics"}, Dependencies{
		Store:      store,
		Registry:   reg,
		Dispatcher: dispatcher,
		Retrier:    delivery.NewRetrier(store, dispatcher, nil, log),
		Events:     events,
	}, log)

	return &testServer{handler: srv.Handler(), store: store, events: events}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) createIntegration(t *testing.T, url string) models.Integration {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/integrations", map[string]any{
		"name":             "Team chat",
		"destination_kind": "chat_embed",
		"target_url":       url,
		"project_id":       "prj_1",
		"owner_id":         "usr_1",
		"event_kinds":      []string{"task_completed"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Integration](t, rec)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "zentry-webhooks")
}

func TestIntegrationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ig := ts.createIntegration(t, "https://chat.example.com/hook")

	rec := ts.do(t, http.MethodGet, "/api/v1/integrations/"+ig.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Team chat", decode[models.Integration](t, rec).Name)

	rec = ts.do(t, http.MethodPut, "/api/v1/integrations/"+ig.ID, map[string]any{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", decode[models.Integration](t, rec).Name)

	rec = ts.do(t, http.MethodPost, "/api/v1/integrations/"+ig.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[models.Integration](t, rec).Active)

	rec = ts.do(t, http.MethodGet, "/api/v1/integrations?active=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Integration](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/integrations?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Integration](t, rec))

	rec = ts.do(t, http.MethodDelete, "/api/v1/integrations/"+ig.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/integrations/"+ig.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateIntegrationValidation(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/integrations", map[string]any{
		"name":             "Team chat",
		"destination_kind": "chat_embed",
		"target_url":       "https://chat.example.com/hook",
		"owner_id":         "usr_1",
		"event_kinds":      []string{"sprint_closed"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "sprint_closed")

	rec = ts.do(t, http.MethodGet, "/api/v1/integrations?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestAndRetryFlow(t *testing.T) {
	ts := newTestServer(t)
	var mu sync.Mutex
	calls := 0
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer dest.Close()

	ig := ts.createIntegration(t, dest.URL)

	rec := ts.do(t, http.MethodPost, "/api/v1/integrations/"+ig.ID+"/test", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	failed := decode[models.DeliveryAttempt](t, rec)
	assert.Equal(t, models.AttemptFailed, failed.State)
	assert.Equal(t, models.EventTest, failed.EventKind)

	rec = ts.do(t, http.MethodPost, "/api/v1/attempts/"+failed.ID+"/retry", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	retried := decode[models.DeliveryAttempt](t, rec)
	assert.Equal(t, models.AttemptSent, retried.State)
	assert.Equal(t, 1, retried.AttemptNumber)

	rec = ts.do(t, http.MethodPost, "/api/v1/attempts/"+retried.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/attempts/att_missing/retry", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/integrations/"+ig.ID+"/attempts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	attempts := decode[[]models.DeliveryAttempt](t, rec)
	require.Len(t, attempts, 2)
	assert.Equal(t, retried.ID, attempts[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/attempts?state=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.DeliveryAttempt](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/attempts?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/attempts/"+failed.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.AttemptFailed, decode[models.DeliveryAttempt](t, rec).State)

	rec = ts.do(t, http.MethodGet, "/api/v1/stats?project_id=prj_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.Stats](t, rec)
	assert.Equal(t, int64(2), stats.TotalAttempts)
	assert.Equal(t, int64(1), stats.SentCount)
}

func TestRaiseEvent(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"kind":       "badge_earned",
		"project_id": "prj_1",
		"fields":     map[string]any{"badge_name": "Early Bird"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ts.events.events, 1)
	assert.Equal(t, models.EventBadgeEarned, ts.events.events[0].Kind)
	assert.Equal(t, "Early Bird", ts.events.events[0].Fields.String("badge_name", ""))
	assert.False(t, ts.events.events[0].OccurredAt.IsZero())

	rec = ts.do(t, http.MethodPost, "/api/v1/events", map[string]any{"kind": "sprint_closed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, ts.events.events, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
