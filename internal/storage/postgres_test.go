//go:build integration

package storage

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

func newTestPostgres(t *testing.T) *PostgresStorage {
	t.Helper()
	dsn := os.Getenv("ZENTRY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ZENTRY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, dsn, PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	_, err = s.db.Exec(ctx, `TRUNCATE integrations CASCADE`)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresSubscribersAndLineage(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	ig := seedIntegration(t, s, "prj_1", true, models.EventTaskCompleted)
	seedIntegration(t, s, "prj_1", true, models.EventBadgeEarned)

	got, err := s.FindActiveSubscribers(ctx, models.EventTaskCompleted, "prj_1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ig.ID, got[0].ID)

	a := models.NewAttempt(ig.ID, models.EventTaskCompleted, json.RawMessage(`{"text": "b", "a": 1}`))
	require.NoError(t, s.CreateAttempt(ctx, a))
	require.NoError(t, s.CreateAttempt(ctx, a.NextGeneration()))
	assert.ErrorIs(t, s.CreateAttempt(ctx, a.NextGeneration()), ErrConflict)

	stored, err := s.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, string(a.RenderedPayload), string(stored.RenderedPayload), "payload text is kept verbatim")

	a.State = models.AttemptFailed
	a.ErrorDetail = "timeout"
	require.NoError(t, s.CompleteAttempt(ctx, a))
	assert.ErrorIs(t, s.CompleteAttempt(ctx, a), ErrAttemptFinalized)

	head, err := s.LatestInLineage(ctx, a.LineageID)
	require.NoError(t, err)
	assert.Equal(t, 1, head.AttemptNumber)
}
