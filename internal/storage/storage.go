package storage

import (
	"context"
	"errors"
	"time"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

var (
	// ErrConflict is returned when a write collides with a unique constraint,
	// e.g. two retries producing the same generation of a lineage.
	ErrConflict = errors.New("storage: conflict")

	// ErrAttemptFinalized is returned when completing an attempt that already
	// left the pending state.
	ErrAttemptFinalized = errors.New("storage: attempt already finalized")
)

// Storage persists integrations and their delivery log. Get methods return
// (nil, nil) when the row does not exist.
type Storage interface {
	// Integrations
	CreateIntegration(ctx context.Context, ig *models.Integration) error
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	ListIntegrations(ctx context.Context, filter models.IntegrationFilter) ([]models.Integration, error)
	UpdateIntegration(ctx context.Context, ig *models.Integration) error
	SetIntegrationActive(ctx context.Context, id string, active bool) error
	DeleteIntegration(ctx context.Context, id string) error
	FindActiveSubscribers(ctx context.Context, kind models.EventKind, projectID string) ([]models.Integration, error)

	// Delivery log
	CreateAttempt(ctx context.Context, a *models.DeliveryAttempt) error
	CompleteAttempt(ctx context.Context, a *models.DeliveryAttempt) error
	GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error)
	ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]models.DeliveryAttempt, error)
	LatestInLineage(ctx context.Context, lineageID string) (*models.DeliveryAttempt, error)
	ListRetryCandidates(ctx context.Context, olderThan time.Time, limit int) ([]models.DeliveryAttempt, error)

	// Stats
	GetStats(ctx context.Context, projectID string) (*models.Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func successRate(stats *models.Stats) {
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SentCount) / float64(stats.TotalAttempts) * 100
	}
}
