package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zentryhq/zentry-webhooks/internal/models"
	"github.com/zentryhq/zentry-webhooks/internal/observability"
	"github.com/zentryhq/zentry-webhooks/internal/storage"
)

var DefaultRetrySchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// IsSuccess reports whether a destination accepted the payload.
func IsSuccess(statusCode int) bool {
	return statusCode == 200 || statusCode == 204
}

// NextRetryTime returns when a failed lineage head becomes due for an
// automatic retry, or nil once the lineage reached its last generation.
func NextRetryTime(a models.DeliveryAttempt, schedule []time.Duration) *time.Time {
	if a.AttemptNumber >= models.MaxAttemptNumber || len(schedule) == 0 {
		return nil
	}
	idx := a.AttemptNumber
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	t := a.CreatedAt.Add(schedule[idx])
	return &t
}

// Retrier re-sends failed deliveries. Each retry appends a new attempt to the
// lineage; the failed rows are left as they are.
type Retrier struct {
	store      Store
	dispatcher *Dispatcher
	schedule   []time.Duration
	log        zerolog.Logger
}

func NewRetrier(store Store, dispatcher *Dispatcher, schedule []time.Duration, log zerolog.Logger) *Retrier {
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	return &Retrier{
		store:      store,
		dispatcher: dispatcher,
		schedule:   schedule,
		log:        log,
	}
}

// Retry re-sends the stored payload of a failed attempt as the next
// generation of its lineage and returns the new attempt.
func (r *Retrier) Retry(ctx context.Context, attemptID string) (*models.DeliveryAttempt, error) {
	next, ig, err := r.prepare(ctx, attemptID)
	if err != nil {
		if errors.Is(err, models.ErrRetryNotAllowed) {
			observability.Retries.WithLabelValues("rejected").Inc()
		} else {
			observability.Retries.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	observability.Retries.WithLabelValues("created").Inc()

	r.log.Info().
		Str("attempt_id", next.ID).
		Str("retry_of", next.RetryOf).
		Int("attempt_number", next.AttemptNumber).
		Msg("retrying delivery")

	r.dispatcher.send(ctx, ig, next)
	return next, nil
}

func (r *Retrier) prepare(ctx context.Context, attemptID string) (*models.DeliveryAttempt, *models.Integration, error) {
	a, err := r.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	if a == nil {
		return nil, nil, models.ErrAttemptNotFound
	}
	if a.State != models.AttemptFailed {
		return nil, nil, notAllowed(a.ID, "attempt is "+string(a.State))
	}

	head, err := r.store.LatestInLineage(ctx, a.LineageID)
	if err != nil {
		return nil, nil, fmt.Errorf("get lineage head: %w", err)
	}
	if head == nil {
		head = a
	}
	switch head.State {
	case models.AttemptPending:
		return nil, nil, notAllowed(a.ID, "a retry of this delivery is in flight")
	case models.AttemptSent:
		return nil, nil, notAllowed(a.ID, "a later retry already succeeded")
	}
	if head.AttemptNumber >= models.MaxAttemptNumber {
		return nil, nil, notAllowed(a.ID, fmt.Sprintf("retry ceiling of %d reached", models.MaxAttemptNumber))
	}

	ig, err := r.store.GetIntegration(ctx, a.IntegrationID)
	if err != nil {
		return nil, nil, fmt.Errorf("get integration: %w", err)
	}
	if ig == nil {
		return nil, nil, notAllowed(a.ID, "integration no longer exists")
	}
	if !ig.Active {
		return nil, nil, notAllowed(a.ID, "integration is inactive")
	}

	next := head.NextGeneration()
	if err := r.store.CreateAttempt(ctx, next); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, nil, notAllowed(a.ID, fmt.Sprintf("generation %d was already created by a concurrent retry", next.AttemptNumber))
		}
		return nil, nil, fmt.Errorf("record retry attempt: %w", err)
	}
	return next, ig, nil
}

// Sweep retries every failed lineage head whose backoff has elapsed and
// returns how many retries it issued.
func (r *Retrier) Sweep(ctx context.Context, now time.Time) int {
	shortest := r.schedule[0]
	for _, d := range r.schedule {
		if d < shortest {
			shortest = d
		}
	}

	candidates, err := r.store.ListRetryCandidates(ctx, now.Add(-shortest), 100)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list retry candidates")
		return 0
	}

	retried := 0
	for _, c := range candidates {
		due := NextRetryTime(c, r.schedule)
		if due == nil || due.After(now) {
			continue
		}
		if _, err := r.Retry(ctx, c.ID); err != nil {
			if errors.Is(err, models.ErrRetryNotAllowed) {
				r.log.Debug().Err(err).Str("attempt_id", c.ID).Msg("skipping retry candidate")
			} else {
				r.log.Error().Err(err).Str("attempt_id", c.ID).Msg("automatic retry failed")
			}
			continue
		}
		retried++
	}
	return retried
}

func notAllowed(attemptID, reason string) error {
	return &models.RetryNotAllowedError{AttemptID: attemptID, Reason: reason}
}
