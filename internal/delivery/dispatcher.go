package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/zentryhq/zentry-webhooks/internal/formatter"
	"github.com/zentryhq/zentry-webhooks/internal/models"
	"github.com/zentryhq/zentry-webhooks/internal/observability"
)

// Subscribers resolves which integrations receive an event.
type Subscribers interface {
	FindActiveSubscribers(ctx context.Context, kind models.EventKind, projectID string) ([]models.Integration, error)
}

// Store is the slice of storage.Storage the delivery engine writes through.
type Store interface {
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	CreateAttempt(ctx context.Context, a *models.DeliveryAttempt) error
	CompleteAttempt(ctx context.Context, a *models.DeliveryAttempt) error
	GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error)
	LatestInLineage(ctx context.Context, lineageID string) (*models.DeliveryAttempt, error)
	ListRetryCandidates(ctx context.Context, olderThan time.Time, limit int) ([]models.DeliveryAttempt, error)
}

const DefaultTestMessage = "Test message from Zentry!"

type Dispatcher struct {
	subscribers Subscribers
	store       Store
	sender      *Sender
	parallelism int
	log         zerolog.Logger
}

func NewDispatcher(subscribers Subscribers, store Store, sender *Sender, parallelism int, log zerolog.Logger) *Dispatcher {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Dispatcher{
		subscribers: subscribers,
		store:       store,
		sender:      sender,
		parallelism: parallelism,
		log:         log,
	}
}

// Dispatch renders and sends ev to every active integration subscribed to it
// and returns the attempts that were recorded. Sends run concurrently and a
// failure toward one integration never affects another.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) []*models.DeliveryAttempt {
	integrations, err := d.subscribers.FindActiveSubscribers(ctx, ev.Kind, ev.ProjectID)
	if err != nil {
		d.log.Error().Err(err).Str("event_kind", string(ev.Kind)).Msg("failed to resolve subscribers")
		return nil
	}
	if len(integrations) == 0 {
		d.log.Debug().Str("event_kind", string(ev.Kind)).Str("project_id", ev.ProjectID).Msg("no subscribers for event")
		return nil
	}

	p := pool.NewWithResults[*models.DeliveryAttempt]().WithMaxGoroutines(d.parallelism)
	for _, ig := range integrations {
		ig := ig
		p.Go(func() *models.DeliveryAttempt {
			return d.deliverIsolated(ctx, ig, ev)
		})
	}

	var attempts []*models.DeliveryAttempt
	for _, a := range p.Wait() {
		if a != nil {
			attempts = append(attempts, a)
		}
	}
	return attempts
}

func (d *Dispatcher) deliverIsolated(ctx context.Context, ig models.Integration, ev models.Event) (a *models.DeliveryAttempt) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("integration_id", ig.ID).Msg("delivery panicked")
			a = nil
		}
	}()

	a, err := d.Deliver(ctx, ig, ev)
	if err != nil {
		d.log.Error().Err(err).Str("integration_id", ig.ID).Str("event_kind", string(ev.Kind)).Msg("delivery not attempted")
		return nil
	}
	return a
}

// Deliver renders ev for one integration, records a pending attempt, sends
// it, and records the outcome. The send runs to completion or timeout even if
// ctx is cancelled.
func (d *Dispatcher) Deliver(ctx context.Context, ig models.Integration, ev models.Event) (*models.DeliveryAttempt, error) {
	ctx = context.WithoutCancel(ctx)

	payload, err := formatter.RenderEvent(ig.DestinationKind, ev)
	if err != nil {
		return nil, err
	}

	a := models.NewAttempt(ig.ID, ev.Kind, payload)
	if err := d.store.CreateAttempt(ctx, a); err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	d.send(ctx, &ig, a)
	return a, nil
}

// TestIntegration sends a synthetic test event to one integration, regardless
// of its subscriptions. Inactive integrations are refused.
func (d *Dispatcher) TestIntegration(ctx context.Context, integrationID, message string) (*models.DeliveryAttempt, error) {
	ig, err := d.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	if ig == nil {
		return nil, models.ErrIntegrationNotFound
	}
	if !ig.Active {
		return nil, &models.ConfigurationError{Field: "active", Reason: "integration is inactive"}
	}
	if message == "" {
		message = DefaultTestMessage
	}

	ev := models.NewEvent(models.EventTest, ig.ProjectID, models.Fields{
		"message": message,
		"test":    true,
	})
	return d.Deliver(ctx, *ig, ev)
}

// send performs the HTTP call for a pending attempt and moves it to its
// terminal state.
func (d *Dispatcher) send(ctx context.Context, ig *models.Integration, a *models.DeliveryAttempt) {
	ctx = context.WithoutCancel(ctx)
	res := d.sender.Send(ctx, ig.TargetURL, a.RenderedPayload)
	classify(a, res, time.Now().UTC())

	if err := d.store.CompleteAttempt(ctx, a); err != nil {
		d.log.Error().Err(err).Str("attempt_id", a.ID).Msg("failed to record delivery outcome")
	}

	observability.Deliveries.WithLabelValues(string(ig.DestinationKind), string(a.State)).Inc()
	observability.DeliveryLatency.WithLabelValues(string(ig.DestinationKind)).Observe(float64(a.LatencyMs) / 1000)

	if a.State == models.AttemptSent {
		d.log.Info().
			Str("attempt_id", a.ID).
			Str("integration_id", ig.ID).
			Int("status_code", *a.ResponseCode).
			Int64("latency_ms", a.LatencyMs).
			Msg("delivery succeeded")
		return
	}
	d.log.Warn().
		Str("attempt_id", a.ID).
		Str("integration_id", ig.ID).
		Str("failure_kind", string(a.FailureKind)).
		Str("error", a.ErrorDetail).
		Int("attempt_number", a.AttemptNumber).
		Msg("delivery failed")
}

func classify(a *models.DeliveryAttempt, res *SendResult, now time.Time) {
	a.LatencyMs = res.LatencyMs
	if res.Err != nil {
		a.State = models.AttemptFailed
		a.FailureKind = models.FailureTransport
		a.ErrorDetail = res.Err.Error()
		return
	}

	code := res.StatusCode
	a.ResponseCode = &code
	a.ResponseExcerpt = res.ResponseBody
	a.SentAt = &now
	if IsSuccess(code) {
		a.State = models.AttemptSent
		return
	}
	a.State = models.AttemptFailed
	a.FailureKind = models.FailureRejected
	a.ErrorDetail = fmt.Sprintf("HTTP %d: %s", code, res.ResponseBody)
}
