package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zentryhq/zentry-webhooks/internal/config"
	"github.com/zentryhq/zentry-webhooks/internal/models"
	"github.com/zentryhq/zentry-webhooks/internal/observability"
)

// Pool accepts domain events without blocking the producer and dispatches
// them on a fixed set of workers. When auto retry is enabled it also sweeps
// failed deliveries on an interval.
type Pool struct {
	dispatcher     *Dispatcher
	retrier        *Retrier
	queue          chan models.Event
	workers        int
	enqueueTimeout time.Duration
	autoRetry      bool
	sweepRate      time.Duration
	log            zerolog.Logger
	stop           chan struct{}
	wg             sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(cfg config.DeliveryConfig, dispatcher *Dispatcher, retrier *Retrier, log zerolog.Logger) *Pool {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	sweepRate := cfg.AutoRetry.Interval
	if sweepRate <= 0 {
		sweepRate = 30 * time.Second
	}

	return &Pool{
		dispatcher:     dispatcher,
		retrier:        retrier,
		queue:          make(chan models.Event, queueSize),
		workers:        workers,
		enqueueTimeout: cfg.EnqueueTimeout,
		autoRetry:      cfg.AutoRetry.Enabled && retrier != nil,
		sweepRate:      sweepRate,
		log:            log,
		stop:           make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().
		Int("workers", p.workers).
		Int("queue_size", cap(p.queue)).
		Bool("auto_retry", p.autoRetry).
		Msg("starting delivery pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for ev := range p.queue {
				p.dispatcher.Dispatch(ctx, ev)
			}
		}()
	}

	if p.autoRetry {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.sweepLoop(ctx)
		}()
	}
}

// Raise hands an event to the pool. It never returns a delivery error: if
// the queue stays full past the enqueue timeout the event is dropped and
// false is returned.
func (p *Pool) Raise(ev models.Event) bool {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(ev, "pool stopped")
		return false
	}

	select {
	case p.queue <- ev:
		observability.EventsRaised.WithLabelValues(string(ev.Kind)).Inc()
		return true
	default:
	}

	if p.enqueueTimeout <= 0 {
		p.drop(ev, "queue full")
		return false
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case p.queue <- ev:
		observability.EventsRaised.WithLabelValues(string(ev.Kind)).Inc()
		return true
	case <-timer.C:
		p.drop(ev, "queue full")
		return false
	}
}

func (p *Pool) drop(ev models.Event, reason string) {
	observability.EventsDropped.WithLabelValues(string(ev.Kind)).Inc()
	p.log.Warn().
		Str("event_kind", string(ev.Kind)).
		Str("project_id", ev.ProjectID).
		Str("reason", reason).
		Msg("dropping event")
}

// Stop refuses new events, drains the queue and waits for in-flight sends.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.log.Info().Msg("stopping delivery pool")
	close(p.stop)
	p.wg.Wait()
	p.log.Info().Msg("delivery pool stopped")
}

func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.sweepRate)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := p.retrier.Sweep(ctx, now.UTC()); n > 0 {
				p.log.Info().Int("retried", n).Msg("retry sweep finished")
			}
		}
	}
}
