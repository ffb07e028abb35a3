package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "zentry_events_raised_total", Help: "Domain events accepted for dispatch"},
		[]string{"kind"},
	)
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "zentry_events_dropped_total", Help: "Domain events dropped because the dispatch queue was full"},
		[]string{"kind"},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "zentry_deliveries_total", Help: "Webhook delivery attempts by outcome"},
		[]string{"destination", "state"},
	)
	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "zentry_delivery_latency_seconds", Help: "Webhook send latency", Buckets: prometheus.DefBuckets},
		[]string{"destination"},
	)
	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "zentry_retries_total", Help: "Retry requests by result"},
		[]string{"result"},
	)
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "zentry_api_requests_total", Help: "API requests"},
		[]string{"route", "status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(EventsRaised, EventsDropped, Deliveries, DeliveryLatency, Retries, APIRequests)
}
