package models

import (
	"encoding/json"
	"time"
)

type AttemptState string

const (
	AttemptPending AttemptState = "pending"
	AttemptSent    AttemptState = "sent"
	AttemptFailed  AttemptState = "failed"
)

func (s AttemptState) Valid() bool {
	return s == AttemptPending || s == AttemptSent || s == AttemptFailed
}

func (s AttemptState) Terminal() bool {
	return s == AttemptSent || s == AttemptFailed
}

type FailureKind string

const (
	// FailureTransport means no HTTP response was observed.
	FailureTransport FailureKind = "transport"
	// FailureRejected means the destination answered outside the success set.
	FailureRejected FailureKind = "rejected"
)

// MaxAttemptNumber is the last retry generation of a lineage. Attempts are
// numbered 0 (original) through MaxAttemptNumber.
const MaxAttemptNumber = 3

// ResponseExcerptLimit bounds the stored response body, in characters.
const ResponseExcerptLimit = 1000

type DeliveryAttempt struct {
	ID              string          `json:"id"`
	IntegrationID   string          `json:"integration_id"`
	LineageID       string          `json:"lineage_id"`
	RetryOf         string          `json:"retry_of,omitempty"`
	EventKind       EventKind       `json:"event_kind"`
	RenderedPayload json.RawMessage `json:"rendered_payload"`
	State           AttemptState    `json:"state"`
	ResponseCode    *int            `json:"response_code,omitempty"`
	ResponseExcerpt string          `json:"response_body_excerpt,omitempty"`
	ErrorDetail     string          `json:"error_detail,omitempty"`
	FailureKind     FailureKind     `json:"failure_kind,omitempty"`
	AttemptNumber   int             `json:"attempt_number"`
	LatencyMs       int64           `json:"latency_ms"`
	CreatedAt       time.Time       `json:"created_at"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
}

// NewAttempt creates generation 0 of a new lineage in the pending state.
func NewAttempt(integrationID string, kind EventKind, payload json.RawMessage) *DeliveryAttempt {
	id := NewID("att")
	return &DeliveryAttempt{
		ID:              id,
		IntegrationID:   integrationID,
		LineageID:       id,
		EventKind:       kind,
		RenderedPayload: payload,
		State:           AttemptPending,
		CreatedAt:       time.Now().UTC(),
	}
}

// NextGeneration creates the pending attempt that re-sends a's payload.
func (a *DeliveryAttempt) NextGeneration() *DeliveryAttempt {
	return &DeliveryAttempt{
		ID:              NewID("att"),
		IntegrationID:   a.IntegrationID,
		LineageID:       a.LineageID,
		RetryOf:         a.ID,
		EventKind:       a.EventKind,
		RenderedPayload: a.RenderedPayload,
		State:           AttemptPending,
		AttemptNumber:   a.AttemptNumber + 1,
		CreatedAt:       time.Now().UTC(),
	}
}

type AttemptFilter struct {
	IntegrationID string
	State         AttemptState
	EventKind     EventKind
	Limit         int
	Offset        int
}

type Stats struct {
	TotalAttempts      int64   `json:"total_attempts"`
	SentCount          int64   `json:"sent_count"`
	FailedCount        int64   `json:"failed_count"`
	PendingCount       int64   `json:"pending_count"`
	SuccessRate        float64 `json:"success_rate"`
	TotalIntegrations  int64   `json:"total_integrations"`
	ActiveIntegrations int64   `json:"active_integrations"`
}
