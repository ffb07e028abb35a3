package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type EventKind string

const (
	EventTaskCompleted    EventKind = "task_completed"
	EventBadgeEarned      EventKind = "badge_earned"
	EventProjectCreated   EventKind = "project_created"
	EventMilestoneReached EventKind = "milestone_reached"
	EventDailyStreak      EventKind = "daily_streak"

	// EventTest is reserved for operator test notifications. Integrations
	// cannot subscribe to it.
	EventTest EventKind = "test"
)

// KnownEventKinds lists the kinds an integration may subscribe to.
var KnownEventKinds = []EventKind{
	EventTaskCompleted,
	EventBadgeEarned,
	EventProjectCreated,
	EventMilestoneReached,
	EventDailyStreak,
}

func (k EventKind) Known() bool {
	for _, known := range KnownEventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Title renders the kind as words, e.g. "daily_streak" -> "Daily Streak".
func (k EventKind) Title() string {
	words := strings.Fields(strings.ReplaceAll(string(k), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// Fields holds the named attributes of an event. Values usually come from
// JSON, so numbers arrive as float64.
type Fields map[string]any

// String returns the named field rendered as text, or def when the field is
// absent, null or empty.
func (f Fields) String(key, def string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return def
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = formatFloat(t)
	case float32:
		s = formatFloat(float64(t))
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	if s == "" {
		return def
	}
	return s
}

// Number returns the named field as a number string, or def when the field
// is absent or not numeric.
func (f Fields) Number(key string, def int) string {
	switch t := f[key].(type) {
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case string:
		if _, err := strconv.ParseFloat(t, 64); err == nil {
			return t
		}
	}
	return strconv.Itoa(def)
}

func formatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type Event struct {
	Kind       EventKind `json:"kind"`
	ProjectID  string    `json:"project_id,omitempty"`
	Fields     Fields    `json:"fields"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent stamps the event with the current time.
func NewEvent(kind EventKind, projectID string, fields Fields) Event {
	if fields == nil {
		fields = Fields{}
	}
	return Event{
		Kind:       kind,
		ProjectID:  projectID,
		Fields:     fields,
		OccurredAt: time.Now().UTC(),
	}
}
