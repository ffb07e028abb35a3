package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

type DestinationKind string

const (
	DestinationChatEmbed DestinationKind = "chat_embed"
	DestinationChatCard  DestinationKind = "chat_card"
)

// ParseDestinationKind accepts the canonical kinds and the product names
// operators tend to type.
func ParseDestinationKind(s string) (DestinationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(DestinationChatEmbed), "discord":
		return DestinationChatEmbed, nil
	case string(DestinationChatCard), "teams":
		return DestinationChatCard, nil
	}
	return "", &ConfigurationError{Field: "destination_kind", Reason: "unknown destination kind " + quote(s)}
}

// EventKindSet is the set of event kinds an integration subscribes to. It is
// stored and serialized as a sorted JSON array.
type EventKindSet map[EventKind]struct{}

func NewEventKindSet(kinds ...EventKind) EventKindSet {
	s := make(EventKindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// ParseEventKindSet rejects any tag outside KnownEventKinds.
func ParseEventKindSet(tags []string) (EventKindSet, error) {
	s := make(EventKindSet, len(tags))
	for _, tag := range tags {
		k := EventKind(strings.TrimSpace(tag))
		if !k.Known() {
			return nil, &ConfigurationError{Field: "event_kinds", Reason: quote(tag) + " is not a valid event kind"}
		}
		s[k] = struct{}{}
	}
	return s, nil
}

func (s EventKindSet) Has(k EventKind) bool {
	_, ok := s[k]
	return ok
}

func (s EventKindSet) Slice() []EventKind {
	out := make([]EventKind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s EventKindSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *EventKindSet) UnmarshalJSON(b []byte) error {
	var kinds []EventKind
	if err := json.Unmarshal(b, &kinds); err != nil {
		return err
	}
	*s = NewEventKindSet(kinds...)
	return nil
}

type Integration struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	DestinationKind DestinationKind `json:"destination_kind"`
	TargetURL       string          `json:"target_url"`
	ProjectID       string          `json:"project_id"`
	OwnerID         string          `json:"owner_id"`
	EventKinds      EventKindSet    `json:"event_kinds"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Matches reports whether the integration should receive an event of the
// given kind. An empty projectID matches integrations of any project.
func (i *Integration) Matches(kind EventKind, projectID string) bool {
	if !i.Active || !i.EventKinds.Has(kind) {
		return false
	}
	return projectID == "" || i.ProjectID == projectID
}

type IntegrationFilter struct {
	DestinationKind DestinationKind
	ProjectID       string
	Active          *bool
}
