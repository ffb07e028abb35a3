// Package formatter renders domain events into the wire formats of chat
// destinations. Rendering is pure: the same destination, kind, fields and
// timestamp always produce the same bytes.
package formatter

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

// MaxTextLength caps free-text fields (descriptions, messages) embedded in a
// payload, in characters.
const MaxTextLength = 100

const (
	brandName  = "Zentry"
	footerText = "Zentry Project Management"
	footerIcon = "https://via.placeholder.com/32x32.png?text=Z"
)

type strategy interface {
	render(kind models.EventKind, f models.Fields, at time.Time) any
}

func strategyFor(dest models.DestinationKind) (strategy, error) {
	switch dest {
	case models.DestinationChatEmbed:
		return embedStrategy{}, nil
	case models.DestinationChatCard:
		return cardStrategy{}, nil
	}
	return nil, &models.ConfigurationError{Field: "destination_kind", Reason: "no formatter for destination kind \"" + string(dest) + "\""}
}

// Render builds the JSON body for dest. Missing fields degrade to
// placeholders; only an unknown destination kind is an error.
func Render(dest models.DestinationKind, kind models.EventKind, fields models.Fields, at time.Time) (json.RawMessage, error) {
	s, err := strategyFor(dest)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = models.Fields{}
	}
	return json.Marshal(s.render(kind, fields, at.UTC()))
}

// RenderEvent is Render for a whole event.
func RenderEvent(dest models.DestinationKind, ev models.Event) (json.RawMessage, error) {
	return Render(dest, ev.Kind, ev.Fields, ev.OccurredAt)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

// text reads a free-text field and applies the length cap.
func text(f models.Fields, key, def string) string {
	return truncate(f.String(key, def), MaxTextLength)
}
