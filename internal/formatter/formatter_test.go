package formatter

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

var at = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func renderEmbed(t *testing.T, kind models.EventKind, f models.Fields) Embed {
	t.Helper()
	raw, err := Render(models.DestinationChatEmbed, kind, f, at)
	require.NoError(t, err)
	var p EmbedPayload
	require.NoError(t, json.Unmarshal(raw, &p))
	require.Len(t, p.Embeds, 1)
	return p.Embeds[0]
}

func renderCard(t *testing.T, kind models.EventKind, f models.Fields) string {
	t.Helper()
	raw, err := Render(models.DestinationChatCard, kind, f, at)
	require.NoError(t, err)
	var p CardPayload
	require.NoError(t, json.Unmarshal(raw, &p))
	return p.Text
}

func TestEmbedTaskCompleted(t *testing.T) {
	e := renderEmbed(t, models.EventTaskCompleted, models.Fields{
		"user_name":    "Alex",
		"task_title":   "Ship v1",
		"project_name": "Zentry",
		"points":       float64(25),
	})

	assert.Equal(t, "Task Completed", e.Title)
	assert.Equal(t, 0x00ff00, e.Color)
	assert.Contains(t, e.Description, "Alex")
	assert.Contains(t, e.Description, "Ship v1")
	assert.Equal(t, "2026-03-14T09:26:53Z", e.Timestamp)
	assert.Equal(t, footerText, e.Footer.Text)
	assert.Contains(t, e.Fields, EmbedField{Name: "Points Earned", Value: "25", Inline: true})
	assert.Contains(t, e.Fields, EmbedField{Name: "Project", Value: "Zentry", Inline: true})
}

func TestEmbedPaletteAndTitles(t *testing.T) {
	cases := []struct {
		kind  models.EventKind
		title string
		color int
	}{
		{models.EventBadgeEarned, "Badge Earned", 0xffd700},
		{models.EventProjectCreated, "Project Created", 0x0099ff},
		{models.EventMilestoneReached, "Milestone Reached", 0xff6600},
		{models.EventDailyStreak, "Daily Streak", 0x9966ff},
		{models.EventTest, "Zentry Notification", 0x808080},
		{models.EventKind("sprint_closed"), "Zentry Notification", 0x808080},
	}
	for _, tc := range cases {
		e := renderEmbed(t, tc.kind, nil)
		assert.Equal(t, tc.title, e.Title, tc.kind)
		assert.Equal(t, tc.color, e.Color, tc.kind)
		assert.NotEmpty(t, e.Description, tc.kind)
	}
}

func TestMissingFieldsUsePlaceholders(t *testing.T) {
	e := renderEmbed(t, models.EventTaskCompleted, models.Fields{})
	assert.Contains(t, e.Description, "Someone")
	assert.Contains(t, e.Description, "Unknown Task")
	assert.Contains(t, e.Fields, EmbedField{Name: "Points Earned", Value: "0", Inline: true})

	m := renderEmbed(t, models.EventMilestoneReached, nil)
	assert.Contains(t, m.Fields, EmbedField{Name: "Progress", Value: "0%", Inline: true})

	card := renderCard(t, models.EventBadgeEarned, nil)
	assert.Contains(t, card, "**Badge:** Unknown Badge")
	assert.Contains(t, card, "**Description:** No description")
}

func TestCardTaskCompleted(t *testing.T) {
	text := renderCard(t, models.EventTaskCompleted, models.Fields{
		"user_name":    "Alex",
		"task_title":   "Ship v1",
		"project_name": "Zentry",
		"points":       25,
	})
	assert.True(t, strings.HasPrefix(text, "🎉 **Task Completed!**\n\n"))
	assert.Contains(t, text, "**User:** Alex\n")
	assert.Contains(t, text, "**Task:** Ship v1\n")
	assert.Contains(t, text, "**Points Earned:** 25 XP\n")
	assert.True(t, strings.HasSuffix(text, "Great job! 🚀"))
}

func TestFallbackNamesKindAndTime(t *testing.T) {
	text := renderCard(t, models.EventKind("sprint_closed"), nil)
	assert.Contains(t, text, "**Event:** Sprint Closed")
	assert.Contains(t, text, "**Time:** 2026-03-14 09:26:53")

	e := renderEmbed(t, models.EventTest, models.Fields{"message": "ping from ops", "test": true})
	assert.Contains(t, e.Description, "Test")
	assert.Equal(t, []EmbedField{{Name: "Message", Value: "ping from ops"}}, e.Fields)
}

func TestRenderIsDeterministic(t *testing.T) {
	fields := models.Fields{
		"user_name":  "Alex",
		"badge_name": "Early Bird",
		"extra":      map[string]any{"b": 1, "a": 2},
	}
	for _, dest := range []models.DestinationKind{models.DestinationChatEmbed, models.DestinationChatCard} {
		for _, kind := range append(models.KnownEventKinds, models.EventTest) {
			first, err := Render(dest, kind, fields, at)
			require.NoError(t, err)
			second, err := Render(dest, kind, fields, at)
			require.NoError(t, err)
			assert.Equal(t, first, second, "%s/%s", dest, kind)
		}
	}
}

func TestFreeTextIsTruncated(t *testing.T) {
	long := strings.Repeat("é", 250)
	fields := models.Fields{
		"badge_description":   long,
		"project_description": long,
		"message":             long,
	}

	for _, kind := range []models.EventKind{models.EventBadgeEarned, models.EventProjectCreated, models.EventTest} {
		e := renderEmbed(t, kind, fields)
		for _, f := range e.Fields {
			assert.LessOrEqual(t, utf8.RuneCountInString(f.Value), MaxTextLength, "%s/%s", kind, f.Name)
		}

		card := renderCard(t, kind, fields)
		for _, line := range strings.Split(card, "\n") {
			if strings.Contains(line, "é") {
				value := line[strings.Index(line, ":** ")+4:]
				assert.Equal(t, MaxTextLength, utf8.RuneCountInString(value), kind)
			}
		}
	}
}

func TestUnknownDestinationIsConfigurationError(t *testing.T) {
	_, err := Render(models.DestinationKind("pager"), models.EventTaskCompleted, nil, at)
	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRenderEventUsesOccurredAt(t *testing.T) {
	ev := models.Event{Kind: models.EventDailyStreak, Fields: models.Fields{"streak_days": 7}, OccurredAt: at}
	raw, err := RenderEvent(models.DestinationChatEmbed, ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"timestamp":"2026-03-14T09:26:53Z"`)
	assert.Contains(t, string(raw), "7 day streak")
}
