package formatter

import (
	"time"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

type EmbedPayload struct {
	Embeds []Embed `json:"embeds"`
}

type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Footer      EmbedFooter  `json:"footer"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

const defaultColor = 0x808080

var embedColors = map[models.EventKind]int{
	models.EventTaskCompleted:    0x00ff00,
	models.EventBadgeEarned:      0xffd700,
	models.EventProjectCreated:   0x0099ff,
	models.EventMilestoneReached: 0xff6600,
	models.EventDailyStreak:      0x9966ff,
}

var embedTitles = map[models.EventKind]string{
	models.EventTaskCompleted:    "Task Completed",
	models.EventBadgeEarned:      "Badge Earned",
	models.EventProjectCreated:   "Project Created",
	models.EventMilestoneReached: "Milestone Reached",
	models.EventDailyStreak:      "Daily Streak",
}

// embedStrategy renders a titled, colored panel.
type embedStrategy struct{}

func (embedStrategy) render(kind models.EventKind, f models.Fields, at time.Time) any {
	color, ok := embedColors[kind]
	if !ok {
		color = defaultColor
	}
	title, ok := embedTitles[kind]
	if !ok {
		title = brandName + " Notification"
	}

	e := Embed{
		Title:     title,
		Color:     color,
		Timestamp: at.Format(time.RFC3339),
		Footer:    EmbedFooter{Text: footerText, IconURL: footerIcon},
	}

	switch kind {
	case models.EventTaskCompleted:
		e.Description = "🎉 **" + f.String("user_name", "Someone") + "** completed the task **" + f.String("task_title", "Unknown Task") + "**!"
		e.Fields = []EmbedField{
			{Name: "Project", Value: f.String("project_name", "Unknown"), Inline: true},
			{Name: "Points Earned", Value: f.Number("points", 0), Inline: true},
		}
	case models.EventBadgeEarned:
		e.Description = "🏆 **" + f.String("user_name", "Someone") + "** earned a new badge: **" + f.String("badge_name", "Unknown Badge") + "**!"
		e.Fields = []EmbedField{
			{Name: "Badge Description", Value: text(f, "badge_description", "No description")},
		}
	case models.EventProjectCreated:
		e.Description = "🚀 New project **" + f.String("project_name", "Unknown Project") + "** has been created!"
		e.Fields = []EmbedField{
			{Name: "Created by", Value: f.String("user_name", "Unknown"), Inline: true},
			{Name: "Description", Value: text(f, "project_description", "No description")},
		}
	case models.EventMilestoneReached:
		e.Description = "🎯 Milestone reached: **" + f.String("milestone_name", "Unknown Milestone") + "**!"
		e.Fields = []EmbedField{
			{Name: "Project", Value: f.String("project_name", "Unknown"), Inline: true},
			{Name: "Progress", Value: f.Number("progress", 0) + "%", Inline: true},
		}
	case models.EventDailyStreak:
		e.Description = "🔥 **" + f.String("user_name", "Someone") + "** is on a " + f.Number("streak_days", 0) + " day streak!"
		e.Fields = []EmbedField{
			{Name: "Streak Type", Value: f.String("streak_type", "Daily tasks"), Inline: true},
		}
	default:
		e.Description = "📢 **" + kind.Title() + "** at " + at.Format("2006-01-02 15:04:05") + " UTC"
		if msg := text(f, "message", ""); msg != "" {
			e.Fields = []EmbedField{{Name: "Message", Value: msg}}
		}
	}

	return EmbedPayload{Embeds: []Embed{e}}
}
