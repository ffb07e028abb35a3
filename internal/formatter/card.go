package formatter

import (
	"strings"
	"time"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

type CardPayload struct {
	Text string `json:"text"`
}

// cardStrategy renders a plain text message with bold labels, the format
// accepted by Teams-style incoming webhooks.
type cardStrategy struct{}

func (cardStrategy) render(kind models.EventKind, f models.Fields, at time.Time) any {
	var c card
	switch kind {
	case models.EventTaskCompleted:
		c.heading("🎉", "Task Completed!")
		c.line("User", f.String("user_name", "Someone"))
		c.line("Task", f.String("task_title", "Unknown Task"))
		c.line("Project", f.String("project_name", "Unknown"))
		c.line("Points Earned", f.Number("points", 0)+" XP")
		c.closing("Great job! 🚀")
	case models.EventBadgeEarned:
		c.heading("🏆", "New Badge Earned!")
		c.line("User", f.String("user_name", "Someone"))
		c.line("Badge", f.String("badge_name", "Unknown Badge"))
		c.line("Description", text(f, "badge_description", "No description"))
		c.closing("Congratulations! 🎉")
	case models.EventProjectCreated:
		c.heading("🚀", "New Project Created!")
		c.line("Project", f.String("project_name", "Unknown Project"))
		c.line("Created by", f.String("user_name", "Someone"))
		c.line("Description", text(f, "project_description", "No description"))
		c.closing("Let's build something amazing! 💪")
	case models.EventMilestoneReached:
		c.heading("🎯", "Milestone Reached!")
		c.line("Project", f.String("project_name", "Unknown Project"))
		c.line("Milestone", f.String("milestone_name", "Unknown Milestone"))
		c.line("Progress", f.Number("progress", 0)+"%")
		c.closing("Keep up the great work! 📈")
	case models.EventDailyStreak:
		c.heading("🔥", "Daily Streak!")
		c.line("User", f.String("user_name", "Someone"))
		c.line("Streak", f.Number("streak_count", 0)+" days")
		c.line("Total Points", f.Number("total_points", 0)+" XP")
		c.closing("You're on fire! Keep it up! 🎯")
	default:
		c.heading("📢", brandName+" Notification")
		c.line("Event", kind.Title())
		c.line("Time", at.Format("2006-01-02 15:04:05"))
		if msg := text(f, "message", ""); msg != "" {
			c.line("Message", msg)
		}
		c.closing("Something awesome happened in your project! 🎉")
	}
	return CardPayload{Text: c.String()}
}

type card struct {
	b strings.Builder
}

func (c *card) heading(emoji, title string) {
	c.b.WriteString(emoji + " **" + title + "**\n\n")
}

func (c *card) line(label, value string) {
	c.b.WriteString("**" + label + ":** " + value + "\n")
}

func (c *card) closing(s string) {
	c.b.WriteString("\n" + s)
}

func (c *card) String() string { return c.b.String() }
