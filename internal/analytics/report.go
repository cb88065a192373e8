package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	missedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// FormatReport renders team analytics and the priority ranking for a
// terminal.
func FormatReport(team Team, ranked []Ranked, now time.Time) string {
	var output strings.Builder

	output.WriteString(titleStyle.Render(fmt.Sprintf("=== Task Analytics for %s ===", now.Format("2006-01-02 15:04"))))
	output.WriteString("\n\n")

	o := team.Overall
	output.WriteString(headerStyle.Render("Overall"))
	output.WriteString("\n")
	output.WriteString(fmt.Sprintf("  tasks %d  users %d  completed %d  pending %d  ",
		o.Total, o.Users, o.Completed, o.Pending))
	output.WriteString(missedStyle.Render(fmt.Sprintf("missed %d", o.Missed)))
	output.WriteString(fmt.Sprintf("  received %d\n\n", o.Received))

	if len(team.Users) > 0 {
		output.WriteString(headerStyle.Render("By user"))
		output.WriteString("\n")
		users := lo.Keys(team.Users)
		sort.Strings(users)
		width := lo.Max(lo.Map(users, func(u string, _ int) int { return len(u) }))
		for _, u := range users {
			b := team.Users[u]
			line := fmt.Sprintf("  %-*s  %3d tasks  %3d done  %3d pending  ", width, u, b.Total, b.Completed, b.Pending)
			output.WriteString(line)
			missed := fmt.Sprintf("%3d missed", b.Missed)
			if b.Missed > 0 {
				missed = missedStyle.Render(missed)
			}
			output.WriteString(missed + "\n")
		}
		output.WriteString("\n")
	}

	if len(ranked) > 0 {
		output.WriteString(headerStyle.Render("Next assignment priority"))
		output.WriteString("\n")
		for _, r := range ranked {
			idle := mutedStyle.Render("never assigned")
			if !r.LastAssigned.IsZero() {
				idle = "last assigned " + humanize.RelTime(r.LastAssigned, now, "ago", "from now")
			}
			output.WriteString(fmt.Sprintf("%d. %s (%d pending, %s)\n", r.Priority, r.User, r.Bucket.Pending, idle))
		}
	}

	return output.String()
}
