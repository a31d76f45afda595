package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/dwizi/listing-intake/internal/adminclient"
	"github.com/dwizi/listing-intake/internal/pipeline"
	"github.com/dwizi/listing-intake/internal/session"
	"github.com/dwizi/listing-intake/internal/store"
)

type palette struct {
	header lipgloss.Style
	label  lipgloss.Style
	muted  lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
}

var styles = newPalette()

func newPalette() palette {
	return palette{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("246")),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

func renderState(state string) string {
	switch state {
	case session.StateListening:
		return styles.ok.Render(state)
	case session.StateStarting, session.StateStopping:
		return styles.warn.Render(state)
	case session.StateError:
		return styles.err.Render(state)
	case "":
		return styles.muted.Render("-")
	default:
		return styles.muted.Render(state)
	}
}

func renderSessions(statuses []session.Status) string {
	if len(statuses) == 0 {
		return styles.muted.Render("no sessions configured") + "\n"
	}
	var builder strings.Builder
	builder.WriteString(styles.header.Render(fmt.Sprintf("%-24s %-10s %-10s %8s %8s", "SESSION", "PROVIDER", "STATE", "RECV", "SENT")))
	builder.WriteString("\n")
	for _, status := range statuses {
		fmt.Fprintf(&builder, "%-24s %-10s %s%8d %8d\n",
			compactLine(status.SessionID, 24),
			status.Provider,
			renderState(status.State)+strings.Repeat(" ", padding(status.State, 10)),
			status.MessagesReceived,
			status.MessagesSent,
		)
	}
	return builder.String()
}

func renderSessionDetail(status session.Status) string {
	rows := [][2]string{
		{"session", status.SessionID},
		{"name", status.Name},
		{"provider", status.Provider},
		{"state", renderState(status.State)},
		{"received", fmt.Sprint(status.MessagesReceived)},
		{"sent", fmt.Sprint(status.MessagesSent)},
		{"started", formatTime(status.StartTime)},
		{"last activity", formatTime(status.LastActivity)},
	}
	if status.LastError != "" {
		rows = append(rows, [2]string{"last error", styles.err.Render(status.LastError)})
	}
	return renderRows(rows)
}

func renderOutcome(outcome pipeline.Outcome) (string, error) {
	record, err := json.MarshalIndent(outcome.Record, "", "  ")
	if err != nil {
		return "", err
	}
	rows := [][2]string{{"message", outcome.MessageID}}
	if outcome.Committed {
		rows = append(rows, [2]string{"listing", styles.ok.Render(outcome.ListingID)})
		if outcome.Replaced {
			rows = append(rows, [2]string{"replaced", styles.warn.Render(outcome.PreviousListingID)})
		}
	} else {
		rows = append(rows, [2]string{"committed", styles.muted.Render("no (dry run)")})
	}
	return renderRows(rows) + string(record) + "\n", nil
}

func renderBatch(result pipeline.BatchResult) string {
	failed := fmt.Sprint(result.Failed)
	if result.Failed > 0 {
		failed = styles.err.Render(failed)
	}
	return renderRows([][2]string{
		{"batch", result.CorrelationID},
		{"pages", fmt.Sprint(result.Pages)},
		{"processed", styles.ok.Render(fmt.Sprint(result.Processed))},
		{"failed", failed},
	})
}

func renderMessages(messages []adminclient.Message) string {
	if len(messages) == 0 {
		return styles.muted.Render("no messages") + "\n"
	}
	var builder strings.Builder
	for _, message := range messages {
		listing := styles.muted.Render("unlinked")
		if message.ListingID != "" {
			listing = styles.ok.Render(message.ListingID)
		}
		fmt.Fprintf(&builder, "%s %s %s\n  %s\n",
			styles.header.Render(message.ID),
			styles.label.Render(message.SenderLabel),
			listing,
			compactLine(message.Content, 120),
		)
	}
	return builder.String()
}

func renderStats(stats store.Stats) string {
	return renderRows([][2]string{
		{"messages", fmt.Sprint(stats.Messages)},
		{"linked", fmt.Sprint(stats.Linked)},
		{"unlinked", fmt.Sprint(stats.Unlinked)},
		{"alternate senders", fmt.Sprint(stats.AlternateSenders)},
		{"listings", fmt.Sprint(stats.Listings)},
		{"replacements", fmt.Sprint(stats.Replacements)},
	})
}

func renderRows(rows [][2]string) string {
	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}
	var builder strings.Builder
	for _, row := range rows {
		builder.WriteString(styles.label.Render(fmt.Sprintf("%-*s", width, row[0])))
		builder.WriteString("  ")
		builder.WriteString(row[1])
		builder.WriteString("\n")
	}
	return builder.String()
}

func formatTime(value *time.Time) string {
	if value == nil || value.IsZero() {
		return styles.muted.Render("-")
	}
	return value.Local().Format(time.RFC3339)
}

func padding(text string, width int) int {
	if text == "" {
		text = "-"
	}
	if len(text) >= width {
		return 1
	}
	return width - len(text) + 1
}

func compactLine(input string, maxLen int) string {
	line := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	if maxLen < 1 || len(line) <= maxLen {
		return line
	}
	return strings.TrimSpace(line[:maxLen]) + "..."
}
