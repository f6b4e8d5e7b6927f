package cli

import (
	"fmt"
	"strings"

	"github.com/apresai/conceptlab/internal/interview"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/pipeline"
	"github.com/charmbracelet/lipgloss"
)

var (
	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	personaBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			MarginTop(1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	impactStyles = map[string]lipgloss.Style{
		"high":   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true),
		"medium": lipgloss.NewStyle().Foreground(lipgloss.Color("#F1FA8C")),
		"low":    lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
	}
)

// RenderReport formats a finished batch for the terminal.
func RenderReport(c model.Concept, res *pipeline.BatchResult) string {
	var b strings.Builder
	b.WriteString(headerBorder.Render(titleStyle.Render(fmt.Sprintf("%s by %s", c.Name, orDash(c.Brand)))))
	b.WriteString("\n")

	for _, ev := range res.Evaluations {
		b.WriteString(personaBoxStyle.Render(renderEvaluation(ev)))
		b.WriteString("\n")
	}
	if len(res.Failures) > 0 {
		b.WriteString("\n" + errorStyle.Render("Failed personas") + "\n")
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "  %s: %v\n", f.PersonaID, f.Err)
		}
	}
	return b.String()
}

func renderEvaluation(ev *model.ConversationalEvaluation) string {
	var b strings.Builder
	u := ev.UserInformation
	fmt.Fprintf(&b, "%s %s\n", sectionStyle.Render(orDash(u.Name)),
		dimStyle.Render(fmt.Sprintf("(%s, %d, %s)", orDash(u.Archetype), u.Age, orDash(u.Location))))

	meta := ev.Metadata
	line := fmt.Sprintf("confidence %.2f  coherence %.2f  exchanges %d", meta.Confidence, meta.CoherenceScore, len(ev.Conversation))
	if meta.TopicMode != "" {
		line += "  topics " + meta.TopicMode
	}
	if meta.Regenerated {
		line += "  regenerated"
	}
	b.WriteString(dimStyle.Render(line) + "\n\n")

	sum := ev.ExecutiveSummary
	if sum.Narrative != "" {
		b.WriteString(lipgloss.NewStyle().Width(76).Render(sum.Narrative) + "\n\n")
	}

	b.WriteString(sectionStyle.Render("Insights") + "\n")
	for _, in := range sum.Insights {
		impact := strings.ToLower(in.Impact)
		style, ok := impactStyles[impact]
		if !ok {
			style = dimStyle
		}
		fmt.Fprintf(&b, "  %s %s\n", style.Render(fmt.Sprintf("[%-6s]", impact)), in.Title)
		if in.Placeholder {
			b.WriteString("    " + dimStyle.Render("not available") + "\n")
		}
	}

	ib := sum.IntentBreakdown
	if ib.Signals > 0 {
		fmt.Fprintf(&b, "\n%s high %.0f%%  medium %.0f%%  low %.0f%%  (%d signals)\n",
			sectionStyle.Render("Intent"), ib.High*100, ib.Medium*100, ib.Low*100, ib.Signals)
	}
	if sum.SurprisingInsight.Title != "" {
		fmt.Fprintf(&b, "\n%s %s\n", sectionStyle.Render("Surprise"), sum.SurprisingInsight.Title)
	}
	if sum.SuggestedFollowUp.Question != "" {
		fmt.Fprintf(&b, "%s %s\n", sectionStyle.Render("Next"), sum.SuggestedFollowUp.Question)
	}
	if len(meta.QualityIssues) > 0 {
		b.WriteString("\n" + errorStyle.Render("Quality issues") + "\n")
		for _, q := range meta.QualityIssues {
			b.WriteString("  - " + q + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderScript lists the questions with their conditional probes.
func RenderScript(questions []interview.Question) string {
	var b strings.Builder
	for i, q := range questions {
		fmt.Fprintf(&b, "%2d. %s\n", i+1, q.Base)
		if q.FollowUpPositive != "" {
			b.WriteString("    " + dimStyle.Render("+ "+q.FollowUpPositive) + "\n")
		}
		if q.FollowUpNegative != "" {
			b.WriteString("    " + dimStyle.Render("- "+q.FollowUpNegative) + "\n")
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
