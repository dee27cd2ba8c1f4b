package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jaxxstorm/probedigest/internal/analyze"
	"github.com/jaxxstorm/probedigest/internal/model"
)

type Options struct {
	DisplayProbes    bool
	DisplayResolvers bool
	DisplayRTT       bool
}

func RenderPretty(summary model.MeasurementSummary, opts Options) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("probedigest")
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failureStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	lines := []string{title, dimStyle.Render(header(summary)), ""}

	if len(summary.Hops) > 0 {
		for _, hop := range summary.Hops {
			lines = append(lines, keyStyle.Render(hopLine(hop)))
		}
		lines = append(lines, "")
	}
	for _, class := range summary.Classes {
		lines = append(lines, keyStyle.Render(classLine(class, opts)))
	}
	if summary.Ping != nil {
		lines = append(lines, "", dimStyle.Render(pingLine(*summary.Ping)))
	}

	lines = append(lines, "")
	diag := fmt.Sprintf("%s %s", summary.Diagnosis.Classification, summary.Diagnosis.Summary)
	if summary.Diagnosis.Classification == string(analyze.OutcomeComplete) {
		lines = append(lines, successStyle.Render(diag))
	} else {
		lines = append(lines, failureStyle.Render(diag))
	}
	if len(summary.Diagnosis.Hints) > 0 {
		lines = append(lines, "Hints:")
		for _, hint := range summary.Diagnosis.Hints {
			lines = append(lines, "- "+hint)
		}
	}

	return strings.Join(lines, "\n")
}

func header(summary model.MeasurementSummary) string {
	s := fmt.Sprintf("Measurement #%s", summary.MeasurementID)
	if summary.Kind != "" {
		s += " " + summary.Kind
	}
	if summary.Target != "" {
		s += " " + summary.Target
	}
	s += fmt.Sprintf(": %d/%d probes reported", summary.ProbesReported, summary.ProbesRequested)
	if !summary.CompletedAt.IsZero() {
		s += " at " + summary.CompletedAt.UTC().Format(time.RFC3339)
	}
	return s
}

func classLine(class model.EquivalenceClass, opts Options) string {
	line := fmt.Sprintf("[%s] : %d occurrence", normalizeSpace(class.Key), class.Count)
	if class.Count != 1 {
		line += "s"
	}
	if opts.DisplayProbes && len(class.Probes) > 0 {
		ids := make([]string, 0, len(class.Probes))
		for _, id := range class.Probes {
			ids = append(ids, strconv.Itoa(id))
		}
		line += " (probes: " + strings.Join(ids, ", ") + ")"
	}
	if opts.DisplayResolvers && len(class.Resolvers) > 0 {
		line += " (resolvers: " + strings.Join(class.Resolvers, ", ") + ")"
	}
	if opts.DisplayRTT {
		if avg, ok := class.AverageRTT(); ok {
			line += fmt.Sprintf(" Average RTT %.2f ms", avg)
		}
	}
	return line
}

func pingLine(stats model.PingStats) string {
	line := fmt.Sprintf("%d/%d probes answered, %d/%d packets received (%.1f%% loss)",
		stats.Successes, stats.Probes, stats.Received, stats.Sent, stats.Loss*100)
	if stats.RTTSamples > 0 {
		line += fmt.Sprintf(", rtt min/mean/max %.3f/%.3f/%.3f ms", stats.MinRTT, stats.MeanRTT, stats.MaxRTT)
	}
	return line
}

func hopLine(hop model.HopRecord) string {
	if !hop.Reached {
		return fmt.Sprintf("%2d  (no report)", hop.Index)
	}
	responder := "*"
	if hop.Responder != "" {
		responder = hop.Responder
		if hop.Hostname != "" {
			responder = fmt.Sprintf("%s (%s)", hop.Hostname, hop.Responder)
		}
		if hop.ASN != "" {
			asn := hop.ASN
			if _, err := strconv.Atoi(asn); err == nil {
				asn = "AS" + asn
			}
			responder += fmt.Sprintf(" [%s %s]", asn, hop.ASOwner)
		}
	}
	return fmt.Sprintf("%2d  %s  %s", hop.Index, responder, strings.Join(hop.Values, " "))
}

func normalizeSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
