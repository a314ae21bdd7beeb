package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/athlete-monitor/internal/model"
)

var severityMarker = map[model.AlertSeverity]string{
	model.AlertSeverityHigh:   "🔴",
	model.AlertSeverityMedium: "🟠",
	model.AlertSeverityLow:    "🟡",
}

var riskMarker = map[string]string{
	"high":   "🔴",
	"medium": "🟠",
	"low":    "🟢",
}

// ScanMessage summarizes a finished scan run and the alerts it raised.
func ScanMessage(subject model.Subject, run *model.ScanRun, index model.ImageIndex, alerts []model.Alert, summary string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Image index: %.1f/100\n", index.Score)
	for _, kind := range model.SourceKinds {
		c := run.Counts[kind]
		fmt.Fprintf(&b, "%s: %d fetched, %d new, %d stored\n", kind, c.Fetched, c.New, c.Inserted)
	}
	if summary != "" {
		b.WriteString("\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	if len(alerts) > 0 {
		fmt.Fprintf(&b, "\nAlerts (%d):\n", len(alerts))
		for _, a := range alerts {
			fmt.Fprintf(&b, "%s %s\n", severityMarker[a.Severity], a.Title)
		}
	}

	return Message{
		Kind:      KindScan,
		SubjectID: subject.ID,
		Title:     fmt.Sprintf("Scan %s: %s", run.Status, subject.Name),
		Text:      strings.TrimRight(b.String(), "\n"),
		Data: map[string]any{
			"scan_run_id": run.ID,
			"image_index": index.Score,
			"alerts":      len(alerts),
			"inserted":    run.TotalInserted(),
		},
	}
}

// DigestEntry is one subject line of the daily digest.
type DigestEntry struct {
	Subject    string
	ImageIndex *float64
	RiskScore  *float64
}

// DigestMessage lists each subject's latest risk score with its level.
func DigestMessage(entries []DigestEntry, now time.Time) Message {
	var b strings.Builder
	for _, e := range entries {
		line := "⚪ " + e.Subject + ": no report yet"
		if e.RiskScore != nil {
			level := model.RiskLevel(*e.RiskScore)
			line = fmt.Sprintf("%s %s: risk %.0f (%s)", riskMarker[level], e.Subject, *e.RiskScore, level)
		}
		if e.ImageIndex != nil {
			line += fmt.Sprintf(", image %.1f", *e.ImageIndex)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return Message{
		Kind:      KindDigest,
		Title:     "Daily digest " + now.Format("2006-01-02"),
		Text:      strings.TrimRight(b.String(), "\n"),
		Data:      map[string]any{"subjects": len(entries)},
		CreatedAt: now,
	}
}

// WeeklyMessage renders a weekly recommendation.
func WeeklyMessage(subject model.Subject, r *model.WeeklyReport) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Recommendation: %s\n", strings.ToUpper(string(r.Recommendation)))
	fmt.Fprintf(&b, "Image index: %.1f, risk: %.0f\n", r.ImageIndex, r.RiskScore)
	writeList(&b, "Risks", r.Risks)
	writeList(&b, "Opportunities", r.Opportunities)
	if r.Justification != "" {
		b.WriteString("\n")
		b.WriteString(r.Justification)
	}
	return Message{
		Kind:      KindWeekly,
		SubjectID: subject.ID,
		Title:     fmt.Sprintf("Weekly report: %s (week of %s)", subject.Name, r.WeekStart.Format("2006-01-02")),
		Text:      strings.TrimRight(b.String(), "\n"),
		Data:      map[string]any{"recommendation": string(r.Recommendation)},
	}
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
