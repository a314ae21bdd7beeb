package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/athlete-monitor/internal/model"
)

func TestFormatAlertsList(t *testing.T) {
	created := time.Date(2026, 3, 10, 7, 5, 0, 0, time.UTC)
	alerts := []model.Alert{
		{ID: "a1", SubjectID: "subj-1", Type: model.AlertNegativePress, Severity: model.AlertSeverityHigh, Title: "3 negative press articles", CreatedAt: created},
		{ID: "a2", SubjectID: "subj-1", Type: model.AlertInactivity, Severity: model.AlertSeverityLow, Title: "No posts in 10 days", Read: true, CreatedAt: created},
		{ID: "a3", SubjectID: "subj-9", Type: model.AlertInjury, Severity: model.AlertSeverityMedium, Title: "Injury reports", Read: true, Dismissed: true, CreatedAt: created},
	}

	var buf bytes.Buffer
	formatAlertsList(&buf, alerts, map[string]string{"subj-1": "Pedro Pérez"})
	out := buf.String()

	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "Pedro Pérez")
	assert.Contains(t, out, "negative_press")
	assert.Contains(t, out, "new")
	assert.Contains(t, out, "read")
	assert.Contains(t, out, "dismissed")
	assert.Contains(t, out, "subj-9")
	assert.Contains(t, out, "2026-03-10 07:05")
}
