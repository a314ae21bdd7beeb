package model

import "time"

// AlertType identifies the rule that raised an alert.
type AlertType string

const (
	AlertNegativePress  AlertType = "negative_press"
	AlertNegativeSocial AlertType = "negative_social"
	AlertMediaVolume    AlertType = "media_volume"
	AlertTransferRumor  AlertType = "transfer_rumor"
	AlertInjury         AlertType = "injury"
	AlertControversy    AlertType = "controversy"
	AlertInactivity     AlertType = "inactivity"
)

// AlertSeverity orders alerts for display.
type AlertSeverity string

const (
	AlertSeverityHigh   AlertSeverity = "high"
	AlertSeverityMedium AlertSeverity = "medium"
	AlertSeverityLow    AlertSeverity = "low"
)

// Alert is a raised signal for a subject.
type Alert struct {
	ID        string         `json:"id"`
	SubjectID string         `json:"subject_id"`
	ScanRunID string         `json:"scan_run_id,omitempty"`
	Type      AlertType      `json:"type"`
	Severity  AlertSeverity  `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Evidence  map[string]any `json:"evidence,omitempty"`
	Read      bool           `json:"read"`
	Dismissed bool           `json:"dismissed"`
	CreatedAt time.Time      `json:"created_at"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	SubjectID        string
	UnreadOnly       bool
	IncludeDismissed bool
	Limit            int
}
