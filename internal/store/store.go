// Package store persists subjects, scanned items, scan runs, reports and
// alerts.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/athlete-monitor/internal/model"
)

// ErrNotFound is returned when a record looked up by ID does not exist.
var ErrNotFound = eris.New("store: not found")

// ScanRunFilter narrows scan run listings.
type ScanRunFilter struct {
	SubjectID string `json:"subject_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Identifiers are the dedup keys already stored for a subject.
type Identifiers struct {
	URLs   []string
	Hashes []string
}

// Store defines the persistence interface for the monitor.
type Store interface {
	// Subjects
	UpsertSubject(ctx context.Context, in model.SubjectInput) (*model.Subject, error)
	GetSubject(ctx context.Context, id string) (*model.Subject, error)
	GetSubjectByName(ctx context.Context, name string) (*model.Subject, error)
	ListSubjects(ctx context.Context) ([]model.Subject, error)

	// Items
	ExistingIdentifiers(ctx context.Context, subjectID string) (*Identifiers, error)
	InsertItems(ctx context.Context, subjectID, scanRunID string, items []model.ClassifiedItem) ([]model.ClassifiedItem, error)
	RecentItems(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.ClassifiedItem, error)
	ScoringHistory(ctx context.Context, subjectID string) ([]model.ClassifiedItem, error)
	LastSubjectPostAt(ctx context.Context, subjectID string) (*time.Time, error)
	CurrentSummary(ctx context.Context, subjectID string) (model.Summary, error)
	GetPreviousSummary(ctx context.Context, subjectID string) (*model.Summary, error)

	// Scan runs
	OpenScanRun(ctx context.Context, subjectID string, trigger model.Trigger, deep bool) (*model.ScanRun, error)
	CloseScanRun(ctx context.Context, run *model.ScanRun) error
	CompletedScanCount(ctx context.Context, subjectID string) (int, error)
	ListScanRuns(ctx context.Context, filter ScanRunFilter) ([]model.ScanRun, error)

	// Reports
	SaveReport(ctx context.Context, r *model.ScanReport) error
	GetLatestReport(ctx context.Context, subjectID string) (*model.ScanReport, error)
	SaveIntelligenceReport(ctx context.Context, r *model.IntelligenceReport) error
	GetLastIntelligenceReport(ctx context.Context, subjectID string) (*model.IntelligenceReport, error)
	SaveWeeklyReport(ctx context.Context, r *model.WeeklyReport) error
	GetLatestWeeklyReport(ctx context.Context, subjectID string) (*model.WeeklyReport, error)

	// Alerts
	InsertAlert(ctx context.Context, a *model.Alert) error
	ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)
	MarkAlertRead(ctx context.Context, id string) error
	DismissAlert(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// summarize folds stored items into a Summary. Sentiment averages only
// count classified items.
func summarize(items []model.ClassifiedItem) model.Summary {
	var s model.Summary
	var pressSum, socialSum float64
	var pressScored, socialScored int
	for _, it := range items {
		switch it.Kind {
		case model.KindPress:
			s.PressCount++
			if it.IsNegative() {
				s.PressNegative++
			}
			if it.Scored {
				pressSum += it.Sentiment
				pressScored++
			}
		case model.KindSocial:
			s.SocialCount++
			if it.IsNegative() {
				s.SocialNegative++
			}
			if it.Scored {
				socialSum += it.Sentiment
				socialScored++
			}
		case model.KindSubjectPost:
			s.PostCount++
		}
	}
	if pressScored > 0 {
		s.PressSentiment = pressSum / float64(pressScored)
	}
	if socialScored > 0 {
		s.SocialSentiment = socialSum / float64(socialScored)
	}
	return s
}

func alertLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
