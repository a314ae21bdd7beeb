package model

import (
	"cmp"
	"slices"
	"time"
)

// ScanStatus represents the state of a scan run.
type ScanStatus string

const (
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusError     ScanStatus = "error"
)

// Trigger records who started a scan.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// SourceCount tallies one source kind through the scan stages.
type SourceCount struct {
	Fetched  int `json:"fetched"`
	New      int `json:"new"`
	Relevant int `json:"relevant"`
	Inserted int `json:"inserted"`
}

// ScanRun is one execution of the scan pipeline for a subject.
type ScanRun struct {
	ID         string                     `json:"id"`
	SubjectID  string                     `json:"subject_id"`
	Trigger    Trigger                    `json:"trigger"`
	Status     ScanStatus                 `json:"status"`
	Deep       bool                       `json:"deep"`
	Counts     map[SourceKind]SourceCount `json:"counts"`
	AlertCount int                        `json:"alert_count"`
	Error      string                     `json:"error,omitempty"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt *time.Time                 `json:"finished_at,omitempty"`
}

// TotalInserted sums inserted items across kinds.
func (r ScanRun) TotalInserted() int {
	n := 0
	for _, c := range r.Counts {
		n += c.Inserted
	}
	return n
}

// Summary aggregates a subject's stored history. It is snapshotted before a
// scan so the report can show what moved.
type Summary struct {
	PressCount      int     `json:"press_count"`
	SocialCount     int     `json:"social_count"`
	PostCount       int     `json:"post_count"`
	PressSentiment  float64 `json:"press_sentiment"`
	SocialSentiment float64 `json:"social_sentiment"`
	PressNegative   int     `json:"press_negative"`
	SocialNegative  int     `json:"social_negative"`
}

// SummaryDelta is the difference between two summaries.
type SummaryDelta struct {
	PressCount      int     `json:"press_count"`
	SocialCount     int     `json:"social_count"`
	PressSentiment  float64 `json:"press_sentiment"`
	SocialSentiment float64 `json:"social_sentiment"`
}

// Diff returns s minus prev. A nil prev yields a zero delta.
func (s Summary) Diff(prev *Summary) SummaryDelta {
	if prev == nil {
		return SummaryDelta{}
	}
	return SummaryDelta{
		PressCount:      s.PressCount - prev.PressCount,
		SocialCount:     s.SocialCount - prev.SocialCount,
		PressSentiment:  s.PressSentiment - prev.PressSentiment,
		SocialSentiment: s.SocialSentiment - prev.SocialSentiment,
	}
}

// ImageIndex is the composite 0-100 reputation score and its components.
type ImageIndex struct {
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
	TotalItems int                `json:"total_items"`
	NegRatio   float64            `json:"neg_ratio"`
}

// TagCount is a topic or brand with its frequency.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// ScanReport is the derived artifact of a completed scan run.
type ScanReport struct {
	ID         string       `json:"id"`
	ScanRunID  string       `json:"scan_run_id"`
	SubjectID  string       `json:"subject_id"`
	Summary    string       `json:"summary"`
	Topics     []TagCount   `json:"topics"`
	Brands     []TagCount   `json:"brands"`
	Current    Summary      `json:"current"`
	Delta      SummaryDelta `json:"delta"`
	ImageIndex ImageIndex   `json:"image_index"`
	CreatedAt  time.Time    `json:"created_at"`
}

// CountTags tallies topics and brands across items, most frequent first.
// Ties sort by tag.
func CountTags(items []ClassifiedItem) (topics, brands []TagCount) {
	tc := make(map[string]int)
	bc := make(map[string]int)
	for _, it := range items {
		for _, t := range it.Topics {
			tc[string(t)]++
		}
		for _, b := range it.Brands {
			bc[b]++
		}
	}
	return sortedCounts(tc), sortedCounts(bc)
}

func sortedCounts(m map[string]int) []TagCount {
	out := make([]TagCount, 0, len(m))
	for tag, n := range m {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	slices.SortFunc(out, func(a, b TagCount) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	return out
}
