package model

import (
	"strings"
	"time"
)

// NarrativeCategory is the closed set of storyline categories.
type NarrativeCategory string

const (
	CategoryPersonalReputation NarrativeCategory = "personal_reputation"
	CategoryLegal              NarrativeCategory = "legal"
	CategoryPerformance        NarrativeCategory = "performance"
	CategoryTransfer           NarrativeCategory = "transfer"
	CategoryInjury             NarrativeCategory = "injury"
	CategoryDiscipline         NarrativeCategory = "discipline"
	CategoryCommercial         NarrativeCategory = "commercial"
	CategoryPublicImage        NarrativeCategory = "public_image"
)

// NarrativeCategories lists the valid categories.
var NarrativeCategories = []NarrativeCategory{
	CategoryPersonalReputation, CategoryLegal, CategoryPerformance, CategoryTransfer,
	CategoryInjury, CategoryDiscipline, CategoryCommercial, CategoryPublicImage,
}

// Severity is the ordered narrative severity: critical > high > medium > low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a sortable rank, higher is more severe. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Trend is the direction of a narrative against the previous report.
type Trend string

const (
	TrendEscalating Trend = "escalating"
	TrendStable     Trend = "stable"
	TrendDeclining  Trend = "declining"
)

// ParseCategory validates a category, accepting the legacy Spanish labels.
func ParseCategory(raw string) (NarrativeCategory, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range NarrativeCategories {
		if string(c) == s {
			return c, true
		}
	}
	switch s {
	case "reputacion_personal":
		return CategoryPersonalReputation, true
	case "rendimiento":
		return CategoryPerformance, true
	case "fichaje":
		return CategoryTransfer, true
	case "lesion":
		return CategoryInjury, true
	case "disciplina":
		return CategoryDiscipline, true
	case "comercial":
		return CategoryCommercial, true
	case "imagen_publica":
		return CategoryPublicImage, true
	}
	return "", false
}

// ParseSeverity validates a severity, accepting the legacy Spanish labels.
func ParseSeverity(raw string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "critico", "crítico":
		return SeverityCritical, true
	case "high", "alto":
		return SeverityHigh, true
	case "medium", "medio":
		return SeverityMedium, true
	case "low", "bajo":
		return SeverityLow, true
	}
	return "", false
}

// ParseTrend validates a trend tag. Unknown values map to stable.
func ParseTrend(raw string) Trend {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "escalating", "escalando", "creciente":
		return TrendEscalating
	case "declining", "decreciente", "bajando":
		return TrendDeclining
	}
	return TrendStable
}

// Narrative is one synthesized storyline.
type Narrative struct {
	ID             string            `json:"id,omitempty"`
	ReportID       string            `json:"report_id,omitempty"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Category       NarrativeCategory `json:"category"`
	Severity       Severity          `json:"severity"`
	Trend          Trend             `json:"trend"`
	ItemRefs       []int             `json:"item_refs,omitempty"`
	Sources        []string          `json:"sources,omitempty"`
	Recommendation string            `json:"recommendation,omitempty"`
}

// EarlySignal is a weak signal worth watching.
type EarlySignal struct {
	Signal     string `json:"signal"`
	Source     string `json:"source,omitempty"`
	Likelihood string `json:"likelihood,omitempty"`
}

// IntelligenceReport is the second-pass synthesis for a scan.
type IntelligenceReport struct {
	ID           string        `json:"id"`
	SubjectID    string        `json:"subject_id"`
	ScanRunID    string        `json:"scan_run_id"`
	RiskScore    float64       `json:"risk_score"`
	Summary      string        `json:"summary"`
	Narratives   []Narrative   `json:"narratives"`
	EarlySignals []EarlySignal `json:"early_signals"`
	ItemCount    int           `json:"item_count"`
	CreatedAt    time.Time     `json:"created_at"`
}

// RiskLevel buckets a risk score for digests.
func RiskLevel(score float64) string {
	switch {
	case score >= 70:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "low"
	}
}

// Recommendation is the weekly report verdict.
type Recommendation string

const (
	RecommendBuy     Recommendation = "buy"
	RecommendSell    Recommendation = "sell"
	RecommendRenew   Recommendation = "renew"
	RecommendMonitor Recommendation = "monitor"
	RecommendCaution Recommendation = "caution"
)

// ParseRecommendation validates a verdict, defaulting to monitor.
func ParseRecommendation(raw string) Recommendation {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "comprar":
		return RecommendBuy
	case "sell", "vender":
		return RecommendSell
	case "renew", "renovar":
		return RecommendRenew
	case "caution", "precaucion", "precaución":
		return RecommendCaution
	}
	return RecommendMonitor
}

// WeeklyReport is the per-subject weekly verdict.
type WeeklyReport struct {
	ID             string         `json:"id"`
	SubjectID      string         `json:"subject_id"`
	WeekStart      time.Time      `json:"week_start"`
	Recommendation Recommendation `json:"recommendation"`
	Risks          []string       `json:"risks"`
	Opportunities  []string       `json:"opportunities"`
	Justification  string         `json:"justification"`
	ImageIndex     float64        `json:"image_index"`
	RiskScore      float64        `json:"risk_score"`
	CreatedAt      time.Time      `json:"created_at"`
}
