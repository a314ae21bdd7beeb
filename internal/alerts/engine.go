// Package alerts evaluates threshold rules over the items a scan found.
package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/athlete-monitor/internal/config"
	"github.com/sells-group/athlete-monitor/internal/model"
)

const maxEvidenceTitles = 5

// Thresholds parameterize the rules.
type Thresholds struct {
	NegativePressMin    int
	NegativeSocialRatio float64
	NegativeSocialMin   int
	MediaVolumeMin      int
	ControversyMin      int
	InactivityDays      int
}

// DefaultThresholds returns the stock rule thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NegativePressMin:    3,
		NegativeSocialRatio: 0.4,
		NegativeSocialMin:   5,
		MediaVolumeMin:      15,
		ControversyMin:      2,
		InactivityDays:      7,
	}
}

// ThresholdsFromConfig fills unset config values with defaults.
func ThresholdsFromConfig(cfg config.AlertsConfig) Thresholds {
	t := DefaultThresholds()
	if cfg.NegativePressMin > 0 {
		t.NegativePressMin = cfg.NegativePressMin
	}
	if cfg.NegativeSocialRatio > 0 {
		t.NegativeSocialRatio = cfg.NegativeSocialRatio
	}
	if cfg.NegativeSocialMin > 0 {
		t.NegativeSocialMin = cfg.NegativeSocialMin
	}
	if cfg.MediaVolumeMin > 0 {
		t.MediaVolumeMin = cfg.MediaVolumeMin
	}
	if cfg.ControversyMin > 0 {
		t.ControversyMin = cfg.ControversyMin
	}
	if cfg.InactivityDays > 0 {
		t.InactivityDays = cfg.InactivityDays
	}
	return t
}

// Engine is a stateless rule evaluator. Every rule fires at most once per
// call; repeated firings across scans are not suppressed.
type Engine struct {
	t Thresholds
}

// NewEngine creates an Engine.
func NewEngine(t Thresholds) *Engine {
	return &Engine{t: t}
}

// Evaluate runs every rule over a scan's new relevant items. lastPost is the
// newest persisted subject post, nil when the subject never posted.
func (e *Engine) Evaluate(items []model.ClassifiedItem, lastPost *time.Time, now time.Time) []model.Alert {
	var press, social []model.ClassifiedItem
	for _, it := range items {
		if !it.Relevant {
			continue
		}
		switch it.Kind {
		case model.KindPress:
			press = append(press, it)
		case model.KindSocial:
			social = append(social, it)
		}
	}

	var out []model.Alert
	add := func(a *model.Alert) {
		if a != nil {
			out = append(out, *a)
		}
	}

	add(e.negativePress(press))
	add(e.negativeSocial(social))
	add(e.mediaVolume(press))
	add(e.topicAlert(items, model.TopicTransfer))
	add(e.topicAlert(items, model.TopicInjury))
	add(e.controversy(append(press, social...)))
	add(e.inactivity(lastPost, now))

	for i := range out {
		out[i].CreatedAt = now
	}
	return out
}

func (e *Engine) negativePress(press []model.ClassifiedItem) *model.Alert {
	neg := filter(press, model.ClassifiedItem.IsNegative)
	if len(neg) < e.t.NegativePressMin {
		return nil
	}
	return &model.Alert{
		Type:     model.AlertNegativePress,
		Severity: model.AlertSeverityHigh,
		Title:    fmt.Sprintf("%d negative press items detected", len(neg)),
		Message:  "A high volume of negative press coverage was detected",
		Evidence: map[string]any{
			"count":   len(neg),
			"titles":  titles(neg),
			"sources": sources(neg),
		},
	}
}

func (e *Engine) negativeSocial(social []model.ClassifiedItem) *model.Alert {
	if len(social) <= e.t.NegativeSocialMin {
		return nil
	}
	neg := filter(social, model.ClassifiedItem.IsNegative)
	ratio := float64(len(neg)) / float64(len(social))
	if ratio <= e.t.NegativeSocialRatio {
		return nil
	}
	return &model.Alert{
		Type:     model.AlertNegativeSocial,
		Severity: model.AlertSeverityHigh,
		Title:    "Negative sentiment dominates social mentions",
		Message:  fmt.Sprintf("%d of %d mentions are negative", len(neg), len(social)),
		Evidence: map[string]any{
			"negative":       len(neg),
			"total":          len(social),
			"negative_ratio": math.Round(ratio*100) / 100,
		},
	}
}

func (e *Engine) mediaVolume(press []model.ClassifiedItem) *model.Alert {
	if len(press) <= e.t.MediaVolumeMin {
		return nil
	}
	return &model.Alert{
		Type:     model.AlertMediaVolume,
		Severity: model.AlertSeverityMedium,
		Title:    fmt.Sprintf("High media presence: %d press items", len(press)),
		Message:  "The subject is being covered heavily in the press",
		Evidence: map[string]any{"count": len(press)},
	}
}

var topicAlerts = map[model.Topic]struct {
	typ     model.AlertType
	title   string
	message string
}{
	model.TopicTransfer: {model.AlertTransferRumor, "Transfer rumour detected (%d items)", "Coverage about transfers or moves was detected"},
	model.TopicInjury:   {model.AlertInjury, "Possible injury detected (%d items)", "Coverage about injuries was detected"},
}

func (e *Engine) topicAlert(items []model.ClassifiedItem, topic model.Topic) *model.Alert {
	hits := filter(items, func(it model.ClassifiedItem) bool { return it.Relevant && it.HasTopic(topic) })
	if len(hits) == 0 {
		return nil
	}
	rule := topicAlerts[topic]
	return &model.Alert{
		Type:     rule.typ,
		Severity: model.AlertSeverityHigh,
		Title:    fmt.Sprintf(rule.title, len(hits)),
		Message:  rule.message,
		Evidence: map[string]any{
			"count":  len(hits),
			"titles": titles(hits),
		},
	}
}

func (e *Engine) controversy(items []model.ClassifiedItem) *model.Alert {
	hits := filter(items, func(it model.ClassifiedItem) bool { return it.HasTopic(model.TopicControversy) })
	if len(hits) < e.t.ControversyMin {
		return nil
	}
	return &model.Alert{
		Type:     model.AlertControversy,
		Severity: model.AlertSeverityHigh,
		Title:    fmt.Sprintf("Controversy detected (%d mentions)", len(hits)),
		Message:  "Multiple mentions of controversy or conflict were detected",
		Evidence: map[string]any{
			"count":  len(hits),
			"titles": titles(hits),
		},
	}
}

func (e *Engine) inactivity(lastPost *time.Time, now time.Time) *model.Alert {
	if lastPost == nil {
		return nil
	}
	days := int(now.Sub(*lastPost).Hours() / 24)
	if days < e.t.InactivityDays {
		return nil
	}
	return &model.Alert{
		Type:     model.AlertInactivity,
		Severity: model.AlertSeverityMedium,
		Title:    fmt.Sprintf("Social inactivity: %d days without posting", days),
		Message:  "The subject has not posted on social media for over a week",
		Evidence: map[string]any{
			"days_inactive": days,
			"last_post":     lastPost.UTC().Format(time.RFC3339),
		},
	}
}

func filter(items []model.ClassifiedItem, keep func(model.ClassifiedItem) bool) []model.ClassifiedItem {
	var out []model.ClassifiedItem
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func titles(items []model.ClassifiedItem) []string {
	out := make([]string, 0, min(len(items), maxEvidenceTitles))
	for _, it := range items[:min(len(items), maxEvidenceTitles)] {
		t := it.Title
		if t == "" {
			t = it.Body()
		}
		out = append(out, t)
	}
	return out
}

func sources(items []model.ClassifiedItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		if it.Origin == "" || seen[it.Origin] {
			continue
		}
		seen[it.Origin] = true
		out = append(out, it.Origin)
	}
	return out
}
