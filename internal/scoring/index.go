// Package scoring computes the composite image index from a subject's
// stored history.
package scoring

import (
	"math"

	"github.com/sells-group/athlete-monitor/internal/model"
)

// Component keys, also used in configuration.
const (
	ComponentVolume        = "volume"
	ComponentPress         = "press"
	ComponentSocial        = "social"
	ComponentEngagement    = "engagement"
	ComponentNoControversy = "no_controversy"
)

const (
	neutralPrior         = 50.0
	volumeSaturation     = 100.0
	engagementSaturation = 0.05
)

// Weights are the component weights of the index.
type Weights struct {
	Volume        float64
	Press         float64
	Social        float64
	Engagement    float64
	NoControversy float64
}

// DefaultWeights returns .20/.25/.25/.15/.15.
func DefaultWeights() Weights {
	return Weights{Volume: 0.20, Press: 0.25, Social: 0.25, Engagement: 0.15, NoControversy: 0.15}
}

// WeightsFromMap reads weights by component key. Missing keys keep their
// default; negative values count as zero.
func WeightsFromMap(m map[string]float64) Weights {
	w := DefaultWeights()
	set := func(key string, dst *float64) {
		if v, ok := m[key]; ok {
			*dst = math.Max(0, v)
		}
	}
	set(ComponentVolume, &w.Volume)
	set(ComponentPress, &w.Press)
	set(ComponentSocial, &w.Social)
	set(ComponentEngagement, &w.Engagement)
	set(ComponentNoControversy, &w.NoControversy)
	return w
}

func (w Weights) sum() float64 {
	return w.Volume + w.Press + w.Social + w.Engagement + w.NoControversy
}

// Normalized scales the weights to sum to 1. All-zero weights fall back to
// the defaults.
func (w Weights) Normalized() Weights {
	total := w.sum()
	if total <= 0 {
		return DefaultWeights()
	}
	if math.Abs(total-1) < 1e-9 {
		return w
	}
	return Weights{
		Volume:        w.Volume / total,
		Press:         w.Press / total,
		Social:        w.Social / total,
		Engagement:    w.Engagement / total,
		NoControversy: w.NoControversy / total,
	}
}

// Engine computes the image index with fixed weights and credibility.
type Engine struct {
	weights Weights
	cred    *Credibility
}

// NewEngine creates an Engine. A nil cred uses the built-in table.
func NewEngine(w Weights, cred *Credibility) *Engine {
	if cred == nil {
		cred = DefaultCredibility()
	}
	return &Engine{weights: w.Normalized(), cred: cred}
}

// Compute scores the full history of relevant items. Sentiment and
// controversy only count scored items; unscored items still add volume.
func (e *Engine) Compute(items []model.ClassifiedItem) model.ImageIndex {
	var (
		total                   int
		pressSum, pressWeight   float64
		socialSum, socialWeight float64
		negWeight, labelWeight  float64
		engSum                  float64
		engCount                int
	)

	for _, it := range items {
		if !it.Relevant {
			continue
		}
		switch it.Kind {
		case model.KindSubjectPost:
			engSum += math.Max(0, it.EngagementRate)
			engCount++
			continue
		case model.KindPress, model.KindSocial:
			total++
		default:
			continue
		}
		if !it.Scored {
			continue
		}

		w := e.cred.Weight(it.Origin, it.URL)
		if it.Kind == model.KindPress {
			pressSum += it.Sentiment * w
			pressWeight += w
		} else {
			socialSum += it.Sentiment * w
			socialWeight += w
		}
		labelWeight += w
		if it.IsNegative() {
			negWeight += w
		}
	}

	volume := math.Min(100, math.Log10(math.Max(float64(total), 1))/math.Log10(volumeSaturation)*100)

	press := neutralPrior
	if pressWeight > 0 {
		press = (pressSum/pressWeight + 1) / 2 * 100
	}
	social := neutralPrior
	if socialWeight > 0 {
		social = (socialSum/socialWeight + 1) / 2 * 100
	}

	engagement := neutralPrior
	if engCount > 0 {
		engagement = math.Min(100, engSum/float64(engCount)/engagementSaturation*100)
	}

	negRatio := 0.0
	if labelWeight > 0 {
		negRatio = negWeight / labelWeight
	}
	noControversy := math.Max(0, 100-negRatio*200)

	components := map[string]float64{
		ComponentVolume:        clamp(volume, 0, 100),
		ComponentPress:         clamp(press, 0, 100),
		ComponentSocial:        clamp(social, 0, 100),
		ComponentEngagement:    clamp(engagement, 0, 100),
		ComponentNoControversy: clamp(noControversy, 0, 100),
	}

	w := e.weights
	score := components[ComponentVolume]*w.Volume +
		components[ComponentPress]*w.Press +
		components[ComponentSocial]*w.Social +
		components[ComponentEngagement]*w.Engagement +
		components[ComponentNoControversy]*w.NoControversy

	for k, v := range components {
		components[k] = round1(v)
	}

	return model.ImageIndex{
		Score:      round1(clamp(score, 0, 100)),
		Components: components,
		TotalItems: total,
		NegRatio:   math.Round(negRatio*1000) / 1000,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
