package classify

import (
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/model"
)

// cleanJSON strips markdown fences and any prose around the outermost JSON
// value delimited by openCh and closeCh.
func cleanJSON(text string, openCh, closeCh byte) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.IndexByte(text, openCh)
	end := strings.LastIndexByte(text, closeCh)
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// ExtractObject returns the outermost JSON object in a model response.
func ExtractObject(text string) string {
	return cleanJSON(text, '{', '}')
}

// parseClassifications aligns a response array with a batch of n items.
// Elements carry an "index"; elements without one fall back to their
// position. Items the response does not cover keep the default variant.
func parseClassifications(text string, n int) ([]model.Classification, error) {
	out := make([]model.Classification, n)
	for i := range out {
		out[i] = model.DefaultClassification()
	}

	raw := cleanJSON(text, '[', ']')
	if !gjson.Valid(raw) {
		return out, ErrMalformed
	}
	arr := gjson.Parse(raw)
	if !arr.IsArray() {
		return out, ErrMalformed
	}

	for pos, el := range arr.Array() {
		if !el.IsObject() {
			continue
		}
		idx := pos
		if v := el.Get("index"); v.Exists() {
			idx = int(v.Int())
		}
		if idx < 0 || idx >= n {
			zap.L().Debug("classify: response index out of range", zap.Int("index", idx), zap.Int("batch", n))
			continue
		}
		out[idx] = classificationFrom(el)
	}
	return out, nil
}

func classificationFrom(el gjson.Result) model.Classification {
	c := model.Classification{
		Relevant:  true,
		Sentiment: el.Get("sentiment").Float(),
		Scored:    true,
	}
	if v := el.Get("relevant"); v.Exists() {
		c.Relevant = v.Bool()
	}
	if label, ok := model.ParseLabel(el.Get("sentiment_label").String()); ok {
		c.Label = label
	}

	seen := make(map[model.Topic]bool)
	for _, t := range el.Get("topics").Array() {
		topic, ok := model.ParseTopic(t.String())
		if !ok || seen[topic] {
			continue
		}
		seen[topic] = true
		c.Topics = append(c.Topics, topic)
	}

	brandSeen := make(map[string]bool)
	for _, b := range el.Get("brands").Array() {
		brand := strings.TrimSpace(b.String())
		key := strings.ToLower(brand)
		if brand == "" || brandSeen[key] {
			continue
		}
		brandSeen[key] = true
		c.Brands = append(c.Brands, brand)
	}

	return c.Normalize()
}

// parseNarratives reads a synthesis response. Narratives outside the closed
// category or severity sets are dropped; the risk score is clamped to 0-100.
func parseNarratives(text string) (*NarrativeSet, error) {
	raw := cleanJSON(text, '{', '}')
	if !gjson.Valid(raw) {
		return nil, ErrMalformed
	}
	obj := gjson.Parse(raw)
	if !obj.IsObject() || !obj.Get("narratives").IsArray() {
		return nil, ErrMalformed
	}

	set := &NarrativeSet{
		RiskScore:    clamp(obj.Get("risk_score").Float(), 0, 100),
		Summary:      strings.TrimSpace(obj.Get("summary").String()),
		Narratives:   []model.Narrative{},
		EarlySignals: []model.EarlySignal{},
	}

	for _, n := range obj.Get("narratives").Array() {
		title := strings.TrimSpace(n.Get("title").String())
		cat, catOK := model.ParseCategory(n.Get("category").String())
		sev, sevOK := model.ParseSeverity(n.Get("severity").String())
		if title == "" || !catOK || !sevOK {
			zap.L().Debug("classify: dropping invalid narrative",
				zap.String("title", title),
				zap.String("category", n.Get("category").String()),
				zap.String("severity", n.Get("severity").String()),
			)
			continue
		}

		nar := model.Narrative{
			Title:          title,
			Description:    strings.TrimSpace(n.Get("description").String()),
			Category:       cat,
			Severity:       sev,
			Trend:          model.ParseTrend(n.Get("trend").String()),
			Recommendation: strings.TrimSpace(n.Get("recommendation").String()),
		}
		for _, r := range n.Get("item_refs").Array() {
			nar.ItemRefs = append(nar.ItemRefs, int(r.Int()))
		}
		for _, s := range n.Get("sources").Array() {
			if v := strings.TrimSpace(s.String()); v != "" {
				nar.Sources = append(nar.Sources, v)
			}
		}
		set.Narratives = append(set.Narratives, nar)
	}

	for _, s := range obj.Get("early_signals").Array() {
		signal := strings.TrimSpace(s.Get("signal").String())
		if signal == "" {
			continue
		}
		set.EarlySignals = append(set.EarlySignals, model.EarlySignal{
			Signal:     signal,
			Source:     strings.TrimSpace(s.Get("source").String()),
			Likelihood: strings.ToLower(strings.TrimSpace(s.Get("likelihood").String())),
		})
	}

	return set, nil
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
