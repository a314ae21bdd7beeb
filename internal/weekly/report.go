// Package weekly writes the per-subject weekly recommendation.
package weekly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/classify"
	"github.com/sells-group/athlete-monitor/internal/model"
)

const (
	maxTokens    = 800
	lookbackDays = 7
	maxItems     = 500
	topTags      = 8
	topNarrative = 3
)

// Store is the persistence the generator needs.
type Store interface {
	RecentItems(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.ClassifiedItem, error)
	GetLatestReport(ctx context.Context, subjectID string) (*model.ScanReport, error)
	GetLastIntelligenceReport(ctx context.Context, subjectID string) (*model.IntelligenceReport, error)
	SaveWeeklyReport(ctx context.Context, r *model.WeeklyReport) error
}

// Generator asks the model for a weekly verdict and stores it.
type Generator struct {
	store Store
	llm   classify.Completer
	now   func() time.Time
}

// NewGenerator creates a Generator.
func NewGenerator(st Store, llm classify.Completer) *Generator {
	return &Generator{store: st, llm: llm, now: time.Now}
}

// Generate builds, saves and returns the subject's report for the current
// week.
func (g *Generator) Generate(ctx context.Context, subject model.Subject) (*model.WeeklyReport, error) {
	now := g.now().UTC()

	items, err := g.store.RecentItems(ctx, subject.ID, now.AddDate(0, 0, -lookbackDays), maxItems)
	if err != nil {
		return nil, eris.Wrap(err, "weekly: load recent items")
	}
	latest, err := g.store.GetLatestReport(ctx, subject.ID)
	if err != nil {
		return nil, eris.Wrap(err, "weekly: load latest report")
	}
	intel, err := g.store.GetLastIntelligenceReport(ctx, subject.ID)
	if err != nil {
		return nil, eris.Wrap(err, "weekly: load intelligence report")
	}

	text, err := g.llm.Complete(ctx, "weekly", buildPrompt(subject, items, latest, intel), maxTokens)
	if err != nil {
		return nil, eris.Wrap(err, "weekly: generate")
	}

	r, err := parseReport(text)
	if err != nil {
		return nil, err
	}
	r.SubjectID = subject.ID
	r.WeekStart = WeekStart(now)
	if latest != nil {
		r.ImageIndex = latest.ImageIndex.Score
	}
	if intel != nil {
		r.RiskScore = intel.RiskScore
	}

	if err := g.store.SaveWeeklyReport(ctx, r); err != nil {
		return nil, eris.Wrap(err, "weekly: save report")
	}
	zap.L().Info("weekly: report saved",
		zap.String("subject", subject.Name),
		zap.String("recommendation", string(r.Recommendation)),
	)
	return r, nil
}

// WeekStart returns Monday 00:00 UTC of t's week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func buildPrompt(subject model.Subject, items []model.ClassifiedItem, latest *model.ScanReport, intel *model.IntelligenceReport) string {
	var b strings.Builder
	club := subject.Club
	if club == "" {
		club = "unknown club"
	}
	fmt.Fprintf(&b, "You are a scouting analyst at a professional football agency. Write an ACTIONABLE weekly report on %s (%s).\n\n", subject.Name, club)

	b.WriteString("SUBJECT DATA:\n")
	if latest != nil {
		idx := latest.ImageIndex
		fmt.Fprintf(&b, "- Image index: %.1f/100\n", idx.Score)
		for _, k := range []string{"volume", "press", "social", "engagement", "no_controversy"} {
			if v, ok := idx.Components[k]; ok {
				fmt.Fprintf(&b, "  - %s: %.1f/100\n", k, v)
			}
		}
		cur := latest.Current
		fmt.Fprintf(&b, "- Press articles (total): %d, social mentions: %d, subject posts: %d\n", cur.PressCount, cur.SocialCount, cur.PostCount)
	} else {
		b.WriteString("- Image index: not available yet\n")
	}

	topics, brands := model.CountTags(items)
	neg := 0
	for _, it := range items {
		if it.IsNegative() {
			neg++
		}
	}
	fmt.Fprintf(&b, "- Items this week: %d (%d negative)\n", len(items), neg)
	fmt.Fprintf(&b, "- Topics: %s\n", tagList(topics))
	fmt.Fprintf(&b, "- Brands: %s\n", tagList(brands))

	if intel != nil && len(intel.Narratives) > 0 {
		fmt.Fprintf(&b, "- Risk score: %.0f/100\n", intel.RiskScore)
		b.WriteString("- Active narratives:\n")
		for _, n := range intel.Narratives[:min(len(intel.Narratives), topNarrative)] {
			fmt.Fprintf(&b, "  - [%s/%s] %s\n", n.Category, n.Severity, n.Title)
		}
	}

	b.WriteString(`
PRODUCE:
1. summary: 3-4 sentences on the subject's current media situation
2. risks: concrete risks (controversies, injuries, exit rumors, social inactivity)
3. opportunities: positives to leverage (engagement, positive coverage, market interest)
4. recommendation: exactly one of buy, sell, renew, monitor, caution
   - buy: high index and a market opportunity
   - sell: serious problems, or the market is hot in our favor
   - renew: the subject is in good form and tied to the club
   - monitor: no clear signal, keep watching
   - caution: active risks that need attention
5. justification: 1-2 sentences explaining the recommendation

Reply with JSON only, exactly this shape:
{"summary": "...", "risks": ["..."], "opportunities": ["..."], "recommendation": "monitor", "justification": "..."}

Write the text fields in Spanish, in the professional tone of a sports representation agency.`)
	return b.String()
}

// parseReport reads the model's JSON verdict. The legacy Spanish keys are
// accepted too.
func parseReport(text string) (*model.WeeklyReport, error) {
	raw := classify.ExtractObject(text)
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return nil, eris.Wrap(classify.ErrMalformed, "weekly: parse report")
	}
	obj := gjson.Parse(raw)
	field := func(en, es string) gjson.Result {
		if v := obj.Get(en); v.Exists() {
			return v
		}
		return obj.Get(es)
	}

	r := &model.WeeklyReport{
		Recommendation: model.ParseRecommendation(field("recommendation", "recomendacion").String()),
		Risks:          stringList(field("risks", "riesgos")),
		Opportunities:  stringList(field("opportunities", "oportunidades")),
	}
	summary := strings.TrimSpace(field("summary", "resumen").String())
	justification := strings.TrimSpace(field("justification", "justificacion").String())
	r.Justification = strings.TrimSpace(summary + "\n\n" + justification)
	return r, nil
}

func stringList(v gjson.Result) []string {
	out := []string{}
	for _, s := range v.Array() {
		if t := strings.TrimSpace(s.String()); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func tagList(tags []model.TagCount) string {
	if len(tags) == 0 {
		return "none"
	}
	parts := make([]string, 0, topTags)
	for _, t := range tags[:min(len(tags), topTags)] {
		parts = append(parts, fmt.Sprintf("%s: %d", t.Tag, t.Count))
	}
	return strings.Join(parts, ", ")
}
