package scan

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/classify"
	"github.com/sells-group/athlete-monitor/internal/model"
)

const (
	summaryMaxTokens = 400
	summaryTopTags   = 8
)

// executiveSummary writes the report paragraph. Without a completer, or
// when the call fails, a templated summary is used.
func executiveSummary(ctx context.Context, llm classify.Completer, subject model.Subject, cur model.Summary, prev *model.Summary, index model.ImageIndex, topics, brands []model.TagCount) string {
	if llm != nil {
		text, err := llm.Complete(ctx, "summary", summaryPrompt(subject, cur, prev, index, topics, brands), summaryMaxTokens)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		zap.L().Warn("scan: executive summary failed, using template",
			zap.String("subject", subject.Name),
			zap.Error(err),
		)
	}
	return templateSummary(cur, prev, index, topics)
}

func summaryPrompt(subject model.Subject, cur model.Summary, prev *model.Summary, index model.ImageIndex, topics, brands []model.TagCount) string {
	var b strings.Builder
	name := subject.Name
	if subject.Club != "" {
		name += " (" + subject.Club + ")"
	}
	fmt.Fprintf(&b, "Write a short executive summary (4-5 sentences) of the current media situation of %s.\n\n", name)
	b.WriteString("Scan data:\n")
	fmt.Fprintf(&b, "- Press articles: %d (mean sentiment %+.2f, %d negative)\n", cur.PressCount, cur.PressSentiment, cur.PressNegative)
	fmt.Fprintf(&b, "- Social mentions: %d (mean sentiment %+.2f, %d negative)\n", cur.SocialCount, cur.SocialSentiment, cur.SocialNegative)
	fmt.Fprintf(&b, "- Subject posts: %d\n", cur.PostCount)
	fmt.Fprintf(&b, "- Image index: %.1f/100\n", index.Score)
	fmt.Fprintf(&b, "- Topics: %s\n", tagList(topics, "none"))
	fmt.Fprintf(&b, "- Brands: %s\n", tagList(brands, "none"))

	if prev != nil {
		b.WriteString("\nCompared with the previous scan:\n")
		fmt.Fprintf(&b, "- Press articles: %d -> %d\n", prev.PressCount, cur.PressCount)
		fmt.Fprintf(&b, "- Press sentiment: %+.2f -> %+.2f\n", prev.PressSentiment, cur.PressSentiment)
		fmt.Fprintf(&b, "- Social mentions: %d -> %d\n", prev.SocialCount, cur.SocialCount)
		fmt.Fprintf(&b, "- Social sentiment: %+.2f -> %+.2f\n", prev.SocialSentiment, cur.SocialSentiment)
	}

	b.WriteString("\nWrite in Spanish, professional and direct. If there is a comparison, mention the relevant changes. Plain text only.")
	return b.String()
}

func templateSummary(cur model.Summary, prev *model.Summary, index model.ImageIndex, topics []model.TagCount) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d press articles (sentiment %+.2f) and %d social mentions (sentiment %+.2f). Image index %.1f/100.",
		cur.PressCount, cur.PressSentiment, cur.SocialCount, cur.SocialSentiment, index.Score)
	if len(topics) > 0 {
		fmt.Fprintf(&b, " Main topics: %s.", tagList(topics, ""))
	}
	if prev != nil {
		d := cur.Diff(prev)
		fmt.Fprintf(&b, " Since the previous scan: press %+d, social %+d, press sentiment %+.2f, social sentiment %+.2f.",
			d.PressCount, d.SocialCount, d.PressSentiment, d.SocialSentiment)
	}
	return b.String()
}

func tagList(tags []model.TagCount, empty string) string {
	if len(tags) == 0 {
		return empty
	}
	parts := make([]string, 0, min(len(tags), summaryTopTags))
	for _, t := range tags[:min(len(tags), summaryTopTags)] {
		parts = append(parts, fmt.Sprintf("%s: %d", t.Tag, t.Count))
	}
	return strings.Join(parts, ", ")
}
