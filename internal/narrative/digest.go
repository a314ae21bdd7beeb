package narrative

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/athlete-monitor/internal/classify"
	"github.com/sells-group/athlete-monitor/internal/model"
)

const (
	maxPreviousNarratives = 3
	digestTextRunes       = 240
	previousDescRunes     = 160
)

// BuildDigest renders the synthesis input: a sentiment header, optional
// performance context from the subject profile, the previous report's top
// narratives, then one line per item. items must be newest first; items
// past maxItems are dropped from the tail.
func BuildDigest(subject model.Subject, items []model.ClassifiedItem, prev *model.IntelligenceReport, maxItems int) string {
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s", subject.Name)
	if subject.Club != "" {
		fmt.Fprintf(&b, " (%s)", subject.Club)
	}
	b.WriteString("\n")
	writeDistribution(&b, items)

	if ctx := performanceContext(subject.Profile); ctx != "" {
		b.WriteString("Performance context: ")
		b.WriteString(ctx)
		b.WriteString("\n")
	}

	if top := topNarratives(prev); len(top) > 0 {
		b.WriteString("\nPrevious narratives:\n")
		for _, n := range top {
			fmt.Fprintf(&b, "- [%s/%s/%s] %s: %s\n", n.Category, n.Severity, n.Trend, n.Title,
				classify.Truncate(n.Description, previousDescRunes))
		}
	}

	b.WriteString("\nItems (newest first):\n")
	for i, it := range items {
		writeItem(&b, i, it)
	}
	return b.String()
}

func writeDistribution(b *strings.Builder, items []model.ClassifiedItem) {
	kinds := map[model.SourceKind]int{}
	labels := map[model.SentimentLabel]int{}
	for _, it := range items {
		kinds[it.Kind]++
		labels[it.Label]++
	}
	pct := func(n int) int {
		if len(items) == 0 {
			return 0
		}
		return n * 100 / len(items)
	}
	fmt.Fprintf(b, "Items: %d (press %d, social %d, subject posts %d)\n",
		len(items), kinds[model.KindPress], kinds[model.KindSocial], kinds[model.KindSubjectPost])
	fmt.Fprintf(b, "Sentiment: positive %d (%d%%), neutral %d (%d%%), negative %d (%d%%)\n",
		labels[model.LabelPositive], pct(labels[model.LabelPositive]),
		labels[model.LabelNeutral], pct(labels[model.LabelNeutral]),
		labels[model.LabelNegative], pct(labels[model.LabelNegative]))
}

func performanceContext(profile map[string]string) string {
	if len(profile) == 0 {
		return ""
	}
	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.TrimSpace(profile[k]); v != "" {
			parts = append(parts, k+": "+v)
		}
	}
	return strings.Join(parts, "; ")
}

// topNarratives returns up to three previous narratives, most severe first.
func topNarratives(prev *model.IntelligenceReport) []model.Narrative {
	if prev == nil || len(prev.Narratives) == 0 {
		return nil
	}
	top := append([]model.Narrative(nil), prev.Narratives...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Severity.Rank() > top[j].Severity.Rank()
	})
	if len(top) > maxPreviousNarratives {
		top = top[:maxPreviousNarratives]
	}
	return top
}

func writeItem(b *strings.Builder, i int, it model.ClassifiedItem) {
	text := it.Title
	if body := strings.TrimSpace(it.Text); body != "" && body != it.Title {
		if text != "" {
			text += ". "
		}
		text += body
	}
	text = strings.Join(strings.Fields(text), " ")

	fmt.Fprintf(b, "[%d] %s %s/%s (%s %+.2f)", i, it.Timestamp().UTC().Format("2006-01-02"),
		it.Kind, it.Origin, it.Label, it.Sentiment)
	if len(it.Topics) > 0 {
		tags := make([]string, len(it.Topics))
		for j, t := range it.Topics {
			tags[j] = string(t)
		}
		fmt.Fprintf(b, " [%s]", strings.Join(tags, ","))
	}
	b.WriteString(" ")
	b.WriteString(classify.Truncate(text, digestTextRunes))
	b.WriteString("\n")
}
