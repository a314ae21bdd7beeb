package classify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/athlete-monitor/internal/model"
)

const classifySystemTemplate = `You are an OSINT analyst specialised in professional football.
You are analysing content about the player %s (club: %s). Most content is in Spanish.

For EACH numbered item return a JSON object with:
- index: the item number shown in brackets
- relevant: true if the item is about THIS player, false if it is about someone with a similar name or unrelated
- sentiment: number from -1.0 (very negative) to 1.0 (very positive). Use 0 when relevant is false.
- sentiment_label: "positive", "neutral" or "negative"
- topics: detected topics, ONLY from: %s
- brands: brands or sponsors mentioned (Nike, Adidas, Puma...). Empty array when none.

RELEVANCE RULES:
- An item that names a club other than %s and does not name %s explicitly is NOT relevant
- Players with a similar name at another club are NOT relevant
- When in doubt, mark relevant: true

SENTIMENT RULES:
- Be objective and precise
- Criticism of sporting performance is negative, praise is positive
- Informative news without emotional charge is neutral, including plain transfer rumours
- Controversies and conflicts are negative
- Wins, goals and good performances are positive

Respond ONLY with a JSON array, no extra text. Example:
[{"index": 0, "relevant": true, "sentiment": 0.3, "sentiment_label": "positive", "topics": ["performance"], "brands": []}]`

const narrativeSystemTemplate = `You are a reputation-risk analyst for a football agency monitoring %s (club: %s).
You receive a digest of the player's recent coverage, one numbered line per item.

Group the coverage into storylines and detect weak early signals. Respond ONLY with a JSON object:
{"risk_score": 0-100, "summary": "2-3 sentences",
 "narratives": [{"title": "...", "description": "...", "category": "%s",
   "severity": "critical|high|medium|low", "trend": "escalating|stable|declining",
   "item_refs": [0, 3], "sources": ["marca.com"], "recommendation": "..."}],
 "early_signals": [{"signal": "...", "source": "...", "likelihood": "low|medium|high"}]}

Rules:
- category must be one of the listed values
- only report storylines supported by at least one item; cite them in item_refs
- compare with the previous narratives when given and set trend accordingly
- risk_score reflects reputational exposure, 0 is none and 100 is a crisis`

const itemLineRunes = 300

func classifySystemPrompt(s SubjectContext) string {
	name, club := orUnknown(s.Name), orUnknown(s.Club)
	topics := make([]string, len(model.Topics))
	for i, t := range model.Topics {
		topics[i] = string(t)
	}
	return fmt.Sprintf(classifySystemTemplate, name, club, strings.Join(topics, ", "), club, name)
}

func narrativeSystemPrompt(s SubjectContext) string {
	cats := make([]string, len(model.NarrativeCategories))
	for i, c := range model.NarrativeCategories {
		cats[i] = string(c)
	}
	return fmt.Sprintf(narrativeSystemTemplate, orUnknown(s.Name), orUnknown(s.Club), strings.Join(cats, "|"))
}

// batchPrompt renders one line per item: "[i] (origin) text".
func batchPrompt(batch []model.RawItem) string {
	var b strings.Builder
	for i, it := range batch {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] (%s) %s", i, it.Origin, Truncate(oneLine(classifyText(it)), itemLineRunes))
	}
	return b.String()
}

// classifyText prefers the title for press and the body for social posts.
func classifyText(it model.RawItem) string {
	if it.Title != "" && it.Kind == model.KindPress {
		return it.Title
	}
	return it.Body()
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
