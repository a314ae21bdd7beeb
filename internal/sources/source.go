// Package sources holds the adapters that fetch raw items about a subject.
package sources

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/athlete-monitor/internal/model"
)

// Request is what an adapter needs for one scan.
type Request struct {
	Subject model.Subject
	// Multiplier scales every fetch limit; above 1 on a subject's first scan.
	Multiplier int
}

// Limit scales a standard-depth limit by the request multiplier.
func (r Request) Limit(base int) int {
	if r.Multiplier > 1 {
		return base * r.Multiplier
	}
	return base
}

// Adapter fetches items from one source. Partial unavailability returns
// fewer items rather than an error.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]model.RawItem, error)
}

// ProfileSource is implemented by adapters that also read structured
// profile fields for the subject.
type ProfileSource interface {
	FetchProfile(ctx context.Context, subject model.Subject) (map[string]string, error)
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

// parseFeedTime parses the date formats seen in RSS feeds. Unparseable or
// empty values yield nil.
func parseFeedTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// stripHTML returns the visible text of an HTML fragment.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// foldAccents lowercases s and removes diacritics, so "Pérez" matches
// "PEREZ".
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// mentions reports whether text mentions name, ignoring case and accents.
func mentions(text, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return strings.Contains(foldAccents(text), foldAccents(name))
}
