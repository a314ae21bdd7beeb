package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/athlete-monitor/internal/fetcher"
	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/scoring"
)

type rssSource struct {
	URL  string `xml:"url,attr"`
	Name string `xml:",chardata"`
}

type rssItem struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	PubDate     string    `xml:"pubDate"`
	Creator     string    `xml:"creator"`
	Source      rssSource `xml:"source"`
}

// GoogleNews searches the Google News RSS endpoint for the subject.
type GoogleNews struct {
	fetcher fetcher.Fetcher
	baseURL string
	limit   int
}

// NewGoogleNews creates the adapter. limit is the standard-depth cap.
func NewGoogleNews(f fetcher.Fetcher, baseURL string, limit int) *GoogleNews {
	return &GoogleNews{fetcher: f, baseURL: baseURL, limit: limit}
}

// Name implements Adapter.
func (g *GoogleNews) Name() string { return "google_news" }

// Fetch implements Adapter.
func (g *GoogleNews) Fetch(ctx context.Context, req Request) ([]model.RawItem, error) {
	body, err := g.fetcher.Download(ctx, g.searchURL(req.Subject))
	if err != nil {
		return nil, eris.Wrap(err, "google_news: download")
	}
	defer body.Close() //nolint:errcheck

	items, err := fetcher.ReadXML[rssItem](ctx, body, "item", req.Limit(g.limit))
	if err != nil && len(items) == 0 {
		return nil, eris.Wrap(err, "google_news: parse feed")
	}

	out := make([]model.RawItem, 0, len(items))
	for _, it := range items {
		origin := strings.TrimSpace(it.Source.Name)
		if origin == "" {
			origin = "Google News"
		}
		if d, ok := scoring.OriginDomain(it.Source.URL); ok {
			origin = d
		}
		out = append(out, model.RawItem{
			Kind:        model.KindPress,
			Origin:      origin,
			Title:       trimSourceSuffix(strings.TrimSpace(it.Title), it.Source.Name),
			Text:        stripHTML(it.Description),
			URL:         strings.TrimSpace(it.Link),
			PublishedAt: parseFeedTime(it.PubDate),
		})
	}
	return out, nil
}

func (g *GoogleNews) searchURL(s model.Subject) string {
	q := fmt.Sprintf("%q", s.Name)
	if s.Club != "" {
		q += " " + s.Club
	}
	v := url.Values{}
	v.Set("q", q)
	v.Set("hl", "es")
	v.Set("gl", "ES")
	v.Set("ceid", "ES:es")
	return g.baseURL + "?" + v.Encode()
}

// trimSourceSuffix drops the " - Outlet" suffix Google appends to titles.
func trimSourceSuffix(title, source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return title
	}
	return strings.TrimSpace(strings.TrimSuffix(title, " - "+source))
}
