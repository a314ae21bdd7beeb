package sources

import (
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/athlete-monitor/internal/fetcher"
	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/scoring"
)

const postSelector = "article.post, div.post, li.post"

// ProfileSite reads the subject's profile/stats page: table rows become
// profile fields, listed posts become subject posts.
type ProfileSite struct {
	fetcher       fetcher.Fetcher
	fieldSelector string
	limit         int
}

// NewProfileSite creates the adapter. fieldSelector matches the table rows
// holding profile fields.
func NewProfileSite(f fetcher.Fetcher, fieldSelector string, limit int) *ProfileSite {
	return &ProfileSite{fetcher: f, fieldSelector: fieldSelector, limit: limit}
}

// Name implements Adapter.
func (p *ProfileSite) Name() string { return "profile" }

// Fetch implements Adapter. Subjects without a profile URL yield nothing.
func (p *ProfileSite) Fetch(ctx context.Context, req Request) ([]model.RawItem, error) {
	pageURL := req.Subject.Handle(model.PlatformProfile)
	if pageURL == "" {
		return nil, nil
	}
	doc, base, err := p.load(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	origin, ok := scoring.OriginDomain(pageURL)
	if !ok {
		origin = "profile"
	}
	limit := req.Limit(p.limit)

	var out []model.RawItem
	doc.Find(postSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		text := s.Find(".post-text").First().Text()
		if strings.TrimSpace(text) == "" {
			text = s.Text()
		}
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			return true
		}

		it := model.RawItem{
			Kind:     model.KindSubjectPost,
			Origin:   origin,
			Author:   req.Subject.Name,
			Text:     text,
			Likes:    intAttr(s, "data-likes"),
			Shares:   intAttr(s, "data-shares"),
			Comments: intAttr(s, "data-comments"),
			Views:    intAttr(s, "data-views"),
		}
		if href, ok := s.Find("a[href]").First().Attr("href"); ok {
			it.URL = resolve(base, href)
		}
		if dt, ok := s.Find("time[datetime]").First().Attr("datetime"); ok {
			it.PublishedAt = parseFeedTime(dt)
		}
		out = append(out, it)
		return true
	})
	return out, nil
}

// FetchProfile implements ProfileSource.
func (p *ProfileSite) FetchProfile(ctx context.Context, subject model.Subject) (map[string]string, error) {
	pageURL := subject.Handle(model.PlatformProfile)
	if pageURL == "" || p.fieldSelector == "" {
		return nil, nil
	}
	doc, _, err := p.load(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string)
	doc.Find(p.fieldSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() < 2 {
			return
		}
		key := fieldKey(cells.First().Text())
		val := strings.Join(strings.Fields(cells.Last().Text()), " ")
		if key != "" && val != "" {
			fields[key] = val
		}
	})
	return fields, nil
}

func (p *ProfileSite) load(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, eris.Wrap(err, "profile: parse url")
	}
	body, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, nil, eris.Wrap(err, "profile: fetch page")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, eris.Wrap(err, "profile: parse page")
	}
	return doc, base, nil
}

// fieldKey normalizes a row label: "Goals scored:" -> "goals_scored".
func fieldKey(label string) string {
	label = strings.TrimSuffix(strings.TrimSpace(label), ":")
	return strings.Join(strings.Fields(strings.ToLower(label)), "_")
}

func intAttr(s *goquery.Selection, name string) int64 {
	v, ok := s.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

var _ ProfileSource = (*ProfileSite)(nil)
