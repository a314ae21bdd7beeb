package sources

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/fetcher"
	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/scoring"
)

// PressFeeds reads configured outlet RSS feeds and keeps the items that
// mention the subject's last name.
type PressFeeds struct {
	fetcher fetcher.Fetcher
	feeds   []string
	limit   int
}

// NewPressFeeds creates the adapter. limit caps matches across all feeds.
func NewPressFeeds(f fetcher.Fetcher, feeds []string, limit int) *PressFeeds {
	return &PressFeeds{fetcher: f, feeds: feeds, limit: limit}
}

// Name implements Adapter.
func (p *PressFeeds) Name() string { return "press_feeds" }

// Fetch implements Adapter. A failing feed is skipped; the adapter only
// errors when every feed failed.
func (p *PressFeeds) Fetch(ctx context.Context, req Request) ([]model.RawItem, error) {
	needle := req.Subject.LastName()
	if needle == "" || len(p.feeds) == 0 {
		return nil, nil
	}
	limit := req.Limit(p.limit)

	var (
		out      []model.RawItem
		failures int
		lastErr  error
	)
	for _, feedURL := range p.feeds {
		if limit > 0 && len(out) >= limit {
			break
		}
		items, err := p.readFeed(ctx, feedURL)
		if err != nil {
			failures++
			lastErr = err
			zap.L().Warn("press_feeds: feed failed", zap.String("feed", feedURL), zap.Error(err))
			continue
		}
		for _, it := range items {
			if !mentions(it.Title+" "+it.Text, needle) {
				continue
			}
			out = append(out, it)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}

	if failures == len(p.feeds) {
		return nil, eris.Wrap(lastErr, "press_feeds: all feeds failed")
	}
	return out, nil
}

func (p *PressFeeds) readFeed(ctx context.Context, feedURL string) ([]model.RawItem, error) {
	body, err := p.fetcher.Download(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	items, err := fetcher.ReadXML[rssItem](ctx, body, "item", 0)
	if err != nil && len(items) == 0 {
		return nil, eris.Wrap(err, "press_feeds: parse feed")
	}

	feedOrigin, _ := scoring.OriginDomain(feedURL)
	out := make([]model.RawItem, 0, len(items))
	for _, it := range items {
		link := strings.TrimSpace(it.Link)
		origin, ok := scoring.OriginDomain(link)
		if !ok {
			origin = feedOrigin
		}
		out = append(out, model.RawItem{
			Kind:        model.KindPress,
			Origin:      origin,
			Author:      strings.TrimSpace(it.Creator),
			Title:       strings.TrimSpace(it.Title),
			Text:        stripHTML(it.Description),
			URL:         link,
			PublishedAt: parseFeedTime(it.PubDate),
		})
	}
	return out, nil
}
