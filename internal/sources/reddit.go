package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/fetcher"
	"github.com/sells-group/athlete-monitor/internal/model"
)

// Reddit searches site-wide and within configured subreddits.
type Reddit struct {
	fetcher    fetcher.Fetcher
	baseURL    string
	subreddits []string
	limit      int
}

// NewReddit creates the adapter. limit caps items per search endpoint.
func NewReddit(f fetcher.Fetcher, baseURL string, subreddits []string, limit int) *Reddit {
	return &Reddit{
		fetcher:    f,
		baseURL:    strings.TrimRight(baseURL, "/"),
		subreddits: subreddits,
		limit:      limit,
	}
}

// Name implements Adapter.
func (r *Reddit) Name() string { return "reddit" }

// Fetch implements Adapter. The subject's reddit handle, when set, replaces
// the name as the search query.
func (r *Reddit) Fetch(ctx context.Context, req Request) ([]model.RawItem, error) {
	query := req.Subject.Handle(model.PlatformReddit)
	if query == "" {
		query = fmt.Sprintf("%q", req.Subject.Name)
	}
	limit := req.Limit(r.limit)

	endpoints := []string{r.searchURL("", query, limit)}
	for _, sub := range r.subreddits {
		endpoints = append(endpoints, r.searchURL(sub, query, limit))
	}

	seen := make(map[string]bool)
	var (
		out      []model.RawItem
		failures int
		lastErr  error
	)
	for _, endpoint := range endpoints {
		body, err := r.fetcher.Fetch(ctx, endpoint)
		if err != nil {
			failures++
			lastErr = err
			zap.L().Warn("reddit: search failed", zap.String("url", endpoint), zap.Error(err))
			continue
		}
		for _, it := range parseRedditListing(body, r.baseURL) {
			if seen[it.URL] {
				continue
			}
			seen[it.URL] = true
			out = append(out, it)
		}
	}

	if failures == len(endpoints) {
		return nil, eris.Wrap(lastErr, "reddit: all searches failed")
	}
	return out, nil
}

func (r *Reddit) searchURL(subreddit, query string, limit int) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("sort", "new")
	v.Set("t", "month")
	v.Set("limit", strconv.Itoa(min(limit, 100)))
	v.Set("raw_json", "1")
	if subreddit == "" {
		return r.baseURL + "/search.json?" + v.Encode()
	}
	v.Set("restrict_sr", "on")
	return r.baseURL + "/r/" + url.PathEscape(subreddit) + "/search.json?" + v.Encode()
}

// parseRedditListing reads a search listing. Posts without a permalink are
// skipped.
func parseRedditListing(body []byte, baseURL string) []model.RawItem {
	var out []model.RawItem
	gjson.GetBytes(body, "data.children.#.data").ForEach(func(_, post gjson.Result) bool {
		permalink := post.Get("permalink").String()
		if permalink == "" {
			return true
		}
		it := model.RawItem{
			Kind:     model.KindSocial,
			Origin:   "reddit",
			Author:   post.Get("author").String(),
			Title:    strings.TrimSpace(post.Get("title").String()),
			Text:     strings.TrimSpace(post.Get("selftext").String()),
			URL:      baseURL + permalink,
			Likes:    post.Get("score").Int(),
			Comments: post.Get("num_comments").Int(),
		}
		if created := post.Get("created_utc").Float(); created > 0 {
			ts := time.Unix(int64(created), 0).UTC()
			it.PublishedAt = &ts
		}
		out = append(out, it)
		return true
	})
	return out
}
