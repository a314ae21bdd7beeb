package sources

import (
	"github.com/sells-group/athlete-monitor/internal/config"
	"github.com/sells-group/athlete-monitor/internal/fetcher"
)

// NewAdapters builds the configured adapters in fan-out order. Sources
// without an endpoint are left out.
func NewAdapters(cfg *config.Config, f fetcher.Fetcher) []Adapter {
	var out []Adapter
	if cfg.Sources.GoogleNewsURL != "" {
		out = append(out, NewGoogleNews(f, cfg.Sources.GoogleNewsURL, cfg.Limits.GoogleNews))
	}
	if len(cfg.Sources.PressFeeds) > 0 {
		out = append(out, NewPressFeeds(f, cfg.Sources.PressFeeds, cfg.Limits.PressFeeds))
	}
	if cfg.Sources.RedditBaseURL != "" {
		out = append(out, NewReddit(f, cfg.Sources.RedditBaseURL, cfg.Sources.Subreddits, cfg.Limits.Reddit))
	}
	out = append(out, NewProfileSite(f, cfg.Sources.ProfileSelector, cfg.Limits.Profile))
	return out
}

// ProfileSources returns the adapters that can also read profile fields.
func ProfileSources(adapters []Adapter) []ProfileSource {
	var out []ProfileSource
	for _, a := range adapters {
		if p, ok := a.(ProfileSource); ok {
			out = append(out, p)
		}
	}
	return out
}
