// Package dedup filters fetched items against identifiers already stored
// for a subject.
package dedup

import (
	"strings"

	"github.com/sells-group/athlete-monitor/internal/model"
)

// Gate holds the known URLs and content hashes for one subject. It is
// advisory: the store's unique indexes are the final guard.
type Gate struct {
	urls   map[string]struct{}
	hashes map[string]struct{}
}

// NewGate builds a gate from stored identifiers.
func NewGate(urls, hashes []string) *Gate {
	g := &Gate{
		urls:   make(map[string]struct{}, len(urls)),
		hashes: make(map[string]struct{}, len(hashes)),
	}
	for _, u := range urls {
		if u = normalizeURL(u); u != "" {
			g.urls[u] = struct{}{}
		}
	}
	for _, h := range hashes {
		g.hashes[h] = struct{}{}
	}
	return g
}

// Seen reports whether the item is already known. An item with a URL is
// matched on URL alone; an item without one is matched on content hash.
func (g *Gate) Seen(it model.RawItem) bool {
	if u := normalizeURL(it.URL); u != "" {
		_, ok := g.urls[u]
		return ok
	}
	_, ok := g.hashes[it.ContentHash()]
	return ok
}

// Filter returns the unseen items in order and remembers them, so
// duplicates within the batch are dropped too.
func (g *Gate) Filter(items []model.RawItem) []model.RawItem {
	out := make([]model.RawItem, 0, len(items))
	for _, it := range items {
		if g.Seen(it) {
			continue
		}
		g.add(it)
		out = append(out, it)
	}
	return out
}

// Len returns the number of known identifiers.
func (g *Gate) Len() int {
	return len(g.urls) + len(g.hashes)
}

func (g *Gate) add(it model.RawItem) {
	if u := normalizeURL(it.URL); u != "" {
		g.urls[u] = struct{}{}
		return
	}
	g.hashes[it.ContentHash()] = struct{}{}
}

func normalizeURL(u string) string {
	return strings.TrimSpace(u)
}
