package scoring

import (
	"strings"
)

const (
	minCredibility     = 1.0
	maxCredibility     = 10.0
	defaultCredibility = 5.0
)

// defaultCredibilityTable weights origins 1-10. Keys are registrable domains
// or platform labels.
var defaultCredibilityTable = map[string]float64{
	// National sports press
	"marca.com":          8,
	"as.com":             8,
	"mundodeportivo.com": 8,
	"sport.es":           7,
	"relevo.com":         7,
	"elpais.com":         9,
	"elmundo.es":         8,
	"abc.es":             8,
	"lavanguardia.com":   8,
	"elconfidencial.com": 8,
	"cadenaser.com":      8,
	"cope.es":            7,
	"rtve.es":            9,
	"efe.com":            9,

	// International
	"bbc.co.uk":         9,
	"bbc.com":           9,
	"theguardian.com":   9,
	"espn.com":          8,
	"skysports.com":     8,
	"lequipe.fr":        8,
	"gazzetta.it":       8,
	"goal.com":          6,
	"transfermarkt.com": 7,
	"transfermarkt.es":  7,
	"fichajes.net":      3,
	"todofichajes.com":  3,

	// Platforms
	"google news": 6,
	"twitter":     4,
	"x":           4,
	"instagram":   4,
	"tiktok":      3,
	"youtube":     4,
	"reddit":      4,
	"telegram":    3,
}

// Credibility maps an item's origin to a weight in [1,10].
type Credibility struct {
	table map[string]float64
	def   float64
}

// NewCredibility layers overrides on the built-in table. A non-positive
// def keeps the built-in default of 5.
func NewCredibility(overrides map[string]float64, def float64) *Credibility {
	table := make(map[string]float64, len(defaultCredibilityTable)+len(overrides))
	for k, v := range defaultCredibilityTable {
		table[k] = v
	}
	for k, v := range overrides {
		table[normalizeOrigin(k)] = clamp(v, minCredibility, maxCredibility)
	}
	if def <= 0 {
		def = defaultCredibility
	}
	return &Credibility{table: table, def: clamp(def, minCredibility, maxCredibility)}
}

// DefaultCredibility returns the built-in table.
func DefaultCredibility() *Credibility {
	return NewCredibility(nil, 0)
}

// Weight looks up origin by its exact label first, then by the registrable
// domain of origin and of fallbackURL.
func (c *Credibility) Weight(origin, fallbackURL string) float64 {
	if w, ok := c.table[normalizeOrigin(origin)]; ok {
		return w
	}
	for _, candidate := range []string{origin, fallbackURL} {
		if d, ok := OriginDomain(candidate); ok {
			if w, ok := c.table[d]; ok {
				return w
			}
		}
	}
	return c.def
}

func normalizeOrigin(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "www.")
}
