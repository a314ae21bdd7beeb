package cost

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/config"
	"github.com/sells-group/athlete-monitor/pkg/anthropic"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64
	Output        float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// Calculator computes costs for Claude usage.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator creates a Calculator with the given per-model rates.
func NewCalculator(rates map[string]ModelRate) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig layers configured pricing over the defaults.
func FromConfig(cfg config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for model, p := range cfg.Anthropic {
		rates[model] = ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return NewCalculator(rates)
}

// Claude computes the cost of one call. Unknown models cost 0.
func (c *Calculator) Claude(model string, u anthropic.TokenUsage) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}

	inCost := (float64(u.InputTokens) / 1e6) * rate.Input
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output
	cwCost := (float64(u.CacheCreationInputTokens) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(u.CacheReadInputTokens) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() map[string]ModelRate {
	return map[string]ModelRate{
		"claude-haiku-4-5-20251001": {
			Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
		"claude-sonnet-4-5-20250929": {
			Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
	}
}

// Tracker accumulates usage and cost across concurrent calls of one scan.
type Tracker struct {
	calc *Calculator

	mu    sync.Mutex
	usage anthropic.TokenUsage
	usd   float64
}

// NewTracker creates a tracker backed by calc.
func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{calc: calc}
}

// Record adds one call's usage and logs its attributed cost.
func (t *Tracker) Record(model, phase string, u anthropic.TokenUsage) {
	if t == nil {
		return
	}
	c := t.calc.Claude(model, u)

	t.mu.Lock()
	t.usage.Add(u)
	t.usd += c
	t.mu.Unlock()

	zap.L().Debug("cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", c),
	)
}

// Totals returns the accumulated usage and cost.
func (t *Tracker) Totals() (anthropic.TokenUsage, float64) {
	if t == nil {
		return anthropic.TokenUsage{}, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage, t.usd
}

type trackerKey struct{}

// WithTracker attaches a tracker to ctx so gateway calls made on behalf of
// one scan accumulate into it.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// TrackerFrom returns the tracker attached to ctx, or nil. A nil tracker
// ignores Record calls.
func TrackerFrom(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}
