package classify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/config"
	"github.com/sells-group/athlete-monitor/internal/cost"
	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/resilience"
	"github.com/sells-group/athlete-monitor/pkg/anthropic"
)

const (
	classifyTemperature  = 0.1
	narrativeTemperature = 0.2
	completeTemperature  = 0.3
)

// AnthropicGateway implements Gateway and Completer on the Messages API.
// Classification runs on the fast model, synthesis and free-form prompts on
// the stronger one.
type AnthropicGateway struct {
	client      anthropic.Client
	fastModel   string
	strongModel string
	classify    config.ClassifyConfig
	narrative   config.NarrativeConfig
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
}

// NewAnthropicGateway builds a gateway with retries per classify config and
// one breaker shared by every call.
func NewAnthropicGateway(client anthropic.Client, cfg *config.Config) *AnthropicGateway {
	retry := resilience.ForClassify(cfg.Classify)
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	return &AnthropicGateway{
		client:      client,
		fastModel:   cfg.Anthropic.HaikuModel,
		strongModel: cfg.Anthropic.SonnetModel,
		classify:    cfg.Classify,
		narrative:   cfg.Narrative,
		retry:       retry,
		breaker:     resilience.NewCircuitBreaker("anthropic", resilience.ForLLM()),
	}
}

// Classify sends one batch and aligns the response with it. Batches larger
// than MaxBatchSize are rejected. The caller owns the per-batch deadline.
func (g *AnthropicGateway) Classify(ctx context.Context, batch []model.RawItem, subject SubjectContext) ([]model.Classification, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > MaxBatchSize {
		return nil, eris.Errorf("classify: batch of %d exceeds %d", len(batch), MaxBatchSize)
	}

	text, err := g.call(ctx, "classify", g.fastModel, anthropic.MessageRequest{
		MaxTokens: g.classify.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(classifySystemPrompt(subject)),
		Messages:  []anthropic.Message{{Role: "user", Content: batchPrompt(batch)}},
	}, classifyTemperature, 0)
	if err != nil {
		return nil, err
	}

	out, err := parseClassifications(text, len(batch))
	if err != nil {
		return nil, eris.Wrap(err, "classify: parse batch")
	}
	return out, nil
}

// SynthesizeNarratives asks for storylines over a digest. A response that
// does not parse returns ErrMalformed.
func (g *AnthropicGateway) SynthesizeNarratives(ctx context.Context, digest string, subject SubjectContext) (*NarrativeSet, error) {
	text, err := g.call(ctx, "narrative", g.strongModel, anthropic.MessageRequest{
		MaxTokens: g.narrative.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(narrativeSystemPrompt(subject)),
		Messages:  []anthropic.Message{{Role: "user", Content: digest}},
	}, narrativeTemperature, g.narrative.TimeoutSecs)
	if err != nil {
		return nil, err
	}

	set, err := parseNarratives(text)
	if err != nil {
		return nil, eris.Wrap(err, "classify: parse narratives")
	}
	return set, nil
}

// Complete runs a single-turn prompt on the strong model.
func (g *AnthropicGateway) Complete(ctx context.Context, phase, prompt string, maxTokens int64) (string, error) {
	return g.call(ctx, phase, g.strongModel, anthropic.MessageRequest{
		MaxTokens: maxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	}, completeTemperature, g.classify.TimeoutSecs)
}

// call runs one request under a per-call timeout, retrying transient
// failures behind the breaker, and records usage on the scan's tracker.
func (g *AnthropicGateway) call(ctx context.Context, phase, modelName string, req anthropic.MessageRequest, temp float64, timeoutSecs int) (string, error) {
	req.Model = modelName
	req.Temperature = &temp
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1024
	}
	if timeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
		defer cancel()
	}

	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			r, err := g.client.CreateMessage(ctx, req)
			if err != nil {
				if status := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(status) {
					return nil, resilience.NewTransientError(err, status)
				}
				return nil, err
			}
			return r, nil
		})
	})
	if err != nil {
		return "", eris.Wrapf(err, "classify: %s call", phase)
	}

	cost.TrackerFrom(ctx).Record(modelName, phase, resp.Usage)
	if resp.StopReason == "max_tokens" {
		zap.L().Warn("classify: response truncated at max tokens",
			zap.String("phase", phase),
			zap.Int64("max_tokens", req.MaxTokens),
		)
	}
	return resp.Text(), nil
}
