// Package classify turns raw items into sentiment- and topic-tagged records
// and synthesizes narratives from a subject's recent coverage.
package classify

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/athlete-monitor/internal/model"
)

// MaxBatchSize caps the items sent in one classification call.
const MaxBatchSize = 30

// ErrMalformed is returned when a model response cannot be parsed.
var ErrMalformed = eris.New("classify: malformed response")

// SubjectContext names the subject an item must be about to be relevant.
type SubjectContext struct {
	Name string
	Club string
}

// NarrativeSet is a parsed synthesis response.
type NarrativeSet struct {
	RiskScore    float64
	Summary      string
	Narratives   []model.Narrative
	EarlySignals []model.EarlySignal
}

// Gateway is the LLM boundary. Classify returns one classification per
// input item in input order.
type Gateway interface {
	Classify(ctx context.Context, batch []model.RawItem, subject SubjectContext) ([]model.Classification, error)
	SynthesizeNarratives(ctx context.Context, digest string, subject SubjectContext) (*NarrativeSet, error)
}

// Completer runs a free-form prompt. Summary and weekly report writers use it.
type Completer interface {
	Complete(ctx context.Context, phase, prompt string, maxTokens int64) (string, error)
}
