package classify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/athlete-monitor/internal/config"
	"github.com/sells-group/athlete-monitor/internal/model"
)

// Stats counts batches across one ClassifyAll call.
type Stats struct {
	Batches int `json:"batches"`
	Failed  int `json:"failed"`
}

// Classifier runs the gateway over a scan's new items.
type Classifier struct {
	gateway   Gateway
	batchSize int
	timeout   time.Duration
}

// NewClassifier creates a Classifier. Batch size is clamped to 1..30.
func NewClassifier(gateway Gateway, cfg config.ClassifyConfig) *Classifier {
	size := cfg.BatchSize
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Classifier{gateway: gateway, batchSize: size, timeout: timeout}
}

// ClassifyAll classifies every item. Kinds run in parallel; batches within a
// kind run in order. A failed batch gives each of its items the default
// unscored variant, so the output always has one entry per input item.
func (c *Classifier) ClassifyAll(ctx context.Context, subject SubjectContext, byKind map[model.SourceKind][]model.RawItem) (map[model.SourceKind][]model.ClassifiedItem, Stats) {
	out := make(map[model.SourceKind][]model.ClassifiedItem, len(byKind))
	var (
		mu    sync.Mutex
		stats Stats
	)

	g, gctx := errgroup.WithContext(ctx)
	for kind, items := range byKind {
		if len(items) == 0 {
			continue
		}
		g.Go(func() error {
			classified, st := c.classifyKind(gctx, subject, kind, items)
			mu.Lock()
			out[kind] = classified
			stats.Batches += st.Batches
			stats.Failed += st.Failed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out, stats
}

func (c *Classifier) classifyKind(ctx context.Context, subject SubjectContext, kind model.SourceKind, items []model.RawItem) ([]model.ClassifiedItem, Stats) {
	log := zap.L().With(zap.String("subject", subject.Name), zap.String("kind", string(kind)))
	out := make([]model.ClassifiedItem, 0, len(items))
	var st Stats

	for start := 0; start < len(items); start += c.batchSize {
		end := min(start+c.batchSize, len(items))
		batch := items[start:end]
		st.Batches++

		results, err := c.classifyBatch(ctx, subject, batch)
		if err != nil {
			st.Failed++
			log.Warn("classify: batch failed, applying defaults",
				zap.Int("offset", start),
				zap.Int("size", len(batch)),
				zap.Error(err),
			)
			results = nil
		}

		for i, it := range batch {
			cls := model.DefaultClassification()
			if i < len(results) {
				cls = results[i]
			}
			out = append(out, model.ClassifiedItem{RawItem: it, Classification: cls})
		}
	}

	log.Debug("classify: kind complete", zap.Int("items", len(items)), zap.Int("failed_batches", st.Failed))
	return out, st
}

func (c *Classifier) classifyBatch(ctx context.Context, subject SubjectContext, batch []model.RawItem) ([]model.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.gateway.Classify(ctx, batch, subject)
}

// Relevant drops items classified as not about the subject.
func Relevant(items []model.ClassifiedItem) []model.ClassifiedItem {
	out := make([]model.ClassifiedItem, 0, len(items))
	for _, it := range items {
		if it.Relevant {
			out = append(out, it)
		}
	}
	return out
}
