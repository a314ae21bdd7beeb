// Package narrative groups a subject's recent coverage into storylines and
// keeps the latest intelligence report current.
package narrative

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/classify"
	"github.com/sells-group/athlete-monitor/internal/config"
	"github.com/sells-group/athlete-monitor/internal/model"
)

// Status is the outcome of one aggregation run.
type Status string

const (
	StatusDisabled     Status = "disabled"
	StatusTooFewItems  Status = "too_few_items"
	StatusMalformed    Status = "malformed"
	StatusUnavailable  Status = "unavailable"
	StatusKeptPrevious Status = "kept_previous"
	StatusSaved        Status = "saved"
)

// Store is the persistence the aggregator needs.
type Store interface {
	RecentItems(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.ClassifiedItem, error)
	GetLastIntelligenceReport(ctx context.Context, subjectID string) (*model.IntelligenceReport, error)
	SaveIntelligenceReport(ctx context.Context, r *model.IntelligenceReport) error
}

// Outcome describes what the run did. Report is the subject's current
// report after the run: the new one when saved, the previous one when kept.
type Outcome struct {
	Status    Status                    `json:"status"`
	ItemCount int                       `json:"item_count"`
	Report    *model.IntelligenceReport `json:"report,omitempty"`
}

// Aggregator runs the second-pass synthesis.
type Aggregator struct {
	store   Store
	gateway classify.Gateway
	cfg     config.NarrativeConfig
	now     func() time.Time
}

// NewAggregator creates an Aggregator. Zero limits take the defaults of
// 5 minimum items, 200 maximum items and a 7 day lookback.
func NewAggregator(st Store, gw classify.Gateway, cfg config.NarrativeConfig) *Aggregator {
	if cfg.MinItems <= 0 {
		cfg.MinItems = 5
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 200
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	return &Aggregator{store: st, gateway: gw, cfg: cfg, now: time.Now}
}

// Run synthesizes narratives for the subject's recent items. Store errors
// are returned; gateway failures and malformed responses skip the step and
// leave stored reports untouched.
func (a *Aggregator) Run(ctx context.Context, subject model.Subject, scanRunID string) (*Outcome, error) {
	log := zap.L().With(zap.String("subject", subject.Name), zap.String("run_id", scanRunID))

	if !a.cfg.Enabled {
		return &Outcome{Status: StatusDisabled}, nil
	}

	since := a.now().UTC().AddDate(0, 0, -a.cfg.LookbackDays)
	items, err := a.store.RecentItems(ctx, subject.ID, since, a.cfg.MaxItems)
	if err != nil {
		return nil, eris.Wrap(err, "narrative: load recent items")
	}
	if len(items) < a.cfg.MinItems {
		log.Info("narrative: skipped, too few recent items",
			zap.Int("items", len(items)),
			zap.Int("min_items", a.cfg.MinItems),
		)
		return &Outcome{Status: StatusTooFewItems, ItemCount: len(items)}, nil
	}

	prev, err := a.store.GetLastIntelligenceReport(ctx, subject.ID)
	if err != nil {
		return nil, eris.Wrap(err, "narrative: load previous report")
	}

	digest := BuildDigest(subject, items, prev, a.cfg.MaxItems)
	set, err := a.gateway.SynthesizeNarratives(ctx, digest, classify.SubjectContext{Name: subject.Name, Club: subject.Club})
	if err != nil {
		status := StatusUnavailable
		if errors.Is(err, classify.ErrMalformed) {
			status = StatusMalformed
		}
		log.Warn("narrative: synthesis failed, keeping stored report",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return &Outcome{Status: status, ItemCount: len(items), Report: prev}, nil
	}

	if len(set.Narratives) == 0 && prev != nil && len(prev.Narratives) > 0 {
		log.Info("narrative: empty synthesis, previous report stays current",
			zap.String("previous_report", prev.ID),
			zap.Int("previous_narratives", len(prev.Narratives)),
		)
		return &Outcome{Status: StatusKeptPrevious, ItemCount: len(items), Report: prev}, nil
	}

	report := &model.IntelligenceReport{
		SubjectID:    subject.ID,
		ScanRunID:    scanRunID,
		RiskScore:    set.RiskScore,
		Summary:      set.Summary,
		Narratives:   resolveRefs(set.Narratives, len(items)),
		EarlySignals: set.EarlySignals,
		ItemCount:    len(items),
	}
	if err := a.store.SaveIntelligenceReport(ctx, report); err != nil {
		return nil, eris.Wrap(err, "narrative: save report")
	}

	log.Info("narrative: report saved",
		zap.String("report_id", report.ID),
		zap.Int("narratives", len(report.Narratives)),
		zap.Float64("risk_score", report.RiskScore),
	)
	return &Outcome{Status: StatusSaved, ItemCount: len(items), Report: report}, nil
}

// resolveRefs drops item references that point outside the digest.
func resolveRefs(narratives []model.Narrative, n int) []model.Narrative {
	for i := range narratives {
		refs := narratives[i].ItemRefs[:0]
		for _, r := range narratives[i].ItemRefs {
			if r >= 0 && r < n {
				refs = append(refs, r)
			}
		}
		narratives[i].ItemRefs = refs
	}
	return narratives
}
