// Package scan runs the monitoring pipeline for one subject and owns the
// process-wide scan gate.
package scan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/athlete-monitor/internal/alerts"
	"github.com/sells-group/athlete-monitor/internal/classify"
	"github.com/sells-group/athlete-monitor/internal/config"
	"github.com/sells-group/athlete-monitor/internal/cost"
	"github.com/sells-group/athlete-monitor/internal/dedup"
	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/narrative"
	"github.com/sells-group/athlete-monitor/internal/notify"
	"github.com/sells-group/athlete-monitor/internal/resilience"
	"github.com/sells-group/athlete-monitor/internal/scoring"
	"github.com/sells-group/athlete-monitor/internal/sources"
	"github.com/sells-group/athlete-monitor/internal/store"
	"github.com/sells-group/athlete-monitor/pkg/anthropic"
)

// Options wires the coordinator's collaborators. Store, Classifier and
// Adapters are required; the rest fall back to defaults or are skipped.
type Options struct {
	Store      store.Store
	Adapters   []sources.Adapter
	Classifier *classify.Classifier
	Completer  classify.Completer
	Scorer     *scoring.Engine
	Alerts     *alerts.Engine
	Narrative  *narrative.Aggregator
	Notifier   notify.Notifier
	CostCalc   *cost.Calculator
	Lock       *FileLock
}

// ScanResult summarizes one RunScan call.
type ScanResult struct {
	RunID        string                                 `json:"run_id"`
	SubjectID    string                                 `json:"subject_id"`
	Subject      string                                 `json:"subject"`
	Status       model.ScanStatus                       `json:"status"`
	Deep         bool                                   `json:"deep"`
	Counts       map[model.SourceKind]model.SourceCount `json:"counts"`
	SourceErrors map[string]string                      `json:"source_errors,omitempty"`
	Classify     classify.Stats                         `json:"classify"`
	Alerts       []model.Alert                          `json:"alerts"`
	ImageIndex   model.ImageIndex                       `json:"image_index"`
	Report       *model.ScanReport                      `json:"report,omitempty"`
	Narrative    *narrative.Outcome                     `json:"narrative,omitempty"`
	Usage        anthropic.TokenUsage                   `json:"usage"`
	CostUSD      float64                                `json:"cost_usd"`
	Error        string                                 `json:"error,omitempty"`
}

// Coordinator runs scans one at a time.
type Coordinator struct {
	cfg        config.ScanConfig
	store      store.Store
	adapters   []sources.Adapter
	profiles   []sources.ProfileSource
	classifier *classify.Classifier
	completer  classify.Completer
	scorer     *scoring.Engine
	alerts     *alerts.Engine
	narrative  *narrative.Aggregator
	notifier   notify.Notifier
	costCalc   *cost.Calculator
	lock       *FileLock
	state      *State
	breakers   *resilience.ServiceBreakers
	now        func() time.Time
}

// NewCoordinator creates a Coordinator with an idle gate.
func NewCoordinator(cfg config.ScanConfig, opts Options) *Coordinator {
	if cfg.FirstScanMultiplier < 1 {
		cfg.FirstScanMultiplier = 3
	}
	if cfg.AdapterTimeoutSecs <= 0 {
		cfg.AdapterTimeoutSecs = 120
	}
	c := &Coordinator{
		cfg:        cfg,
		store:      opts.Store,
		adapters:   opts.Adapters,
		profiles:   sources.ProfileSources(opts.Adapters),
		classifier: opts.Classifier,
		completer:  opts.Completer,
		scorer:     opts.Scorer,
		alerts:     opts.Alerts,
		narrative:  opts.Narrative,
		notifier:   opts.Notifier,
		costCalc:   opts.CostCalc,
		lock:       opts.Lock,
		state:      NewState(),
		breakers:   resilience.NewServiceBreakers(resilience.ForSources()),
		now:        time.Now,
	}
	if c.scorer == nil {
		c.scorer = scoring.NewEngine(scoring.DefaultWeights(), nil)
	}
	if c.alerts == nil {
		c.alerts = alerts.NewEngine(alerts.DefaultThresholds())
	}
	if c.notifier == nil {
		c.notifier = notify.Multi(nil)
	}
	if c.costCalc == nil {
		c.costCalc = cost.NewCalculator(cost.DefaultRates())
	}
	return c
}

// Busy reports whether a scan is running.
func (c *Coordinator) Busy() bool { return c.state.Busy() }

// Progress returns the gate's current progress.
func (c *Coordinator) Progress() Progress { return c.state.Snapshot() }

// SourceStates returns the circuit state of every adapter that has run.
func (c *Coordinator) SourceStates() map[string]string { return c.breakers.States() }

// RunScan runs the full pipeline for the subject. It returns
// ErrScanInProgress without side effects when another scan holds the gate.
// A stage failure marks the run as error and is returned together with
// the partial result; earlier stages are not rolled back.
func (c *Coordinator) RunScan(ctx context.Context, in model.SubjectInput, trigger model.Trigger) (*ScanResult, error) {
	run, err := c.Start(in, trigger)
	if err != nil {
		return nil, err
	}
	return run(ctx)
}

// Start takes the scan gate, and the file lock when configured, for the
// subject. On success it returns the function that runs the scan and frees
// both; the caller must call it exactly once. A held gate or lock yields
// ErrScanInProgress and nothing is acquired.
func (c *Coordinator) Start(in model.SubjectInput, trigger model.Trigger) (func(context.Context) (*ScanResult, error), error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, eris.New("scan: subject name is required")
	}
	if !c.state.TryAcquire(in.Name) {
		return nil, ErrScanInProgress
	}

	if c.lock != nil {
		ok, err := c.lock.TryLock()
		if err != nil || !ok {
			c.state.Release()
			if err != nil {
				return nil, err
			}
			return nil, ErrScanInProgress
		}
	}

	release := func() {
		if c.lock != nil {
			if err := c.lock.Unlock(); err != nil {
				zap.L().Warn("scan: release file lock", zap.Error(err))
			}
		}
		c.state.Release()
	}

	return func(ctx context.Context) (*ScanResult, error) {
		defer release()
		return c.runLocked(ctx, in, trigger)
	}, nil
}

// runLocked executes the pipeline. The caller holds the gate.
func (c *Coordinator) runLocked(ctx context.Context, in model.SubjectInput, trigger model.Trigger) (res *ScanResult, err error) {
	log := zap.L().With(zap.String("subject", in.Name), zap.String("trigger", string(trigger)))

	subject, err := c.store.UpsertSubject(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "scan: resolve subject")
	}
	completed, err := c.store.CompletedScanCount(ctx, subject.ID)
	if err != nil {
		return nil, eris.Wrap(err, "scan: count completed runs")
	}
	deep := completed == 0
	run, err := c.store.OpenScanRun(ctx, subject.ID, trigger, deep)
	if err != nil {
		return nil, eris.Wrap(err, "scan: open run")
	}

	log = log.With(zap.String("run_id", run.ID))
	log.Info("scan: starting", zap.Bool("deep", deep), zap.Int("adapters", len(c.adapters)))

	res = &ScanResult{
		RunID:        run.ID,
		SubjectID:    subject.ID,
		Subject:      subject.Name,
		Deep:         deep,
		Counts:       make(map[model.SourceKind]model.SourceCount, len(model.SourceKinds)),
		SourceErrors: make(map[string]string),
	}
	run.Counts = res.Counts

	tracker := cost.NewTracker(c.costCalc)
	ctx = cost.WithTracker(ctx, tracker)

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scan: panic: %v", r)
			log.Error("scan: recovered panic", zap.Any("panic", r), zap.Stack("stack"))
		}
		res.Usage, res.CostUSD = tracker.Totals()
		c.finish(ctx, log, subject, run, res, err)
	}()

	err = c.execute(ctx, log, subject, run, res)
	return res, err
}

func (c *Coordinator) execute(ctx context.Context, log *zap.Logger, subject *model.Subject, run *model.ScanRun, res *ScanResult) error {
	prev, err := c.store.GetPreviousSummary(ctx, subject.ID)
	if err != nil {
		return eris.Wrap(err, "scan: previous summary")
	}

	// Fetch.
	c.state.SetStage("fetching sources")
	multiplier := 1
	if res.Deep {
		multiplier = c.cfg.FirstScanMultiplier
	}
	fetched, profile := c.fetchAll(ctx, log, sources.Request{Subject: *subject, Multiplier: multiplier}, res)
	if len(profile) > 0 {
		updated, upErr := c.store.UpsertSubject(ctx, model.SubjectInput{Name: subject.Name, Profile: profile})
		if upErr != nil {
			log.Warn("scan: save profile fields", zap.Error(upErr))
		} else {
			*subject = *updated
		}
	}

	// Dedup.
	c.state.SetStage("deduplicating")
	ids, err := c.store.ExistingIdentifiers(ctx, subject.ID)
	if err != nil {
		return eris.Wrap(err, "scan: existing identifiers")
	}
	gate := dedup.NewGate(ids.URLs, ids.Hashes)
	fresh := make(map[model.SourceKind][]model.RawItem, len(model.SourceKinds))
	for _, kind := range model.SourceKinds {
		items := gate.Filter(fetched[kind])
		cnt := res.Counts[kind]
		cnt.New = len(items)
		res.Counts[kind] = cnt
		if len(items) > 0 {
			fresh[kind] = items
		}
	}

	// Classify.
	c.state.SetStage("classifying")
	classified, stats := c.classifier.ClassifyAll(ctx, classify.SubjectContext{Name: subject.Name, Club: subject.Club}, fresh)
	res.Classify = stats
	if stats.Failed > 0 {
		log.Warn("scan: classification batches failed, defaults applied",
			zap.Int("failed", stats.Failed),
			zap.Int("batches", stats.Batches),
		)
	}

	// Persist.
	c.state.SetStage("saving items")
	var newItems []model.ClassifiedItem
	for _, kind := range model.SourceKinds {
		relevant := classify.Relevant(classified[kind])
		inserted, insErr := c.store.InsertItems(ctx, subject.ID, run.ID, relevant)
		if insErr != nil {
			return eris.Wrapf(insErr, "scan: insert %s items", kind)
		}
		cnt := res.Counts[kind]
		cnt.Relevant = len(relevant)
		cnt.Inserted = len(inserted)
		res.Counts[kind] = cnt
		if len(inserted) < len(relevant) {
			log.Debug("scan: store dropped duplicate items",
				zap.String("kind", string(kind)),
				zap.Int("dropped", len(relevant)-len(inserted)),
			)
		}
		newItems = append(newItems, inserted...)
	}

	// Alerts.
	c.state.SetStage("evaluating alerts")
	lastPost, err := c.store.LastSubjectPostAt(ctx, subject.ID)
	if err != nil {
		return eris.Wrap(err, "scan: last subject post")
	}
	raised := c.alerts.Evaluate(newItems, lastPost, c.now().UTC())
	for i := range raised {
		raised[i].SubjectID = subject.ID
		raised[i].ScanRunID = run.ID
		if err := c.store.InsertAlert(ctx, &raised[i]); err != nil {
			return eris.Wrapf(err, "scan: insert %s alert", raised[i].Type)
		}
		res.Alerts = append(res.Alerts, raised[i])
	}

	// Scoring and report.
	c.state.SetStage("scoring")
	history, err := c.store.ScoringHistory(ctx, subject.ID)
	if err != nil {
		return eris.Wrap(err, "scan: scoring history")
	}
	res.ImageIndex = c.scorer.Compute(history)

	current, err := c.store.CurrentSummary(ctx, subject.ID)
	if err != nil {
		return eris.Wrap(err, "scan: current summary")
	}
	topics, brands := model.CountTags(newItems)
	report := &model.ScanReport{
		ScanRunID:  run.ID,
		SubjectID:  subject.ID,
		Topics:     topics,
		Brands:     brands,
		Current:    current,
		Delta:      current.Diff(prev),
		ImageIndex: res.ImageIndex,
	}
	c.state.SetStage("writing summary")
	report.Summary = executiveSummary(ctx, c.completer, *subject, current, prev, res.ImageIndex, topics, brands)
	if err := c.store.SaveReport(ctx, report); err != nil {
		return eris.Wrap(err, "scan: save report")
	}
	res.Report = report

	// Narratives.
	if c.narrative != nil {
		c.state.SetStage("synthesizing narratives")
		outcome, err := c.narrative.Run(ctx, *subject, run.ID)
		if err != nil {
			return eris.Wrap(err, "scan: narratives")
		}
		res.Narrative = outcome
		log.Info("scan: narratives", zap.String("status", string(outcome.Status)), zap.Int("items", outcome.ItemCount))
	}

	return nil
}

// fetchAll runs every adapter, and every profile source, in parallel. A
// failing adapter contributes nothing and is recorded in res.SourceErrors.
func (c *Coordinator) fetchAll(ctx context.Context, log *zap.Logger, req sources.Request, res *ScanResult) (map[model.SourceKind][]model.RawItem, map[string]string) {
	var (
		mu      sync.Mutex
		byKind  = make(map[model.SourceKind][]model.RawItem)
		profile = make(map[string]string)
	)

	var g errgroup.Group
	for _, a := range c.adapters {
		g.Go(func() error {
			start := time.Now()
			items, err := c.fetchOne(ctx, a, req)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("scan: adapter failed", zap.String("source", a.Name()), zap.Error(err))
				res.SourceErrors[a.Name()] = err.Error()
				return nil
			}
			log.Info("scan: adapter done",
				zap.String("source", a.Name()),
				zap.Int("items", len(items)),
				zap.Duration("elapsed", time.Since(start)),
			)
			for _, it := range items {
				byKind[it.Kind] = append(byKind[it.Kind], it)
			}
			return nil
		})
	}
	for _, p := range c.profiles {
		g.Go(func() error {
			fields, err := c.fetchProfile(ctx, p, req.Subject)
			if err != nil {
				log.Warn("scan: profile fields failed", zap.Error(err))
				return nil
			}
			mu.Lock()
			for k, v := range fields {
				profile[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, kind := range model.SourceKinds {
		cnt := res.Counts[kind]
		cnt.Fetched = len(byKind[kind])
		res.Counts[kind] = cnt
	}
	return byKind, profile
}

func (c *Coordinator) fetchOne(ctx context.Context, a sources.Adapter, req sources.Request) (items []model.RawItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scan: adapter %s panicked: %v", a.Name(), r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.AdapterTimeoutSecs)*time.Second)
	defer cancel()

	return resilience.ExecuteVal(ctx, c.breakers.Get(a.Name()), func(ctx context.Context) ([]model.RawItem, error) {
		return a.Fetch(ctx, req)
	})
}

func (c *Coordinator) fetchProfile(ctx context.Context, p sources.ProfileSource, subject model.Subject) (fields map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scan: profile source panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.AdapterTimeoutSecs)*time.Second)
	defer cancel()
	return p.FetchProfile(ctx, subject)
}

// finish closes the run and sends the scan notification. It runs on every
// path after the run was opened, including cancellation and panics.
func (c *Coordinator) finish(ctx context.Context, log *zap.Logger, subject *model.Subject, run *model.ScanRun, res *ScanResult, err error) {
	ctx = context.WithoutCancel(ctx)

	now := c.now().UTC()
	run.FinishedAt = &now
	run.AlertCount = len(res.Alerts)
	run.Status = model.ScanStatusCompleted
	if err != nil {
		run.Status = model.ScanStatusError
		run.Error = err.Error()
		log.Error("scan: failed", zap.Error(err))
	}
	res.Status = run.Status
	res.Error = run.Error

	if closeErr := c.store.CloseScanRun(ctx, run); closeErr != nil {
		log.Error("scan: close run", zap.Error(closeErr))
	}

	summary := ""
	if res.Report != nil {
		summary = res.Report.Summary
	}
	msg := notify.ScanMessage(*subject, run, res.ImageIndex, res.Alerts, summary)
	if notifyErr := c.notifier.Notify(ctx, msg); notifyErr != nil {
		log.Warn("scan: notify", zap.Error(notifyErr))
	}

	log.Info("scan: finished",
		zap.String("status", string(run.Status)),
		zap.Int("inserted", run.TotalInserted()),
		zap.Int("alerts", run.AlertCount),
		zap.Float64("image_index", res.ImageIndex.Score),
		zap.Float64("cost_usd", res.CostUSD),
	)
}
