package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/athlete-monitor/internal/alerts"
	"github.com/sells-group/athlete-monitor/internal/classify"
	"github.com/sells-group/athlete-monitor/internal/cost"
	"github.com/sells-group/athlete-monitor/internal/fetcher"
	"github.com/sells-group/athlete-monitor/internal/narrative"
	"github.com/sells-group/athlete-monitor/internal/notify"
	"github.com/sells-group/athlete-monitor/internal/scan"
	"github.com/sells-group/athlete-monitor/internal/scheduler"
	"github.com/sells-group/athlete-monitor/internal/scoring"
	"github.com/sells-group/athlete-monitor/internal/sources"
	"github.com/sells-group/athlete-monitor/internal/store"
	"github.com/sells-group/athlete-monitor/internal/weekly"
	anthropicpkg "github.com/sells-group/athlete-monitor/pkg/anthropic"
)

// monitorEnv holds the store and the wired pipeline used by the scan,
// serve, schedule and report commands.
type monitorEnv struct {
	Store       store.Store
	Coordinator *scan.Coordinator
	Weekly      *weekly.Generator
	Notifier    notify.Multi
}

// Close releases resources held by the environment.
func (e *monitorEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// newScheduler builds the cron scheduler over the environment.
func (e *monitorEnv) newScheduler() *scheduler.Scheduler {
	return scheduler.New(cfg.Scheduler, scheduler.Options{
		Scanner:  e.Coordinator,
		Store:    e.Store,
		Weekly:   e.Weekly,
		Notifier: e.Notifier,
	})
}

// initMonitor validates config for mode, opens the store and wires every
// pipeline stage. Callers should defer env.Close().
func initMonitor(ctx context.Context, mode string) (*monitorEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var lock *scan.FileLock
	if cfg.Scan.LockFile != "" {
		lock, err = scan.NewFileLock(cfg.Scan.LockFile)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "create scan lock")
		}
	}

	// The gateway layers its own retry policy over the SDK.
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.WithMaxRetries(0))
	gw := classify.NewAnthropicGateway(client, cfg)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{UserAgent: cfg.Sources.UserAgent})
	notifier := notify.FromConfig(cfg.Notify)

	coord := scan.NewCoordinator(cfg.Scan, scan.Options{
		Store:      st,
		Adapters:   sources.NewAdapters(cfg, f),
		Classifier: classify.NewClassifier(gw, cfg.Classify),
		Completer:  gw,
		Scorer: scoring.NewEngine(
			scoring.WeightsFromMap(cfg.Scoring.Weights),
			scoring.NewCredibility(cfg.Scoring.Credibility, cfg.Scoring.DefaultCredibility),
		),
		Alerts:    alerts.NewEngine(alerts.ThresholdsFromConfig(cfg.Alerts)),
		Narrative: narrative.NewAggregator(st, gw, cfg.Narrative),
		Notifier:  notifier,
		CostCalc:  cost.FromConfig(cfg.Pricing),
		Lock:      lock,
	})

	return &monitorEnv{
		Store:       st,
		Coordinator: coord,
		Weekly:      weekly.NewGenerator(st, gw),
		Notifier:    notifier,
	}, nil
}
