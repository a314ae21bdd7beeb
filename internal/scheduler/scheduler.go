// Package scheduler runs the daily scan-all and weekly report jobs on cron
// triggers.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/config"
	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/notify"
	"github.com/sells-group/athlete-monitor/internal/scan"
)

// Job outcomes recorded in Status.
const (
	OutcomeCompleted   = "completed"
	OutcomePartial     = "partial"
	OutcomeSkippedBusy = "skipped_busy"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// Scanner is the slice of the scan coordinator the daily job drives.
type Scanner interface {
	Busy() bool
	RunScan(ctx context.Context, in model.SubjectInput, trigger model.Trigger) (*scan.ScanResult, error)
}

// Store is the persistence the jobs read.
type Store interface {
	ListSubjects(ctx context.Context) ([]model.Subject, error)
	GetLatestReport(ctx context.Context, subjectID string) (*model.ScanReport, error)
	GetLastIntelligenceReport(ctx context.Context, subjectID string) (*model.IntelligenceReport, error)
}

// WeeklyGenerator writes one subject's weekly report.
type WeeklyGenerator interface {
	Generate(ctx context.Context, subject model.Subject) (*model.WeeklyReport, error)
}

// JobStatus describes the last run of one job.
type JobStatus struct {
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastStart *time.Time `json:"last_start,omitempty"`
	LastEnd   *time.Time `json:"last_end,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	Subjects  int        `json:"subjects"`
	Failed    int        `json:"failed"`
	Skipped   int        `json:"skipped"`
}

// Status is a snapshot of both jobs.
type Status struct {
	Enabled bool      `json:"enabled"`
	Daily   JobStatus `json:"daily"`
	Weekly  JobStatus `json:"weekly"`
}

// Options wires the scheduler's collaborators. Notifier may be nil.
type Options struct {
	Scanner  Scanner
	Store    Store
	Weekly   WeeklyGenerator
	Notifier notify.Notifier
}

// Scheduler owns the cron triggers.
type Scheduler struct {
	cfg      config.SchedulerConfig
	scanner  Scanner
	store    Store
	weekly   WeeklyGenerator
	notifier notify.Notifier
	cron     *cron.Cron

	// sleep waits between subjects; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu        sync.Mutex
	dailyJob  JobStatus
	weeklyJob JobStatus
}

// New creates a Scheduler. Empty cron specs and zero pauses take the
// defaults of 07:00 daily, Sunday 20:00 weekly, 30s and 5s.
func New(cfg config.SchedulerConfig, opts Options) *Scheduler {
	if cfg.DailyCron == "" {
		cfg.DailyCron = "0 0 7 * * *"
	}
	if cfg.WeeklyCron == "" {
		cfg.WeeklyCron = "0 0 20 * * 0"
	}
	if cfg.PauseSecs <= 0 {
		cfg.PauseSecs = 30
	}
	if cfg.WeeklyPauseSecs <= 0 {
		cfg.WeeklyPauseSecs = 5
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Multi(nil)
	}
	return &Scheduler{
		cfg:       cfg,
		scanner:   opts.Scanner,
		store:     opts.Store,
		weekly:    opts.Weekly,
		notifier:  n,
		sleep:     sleepCtx,
		now:       time.Now,
		dailyJob:  JobStatus{Schedule: cfg.DailyCron},
		weeklyJob: JobStatus{Schedule: cfg.WeeklyCron},
	}
}

// Run registers both jobs and blocks until ctx is cancelled. Jobs receive
// ctx, so cancelling it also interrupts a job in progress.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if err := c.AddFunc(s.cfg.DailyCron, func() { s.RunDaily(ctx) }); err != nil {
		return eris.Wrapf(err, "scheduler: parse daily cron %q", s.cfg.DailyCron)
	}
	if s.weekly != nil {
		if err := c.AddFunc(s.cfg.WeeklyCron, func() { s.RunWeekly(ctx) }); err != nil {
			return eris.Wrapf(err, "scheduler: parse weekly cron %q", s.cfg.WeeklyCron)
		}
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	log := zap.L().With(zap.String("component", "scheduler"))
	log.Info("scheduler: started",
		zap.String("daily", s.cfg.DailyCron),
		zap.String("weekly", s.cfg.WeeklyCron),
		zap.Int("pause_secs", s.cfg.PauseSecs),
	)
	c.Start()

	<-ctx.Done()
	c.Stop()

	s.mu.Lock()
	s.cron = nil
	s.mu.Unlock()
	log.Info("scheduler: stopped")
	return nil
}

// Status returns a snapshot of both jobs.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Enabled: s.cron != nil, Daily: s.dailyJob, Weekly: s.weeklyJob}
}

// RunDaily scans every subject in turn, then sends the daily digest. It
// skips the whole job when a scan is already running. A subject whose turn
// comes while a manual scan holds the gate is skipped and the loop goes on.
func (s *Scheduler) RunDaily(ctx context.Context) {
	log := zap.L().With(zap.String("job", "daily"))
	if !s.begin(&s.dailyJob) {
		log.Warn("scheduler: daily job still running, skipping trigger")
		return
	}

	if s.scanner.Busy() {
		log.Info("scheduler: scan in progress, skipping daily job")
		s.end(&s.dailyJob, OutcomeSkippedBusy, 0, 0, 0)
		return
	}

	subjects, err := s.store.ListSubjects(ctx)
	if err != nil {
		log.Error("scheduler: list subjects", zap.Error(err))
		s.end(&s.dailyJob, OutcomeFailed, 0, 0, 0)
		return
	}

	outcome, failed, skipped := OutcomeCompleted, 0, 0
	for i, subj := range subjects {
		if i > 0 {
			if err := s.sleep(ctx, time.Duration(s.cfg.PauseSecs)*time.Second); err != nil {
				outcome = OutcomeInterrupted
				break
			}
		}

		res, err := s.scanner.RunScan(ctx, model.SubjectInput{Name: subj.Name, Club: subj.Club}, model.TriggerScheduled)
		if errors.Is(err, scan.ErrScanInProgress) {
			skipped++
			log.Info("scheduler: scan in progress, skipping subject", zap.String("subject", subj.Name))
			continue
		}
		if err != nil {
			failed++
			log.Warn("scheduler: subject scan failed", zap.String("subject", subj.Name), zap.Error(err))
			continue
		}
		log.Info("scheduler: subject scanned",
			zap.String("subject", subj.Name),
			zap.String("run_id", res.RunID),
			zap.Float64("image_index", res.ImageIndex.Score),
		)
	}
	if outcome == OutcomeCompleted && failed+skipped > 0 {
		outcome = OutcomePartial
	}

	s.sendDigest(ctx, log, subjects)
	s.end(&s.dailyJob, outcome, len(subjects), failed, skipped)
}

// RunWeekly writes and sends a weekly report for every subject.
func (s *Scheduler) RunWeekly(ctx context.Context) {
	log := zap.L().With(zap.String("job", "weekly"))
	if s.weekly == nil {
		return
	}
	if !s.begin(&s.weeklyJob) {
		log.Warn("scheduler: weekly job still running, skipping trigger")
		return
	}

	subjects, err := s.store.ListSubjects(ctx)
	if err != nil {
		log.Error("scheduler: list subjects", zap.Error(err))
		s.end(&s.weeklyJob, OutcomeFailed, 0, 0, 0)
		return
	}

	outcome, failed := OutcomeCompleted, 0
	for i, subj := range subjects {
		if i > 0 {
			if err := s.sleep(ctx, time.Duration(s.cfg.WeeklyPauseSecs)*time.Second); err != nil {
				outcome = OutcomeInterrupted
				break
			}
		}

		r, err := s.weekly.Generate(ctx, subj)
		if err != nil {
			failed++
			log.Warn("scheduler: weekly report failed", zap.String("subject", subj.Name), zap.Error(err))
			continue
		}
		if err := s.notifier.Notify(ctx, notify.WeeklyMessage(subj, r)); err != nil {
			log.Warn("scheduler: weekly notification failed", zap.String("subject", subj.Name), zap.Error(err))
		}
	}
	if outcome == OutcomeCompleted && failed > 0 {
		outcome = OutcomePartial
	}
	s.end(&s.weeklyJob, outcome, len(subjects), failed, 0)
}

func (s *Scheduler) sendDigest(ctx context.Context, log *zap.Logger, subjects []model.Subject) {
	if len(subjects) == 0 {
		return
	}
	entries := make([]notify.DigestEntry, 0, len(subjects))
	for _, subj := range subjects {
		e := notify.DigestEntry{Subject: subj.Name}
		if rep, err := s.store.GetLatestReport(ctx, subj.ID); err != nil {
			log.Warn("scheduler: digest report lookup", zap.String("subject", subj.Name), zap.Error(err))
		} else if rep != nil {
			score := rep.ImageIndex.Score
			e.ImageIndex = &score
		}
		if intel, err := s.store.GetLastIntelligenceReport(ctx, subj.ID); err != nil {
			log.Warn("scheduler: digest intelligence lookup", zap.String("subject", subj.Name), zap.Error(err))
		} else if intel != nil {
			risk := intel.RiskScore
			e.RiskScore = &risk
		}
		entries = append(entries, e)
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), notify.DigestMessage(entries, s.now())); err != nil {
		log.Warn("scheduler: digest notification failed", zap.Error(err))
	}
}

// begin marks a job running. It returns false when the job already is.
func (s *Scheduler) begin(js *JobStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if js.Running {
		return false
	}
	now := s.now().UTC()
	js.Running = true
	js.LastStart = &now
	return true
}

func (s *Scheduler) end(js *JobStatus, outcome string, subjects, failed, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	js.Running = false
	js.LastEnd = &now
	js.Outcome = outcome
	js.Subjects = subjects
	js.Failed = failed
	js.Skipped = skipped
	zap.L().Info("scheduler: job finished",
		zap.String("outcome", outcome),
		zap.Int("subjects", subjects),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
