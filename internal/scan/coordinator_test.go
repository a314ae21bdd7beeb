package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/athlete-monitor/internal/classify"
	"github.com/sells-group/athlete-monitor/internal/config"
	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/narrative"
	"github.com/sells-group/athlete-monitor/internal/notify"
	"github.com/sells-group/athlete-monitor/internal/sources"
	"github.com/sells-group/athlete-monitor/internal/store"
)

var testInput = model.SubjectInput{Name: "Pedro Pérez", Club: "Real Betis"}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// classifyByText marks items mentioning "bad" as negative and the rest as
// positive.
func classifyByText(batch []model.RawItem) []model.Classification {
	out := make([]model.Classification, len(batch))
	for i, it := range batch {
		c := model.DefaultClassification()
		c.Scored = true
		c.Sentiment = 0.5
		c.Label = model.LabelPositive
		if strings.Contains(it.Body(), "bad") {
			c.Sentiment = -0.8
			c.Label = model.LabelNegative
		}
		if strings.Contains(it.Body(), "offtopic") {
			c.Relevant = false
		}
		out[i] = c.Normalize()
	}
	return out
}

func rawItems(kind model.SourceKind, prefix string, texts ...string) []model.RawItem {
	out := make([]model.RawItem, 0, len(texts))
	for i, text := range texts {
		out = append(out, model.RawItem{
			Kind:   kind,
			Origin: "marca.com",
			Title:  text,
			Text:   text,
			URL:    fmt.Sprintf("https://marca.com/%s-%d", prefix, i),
		})
	}
	return out
}

func newAdapter(name string, items []model.RawItem, err error) *mockAdapter {
	a := &mockAdapter{name: name}
	if err != nil {
		a.On("Fetch", mock.Anything, mock.Anything).Return(nil, err)
	} else {
		a.On("Fetch", mock.Anything, mock.Anything).Return(items, nil)
	}
	return a
}

type testDeps struct {
	store     store.Store
	adapters  []sources.Adapter
	gateway   *mockGateway
	notifier  *mockNotifier
	completer *mockCompleter
	narrative *narrative.Aggregator
}

func newTestCoordinator(d testDeps) *Coordinator {
	if d.gateway == nil {
		d.gateway = &mockGateway{}
		d.gateway.On("Classify", mock.Anything, mock.Anything, mock.Anything).Return(classifyByText, nil)
	}
	if d.notifier == nil {
		d.notifier = &mockNotifier{}
		d.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	}
	opts := Options{
		Store:      d.store,
		Adapters:   d.adapters,
		Classifier: classify.NewClassifier(d.gateway, config.ClassifyConfig{BatchSize: 30, TimeoutSecs: 5}),
		Narrative:  d.narrative,
		Notifier:   d.notifier,
	}
	if d.completer != nil {
		opts.Completer = d.completer
	}
	return NewCoordinator(config.ScanConfig{FirstScanMultiplier: 3, AdapterTimeoutSecs: 5}, opts)
}

func TestRunScan_EndToEnd(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	press := newAdapter("press", rawItems(model.KindPress, "p",
		"bad game for Pérez", "bad news again", "another bad day", "Pérez scores", "offtopic story"), nil)
	social := newAdapter("social", rawItems(model.KindSocial, "s", "great player", "love him"), nil)

	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything, mock.Anything).Return(classifyByText, nil)
	gw.On("SynthesizeNarratives", mock.Anything, mock.Anything, mock.Anything).Return(&classify.NarrativeSet{
		RiskScore: 55,
		Summary:   "Poor run of form.",
		Narratives: []model.Narrative{{
			Title:    "Form slump",
			Category: model.CategoryPerformance,
			Severity: model.SeverityMedium,
			Trend:    model.TrendEscalating,
			ItemRefs: []int{0, 1, 99},
		}},
	}, nil)

	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, "summary", mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Pedro Pérez (Real Betis)")
	}), int64(summaryMaxTokens)).Return("  Resumen ejecutivo.  ", nil)

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Kind == notify.KindScan && strings.Contains(m.Title, "completed")
	})).Return(nil).Once()

	agg := narrative.NewAggregator(st, gw, config.NarrativeConfig{Enabled: true, MinItems: 5})
	c := newTestCoordinator(testDeps{
		store:     st,
		adapters:  []sources.Adapter{press, social},
		gateway:   gw,
		notifier:  notifier,
		completer: completer,
		narrative: agg,
	})

	res, err := c.RunScan(ctx, testInput, model.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, model.ScanStatusCompleted, res.Status)
	assert.True(t, res.Deep)
	assert.Equal(t, model.SourceCount{Fetched: 5, New: 5, Relevant: 4, Inserted: 4}, res.Counts[model.KindPress])
	assert.Equal(t, model.SourceCount{Fetched: 2, New: 2, Relevant: 2, Inserted: 2}, res.Counts[model.KindSocial])
	assert.Empty(t, res.SourceErrors)

	require.Len(t, res.Alerts, 1)
	assert.Equal(t, model.AlertNegativePress, res.Alerts[0].Type)
	assert.Equal(t, res.RunID, res.Alerts[0].ScanRunID)
	assert.Equal(t, res.SubjectID, res.Alerts[0].SubjectID)

	require.NotNil(t, res.Report)
	assert.Equal(t, "Resumen ejecutivo.", res.Report.Summary)
	assert.Equal(t, 4, res.Report.Current.PressCount)
	assert.Equal(t, 3, res.Report.Current.PressNegative)
	assert.InDelta(t, res.ImageIndex.Score, res.Report.ImageIndex.Score, 1e-9)
	assert.Greater(t, res.ImageIndex.Score, 0.0)

	require.NotNil(t, res.Narrative)
	assert.Equal(t, narrative.StatusSaved, res.Narrative.Status)
	assert.Equal(t, []int{0, 1}, res.Narrative.Report.Narratives[0].ItemRefs)

	// Both adapters saw the deep multiplier.
	press.AssertCalled(t, "Fetch", mock.Anything, mock.MatchedBy(func(r sources.Request) bool { return r.Multiplier == 3 }))
	notifier.AssertExpectations(t)
	assert.False(t, c.Busy())

	runs, err := st.ListScanRuns(ctx, store.ScanRunFilter{SubjectID: res.SubjectID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.ScanStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].AlertCount)
	assert.NotNil(t, runs[0].FinishedAt)

	stored, err := st.GetLatestReport(ctx, res.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, stored.ScanRunID)
}

func TestRunScan_SecondScanIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	items := rawItems(model.KindPress, "p", "Pérez scores", "Pérez assists")
	press := newAdapter("press", items, nil)
	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{press}})

	first, err := c.RunScan(ctx, testInput, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Counts[model.KindPress].Inserted)

	second, err := c.RunScan(ctx, testInput, model.TriggerScheduled)
	require.NoError(t, err)
	assert.False(t, second.Deep)
	assert.Equal(t, model.SourceCount{Fetched: 2}, second.Counts[model.KindPress])
	assert.Empty(t, second.Alerts)
	assert.Equal(t, first.SubjectID, second.SubjectID)
	assert.InDelta(t, first.ImageIndex.Score, second.ImageIndex.Score, 1e-9)
	assert.Equal(t, 2, second.Report.Current.PressCount)
	assert.Equal(t, model.SummaryDelta{}, second.Report.Delta)

	press.AssertCalled(t, "Fetch", mock.Anything, mock.MatchedBy(func(r sources.Request) bool { return r.Multiplier == 1 }))
}

func TestRunScan_BusyMutatesNothing(t *testing.T) {
	st := newTestStore(t)
	press := newAdapter("press", nil, nil)
	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{press}})

	require.True(t, c.state.TryAcquire("someone else"))
	defer c.state.Release()

	res, err := c.RunScan(context.Background(), testInput, model.TriggerManual)
	require.ErrorIs(t, err, ErrScanInProgress)
	assert.Nil(t, res)
	assert.Equal(t, "scan already in progress", err.Error())

	subjects, err := st.ListSubjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subjects)
	press.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestRunScan_ConcurrentCallsOneWins(t *testing.T) {
	st := newTestStore(t)

	started := make(chan struct{})
	unblock := make(chan struct{})
	slow := &mockAdapter{name: "slow"}
	slow.On("Fetch", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-unblock
	}).Return([]model.RawItem{}, nil)

	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{slow}})

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = c.RunScan(context.Background(), testInput, model.TriggerManual)
	}()

	<-started
	assert.True(t, c.Busy())
	p := c.Progress()
	assert.True(t, p.Running)
	assert.Equal(t, "Pedro Pérez", p.Subject)
	assert.Equal(t, "fetching sources", p.Stage)

	_, err := c.RunScan(context.Background(), model.SubjectInput{Name: "Other"}, model.TriggerManual)
	require.ErrorIs(t, err, ErrScanInProgress)

	close(unblock)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.False(t, c.Busy())
	assert.False(t, c.Progress().Running)
}

func TestStart_HoldsGateUntilRun(t *testing.T) {
	st := newTestStore(t)
	press := newAdapter("press", rawItems(model.KindPress, "p", "Pérez scores"), nil)
	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{press}})

	run, err := c.Start(testInput, model.TriggerManual)
	require.NoError(t, err)
	assert.True(t, c.Busy())
	assert.Equal(t, "Pedro Pérez", c.Progress().Subject)

	_, err = c.Start(model.SubjectInput{Name: "Other"}, model.TriggerManual)
	require.ErrorIs(t, err, ErrScanInProgress)

	res, err := run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusCompleted, res.Status)
	assert.False(t, c.Busy())

	run, err = c.Start(testInput, model.TriggerManual)
	require.NoError(t, err)
	_, err = run(context.Background())
	require.NoError(t, err)
}

func TestStart_HeldFileLockFreesGate(t *testing.T) {
	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "scan.lock")
	other, err := NewFileLock(path)
	require.NoError(t, err)
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer other.Unlock() //nolint:errcheck

	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{newAdapter("press", nil, nil)}})
	c.lock, err = NewFileLock(path)
	require.NoError(t, err)

	_, err = c.Start(testInput, model.TriggerManual)
	require.ErrorIs(t, err, ErrScanInProgress)
	assert.False(t, c.Busy())
}

func TestRunScan_PartialSourceFailure(t *testing.T) {
	st := newTestStore(t)

	good := newAdapter("good", rawItems(model.KindPress, "p", "Pérez scores"), nil)
	broken := newAdapter("broken", nil, errors.New("connection reset"))
	panicky := &mockAdapter{name: "panicky"}
	panicky.On("Fetch", mock.Anything, mock.Anything).Panic("nil map")

	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{good, broken, panicky}})

	res, err := c.RunScan(context.Background(), testInput, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusCompleted, res.Status)
	assert.Equal(t, 1, res.Counts[model.KindPress].Inserted)
	assert.Contains(t, res.SourceErrors["broken"], "connection reset")
	assert.Contains(t, res.SourceErrors["panicky"], "panicked")
	assert.Equal(t, "closed", c.SourceStates()["broken"])
}

func TestRunScan_ClassifierFailureKeepsDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	press := newAdapter("press", rawItems(model.KindPress, "p", "bad one", "bad two", "bad three"), nil)
	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{press}, gateway: gw})

	res, err := c.RunScan(ctx, testInput, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Counts[model.KindPress].Inserted)
	assert.Equal(t, 1, res.Classify.Failed)
	assert.Empty(t, res.Alerts, "unscored items are neutral")

	history, err := st.ScoringHistory(ctx, res.SubjectID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for _, it := range history {
		assert.False(t, it.Scored)
		assert.Equal(t, model.LabelNeutral, it.Label)
	}
}

type failingAlertStore struct {
	store.Store
}

func (f failingAlertStore) InsertAlert(context.Context, *model.Alert) error {
	return errors.New("disk full")
}

func TestRunScan_StageFailureMarksRunError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	press := newAdapter("press", rawItems(model.KindPress, "p", "bad a", "bad b", "bad c"), nil)
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return strings.Contains(m.Title, "error")
	})).Return(errors.New("telegram down"))

	c := newTestCoordinator(testDeps{store: failingAlertStore{st}, adapters: []sources.Adapter{press}, notifier: notifier})

	res, err := c.RunScan(ctx, testInput, model.TriggerManual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan: insert negative_press alert")
	require.NotNil(t, res)
	assert.Equal(t, model.ScanStatusError, res.Status)
	assert.Contains(t, res.Error, "disk full")
	assert.False(t, c.Busy())

	// Items written before the failure stay.
	assert.Equal(t, 3, res.Counts[model.KindPress].Inserted)

	runs, err := st.ListScanRuns(ctx, store.ScanRunFilter{SubjectID: res.SubjectID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.ScanStatusError, runs[0].Status)
	assert.Contains(t, runs[0].Error, "disk full")

	// An errored run does not count as completed: the next scan is still deep.
	n, err := st.CompletedScanCount(ctx, res.SubjectID)
	require.NoError(t, err)
	assert.Zero(t, n)
	notifier.AssertExpectations(t)
}

func alertTypes(alerts []model.Alert) []model.AlertType {
	out := make([]model.AlertType, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestRunScan_SyndicatedStoriesWithDistinctURLsAllStored(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	press := newAdapter("press", rawItems(model.KindPress, "p",
		"bad syndicated story", "bad syndicated story", "bad syndicated story"), nil)
	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{press}})

	res, err := c.RunScan(ctx, testInput, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.SourceCount{Fetched: 3, New: 3, Relevant: 3, Inserted: 3}, res.Counts[model.KindPress])
	assert.Contains(t, alertTypes(res.Alerts), model.AlertNegativePress)

	history, err := st.ScoringHistory(ctx, res.SubjectID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

// keepFirstStore persists only the first item of every insert.
type keepFirstStore struct {
	store.Store
}

func (k keepFirstStore) InsertItems(ctx context.Context, subjectID, scanRunID string, items []model.ClassifiedItem) ([]model.ClassifiedItem, error) {
	if len(items) > 1 {
		items = items[:1]
	}
	return k.Store.InsertItems(ctx, subjectID, scanRunID, items)
}

func TestRunScan_AlertsOnlySeePersistedItems(t *testing.T) {
	st := newTestStore(t)

	press := newAdapter("press", rawItems(model.KindPress, "p", "bad a", "bad b", "bad c"), nil)
	c := newTestCoordinator(testDeps{store: keepFirstStore{st}, adapters: []sources.Adapter{press}})

	res, err := c.RunScan(context.Background(), testInput, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.SourceCount{Fetched: 3, New: 3, Relevant: 3, Inserted: 1}, res.Counts[model.KindPress])
	assert.NotContains(t, alertTypes(res.Alerts), model.AlertNegativePress)
}

func TestRunScan_MergesProfileFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	prof := &mockProfileAdapter{mockAdapter{name: "profile"}}
	prof.On("Fetch", mock.Anything, mock.Anything).Return([]model.RawItem{}, nil)
	prof.On("FetchProfile", mock.Anything, mock.Anything).Return(map[string]string{"goals": "12"}, nil)

	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{prof}})
	res, err := c.RunScan(ctx, testInput, model.TriggerManual)
	require.NoError(t, err)

	subj, err := st.GetSubject(ctx, res.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, "12", subj.Profile["goals"])
	assert.Equal(t, "Real Betis", subj.Club)
}

func TestRunScan_RequiresName(t *testing.T) {
	c := newTestCoordinator(testDeps{store: newTestStore(t)})
	_, err := c.RunScan(context.Background(), model.SubjectInput{Name: "  "}, model.TriggerManual)
	require.Error(t, err)
	assert.False(t, c.Busy())
}

func TestRunScan_InactivityAlertFromStoredPosts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -10)
	post := model.RawItem{Kind: model.KindSubjectPost, Origin: "instagram", Author: "pp10", Text: "training", PublishedAt: &old}
	posts := newAdapter("posts", []model.RawItem{post}, nil)

	c := newTestCoordinator(testDeps{store: st, adapters: []sources.Adapter{posts}})
	res, err := c.RunScan(ctx, testInput, model.TriggerManual)
	require.NoError(t, err)

	require.Len(t, res.Alerts, 1)
	assert.Equal(t, model.AlertInactivity, res.Alerts[0].Type)
	assert.EqualValues(t, 10, res.Alerts[0].Evidence["days_inactive"])
}
