package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/athlete-monitor/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedSubject(t *testing.T, st Store) *model.Subject {
	t.Helper()
	subj, err := st.UpsertSubject(context.Background(), model.SubjectInput{
		Name:    "Pedro Pérez",
		Club:    "Real Betis",
		Handles: map[model.Platform]string{model.PlatformReddit: "pperez"},
	})
	require.NoError(t, err)
	return subj
}

func pressItem(url, title string, sentiment float64) model.ClassifiedItem {
	c := model.DefaultClassification()
	c.Sentiment = sentiment
	c.Label = model.LabelFor(sentiment)
	c.Scored = true
	return model.ClassifiedItem{
		RawItem:        model.RawItem{Kind: model.KindPress, Origin: "marca.com", Title: title, URL: url},
		Classification: c,
	}
}

// --- Subjects ---

func TestSQLite_UpsertSubject_MergesNonEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := seedSubject(t, st)

	second, err := st.UpsertSubject(ctx, model.SubjectInput{
		Name:    "pedro pérez",
		Handles: map[model.Platform]string{model.PlatformInstagram: " pp10 "},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Real Betis", second.Club)
	assert.Equal(t, "pp10", second.Handle(model.PlatformInstagram))
	assert.Equal(t, "pperez", second.Handle(model.PlatformReddit))

	got, err := st.GetSubject(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "pp10", got.Handle(model.PlatformInstagram))

	all, err := st.ListSubjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_UpsertSubject_RequiresName(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.UpsertSubject(context.Background(), model.SubjectInput{Name: "  "})
	require.Error(t, err)
}

func TestSQLite_GetSubject_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetSubject(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	subj, err := st.GetSubjectByName(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.Nil(t, subj)
}

// --- Items ---

func TestSQLite_InsertItems_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	items := []model.ClassifiedItem{
		pressItem("https://marca.com/a", "Pérez renueva", 0.6),
		pressItem("https://marca.com/b", "Pérez lesionado", -0.5),
		pressItem("", "Rumor sin enlace", 0),
	}

	inserted, err := st.InsertItems(ctx, subj.ID, "run-1", items)
	require.NoError(t, err)
	require.Len(t, inserted, 3)
	for _, it := range inserted {
		assert.NotEmpty(t, it.ID)
		assert.NotEmpty(t, it.Hash)
		assert.Equal(t, subj.ID, it.SubjectID)
	}

	inserted, err = st.InsertItems(ctx, subj.ID, "run-2", items)
	require.NoError(t, err)
	assert.Empty(t, inserted)

	history, err := st.ScoringHistory(ctx, subj.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestSQLite_InsertItems_SameURLDifferentText(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	_, err := st.InsertItems(ctx, subj.ID, "run-1", []model.ClassifiedItem{pressItem("https://as.com/x", "v1", 0)})
	require.NoError(t, err)

	inserted, err := st.InsertItems(ctx, subj.ID, "run-2", []model.ClassifiedItem{pressItem("https://as.com/x", "v2 edited", 0)})
	require.NoError(t, err)
	assert.Empty(t, inserted)
}

func TestSQLite_InsertItems_DistinctURLsSameText(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	a := pressItem("https://marca.com/a", "Pérez firma hasta 2029", 0.4)
	b := pressItem("https://as.com/b", "Pérez firma hasta 2029", 0.4)
	require.Equal(t, a.ContentHash(), b.ContentHash())

	inserted, err := st.InsertItems(ctx, subj.ID, "run-1", []model.ClassifiedItem{a, b})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.Equal(t, "https://marca.com/a", inserted[0].URL)
	assert.Equal(t, "https://as.com/b", inserted[1].URL)

	history, err := st.ScoringHistory(ctx, subj.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSQLite_InsertItems_URLlessDuplicateHashDropped(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	withURL := pressItem("https://marca.com/a", "Rumor de fichaje", 0)
	first := pressItem("", "Rumor de fichaje", 0)
	second := pressItem("", "Rumor de fichaje", 0)

	inserted, err := st.InsertItems(ctx, subj.ID, "run-1", []model.ClassifiedItem{withURL, first, second})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.Equal(t, "https://marca.com/a", inserted[0].URL)
	assert.Empty(t, inserted[1].URL)
}

func TestSQLite_ExistingIdentifiers(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	noURL := pressItem("", "Sin enlace", 0)
	_, err := st.InsertItems(ctx, subj.ID, "run-1", []model.ClassifiedItem{
		pressItem("https://marca.com/a", "A", 0),
		noURL,
	})
	require.NoError(t, err)

	ids, err := st.ExistingIdentifiers(ctx, subj.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://marca.com/a"}, ids.URLs)
	assert.Equal(t, []string{noURL.ContentHash()}, ids.Hashes)
}

func TestSQLite_RecentItems_NewestFirstWithinLookback(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	now := time.Now().UTC()
	old := now.Add(-10 * 24 * time.Hour)
	mid := now.Add(-2 * 24 * time.Hour)
	recent := now.Add(-1 * time.Hour)

	a := pressItem("https://x/old", "old", 0)
	a.PublishedAt = &old
	b := pressItem("https://x/mid", "mid", 0)
	b.PublishedAt = &mid
	c := pressItem("https://x/recent", "recent", 0)
	c.PublishedAt = &recent

	_, err := st.InsertItems(ctx, subj.ID, "run-1", []model.ClassifiedItem{a, b, c})
	require.NoError(t, err)

	items, err := st.RecentItems(ctx, subj.ID, now.Add(-7*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "recent", items[0].Title)
	assert.Equal(t, "mid", items[1].Title)
	require.NotNil(t, items[0].PublishedAt)
	assert.WithinDuration(t, recent, *items[0].PublishedAt, time.Millisecond)
}

func TestSQLite_LastSubjectPostAt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	last, err := st.LastSubjectPostAt(ctx, subj.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	post := model.ClassifiedItem{
		RawItem:        model.RawItem{Kind: model.KindSubjectPost, Origin: "instagram", Text: "Entreno", PublishedAt: &ts},
		Classification: model.DefaultClassification(),
	}
	_, err = st.InsertItems(ctx, subj.ID, "run-1", []model.ClassifiedItem{post})
	require.NoError(t, err)

	last, err = st.LastSubjectPostAt(ctx, subj.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, ts.Equal(*last))
}

func TestSQLite_CurrentAndPreviousSummary(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	prev, err := st.GetPreviousSummary(ctx, subj.ID)
	require.NoError(t, err)
	assert.Nil(t, prev)

	_, err = st.InsertItems(ctx, subj.ID, "run-1", []model.ClassifiedItem{
		pressItem("https://x/1", "1", 0.5),
		pressItem("https://x/2", "2", -0.5),
		pressItem("https://x/3", "3", -0.3),
	})
	require.NoError(t, err)

	sum, err := st.CurrentSummary(ctx, subj.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.PressCount)
	assert.Equal(t, 2, sum.PressNegative)
	assert.InDelta(t, -0.1, sum.PressSentiment, 1e-9)

	require.NoError(t, st.SaveReport(ctx, &model.ScanReport{ScanRunID: "run-1", SubjectID: subj.ID, Current: sum}))

	prev, err = st.GetPreviousSummary(ctx, subj.ID)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, sum, *prev)
}

// --- Scan runs ---

func TestSQLite_ScanRunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	n, err := st.CompletedScanCount(ctx, subj.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	run, err := st.OpenScanRun(ctx, subj.ID, model.TriggerManual, true)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusRunning, run.Status)

	run.Status = model.ScanStatusCompleted
	run.Counts[model.KindPress] = model.SourceCount{Fetched: 10, New: 8, Relevant: 6, Inserted: 6}
	run.AlertCount = 2
	require.NoError(t, st.CloseScanRun(ctx, run))

	failed, err := st.OpenScanRun(ctx, subj.ID, model.TriggerScheduled, false)
	require.NoError(t, err)
	failed.Status = model.ScanStatusError
	failed.Error = "classify: timeout"
	require.NoError(t, st.CloseScanRun(ctx, failed))

	n, err = st.CompletedScanCount(ctx, subj.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	runs, err := st.ListScanRuns(ctx, ScanRunFilter{SubjectID: subj.ID})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	byID := map[string]model.ScanRun{runs[0].ID: runs[0], runs[1].ID: runs[1]}
	got := byID[run.ID]
	assert.True(t, got.Deep)
	assert.Equal(t, 6, got.Counts[model.KindPress].Inserted)
	assert.Equal(t, 2, got.AlertCount)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, "classify: timeout", byID[failed.ID].Error)
	assert.Equal(t, model.TriggerScheduled, byID[failed.ID].Trigger)
}

func TestSQLite_CloseScanRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.CloseScanRun(context.Background(), &model.ScanRun{ID: "nope", Status: model.ScanStatusCompleted})
	require.ErrorIs(t, err, ErrNotFound)
}

// --- Reports ---

func TestSQLite_LatestReport(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	r, err := st.GetLatestReport(ctx, subj.ID)
	require.NoError(t, err)
	assert.Nil(t, r)

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.SaveReport(ctx, &model.ScanReport{SubjectID: subj.ID, ScanRunID: "r1", Summary: "old", CreatedAt: base}))
	require.NoError(t, st.SaveReport(ctx, &model.ScanReport{
		SubjectID:  subj.ID,
		ScanRunID:  "r2",
		Summary:    "new",
		Topics:     []model.TagCount{{Tag: "transfer", Count: 3}},
		ImageIndex: model.ImageIndex{Score: 67.5, Components: map[string]float64{"volume": 50}},
		CreatedAt:  base.Add(time.Minute),
	}))

	r, err = st.GetLatestReport(ctx, subj.ID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "new", r.Summary)
	assert.InDelta(t, 67.5, r.ImageIndex.Score, 1e-9)
	assert.Equal(t, []model.TagCount{{Tag: "transfer", Count: 3}}, r.Topics)
}

func TestSQLite_IntelligenceReport_PrefersLatestWithNarratives(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	base := time.Now().UTC().Add(-time.Hour)
	withNarr := &model.IntelligenceReport{
		SubjectID: subj.ID,
		ScanRunID: "r1",
		RiskScore: 55,
		Summary:   "tension con el club",
		Narratives: []model.Narrative{
			{Title: "Renovación estancada", Category: model.CategoryTransfer, Severity: model.SeverityHigh, Trend: model.TrendEscalating, ItemRefs: []int{1, 4}},
			{Title: "Críticas de la afición", Category: model.CategoryPublicImage, Severity: model.SeverityMedium, Trend: model.TrendStable},
		},
		EarlySignals: []model.EarlySignal{{Signal: "agente en Londres", Likelihood: "medium"}},
		CreatedAt:    base,
	}
	require.NoError(t, st.SaveIntelligenceReport(ctx, withNarr))

	empty := &model.IntelligenceReport{SubjectID: subj.ID, ScanRunID: "r2", Summary: "sin novedades", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, st.SaveIntelligenceReport(ctx, empty))

	got, err := st.GetLastIntelligenceReport(ctx, subj.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, withNarr.ID, got.ID)
	require.Len(t, got.Narratives, 2)
	assert.Equal(t, "Renovación estancada", got.Narratives[0].Title)
	assert.Equal(t, []int{1, 4}, got.Narratives[0].ItemRefs)
	assert.Equal(t, model.TrendEscalating, got.Narratives[0].Trend)
	assert.Equal(t, "agente en Londres", got.EarlySignals[0].Signal)
}

func TestSQLite_IntelligenceReport_FallsBackToLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	require.NoError(t, st.SaveIntelligenceReport(ctx, &model.IntelligenceReport{SubjectID: subj.ID, Summary: "only"}))
	got, err := st.GetLastIntelligenceReport(ctx, subj.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "only", got.Summary)
	assert.Empty(t, got.Narratives)
}

func TestSQLite_WeeklyReport(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	week := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveWeeklyReport(ctx, &model.WeeklyReport{
		SubjectID:      subj.ID,
		WeekStart:      week,
		Recommendation: model.RecommendRenew,
		Risks:          []string{"lesión recurrente"},
		Opportunities:  []string{"patrocinio"},
		ImageIndex:     72.4,
	}))

	got, err := st.GetLatestWeeklyReport(ctx, subj.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RecommendRenew, got.Recommendation)
	assert.True(t, week.Equal(got.WeekStart))
	assert.Equal(t, []string{"patrocinio"}, got.Opportunities)
}

// --- Alerts ---

func TestSQLite_AlertLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	subj := seedSubject(t, st)

	a := &model.Alert{
		SubjectID: subj.ID,
		Type:      model.AlertNegativePress,
		Severity:  model.AlertSeverityHigh,
		Title:     "Prensa negativa",
		Evidence:  map[string]any{"count": 3},
	}
	require.NoError(t, st.InsertAlert(ctx, a))
	b := &model.Alert{SubjectID: subj.ID, Type: model.AlertInjury, Severity: model.AlertSeverityHigh, Title: "Lesión"}
	require.NoError(t, st.InsertAlert(ctx, b))

	require.NoError(t, st.MarkAlertRead(ctx, a.ID))
	require.NoError(t, st.DismissAlert(ctx, b.ID))

	unread, err := st.ListAlerts(ctx, model.AlertFilter{SubjectID: subj.ID, UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)

	visible, err := st.ListAlerts(ctx, model.AlertFilter{SubjectID: subj.ID})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, a.ID, visible[0].ID)
	assert.True(t, visible[0].Read)
	assert.EqualValues(t, 3, visible[0].Evidence["count"])

	all, err := st.ListAlerts(ctx, model.AlertFilter{IncludeDismissed: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.ErrorIs(t, st.MarkAlertRead(ctx, "missing"), ErrNotFound)
}
