package weekly

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/athlete-monitor/internal/classify"
	"github.com/sells-group/athlete-monitor/internal/model"
)

var (
	// Sunday evening, when the weekly job fires.
	testNow     = time.Date(2026, 3, 15, 20, 0, 0, 0, time.UTC)
	testSubject = model.Subject{ID: "subj-1", Name: "Pedro Pérez", Club: "Real Betis"}
)

func newTestGenerator(st Store, llm classify.Completer) *Generator {
	g := NewGenerator(st, llm)
	g.now = func() time.Time { return testNow }
	return g
}

func weekItems() []model.ClassifiedItem {
	return []model.ClassifiedItem{
		{
			RawItem:        model.RawItem{Kind: model.KindPress, Title: "Pérez scores twice"},
			Classification: model.Classification{Relevant: true, Label: model.LabelPositive, Topics: []model.Topic{model.TopicPerformance}, Brands: []string{"Nike"}},
		},
		{
			RawItem:        model.RawItem{Kind: model.KindSocial, Title: "transfer talk"},
			Classification: model.Classification{Relevant: true, Label: model.LabelNegative, Topics: []model.Topic{model.TopicTransfer}},
		},
	}
}

func latestReport() *model.ScanReport {
	return &model.ScanReport{
		ID:         "rep-1",
		Current:    model.Summary{PressCount: 12, SocialCount: 30, PostCount: 4},
		ImageIndex: model.ImageIndex{Score: 64.5, Components: map[string]float64{"volume": 40, "press": 70}},
	}
}

func intelReport() *model.IntelligenceReport {
	return &model.IntelligenceReport{
		ID:        "intel-1",
		RiskScore: 58,
		Narratives: []model.Narrative{
			{Title: "Exit rumours", Category: model.CategoryTransfer, Severity: model.SeverityHigh},
		},
	}
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"sunday", time.Date(2026, 3, 15, 20, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"monday midnight", time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"wednesday", time.Date(2026, 3, 11, 13, 30, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"offset zone", time.Date(2026, 3, 9, 0, 30, 0, 0, time.FixedZone("CET", 3600)), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeekStart(tt.in))
		})
	}
}

func TestGenerate_Saves(t *testing.T) {
	st, llm := &mockStore{}, &mockCompleter{}
	st.On("RecentItems", mock.Anything, "subj-1", testNow.AddDate(0, 0, -7), 500).Return(weekItems(), nil)
	st.On("GetLatestReport", mock.Anything, "subj-1").Return(latestReport(), nil)
	st.On("GetLastIntelligenceReport", mock.Anything, "subj-1").Return(intelReport(), nil)

	var prompt string
	llm.On("Complete", mock.Anything, "weekly", mock.Anything, int64(800)).
		Run(func(args mock.Arguments) { prompt = args.String(2) }).
		Return("```json\n{\"summary\": \"Buen momento.\", \"risks\": [\"Rumores de salida\", \" \"], \"opportunities\": [\"Nike\"], \"recommendation\": \"renew\", \"justification\": \"Renovar ya.\"}\n```", nil)
	st.On("SaveWeeklyReport", mock.Anything, mock.AnythingOfType("*model.WeeklyReport")).Return(nil)

	r, err := newTestGenerator(st, llm).Generate(context.Background(), testSubject)
	require.NoError(t, err)

	assert.Equal(t, "subj-1", r.SubjectID)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), r.WeekStart)
	assert.Equal(t, model.RecommendRenew, r.Recommendation)
	assert.Equal(t, []string{"Rumores de salida"}, r.Risks)
	assert.Equal(t, []string{"Nike"}, r.Opportunities)
	assert.Equal(t, "Buen momento.\n\nRenovar ya.", r.Justification)
	assert.InDelta(t, 64.5, r.ImageIndex, 1e-9)
	assert.InDelta(t, 58, r.RiskScore, 1e-9)

	assert.Contains(t, prompt, "Pedro Pérez (Real Betis)")
	assert.Contains(t, prompt, "Image index: 64.5/100")
	assert.Contains(t, prompt, "Items this week: 2 (1 negative)")
	assert.Contains(t, prompt, "[transfer/high] Exit rumours")
	assert.Contains(t, prompt, "Nike: 1")
	st.AssertExpectations(t)
}

func TestGenerate_NoHistory(t *testing.T) {
	st, llm := &mockStore{}, &mockCompleter{}
	st.On("RecentItems", mock.Anything, "subj-1", mock.Anything, 500).Return([]model.ClassifiedItem{}, nil)
	st.On("GetLatestReport", mock.Anything, "subj-1").Return(nil, nil)
	st.On("GetLastIntelligenceReport", mock.Anything, "subj-1").Return(nil, nil)
	llm.On("Complete", mock.Anything, "weekly", mock.MatchedBy(func(p string) bool {
		return containsAll(p, "not available yet", "Topics: none")
	}), int64(800)).Return(`{"resumen": "Sin datos.", "riesgos": [], "oportunidades": [], "recomendacion": "precaución", "justificacion": "Falta información."}`, nil)
	st.On("SaveWeeklyReport", mock.Anything, mock.Anything).Return(nil)

	r, err := newTestGenerator(st, llm).Generate(context.Background(), testSubject)
	require.NoError(t, err)
	assert.Equal(t, model.RecommendCaution, r.Recommendation)
	assert.Empty(t, r.Risks)
	assert.NotNil(t, r.Risks)
	assert.Zero(t, r.ImageIndex)
	assert.Zero(t, r.RiskScore)
	assert.Equal(t, "Sin datos.\n\nFalta información.", r.Justification)
}

func TestGenerate_UnknownRecommendationDefaultsToMonitor(t *testing.T) {
	r, err := parseReport(`Here you go: {"recommendation": "hold", "justification": "x"} thanks`)
	require.NoError(t, err)
	assert.Equal(t, model.RecommendMonitor, r.Recommendation)
	assert.Equal(t, "x", r.Justification)
}

func TestGenerate_Malformed(t *testing.T) {
	st, llm := &mockStore{}, &mockCompleter{}
	st.On("RecentItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(weekItems(), nil)
	st.On("GetLatestReport", mock.Anything, mock.Anything).Return(nil, nil)
	st.On("GetLastIntelligenceReport", mock.Anything, mock.Anything).Return(nil, nil)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("I cannot produce that report.", nil)

	_, err := newTestGenerator(st, llm).Generate(context.Background(), testSubject)
	require.Error(t, err)
	assert.True(t, errors.Is(err, classify.ErrMalformed))
	st.AssertNotCalled(t, "SaveWeeklyReport", mock.Anything, mock.Anything)
}

func TestGenerate_CompleterError(t *testing.T) {
	st, llm := &mockStore{}, &mockCompleter{}
	st.On("RecentItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(weekItems(), nil)
	st.On("GetLatestReport", mock.Anything, mock.Anything).Return(latestReport(), nil)
	st.On("GetLastIntelligenceReport", mock.Anything, mock.Anything).Return(nil, nil)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", eris.New("overloaded"))

	_, err := newTestGenerator(st, llm).Generate(context.Background(), testSubject)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekly: generate")
	st.AssertNotCalled(t, "SaveWeeklyReport", mock.Anything, mock.Anything)
}

func TestGenerate_StoreError(t *testing.T) {
	st, llm := &mockStore{}, &mockCompleter{}
	st.On("RecentItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, eris.New("db down"))

	_, err := newTestGenerator(st, llm).Generate(context.Background(), testSubject)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekly: load recent items")
	llm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_SaveError(t *testing.T) {
	st, llm := &mockStore{}, &mockCompleter{}
	st.On("RecentItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(weekItems(), nil)
	st.On("GetLatestReport", mock.Anything, mock.Anything).Return(nil, nil)
	st.On("GetLastIntelligenceReport", mock.Anything, mock.Anything).Return(nil, nil)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(`{"recommendation": "buy"}`, nil)
	st.On("SaveWeeklyReport", mock.Anything, mock.Anything).Return(eris.New("disk full"))

	_, err := newTestGenerator(st, llm).Generate(context.Background(), testSubject)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekly: save report")
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
