package weekly

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/athlete-monitor/internal/model"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) RecentItems(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.ClassifiedItem, error) {
	args := m.Called(ctx, subjectID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ClassifiedItem), args.Error(1)
}

func (m *mockStore) GetLatestReport(ctx context.Context, subjectID string) (*model.ScanReport, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanReport), args.Error(1)
}

func (m *mockStore) GetLastIntelligenceReport(ctx context.Context, subjectID string) (*model.IntelligenceReport, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IntelligenceReport), args.Error(1)
}

func (m *mockStore) SaveWeeklyReport(ctx context.Context, r *model.WeeklyReport) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

// --- Completer Mock ---

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, phase, prompt string, maxTokens int64) (string, error) {
	args := m.Called(ctx, phase, prompt, maxTokens)
	return args.String(0), args.Error(1)
}
