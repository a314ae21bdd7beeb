package scheduler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/notify"
	"github.com/sells-group/athlete-monitor/internal/scan"
)

// --- Scanner Mock ---

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) Busy() bool {
	return m.Called().Bool(0)
}

func (m *mockScanner) RunScan(ctx context.Context, in model.SubjectInput, trigger model.Trigger) (*scan.ScanResult, error) {
	args := m.Called(ctx, in, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scan.ScanResult), args.Error(1)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Subject), args.Error(1)
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

// --- Weekly Mock ---

type mockWeekly struct {
	mock.Mock
}

func (m *mockWeekly) Generate(ctx context.Context, subject model.Subject) (*model.WeeklyReport, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WeeklyReport), args.Error(1)
}

// --- Notifier Mock ---

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Name() string { return "mock" }

func (m *mockNotifier) Notify(ctx context.Context, msg notify.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
