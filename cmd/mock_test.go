package main

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/scan"
	"github.com/sells-group/athlete-monitor/internal/scheduler"
)

// --- Scan Service Mock ---

type mockScanService struct {
	mock.Mock
}

func (m *mockScanService) Progress() scan.Progress {
	return m.Called().Get(0).(scan.Progress)
}

func (m *mockScanService) SourceStates() map[string]string {
	return m.Called().Get(0).(map[string]string)
}

func (m *mockScanService) Start(in model.SubjectInput, trigger model.Trigger) (func(context.Context) (*scan.ScanResult, error), error) {
	args := m.Called(in, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func(context.Context) (*scan.ScanResult, error)), args.Error(1)
}

// --- Scheduler Status Mock ---

type mockStatusSource struct {
	mock.Mock
}

func (m *mockStatusSource) Status() scheduler.Status {
	return m.Called().Get(0).(scheduler.Status)
}
