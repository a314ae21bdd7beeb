package narrative

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/athlete-monitor/internal/classify"
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

func (m *mockStore) GetLastIntelligenceReport(ctx context.Context, subjectID string) (*model.IntelligenceReport, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IntelligenceReport), args.Error(1)
}

func (m *mockStore) SaveIntelligenceReport(ctx context.Context, r *model.IntelligenceReport) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

// --- Gateway Mock ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Classify(ctx context.Context, batch []model.RawItem, subject classify.SubjectContext) ([]model.Classification, error) {
	args := m.Called(ctx, batch, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Classification), args.Error(1)
}

func (m *mockGateway) SynthesizeNarratives(ctx context.Context, digest string, subject classify.SubjectContext) (*classify.NarrativeSet, error) {
	args := m.Called(ctx, digest, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classify.NarrativeSet), args.Error(1)
}
