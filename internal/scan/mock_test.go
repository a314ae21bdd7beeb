package scan

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/athlete-monitor/internal/classify"
	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/notify"
	"github.com/sells-group/athlete-monitor/internal/sources"
)

type mockAdapter struct {
	mock.Mock
	name string
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Fetch(ctx context.Context, req sources.Request) ([]model.RawItem, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RawItem), args.Error(1)
}

// mockProfileAdapter is an adapter that also reads profile fields.
type mockProfileAdapter struct {
	mockAdapter
}

func (m *mockProfileAdapter) FetchProfile(ctx context.Context, subject model.Subject) (map[string]string, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

// Classify accepts either a fixed slice or a func deriving one
// classification per batch item.
func (m *mockGateway) Classify(ctx context.Context, batch []model.RawItem, subject classify.SubjectContext) ([]model.Classification, error) {
	args := m.Called(ctx, batch, subject)
	if fn, ok := args.Get(0).(func([]model.RawItem) []model.Classification); ok {
		return fn(batch), args.Error(1)
	}
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

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, phase, prompt string, maxTokens int64) (string, error) {
	args := m.Called(ctx, phase, prompt, maxTokens)
	return args.String(0), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Name() string { return "mock" }

func (m *mockNotifier) Notify(ctx context.Context, msg notify.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
