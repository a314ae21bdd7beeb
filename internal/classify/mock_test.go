package classify

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Gateway Mock ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Classify(ctx context.Context, batch []model.RawItem, subject SubjectContext) ([]model.Classification, error) {
	args := m.Called(ctx, batch, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Classification), args.Error(1)
}

func (m *mockGateway) SynthesizeNarratives(ctx context.Context, digest string, subject SubjectContext) (*NarrativeSet, error) {
	args := m.Called(ctx, digest, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*NarrativeSet), args.Error(1)
}
