package notify

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockNotifier struct {
	mock.Mock
	name string
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Notify(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
