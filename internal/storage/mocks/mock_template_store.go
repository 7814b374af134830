package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/studiodesk/notifier/internal/storage"
)

// MockTemplateStore is a mock implementation of storage.TemplateStore.
type MockTemplateStore struct {
	mock.Mock
}

//nolint:revive
func (m *MockTemplateStore) GetTemplate(ctx context.Context, id string) (*storage.Template, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Template), args.Error(1)
}

//nolint:revive
func (m *MockTemplateStore) FindTemplate(ctx context.Context, code string, channel storage.Channel) (*storage.Template, error) {
	args := m.Called(ctx, code, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Template), args.Error(1)
}

//nolint:revive
func (m *MockTemplateStore) ListTemplates(ctx context.Context) ([]*storage.Template, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.Template), args.Error(1)
}

//nolint:revive
func (m *MockTemplateStore) SaveTemplate(ctx context.Context, tpl *storage.Template) error {
	args := m.Called(ctx, tpl)
	return args.Error(0)
}
