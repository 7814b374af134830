package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/service"
	"github.com/studiodesk/notifier/internal/storage"
)

// MockTemplateService is a mock implementation of service.TemplateService.
type MockTemplateService struct {
	mock.Mock
}

//nolint:revive
func (m *MockTemplateService) ListTemplates(ctx context.Context) ([]*storage.Template, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.Template), args.Error(1)
}

//nolint:revive
func (m *MockTemplateService) GetTemplate(ctx context.Context, id string) (*storage.Template, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Template), args.Error(1)
}

//nolint:revive
func (m *MockTemplateService) CreateTemplate(ctx context.Context, tpl *storage.Template) (*storage.Template, error) {
	args := m.Called(ctx, tpl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Template), args.Error(1)
}

//nolint:revive
func (m *MockTemplateService) UpdateTemplate(ctx context.Context, id string, tpl *storage.Template) (*storage.Template, error) {
	args := m.Called(ctx, id, tpl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Template), args.Error(1)
}

//nolint:revive
func (m *MockTemplateService) ImportTemplates(ctx context.Context, tpls []storage.Template) (int, error) {
	args := m.Called(ctx, tpls)
	return args.Int(0), args.Error(1)
}

//nolint:revive
func (m *MockTemplateService) PreviewTemplate(ctx context.Context, req service.PreviewRequest) (render.Content, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(render.Content), args.Error(1)
}

//nolint:revive
func (m *MockTemplateService) ExtractVariables(ctx context.Context, text string) ([]string, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

//nolint:revive
func (m *MockTemplateService) ClearCache(ctx context.Context, id string) {
	m.Called(ctx, id)
}
