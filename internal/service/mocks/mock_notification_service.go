package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/studiodesk/notifier/internal/notification"
	"github.com/studiodesk/notifier/internal/service"
	"github.com/studiodesk/notifier/internal/storage"
)

// MockNotificationService is a mock implementation of service.NotificationService.
type MockNotificationService struct {
	mock.Mock
}

//nolint:revive
func (m *MockNotificationService) CreateNotification(ctx context.Context, req service.CreateRequest) (*storage.WorkItem, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.WorkItem), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) SendImmediate(ctx context.Context, req service.CreateRequest) (notification.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(notification.Result), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) CancelNotification(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

//nolint:revive
func (m *MockNotificationService) RetryNotification(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

//nolint:revive
func (m *MockNotificationService) GetNotification(ctx context.Context, id string) (*storage.WorkItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.WorkItem), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) ListNotifications(ctx context.Context, status storage.Status, limit int) ([]*storage.WorkItem, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.WorkItem), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) QueueSnapshot(ctx context.Context) (*service.QueueSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.QueueSnapshot), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) Totals(ctx context.Context, since, until time.Time) ([]storage.TotalsRow, error) {
	args := m.Called(ctx, since, until)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.TotalsRow), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) ListEmailLog(ctx context.Context, limit int) ([]storage.EmailSendLogEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.EmailSendLogEntry), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) Expand(ctx context.Context, filter storage.RecipientFilter, channel storage.Channel) ([]service.Target, int, error) {
	args := m.Called(ctx, filter, channel)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]service.Target), args.Int(1), args.Error(2)
}

//nolint:revive
func (m *MockNotificationService) CreateMassSend(ctx context.Context, req service.MassSendRequest) (*service.MassSendResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.MassSendResult), args.Error(1)
}
