package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/studiodesk/notifier/internal/storage"
)

// MockNotificationStore is a mock implementation of storage.NotificationStore.
type MockNotificationStore struct {
	mock.Mock
}

//nolint:revive
func (m *MockNotificationStore) CreateNotification(ctx context.Context, item *storage.WorkItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

//nolint:revive
func (m *MockNotificationStore) GetNotification(ctx context.Context, id string) (*storage.WorkItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.WorkItem), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) ListNotifications(ctx context.Context, status storage.Status, limit int) ([]*storage.WorkItem, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.WorkItem), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) ListDue(ctx context.Context, now time.Time, limit int, skip ...storage.Channel) ([]*storage.WorkItem, error) {
	args := m.Called(ctx, now, limit, skip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.WorkItem), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) Claim(ctx context.Context, id string, now time.Time) (*storage.WorkItem, error) {
	args := m.Called(ctx, id, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.WorkItem), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) MarkSent(ctx context.Context, id, externalID string, now time.Time) error {
	args := m.Called(ctx, id, externalID, now)
	return args.Error(0)
}

//nolint:revive
func (m *MockNotificationStore) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, note string, now time.Time) error {
	args := m.Called(ctx, id, nextRetryAt, note, now)
	return args.Error(0)
}

//nolint:revive
func (m *MockNotificationStore) MarkFailed(ctx context.Context, id, errText string, now time.Time) error {
	args := m.Called(ctx, id, errText, now)
	return args.Error(0)
}

//nolint:revive
func (m *MockNotificationStore) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	args := m.Called(ctx, cutoff, now)
	return args.Int(0), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) Cancel(ctx context.Context, id string, now time.Time) error {
	args := m.Called(ctx, id, now)
	return args.Error(0)
}

//nolint:revive
func (m *MockNotificationStore) Retry(ctx context.Context, id string, now time.Time) error {
	args := m.Called(ctx, id, now)
	return args.Error(0)
}

//nolint:revive
func (m *MockNotificationStore) CountByStatus(ctx context.Context) (map[storage.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[storage.Status]int), args.Error(1)
}

//nolint:revive
func (m *MockNotificationStore) Totals(ctx context.Context, since, until time.Time) ([]storage.TotalsRow, error) {
	args := m.Called(ctx, since, until)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.TotalsRow), args.Error(1)
}
