package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/studiodesk/notifier/internal/storage"
)

// MockRecipientStore is a mock implementation of storage.RecipientStore.
type MockRecipientStore struct {
	mock.Mock
}

//nolint:revive
func (m *MockRecipientStore) GetRecipient(ctx context.Context, id string) (*storage.Recipient, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Recipient), args.Error(1)
}

//nolint:revive
func (m *MockRecipientStore) ListRecipients(ctx context.Context, filter storage.RecipientFilter) ([]*storage.Recipient, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.Recipient), args.Error(1)
}

//nolint:revive
func (m *MockRecipientStore) SaveRecipient(ctx context.Context, r *storage.Recipient) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}
