// Package storagetest provides a testify mock of storage.Storage.
package storagetest

import (
	"context"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a comprehensive mock implementation of the storage.Storage interface.
type MockStorage struct {
	mock.Mock
}

var _ storage.Storage = (*MockStorage)(nil)

// Room operations
func (m *MockStorage) GetOrCreateRoom(ctx context.Context, kind models.RoomKind, scopeID string) (*models.ChatRoom, error) {
	args := m.Called(ctx, kind, scopeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatRoom), args.Error(1)
}

func (m *MockStorage) FindRoom(ctx context.Context, kind models.RoomKind, scopeID string) (*models.ChatRoom, error) {
	args := m.Called(ctx, kind, scopeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatRoom), args.Error(1)
}

func (m *MockStorage) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatRoom), args.Error(1)
}

// Message operations
func (m *MockStorage) Append(ctx context.Context, roomID, senderID, content string) (*models.ChatMessage, error) {
	args := m.Called(ctx, roomID, senderID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatMessage), args.Error(1)
}

func (m *MockStorage) ListByRoom(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatMessage), args.Error(1)
}

// Enrollment operations
func (m *MockStorage) IsEnrolledInCourse(ctx context.Context, userID, courseID string) (bool, error) {
	args := m.Called(ctx, userID, courseID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) IsEnrolledInCohort(ctx context.Context, userID, cohortID string) (bool, error) {
	args := m.Called(ctx, userID, cohortID)
	return args.Bool(0), args.Error(1)
}
