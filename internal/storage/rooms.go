package storage

import (
	"context"
	"coursechat/backend/internal/models"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetOrCreateRoom returns the room for (kind, scopeID), creating it if needed.
// The insert is ON CONFLICT DO NOTHING against the (kind, scope_id) unique
// index, so concurrent callers always converge on the same row.
func (s *Service) GetOrCreateRoom(ctx context.Context, kind models.RoomKind, scopeID string) (*models.ChatRoom, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidRoomKind, kind)
	}
	if scopeID == "" {
		return nil, errors.New("scope id is required")
	}

	candidate := models.ChatRoom{Kind: kind, ScopeID: scopeID}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "scope_id"}},
			DoNothing: true,
		}).
		Create(&candidate).Error
	if err != nil {
		s.logger.Error("failed to create room", "kind", kind, "scope_id", scopeID, "error", err)
		return nil, wrap("create room", err)
	}

	room, err := s.FindRoom(ctx, kind, scopeID)
	if err != nil {
		return nil, err
	}
	if room.ID == candidate.ID {
		s.logger.Info("chat room created", "room_id", room.ID, "kind", kind, "scope_id", scopeID)
	}
	return room, nil
}

// FindRoom looks a room up by its scope. It returns ErrRoomNotFound when absent.
func (s *Service) FindRoom(ctx context.Context, kind models.RoomKind, scopeID string) (*models.ChatRoom, error) {
	var room models.ChatRoom

	err := s.DB.WithContext(ctx).
		Where("kind = ? AND scope_id = ?", kind, scopeID).
		First(&room).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		s.logger.Error("failed to find room", "kind", kind, "scope_id", scopeID, "error", err)
		return nil, wrap("find room", err)
	}
	return &room, nil
}

func (s *Service) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom

	err := s.DB.WithContext(ctx).Where("id = ?", roomID).First(&room).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		s.logger.Error("failed to get room", "room_id", roomID, "error", err)
		return nil, wrap("get room", err)
	}
	return &room, nil
}
