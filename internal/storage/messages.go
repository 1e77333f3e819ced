package storage

import (
	"context"
	"coursechat/backend/internal/models"
	"time"
)

// Append persists a message and returns it with its ID and SentAt filled in.
// SentAt is taken from the store clock, never from the client.
func (s *Service) Append(ctx context.Context, roomID, senderID, content string) (*models.ChatMessage, error) {
	if err := s.seedSentAt(ctx, roomID); err != nil {
		s.logger.Error("failed to read latest message", "room_id", roomID, "error", err)
		return nil, wrap("append message", err)
	}

	msg := &models.ChatMessage{
		RoomID:   roomID,
		SenderID: senderID,
		Content:  content,
		SentAt:   s.nextSentAt(roomID),
	}

	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		s.logger.Error("failed to save message", "room_id", roomID, "sender_id", senderID, "error", err)
		return nil, wrap("append message", err)
	}
	return msg, nil
}

// ListByRoom returns the full history of a room ordered by SentAt, oldest
// first. There is no pagination. An unknown room yields an empty slice.
func (s *Service) ListByRoom(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	history := make([]models.ChatMessage, 0)

	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at asc").
		Order("id asc").
		Find(&history).Error
	if err != nil {
		s.logger.Error("failed to get chat history", "room_id", roomID, "error", err)
		return nil, wrap("list messages", err)
	}
	return history, nil
}

// nextSentAt returns a UTC timestamp, truncated to the microsecond precision
// Postgres keeps, that is not earlier than the last one handed out for the room.
func (s *Service) nextSentAt(roomID string) time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	ts := s.now().UTC().Truncate(time.Microsecond)
	if last, ok := s.lastSentAt[roomID]; ok && ts.Before(last) {
		ts = last
	}
	s.lastSentAt[roomID] = ts
	return ts
}

// seedSentAt loads the newest SentAt of a room the first time this process
// writes to it, so the clamp in nextSentAt also holds across restarts and
// against rows written by other instances before that.
func (s *Service) seedSentAt(ctx context.Context, roomID string) error {
	s.clockMu.Lock()
	_, seeded := s.lastSentAt[roomID]
	s.clockMu.Unlock()
	if seeded {
		return nil
	}

	var latest []models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at desc").
		Order("id desc").
		Limit(1).
		Find(&latest).Error
	if err != nil || len(latest) == 0 {
		return err
	}

	ts := latest[0].SentAt.UTC()
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	if last, ok := s.lastSentAt[roomID]; !ok || last.Before(ts) {
		s.lastSentAt[roomID] = ts
	}
	return nil
}
