package chathub

import (
	"context"
	"coursechat/backend/internal/config"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var ErrInvalidContent = errors.New("message content is empty or too long")

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" || utf8.RuneCountInString(content) > config.MaxContentLength {
		return ErrInvalidContent
	}
	return nil
}

// PostMessage persists a message and then broadcasts it to the room's live
// subscribers. If the append fails nothing is broadcast. Posts to the same
// room are serialized, so live delivery order matches history order.
func (m *ManagerService) PostMessage(ctx context.Context, kind models.RoomKind, scopeID, senderID, content string) (*models.ChatMessage, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}

	room, err := m.Storage.FindRoom(ctx, kind, scopeID)
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	return m.postToRoom(ctx, room, senderID, content)
}

// PostMessageToRoom is PostMessage for callers that already hold the room
// record, such as the REST fallback.
func (m *ManagerService) PostMessageToRoom(ctx context.Context, room *models.ChatRoom, senderID, content string) (*models.ChatMessage, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	return m.postToRoom(ctx, room, senderID, content)
}

func (m *ManagerService) postToRoom(ctx context.Context, room *models.ChatRoom, senderID, content string) (*models.ChatMessage, error) {
	unlock, err := m.roomLocks.Lock(ctx, room.Key())
	if err != nil {
		m.logger.Warn("gave up waiting for room lock", "room_id", room.ID, "sender_id", senderID, "error", err)
		return nil, fmt.Errorf("post message: %w", err)
	}
	defer unlock()

	msg, err := m.Storage.Append(ctx, room.ID, senderID, content)
	if err != nil {
		m.logger.Error("failed to persist message", "room_id", room.ID, "sender_id", senderID, "error", err)
		return nil, fmt.Errorf("post message: %w", err)
	}

	event := models.OutboundEvent{
		Event: models.MessageEventName(room.Kind),
		Data:  models.NewMessageEvent(room.ScopeID, *msg),
	}
	// The message is durable at this point; a broadcast failure only costs
	// live delivery.
	delivered, err := m.Publish(context.WithoutCancel(ctx), room.Kind, room.ScopeID, event)
	if err != nil {
		m.logger.Warn("message persisted but not broadcast", "room_id", room.ID, "message_id", msg.ID, "error", err)
		return msg, nil
	}

	m.logger.Debug("message posted", "room_id", room.ID, "message_id", msg.ID, "sender_id", senderID, "delivered", delivered)
	return msg, nil
}

// History returns the room's messages in ascending SentAt order. A room that
// does not exist has an empty history.
func (m *ManagerService) History(ctx context.Context, kind models.RoomKind, scopeID string) ([]models.ChatMessage, error) {
	room, err := m.Storage.FindRoom(ctx, kind, scopeID)
	if errors.Is(err, storage.ErrRoomNotFound) {
		return []models.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	msgs, err := m.Storage.ListByRoom(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return msgs, nil
}
