package models

import "time"

// ChatMessage is a persisted chat message. Rows are append-only: once
// written they are never updated, and history is read back ordered by
// SentAt (ties broken by ID).
type ChatMessage struct {
	// ID is the auto-incremented primary key.
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	// RoomID references the owning ChatRoom.
	RoomID string `gorm:"type:varchar(36);not null;index:idx_room_sent,priority:1" json:"room_id"`
	// SenderID is the user id of the author, taken from the authenticated identity.
	SenderID string `gorm:"type:varchar(64);not null" json:"sender_id"`
	// Content is the text of the message.
	Content string `gorm:"type:text;not null" json:"content"`
	// SentAt is assigned by the message store at persistence time.
	SentAt time.Time `gorm:"not null;index:idx_room_sent,priority:2" json:"sent_at"`

	Room *ChatRoom `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}
