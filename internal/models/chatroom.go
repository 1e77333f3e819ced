package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoomKind identifies what a chat room is scoped to.
type RoomKind string

const (
	RoomKindCourse RoomKind = "COURSE"
	RoomKindCohort RoomKind = "COHORT"
)

// Valid reports whether k is one of the known room kinds.
func (k RoomKind) Valid() bool {
	return k == RoomKindCourse || k == RoomKindCohort
}

// ErrInvalidRoomKind is returned for a kind other than COURSE or COHORT.
var ErrInvalidRoomKind = errors.New("invalid room kind")

// ParseRoomKind accepts "course"/"cohort" in any case.
func ParseRoomKind(s string) (RoomKind, error) {
	k := RoomKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomKind, s)
	}
	return k, nil
}

// RoomKey is the in-memory subscription key of a room: "KIND:scopeID".
type RoomKey string

// NewRoomKey builds the key for a (kind, scopeID) pair.
func NewRoomKey(kind RoomKind, scopeID string) RoomKey {
	return RoomKey(string(kind) + ":" + scopeID)
}

// Split returns the kind and scope id encoded in the key.
func (k RoomKey) Split() (RoomKind, string) {
	kind, scopeID, _ := strings.Cut(string(k), ":")
	return RoomKind(kind), scopeID
}

// ChatRoom is the durable record of a course- or cohort-scoped chat.
// There is at most one room per (Kind, ScopeID); rows are created once and
// never updated by the chat core.
type ChatRoom struct {
	// ID is the unique identifier for the chat room (UUID).
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	// Kind is COURSE or COHORT.
	Kind RoomKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_room_scope" json:"kind"`
	// ScopeID is the course id or cohort id, depending on Kind.
	ScopeID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_room_scope" json:"scope_id"`
	// CreatedAt is the timestamp when the chat room was created.
	CreatedAt time.Time `json:"created_at"`
}

// Key returns the subscription key of the room.
func (r *ChatRoom) Key() RoomKey {
	return NewRoomKey(r.Kind, r.ScopeID)
}

// BeforeCreate generates a UUID for the room if none was set.
func (r *ChatRoom) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}
