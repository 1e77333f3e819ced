package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Inbound socket events.
const (
	EventRequestTestAccess    = "requestTestAccess"
	EventJoinCourseRoom       = "joinCourseRoom"
	EventJoinCohortRoom       = "joinCohortRoom"
	EventLeaveCourseRoom      = "leaveCourseRoom"
	EventLeaveCohortRoom      = "leaveCohortRoom"
	EventCourseChatMessage    = "courseChatMessage"
	EventCohortChatMessage    = "cohortChatMessage"
	EventGetCourseChatHistory = "getCourseChatHistory"
	EventGetCohortChatHistory = "getCohortChatHistory"
)

// Outbound socket events.
const (
	EventCourseMessage     = "course_message"
	EventCohortMessage     = "cohort_message"
	EventMembershipChange  = "membershipChange"
	EventError             = "error"
	EventTestAccessGranted = "testAccessGranted"
	EventChatHistory       = "chat_history"
)

// PresenceAction is the action carried by a membershipChange event.
type PresenceAction string

const (
	PresenceJoined PresenceAction = "joined"
	PresenceLeft   PresenceAction = "left"
)

// Envelope is one framed event on the socket, in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEvent is queued on a client's send channel and encoded by its
// write pump.
type OutboundEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// MessageEvent is the payload of course_message / cohort_message.
type MessageEvent struct {
	ID       uint      `json:"id"`
	RoomID   string    `json:"roomId"`
	SenderID string    `json:"senderId"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sentAt"`
}

// MembershipChangeEvent is the payload of membershipChange.
type MembershipChangeEvent struct {
	RoomID    string         `json:"roomId"`
	Kind      RoomKind       `json:"kind"`
	UserID    string         `json:"userId"`
	Action    PresenceAction `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorEvent is the payload of error; it only ever goes to the originating connection.
type ErrorEvent struct {
	Message string `json:"message"`
}

// HistoryEvent is the payload of chat_history.
type HistoryEvent struct {
	RoomID   string         `json:"roomId"`
	Kind     RoomKind       `json:"kind"`
	Messages []MessageEvent `json:"messages"`
}

// ChatMessagePayload is the body of courseChatMessage / cohortChatMessage.
// SenderID is deliberately absent: it comes from the connection identity.
type ChatMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// NewMessageEvent converts a stored message into its wire form. scopeID is
// the course or cohort id the room belongs to.
func NewMessageEvent(scopeID string, msg ChatMessage) MessageEvent {
	return MessageEvent{
		ID:       msg.ID,
		RoomID:   scopeID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		SentAt:   msg.SentAt,
	}
}

// MessageEventName returns the outbound event used for messages in rooms of kind k.
func MessageEventName(k RoomKind) string {
	if k == RoomKindCohort {
		return EventCohortMessage
	}
	return EventCourseMessage
}

// ErrMissingRoomID is returned when a room-targeted payload names no room.
var ErrMissingRoomID = errors.New("room id is required")

// ParseRoomRef extracts a room scope id from a join/leave/history payload.
// Clients send either a bare JSON string or an object with roomId,
// courseId or cohortId.
func ParseRoomRef(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", ErrMissingRoomID
	}

	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		if id = strings.TrimSpace(id); id == "" {
			return "", ErrMissingRoomID
		}
		return id, nil
	}

	var obj struct {
		RoomID   string `json:"roomId"`
		CourseID string `json:"courseId"`
		CohortID string `json:"cohortId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	for _, candidate := range []string{obj.RoomID, obj.CourseID, obj.CohortID} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate, nil
		}
	}
	return "", ErrMissingRoomID
}
