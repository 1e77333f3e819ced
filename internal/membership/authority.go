// Package membership decides whether an identity may join a chat room.
package membership

import (
	"context"
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"
	"errors"
	"log/slog"
)

// Reason explains a Decision.
type Reason int

const (
	ReasonEnrolled Reason = iota + 1
	ReasonTestOverride
	ReasonNotEnrolled
	ReasonRoomNotFound
	ReasonInvalidKind
	ReasonLookupFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonEnrolled:
		return "enrolled"
	case ReasonTestOverride:
		return "test_override"
	case ReasonNotEnrolled:
		return "not_enrolled"
	case ReasonRoomNotFound:
		return "room_not_found"
	case ReasonInvalidKind:
		return "invalid_kind"
	case ReasonLookupFailed:
		return "lookup_failed"
	default:
		return "unknown"
	}
}

// Decision is the outcome of an authorization check. A denial is a normal
// result, not an error.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Room is set when the room record was looked up and found. A test
	// override skips the lookup and leaves it nil.
	Room *models.ChatRoom
}

func allow(reason Reason, room *models.ChatRoom) Decision {
	return Decision{Allowed: true, Reason: reason, Room: room}
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Subject is who asks to join: the connection's identity plus whether the
// connection was granted test access.
type Subject struct {
	Identity   auth.Identity
	TestAccess bool
}

type RoomFinder interface {
	FindRoom(ctx context.Context, kind models.RoomKind, scopeID string) (*models.ChatRoom, error)
}

// Authority checks enrollments through an external collaborator.
type Authority struct {
	rooms       RoomFinder
	enrollments storage.EnrollmentChecker

	// testAccessEnabled gates the override; with it off, Subject.TestAccess
	// is ignored.
	testAccessEnabled bool
	logger            *slog.Logger
}

func NewAuthority(rooms RoomFinder, enrollments storage.EnrollmentChecker, testAccessEnabled bool, logger *slog.Logger) *Authority {
	return &Authority{
		rooms:             rooms,
		enrollments:       enrollments,
		testAccessEnabled: testAccessEnabled,
		logger:            logger.With(slog.String("component", "membership")),
	}
}

// TestAccessEnabled reports whether connections may be granted test access.
func (a *Authority) TestAccessEnabled() bool {
	return a.testAccessEnabled
}

// AuthorizeJoin decides whether subject may subscribe to the room (kind, scopeID).
func (a *Authority) AuthorizeJoin(ctx context.Context, subject Subject, kind models.RoomKind, scopeID string) Decision {
	if subject.TestAccess && a.testAccessEnabled {
		a.logger.Warn("join allowed by test override",
			"user_id", subject.Identity.UserID, "kind", kind, "scope_id", scopeID)
		return allow(ReasonTestOverride, nil)
	}

	if !kind.Valid() {
		return deny(ReasonInvalidKind)
	}

	room, err := a.rooms.FindRoom(ctx, kind, scopeID)
	if errors.Is(err, storage.ErrRoomNotFound) {
		return deny(ReasonRoomNotFound)
	}
	if err != nil {
		a.logger.Error("room lookup failed during authorization", "kind", kind, "scope_id", scopeID, "error", err)
		return deny(ReasonLookupFailed)
	}

	var enrolled bool
	switch kind {
	case models.RoomKindCourse:
		enrolled, err = a.enrollments.IsEnrolledInCourse(ctx, subject.Identity.UserID, scopeID)
	case models.RoomKindCohort:
		enrolled, err = a.enrollments.IsEnrolledInCohort(ctx, subject.Identity.UserID, scopeID)
	}
	if err != nil {
		a.logger.Error("enrollment lookup failed during authorization",
			"user_id", subject.Identity.UserID, "kind", kind, "scope_id", scopeID, "error", err)
		return deny(ReasonLookupFailed)
	}
	if !enrolled {
		return deny(ReasonNotEnrolled)
	}
	return allow(ReasonEnrolled, room)
}
