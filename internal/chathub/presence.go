package chathub

import (
	"context"
	"coursechat/backend/internal/models"
	"log/slog"
	"time"
)

// Publisher fans an event out to a room's subscribers.
type Publisher interface {
	Publish(ctx context.Context, kind models.RoomKind, scopeID string, event models.OutboundEvent) (int, error)
}

// PresenceNotifier broadcasts membershipChange events. It never touches
// membership state; the hub has already applied the change when Notify runs.
type PresenceNotifier struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewPresenceNotifier(p Publisher, logger *slog.Logger) *PresenceNotifier {
	return &PresenceNotifier{publisher: p, logger: logger, now: time.Now}
}

// Notify is best effort: failures are logged and otherwise ignored.
func (n *PresenceNotifier) Notify(ctx context.Context, kind models.RoomKind, scopeID, userID string, action models.PresenceAction) {
	event := models.OutboundEvent{
		Event: models.EventMembershipChange,
		Data: models.MembershipChangeEvent{
			RoomID:    scopeID,
			Kind:      kind,
			UserID:    userID,
			Action:    action,
			Timestamp: n.now().UTC(),
		},
	}

	delivered, err := n.publisher.Publish(context.WithoutCancel(ctx), kind, scopeID, event)
	if err != nil {
		n.logger.Debug("presence event not published", "kind", kind, "scope_id", scopeID, "action", action, "error", err)
		return
	}
	n.logger.Debug("presence event published",
		"kind", kind, "scope_id", scopeID, "user_id", userID, "action", action, "delivered", delivered)
}
