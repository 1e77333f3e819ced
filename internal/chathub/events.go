package chathub

import (
	"context"
	"coursechat/backend/internal/config"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// HandleInbound decodes one frame received from client and runs the event it
// carries. Failures are reported to client as error events; the connection
// stays open. The returned error is for logging only.
func (m *ManagerService) HandleInbound(ctx context.Context, client Client, frame []byte) error {
	if m.operationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.operationTimeout)
		defer cancel()
	}

	connID := client.GetConnectionID()

	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		m.sendError(ctx, connID, "malformed event")
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		m.sendError(ctx, connID, "malformed event")
		return errMissingEventName
	}

	err := m.dispatch(ctx, client, env)
	if err != nil {
		m.sendError(ctx, connID, userMessage(err))
		m.logger.Info("inbound event failed", "conn_id", connID, "event", env.Event, "error", err)
	}
	return err
}

func (m *ManagerService) dispatch(ctx context.Context, client Client, env models.Envelope) error {
	connID := client.GetConnectionID()

	switch env.Event {
	case models.EventRequestTestAccess:
		err := m.GrantTestAccess(ctx, connID)
		if errors.Is(err, ErrTestAccessDisabled) {
			// already answered with an error event
			return nil
		}
		return err

	case models.EventJoinCourseRoom, models.EventJoinCohortRoom:
		scopeID, err := models.ParseRoomRef(env.Data)
		if err != nil {
			return err
		}
		// a denial has already been reported by Join
		_, err = m.Join(ctx, connID, joinKind(env.Event), scopeID)
		return err

	case models.EventLeaveCourseRoom, models.EventLeaveCohortRoom:
		scopeID, err := models.ParseRoomRef(env.Data)
		if err != nil {
			return err
		}
		_, err = m.Leave(ctx, connID, leaveKind(env.Event), scopeID)
		return err

	case models.EventCourseChatMessage, models.EventCohortChatMessage:
		var payload models.ChatMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return err
		}
		payload.RoomID = strings.TrimSpace(payload.RoomID)
		if payload.RoomID == "" {
			return models.ErrMissingRoomID
		}
		kind := messageKind(env.Event)
		if err := m.requireSubscription(ctx, connID, kind, payload.RoomID); err != nil {
			return err
		}
		_, err := m.PostMessage(ctx, kind, payload.RoomID, client.GetIdentity().UserID, payload.Content)
		return err

	case models.EventGetCourseChatHistory, models.EventGetCohortChatHistory:
		scopeID, err := models.ParseRoomRef(env.Data)
		if err != nil {
			return err
		}
		kind := historyKind(env.Event)
		if err := m.requireSubscription(ctx, connID, kind, scopeID); err != nil {
			return err
		}
		msgs, err := m.History(ctx, kind, scopeID)
		if err != nil {
			return err
		}
		events := make([]models.MessageEvent, 0, len(msgs))
		for _, msg := range msgs {
			events = append(events, models.NewMessageEvent(scopeID, msg))
		}
		m.reply(ctx, connID, models.OutboundEvent{
			Event: models.EventChatHistory,
			Data:  models.HistoryEvent{RoomID: scopeID, Kind: kind, Messages: events},
		})
		return nil

	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, env.Event)
	}
}

var (
	errUnknownEvent     = errors.New("unknown event")
	errMissingEventName = errors.New("envelope has no event name")
)

func (m *ManagerService) requireSubscription(ctx context.Context, connID string, kind models.RoomKind, scopeID string) error {
	ok, err := m.IsSubscribed(ctx, connID, models.NewRoomKey(kind, scopeID))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotSubscribed
	}
	return nil
}

func joinKind(event string) models.RoomKind {
	if event == models.EventJoinCohortRoom {
		return models.RoomKindCohort
	}
	return models.RoomKindCourse
}

func leaveKind(event string) models.RoomKind {
	if event == models.EventLeaveCohortRoom {
		return models.RoomKindCohort
	}
	return models.RoomKindCourse
}

func messageKind(event string) models.RoomKind {
	if event == models.EventCohortChatMessage {
		return models.RoomKindCohort
	}
	return models.RoomKindCourse
}

func historyKind(event string) models.RoomKind {
	if event == models.EventGetCohortChatHistory {
		return models.RoomKindCohort
	}
	return models.RoomKindCourse
}

// userMessage maps an operation error to the text sent in an error event.
// Storage details stay in the logs.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidContent):
		return fmt.Sprintf("message content must be non-empty and at most %d characters", config.MaxContentLength)
	case errors.Is(err, ErrNotSubscribed):
		return "join the room before using it"
	case errors.Is(err, storage.ErrRoomNotFound):
		return "room does not exist"
	case errors.Is(err, models.ErrMissingRoomID):
		return "room id is required"
	case errors.Is(err, errUnknownEvent):
		return "unknown event"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, ErrHubStopped):
		return "server is shutting down"
	case storage.IsStorageError(err):
		return "could not complete the request, please retry"
	default:
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return "malformed event payload"
		}
		return "request failed"
	}
}
