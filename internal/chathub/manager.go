package chathub

import (
	"context"
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/membership"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"
	"errors"
	"log/slog"
	"time"
)

var (
	ErrHubStopped         = errors.New("chat hub is not running")
	ErrNotConnected       = errors.New("connection is not registered")
	ErrNotSubscribed      = errors.New("connection has not joined this room")
	ErrTestAccessDisabled = errors.New("test access is disabled")
)

// Store is the persistence the hub needs: room lookups and message history.
type Store interface {
	storage.RoomRegistry
	storage.MessageStore
}

// Authorizer decides room joins.
type Authorizer interface {
	AuthorizeJoin(ctx context.Context, subject membership.Subject, kind models.RoomKind, scopeID string) membership.Decision
	TestAccessEnabled() bool
}

type session struct {
	client     Client
	identity   auth.Identity
	rooms      map[models.RoomKey]struct{}
	testAccess bool
}

// ManagerService is the connection hub. Subscription state is owned by the
// goroutine running Run: every read or write of connections and rooms happens
// inside an op executed there, so the maps need no locks. Storage and
// enrollment I/O never runs on that goroutine.
type ManagerService struct {
	Storage   Store
	Authority Authorizer

	presence *PresenceNotifier
	logger   *slog.Logger

	ops     chan func()
	stopped chan struct{}

	connections map[string]*session
	rooms       map[models.RoomKey]map[string]struct{}

	roomLocks        keyedMutex
	operationTimeout time.Duration
}

type Option func(*ManagerService)

// WithOperationTimeout bounds each inbound socket event. Zero disables it.
func WithOperationTimeout(d time.Duration) Option {
	return func(m *ManagerService) { m.operationTimeout = d }
}

// WithClock sets the clock used for presence timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *ManagerService) { m.presence.now = now }
}

func NewManagerService(s Store, authority Authorizer, logger *slog.Logger, opts ...Option) *ManagerService {
	m := &ManagerService{
		Storage:     s,
		Authority:   authority,
		logger:      logger.With(slog.String("component", "chathub")),
		ops:         make(chan func()),
		stopped:     make(chan struct{}),
		connections: make(map[string]*session),
		rooms:       make(map[models.RoomKey]map[string]struct{}),
	}
	m.presence = NewPresenceNotifier(m, m.logger)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes hub ops until ctx is cancelled, then closes every client.
// It must be called exactly once.
func (m *ManagerService) Run(ctx context.Context) {
	m.logger.Info("chat hub started")
	defer close(m.stopped)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case op := <-m.ops:
			op()
		}
	}
}

func (m *ManagerService) shutdown() {
	for id, sess := range m.connections {
		sess.client.Close()
		delete(m.connections, id)
	}
	m.rooms = make(map[models.RoomKey]map[string]struct{})
	m.logger.Info("chat hub stopped")
}

// exec runs fn on the hub goroutine and waits for it to finish.
func (m *ManagerService) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case m.ops <- op:
	case <-m.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// Run executes an accepted op synchronously, so done always closes.
	<-done
	return nil
}

// Register adds a connection with no subscriptions.
func (m *ManagerService) Register(ctx context.Context, client Client) error {
	return m.exec(ctx, func() {
		id := client.GetConnectionID()
		if _, exists := m.connections[id]; exists {
			return
		}
		m.connections[id] = &session{
			client:   client,
			identity: client.GetIdentity(),
			rooms:    make(map[models.RoomKey]struct{}),
		}
		m.logger.Info("client connected", "conn_id", id, "user_id", client.GetIdentity().UserID)
	})
}

// Unregister removes the connection from every room it joined, closes it,
// and announces its departure to the remaining subscribers of each room.
func (m *ManagerService) Unregister(ctx context.Context, client Client) error {
	id := client.GetConnectionID()
	var (
		left     []models.RoomKey
		identity auth.Identity
	)

	err := m.exec(ctx, func() {
		sess, ok := m.connections[id]
		if !ok {
			return
		}
		identity = sess.identity
		for key := range sess.rooms {
			m.removeSubscriber(key, id)
			left = append(left, key)
		}
		delete(m.connections, id)
		sess.client.Close()
		m.logger.Info("client disconnected", "conn_id", id, "user_id", identity.UserID, "rooms", len(left))
	})
	if err != nil {
		return err
	}

	for _, key := range left {
		kind, scopeID := key.Split()
		m.presence.Notify(ctx, kind, scopeID, identity.UserID, models.PresenceLeft)
	}
	return nil
}

// GrantTestAccess marks the connection as test-privileged for the rest of
// its life and acknowledges with testAccessGranted. Granting twice is
// harmless. It is refused while the test access switch is off.
func (m *ManagerService) GrantTestAccess(ctx context.Context, connID string) error {
	if !m.Authority.TestAccessEnabled() {
		m.logger.Warn("test access requested while disabled", "conn_id", connID)
		m.sendError(ctx, connID, "test access is disabled on this server")
		return ErrTestAccessDisabled
	}

	found := false
	err := m.exec(ctx, func() {
		sess, ok := m.connections[connID]
		if !ok {
			return
		}
		found = true
		if !sess.testAccess {
			sess.testAccess = true
			m.logger.Warn("test access granted", "conn_id", connID, "user_id", sess.identity.UserID)
		}
		m.sendTo(sess, models.OutboundEvent{Event: models.EventTestAccessGranted, Data: struct{}{}})
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotConnected
	}
	return nil
}

// Join authorizes the connection for the room and subscribes it. A denial is
// reported to the requester as an error event and returned as a Decision,
// not as an error; nothing changes for the room.
func (m *ManagerService) Join(ctx context.Context, connID string, kind models.RoomKind, scopeID string) (membership.Decision, error) {
	var (
		subject membership.Subject
		found   bool
	)
	err := m.exec(ctx, func() {
		if sess, ok := m.connections[connID]; ok {
			subject = membership.Subject{Identity: sess.identity, TestAccess: sess.testAccess}
			found = true
		}
	})
	if err != nil {
		return membership.Decision{}, err
	}
	if !found {
		return membership.Decision{}, ErrNotConnected
	}

	decision := m.Authority.AuthorizeJoin(ctx, subject, kind, scopeID)
	if !decision.Allowed {
		m.logger.Info("join denied",
			"conn_id", connID, "user_id", subject.Identity.UserID, "kind", kind, "scope_id", scopeID, "reason", decision.Reason.String())
		m.sendError(ctx, connID, "you are not allowed to join this room")
		return decision, nil
	}

	key := models.NewRoomKey(kind, scopeID)
	var added bool
	found = false
	err = m.exec(ctx, func() {
		sess, ok := m.connections[connID]
		if !ok {
			// disconnected while the check was running
			return
		}
		found = true
		if _, already := sess.rooms[key]; already {
			return
		}
		sess.rooms[key] = struct{}{}
		subs, ok := m.rooms[key]
		if !ok {
			subs = make(map[string]struct{})
			m.rooms[key] = subs
		}
		subs[connID] = struct{}{}
		added = true
	})
	if err != nil {
		return decision, err
	}
	if !found {
		return decision, ErrNotConnected
	}

	if added {
		m.logger.Info("client joined room",
			"conn_id", connID, "user_id", subject.Identity.UserID, "room", key, "reason", decision.Reason.String())
		m.presence.Notify(ctx, kind, scopeID, subject.Identity.UserID, models.PresenceJoined)
	}
	return decision, nil
}

// Leave unsubscribes the connection. It reports whether it was subscribed.
func (m *ManagerService) Leave(ctx context.Context, connID string, kind models.RoomKind, scopeID string) (bool, error) {
	key := models.NewRoomKey(kind, scopeID)
	var (
		removed bool
		userID  string
	)

	err := m.exec(ctx, func() {
		sess, ok := m.connections[connID]
		if !ok {
			return
		}
		if _, subscribed := sess.rooms[key]; !subscribed {
			return
		}
		delete(sess.rooms, key)
		m.removeSubscriber(key, connID)
		removed = true
		userID = sess.identity.UserID
	})
	if err != nil {
		return false, err
	}

	if removed {
		m.logger.Info("client left room", "conn_id", connID, "user_id", userID, "room", key)
		m.presence.Notify(ctx, kind, scopeID, userID, models.PresenceLeft)
	}
	return removed, nil
}

// Publish hands event to every connection currently subscribed to the room
// and returns how many accepted it. Delivery is best effort: a subscriber
// whose buffer is full misses the event, and nothing is retried.
func (m *ManagerService) Publish(ctx context.Context, kind models.RoomKind, scopeID string, event models.OutboundEvent) (int, error) {
	key := models.NewRoomKey(kind, scopeID)
	var delivered int

	err := m.exec(ctx, func() {
		for connID := range m.rooms[key] {
			if sess, ok := m.connections[connID]; ok && m.sendTo(sess, event) {
				delivered++
			}
		}
	})
	return delivered, err
}

// Subscribers returns the connection ids subscribed to key.
func (m *ManagerService) Subscribers(ctx context.Context, key models.RoomKey) ([]string, error) {
	var ids []string
	err := m.exec(ctx, func() {
		for id := range m.rooms[key] {
			ids = append(ids, id)
		}
	})
	return ids, err
}

// IsSubscribed reports whether connID has joined key.
func (m *ManagerService) IsSubscribed(ctx context.Context, connID string, key models.RoomKey) (bool, error) {
	var subscribed bool
	err := m.exec(ctx, func() {
		if sess, ok := m.connections[connID]; ok {
			_, subscribed = sess.rooms[key]
		}
	})
	return subscribed, err
}

func (m *ManagerService) ConnectionCount(ctx context.Context) (int, error) {
	var n int
	err := m.exec(ctx, func() { n = len(m.connections) })
	return n, err
}

// removeSubscriber must run on the hub goroutine.
func (m *ManagerService) removeSubscriber(key models.RoomKey, connID string) {
	if subs, ok := m.rooms[key]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(m.rooms, key)
		}
	}
}

// sendTo must run on the hub goroutine. It never blocks.
func (m *ManagerService) sendTo(sess *session, event models.OutboundEvent) bool {
	select {
	case sess.client.GetSendChannel() <- event:
		return true
	default:
		m.logger.Warn("client send buffer full, dropping event",
			"conn_id", sess.client.GetConnectionID(), "event", event.Event)
		return false
	}
}

// sendError delivers an error event to one connection only. It ignores
// cancellation of ctx so a timed-out request still gets its answer.
func (m *ManagerService) sendError(ctx context.Context, connID, message string) {
	event := models.OutboundEvent{Event: models.EventError, Data: models.ErrorEvent{Message: message}}
	err := m.exec(context.WithoutCancel(ctx), func() {
		if sess, ok := m.connections[connID]; ok {
			m.sendTo(sess, event)
		}
	})
	if err != nil {
		m.logger.Debug("could not deliver error event", "conn_id", connID, "error", err)
	}
}

// reply sends a non-error event to one connection.
func (m *ManagerService) reply(ctx context.Context, connID string, event models.OutboundEvent) {
	err := m.exec(context.WithoutCancel(ctx), func() {
		if sess, ok := m.connections[connID]; ok {
			m.sendTo(sess, event)
		}
	})
	if err != nil {
		m.logger.Debug("could not deliver reply", "conn_id", connID, "event", event.Event, "error", err)
	}
}
