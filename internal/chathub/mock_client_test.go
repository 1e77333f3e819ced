package chathub_test

import (
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type MockClient struct {
	connID   string
	identity auth.Identity

	RecvChannel chan models.OutboundEvent

	closeOnce sync.Once
	closed    chan struct{}
}

func newMockClient(connID, userID string) *MockClient {
	return newMockClientWithBuffer(connID, userID, 16)
}

func newMockClientWithBuffer(connID, userID string, buffer int) *MockClient {
	return &MockClient{
		connID:      connID,
		identity:    auth.Identity{UserID: userID, Role: auth.RoleStudent},
		RecvChannel: make(chan models.OutboundEvent, buffer),
		closed:      make(chan struct{}),
	}
}

func (c *MockClient) GetConnectionID() string                     { return c.connID }
func (c *MockClient) GetIdentity() auth.Identity                  { return c.identity }
func (c *MockClient) GetSendChannel() chan<- models.OutboundEvent { return c.RecvChannel }

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closeOnce.Do(func() {
		close(c.RecvChannel)
		close(c.closed)
	})
}

func (c *MockClient) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// nextEvent returns the next queued event or fails the test.
func (c *MockClient) nextEvent(t *testing.T) models.OutboundEvent {
	t.Helper()
	select {
	case ev, ok := <-c.RecvChannel:
		require.True(t, ok, "client %s was closed", c.connID)
		return ev
	case <-time.After(time.Second):
		require.FailNow(t, "no event received", "client %s", c.connID)
		return models.OutboundEvent{}
	}
}

// pending drains and returns whatever is queued right now. Hub delivery is
// synchronous with the call that caused it, so nothing arrives later.
func (c *MockClient) pending() []models.OutboundEvent {
	var out []models.OutboundEvent
	for {
		select {
		case ev, ok := <-c.RecvChannel:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}
