package chathub_test

import (
	"context"
	"coursechat/backend/internal/chathub"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"
	"coursechat/backend/internal/storage/storagetest"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func errorMessage(t *testing.T, ev models.OutboundEvent) string {
	t.Helper()
	require.Equal(t, models.EventError, ev.Event)
	return ev.Data.(models.ErrorEvent).Message
}

func TestHandleInbound_JoinAndPost(t *testing.T) {
	s := new(storagetest.MockStorage)
	enroll(s, "U2", courseRoom)
	s.On("Append", mock.Anything, courseRoom.ID, "U2", "hello").
		Return(&models.ChatMessage{ID: 3, RoomID: courseRoom.ID, SenderID: "U2", Content: "hello"}, nil).Once()
	hub := startHub(t, s, false)

	u2 := newMockClient("conn-2", "U2")
	register(t, hub, u2)

	require.NoError(t, hub.HandleInbound(t.Context(), u2, []byte(`{"event":"joinCourseRoom","data":"C1"}`)))
	assert.Equal(t, models.EventMembershipChange, u2.nextEvent(t).Event)

	// senderId in the payload is ignored
	frame := `{"event":"courseChatMessage","data":{"roomId":"C1","content":"hello","senderId":"someone-else"}}`
	require.NoError(t, hub.HandleInbound(t.Context(), u2, []byte(frame)))

	ev := u2.nextEvent(t)
	assert.Equal(t, models.EventCourseMessage, ev.Event)
	assert.Equal(t, "U2", ev.Data.(models.MessageEvent).SenderID)
	s.AssertExpectations(t)
}

func TestHandleInbound_JoinWithObjectPayload(t *testing.T) {
	s := new(storagetest.MockStorage)
	enroll(s, "U2", cohortRoom)
	hub := startHub(t, s, false)

	u2 := newMockClient("conn-2", "U2")
	register(t, hub, u2)

	require.NoError(t, hub.HandleInbound(t.Context(), u2, []byte(`{"event":"joinCohortRoom","data":{"cohortId":"K1"}}`)))
	subscribed, err := hub.IsSubscribed(t.Context(), "conn-2", cohortRoom.Key())
	require.NoError(t, err)
	assert.True(t, subscribed)

	require.NoError(t, hub.HandleInbound(t.Context(), u2, []byte(`{"event":"leaveCohortRoom","data":"K1"}`)))
	subscribed, err = hub.IsSubscribed(t.Context(), "conn-2", cohortRoom.Key())
	require.NoError(t, err)
	assert.False(t, subscribed)
}

func TestHandleInbound_PostRequiresSubscription(t *testing.T) {
	s := new(storagetest.MockStorage)
	hub := startHub(t, s, false)

	c := newMockClient("conn-1", "U1")
	register(t, hub, c)

	err := hub.HandleInbound(t.Context(), c, []byte(`{"event":"courseChatMessage","data":{"roomId":"C1","content":"hi"}}`))
	assert.ErrorIs(t, err, chathub.ErrNotSubscribed)
	assert.Equal(t, "join the room before using it", errorMessage(t, c.nextEvent(t)))
	s.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleInbound_StorageFailureReportsError(t *testing.T) {
	s := new(storagetest.MockStorage)
	enroll(s, "U2", courseRoom)
	s.On("Append", mock.Anything, courseRoom.ID, "U2", "hello").
		Return(nil, &storage.Error{Op: "append message", Err: errors.New("connection reset")})
	hub := startHub(t, s, false)

	u2 := newMockClient("conn-2", "U2")
	register(t, hub, u2)
	join(t, hub, u2, courseRoom)
	u2.pending()

	err := hub.HandleInbound(t.Context(), u2, []byte(`{"event":"courseChatMessage","data":{"roomId":"C1","content":"hello"}}`))
	assert.True(t, storage.IsStorageError(err))

	events := u2.pending()
	require.Len(t, events, 1, "only the error, no broadcast")
	msg := errorMessage(t, events[0])
	assert.NotContains(t, msg, "connection reset", "storage details stay in the logs")
	assert.False(t, u2.IsClosed(), "the connection survives a storage error")
}

func TestHandleInbound_History(t *testing.T) {
	s := new(storagetest.MockStorage)
	enroll(s, "U2", courseRoom)
	sentAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.On("ListByRoom", mock.Anything, courseRoom.ID).Return([]models.ChatMessage{
		{ID: 1, RoomID: courseRoom.ID, SenderID: "U3", Content: "first", SentAt: sentAt},
		{ID: 2, RoomID: courseRoom.ID, SenderID: "U2", Content: "second", SentAt: sentAt.Add(time.Second)},
	}, nil)
	hub := startHub(t, s, false)

	u2 := newMockClient("conn-2", "U2")
	register(t, hub, u2)
	join(t, hub, u2, courseRoom)
	u2.pending()

	require.NoError(t, hub.HandleInbound(t.Context(), u2, []byte(`{"event":"getCourseChatHistory","data":{"roomId":"C1"}}`)))

	ev := u2.nextEvent(t)
	require.Equal(t, models.EventChatHistory, ev.Event)
	history := ev.Data.(models.HistoryEvent)
	assert.Equal(t, "C1", history.RoomID)
	assert.Equal(t, models.RoomKindCourse, history.Kind)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "first", history.Messages[0].Content)
	assert.Equal(t, "C1", history.Messages[0].RoomID)
}

func TestHandleInbound_RequestTestAccess(t *testing.T) {
	hub := startHub(t, new(storagetest.MockStorage), true)
	c := newMockClient("conn-1", "T1")
	register(t, hub, c)

	require.NoError(t, hub.HandleInbound(t.Context(), c, []byte(`{"event":"requestTestAccess"}`)))
	assert.Equal(t, models.EventTestAccessGranted, c.nextEvent(t).Event)
}

func TestHandleInbound_RequestTestAccessDisabled(t *testing.T) {
	hub := startHub(t, new(storagetest.MockStorage), false)
	c := newMockClient("conn-1", "U1")
	register(t, hub, c)

	require.NoError(t, hub.HandleInbound(t.Context(), c, []byte(`{"event":"requestTestAccess"}`)))
	events := c.pending()
	require.Len(t, events, 1)
	assert.Equal(t, "test access is disabled on this server", errorMessage(t, events[0]))
}

func TestHandleInbound_BadFrames(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		message string
	}{
		{"not json", `hello`, "malformed event"},
		{"no event name", `{"data":"C1"}`, "malformed event"},
		{"unknown event", `{"event":"dance"}`, "unknown event"},
		{"join without room", `{"event":"joinCourseRoom"}`, "room id is required"},
		{"post without room", `{"event":"cohortChatMessage","data":{"content":"hi"}}`, "room id is required"},
		{"payload of wrong type", `{"event":"courseChatMessage","data":42}`, "malformed event payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := startHub(t, new(storagetest.MockStorage), false)
			c := newMockClient("conn-1", "U1")
			register(t, hub, c)

			assert.Error(t, hub.HandleInbound(t.Context(), c, []byte(tt.frame)))
			assert.Equal(t, tt.message, errorMessage(t, c.nextEvent(t)))
		})
	}
}

func TestHandleInbound_PostTimesOutBehindSlowAppend(t *testing.T) {
	s := new(storagetest.MockStorage)
	enroll(s, "U2", courseRoom)
	enroll(s, "U3", courseRoom)

	started := make(chan struct{})
	release := make(chan struct{})
	s.On("Append", mock.Anything, courseRoom.ID, "U2", "slow").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(&models.ChatMessage{ID: 1, RoomID: courseRoom.ID, SenderID: "U2", Content: "slow"}, nil).Once()
	hub := startHub(t, s, false, chathub.WithOperationTimeout(100*time.Millisecond))

	u2 := newMockClient("conn-2", "U2")
	u3 := newMockClient("conn-3", "U3")
	register(t, hub, u2)
	register(t, hub, u3)
	join(t, hub, u2, courseRoom)
	join(t, hub, u3, courseRoom)
	u3.pending()

	slowDone := make(chan error, 1)
	go func() {
		_, err := hub.PostMessage(context.Background(), models.RoomKindCourse, "C1", "U2", "slow")
		slowDone <- err
	}()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first post never reached the store")
	}

	start := time.Now()
	err := hub.HandleInbound(t.Context(), u3, []byte(`{"event":"courseChatMessage","data":{"roomId":"C1","content":"fast"}}`))
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second, "the queued post must give up at the operation timeout")
	events := u3.pending()
	require.Len(t, events, 1)
	assert.Equal(t, "request timed out", errorMessage(t, events[0]))

	// the connection is still usable while the room is busy
	left, err := hub.Leave(t.Context(), "conn-3", models.RoomKindCourse, "C1")
	require.NoError(t, err)
	assert.True(t, left)

	close(release)
	require.NoError(t, <-slowDone)
	s.AssertNotCalled(t, "Append", mock.Anything, courseRoom.ID, "U3", "fast")
}

func TestHandleInbound_PaddedRoomIDMatchesJoin(t *testing.T) {
	s := new(storagetest.MockStorage)
	enroll(s, "U2", courseRoom)
	s.On("Append", mock.Anything, courseRoom.ID, "U2", "hello").
		Return(&models.ChatMessage{ID: 4, RoomID: courseRoom.ID, SenderID: "U2", Content: "hello"}, nil).Once()
	hub := startHub(t, s, false)

	u2 := newMockClient("conn-2", "U2")
	register(t, hub, u2)

	require.NoError(t, hub.HandleInbound(t.Context(), u2, []byte(`{"event":"joinCourseRoom","data":" C1 "}`)))
	u2.pending()

	require.NoError(t, hub.HandleInbound(t.Context(), u2, []byte(`{"event":"courseChatMessage","data":{"roomId":" C1 ","content":"hello"}}`)))
	assert.Equal(t, models.EventCourseMessage, u2.nextEvent(t).Event)
	s.AssertExpectations(t)
}
