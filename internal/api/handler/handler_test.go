package handler_test

import (
	"bytes"
	"context"
	"coursechat/backend/internal/api/handler"
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/chathub"
	"coursechat/backend/internal/membership"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

type testEnv struct {
	server   *httptest.Server
	db       *gorm.DB
	store    *storage.Service
	resolver *auth.Resolver
}

func newTestEnv(t *testing.T, settings handler.Settings, testAccess bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.ChatRoom{}, &models.ChatMessage{}, &models.Enrollment{}))

	store := storage.NewStorageService(db, log)
	authority := membership.NewAuthority(store, store, testAccess, log)
	hub := chathub.NewManagerService(store, authority, log, chathub.WithOperationTimeout(5*time.Second))
	resolver := auth.NewResolver(testSecret, "coursechat")

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	h := handler.NewHandler(hub, store, authority, resolver, settings, log)
	server := httptest.NewServer(handler.NewRouter(h))
	t.Cleanup(func() {
		server.Close()
		cancel()
		sqlDB.Close()
	})

	return &testEnv{server: server, db: db, store: store, resolver: resolver}
}

func (e *testEnv) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := e.resolver.Issue(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) enroll(t *testing.T, userID, courseID, cohortID string) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.Enrollment{UserID: userID, CourseID: courseID, CohortID: cohortID}).Error)
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func readEventOf(t *testing.T, conn *websocket.Conn, event string, into any) {
	t.Helper()
	env := readEvent(t, conn)
	require.Equal(t, event, env.Event, "payload: %s", env.Data)
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
}

func TestServeWebSocket_RejectsMissingOrBadToken(t *testing.T) {
	env := newTestEnv(t, handler.Settings{}, false)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWebSocket_ChatRoundTrip(t *testing.T) {
	env := newTestEnv(t, handler.Settings{}, false)
	room, err := env.store.GetOrCreateRoom(context.Background(), models.RoomKindCourse, "C1")
	require.NoError(t, err)
	env.enroll(t, "U2", "C1", "")
	env.enroll(t, "U3", "C1", "")

	u3 := env.dial(t, env.token(t, "U3", auth.RoleStudent))
	send(t, u3, models.EventJoinCourseRoom, "C1")
	readEventOf(t, u3, models.EventMembershipChange, nil)

	u2 := env.dial(t, env.token(t, "U2", auth.RoleStudent))
	send(t, u2, models.EventJoinCourseRoom, map[string]string{"courseId": "C1"})
	readEventOf(t, u2, models.EventMembershipChange, nil)

	var joined models.MembershipChangeEvent
	readEventOf(t, u3, models.EventMembershipChange, &joined)
	assert.Equal(t, "U2", joined.UserID)
	assert.Equal(t, models.PresenceJoined, joined.Action)

	send(t, u2, models.EventCourseChatMessage, map[string]string{"roomId": "C1", "content": "hello"})

	var live models.MessageEvent
	readEventOf(t, u3, models.EventCourseMessage, &live)
	assert.Equal(t, "U2", live.SenderID)
	assert.Equal(t, "hello", live.Content)
	assert.Equal(t, "C1", live.RoomID)
	readEventOf(t, u2, models.EventCourseMessage, nil)

	resp, body := env.do(t, http.MethodGet, "/rooms/"+room.ID+"/messages", env.token(t, "U3", auth.RoleStudent), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []models.MessageEvent
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)
	assert.Equal(t, live.ID, history[0].ID)
	assert.True(t, live.SentAt.Equal(history[0].SentAt))

	// history over the socket
	send(t, u3, models.EventGetCourseChatHistory, "C1")
	var hist models.HistoryEvent
	readEventOf(t, u3, models.EventChatHistory, &hist)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "hello", hist.Messages[0].Content)

	// disconnect cleanup is announced to the remaining member
	require.NoError(t, u2.Close())
	var left models.MembershipChangeEvent
	readEventOf(t, u3, models.EventMembershipChange, &left)
	assert.Equal(t, "U2", left.UserID)
	assert.Equal(t, models.PresenceLeft, left.Action)
}

func TestServeWebSocket_DeniedJoin(t *testing.T) {
	env := newTestEnv(t, handler.Settings{}, false)
	_, err := env.store.GetOrCreateRoom(context.Background(), models.RoomKindCourse, "C1")
	require.NoError(t, err)

	u1 := env.dial(t, env.token(t, "U1", auth.RoleStudent))
	send(t, u1, models.EventJoinCourseRoom, "C1")

	var e models.ErrorEvent
	readEventOf(t, u1, models.EventError, &e)
	assert.NotEmpty(t, e.Message)

	// still open, and still not a member
	send(t, u1, models.EventCourseChatMessage, map[string]string{"roomId": "C1", "content": "hi"})
	readEventOf(t, u1, models.EventError, &e)
	assert.Equal(t, "join the room before using it", e.Message)
}

func TestServeWebSocket_TestAccess(t *testing.T) {
	env := newTestEnv(t, handler.Settings{}, true)

	t1 := env.dial(t, env.token(t, "T1", auth.RoleStudent))
	send(t, t1, models.EventRequestTestAccess, nil)
	readEventOf(t, t1, models.EventTestAccessGranted, nil)

	send(t, t1, models.EventJoinCohortRoom, "anyRoomId")
	var joined models.MembershipChangeEvent
	readEventOf(t, t1, models.EventMembershipChange, &joined)
	assert.Equal(t, models.RoomKindCohort, joined.Kind)
	assert.Equal(t, "anyRoomId", joined.RoomID)
}

func TestRooms_RequireIdentity(t *testing.T) {
	env := newTestEnv(t, handler.Settings{}, false)

	resp, _ := env.do(t, http.MethodGet, "/rooms/lookup?kind=course&scopeId=C1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndLookupRoom(t *testing.T) {
	env := newTestEnv(t, handler.Settings{}, false)
	instructor := env.token(t, "I1", auth.RoleInstructor)

	resp, _ := env.do(t, http.MethodPost, "/rooms", env.token(t, "U1", auth.RoleStudent), map[string]string{"kind": "COURSE", "scopeId": "C1"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/rooms", instructor, map[string]string{"kind": "LESSON", "scopeId": "C1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/rooms", instructor, map[string]string{"kind": "COURSE", "scopeId": "C1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created models.ChatRoom
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID)

	resp, body = env.do(t, http.MethodPost, "/rooms", instructor, map[string]string{"kind": "course", "scopeId": "C1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again models.ChatRoom
	require.NoError(t, json.Unmarshal(body, &again))
	assert.Equal(t, created.ID, again.ID, "room creation is idempotent")

	resp, body = env.do(t, http.MethodGet, "/rooms/lookup?kind=COURSE&scopeId=C1", instructor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found models.ChatRoom
	require.NoError(t, json.Unmarshal(body, &found))
	assert.Equal(t, created.ID, found.ID)

	resp, _ = env.do(t, http.MethodGet, "/rooms/lookup?kind=COHORT&scopeId=C1", instructor, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRESTMessages(t *testing.T) {
	env := newTestEnv(t, handler.Settings{}, false)
	room, err := env.store.GetOrCreateRoom(context.Background(), models.RoomKindCohort, "K1")
	require.NoError(t, err)
	env.enroll(t, "U2", "C1", "K1")
	env.enroll(t, "U3", "C1", "K1")
	u2 := env.token(t, "U2", auth.RoleStudent)

	// a live subscriber sees REST posts too
	live := env.dial(t, env.token(t, "U3", auth.RoleStudent))
	send(t, live, models.EventJoinCohortRoom, "K1")
	readEventOf(t, live, models.EventMembershipChange, nil)

	resp, body := env.do(t, http.MethodPost, "/rooms/"+room.ID+"/messages", u2, map[string]string{"content": "via rest"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var posted models.MessageEvent
	require.NoError(t, json.Unmarshal(body, &posted))
	assert.Equal(t, "U2", posted.SenderID)

	var broadcast models.MessageEvent
	readEventOf(t, live, models.EventCohortMessage, &broadcast)
	assert.Equal(t, posted.ID, broadcast.ID)

	resp, _ = env.do(t, http.MethodPost, "/rooms/"+room.ID+"/messages", u2, map[string]string{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/rooms/"+room.ID+"/messages", env.token(t, "stranger", auth.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/rooms/"+room.ID+"/messages", env.token(t, "stranger", auth.RoleStudent), map[string]string{"content": "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/rooms/does-not-exist/messages", u2, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = env.do(t, http.MethodPost, "/rooms/does-not-exist/messages", u2, map[string]string{"content": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIssueToken(t *testing.T) {
	env := newTestEnv(t, handler.Settings{}, false)
	resp, _ := env.do(t, http.MethodPost, "/auth/token", "", map[string]string{"userId": "U1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "disabled by default")

	env = newTestEnv(t, handler.Settings{DevTokens: true, TokenTTL: time.Hour}, false)
	resp, body := env.do(t, http.MethodPost, "/auth/token", "", map[string]string{"userId": "U1", "role": "instructor"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	identity, err := env.resolver.Resolve(out.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: "U1", Role: auth.RoleInstructor}, identity)

	resp, _ = env.do(t, http.MethodPost, "/auth/token", "", map[string]string{"role": "janitor"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, handler.Settings{}, false)
	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","connections":0}`, string(body))
}
