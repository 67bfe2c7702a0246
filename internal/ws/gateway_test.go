package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recruit-chat/internal/messaging"
	"recruit-chat/internal/mocks"
	"recruit-chat/internal/models"
	"recruit-chat/internal/presence"
	"recruit-chat/internal/repositories"
	"recruit-chat/internal/rooms"
	"recruit-chat/internal/session"
	"recruit-chat/internal/telemetry"
)

var testSecret = []byte("test-secret")

type testEnv struct {
	server        *httptest.Server
	auth          *session.Authenticator
	hub           *Hub
	conversations *mocks.ConversationRepositoryMock
	messages      *mocks.MessageRepositoryMock
	receipts      *mocks.ReceiptRepositoryMock
	audit         *mocks.PublisherMock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		auth:          session.NewAuthenticator(testSecret, ""),
		conversations: new(mocks.ConversationRepositoryMock),
		messages:      new(mocks.MessageRepositoryMock),
		receipts:      new(mocks.ReceiptRepositoryMock),
		audit:         new(mocks.PublisherMock),
	}
	env.hub = NewHub(presence.NewTracker())
	resolver := rooms.NewResolver(env.conversations, nil, time.Minute)
	svc := messaging.NewService(env.messages, env.receipts)
	gateway := NewGateway(env.hub, resolver, svc, time.Second)
	emitter := telemetry.NewAuditEmitter(env.audit, "audit_events.chat", "recruit-chat", "test")

	router := gin.New()
	router.GET("/ws", NewHandler(env.hub, gateway, env.auth, emitter, nil).Handle)
	env.server = httptest.NewServer(router)
	t.Cleanup(func() {
		env.hub.Close()
		env.server.Close()
	})
	return env
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := e.auth.Issue(userID, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) allowConversation(id string) {
	e.conversations.On("GetConversation", mock.Anything, id).Return(models.Conversation{ID: id}, nil)
	e.conversations.On("UpsertParticipant", mock.Anything, id, mock.Anything).Return(nil)
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.Frame{Event: event, Data: raw}))
}

func next(t *testing.T, conn *websocket.Conn) models.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame models.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func expect[T any](t *testing.T, conn *websocket.Conn, event string) T {
	t.Helper()
	frame := next(t, conn)
	require.Equal(t, event, frame.Event, "payload: %s", frame.Data)
	var out T
	require.NoError(t, json.Unmarshal(frame.Data, &out))
	return out
}

func join(t *testing.T, conn *websocket.Conn, room string) models.RoomJoined {
	t.Helper()
	send(t, conn, models.EventRoomJoin, room)
	return expect[models.RoomJoined](t, conn, models.EventRoomJoined)
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	env.audit.On("Publish", mock.Anything, "audit_events.chat", mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.Payload.Level == telemetry.LevelWarn && strings.Contains(e.Payload.Text, "missing token")
	})).Return(nil).Once()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env.audit.AssertExpectations(t)
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	env.audit.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	other := session.NewAuthenticator([]byte("other"), "")
	token, err := other.Issue("u1", time.Hour)
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	env.conversations.On("GetConversation", mock.Anything, "nope").Return(nil, repositories.ErrConversationNotFound)

	a := env.dial(t, "u1")
	send(t, a, models.EventRoomJoin, "conversation:nope")

	got := expect[models.EventError](t, a, models.EventRoomError)
	assert.Equal(t, "conversation:nope", got.Room)
	assert.Equal(t, "NOT_FOUND", got.Code)
	assert.Equal(t, "conversation not found", got.Error)

	// The connection stays usable.
	send(t, a, models.EventRoomJoin, "")
	got = expect[models.EventError](t, a, models.EventRoomError)
	assert.Equal(t, "room required", got.Error)
}

func TestPresenceSymmetry(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	joined := join(t, a, "conversation:c1")
	assert.Equal(t, models.RoomJoined{Room: "conversation:c1", ConversationID: "c1"}, joined)

	b := env.dial(t, "u2")
	join(t, b, "conversation:c1")

	peer := expect[models.PresenceUpdate](t, b, models.EventPresenceUpdate)
	assert.Equal(t, models.PresenceUpdate{Room: "conversation:c1", Online: true, UserID: "u1"}, peer)

	announced := expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)
	assert.Equal(t, models.PresenceUpdate{Room: "conversation:c1", Online: true, UserID: "u2"}, announced)

	require.NoError(t, b.Close())

	offline := expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)
	assert.Equal(t, models.PresenceUpdate{Room: "conversation:c1", Online: false, UserID: "u2"}, offline)
}

func TestLeaveAnnouncesOffline(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	join(t, a, "conversation:c1")
	b := env.dial(t, "u2")
	join(t, b, "conversation:c1")
	expect[models.PresenceUpdate](t, b, models.EventPresenceUpdate)
	expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)

	send(t, b, models.EventRoomLeave, "conversation:c1")
	assert.Equal(t, models.RoomLeft{Room: "conversation:c1"}, expect[models.RoomLeft](t, b, models.EventRoomLeft))

	offline := expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)
	assert.False(t, offline.Online)
	assert.Equal(t, "u2", offline.UserID)
}

func TestSendBroadcastsAndAcknowledges(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	join(t, a, "conversation:c1")
	b := env.dial(t, "u2")
	join(t, b, "conversation:c1")
	expect[models.PresenceUpdate](t, b, models.EventPresenceUpdate)
	expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)

	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	saved := models.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u1",
		Content:        "hello",
		Type:           models.MessageTypeText,
		CreatedAt:      createdAt,
		Attachments:    []models.Attachment{},
	}
	env.messages.On("SaveMessage", mock.Anything, mock.MatchedBy(func(in models.NewMessage) bool {
		return in.ID == "m1" && in.SenderID == "u1" && in.ConversationID == "c1" && in.CreatedAt.Equal(createdAt)
	})).Return(saved, true, nil).Once()

	text := "hello"
	send(t, a, models.EventChatSend, models.SendPayload{
		ID:        "m1",
		Room:      "conversation:c1",
		Text:      &text,
		SenderID:  "spoofed",
		CreatedAt: &createdAt,
	})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := expect[models.ChatMessage](t, conn, models.EventChatMessage)
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, "u1", msg.SenderID)
		assert.Equal(t, "conversation:c1", msg.Room)
	}
	ack := expect[models.Receipt](t, a, models.EventChatDelivered)
	assert.Equal(t, []string{"m1"}, ack.IDs)

	// A retry of the same id is acknowledged without a second broadcast.
	env.messages.On("SaveMessage", mock.Anything, mock.Anything).Return(saved, false, nil).Once()
	send(t, a, models.EventChatSend, models.SendPayload{ID: "m1", Room: "conversation:c1", Text: &text})
	ack = expect[models.Receipt](t, a, models.EventChatDelivered)
	assert.Equal(t, []string{"m1"}, ack.IDs)

	send(t, a, models.EventTypingStart, "conversation:c1")
	typing := expect[models.TypingUpdate](t, b, models.EventTypingUpdate)
	assert.True(t, typing.Typing)

	env.messages.AssertNumberOfCalls(t, "SaveMessage", 2)
}

func TestSendFailureReportsToSenderOnly(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	join(t, a, "conversation:c1")
	b := env.dial(t, "u2")
	join(t, b, "conversation:c1")
	expect[models.PresenceUpdate](t, b, models.EventPresenceUpdate)
	expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)

	env.messages.On("SaveMessage", mock.Anything, mock.Anything).Return(nil, false, errors.New("tx aborted"))

	text := "hello"
	send(t, a, models.EventChatSend, models.SendPayload{ID: "m1", Room: "conversation:c1", Text: &text})
	got := expect[models.EventError](t, a, models.EventChatError)
	assert.Equal(t, models.EventError{Room: "conversation:c1", ID: "m1", Code: "INTERNAL", Error: "failed to send"}, got)

	send(t, a, models.EventTypingStop, "conversation:c1")
	typing := expect[models.TypingUpdate](t, b, models.EventTypingUpdate)
	assert.False(t, typing.Typing)
}

func TestSendByConversationID(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c9")
	env.messages.On("SaveMessage", mock.Anything, mock.Anything).Return(models.Message{ID: "m9", ConversationID: "c9"}, true, nil)

	a := env.dial(t, "u1")
	text := "hi"
	send(t, a, models.EventChatSend, models.SendPayload{ID: "m9", ConversationID: "c9", Text: &text})

	ack := expect[models.Receipt](t, a, models.EventChatDelivered)
	assert.Equal(t, "conversation:c9", ack.Room)
	assert.Equal(t, []string{"m9"}, ack.IDs)
}

func TestReadReceiptRelay(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	join(t, a, "conversation:c1")
	b := env.dial(t, "u2")
	join(t, b, "conversation:c1")
	expect[models.PresenceUpdate](t, b, models.EventPresenceUpdate)
	expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)

	env.receipts.On("MarkRead", mock.Anything, "u2", []string{"m1", "ghost"}).
		Return([]models.ReadBatch{{ConversationID: "c1", MessageIDs: []string{"m1"}}}, nil).Once()

	send(t, b, models.EventChatMarkRead, []string{"m1", "ghost"})

	read := expect[models.Receipt](t, a, models.EventChatRead)
	assert.Equal(t, models.Receipt{Room: "conversation:c1", IDs: []string{"m1"}, UserID: "u2"}, read)
	env.receipts.AssertExpectations(t)
}

func TestReadReceiptUnknownIDsNotRelayed(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	join(t, a, "conversation:c1")
	b := env.dial(t, "u2")
	join(t, b, "conversation:c1")
	expect[models.PresenceUpdate](t, b, models.EventPresenceUpdate)
	expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)

	env.receipts.On("MarkRead", mock.Anything, "u2", []string{"ghost"}).Return(nil, nil).Once()

	send(t, b, models.EventChatMarkRead, models.ReceiptPayload{Room: "conversation:c1", IDs: []string{"ghost"}})
	send(t, b, models.EventTypingStart, "conversation:c1")

	// The typing relay is the next frame A sees: no chat:read was emitted.
	typing := expect[models.TypingUpdate](t, a, models.EventTypingUpdate)
	assert.Equal(t, "u2", typing.UserID)
}

func TestMarkDeliveredRelay(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	join(t, a, "conversation:c1")
	b := env.dial(t, "u2")
	join(t, b, "conversation:c1")
	expect[models.PresenceUpdate](t, b, models.EventPresenceUpdate)
	expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)

	send(t, b, models.EventChatMarkDeliver, models.ReceiptPayload{Room: "conversation:c1", IDs: []string{"m1", "m2"}})
	got := expect[models.Receipt](t, a, models.EventChatDelivered)
	assert.Equal(t, models.Receipt{Room: "conversation:c1", IDs: []string{"m1", "m2"}, UserID: "u2"}, got)
	env.receipts.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestTypingIsEphemeral(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	join(t, a, "conversation:c1")
	send(t, a, models.EventTypingStart, "conversation:c1")
	require.NoError(t, a.Close())
	require.Eventually(t, func() bool {
		return len(env.hub.presence.Members("conversation:c1")) == 0
	}, 2*time.Second, 10*time.Millisecond)

	c := env.dial(t, "u3")
	join(t, c, "conversation:c1")
	send(t, c, models.EventPresencePing, nil)
	send(t, c, models.EventRoomLeave, "conversation:c1")

	// Nothing about the earlier typing indicator reaches the new connection.
	frame := next(t, c)
	assert.Equal(t, models.EventRoomLeft, frame.Event)

	env.messages.AssertNotCalled(t, "SaveMessage", mock.Anything, mock.Anything)
	env.receipts.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestInvalidFrame(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "u1")

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	got := expect[models.EventError](t, a, models.EventChatError)
	assert.Equal(t, "invalid payload", got.Error)
}

func TestReadReceiptRelayToUnjoinedRoom(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	join(t, a, "conversation:c1")
	b := env.dial(t, "u2")

	env.receipts.On("MarkRead", mock.Anything, "u2", []string{"m1", "x9"}).
		Return([]models.ReadBatch{
			{ConversationID: "c1", MessageIDs: []string{"m1"}},
			{ConversationID: "c2", MessageIDs: []string{"x9"}},
		}, nil).Once()

	send(t, b, models.EventChatMarkRead, models.ReceiptPayload{Room: "conversation:c1", IDs: []string{"m1", "x9"}})

	read := expect[models.Receipt](t, a, models.EventChatRead)
	assert.Equal(t, models.Receipt{Room: "conversation:c1", IDs: []string{"m1"}, UserID: "u2"}, read)

	// Only the c1 batch reached the room; the next frame is the typing relay.
	send(t, b, models.EventTypingStart, "conversation:c1")
	typing := expect[models.TypingUpdate](t, a, models.EventTypingUpdate)
	assert.Equal(t, "u2", typing.UserID)
	env.conversations.AssertCalled(t, "UpsertParticipant", mock.Anything, "c1", "u2")
}

func TestPresenceTracksUsersAcrossConnections(t *testing.T) {
	env := newTestEnv(t)
	env.allowConversation("c1")

	a := env.dial(t, "u1")
	join(t, a, "conversation:c1")

	first := env.dial(t, "u2")
	join(t, first, "conversation:c1")
	assert.Equal(t, "u1", expect[models.PresenceUpdate](t, first, models.EventPresenceUpdate).UserID)
	assert.Equal(t, "u2", expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate).UserID)

	second := env.dial(t, "u2")
	join(t, second, "conversation:c1")
	assert.Equal(t, "u1", expect[models.PresenceUpdate](t, second, models.EventPresenceUpdate).UserID)
	// no presence about its own user: the rejoin reply is next
	join(t, second, "conversation:c1")

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		return len(env.hub.presence.Members("conversation:c1")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// u2 is still connected, so A sees the typing relay rather than an offline update.
	send(t, second, models.EventTypingStart, "conversation:c1")
	assert.Equal(t, "u2", expect[models.TypingUpdate](t, a, models.EventTypingUpdate).UserID)

	require.NoError(t, second.Close())
	offline := expect[models.PresenceUpdate](t, a, models.EventPresenceUpdate)
	assert.Equal(t, models.PresenceUpdate{Room: "conversation:c1", Online: false, UserID: "u2"}, offline)
}
