package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fyzo-chat/internal/middleware"
	"fyzo-chat/internal/mocks"
	"fyzo-chat/internal/models"
	"fyzo-chat/internal/repositories"
	"fyzo-chat/internal/service"
	"fyzo-chat/internal/telemetry"
	"fyzo-chat/internal/ws"
)

const (
	fanID         = "user-fan"
	creatorUserID = "user-creator"
	creatorID     = "creator-1"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type envelope struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Data       json.RawMessage    `json:"data"`
	Pagination *models.Pagination `json:"pagination"`
}

type testServer struct {
	router    *gin.Engine
	store     *repositories.MemoryStore
	publisher *mocks.PublisherMock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repositories.NewMemoryStore()
	store.PutUser(models.UserSummary{ID: fanID, Name: "Fan"})
	store.PutUser(models.UserSummary{ID: creatorUserID, Name: "Creator"})
	store.PutCreator(models.Creator{ID: creatorID, UserID: creatorUserID, DisplayName: "The Creator"})

	hub := ws.NewHub(quiet)
	svc := service.NewChatService(repositories.NewMemoryBackend(store), hub, hub, nil, quiet)

	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(nil).Maybe()
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "fyzo-chat", "test", quiet)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("/api/v1/chats", func(c *gin.Context) {
		c.Set(middleware.UserIDKey, c.GetHeader("X-Test-User"))
		c.Next()
	})
	NewChatHandler(svc, audit, quiet).Register(api)
	RegisterHealthRoutes(r, "memory", repositories.NewMemoryBackend(store).Ping)
	return &testServer{router: r, store: store, publisher: publisher}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Test-User", userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (s *testServer) createChat(t *testing.T) models.ChatView {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/chats/get-or-create", fanID, gin.H{"creatorId": creatorID})
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	var chat models.ChatView
	require.NoError(t, json.Unmarshal(env.Data, &chat))
	return chat
}

func (s *testServer) sendText(t *testing.T, chatID, userID, content string) models.MessageView {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", userID, gin.H{"content": content})
	require.Equal(t, http.StatusCreated, code)
	var msg models.MessageView
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	return msg
}

func TestGetOrCreateChatEndpoint(t *testing.T) {
	s := newTestServer(t)
	first := s.createChat(t)
	second := s.createChat(t)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, first.Creator)
	assert.Equal(t, "The Creator", first.Creator.DisplayName)

	code, env := s.do(t, http.MethodPost, "/api/v1/chats/get-or-create", fanID, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Equal(t, "Creator ID is required", env.Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/chats/get-or-create", fanID, gin.H{"creatorId": "nobody"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Creator not found", env.Message)
}

func TestSendAndFetchMessagesEndpoints(t *testing.T) {
	s := newTestServer(t)
	chat := s.createChat(t)
	sent := s.sendText(t, chat.ID, fanID, "hi")
	assert.Equal(t, "hi", sent.Content)

	code, env := s.do(t, http.MethodGet, "/api/v1/chats/unread-count", creatorUserID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"unreadCount":1}`, string(env.Data))

	code, env = s.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/messages?page=1&limit=10", creatorUserID, nil)
	require.Equal(t, http.StatusOK, code)
	var msgs []models.MessageView
	require.NoError(t, json.Unmarshal(env.Data, &msgs))
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsReadBy(creatorUserID))
	require.NotNil(t, env.Pagination)
	assert.Equal(t, models.Pagination{Page: 1, Limit: 10, Total: 1, Pages: 1}, *env.Pagination)

	code, env = s.do(t, http.MethodGet, "/api/v1/chats/unread-count", creatorUserID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"unreadCount":0}`, string(env.Data))

	code, env = s.do(t, http.MethodGet, "/api/v1/chats", fanID, nil)
	require.Equal(t, http.StatusOK, code)
	var chats []models.ChatView
	require.NoError(t, json.Unmarshal(env.Data, &chats))
	require.Len(t, chats, 1)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "hi", chats[0].LastMessage.Content)
}

func TestNonParticipantGetsForbidden(t *testing.T) {
	s := newTestServer(t)
	chat := s.createChat(t)
	s.sendText(t, chat.ID, fanID, "secret")

	code, env := s.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/messages", "user-stranger", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, env.Success)
	assert.Equal(t, "Access denied", env.Message)
	assert.Empty(t, env.Data)

	code, _ = s.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID, "user-stranger", nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestSendImageWithoutURLIsRejected(t *testing.T) {
	s := newTestServer(t)
	chat := s.createChat(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/chats/"+chat.ID+"/messages", fanID, gin.H{"type": "image"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, models.ErrMediaURLRequired.Error(), env.Message)

	msgs, _, err := s.store.ListForUser(context.Background(), chat.ID, fanID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMarkReadEndpoint(t *testing.T) {
	s := newTestServer(t)
	chat := s.createChat(t)
	msg := s.sendText(t, chat.ID, fanID, "ping")

	code, env := s.do(t, http.MethodPut, "/api/v1/chats/"+chat.ID+"/mark-read", creatorUserID, gin.H{"messageIds": []string{msg.ID}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Messages marked as read", env.Message)
	var ev models.ReadEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, []string{msg.ID}, ev.MessageIDs)
}

func TestDeleteMessageEndpoint(t *testing.T) {
	s := newTestServer(t)
	chat := s.createChat(t)
	msg := s.sendText(t, chat.ID, fanID, "regret")
	path := "/api/v1/chats/" + chat.ID + "/messages/" + msg.ID

	code, env := s.do(t, http.MethodDelete, path, creatorUserID, gin.H{"deleteForEveryone": true})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "You can only delete your own messages for everyone", env.Message)

	code, env = s.do(t, http.MethodDelete, path, fanID, gin.H{"deleteForEveryone": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Message deleted successfully", env.Message)
	s.publisher.AssertCalled(t, "Publish", mock.Anything, "audit.chat", mock.Anything)

	stored, err := s.store.GetMessage(context.Background(), chat.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TombstoneContent, stored.Content)

	code, _ = s.do(t, http.MethodDelete, path+"?deleteForEveryone=false", creatorUserID, nil)
	require.Equal(t, http.StatusOK, code)
	stored, err = s.store.GetMessage(context.Background(), chat.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{creatorUserID}, stored.DeletedFor)

	code, env = s.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/messages", fanID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), msg.ID)
	assert.NotContains(t, string(env.Data), "deletedFor")
}

func TestToggleBlockEndpoint(t *testing.T) {
	s := newTestServer(t)
	chat := s.createChat(t)
	path := "/api/v1/chats/" + chat.ID + "/block"

	code, env := s.do(t, http.MethodPut, path, creatorUserID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Chat blocked successfully", env.Message)
	assert.JSONEq(t, `{"isBlocked":true}`, string(env.Data))

	code, env = s.do(t, http.MethodPost, "/api/v1/chats/"+chat.ID+"/messages", fanID, gin.H{"content": "hello?"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "This chat has been blocked", env.Message)

	code, _ = s.do(t, http.MethodPut, path, fanID, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPut, path, creatorUserID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Chat unblocked successfully", env.Message)
}

type failingPipeline struct {
	ChatPipeline
}

func (failingPipeline) ListChats(context.Context, service.Actor, service.Page) ([]models.ChatView, models.Pagination, error) {
	return nil, models.Pagination{}, &service.Error{Kind: service.KindInternal, Message: "Failed to fetch chats", Err: errors.New("connection reset")}
}

func (failingPipeline) UnreadCount(context.Context, service.Actor) (int, error) {
	return 0, errors.New("unclassified")
}

func TestInternalErrorsHideCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewChatHandler(failingPipeline{}, nil, quiet).Register(r.Group("/api/v1/chats"))

	for path, want := range map[string]string{
		"/api/v1/chats":              "Failed to fetch chats",
		"/api/v1/chats/unread-count": "Internal server error",
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.JSONEq(t, `{"success":false,"message":"`+want+`"}`, rec.Body.String(), path)
	}
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHealthRoutes(r, "mongo", func(context.Context) error { return errors.New("no reachable servers") })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDebugAuditRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.RequestID == "req-42" && e.UserID != nil && *e.UserID == fanID && e.Payload.Text == "audit test"
	})).Return(nil).Once()

	r := gin.New()
	RegisterDebugRoutes(r, telemetry.NewAuditEmitter(publisher, "audit.chat", "fyzo-chat", "test", quiet), true)

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set("X-User-ID", fanID)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestGetMessagesHugePageReturnsEmptyPage(t *testing.T) {
	s := newTestServer(t)
	chat := s.createChat(t)
	s.sendText(t, chat.ID, fanID, "hello")

	code, env := s.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/messages?page=9223372036854775807&limit=100", creatorUserID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `[]`, string(env.Data))
	require.NotNil(t, env.Pagination)
	assert.Equal(t, service.MaxPage, env.Pagination.Page)
	assert.Equal(t, int64(1), env.Pagination.Total)

	code, _ = s.do(t, http.MethodGet, "/api/v1/chats?page=9223372036854775807", fanID, nil)
	assert.Equal(t, http.StatusOK, code)
}
