package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fyzo-chat/internal/middleware"
	"fyzo-chat/internal/models"
	"fyzo-chat/internal/service"
	"fyzo-chat/internal/telemetry"
)

// ConnectionIDHeader names the caller's live socket so it is skipped during fan-out.
const ConnectionIDHeader = "X-Connection-ID"

// ChatPipeline is the chat service surface exposed over HTTP.
type ChatPipeline interface {
	GetOrCreateChat(ctx context.Context, actor service.Actor, creatorID string) (models.ChatView, bool, error)
	ListChats(ctx context.Context, actor service.Actor, page service.Page) ([]models.ChatView, models.Pagination, error)
	GetChat(ctx context.Context, actor service.Actor, chatID string) (models.ChatView, error)
	SendMessage(ctx context.Context, actor service.Actor, chatID string, in service.SendMessageInput) (models.MessageView, error)
	GetMessages(ctx context.Context, actor service.Actor, chatID string, page service.Page) ([]models.MessageView, models.Pagination, error)
	MarkRead(ctx context.Context, actor service.Actor, chatID string, messageIDs []string) (models.ReadEvent, error)
	DeleteMessage(ctx context.Context, actor service.Actor, chatID, messageID string, forEveryone bool) (models.DeleteEvent, error)
	ToggleBlock(ctx context.Context, actor service.Actor, chatID string) (bool, error)
	UnreadCount(ctx context.Context, actor service.Actor) (int, error)
}

// ChatHandler manages the chat REST endpoints.
type ChatHandler struct {
	chats  ChatPipeline
	audit  *telemetry.AuditEmitter
	logger *slog.Logger
}

// NewChatHandler builds a ChatHandler. audit may be nil.
func NewChatHandler(chats ChatPipeline, audit *telemetry.AuditEmitter, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{chats: chats, audit: audit, logger: logger}
}

// Register mounts the chat routes on an authenticated group.
func (h *ChatHandler) Register(r gin.IRoutes) {
	r.POST("/get-or-create", h.GetOrCreateChat)
	r.GET("", h.ListChats)
	r.GET("/unread-count", h.UnreadCount)
	r.GET("/:chatId", h.GetChat)
	r.GET("/:chatId/messages", h.GetMessages)
	r.POST("/:chatId/messages", h.SendMessage)
	r.PUT("/:chatId/mark-read", h.MarkRead)
	r.DELETE("/:chatId/messages/:messageId", h.DeleteMessage)
	r.PUT("/:chatId/block", h.ToggleBlock)
}

type response struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message,omitempty"`
	Data       any                `json:"data,omitempty"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
}

func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{
		UserID: c.GetString(middleware.UserIDKey),
		Role:   c.GetString(middleware.RoleKey),
		ConnID: c.GetHeader(ConnectionIDHeader),
	}
}

func pageFrom(c *gin.Context) service.Page {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return service.NewPage(page, limit)
}

var statusByKind = map[service.Kind]int{
	service.KindNotFound:   http.StatusNotFound,
	service.KindForbidden:  http.StatusForbidden,
	service.KindBadRequest: http.StatusBadRequest,
	service.KindInternal:   http.StatusInternalServerError,
}

func (h *ChatHandler) fail(c *gin.Context, err error) {
	kind := service.KindOf(err)
	if kind == service.KindInternal {
		h.logger.Error("chat request failed", "path", c.FullPath(), "request_id", requestIDFromContext(c), "error", err)
	}
	c.JSON(statusByKind[kind], response{Success: false, Message: service.MessageOf(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response{Success: false, Message: msg})
}

// GetOrCreateChat returns the caller's chat with a creator, creating it on first contact.
func (h *ChatHandler) GetOrCreateChat(c *gin.Context) {
	var req struct {
		CreatorID string `json:"creatorId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	chat, _, err := h.chats.GetOrCreateChat(c.Request.Context(), actorFrom(c), req.CreatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Data: chat})
}

// ListChats returns the caller's chats, most recently active first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, pagination, err := h.chats.ListChats(c.Request.Context(), actorFrom(c), pageFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Data: chats, Pagination: &pagination})
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.chats.GetChat(c.Request.Context(), actorFrom(c), c.Param("chatId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Data: chat})
}

// GetMessages returns a page of messages in chronological order and marks them read.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	messages, pagination, err := h.chats.GetMessages(c.Request.Context(), actorFrom(c), c.Param("chatId"), pageFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Data: messages, Pagination: &pagination})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var in service.SendMessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	msg, err := h.chats.SendMessage(c.Request.Context(), actorFrom(c), c.Param("chatId"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response{Success: true, Data: msg})
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	event, err := h.chats.MarkRead(c.Request.Context(), actorFrom(c), c.Param("chatId"), req.MessageIDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Message: "Messages marked as read", Data: event})
}

// DeleteMessage hides a message for the caller or, with deleteForEveryone, tombstones it.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	var req struct {
		DeleteForEveryone bool `json:"deleteForEveryone"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	if q := c.Query("deleteForEveryone"); q != "" {
		req.DeleteForEveryone, _ = strconv.ParseBool(q)
	}

	actor := actorFrom(c)
	event, err := h.chats.DeleteMessage(c.Request.Context(), actor, c.Param("chatId"), c.Param("messageId"), req.DeleteForEveryone)
	if err != nil {
		h.fail(c, err)
		return
	}
	if event.ForEveryone {
		h.audit.Emit(c.Request.Context(), "INFO", "message deleted for everyone", requestIDFromContext(c), userIDFromContext(c), map[string]any{
			"chat_id":    event.ChatID,
			"message_id": event.MessageID,
		})
	}
	c.JSON(http.StatusOK, response{Success: true, Message: "Message deleted successfully", Data: event})
}

func (h *ChatHandler) ToggleBlock(c *gin.Context) {
	chatID := c.Param("chatId")
	blocked, err := h.chats.ToggleBlock(c.Request.Context(), actorFrom(c), chatID)
	if err != nil {
		h.fail(c, err)
		return
	}

	message := "Chat unblocked successfully"
	if blocked {
		message = "Chat blocked successfully"
	}
	h.audit.Emit(c.Request.Context(), "INFO", message, requestIDFromContext(c), userIDFromContext(c), map[string]any{
		"chat_id": chatID,
		"blocked": blocked,
	})
	c.JSON(http.StatusOK, response{Success: true, Message: message, Data: gin.H{"isBlocked": blocked}})
}

func (h *ChatHandler) UnreadCount(c *gin.Context) {
	total, err := h.chats.UnreadCount(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Data: gin.H{"unreadCount": total}})
}
