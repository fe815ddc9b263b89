package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support-chat/internal/chat"
	"support-chat/internal/middleware"
	"support-chat/internal/repositories"
	"support-chat/internal/telemetry"
)

// ChatHandler exposes the chat synchronization core over HTTP.
type ChatHandler struct {
	core    *chat.Core
	emitter *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(core *chat.Core, emitter *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{core: core, emitter: emitter}
}

// GetActiveChat returns (creating on first contact) the caller's
// support thread plus its newest message page.
func (h *ChatHandler) GetActiveChat(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	cursor, limit, ok := parsePaging(c)
	if !ok {
		return
	}

	page, err := h.core.GetOrCreateActiveChat(c.Request.Context(), identity, cursor, limit)
	if err != nil {
		respondError(c, err, "failed to load chat")
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListChats returns the admin chat list, newest activity first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	identity, _ := middleware.Identity(c)

	chats, err := h.core.ListChats(c.Request.Context(), identity)
	if err != nil {
		respondError(c, err, "failed to load chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetMessages pulls one older page of a chat's history.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	identity, _ := middleware.Identity(c)
	chatID, ok := parseChatID(c)
	if !ok {
		return
	}
	cursor, limit, ok := parsePaging(c)
	if !ok {
		return
	}

	page, err := h.core.Messages(c.Request.Context(), identity, chatID, cursor, limit)
	if err != nil {
		respondError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, page)
}

// PostMessage stores a message and broadcasts it.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	identity, _ := middleware.Identity(c)
	chatID, ok := parseChatID(c)
	if !ok {
		return
	}

	var req struct {
		Content  *string `json:"content"`
		FileURL  *string `json:"file_url"`
		FileType *string `json:"file_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.core.SendMessage(c.Request.Context(), identity, chatID, req.Content, req.FileURL, req.FileType)
	if err != nil {
		respondError(c, err, "failed to send message")
		return
	}

	h.audit(c, fmt.Sprintf("message %d sent in chat %d", msg.ID, chatID))
	c.JSON(http.StatusCreated, msg)
}

// EditMessage rewrites a message body.
func (h *ChatHandler) EditMessage(c *gin.Context) {
	identity, _ := middleware.Identity(c)
	_, messageID, ok := parseIDs(c)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.core.EditMessage(c.Request.Context(), identity, messageID, req.Content)
	if err != nil {
		respondError(c, err, "failed to edit message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage tombstones a message.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	identity, _ := middleware.Identity(c)
	chatID, messageID, ok := parseIDs(c)
	if !ok {
		return
	}

	msg, err := h.core.DeleteMessage(c.Request.Context(), identity, messageID)
	if err != nil {
		respondError(c, err, "failed to delete message")
		return
	}

	h.audit(c, fmt.Sprintf("message %d deleted in chat %d", messageID, chatID))
	c.JSON(http.StatusOK, msg)
}

// MarkRead sweeps unread counterpart messages in the chat.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	identity, _ := middleware.Identity(c)
	chatID, ok := parseChatID(c)
	if !ok {
		return
	}

	if err := h.core.MarkRead(c.Request.Context(), identity, chatID); err != nil {
		respondError(c, err, "failed to mark messages read")
		return
	}
	c.Status(http.StatusNoContent)
}

// Typing relays the ephemeral typing hint.
func (h *ChatHandler) Typing(c *gin.Context) {
	identity, _ := middleware.Identity(c)
	chatID, ok := parseChatID(c)
	if !ok {
		return
	}

	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.core.SetTyping(c.Request.Context(), identity, chatID, req.IsTyping); err != nil {
		respondError(c, err, "failed to publish typing status")
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteChat removes a chat and its history. Admin only.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	identity, _ := middleware.Identity(c)
	chatID, ok := parseChatID(c)
	if !ok {
		return
	}

	if err := h.core.DeleteChat(c.Request.Context(), identity, chatID); err != nil {
		respondError(c, err, "failed to delete chat")
		return
	}

	h.audit(c, fmt.Sprintf("chat %d deleted", chatID))
	c.Status(http.StatusNoContent)
}

// AdminUnreadCounts snapshots unread user messages grouped by chat.
func (h *ChatHandler) AdminUnreadCounts(c *gin.Context) {
	identity, _ := middleware.Identity(c)

	counts, err := h.core.AdminUnreadCounts(c.Request.Context(), identity)
	if err != nil {
		respondError(c, err, "failed to load unread counts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": counts})
}

// UserUnreadCount returns the caller's closed-widget badge count.
func (h *ChatHandler) UserUnreadCount(c *gin.Context) {
	identity, _ := middleware.Identity(c)

	count, err := h.core.UserUnreadCount(c.Request.Context(), identity)
	if err != nil {
		respondError(c, err, "failed to load unread count")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *ChatHandler) audit(c *gin.Context, text string) {
	if h.emitter == nil {
		return
	}
	h.emitter.Emit(c.Request.Context(), "INFO", text, requestIDFromContext(c), userIDFromContext(c))
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, repositories.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
	case errors.Is(err, repositories.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, chat.ErrNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageDeleted):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parseChatID(c *gin.Context) (int, bool) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return 0, false
	}
	return chatID, true
}

func parseIDs(c *gin.Context) (int, int, bool) {
	chatID, ok := parseChatID(c)
	if !ok {
		return 0, 0, false
	}
	msgID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, 0, false
	}
	return chatID, msgID, true
}

func parsePaging(c *gin.Context) (int, int, bool) {
	cursor := 0
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return 0, 0, false
		}
		cursor = parsed
	}

	limit := chat.DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, 0, false
		}
		limit = parsed
	}
	return cursor, limit, true
}
