package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/store"
)

// ChatHandlers provides HTTP handlers for persisted text chat.
type ChatHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(st store.Store, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{store: st, log: logger}
}

// ChatMessageRequest represents the post-message request body.
type ChatMessageRequest struct {
	Body string `json:"body" binding:"required,min=1,max=2000"`
}

// ChatMessageResponse represents a chat message in API responses.
type ChatMessageResponse struct {
	ID        int64  `json:"id"`
	ChannelID int64  `json:"channel_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// PostMessage persists a chat message in a channel.
// POST /api/chat/:id
func (h *ChatHandlers) PostMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg := &store.ChatMessage{
		ChannelID: channelID,
		UserID:    uid,
		Body:      req.Body,
	}
	if err := h.store.SaveChatMessage(c.Request.Context(), msg); err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to save chat message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	username, _ := c.Get(ContextKeyUsername)
	name, _ := username.(string)
	c.JSON(http.StatusCreated, ChatMessageResponse{
		ID:        msg.ID,
		ChannelID: channelID,
		UserID:    uid,
		Username:  name,
		Body:      req.Body,
		CreatedAt: time.Now().Format(time.RFC3339),
	})
}

// ListMessages returns a channel's chat history, oldest first.
// GET /api/chat/:id?limit=&before_id=
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	var beforeID *int64
	if raw := c.Query("before_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before_id"})
			return
		}
		beforeID = &n
	}

	messages, err := h.store.ListChatMessages(c.Request.Context(), channelID, limit, beforeID)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to list chat messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ChatMessageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, ChatMessageResponse{
			ID:        m.ID,
			ChannelID: m.ChannelID,
			UserID:    m.UserID,
			Username:  m.Username,
			Body:      m.Body,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, response)
}
