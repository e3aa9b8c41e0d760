package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ulule/limiter/v3"

	"github.com/lexiqai/trades-chat/internal/conversation"
	"github.com/lexiqai/trades-chat/internal/history"
	"github.com/lexiqai/trades-chat/internal/observability"
)

const (
	errMessageRequired  = "Message is required and must be a string"
	errLLMNotConfigured = "LLM API key not configured"
	errInternal         = "Internal server error"
)

type chatRequest struct {
	Message *string `json:"message"`
}

type chatResponse struct {
	Reply    string `json:"reply"`
	DataUsed bool   `json:"dataUsed"`
}

type historyResponse struct {
	UserID string         `json:"userId"`
	Turns  []history.Turn `json:"turns"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type chatHandler struct {
	chat     ChatService
	upgrader websocket.Upgrader
	limiter  *limiter.Limiter // shared with the /api middleware; stream frames count too
}

func userID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(headerUserID)); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.Query("userId")); id != "" {
		return id
	}
	return conversation.AnonymousUser
}

// chatError maps a turn error to a status and client-safe message
func chatError(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrInvalidMessage):
		return http.StatusBadRequest, errMessageRequired
	case errors.Is(err, conversation.ErrNotConfigured):
		return http.StatusInternalServerError, errLLMNotConfigured
	default:
		return http.StatusInternalServerError, errInternal
	}
}

func (h *chatHandler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: errMessageRequired})
		return
	}

	ctx := c.Request.Context()
	reply, err := h.chat.Handle(ctx, conversation.Request{
		UserID:  userID(c),
		Message: *req.Message,
	})
	if err != nil {
		status, msg := chatError(err)
		if status >= http.StatusInternalServerError {
			observability.FromContext(ctx).Error().Err(err).Msg("Chat turn failed")
		}
		c.JSON(status, errorResponse{Error: msg})
		return
	}

	c.JSON(http.StatusOK, chatResponse{Reply: reply.Text, DataUsed: reply.DataUsed})
}

func (h *chatHandler) handleHistory(c *gin.Context) {
	ctx := c.Request.Context()
	id := userID(c)

	turns, err := h.chat.History(ctx, id)
	if err != nil {
		observability.FromContext(ctx).Error().Err(err).Str("user_id", id).Msg("Failed to load history")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: errInternal})
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}

	c.JSON(http.StatusOK, historyResponse{UserID: id, Turns: turns})
}
