package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lexiqai/trades-chat/internal/conversation"
	"github.com/lexiqai/trades-chat/internal/observability"
)

const maxFrameBytes = 64 * 1024

func newUpgrader(policy OriginPolicy) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Non-browser clients send no Origin
			origin := r.Header.Get("Origin")
			return origin == "" || policy.Allowed(origin)
		},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// handleStream serves chat turns over a WebSocket. Each text frame {"message": ...}
// is answered with {"reply", "dataUsed"} or {"error"}; turns on one
// connection run in order. Every frame counts against the client IP's rate
// limit, like a POST /api/chat.
func (h *chatHandler) handleStream(c *gin.Context) {
	id := userID(c)
	clientIP := c.ClientIP()
	logger := observability.FromContext(c.Request.Context()).With().Str("user_id", id).Logger()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	logger.Info().Msg("Chat stream opened")
	ctx := logger.WithContext(c.Request.Context())

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			break
		}

		var req chatRequest
		if err := json.Unmarshal(frame, &req); err != nil || req.Message == nil {
			if err := conn.WriteJSON(errorResponse{Error: errMessageRequired}); err != nil {
				break
			}
			continue
		}

		ok, err := allow(ctx, h.limiter, clientIP)
		if err != nil || !ok {
			msg := errTooManyRequests
			if err != nil {
				logger.Error().Err(err).Msg("Rate limiter failed")
				msg = errInternal
			}
			if err := conn.WriteJSON(errorResponse{Error: msg}); err != nil {
				break
			}
			continue
		}

		reply, err := h.chat.Handle(ctx, conversation.Request{UserID: id, Message: *req.Message})
		var out any
		if err != nil {
			status, msg := chatError(err)
			if status >= http.StatusInternalServerError {
				logger.Error().Err(err).Msg("Chat turn failed")
			}
			out = errorResponse{Error: msg}
		} else {
			out = chatResponse{Reply: reply.Text, DataUsed: reply.DataUsed}
		}

		if err := conn.WriteJSON(out); err != nil {
			logger.Warn().Err(err).Msg("WebSocket write error")
			break
		}
	}

	logger.Info().Msg("Chat stream closed")
}
