package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	websocketHeartbeatInterval = 25 * time.Second
	websocketWriteTimeout      = 10 * time.Second
	websocketReadLimit         = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type realtimePayload struct {
	Type      string        `json:"type"`
	Source    string        `json:"source"`
	Timestamp string        `json:"timestamp"`
	Event     *eventPayload `json:"event,omitempty"`
}

func (h *httpHandler) handleEmergencyStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	conn.SetReadLimit(websocketReadLimit)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(websocketHeartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Debug("realtime stream opened", zap.String("user_id", userID))
	for {
		var payload realtimePayload
		select {
		case <-ctx.Done():
			h.logger.Debug("realtime stream closed", zap.String("user_id", userID))
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			event := newEventPayload(message.Event)
			payload = realtimePayload{
				Type:      message.EventType,
				Source:    realtimeSourceBackend,
				Timestamp: formatTimestamp(message.Timestamp),
				Event:     &event,
			}
		case tick := <-heartbeat.C:
			payload = realtimePayload{
				Type:      realtimeEventHeartbeat,
				Source:    realtimeSourceBackend,
				Timestamp: formatTimestamp(tick),
			}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
		if err := conn.WriteJSON(payload); err != nil {
			h.logger.Debug("realtime write failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
	}
}
