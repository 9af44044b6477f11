package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cvsloane/infra-dashboard/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleSSE streams snapshots over Server-Sent Events. Comment
// heartbeats keep the connection alive through proxies between data
// frames.
func (s *Server) handleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	sub := s.hub.Subscribe()
	defer sub.Close()

	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, "data: {\"type\":\"connected\",\"timestamp\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
	flusher.Flush()

	logger.Info("SSE subscriber connected", zap.String("subscriber_id", sub.ID))

	heartbeat := time.NewTicker(s.config.KeepaliveInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info("SSE subscriber disconnected", zap.String("subscriber_id", sub.ID))
			return
		case payload, open := <-sub.C:
			if !open {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// handleWebSocket serves the same snapshot feed over a WebSocket.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket connection", logger.Err(err))
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer sub.Close()

	logger.Info("WebSocket subscriber connected", zap.String("subscriber_id", sub.ID))

	// Reader only drains control frames and signals disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			logger.Info("WebSocket subscriber disconnected", zap.String("subscriber_id", sub.ID))
			return
		case payload, open := <-sub.C:
			if !open {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Error("WebSocket write failed", logger.Err(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				logger.Error("WebSocket ping failed", logger.Err(err))
				return
			}
		}
	}
}

// handleSnapshot returns the most recent snapshot, waiting for the next
// polling tick when none has been produced yet.
func (s *Server) handleSnapshot(c *gin.Context) {
	if payload := s.hub.Latest(); payload != nil {
		c.Data(http.StatusOK, "application/json", payload)
		return
	}

	payload, err := s.hub.WaitNext(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No snapshot available yet"})
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}
