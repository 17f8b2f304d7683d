package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	streamEventView      = "view"
	streamEventHeartbeat = "heartbeat"
	streamSource         = "superdialer"
)

// handleEvents streams the current view, then one event per published revision.
// Slow clients may skip intermediate revisions; every event carries a full view.
func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	views, cleanup := h.coordinator.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent(streamEventView, newViewPayload(h.coordinator.State(), "", ""))
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case state, ok := <-views:
			if !ok {
				return false
			}
			c.SSEvent(streamEventView, newViewPayload(state, "", ""))
			return true
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"source": streamSource})
			return true
		}
	})
}
