package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hasanabuzayed/openagent/internal/session"
)

// Control handles the live side of the surface: posting into the
// slot, answering tool calls, cancelling, and the event stream.
type Control struct {
	session     *session.Session
	broadcaster *session.Broadcaster
}

func NewControl(s *session.Session, b *session.Broadcaster) Control {
	return Control{session: s, broadcaster: b}
}

func (h Control) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
		Model   string `json:"model"`
		Agent   string `json:"agent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	id, queued, err := h.session.PostMessage(req.Content, req.Model, req.Agent)
	if err != nil {
		if errors.Is(err, session.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, gin.H{"err": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "queued": queued})
}

func (h Control) PostToolResult(c *gin.Context) {
	var req struct {
		ToolCallID string `json:"tool_call_id" binding:"required"`
		Name       string `json:"name"`
		Result     string `json:"result"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	if err := h.session.PostToolResult(req.ToolCallID, req.Result); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Control) Cancel(c *gin.Context) {
	h.session.Cancel()
	c.Status(http.StatusNoContent)
}

func (h Control) Status(c *gin.Context) {
	state, queueLen := h.session.State()
	c.JSON(http.StatusOK, gin.H{
		"state":      state,
		"queue_len":  queueLen,
		"mission_id": h.session.MissionID(),
	})
}

// Stream sends every broadcast event to the client as SSE. A client
// that cannot keep up is disconnected rather than buffered without
// bound.
func (h Control) Stream(c *gin.Context) {
	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
