package httpapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/browsecore/browseserver/internal/eventbus"
)

// drainWindow is how long the stream stays open after task-ended so a slow
// client finishes reading the terminal event before the connection closes
// (§6's "Stream ends after task-ended plus a 10 s drain window").
const drainWindow = 10 * time.Second

// streamEvents serves GET /v1/tasks/{id}/events: SSE headers, a non-blocking
// disconnect check, and a flush after every event, wired onto an
// eventbus.Subscription in place of ad hoc thought/done events.
//
// A Last-Event-ID header is accepted but cannot be honored as a true resume:
// the event bus only fans out to live subscribers and keeps no per-topic
// replay log, so a client reconnecting after a gap sees only events
// published from the moment it resubscribes onward.
func (s *Server) streamEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming not supported")
		return
	}

	if lastID := c.GetHeader("Last-Event-ID"); lastID != "" {
		log.Printf("[httpapi] Last-Event-ID %q requested for task %s but the event bus keeps no replay log; resuming from now", lastID, c.Param("id"))
	}

	taskID := c.Param("id")
	sub := s.bus.Subscribe(taskID)
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request.Context()
	var drain <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events:
			if !open {
				return
			}
			if !writeEvent(c.Writer, flusher, ev) {
				return
			}
			if ev.Type == eventbus.EventTaskEnded {
				drain = time.After(drainWindow)
			}
		case <-drain:
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev eventbus.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[httpapi] SSE marshal error: %v", err)
		return false
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Sequence, ev.Type, data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
