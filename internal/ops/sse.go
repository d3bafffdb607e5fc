package ops

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// sessionCountEvent is sent whenever the number of active sessions changes.
type sessionCountEvent struct {
	Count int `json:"count"`
}

// handleSessionStream pushes the active session count as server-sent
// events. The current count is sent on connect.
func handleSessionStream(sessions SessionLister, poll time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		last := len(sessions.Sessions())
		writeSSE(c.Writer, "sessions", sessionCountEvent{Count: last})
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(poll)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				n := len(sessions.Sessions())
				if n == last {
					continue
				}
				last = n
				writeSSE(c.Writer, "sessions", sessionCountEvent{Count: n})
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
