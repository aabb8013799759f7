package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medialib/curator/pkg/events"
)

// keepAliveInterval is how often an SSE comment line is written to keep
// idle connections from being reaped by proxies.
const keepAliveInterval = 30 * time.Second

// jobEventsHandler handles GET /api/v1/jobs/:id/events: a server-sent
// event stream of one job's progress.
func (s *Server) jobEventsHandler(c *gin.Context) {
	s.streamEvents(c, events.JobChannel(c.Param("id")))
}

// globalEventsHandler handles GET /api/v1/events: the firehose of every
// job's events.
func (s *Server) globalEventsHandler(c *gin.Context) {
	s.streamEvents(c, events.GlobalChannel)
}

func (s *Server) streamEvents(c *gin.Context, channel string) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not configured"})
		return
	}

	sub := s.bus.Subscribe(channel)
	defer s.bus.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		}
	}
}
