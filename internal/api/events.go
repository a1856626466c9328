package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	eventBuffer    = 256
	eventKeepalive = 15 * time.Second
)

// event is the data of one server-sent event; its SSE name is Kind.
type event struct {
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// events streams bus events as SSE. ?kind= filters by kind prefix
// ("notify.", "message."). The first event is "ready" with the current
// store version.
func (s *Server) events(c *gin.Context) {
	ch, unsub := s.deps.Bus.Subscribe(c.Query("kind"), eventBuffer)
	defer unsub()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(eventKeepalive)
	defer ticker.Stop()

	ready := false
	c.Stream(func(w io.Writer) bool {
		if !ready {
			ready = true
			c.SSEvent("ready", event{Kind: "ready", At: time.Now(), Payload: gin.H{"version": s.deps.Store.Snapshot().Version}})
			return true
		}
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(evt.Kind, event{Kind: evt.Kind, At: evt.Timestamp, Payload: evt.Payload})
			return true
		case t := <-ticker.C:
			c.SSEvent("ping", event{Kind: "ping", At: t})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
