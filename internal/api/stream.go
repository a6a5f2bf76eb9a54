package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// logStream pushes new log entries to a websocket client, optionally
// filtered by ?type=. Entries appended while the client is slow are
// dropped for that client only.
func (s *Server) logStream(c *gin.Context) {
	if s.deps.Log == nil {
		fail(c, http.StatusServiceUnavailable, "transmission log unavailable")
		return
	}
	filter := translog.EntryType(strings.ToUpper(c.Query("type")))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("api: websocket upgrade failed")
		return
	}
	defer conn.Close()

	entries, cancel := s.deps.Log.Subscribe(streamBuffer)
	defer cancel()

	log.Debug().Str("client", c.ClientIP()).Str("filter", string(filter)).Msg("api: log stream opened")
	defer log.Debug().Str("client", c.ClientIP()).Msg("api: log stream closed")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case e, ok := <-entries:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if filter != "" && e.Type != filter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
