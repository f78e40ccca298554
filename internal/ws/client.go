package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wandform/backend/internal/config"
	"github.com/wandform/backend/internal/ratelimit"
	"github.com/wandform/backend/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn      *websocket.Conn
	sess      *room.Session
	limiter   *ratelimit.Bucket
	writeWait time.Duration
	pongWait  time.Duration
	maxBytes  int64
}

// ServeWS upgrades the request and joins the caller to the form's room.
// A plain HTTP request on this endpoint gets 426 Upgrade Required.
func ServeWS(mgr *room.Manager, cfg config.RealtimeConfig, formID string, w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusUpgradeRequired)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	sess := mgr.Join(formID)

	c := &client{
		conn:      conn,
		sess:      sess,
		limiter:   ratelimit.NewBucket(cfg.MessagesPerSecond, cfg.MessageBurst),
		writeWait: time.Duration(cfg.WriteWaitSeconds) * time.Second,
		pongWait:  time.Duration(cfg.PongWaitSeconds) * time.Second,
		maxBytes:  cfg.MaxMessageBytes,
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.sess.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for session %s (warning #%d)",
					c.sess.ID(), rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting session %s for excessive rate limit violations", c.sess.ID())
				return
			}
			continue
		}

		c.sess.HandleFrame(message)
	}
}

func (c *client) writePump() {
	pingPeriod := (c.pongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.sess.Events():
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// The room removed this session; tell the peer and stop.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, event); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
