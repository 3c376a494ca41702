package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/omgupta81/Smartbridge/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	rateLimiter *ratelimit.Limiter

	id string

	// Mutated only on the read goroutine
	roomID   string
	username string
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 512),
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		id:          uuid.NewString(),
	}

	logrus.WithField("conn_id", client.id).Info("Socket connected")

	go client.writePump()
	go client.readPump()
}

// trySend enqueues a frame without blocking. A slow consumer loses frames
// rather than stalling the room's broadcast; its next full snapshot request
// resynchronizes it.
func (c *Client) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
		logrus.WithField("conn_id", c.id).Warn("Send buffer full, dropping frame")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		close(c.send)
		c.conn.Close()
		logrus.WithField("conn_id", c.id).Info("Socket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("conn_id", c.id).WithError(err).Warn("WebSocket read error")
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				logrus.WithFields(logrus.Fields{
					"conn_id": c.id,
					"room_id": c.roomID,
					"count":   rateLimitWarnings,
				}).Warn("Rate limit exceeded")
			}
			if rateLimitWarnings > 1000 {
				logrus.WithField("conn_id", c.id).Warn("Disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		c.hub.handle(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
