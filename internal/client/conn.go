package client

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omgupta81/Smartbridge/internal/protocol"
)

const writeWait = 10 * time.Second

// Conn is the websocket transport behind a Client.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

func (t *Conn) Emit(event string, data interface{}) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return t.ws.WriteMessage(websocket.TextMessage, frame)
}

func (t *Conn) Close() error {
	return t.ws.Close()
}

// Serve attaches the client to the connection and pumps inbound frames until
// the connection drops. It returns the read error that ended the session;
// the caller decides whether to dial again, after which the client rejoins
// and re-requests full snapshots.
func (c *Client) Serve(conn *Conn) error {
	c.Attach(conn)
	defer c.Detach()
	defer conn.Close()

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			return err
		}
		c.HandleFrame(raw)
	}
}
