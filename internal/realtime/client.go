package realtime

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dukepan/splitrooms/internal/pubsub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is a read-only WebSocket subscriber to one room's event feed.
// Subscribers don't send anything meaningful over the socket besides
// pong frames, so there's no read-side dispatch like the teacher's chat
// client had — readPump exists purely to drive the keepalive deadline and
// notice disconnects.
type Client struct {
	conn     *websocket.Conn
	send     chan pubsub.Message
	roomCode string
	userID   string
}

// NewClient wraps conn as a realtime subscriber for roomCode.
func NewClient(conn *websocket.Conn, roomCode, userID string) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan pubsub.Message, 64),
		roomCode: roomCode,
		userID:   userID,
	}
}

// Run drives the client's read and write pumps until the connection
// closes, then leaves hub's feed for this client's room.
func (c *Client) Run(hub *Hub, logger *slog.Logger) {
	done := make(chan struct{})
	go c.writePump(done, logger)
	c.readPump(logger)
	<-done
	hub.Leave(c.roomCode, c)
}

func (c *Client) readPump(logger *slog.Logger) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("realtime client read error", "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump(done chan struct{}, logger *slog.Logger) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Warn("realtime client write error", "error", err)
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
