// ABOUTME: One operator websocket connection with its read and write pumps.
// ABOUTME: The write pump keeps the connection alive with ping/pong deadlines.

package gateway

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// wsClient is a single connected operator. The desk pushes frames; the
// read pump exists only to observe pongs and closes.
type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	agentID string
}

func newWSClient(hub *Hub, conn *websocket.Conn, agentID string) *wsClient {
	return &wsClient{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 64),
		agentID: agentID,
	}
}

// readPump drains the connection until it closes. Inbound frames are
// ignored; operators act through the HTTP API.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump writes queued frames and pings on a ticker. A closed send
// channel means the hub dropped us.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
