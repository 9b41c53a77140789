package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"gopherchat/internal/config"
	applog "gopherchat/internal/pkg/log"
)

// Client is one live connection. Its send queue is owned by the Hub: only
// the Hub enqueues to it and only the Hub closes it.
type Client struct {
	ID string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	cfg  config.WebSocketConfig

	// guarded by hub.mu
	userID     string
	sendClosed bool
	gone       bool
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBufferSize
	if size <= 0 {
		size = 256
	}
	return &Client{
		ID:   id,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, size),
		cfg:  cfg,
	}
}

// UserID returns the identity attached by Authenticate, or "".
func (c *Client) UserID() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.userID
}

// ReadPump reads frames until the connection fails, handing each one to
// handler. It deregisters the client on exit.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	logger := applog.L().With().Str(applog.FieldClientID, c.ID).Logger()
	defer func() {
		c.hub.Deregister(context.Background(), c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait()))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		handler(c, message)
	}
}

// WritePump drains the send queue to the connection and keeps it alive with
// pings. A closed queue ends the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait()))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
