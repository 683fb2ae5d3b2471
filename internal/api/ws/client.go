// Package ws provides the WebSocket surface viewers connect to: it accepts
// submission and query commands and streams notification events back.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/app/notification"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 4096
	sendChannelSize = 16
)

// Client is one connected viewer. It implements notification.Stream so the
// notification manager can push events to it.
type Client struct {
	handler *Handler
	conn    *websocket.Conn
	send    chan *notification.Message
	subID   string

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	username string
}

func newClient(handler *Handler, conn *websocket.Conn) *Client {
	return &Client{
		handler: handler,
		conn:    conn,
		send:    make(chan *notification.Message, sendChannelSize),
		done:    make(chan struct{}),
	}
}

// Send queues a message for delivery. Never blocks: a viewer whose buffer
// is full loses the message and catches up from sequence numbers.
func (c *Client) Send(msg *notification.Message) error {
	select {
	case <-c.done:
		return errors.New("client closed")
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Username returns the identity bound by a successful login, or "".
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) setUsername(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
}

// readPump reads commands from the connection and dispatches them. Runs
// until the connection drops; tears down the subscription on exit.
func (c *Client) readPump() {
	defer func() {
		c.handler.manager.Unsubscribe(c.subID)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			zlog.Debug().Msgf("discarding malformed command: %v", err)
			continue
		}

		c.handler.dispatch(c, cmd)
	}
}

// writePump writes queued messages to the connection and keeps it alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
