package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/config"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/session"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// Client is one websocket connection. It implements session.Handle.
type Client struct {
	ID     string
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	config config.WebSocketConfig
	ctx    context.Context

	mu     sync.RWMutex
	closed bool
}

func NewClient(ctx context.Context, id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Client{
		ID:     id,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, buf),
		config: cfg,
		ctx:    log.WithFields(ctx, log.FieldConnID, id),
	}
}

// ConnID implements session.Handle.
func (c *Client) ConnID() string {
	return c.ID
}

// Context returns the connection-scoped context carrying its logger.
func (c *Client) Context() context.Context {
	return c.ctx
}

// ReadPump reads frames until the connection fails, passing each to
// onMessage. onClose runs once after the last frame, before the client
// is unregistered.
func (c *Client) ReadPump(onMessage func(*Client, []byte), onClose func(*Client)) {
	l := log.Ctx(c.ctx)
	defer func() {
		if onClose != nil {
			onClose(c)
		}
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l.Warn().Err(err).Msg("websocket read error")
			}
			break
		}

		onMessage(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues message for writing. It returns
// session.ErrConnectionClosed when the client is gone or its buffer is full.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return session.ErrConnectionClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return session.ErrConnectionClosed
	}
}

// Close terminates the connection. The read pump then exits and runs the
// disconnect path.
func (c *Client) Close() error {
	return c.Conn.Close()
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
