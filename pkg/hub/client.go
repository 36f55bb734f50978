package hub

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed
	maxMessageSize = 64 * 1024
)

// ReceiveFunc handles a message read from a client.
type ReceiveFunc func(c *Client, messageType int, data []byte)

// Client represents a single websocket connection
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan Message
	receive ReceiveFunc

	// Queued by the hub ahead of any later broadcast
	greeting   *Message
	registered chan struct{}

	// Guards send against a close by the hub
	mu     sync.Mutex
	closed bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReceiver handles messages the client sends. Without one, reads only
// detect disconnection.
func WithReceiver(fn ReceiveFunc) ClientOption {
	return func(c *Client) { c.receive = fn }
}

// WithGreeting sends msg first. The hub queues it at registration, so
// broadcasts queued earlier are not delivered and later ones follow it.
func WithGreeting(msg Message) ClientOption {
	return func(c *Client) { c.greeting = &msg }
}

// NewClient creates a new client and registers it with the hub, waiting
// until the hub has added it. It returns nil when the hub has stopped.
func NewClient(hub *Hub, conn *websocket.Conn, opts ...ClientOption) *Client {
	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan Message, 256), // Buffered channel for backpressure
		registered: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(client)
	}
	select {
	case hub.queue <- op{client: client}:
	case <-hub.done:
		return nil
	}
	select {
	case <-client.registered:
		return client
	case <-hub.done:
		return nil
	}
}

// Send queues a message for this client only. It reports false when the
// client's buffer is full.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close is called by the hub goroutine only.
func (c *Client) close() {
	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

// Run starts the client's read and write pumps
// This should be called in the websocket handler
func (c *Client) Run() {
	go c.writePump()
	c.readPump() // Blocks until connection closes
}

// readPump reads messages from the websocket connection
// It keeps the connection alive and detects disconnection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if c.receive != nil {
			c.receive(c, mt, data)
		}
	}
}

// writePump writes messages to the websocket connection
// Only this goroutine writes to the connection
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
				// Hub closed the channel - send close frame
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if message.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}

			if err := c.conn.WriteMessage(wsType, message.Data); err != nil {
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
