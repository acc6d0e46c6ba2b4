package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// inboundMessage is the shape of a client-to-server frame. Clients may
// only subscribe to or unsubscribe from dialogs and send heartbeat pings
// over the socket; all writes go through the REST surface.
type inboundMessage struct {
	Type     string `json:"type"`
	DialogID string `json:"dialog_id"`
}

// Client wraps one upgraded connection. Reads and writes each run on
// their own goroutine per the gorilla/websocket convention: a single
// writer owns conn.WriteMessage, a single reader owns conn.ReadMessage.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger

	UserID string
	send   chan []byte
	pinged bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, logger *zap.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		logger: logger,
		UserID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Send writes one event directly to this client's outbound buffer,
// dropping it rather than blocking if the buffer is full.
func (c *Client) Send(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("marshal event", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// Serve registers the client and blocks until both pumps exit. Call it
// from the HTTP handler goroutine after a successful upgrade.
func (c *Client) Serve() {
	c.hub.register <- registerMsg{client: c}

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump()
	<-done
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- unregisterMsg{client: c}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			if msg.DialogID != "" {
				c.hub.subscribe <- subscribeMsg{client: c, dialogID: msg.DialogID}
			}
		case "unsubscribe":
			if msg.DialogID != "" {
				c.hub.unsub <- subscribeMsg{client: c, dialogID: msg.DialogID}
			}
		case "ping":
			c.hub.HandlePing(c)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
