package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/danielsimonjr/ironclaw/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Client is one WebSocket connection's read/write pump and outgoing event
// queue. Frames arriving on the connection are decoded and handed to the
// server's method dispatch table; events pushed from the bus are written
// back out through send.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
}

// NewClient wraps conn in a Client, ready to Run.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.New().String(),
		conn:   conn,
		server: server,
		send:   make(chan []byte, 64),
	}
}

// Run drives the read and write pumps until a read from the connection fails
// (the connection closed or the pong deadline passed). ctx is passed to
// request handling; cancelling it does not end Run. It blocks; callers run
// it from the accepting goroutine.
func (c *Client) Run(ctx context.Context) {
	done := make(chan struct{})
	go c.writePump(done)
	c.readPump(ctx)
	close(done)
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendResponse(protocol.ResponseFrame{Error: "invalid request frame"})
			continue
		}

		resp := c.server.handleRequest(ctx, c, req)
		c.sendResponse(resp)
	}
}

func (c *Client) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) sendResponse(resp protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("gateway: marshal response", "error", err)
		return
	}
	c.enqueue(data)
}

// SendEvent pushes an unsolicited EventFrame to the client.
func (c *Client) SendEvent(event protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("gateway: marshal event", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("gateway: client send buffer full, dropping frame", "client", c.id)
	}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	close(c.send)
	return c.conn.Close()
}
