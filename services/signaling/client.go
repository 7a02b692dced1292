package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	authorizeWait  = 5 * time.Second
	maxMessageSize = 64 << 10 // SDPs with many candidates
	sendBufferSize = 64
)

// Client is one websocket connection, identified by a server assigned peer ID.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte // nil flushes then closes
	done   chan struct{}
	once   sync.Once

	room string // owned by the hub loop
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// enqueue never blocks: a peer that can't keep up is disconnected.
func (c *Client) enqueue(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- b:
	default:
		c.hub.logger.Warn("signaling peer too slow, dropping it", map[string]interface{}{"peer_id": c.id, "user_id": c.userID})
		c.close()
	}
}

func (c *Client) closeAfterFlush() {
	select {
	case c.send <- nil:
	default:
		c.close()
	}
}

// goAway sends a close frame before dropping the connection.
func (c *Client) goAway(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.close()
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.submit(request{kind: reqDisconnect, client: c})
		c.hub.clients.Delete(c)
		c.close()
		c.hub.logger.Debug("signaling connection closed", map[string]interface{}{"peer_id": c.id, "user_id": c.userID})
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logger.Info("signaling connection lost", map[string]interface{}{"peer_id": c.id, "error": err.Error()})
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.enqueue(errorMessage("", CodeBadMessage, "invalid message"))
			continue
		}
		if !c.handle(msg) {
			return
		}
	}
}

// handle returns false once the hub is gone.
func (c *Client) handle(msg Message) bool {
	switch {
	case msg.Type == TypePing:
		c.enqueue(Message{Type: TypePong, Room: msg.Room, Payload: msg.Payload})
		return true
	case msg.Type == TypeJoin:
		if msg.Room == "" {
			c.enqueue(errorMessage("", CodeBadMessage, "room is required"))
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), authorizeWait)
		ok, err := c.hub.auth.CanJoin(ctx, msg.Room, c.userID)
		cancel()
		if err != nil {
			c.hub.logger.Error("authorizing signaling join", err, map[string]interface{}{"room": msg.Room, "user_id": c.userID})
			c.enqueue(errorMessage(msg.Room, CodeInternal, "could not authorize join"))
			return true
		}
		if !ok {
			c.enqueue(errorMessage(msg.Room, CodeUnauthorized, "you may not join this room"))
			return true
		}
		return c.hub.submit(request{kind: reqJoin, client: c, msg: msg})
	case msg.Type == TypeLeave:
		return c.hub.submit(request{kind: reqLeave, client: c, msg: msg})
	case relayed[msg.Type]:
		return c.hub.submit(request{kind: reqRelay, client: c, msg: msg})
	default:
		c.enqueue(errorMessage(msg.Room, CodeUnknownType, "unknown message type "+string(msg.Type)))
		return true
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if b == nil {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, CodeReplaced))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
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
