package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the subset of *websocket.Conn the hub drives. Tests substitute
// fakes; production code passes the upgraded gorilla connection.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Client is one registered real-time connection.
type Client struct {
	ID     string
	UserID string

	sock Socket

	// mu serializes socket writes (gorilla permits one concurrent writer)
	// and guards lastActivity.
	mu           sync.Mutex
	lastActivity time.Time
}

func newClient(id, userID string, sock Socket, now time.Time) *Client {
	return &Client{ID: id, UserID: userID, sock: sock, lastActivity: now}
}

// LastActivity returns the time of the client's most recent send or
// heartbeat acknowledgment.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

// send marshals the envelope and writes it as one text frame.
func (c *Client) send(env Envelope, now time.Time) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.lastActivity = now
	return nil
}

// ping sends a websocket-level liveness probe.
func (c *Client) ping(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.WriteControl(websocket.PingMessage, nil, deadline)
}

// close sends a normal-closure frame and closes the socket.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down")
	_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.sock.Close()
}
