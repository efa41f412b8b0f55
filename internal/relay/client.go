package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classsync/pkg/types"
)

// client wraps one member's WebSocket connection. Writes are serialized
// through a single writer goroutine per connection.
type client struct {
	userID      string
	role        types.Role
	displayName string

	conn      *websocket.Conn
	writeCh   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, userID string, role types.Role, displayName string) *client {
	c := &client{
		userID:      userID,
		role:        role,
		displayName: displayName,
		conn:        conn,
		writeCh:     make(chan []byte, 100),
		done:        make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *client) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// send queues one frame best-effort; a slow consumer loses frames rather
// than stalling the relay.
func (c *client) send(event string, payload interface{}) bool {
	frame, err := types.EncodeFrame(event, payload)
	if err != nil {
		return false
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	select {
	case c.writeCh <- data:
		return true
	default:
		return false
	}
}

func (c *client) member() types.Member {
	return types.Member{ID: c.userID, DisplayName: c.displayName, Role: c.role}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
