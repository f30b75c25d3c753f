package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// Connection is a single live websocket channel bound to an authenticated
// user. It is owned by its read goroutine; the registry and push service
// hold only references. A write mutex serializes outbound frames; Close is
// idempotent and safe to call from any goroutine.
type Connection struct {
	id        string
	userID    int64
	conn      net.Conn
	createdAt time.Time

	writeTimeout time.Duration
	writeMu      sync.Mutex

	lastActive atomic.Int64 // unix nanos of the last inbound data frame
	closed     atomic.Bool
	closeOnce  sync.Once
}

// NewConnection wraps an upgraded network connection for the given user.
func NewConnection(netConn net.Conn, userID int64, writeTimeout time.Duration) *Connection {
	c := &Connection{
		id:           uuid.New().String(),
		userID:       userID,
		conn:         netConn,
		createdAt:    time.Now(),
		writeTimeout: writeTimeout,
	}
	c.lastActive.Store(time.Now().UnixNano())
	return c
}

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated user bound to this connection.
func (c *Connection) UserID() int64 { return c.userID }

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool { return c.closed.Load() }

// Write sends a websocket text frame. The write mutex ensures concurrent
// goroutines do not interleave frame bytes, and the per-write deadline keeps
// a slow receiver from stalling unrelated pushes for long.
func (c *Connection) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}

// Ping sends a websocket protocol-level ping frame (opcode 0x9).
func (c *Connection) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return ws.WriteFrame(c.conn, ws.NewPingFrame(nil))
}

// Pong answers a client ping, echoing its payload.
func (c *Connection) Pong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return ws.WriteFrame(c.conn, ws.NewPongFrame(payload))
}

// Close closes the underlying network connection exactly once. Subsequent
// calls return nil.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// touch records inbound activity for idle detection.
func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last inbound data frame.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}
