// Package messaging provides a NATS client wrapper for pub/sub between the
// chat service and the rest of the marketplace. Inbound subjects let
// external services (orders, payments, operations) push envelopes to online
// users; the chat service publishes presence transitions for external
// consumers.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used by the chat service.
const (
	SubjectNotify         = "chat.notify"          // inbound: targeted notifications
	SubjectSystem         = "chat.system"          // inbound: targeted system messages
	SubjectBroadcast      = "chat.broadcast"       // inbound: broadcast to all online users
	SubjectPresencePush   = "chat.presence.push"   // inbound: targeted presence pushes
	SubjectPresenceEvents = "chat.presence.events" // outbound: presence transitions
)

// NotifyEvent asks the chat service to push a notification to one user.
type NotifyEvent struct {
	UserID  int64  `json:"userId"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SystemEvent asks the chat service to push a system message to one user.
type SystemEvent struct {
	UserID  int64  `json:"userId"`
	Content string `json:"content"`
}

// BroadcastEvent asks the chat service to broadcast to every online user.
type BroadcastEvent struct {
	Content string `json:"content"`
}

// PresencePushEvent asks the chat service to inform UserID about SubjectID's
// presence.
type PresencePushEvent struct {
	UserID    int64 `json:"userId"`
	SubjectID int64 `json:"subjectId"`
	Online    bool  `json:"online"`
}

// PresenceEvent is published whenever a user's presence changes.
type PresenceEvent struct {
	UserID    int64 `json:"userId"`
	Online    bool  `json:"online"`
	Timestamp int64 `json:"timestamp"`
}

// Client wraps the NATS connection with helper methods for the chat
// service's subjects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "chat-service",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats: disconnected: %v", err)
			} else {
				log.Printf("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("nats: connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("nats: connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for cleanup on Close.
func (c *Client) Subscribe(subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all subscriptions and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	c.conn.Close()
}
