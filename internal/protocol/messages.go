// Package protocol defines the websocket envelopes exchanged between chat
// clients and the server. All envelopes are serialized as JSON and carry a
// "type" discriminator; required fields vary by kind.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Frame kind constants
// ---------------------------------------------------------------------------

// Client -> Server frame kinds.
const (
	TypeChat     = "chat"
	TypePing     = "ping"
	TypeTyping   = "typing"
	TypeMarkRead = "mark_read"
)

// Server -> Client envelope kinds.
const (
	TypeConnection    = "connection"
	TypeMessageSent   = "message_sent"
	TypeNewMessage    = "new_message"
	TypePong          = "pong"
	TypeTypingNotice  = "typing"
	TypeError         = "error"
	TypeSystemMessage = "system_message"
	TypeNotification  = "notification"
	TypeBroadcast     = "broadcast"
	TypeUserStatus    = "user_status"
)

// ErrUnknownFrame is returned by ParseClientFrame when the envelope is valid
// JSON but its kind is not one of the client frame kinds. Callers drop such
// frames without answering the client.
var ErrUnknownFrame = errors.New("protocol: unknown frame kind")

// Now returns the current time as unix milliseconds, the timestamp format
// carried by every outbound envelope.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the frame kind and the raw JSON payload for deferred parsing
// into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frames
// ---------------------------------------------------------------------------

// ChatFrame carries a direct message from the sender to one receiver.
type ChatFrame struct {
	Type        string `json:"type"`
	ReceiverID  int64  `json:"receiverId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"` // "text", "image", ...; defaults to "text"
}

// PingFrame is a client-initiated keepalive ping.
type PingFrame struct {
	Type string `json:"type"`
}

// TypingFrame signals whether the sender is currently typing to a receiver.
type TypingFrame struct {
	Type       string `json:"type"`
	ReceiverID int64  `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

// MarkReadFrame marks messages from a peer as read. When MessageIDs is empty
// the whole conversation with PeerID is marked read.
type MarkReadFrame struct {
	Type       string   `json:"type"`
	PeerID     int64    `json:"peerId"`
	MessageIDs []string `json:"messageIds"`
}

// ---------------------------------------------------------------------------
// Server -> Client envelopes
// ---------------------------------------------------------------------------

// ConnectionAck confirms a successful handshake.
type ConnectionAck struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	UserID    int64  `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// MessageSentAck confirms durable persistence of a chat frame to its sender.
type MessageSentAck struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage delivers a chat message to its receiver.
type NewMessage struct {
	Type        string `json:"type"`
	MessageID   string `json:"messageId"`
	SenderID    int64  `json:"senderId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	SendTime    int64  `json:"sendTime"`
}

// Pong answers a client ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// TypingNotice relays a typing indicator to the receiver. It is ephemeral
// and never persisted.
type TypingNotice struct {
	Type     string `json:"type"`
	SenderID int64  `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorMsg reports a frame-level failure to the originating connection.
type ErrorMsg struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// SystemMessage carries an operator- or service-originated notice.
type SystemMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Notification carries an out-of-band marketplace notification.
type Notification struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// BroadcastMsg is delivered to every online user.
type BroadcastMsg struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// UserStatus reports a presence change for a user.
type UserStatus struct {
	Type      string `json:"type"`
	UserID    int64  `json:"userId"`
	Online    bool   `json:"online"`
	Timestamp int64  `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientFrame parses raw websocket bytes into a typed client frame. It
// returns the frame kind, the decoded struct, and any error encountered
// during parsing. An unknown kind returns an error wrapping ErrUnknownFrame
// so callers can distinguish "drop silently" from "malformed input".
func ParseClientFrame(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeChat:
		var m ChatFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerEnvelope creates a JSON-encoded byte slice for a server envelope.
// The msgType is injected into the payload under the "type" key so callers
// never have to fill the Type field on the payload structs themselves.
func NewServerEnvelope(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server envelope: %w", err)
	}
	return out, nil
}
