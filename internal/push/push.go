// Package push implements best-effort delivery of outbound envelopes to
// online users. Delivery never blocks on anything but the single target
// connection's write, and a stale registry mapping discovered during a push
// is evicted on the spot (self-healing against missed disconnects).
package push

import (
	"log"

	"github.com/tradepost/chat-service/internal/metrics"
	"github.com/tradepost/chat-service/internal/protocol"
	"github.com/tradepost/chat-service/internal/registry"
	"github.com/tradepost/chat-service/internal/store"
)

// Outcome classifies a single delivery attempt. The public API collapses it
// to a boolean; keeping the variants internal preserves testability of each
// failure mode.
type Outcome int

const (
	Delivered Outcome = iota
	NotOnline
	StaleConnection
	WriteFailed
)

// String names the outcome for logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case NotOnline:
		return "not_online"
	case StaleConnection:
		return "stale_connection"
	case WriteFailed:
		return "write_failed"
	default:
		return "unknown"
	}
}

// Service fans envelopes out to online users through the session registry.
type Service struct {
	reg *registry.Registry
}

// NewService creates a push service over the given registry.
func NewService(reg *registry.Registry) *Service {
	return &Service{reg: reg}
}

// deliver writes data to userID's connection if one is registered and live.
// A closed-but-still-registered connection and a failed write are treated
// identically: the mapping is evicted and the push reports failure. The
// durable record, if any, is unaffected.
func (s *Service) deliver(userID int64, data []byte) Outcome {
	conn := s.reg.Lookup(userID)
	if conn == nil {
		return NotOnline
	}

	if conn.Closed() {
		s.evict(userID, conn)
		return StaleConnection
	}

	if err := conn.Write(data); err != nil {
		log.Printf("push: write failed user=%d conn=%s: %v", userID, conn.ID(), err)
		s.evict(userID, conn)
		return WriteFailed
	}
	return Delivered
}

// evict removes a stale mapping and closes the dead connection. Close is
// idempotent on the transport side, so racing with the connection's own
// cleanup path is safe.
func (s *Service) evict(userID int64, conn registry.Conn) {
	if removed := s.reg.UnregisterConn(conn.ID()); removed != nil {
		log.Printf("push: evicted stale connection user=%d conn=%s", userID, conn.ID())
	}
	_ = conn.Close()
}

// push builds the envelope, attempts delivery, and records the outcome.
func (s *Service) push(userID int64, kind string, payload interface{}) Outcome {
	data, err := protocol.NewServerEnvelope(kind, payload)
	if err != nil {
		log.Printf("push: failed to build %q envelope for user=%d: %v", kind, userID, err)
		return WriteFailed
	}

	outcome := s.deliver(userID, data)
	metrics.PushOutcomes.WithLabelValues(kind, outcome.String()).Inc()
	return outcome
}

// PushMessage delivers a persisted chat message to its receiver as a
// new_message envelope. Returns true only on a successful live write.
func (s *Service) PushMessage(userID int64, m *store.Message) bool {
	return s.push(userID, protocol.TypeNewMessage, protocol.NewMessage{
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: m.MessageType,
		SendTime:    m.SendTime.UnixMilli(),
	}) == Delivered
}

// PushSystemMessage delivers a system notice to a single user.
func (s *Service) PushSystemMessage(userID int64, content string) bool {
	return s.push(userID, protocol.TypeSystemMessage, protocol.SystemMessage{
		Content:   content,
		Timestamp: protocol.Now(),
	}) == Delivered
}

// PushNotification delivers an out-of-band notification to a single user.
func (s *Service) PushNotification(userID int64, title, content string) bool {
	return s.push(userID, protocol.TypeNotification, protocol.Notification{
		Title:     title,
		Content:   content,
		Timestamp: protocol.Now(),
	}) == Delivered
}

// PushPresenceChange informs userID that subjectID went online or offline.
func (s *Service) PushPresenceChange(userID, subjectID int64, online bool) bool {
	return s.push(userID, protocol.TypeUserStatus, protocol.UserStatus{
		UserID:    subjectID,
		Online:    online,
		Timestamp: protocol.Now(),
	}) == Delivered
}

// PushTyping forwards an ephemeral typing indicator to userID.
func (s *Service) PushTyping(userID, senderID int64, isTyping bool) bool {
	return s.push(userID, protocol.TypeTypingNotice, protocol.TypingNotice{
		SenderID: senderID,
		IsTyping: isTyping,
	}) == Delivered
}

// Broadcast delivers content to every online user over a snapshot of the
// online set. One recipient's failure never aborts the remaining recipients;
// the returned failed count is the exact number of non-delivered recipients.
// Stale mappings found mid-iteration are evicted exactly as in single-target
// pushes.
func (s *Service) Broadcast(content string) (delivered, failed int) {
	data, err := protocol.NewServerEnvelope(protocol.TypeBroadcast, protocol.BroadcastMsg{
		Content:   content,
		Timestamp: protocol.Now(),
	})
	if err != nil {
		log.Printf("push: failed to build broadcast envelope: %v", err)
		return 0, 0
	}

	for _, userID := range s.reg.OnlineUsers() {
		outcome := s.deliver(userID, data)
		metrics.PushOutcomes.WithLabelValues(protocol.TypeBroadcast, outcome.String()).Inc()
		if outcome == Delivered {
			delivered++
		} else {
			failed++
		}
	}
	return delivered, failed
}
