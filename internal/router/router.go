// Package router dispatches inbound websocket frames by kind. Frames on one
// connection are handled strictly in arrival order (the transport calls
// Handle from the connection's single read goroutine); different connections
// proceed independently. Every failure while processing a frame is contained
// at the per-frame boundary: the originating connection receives an error
// envelope and stays open.
package router

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/tradepost/chat-service/internal/metrics"
	"github.com/tradepost/chat-service/internal/protocol"
	"github.com/tradepost/chat-service/internal/push"
	"github.com/tradepost/chat-service/internal/ratelimit"
	"github.com/tradepost/chat-service/internal/registry"
	"github.com/tradepost/chat-service/internal/store"
)

// storeTimeout bounds every persistence call issued while handling a frame.
const storeTimeout = 5 * time.Second

// MessageStore is the persistence collaborator consumed by the router.
type MessageStore interface {
	Save(ctx context.Context, m *store.Message) error
	MarkRead(ctx context.Context, userID int64, ids []string) error
	MarkConversationRead(ctx context.Context, readerID, peerID int64) error
}

// Router validates business rules on inbound frames, persists chat records,
// and emits acknowledgements and pushes.
type Router struct {
	reg     *registry.Registry
	store   MessageStore
	push    *push.Service
	limiter *ratelimit.Limiter // nil disables frame throttling
}

// New creates a Router. limiter may be nil to disable per-user throttling.
func New(reg *registry.Registry, msgStore MessageStore, pushSvc *push.Service, limiter *ratelimit.Limiter) *Router {
	return &Router{
		reg:     reg,
		store:   msgStore,
		push:    pushSvc,
		limiter: limiter,
	}
}

// Handle processes one inbound frame from conn. It never panics outward and
// never closes the connection; transport-level errors are the transport's
// concern.
func (rt *Router) Handle(conn registry.Conn, data []byte) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("router: panic handling frame user=%d conn=%s: %v", conn.UserID(), conn.ID(), r)
			rt.sendError(conn, "internal error")
		}
		metrics.FrameLatency.Observe(time.Since(start).Seconds())
	}()

	kind, msg, err := protocol.ParseClientFrame(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownFrame) {
			// Unknown kinds are dropped without a response.
			log.Printf("router: dropping unknown frame kind=%q user=%d", kind, conn.UserID())
			metrics.FramesTotal.WithLabelValues("unknown").Inc()
			return
		}
		log.Printf("router: malformed frame user=%d: %v", conn.UserID(), err)
		metrics.FramesTotal.WithLabelValues("invalid").Inc()
		rt.sendError(conn, "invalid message format")
		return
	}
	metrics.FramesTotal.WithLabelValues(kind).Inc()

	switch m := msg.(type) {
	case protocol.ChatFrame:
		rt.handleChat(conn, m)
	case protocol.PingFrame:
		rt.handlePing(conn)
	case protocol.TypingFrame:
		rt.handleTyping(conn, m)
	case protocol.MarkReadFrame:
		rt.handleMarkRead(conn, m)
	}
}

// handleChat validates, persists, acknowledges, and finally pushes a direct
// message. Persistence strictly precedes delivery: on save failure the
// sender gets an error envelope and no push is attempted. The push outcome
// never affects the already-durable record.
func (rt *Router) handleChat(conn registry.Conn, m protocol.ChatFrame) {
	senderID := conn.UserID()

	if rt.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		allowed, _ := rt.limiter.Allow(ctx, strconv.FormatInt(senderID, 10), ratelimit.RuleMessage)
		cancel()
		if !allowed {
			rt.sendError(conn, "too many messages, slow down")
			return
		}
	}

	if m.ReceiverID <= 0 || m.Content == "" {
		rt.sendError(conn, "receiverId and content are required")
		return
	}
	if m.ReceiverID == senderID {
		rt.sendError(conn, "cannot send a message to yourself")
		return
	}
	if err := validateContent(m.Content); err != nil {
		rt.sendError(conn, err.Error())
		return
	}

	record := &store.Message{
		SenderID:    senderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		MessageType: m.MessageType,
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	err := rt.store.Save(ctx, record)
	cancel()
	if err != nil {
		log.Printf("router: save failed sender=%d receiver=%d: %v", senderID, m.ReceiverID, err)
		metrics.MessagesPersisted.WithLabelValues("error").Inc()
		rt.sendError(conn, "failed to send message")
		return
	}
	metrics.MessagesPersisted.WithLabelValues("ok").Inc()

	rt.send(conn, protocol.TypeMessageSent, protocol.MessageSentAck{
		MessageID: record.ID,
		Status:    record.Status,
		Timestamp: record.SendTime.UnixMilli(),
	})

	// Best effort: an offline or failed receiver retrieves the message later
	// through history.
	rt.push.PushMessage(m.ReceiverID, record)
}

// handlePing answers immediately with the current timestamp. Nothing is
// persisted.
func (rt *Router) handlePing(conn registry.Conn) {
	rt.send(conn, protocol.TypePong, protocol.Pong{Timestamp: protocol.Now()})
}

// handleTyping forwards an ephemeral typing indicator to the receiver if
// online. No ack to the sender; silently dropped when the receiver is
// offline or the frame is incomplete.
func (rt *Router) handleTyping(conn registry.Conn, m protocol.TypingFrame) {
	if m.ReceiverID <= 0 {
		return
	}
	if !rt.reg.IsOnline(m.ReceiverID) {
		return
	}
	rt.push.PushTyping(m.ReceiverID, conn.UserID(), m.IsTyping)
}

// handleMarkRead records read receipts for the requesting user, either for
// an explicit id batch or for the whole conversation with a peer. No ack;
// failures are logged.
func (rt *Router) handleMarkRead(conn registry.Conn, m protocol.MarkReadFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var err error
	switch {
	case len(m.MessageIDs) > 0:
		err = rt.store.MarkRead(ctx, conn.UserID(), m.MessageIDs)
	case m.PeerID > 0:
		err = rt.store.MarkConversationRead(ctx, conn.UserID(), m.PeerID)
	default:
		return
	}
	if err != nil {
		log.Printf("router: mark read failed user=%d: %v", conn.UserID(), err)
	}
}

// send writes an envelope to the connection. Write failures are logged only;
// the transport's read loop notices the broken connection and cleans up.
func (rt *Router) send(conn registry.Conn, kind string, payload interface{}) {
	data, err := protocol.NewServerEnvelope(kind, payload)
	if err != nil {
		log.Printf("router: failed to build %q envelope user=%d: %v", kind, conn.UserID(), err)
		return
	}
	if err := conn.Write(data); err != nil {
		log.Printf("router: failed to send %q envelope user=%d: %v", kind, conn.UserID(), err)
	}
}

// sendError reports a frame-level failure to the originating connection.
func (rt *Router) sendError(conn registry.Conn, message string) {
	rt.send(conn, protocol.TypeError, protocol.ErrorMsg{
		Message:   message,
		Timestamp: protocol.Now(),
	})
}
