package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const (
	// StatusSent is the status assigned to every newly persisted message.
	StatusSent = "sent"

	// DefaultMessageType is used when a chat frame omits messageType.
	DefaultMessageType = "text"

	// unreadPrefix is the Redis key prefix for cached per-user unread counts.
	unreadPrefix = "unread:"

	// unreadTTL bounds staleness of a cached unread count.
	unreadTTL = 24 * time.Hour
)

// Message is a durable chat message. Created once on an accepted chat frame;
// mutated only by read-receipt operations; never physically deleted here.
type Message struct {
	ID          string    `json:"id"`
	SenderID    int64     `json:"senderId"`
	ReceiverID  int64     `json:"receiverId"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	Status      string    `json:"status"`
	Read        bool      `json:"read"`
	SendTime    time.Time `json:"sendTime"`
}

// Messages persists chat messages in PostgreSQL and keeps per-user unread
// counts cached in Redis. The cache is best effort: cache failures are
// logged and the SQL count remains authoritative.
type Messages struct {
	db  *sql.DB
	rdb *redis.Client // nil disables the unread cache
}

// NewMessages creates a message store. rdb may be nil to disable the unread
// counter cache.
func NewMessages(db *sql.DB, rdb *redis.Client) *Messages {
	return &Messages{db: db, rdb: rdb}
}

// Save persists a new message. The store assigns the message id, send time,
// sent status and unread flag; the passed struct is updated in place so the
// caller can echo the generated fields back to the sender.
func (s *Messages) Save(ctx context.Context, m *Message) error {
	m.ID = uuid.New().String()
	m.SendTime = time.Now()
	m.Status = StatusSent
	m.Read = false
	if m.MessageType == "" {
		m.MessageType = DefaultMessageType
	}

	const q = `
		INSERT INTO chat_messages (id, sender_id, receiver_id, content, message_type, status, is_read, send_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.ExecContext(ctx, q,
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.MessageType, m.Status, m.Read, m.SendTime); err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}

	if s.rdb != nil {
		key := unreadPrefix + strconv.FormatInt(m.ReceiverID, 10)
		pipe := s.rdb.Pipeline()
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, unreadTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("store: unread cache incr failed user=%d: %v", m.ReceiverID, err)
		}
	}
	return nil
}

// History returns messages exchanged between u1 and u2, newest first.
func (s *Messages) History(ctx context.Context, u1, u2 int64, limit, offset int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
		SELECT id, sender_id, receiver_id, content, message_type, status, is_read, send_time
		FROM chat_messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY send_time DESC
		LIMIT $3 OFFSET $4`
	rows, err := s.db.QueryContext(ctx, q, u1, u2, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content,
			&m.MessageType, &m.Status, &m.Read, &m.SendTime); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountUnread returns the number of unread messages addressed to userID. The
// Redis cache is consulted first; on a miss (or cache error) the SQL count is
// taken and written back to the cache.
func (s *Messages) CountUnread(ctx context.Context, userID int64) (int, error) {
	key := unreadPrefix + strconv.FormatInt(userID, 10)

	if s.rdb != nil {
		n, err := s.rdb.Get(ctx, key).Int()
		if err == nil {
			return n, nil
		}
		if err != redis.Nil {
			log.Printf("store: unread cache read failed user=%d: %v", userID, err)
		}
	}

	const q = `SELECT COUNT(*) FROM chat_messages WHERE receiver_id = $1 AND NOT is_read`
	var n int
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count unread: %w", err)
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, key, n, unreadTTL).Err(); err != nil {
			log.Printf("store: unread cache write failed user=%d: %v", userID, err)
		}
	}
	return n, nil
}

// MarkRead marks the given messages as read for the receiving user. Messages
// not addressed to userID are left untouched.
func (s *Messages) MarkRead(ctx context.Context, userID int64, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	const q = `
		UPDATE chat_messages SET is_read = true
		WHERE receiver_id = $1 AND NOT is_read AND id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, q, userID, pq.Array(ids)); err != nil {
		return fmt.Errorf("store: mark read: %w", err)
	}

	s.invalidateUnread(ctx, userID)
	return nil
}

// MarkConversationRead marks every unread message from peerID to readerID as
// read.
func (s *Messages) MarkConversationRead(ctx context.Context, readerID, peerID int64) error {
	const q = `
		UPDATE chat_messages SET is_read = true
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read`
	if _, err := s.db.ExecContext(ctx, q, readerID, peerID); err != nil {
		return fmt.Errorf("store: mark conversation read: %w", err)
	}

	s.invalidateUnread(ctx, readerID)
	return nil
}

// invalidateUnread drops the cached unread count so the next CountUnread
// repopulates it from SQL.
func (s *Messages) invalidateUnread(ctx context.Context, userID int64) {
	if s.rdb == nil {
		return
	}
	key := unreadPrefix + strconv.FormatInt(userID, 10)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		log.Printf("store: unread cache invalidate failed user=%d: %v", userID, err)
	}
}
