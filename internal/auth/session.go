package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// tokenPrefix is the Redis key prefix for credential sessions. Keys are
	// derived from a hash of the token so raw credentials never land in Redis.
	tokenPrefix = "token:"

	// TokenTTL is the sliding time-to-live for credential sessions.
	TokenTTL = 24 * time.Hour
)

// Refresher extends a credential's session lifetime after a successful
// handshake.
type Refresher interface {
	Refresh(ctx context.Context, token string) error
}

// SessionStore keeps credential sessions in Redis with a sliding TTL.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a session store over the given Redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Refresh records the credential as recently used and extends its TTL. The
// entry is created if it does not exist yet, so a freshly issued token gets
// its session on first handshake.
func (s *SessionStore) Refresh(ctx context.Context, token string) error {
	key := tokenPrefix + hashToken(token)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, key, TokenTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
