package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/tradepost/chat-service/internal/metrics"
	"github.com/tradepost/chat-service/internal/store"
)

// Handshake failure modes. All of them reject the upgrade; none leaves any
// state behind.
var (
	ErrNoCredential      = errors.New("auth: missing credential")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrUnknownIdentity   = errors.New("auth: unknown identity")
)

// Identity is the authenticated principal attached to a connection, together
// with the credential it presented.
type Identity struct {
	UserID   int64
	Username string
	Nickname string
	Token    string
}

// IdentityLoader resolves a user id from validated claims against the user
// directory. A nil user without error means the identity does not exist.
type IdentityLoader interface {
	Get(ctx context.Context, id int64) (*store.User, error)
}

// Authenticator validates the credential presented with a websocket upgrade
// request and resolves it to an identity.
type Authenticator struct {
	validator  TokenValidator
	identities IdentityLoader
	refresher  Refresher // nil disables TTL refresh
}

// NewAuthenticator wires the credential validator, identity loader, and
// optional credential refresher.
func NewAuthenticator(validator TokenValidator, identities IdentityLoader, refresher Refresher) *Authenticator {
	return &Authenticator{
		validator:  validator,
		identities: identities,
		refresher:  refresher,
	}
}

// ExtractToken pulls the credential from an upgrade request: the
// "Authorization: Bearer <token>" header (case-sensitive prefix), or the
// "token" query parameter when the header is absent. Returns "" if neither
// is present.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate validates the upgrade request's credential and resolves the
// caller's identity. On success it triggers a best-effort session TTL
// refresh. Every failure path is audit-logged and counted.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := ExtractToken(r)
	if token == "" {
		log.Printf("auth: rejected upgrade from %s: no credential", r.RemoteAddr)
		metrics.HandshakeRejections.WithLabelValues("no_credential").Inc()
		return nil, ErrNoCredential
	}

	claims, err := a.validator.Validate(token)
	if err != nil {
		log.Printf("auth: rejected upgrade from %s: %v", r.RemoteAddr, err)
		metrics.HandshakeRejections.WithLabelValues("invalid_credential").Inc()
		return nil, ErrInvalidCredential
	}

	user, err := a.identities.Get(r.Context(), claims.UserID)
	if err != nil {
		log.Printf("auth: identity lookup failed user=%d: %v", claims.UserID, err)
		metrics.HandshakeRejections.WithLabelValues("unknown_identity").Inc()
		return nil, ErrUnknownIdentity
	}
	if user == nil {
		log.Printf("auth: rejected upgrade from %s: no identity for user=%d", r.RemoteAddr, claims.UserID)
		metrics.HandshakeRejections.WithLabelValues("unknown_identity").Inc()
		return nil, ErrUnknownIdentity
	}

	if a.refresher != nil {
		if err := a.refresher.Refresh(r.Context(), token); err != nil {
			// Refresh is delegated housekeeping; its failure never blocks a
			// valid handshake.
			log.Printf("auth: session refresh failed user=%d: %v", user.ID, err)
		}
	}

	return &Identity{
		UserID:   user.ID,
		Username: user.Username,
		Nickname: user.Nickname,
		Token:    token,
	}, nil
}
