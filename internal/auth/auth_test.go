package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tradepost/chat-service/internal/store"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, userID int64, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   userID,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	})
	ss, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return ss
}

// fakeDirectory is an in-memory IdentityLoader.
type fakeDirectory struct {
	users map[int64]*store.User
	err   error
}

func (d *fakeDirectory) Get(ctx context.Context, id int64) (*store.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.users[id], nil
}

// fakeRefresher records refreshed tokens.
type fakeRefresher struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (r *fakeRefresher) Refresh(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	return r.err
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer abc123", "", "abc123"},
		{"query fallback", "", "xyz", "xyz"},
		{"header wins over query", "Bearer abc", "xyz", "abc"},
		{"prefix is case sensitive", "bearer abc", "", ""},
		{"malformed header", "Token abc", "", ""},
		{"no credential", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws?token="+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := ExtractToken(r); got != tt.want {
				t.Errorf("ExtractToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJWTValidator(t *testing.T) {
	v := NewJWTValidator(testSecret)

	claims, err := v.Validate(signToken(t, testSecret, 7, time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != 7 {
		t.Errorf("UserID = %d, want 7", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want alice", claims.Username)
	}

	if _, err := v.Validate(signToken(t, "wrong-secret", 7, time.Hour)); err == nil {
		t.Error("expected error for wrong signing secret")
	}
	if _, err := v.Validate(signToken(t, testSecret, 7, -time.Hour)); err == nil {
		t.Error("expected error for expired token")
	}
	if _, err := v.Validate("not-a-token"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	dir := &fakeDirectory{users: map[int64]*store.User{
		7: {ID: 7, Username: "alice", Nickname: "Alice"},
	}}
	refresher := &fakeRefresher{}
	a := NewAuthenticator(NewJWTValidator(testSecret), dir, refresher)

	token := signToken(t, testSecret, 7, time.Hour)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	identity, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.UserID != 7 || identity.Username != "alice" {
		t.Errorf("unexpected identity: %+v", identity)
	}
	if identity.Token != token {
		t.Error("expected credential attached to identity")
	}

	refresher.mu.Lock()
	defer refresher.mu.Unlock()
	if len(refresher.tokens) != 1 || refresher.tokens[0] != token {
		t.Errorf("expected one TTL refresh for the token, got %v", refresher.tokens)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	dir := &fakeDirectory{users: map[int64]*store.User{
		7: {ID: 7, Username: "alice"},
	}}
	a := NewAuthenticator(NewJWTValidator(testSecret), dir, nil)

	t.Run("no credential", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		if _, err := a.Authenticate(r); !errors.Is(err, ErrNoCredential) {
			t.Errorf("err = %v, want ErrNoCredential", err)
		}
	})

	t.Run("invalid credential", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=garbage", nil)
		if _, err := a.Authenticate(r); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("err = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("unknown identity", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token="+signToken(t, testSecret, 99, time.Hour), nil)
		if _, err := a.Authenticate(r); !errors.Is(err, ErrUnknownIdentity) {
			t.Errorf("err = %v, want ErrUnknownIdentity", err)
		}
	})

	t.Run("directory error", func(t *testing.T) {
		broken := &fakeDirectory{err: errors.New("db down")}
		a := NewAuthenticator(NewJWTValidator(testSecret), broken, nil)
		r := httptest.NewRequest("GET", "/ws?token="+signToken(t, testSecret, 7, time.Hour), nil)
		if _, err := a.Authenticate(r); !errors.Is(err, ErrUnknownIdentity) {
			t.Errorf("err = %v, want ErrUnknownIdentity", err)
		}
	})
}

// Refresh failure never blocks a valid handshake.
func TestAuthenticateRefreshFailureIgnored(t *testing.T) {
	dir := &fakeDirectory{users: map[int64]*store.User{7: {ID: 7, Username: "alice"}}}
	refresher := &fakeRefresher{err: errors.New("redis down")}
	a := NewAuthenticator(NewJWTValidator(testSecret), dir, refresher)

	r := httptest.NewRequest("GET", "/ws?token="+signToken(t, testSecret, 7, time.Hour), nil)
	if _, err := a.Authenticate(r); err != nil {
		t.Fatalf("expected success despite refresh failure, got %v", err)
	}
}
