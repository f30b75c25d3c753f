package registry

import (
	"fmt"
	"sync"
	"testing"
)

// fakeConn is a minimal Conn implementation for registry tests.
type fakeConn struct {
	id     string
	userID int64
	closed bool
}

func (f *fakeConn) ID() string              { return f.id }
func (f *fakeConn) UserID() int64           { return f.userID }
func (f *fakeConn) Closed() bool            { return f.closed }
func (f *fakeConn) Write(data []byte) error { return nil }
func (f *fakeConn) Ping() error             { return nil }
func (f *fakeConn) Close() error            { f.closed = true; return nil }

func newFakeConn(id string, userID int64) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func TestRegisterAndLookup(t *testing.T) {
	reg := New()
	c := newFakeConn("c1", 7)

	if evicted := reg.Register(7, c); evicted != nil {
		t.Fatalf("expected no eviction on first register, got %v", evicted.ID())
	}

	if got := reg.Lookup(7); got != Conn(c) {
		t.Fatalf("Lookup(7) = %v, want c1", got)
	}
	if !reg.IsOnline(7) {
		t.Fatal("expected user 7 online")
	}
	if reg.IsOnline(8) {
		t.Fatal("expected user 8 offline")
	}
	if n := reg.OnlineCount(); n != 1 {
		t.Fatalf("OnlineCount() = %d, want 1", n)
	}
}

// Presence invariant: isOnline(u) holds iff lookup(u) returns a connection.
func TestOnlineIffLookup(t *testing.T) {
	reg := New()
	reg.Register(1, newFakeConn("c1", 1))
	reg.Register(2, newFakeConn("c2", 2))
	reg.UnregisterUser(2)

	for _, u := range []int64{1, 2, 3} {
		online := reg.IsOnline(u)
		hasConn := reg.Lookup(u) != nil
		if online != hasConn {
			t.Errorf("user %d: IsOnline=%v but Lookup!=nil is %v", u, online, hasConn)
		}
	}
}

func TestSecondRegistrationEvictsFirst(t *testing.T) {
	reg := New()
	c1 := newFakeConn("c1", 7)
	c2 := newFakeConn("c2", 7)

	reg.Register(7, c1)
	evicted := reg.Register(7, c2)

	if evicted != Conn(c1) {
		t.Fatalf("expected c1 evicted, got %v", evicted)
	}
	if got := reg.Lookup(7); got != Conn(c2) {
		t.Fatalf("Lookup(7) = %v, want c2", got)
	}
	if n := reg.OnlineCount(); n != 1 {
		t.Fatalf("OnlineCount() = %d, want 1", n)
	}

	// The evicted connection's own late cleanup must not remove the newer
	// registration.
	if removed := reg.UnregisterConn("c1"); removed != nil {
		t.Fatalf("expected unregister of evicted conn to be a no-op, removed %v", removed.ID())
	}
	if !reg.IsOnline(7) {
		t.Fatal("expected user 7 to stay online after evicted conn cleanup")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	reg := New()
	c := newFakeConn("c1", 7)
	reg.Register(7, c)

	if removed := reg.UnregisterConn("c1"); removed != Conn(c) {
		t.Fatalf("expected first unregister to remove c1, got %v", removed)
	}
	if removed := reg.UnregisterConn("c1"); removed != nil {
		t.Fatalf("expected second unregister to be a no-op, got %v", removed.ID())
	}
	if removed := reg.UnregisterUser(7); removed != nil {
		t.Fatalf("expected UnregisterUser after UnregisterConn to be a no-op, got %v", removed.ID())
	}
	if n := reg.OnlineCount(); n != 0 {
		t.Fatalf("OnlineCount() = %d, want 0", n)
	}
}

func TestOnlineUsersSnapshot(t *testing.T) {
	reg := New()
	for i := int64(1); i <= 5; i++ {
		reg.Register(i, newFakeConn(fmt.Sprintf("c%d", i), i))
	}

	users := reg.OnlineUsers()
	if len(users) != 5 {
		t.Fatalf("OnlineUsers() returned %d users, want 5", len(users))
	}
	seen := make(map[int64]bool)
	for _, u := range users {
		seen[u] = true
	}
	for i := int64(1); i <= 5; i++ {
		if !seen[i] {
			t.Errorf("user %d missing from snapshot", i)
		}
	}
}

func TestClear(t *testing.T) {
	reg := New()
	reg.Register(1, newFakeConn("c1", 1))
	reg.Register(2, newFakeConn("c2", 2))

	conns := reg.Clear()
	if len(conns) != 2 {
		t.Fatalf("Clear() returned %d conns, want 2", len(conns))
	}
	if n := reg.OnlineCount(); n != 0 {
		t.Fatalf("OnlineCount() after Clear = %d, want 0", n)
	}
}

func TestConcurrentAccess(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := int64(i % 10)
			c := newFakeConn(fmt.Sprintf("c%d", i), userID)
			if evicted := reg.Register(userID, c); evicted != nil {
				evicted.Close()
			}
			reg.Lookup(userID)
			reg.IsOnline(userID)
			reg.OnlineUsers()
			if i%3 == 0 {
				reg.UnregisterConn(c.ID())
			}
		}()
	}
	wg.Wait()

	// Both maps must still agree for every remaining user.
	for _, u := range reg.OnlineUsers() {
		conn := reg.Lookup(u)
		if conn == nil {
			t.Fatalf("user %d in online set but has no connection", u)
		}
		if conn.UserID() != u {
			t.Fatalf("user %d mapped to connection owned by %d", u, conn.UserID())
		}
	}
}
