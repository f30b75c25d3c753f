// Package registry maintains the in-memory bidirectional mapping between
// users and their live websocket connections. It is the sole source of
// presence truth: a user is online iff the registry holds a connection for
// them. All operations are safe for unsynchronized concurrent use.
package registry

import "sync"

// Conn is the registry's view of a live connection. The transport layer owns
// the connection; the registry only holds a reference for lookups and
// delivery. Write and Ping must be safe for concurrent use.
type Conn interface {
	ID() string
	UserID() int64
	Closed() bool
	Write(data []byte) error
	Ping() error
	Close() error
}

// Registry maps users to connections and back. A user has at most one
// connection; registering a second connection for the same user atomically
// evicts the first. The internal lock is held only for map mutations, never
// across I/O — evicted connections are returned to the caller for closing.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]Conn   // user id -> connection
	byConn map[string]int64 // connection id -> user id
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byUser: make(map[int64]Conn),
		byConn: make(map[string]int64),
	}
}

// Register binds conn to userID, atomically replacing any prior connection
// for that user. There is no window in which the user has both or neither
// mapping. The evicted prior connection, if any, is returned so the caller
// can close it outside the registry lock.
func (r *Registry) Register(userID int64, conn Conn) (evicted Conn) {
	r.mu.Lock()
	if old, ok := r.byUser[userID]; ok {
		delete(r.byConn, old.ID())
		evicted = old
	}
	r.byUser[userID] = conn
	r.byConn[conn.ID()] = userID
	r.mu.Unlock()
	return evicted
}

// UnregisterConn removes the mapping for the given connection id. It is
// idempotent: unregistering an unknown or already-removed connection is a
// no-op. A connection that was evicted by a newer registration does not
// remove the newer mapping. Returns the removed connection, or nil.
func (r *Registry) UnregisterConn(connID string) Conn {
	r.mu.Lock()
	userID, ok := r.byConn[connID]
	var conn Conn
	if ok {
		conn = r.byUser[userID]
		delete(r.byConn, connID)
		delete(r.byUser, userID)
	}
	r.mu.Unlock()
	return conn
}

// UnregisterUser removes the mapping for the given user id. Idempotent.
// Returns the removed connection, or nil if the user was not online.
func (r *Registry) UnregisterUser(userID int64) Conn {
	r.mu.Lock()
	conn, ok := r.byUser[userID]
	if ok {
		delete(r.byUser, userID)
		delete(r.byConn, conn.ID())
	}
	r.mu.Unlock()
	return conn
}

// Lookup returns the live connection for userID, or nil if the user is not
// online.
func (r *Registry) Lookup(userID int64) Conn {
	r.mu.RLock()
	conn := r.byUser[userID]
	r.mu.RUnlock()
	return conn
}

// IsOnline reports whether userID currently has a registered connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	_, ok := r.byUser[userID]
	r.mu.RUnlock()
	return ok
}

// OnlineUsers returns a point-in-time snapshot of all online user ids.
// Callers tolerate staleness.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	users := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	r.mu.RUnlock()
	return users
}

// OnlineCount returns the number of currently online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}

// Conns returns a snapshot of all registered connections. The returned slice
// is safe to iterate without holding the lock.
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.byUser))
	for _, conn := range r.byUser {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}

// Clear removes every mapping and returns the connections that were
// registered so the caller can close them. Administrative reset.
func (r *Registry) Clear() []Conn {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.byUser))
	for _, conn := range r.byUser {
		conns = append(conns, conn)
	}
	r.byUser = make(map[int64]Conn)
	r.byConn = make(map[string]int64)
	r.mu.Unlock()
	return conns
}
