// Package ws runs the websocket transport: authenticated HTTP upgrades, one
// blocking read goroutine per connection (frames on a connection are handled
// strictly in arrival order), idempotent cleanup on close or error, and a
// heartbeat monitor for dead connection detection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/tradepost/chat-service/internal/auth"
	"github.com/tradepost/chat-service/internal/metrics"
	"github.com/tradepost/chat-service/internal/protocol"
	"github.com/tradepost/chat-service/internal/ratelimit"
	"github.com/tradepost/chat-service/internal/registry"
	"github.com/tradepost/chat-service/internal/router"
)

// ServerConfig holds tunable parameters for the websocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // per-write deadline on outbound frames
	IdleTimeout    time.Duration // max silence before heartbeat eviction
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 100000,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    90 * time.Second,
	}
}

// PresenceHandler is invoked after a user's presence changes: online=true on
// registration, online=false when their connection is cleaned up.
type PresenceHandler func(userID int64, online bool)

// Server upgrades authenticated HTTP requests to websocket connections,
// registers them in the session registry, and feeds inbound frames to the
// router.
type Server struct {
	config      ServerConfig
	reg         *registry.Registry
	router      *router.Router
	auth        *auth.Authenticator
	connLimiter *ratelimit.Limiter // nil disables per-IP handshake limiting
	onPresence  PresenceHandler

	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer wires the transport. connLimiter may be nil.
func NewServer(config ServerConfig, reg *registry.Registry, rt *router.Router, authn *auth.Authenticator, connLimiter *ratelimit.Limiter) *Server {
	return &Server{
		config:      config,
		reg:         reg,
		router:      rt,
		auth:        authn,
		connLimiter: connLimiter,
		done:        make(chan struct{}),
	}
}

// SetPresenceHandler registers the presence change callback. Must be called
// before Start.
func (s *Server) SetPresenceHandler(fn PresenceHandler) {
	s.onPresence = fn
}

// Registry returns the session registry backing this server.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Start begins accepting websocket connections and blocks until the HTTP
// server stops.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (max_conns=%d)", s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting new connections and closes every registered one.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)

	for _, conn := range s.reg.Clear() {
		_ = conn.Close()
	}
	metrics.ConnectionsActive.Set(0)

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleUpgrade authenticates the request, upgrades it to a websocket, binds
// the connection to the authenticated user, and starts the read loop. No
// registry entry is created for a rejected handshake.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.connLimiter != nil {
		ip := remoteIP(r)
		allowed, _ := s.connLimiter.Allow(r.Context(), ip, ratelimit.RuleConnect)
		if !allowed {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	if s.reg.OnlineCount() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	identity, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed user=%d: %v", identity.UserID, err)
		return
	}

	c := NewConnection(netConn, identity.UserID, s.config.WriteTimeout)

	// Atomic evict-then-insert: a second login replaces the first. The
	// evicted connection is closed outside the registry lock; its read loop
	// notices and runs its own (now no-op) cleanup.
	if evicted := s.reg.Register(identity.UserID, c); evicted != nil {
		log.Printf("ws: replacing connection user=%d old_conn=%s", identity.UserID, evicted.ID())
		_ = evicted.Close()
	}
	metrics.ConnectionsActive.Set(float64(s.reg.OnlineCount()))

	ack, err := protocol.NewServerEnvelope(protocol.TypeConnection, protocol.ConnectionAck{
		Status:    "connected",
		UserID:    identity.UserID,
		Timestamp: protocol.Now(),
	})
	if err != nil {
		log.Printf("ws: failed to build connection ack user=%d: %v", identity.UserID, err)
	} else if err := c.Write(ack); err != nil {
		log.Printf("ws: failed to send connection ack user=%d: %v", identity.UserID, err)
	}

	log.Printf("ws: new connection user=%d conn=%s (online=%d)",
		identity.UserID, c.ID(), s.reg.OnlineCount())

	if s.onPresence != nil {
		s.onPresence(identity.UserID, true)
	}

	go s.readLoop(c)
}

// maxMessageBytes bounds how much a single inbound message may occupy,
// summed across continuation frames. Chat content tops out at 4KB, so
// anything near this limit is not a legitimate client.
const maxMessageBytes = 64 * 1024

var errPeerClosed = errors.New("ws: peer sent close frame")

// readLoop blocks on the connection, handing each text message to the router
// in arrival order. It exits on any transport error or close frame, then
// runs the connection's cleanup exactly once.
//
// A single Reader lives for the whole loop so that fragmented messages are
// reassembled across continuation frames; MaxFrameSize rejects any single
// frame whose declared length exceeds the message cap before the payload
// is allocated.
func (s *Server) readLoop(c *Connection) {
	defer s.Disconnect(c)

	rd := wsutil.Reader{
		Source:       c.conn,
		State:        ws.StateServerSide,
		MaxFrameSize: maxMessageBytes,
	}
	// Control frames arriving between fragments of a message.
	rd.OnIntermediate = func(header ws.Header, src io.Reader) error {
		payload, err := io.ReadAll(src)
		if err != nil {
			return err
		}
		c.touch()
		switch header.OpCode {
		case ws.OpClose:
			return errPeerClosed
		case ws.OpPing:
			// Reply under the write mutex so pongs never interleave
			// with concurrent pushes.
			return c.Pong(payload)
		}
		return nil
	}

	for {
		header, err := rd.NextFrame()
		if err != nil {
			if !c.Closed() && !errors.Is(err, errPeerClosed) {
				log.Printf("ws: read failed user=%d conn=%s: %v", c.UserID(), c.ID(), err)
			}
			return
		}

		if header.OpCode.IsControl() {
			payload, err := io.ReadAll(&rd)
			if err != nil {
				return
			}
			c.touch()
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.Pong(payload); err != nil {
					return
				}
			}
			continue
		}

		payload, err := io.ReadAll(io.LimitReader(&rd, maxMessageBytes+1))
		if err != nil {
			return
		}
		if len(payload) > maxMessageBytes {
			log.Printf("ws: oversized message dropped user=%d conn=%s", c.UserID(), c.ID())
			return
		}

		// Any complete message proves the connection is alive.
		c.touch()

		if header.OpCode != ws.OpText || len(payload) == 0 {
			continue
		}
		s.router.Handle(c, payload)
	}
}

// Disconnect removes the connection from the registry and closes it. It is
// idempotent and duplicate-safe across the read loop, heartbeat eviction,
// and external shutdown: only the caller that actually removes the registry
// entry emits the offline presence event, and a connection that was already
// replaced by a newer registration never removes its successor.
func (s *Server) Disconnect(c *Connection) {
	removed := s.reg.UnregisterConn(c.ID())
	_ = c.Close()

	if removed == nil {
		return
	}
	metrics.ConnectionsActive.Set(float64(s.reg.OnlineCount()))
	log.Printf("ws: connection closed user=%d conn=%s (online=%d)",
		c.UserID(), c.ID(), s.reg.OnlineCount())

	if s.onPresence != nil {
		s.onPresence(c.UserID(), false)
	}
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.reg.OnlineCount(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// remoteIP extracts the client IP for handshake rate limiting.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
