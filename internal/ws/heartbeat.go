package ws

import (
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to scan connections
}

// DefaultHeartbeatConfig returns the default heartbeat interval.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: 30 * time.Second}
}

// StartHeartbeat begins a background goroutine that periodically sends
// websocket ping frames to all connections and evicts those that have gone
// silent past the server's idle timeout. It returns immediately; the
// goroutine exits when the server's done channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server)
			}
		}
	}()
}

// checkConnections iterates over a snapshot of registered connections.
// Connections without inbound activity within the idle timeout are removed;
// the rest receive a protocol-level ping frame whose write failure also
// marks the connection dead. Clients keep their connection alive with
// application-level ping frames.
func checkConnections(server *Server) {
	now := time.Now()

	for _, rc := range server.reg.Conns() {
		c, ok := rc.(*Connection)
		if !ok {
			continue
		}

		if server.config.IdleTimeout > 0 && now.Sub(c.LastActive()) > server.config.IdleTimeout {
			log.Printf("ws: heartbeat idle timeout user=%d conn=%s silent=%s",
				c.UserID(), c.ID(), now.Sub(c.LastActive()).Round(time.Second))
			server.Disconnect(c)
			continue
		}

		if err := c.Ping(); err != nil {
			log.Printf("ws: heartbeat ping failed user=%d conn=%s: %v", c.UserID(), c.ID(), err)
			server.Disconnect(c)
		}
	}
}
