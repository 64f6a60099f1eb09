package server

import (
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"mcpintercept/transport"
)

func (l *Listener) handleTunnel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !atomic.CompareAndSwapInt64(&l.claimed, 0, 1) {
		log.Warn().Str("remote_addr", r.RemoteAddr).Msg("rejecting connection, tunnel already established")
		http.Error(w, "Tunnel already established", http.StatusConflict)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		atomic.StoreInt64(&l.claimed, 0)
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade tunnel connection")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		conn.Close()
		return
	}

	log.Debug().Str("remote_addr", r.RemoteAddr).Msg("tunnel connection accepted")
	l.accepted <- transport.NewWebSocket(conn, l.transportOptions)
}
