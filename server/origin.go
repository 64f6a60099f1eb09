package server

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// withoutOrigin admits only upgrades that carry no Origin header. The only
// legitimate client is the connector, which never sends one; a browser
// always does, so a page cannot reach the child through the tunnel.
func withoutOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	log.Warn().Str("origin", origin).Str("remote_addr", r.RemoteAddr).Msg("rejecting tunnel upgrade from a browser origin")
	return false
}
