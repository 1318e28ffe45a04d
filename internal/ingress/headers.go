package ingress

import (
	"net/http"
	"strings"
)

// hopByHop are stripped when rebuilding a request/response in either
// direction (spec §4.5): the transport layer re-adds what it needs.
// Connection is special-cased at each call site that might be
// carrying a WebSocket upgrade (spec.md:123) — see IsWebSocketUpgrade.
var hopByHop = map[string]bool{
	"Host":              true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Content-Length":    true,
}

// IsWebSocketUpgrade reports whether h names a WebSocket upgrade:
// Upgrade: websocket plus a Connection header whose comma-separated
// token list includes "upgrade". Shared by every hop that would
// otherwise unconditionally strip Connection as hop-by-hop.
func IsWebSocketUpgrade(h http.Header) bool {
	if !strings.EqualFold(strings.TrimSpace(h.Get("Upgrade")), "websocket") {
		return false
	}
	for _, field := range strings.Split(h.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(field), "upgrade") {
			return true
		}
	}
	return false
}
