// Package nodeproxy is the node-to-node internal proxy of spec §4.6:
// a server-only HTTP endpoint, bound on a separate internal listener,
// that lets one edge forward a request to whichever peer currently
// holds the local handle for a subdomain. New relative to the
// teacher, which is single-node and never forwards between peers.
package nodeproxy

import (
	"context"
	"crypto/hmac"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dvaar/tunnel/internal/directory"
	"github.com/dvaar/tunnel/internal/ingress"
	"github.com/dvaar/tunnel/internal/session"
)

// ClusterSecretHeader and OriginalHostHeader are the two internal
// headers added on the caller side and stripped before the
// client-facing frame is built (spec §4.5/§4.6).
const (
	ClusterSecretHeader = "Cluster-Secret"
	OriginalHostHeader  = "Original-Host"
)

// Server is the internal-port mux: ANY /_internal/proxy/* and the TLS
// ask-hook GET /_caddy/check.
type Server struct {
	registry      *session.Registry
	dir           directory.Directory
	clusterSecret string
}

// New builds the internal mux. clusterSecret is the shared static
// secret every edge in the cluster is configured with.
func New(registry *session.Registry, dir directory.Directory, clusterSecret string) *Server {
	return &Server{registry: registry, dir: dir, clusterSecret: clusterSecret}
}

// Router returns the chi mux to bind on the internal listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.HandleFunc("/_internal/proxy/*", s.handleProxy)
	r.Get("/_caddy/check", s.handleCaddyCheck)
	return r
}

// handleProxy implements spec §4.6: validate the cluster secret,
// derive the subdomain from the original-host header, look up the
// local handle only (peers forward only what they know is local),
// and deliver as in §4.5 local delivery.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if !hmac.Equal([]byte(r.Header.Get(ClusterSecretHeader)), []byte(s.clusterSecret)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	originalHost := r.Header.Get(OriginalHostHeader)
	subdomain := subdomainFromHost(originalHost)
	r.Header.Del(ClusterSecretHeader)
	r.Header.Del(OriginalHostHeader)

	handle, ok := s.registry.Get(subdomain)
	if !ok {
		http.Error(w, "no local handle for subdomain", http.StatusNotFound)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/_internal/proxy")
	if path == "" {
		path = "/"
	}
	r.URL.Path = path

	ingress.DeliverLocal(w, r, handle)
}

// handleCaddyCheck answers the TLS ask-hook: 200 iff a local handle
// exists for the domain, or the directory has a route for it (spec
// §7): either case means the cert request should be allowed through.
func (s *Server) handleCaddyCheck(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		http.Error(w, "missing domain", http.StatusBadRequest)
		return
	}
	subdomain := subdomainFromHost(domain)

	if _, ok := s.registry.Get(subdomain); ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	if _, found, err := s.dir.GetRoute(context.Background(), subdomain); err == nil && found {
		w.WriteHeader(http.StatusOK)
		return
	}
	slog.Debug("caddy ask-hook miss", "domain", domain)
	http.Error(w, "not found", http.StatusNotFound)
}

func subdomainFromHost(host string) string {
	host = strings.ToLower(host)
	if i := strings.IndexByte(host, ':'); i != -1 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, '.'); i != -1 {
		return host[:i]
	}
	return host
}
