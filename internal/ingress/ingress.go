// Package ingress is the public-facing HTTP/WebSocket entry point of
// spec §4.5: it maps an incoming request's Host to a subdomain, then
// either delivers it to a locally-held tunnel session or forwards it
// to whichever peer edge owns the route. Adapted from the teacher's
// internal/relay.Handler (single global pool, JSON-blob request and
// response) generalized to subdomain-routed local-vs-remote dispatch.
package ingress

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dvaar/tunnel/internal/directory"
	"github.com/dvaar/tunnel/internal/session"
)

// DevHeaderName is the local-dev override header named in
// original_source's ingress.rs: lets a developer hit the edge
// directly with the target subdomain instead of crafting a Host.
const DevHeaderName = "X-Dvaar-Local"

// firstChunkTimeout bounds how long local delivery waits for the
// first HttpResponse frame before failing with 504 (spec §4.5).
const firstChunkTimeout = 60 * time.Second

// PeerForwarder sends a request to another edge's internal proxy
// endpoint and streams back its response. Implemented by
// internal/nodeproxy.Client.
type PeerForwarder interface {
	Forward(ctx context.Context, rec directory.RouteRecord, originalHost string, r *http.Request) (*http.Response, error)

	// ForwardWebSocket dials a peer's internal proxy endpoint directly,
	// returning the still-open connection alongside the parsed
	// response so the caller can pump bytes over it after a successful
	// upgrade — an *http.Response's Body alone can't carry that.
	ForwardWebSocket(ctx context.Context, rec directory.RouteRecord, originalHost string, r *http.Request) (net.Conn, *http.Response, error)
}

// Ingress is the public HTTP handler.
type Ingress struct {
	registry      *session.Registry
	dir           directory.Directory
	peers         PeerForwarder
	tunnelDomain  string
	customDomains map[string]string // verified custom domain -> subdomain
}

// Config configures an Ingress.
type Config struct {
	TunnelDomain  string
	CustomDomains map[string]string
}

// New builds an Ingress over a local handle registry, the shared
// directory, and a peer forwarder for remote delivery.
func New(registry *session.Registry, dir directory.Directory, peers PeerForwarder, cfg Config) *Ingress {
	custom := cfg.CustomDomains
	if custom == nil {
		custom = map[string]string{}
	}
	return &Ingress{
		registry:      registry,
		dir:           dir,
		peers:         peers,
		tunnelDomain:  cfg.TunnelDomain,
		customDomains: custom,
	}
}

func (in *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subdomain, ok := in.resolveSubdomain(r.Host, r.Header.Get(DevHeaderName))
	if !ok {
		http.Error(w, "unrecognized host", http.StatusNotFound)
		return
	}

	if handle, ok := in.registry.Get(subdomain); ok {
		in.serveLocal(w, r, handle)
		return
	}

	rec, found, err := in.dir.GetRoute(r.Context(), subdomain)
	if err != nil {
		slog.Error("ingress directory lookup failed", "subdomain", subdomain, "err", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "no such tunnel", http.StatusNotFound)
		return
	}

	in.serveRemote(w, r, rec, subdomain)
}
