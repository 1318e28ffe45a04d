package tunnelclient

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dvaar/tunnel/internal/protocol"
)

// hopByHop headers are not copied from the tunnelled request onto the
// local upstream call. Response headers are relayed back as the
// upstream sent them.
var hopByHop = map[string]bool{
	"Host":              true,
	"Transfer-Encoding": true,
	"Content-Length":    true,
}

// upstreamHandler serves each inbound HttpRequest frame against the
// configured local target: a plain HTTP backend, a WebSocket backend,
// or a static directory. Adapted from the teacher's
// agent.RequestHandler, generalized from its single JSON round trip to
// native frame streaming and given the basic-auth/websocket/static-dir
// branches the teacher's handler never needed.
type upstreamHandler struct {
	cfg       UpstreamConfig
	client    *http.Client
	targetURL *url.URL
}

func newUpstreamHandler(cfg UpstreamConfig) (*upstreamHandler, error) {
	target := cfg.TargetURL
	if cfg.StaticDir != "" {
		addr, err := serveStaticDir(cfg.StaticDir)
		if err != nil {
			return nil, fmt.Errorf("starting static file server: %w", err)
		}
		target = "http://" + addr
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream target url: %w", err)
	}
	if cfg.TLSUpstream {
		u.Scheme = "https"
	}

	return &upstreamHandler{
		cfg:       cfg,
		client:    &http.Client{Timeout: 0},
		targetURL: u,
	}, nil
}

// serveStaticDir starts an http.FileServer on a random loopback port
// and returns its address.
func serveStaticDir(dir string) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: http.FileServer(http.Dir(dir))}
	go func() {
		if err := srv.Serve(ln); err != nil {
			slog.Debug("static file server stopped", "err", err)
		}
	}()
	return ln.Addr().String(), nil
}

// serve handles one HttpRequest frame: basic-auth short circuit,
// WebSocket upgrade passthrough, or a plain proxied round trip.
func (h *upstreamHandler) serve(t *Tunnel, req *protocol.HTTPRequestPayload, in *inboundStream) {
	if h.cfg.BasicAuth.Username != "" && !h.checkBasicAuth(req.Headers) {
		h.sendUnauthorized(t, req.StreamID)
		drainBody(in)
		return
	}

	if isWebSocketUpgrade(req.Headers) {
		h.serveWebSocket(t, req, in)
		return
	}

	h.serveHTTP(t, req, in)
}

func (h *upstreamHandler) checkBasicAuth(headers []protocol.Header) bool {
	user, pass, ok := parseBasicAuth(headers)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(user), []byte(h.cfg.BasicAuth.Username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(h.cfg.BasicAuth.Password)) == 1
}

func (h *upstreamHandler) sendUnauthorized(t *Tunnel, streamID string) {
	_ = t.SendFrame(&protocol.Frame{
		Type: protocol.TypeHTTPResponse,
		HTTPResponse: &protocol.HTTPResponsePayload{
			StreamID: streamID,
			Status:   http.StatusUnauthorized,
			Headers: []protocol.Header{
				{Name: "WWW-Authenticate", Value: `Basic realm="tunnel"`},
				{Name: "Content-Type", Value: "text/plain"},
			},
		},
	})
	body := []byte("authentication required")
	_ = t.SendFrame(&protocol.Frame{Type: protocol.TypeData, Data: &protocol.DataPayload{StreamID: streamID, Bytes: body}})
	_ = t.SendFrame(&protocol.Frame{Type: protocol.TypeEnd, End: &protocol.EndPayload{StreamID: streamID}})
}

// serveHTTP proxies a plain (non-websocket) request to the local
// upstream and streams the response back as frames.
func (h *upstreamHandler) serveHTTP(t *Tunnel, req *protocol.HTTPRequestPayload, in *inboundStream) {
	backendURL := h.targetURL.String() + req.URI
	slog.Debug("forwarding request to upstream", "method", req.Method, "url", backendURL)

	httpReq, err := http.NewRequest(req.Method, backendURL, newChanBodyReader(in.body))
	if err != nil {
		h.sendError(t, req.StreamID, fmt.Errorf("building upstream request: %w", err))
		return
	}
	for _, hdr := range req.Headers {
		if hopByHop[hdr.Name] {
			continue
		}
		httpReq.Header.Add(hdr.Name, hdr.Value)
	}
	httpReq.Host = h.hostHeader()

	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.sendError(t, req.StreamID, fmt.Errorf("upstream request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	if err := t.SendFrame(&protocol.Frame{
		Type: protocol.TypeHTTPResponse,
		HTTPResponse: &protocol.HTTPResponsePayload{
			StreamID: req.StreamID,
			Status:   resp.StatusCode,
			Headers:  toWireHeaders(resp.Header),
		},
	}); err != nil {
		slog.Error("sending response headers failed", "err", err)
		return
	}

	buf := make([]byte, protocol.MaxPayloadSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if werr := t.SendFrame(&protocol.Frame{Type: protocol.TypeData, Data: &protocol.DataPayload{StreamID: req.StreamID, Bytes: chunk}}); werr != nil {
				return
			}
		}
		if rerr != nil {
			break
		}
	}
	_ = t.SendFrame(&protocol.Frame{Type: protocol.TypeEnd, End: &protocol.EndPayload{StreamID: req.StreamID}})
}

func (h *upstreamHandler) sendError(t *Tunnel, streamID string, err error) {
	slog.Error("upstream request failed", "err", err)
	_ = t.SendFrame(&protocol.Frame{
		Type:        protocol.TypeStreamError,
		StreamError: &protocol.StreamErrorPayload{StreamID: streamID, Message: err.Error()},
	})
}

func (h *upstreamHandler) hostHeader() string {
	if h.cfg.HostHeader != "" {
		return h.cfg.HostHeader
	}
	return h.targetURL.Host
}

func toWireHeaders(h http.Header) []protocol.Header {
	var out []protocol.Header
	for k, vs := range h {
		for _, v := range vs {
			out = append(out, protocol.Header{Name: k, Value: v})
		}
	}
	return out
}

func isWebSocketUpgrade(headers []protocol.Header) bool {
	var upgrade, connection string
	for _, h := range headers {
		switch strings.ToLower(h.Name) {
		case "upgrade":
			upgrade = h.Value
		case "connection":
			connection = h.Value
		}
	}
	return strings.EqualFold(strings.TrimSpace(upgrade), "websocket") &&
		strings.Contains(strings.ToLower(connection), "upgrade")
}

func parseBasicAuth(headers []protocol.Header) (user, pass string, ok bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Authorization") {
			r := &http.Request{Header: http.Header{"Authorization": {h.Value}}}
			return r.BasicAuth()
		}
	}
	return "", "", false
}

func drainBody(in *inboundStream) {
	for range in.body {
	}
}

const dialTimeout = 10 * time.Second
