package nodeproxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dvaar/tunnel/internal/directory"
)

// Client forwards requests to peer edges' internal proxy endpoints,
// implementing ingress.PeerForwarder. Each peer node address gets its
// own github.com/sony/gobreaker circuit breaker so a downed edge fails
// fast instead of hanging every request routed to it.
type Client struct {
	httpClient    *http.Client
	clusterSecret string

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient builds a Client. clusterSecret is sent as the
// Cluster-Secret header on every forwarded request.
func NewClient(clusterSecret string, timeout time.Duration) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		clusterSecret: clusterSecret,
		breakers:      make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Forward sends r, with its original method, to /_internal/proxy<path>
// on rec's node and streams back its response, per spec §4.5's remote
// delivery.
func (c *Client) Forward(ctx context.Context, rec directory.RouteRecord, originalHost string, r *http.Request) (*http.Response, error) {
	url := fmt.Sprintf("http://%s:%d/_internal/proxy%s", rec.NodeAddr, rec.InternalPort, r.URL.Path)
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	breaker := c.breakerFor(rec.NodeAddr)
	result, err := breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, r.Method, url, r.Body)
		if err != nil {
			return nil, fmt.Errorf("building peer request: %w", err)
		}
		for k, vs := range r.Header {
			if hopByHop(k) {
				continue
			}
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set(ClusterSecretHeader, c.clusterSecret)
		req.Header.Set(OriginalHostHeader, originalHost)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("forwarding to peer %s: %w", rec.NodeAddr, err)
	}
	return result.(*http.Response), nil
}

// ForwardWebSocket dials the peer's internal proxy endpoint directly,
// bypassing httpClient: an *http.Response from a pooled http.Client
// connection can't reliably be turned back into a raw, long-lived,
// bidirectional byte stream once the 101 comes back, and httpClient's
// own Timeout would cut a long-lived socket out from under it anyway. The request's headers (including Connection/Upgrade) are
// replayed verbatim, since a stripped Connection header here would
// stop the owning edge's own upgrade detection from ever firing.
func (c *Client) ForwardWebSocket(ctx context.Context, rec directory.RouteRecord, originalHost string, r *http.Request) (net.Conn, *http.Response, error) {
	addr := fmt.Sprintf("%s:%d", rec.NodeAddr, rec.InternalPort)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing peer %s: %w", rec.NodeAddr, err)
	}

	path := fmt.Sprintf("/_internal/proxy%s", r.URL.Path)
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	bw := bufio.NewWriter(conn)
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", r.Method, path); err != nil {
		conn.Close()
		return nil, nil, err
	}
	for k, vs := range r.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vs {
			fmt.Fprintf(bw, "%s: %s\r\n", k, v)
		}
	}
	fmt.Fprintf(bw, "Host: %s\r\n", r.Host)
	fmt.Fprintf(bw, "%s: %s\r\n", ClusterSecretHeader, c.clusterSecret)
	fmt.Fprintf(bw, "%s: %s\r\n", OriginalHostHeader, originalHost)
	bw.WriteString("\r\n")
	if err := bw.Flush(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("writing peer websocket request: %w", err)
	}
	if r.Body != nil {
		io.Copy(conn, r.Body)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, r)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("reading peer websocket response: %w", err)
	}

	return &bufferedConn{Conn: conn, r: br}, resp, nil
}

// bufferedConn makes sure bytes http.ReadResponse already pulled into
// br's internal buffer (which can happen for anything read past the
// header block) aren't lost once the caller starts reading conn
// directly for the post-upgrade byte stream.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

func (c *Client) breakerFor(nodeAddr string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[nodeAddr]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        nodeAddr,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		c.breakers[nodeAddr] = b
	}
	return b
}

func hopByHop(name string) bool {
	switch name {
	case "Host", "Transfer-Encoding", "Connection", "Content-Length":
		return true
	default:
		return false
	}
}
