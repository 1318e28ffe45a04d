package tunnelclient

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dvaar/tunnel/internal/protocol"
)

func _connect_pair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srvCh := make(chan *websocket.Conn, 1)
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade failed: %v", err)
		}
		srvCh <- c
	}))
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + httpSrv.URL[len("http"):]
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	srv := <-srvCh
	t.Cleanup(func() { srv.Close() })
	return srv, c
}

func newTestTunnel(t *testing.T, cfg UpstreamConfig) (*Tunnel, *protocol.Codec) {
	t.Helper()
	srv, client := _connect_pair(t)
	handler, err := newUpstreamHandler(cfg)
	if err != nil {
		t.Fatalf("newUpstreamHandler: %v", err)
	}
	tun := &Tunnel{
		codec:        protocol.NewCodec(srv),
		conn:         srv,
		done:         make(chan struct{}),
		pingInterval: time.Minute,
		upstream:     handler,
		streams:      make(map[string]*inboundStream),
	}
	go tun._read_loop()
	return tun, protocol.NewCodec(client)
}

func TestConfig_requires_edge_url(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("edge:\n  token: abc\nupstream:\n  target_url: http://127.0.0.1:9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing edge.url")
	}
}

func TestConfig_defaults_applied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("edge:\n  url: ws://edge.example\n  token: abc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Tunnel.ReconnectDelay != 2*time.Second {
		t.Errorf("got reconnect delay %v, want 2s default", cfg.Tunnel.ReconnectDelay)
	}
	if cfg.Upstream.TargetURL != "http://127.0.0.1:8080" {
		t.Errorf("got target url %q, want default", cfg.Upstream.TargetURL)
	}
}

func TestIsWebSocketUpgrade(t *testing.T) {
	yes := []protocol.Header{{Name: "Upgrade", Value: "websocket"}, {Name: "Connection", Value: "Upgrade"}}
	if !isWebSocketUpgrade(yes) {
		t.Error("expected upgrade headers to be detected")
	}
	no := []protocol.Header{{Name: "Upgrade", Value: "h2c"}}
	if isWebSocketUpgrade(no) {
		t.Error("did not expect non-websocket upgrade to match")
	}
}

func TestParseBasicAuth(t *testing.T) {
	headers := []protocol.Header{{Name: "Authorization", Value: "Basic dXNlcjpwYXNz"}}
	user, pass, ok := parseBasicAuth(headers)
	if !ok || user != "user" || pass != "pass" {
		t.Errorf("got (%q, %q, %v), want (user, pass, true)", user, pass, ok)
	}
}

func TestChanBodyReader_reads_until_close(t *testing.T) {
	ch := make(chan []byte, 2)
	ch <- []byte("hel")
	ch <- []byte("lo")
	close(ch)

	r := newChanBodyReader(ch)
	buf := make([]byte, 16)
	var out []byte
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	if string(out) != "hello" {
		t.Errorf("got %q, want hello", out)
	}
}

func Test_basic_auth_short_circuits_without_upstream_call(t *testing.T) {
	cfg := UpstreamConfig{TargetURL: "http://127.0.0.1:1", BasicAuth: BasicAuthRule{Username: "u", Password: "p"}}
	tun, clientCodec := newTestTunnel(t, cfg)
	defer tun.Close()

	if err := clientCodec.WriteFrame(&protocol.Frame{
		Type: protocol.TypeHTTPRequest,
		HTTPRequest: &protocol.HTTPRequestPayload{
			StreamID: "s1",
			Method:   "GET",
			URI:      "/",
		},
	}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if err := clientCodec.WriteFrame(&protocol.Frame{Type: protocol.TypeEnd, End: &protocol.EndPayload{StreamID: "s1"}}); err != nil {
		t.Fatalf("write end: %v", err)
	}

	resp, err := clientCodec.ReadFrame()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != protocol.TypeHTTPResponse || resp.HTTPResponse.Status != http.StatusUnauthorized {
		t.Fatalf("got frame %+v, want 401 response", resp)
	}
}

func Test_http_round_trip_via_upstream_target(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo", "1")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hi there"))
	}))
	defer backend.Close()

	tun, clientCodec := newTestTunnel(t, UpstreamConfig{TargetURL: backend.URL})
	defer tun.Close()

	if err := clientCodec.WriteFrame(&protocol.Frame{
		Type: protocol.TypeHTTPRequest,
		HTTPRequest: &protocol.HTTPRequestPayload{
			StreamID: "s1",
			Method:   "GET",
			URI:      "/path",
		},
	}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if err := clientCodec.WriteFrame(&protocol.Frame{Type: protocol.TypeEnd, End: &protocol.EndPayload{StreamID: "s1"}}); err != nil {
		t.Fatalf("write end: %v", err)
	}

	headers, err := clientCodec.ReadFrame()
	if err != nil {
		t.Fatalf("read headers: %v", err)
	}
	if headers.Type != protocol.TypeHTTPResponse || headers.HTTPResponse.Status != http.StatusOK {
		t.Fatalf("got %+v, want 200 response", headers)
	}

	var body []byte
	for {
		f, err := clientCodec.ReadFrame()
		if err != nil {
			t.Fatalf("read body frame: %v", err)
		}
		if f.Type == protocol.TypeEnd {
			break
		}
		if f.Type == protocol.TypeData {
			body = append(body, f.Data.Bytes...)
		}
	}
	if string(body) != "hi there" {
		t.Errorf("got body %q, want %q", body, "hi there")
	}
}
