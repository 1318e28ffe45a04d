package tunnelclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dvaar/tunnel/internal/protocol"
)

// Tunnel manages the client-side websocket connection to the edge.
type Tunnel struct {
	codec     *protocol.Codec
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once

	pingInterval time.Duration
	upstream     *upstreamHandler

	streams  map[string]*inboundStream
	streamMu sync.Mutex
}

// inboundStream buffers Data frames for a request/response body still
// being streamed in from the edge, or carries WebSocket frames once a
// stream has switched to WS mode.
type inboundStream struct {
	body chan []byte
	ws   chan wsInbound
}

type wsInbound struct {
	close    bool
	code     int
	reason   string
	data     []byte
	isBinary bool
}

// Connect dials the edge, performs the Init/InitAck handshake, and
// returns a ready-to-run Tunnel.
func Connect(ctx context.Context, cfg *Config) (*Tunnel, error) {
	url := cfg.Edge.URL
	slog.Info("connecting to edge", "url", url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing edge: %w", err)
	}
	codec := protocol.NewCodec(conn)

	if err := codec.WriteFrame(&protocol.Frame{
		Type: protocol.TypeInit,
		Init: &protocol.InitPayload{
			Token:              cfg.Edge.Token,
			RequestedSubdomain: cfg.Edge.RequestedSubdomain,
			TunnelType:         protocol.TunnelTypeHTTP,
			ClientVersion:      cfg.Tunnel.ClientVersion,
		},
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending init: %w", err)
	}

	reply, err := codec.ReadFrame()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading init ack: %w", err)
	}
	if reply.Type != protocol.TypeInitAck || reply.InitAck == nil {
		conn.Close()
		return nil, fmt.Errorf("unexpected frame in place of init ack: type %d", reply.Type)
	}
	if reply.InitAck.Error != "" {
		conn.Close()
		return nil, fmt.Errorf("edge rejected handshake: %s", reply.InitAck.Error)
	}

	slog.Info("tunnel established", "assigned_domain", reply.InitAck.AssignedDomain)

	handler, err := newUpstreamHandler(cfg.Upstream)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("configuring upstream: %w", err)
	}

	return &Tunnel{
		codec:        codec,
		conn:         conn,
		done:         make(chan struct{}),
		pingInterval: cfg.Tunnel.PingInterval,
		upstream:     handler,
		streams:      make(map[string]*inboundStream),
	}, nil
}

// Run starts processing frames from the edge. Blocks until the tunnel closes.
func (t *Tunnel) Run() error {
	go t._ping_loop()
	return t._read_loop()
}

// Close shuts down the tunnel connection.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()
		slog.Info("tunnel client closed")
	})
}

// Done returns a channel that closes when the tunnel shuts down.
func (t *Tunnel) Done() <-chan struct{} { return t.done }

func (t *Tunnel) _read_loop() error {
	defer t.Close()
	for {
		frame, err := t.codec.ReadFrame()
		if err != nil {
			select {
			case <-t.done:
				return nil
			default:
				return fmt.Errorf("reading frame: %w", err)
			}
		}

		switch frame.Type {
		case protocol.TypePing:
			if err := t.codec.WriteFrame(&protocol.Frame{Type: protocol.TypePong}); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}

		case protocol.TypeHTTPRequest:
			p := frame.HTTPRequest
			in := &inboundStream{body: make(chan []byte, 64)}
			t._put_stream(p.StreamID, in)
			go t.upstream.serve(t, p, in)

		case protocol.TypeData:
			t._feed_body(frame.Data.StreamID, frame.Data.Bytes)

		case protocol.TypeEnd:
			t._end_body(frame.End.StreamID)

		case protocol.TypeWebSocketFrame:
			p := frame.WebSocketFrame
			t._feed_ws(p.StreamID, wsInbound{data: p.Bytes, isBinary: p.IsBinary})

		case protocol.TypeWebSocketClose:
			p := frame.WebSocketClose
			t._feed_ws(p.StreamID, wsInbound{close: true, code: p.Code, reason: p.Reason})
			t._remove_stream(p.StreamID)

		default:
			slog.Warn("unexpected frame type from edge", "type", frame.Type)
		}
	}
}

func (t *Tunnel) _ping_loop() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.codec.WriteFrame(&protocol.Frame{Type: protocol.TypePing}); err != nil {
				slog.Error("tunnel client ping failed", "err", err)
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}

// SendFrame writes a frame to the edge. Safe for concurrent use by the
// per-stream upstream handler goroutines.
func (t *Tunnel) SendFrame(f *protocol.Frame) error {
	return t.codec.WriteFrame(f)
}

func (t *Tunnel) _put_stream(id string, in *inboundStream) {
	t.streamMu.Lock()
	t.streams[id] = in
	t.streamMu.Unlock()
}

func (t *Tunnel) _remove_stream(id string) {
	t.streamMu.Lock()
	delete(t.streams, id)
	t.streamMu.Unlock()
}

func (t *Tunnel) _feed_body(id string, data []byte) {
	t.streamMu.Lock()
	in, ok := t.streams[id]
	t.streamMu.Unlock()
	if !ok {
		return
	}
	select {
	case in.body <- data:
	case <-t.done:
	}
}

func (t *Tunnel) _end_body(id string) {
	t.streamMu.Lock()
	in, ok := t.streams[id]
	t.streamMu.Unlock()
	if !ok {
		return
	}
	close(in.body)
}

// _attach_ws switches an existing stream (opened for an HTTP request
// that turned out to be a 101 upgrade) into WebSocket mode, returning
// the channel its inbound frames will arrive on.
func (t *Tunnel) _attach_ws(id string) chan wsInbound {
	t.streamMu.Lock()
	defer t.streamMu.Unlock()
	in, ok := t.streams[id]
	if !ok {
		in = &inboundStream{}
		t.streams[id] = in
	}
	if in.ws == nil {
		in.ws = make(chan wsInbound, 32)
	}
	return in.ws
}

func (t *Tunnel) _feed_ws(id string, ev wsInbound) {
	t.streamMu.Lock()
	in, ok := t.streams[id]
	t.streamMu.Unlock()
	if !ok || in.ws == nil {
		return
	}
	select {
	case in.ws <- ev:
	case <-t.done:
	}
}
