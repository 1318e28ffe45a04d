package tunnelclient

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/dvaar/tunnel/internal/protocol"
)

// serveWebSocket dials the local upstream raw, replays the original
// upgrade request, and on a 101 response pumps bytes bidirectionally
// between the upstream socket and the tunnel's WebSocketFrame/
// WebSocketClose events for the life of the stream.
func (h *upstreamHandler) serveWebSocket(t *Tunnel, req *protocol.HTTPRequestPayload, in *inboundStream) {
	conn, err := h.dialUpstream()
	if err != nil {
		h.sendError(t, req.StreamID, fmt.Errorf("dialing websocket upstream: %w", err))
		return
	}
	defer conn.Close()

	if err := writeUpgradeRequest(conn, req, h.hostHeader()); err != nil {
		h.sendError(t, req.StreamID, fmt.Errorf("writing upgrade request: %w", err))
		return
	}
	drainBody(in)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		h.sendError(t, req.StreamID, fmt.Errorf("reading upgrade response: %w", err))
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
		slog.Error("sending upgrade response failed", "err", err)
		return
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = t.SendFrame(&protocol.Frame{Type: protocol.TypeEnd, End: &protocol.EndPayload{StreamID: req.StreamID}})
		return
	}

	wsCh := t._attach_ws(req.StreamID)
	defer t._remove_stream(req.StreamID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 32*1024)
		for {
			n, err := br.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if werr := t.SendFrame(&protocol.Frame{
					Type:           protocol.TypeWebSocketFrame,
					WebSocketFrame: &protocol.WebSocketFramePayload{StreamID: req.StreamID, Bytes: chunk, IsBinary: true},
				}); werr != nil {
					return
				}
			}
			if err != nil {
				_ = t.SendFrame(&protocol.Frame{
					Type:           protocol.TypeWebSocketClose,
					WebSocketClose: &protocol.WebSocketClosePayload{StreamID: req.StreamID},
				})
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-wsCh:
			if !ok {
				return
			}
			if ev.close {
				return
			}
			if _, err := conn.Write(ev.data); err != nil {
				return
			}
		case <-done:
			return
		case <-t.Done():
			return
		}
	}
}

func (h *upstreamHandler) dialUpstream() (net.Conn, error) {
	addr := h.targetURL.Host
	if h.cfg.TLSUpstream {
		return tls.Dial("tcp", addr, &tls.Config{ServerName: hostOnly(addr)})
	}
	return net.DialTimeout("tcp", addr, dialTimeout)
}

func writeUpgradeRequest(conn net.Conn, req *protocol.HTTPRequestPayload, host string) error {
	w := bufio.NewWriter(conn)
	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", req.Method, req.URI); err != nil {
		return err
	}
	wroteHost := false
	for _, hdr := range req.Headers {
		if hopByHop[hdr.Name] {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", hdr.Name, hdr.Value); err != nil {
			return err
		}
		if hdr.Name == "Host" {
			wroteHost = true
		}
	}
	if !wroteHost {
		if _, err := fmt.Fprintf(w, "Host: %s\r\n", host); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
