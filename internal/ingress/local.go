package ingress

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dvaar/tunnel/internal/protocol"
	"github.com/dvaar/tunnel/internal/session"
)

// serveLocal implements spec §4.5's "local delivery" for a request
// this edge resolved to a subdomain it holds the handle for.
func (in *Ingress) serveLocal(w http.ResponseWriter, r *http.Request, handle *session.Handle) {
	DeliverLocal(w, r, handle)
}

// DeliverLocal synthesizes an HttpRequest frame on a fresh stream,
// feeds the body as Data/End, and translates the response sum-type
// back into an http.ResponseWriter call sequence (or, for a 101, a raw
// hijacked passthrough). It is also called directly by
// internal/nodeproxy, which delivers to a local handle without
// needing an Ingress (peers forward only what they know is local).
func DeliverLocal(w http.ResponseWriter, r *http.Request, handle *session.Handle) {
	streamID := uuid.NewString()

	ch, err := handle.Session.OpenStream(&protocol.Frame{
		Type: protocol.TypeHTTPRequest,
		HTTPRequest: &protocol.HTTPRequestPayload{
			StreamID: streamID,
			Method:   r.Method,
			URI:      r.URL.RequestURI(),
			Headers:  toWireHeaders(r.Header),
		},
	})
	if err != nil {
		slog.Error("opening stream failed", "err", err)
		http.Error(w, "tunnel error", http.StatusBadGateway)
		return
	}

	if err := streamBody(handle.Session, streamID, r.Body); err != nil {
		slog.Error("streaming request body failed", "err", err)
	}

	first, ok := recvWithTimeout(ch, firstChunkTimeout)
	if !ok {
		http.Error(w, "tunnel timed out", http.StatusGatewayTimeout)
		return
	}

	switch ev := first.(type) {
	case session.ErrorEvent:
		http.Error(w, "tunnel error", http.StatusBadGateway)
	case session.HeadersEvent:
		if ev.StatusCode == http.StatusSwitchingProtocols {
			serveLocalWebSocket(w, handle.Session, streamID, ev, ch)
			return
		}
		writeHeaders(w, ev)
		streamResponseBody(w, ch)
	default:
		http.Error(w, "unexpected response from tunnel", http.StatusBadGateway)
	}
}

// toWireHeaders converts an incoming request's headers to the wire
// frame's header list, stripping hop-by-hop headers — except that a
// WebSocket upgrade request keeps its Connection header, since without
// it the tunnel client's own upgrade detection (isWebSocketUpgrade in
// internal/tunnelclient/upstream.go) can never see the request as an
// upgrade (spec.md:123).
func toWireHeaders(h http.Header) []protocol.Header {
	upgrade := IsWebSocketUpgrade(h)
	var out []protocol.Header
	for k, vs := range h {
		if hopByHop[k] && !(upgrade && k == "Connection") {
			continue
		}
		for _, v := range vs {
			out = append(out, protocol.Header{Name: k, Value: v})
		}
	}
	return out
}

func streamBody(s *session.Session, streamID string, body io.Reader) error {
	if body == nil {
		return s.SendFrame(&protocol.Frame{Type: protocol.TypeEnd, End: &protocol.EndPayload{StreamID: streamID}})
	}
	buf := make([]byte, protocol.MaxPayloadSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if werr := s.SendFrame(&protocol.Frame{
				Type: protocol.TypeData,
				Data: &protocol.DataPayload{StreamID: streamID, Bytes: chunk},
			}); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return s.SendFrame(&protocol.Frame{Type: protocol.TypeEnd, End: &protocol.EndPayload{StreamID: streamID}})
}

func recvWithTimeout(ch chan session.ResponseEvent, d time.Duration) (session.ResponseEvent, bool) {
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-time.After(d):
		return nil, false
	}
}

func writeHeaders(w http.ResponseWriter, ev session.HeadersEvent) {
	for _, h := range ev.Headers {
		if hopByHop[h.Name] {
			continue
		}
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(ev.StatusCode)
}

func streamResponseBody(w http.ResponseWriter, ch chan session.ResponseEvent) {
	flusher, _ := w.(http.Flusher)
	for ev := range ch {
		switch e := ev.(type) {
		case session.DataEvent:
			w.Write(e.Bytes)
			if flusher != nil {
				flusher.Flush()
			}
		case session.EndEvent:
			return
		case session.ErrorEvent:
			slog.Warn("stream error mid-response", "err", e.Err)
			return
		}
	}
}

// serveLocalWebSocket hijacks the public connection after a 101 and
// pumps bytes between it and the tunnel's WebSocketFrame/WebSocketClose
// events for the rest of the stream's life.
func serveLocalWebSocket(w http.ResponseWriter, s *session.Session, streamID string, headers session.HeadersEvent, ch chan session.ResponseEvent) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "websocket upgrade not supported", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		slog.Error("hijack failed", "err", err)
		return
	}
	defer conn.Close()

	if err := writeRawResponse(buf.Writer, headers); err != nil {
		slog.Error("writing 101 response failed", "err", err)
		return
	}
	buf.Flush()

	done := make(chan struct{})
	go func() {
		defer close(done)
		readBuf := make([]byte, 32*1024)
		for {
			n, err := buf.Reader.Read(readBuf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, readBuf[:n])
				if werr := s.SendFrame(&protocol.Frame{
					Type:           protocol.TypeWebSocketFrame,
					WebSocketFrame: &protocol.WebSocketFramePayload{StreamID: streamID, Bytes: chunk, IsBinary: true},
				}); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case session.WSFrameEvent:
				if _, err := conn.Write(e.Bytes); err != nil {
					return
				}
			case session.WSCloseEvent:
				return
			case session.ErrorEvent:
				return
			}
		case <-done:
			return
		}
	}
}

func writeRawResponse(w *bufio.Writer, headers session.HeadersEvent) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", headers.StatusCode, http.StatusText(headers.StatusCode)); err != nil {
		return err
	}
	for _, h := range headers.Headers {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", h.Name, h.Value); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
