package ingress

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dvaar/tunnel/internal/directory"
)

// serveRemote implements spec §4.5's "remote delivery": forward to the
// peer edge that owns the route via the internal proxy endpoint, and
// stream its response body back, copying its headers minus the
// hop-by-hop set.
func (in *Ingress) serveRemote(w http.ResponseWriter, r *http.Request, rec directory.RouteRecord, subdomain string) {
	if IsWebSocketUpgrade(r.Header) {
		in.serveRemoteWebSocket(w, r, rec, subdomain)
		return
	}

	resp, err := in.peers.Forward(r.Context(), rec, r.Host, r)
	if err != nil {
		slog.Error("peer forward failed", "subdomain", subdomain, "node", rec.NodeAddr, "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		if hopByHop[k] {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// serveRemoteWebSocket handles a WebSocket upgrade request whose
// owning tunnel lives on a peer edge. A regular http.Client round trip
// can't carry the bidirectional byte stream a 101 response starts, so
// this dials the peer directly (PeerForwarder.ForwardWebSocket) and,
// on a successful upgrade, hijacks the public connection and pumps
// bytes both ways — mirroring internal/ingress/local.go's
// serveLocalWebSocket, one hop further out.
func (in *Ingress) serveRemoteWebSocket(w http.ResponseWriter, r *http.Request, rec directory.RouteRecord, subdomain string) {
	peerConn, resp, err := in.peers.ForwardWebSocket(r.Context(), rec, r.Host, r)
	if err != nil {
		slog.Error("peer websocket forward failed", "subdomain", subdomain, "node", rec.NodeAddr, "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		defer peerConn.Close()
		for k, vs := range resp.Header {
			if hopByHop[k] {
				continue
			}
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		peerConn.Close()
		http.Error(w, "websocket upgrade not supported", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		peerConn.Close()
		slog.Error("hijack failed", "err", err)
		return
	}
	defer conn.Close()
	defer peerConn.Close()

	if err := writeRawPeerResponse(buf.Writer, resp); err != nil {
		slog.Error("writing 101 response failed", "err", err)
		return
	}
	if err := buf.Flush(); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(peerConn, buf.Reader)
	}()
	io.Copy(conn, peerConn)
	<-done
}

func writeRawPeerResponse(w *bufio.Writer, resp *http.Response) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode)); err != nil {
		return err
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
