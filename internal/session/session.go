// Package session is the edge-side tunnel lifecycle of spec §4.4: a
// long-running coordinator per admitted client, adapted from the
// teacher's internal/relay.Tunnel (read loop + ping loop + per-stream
// channel map) and widened to the full multiplexed design — native
// stream ids, a heartbeat loop refreshing directory TTLs, and a
// bandwidth meter.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dvaar/tunnel/internal/directory"
	"github.com/dvaar/tunnel/internal/protocol"
	"github.com/dvaar/tunnel/internal/tunnelerr"
)

// ResponseEvent is the §9 sum-type response-delivery contract: Headers
// | Data | End | WSFrame | WSClose | Error, modeled as an interface
// with one struct per variant rather than the teacher's bare
// *protocol.Frame, since ingress needs to branch on meaning, not wire
// shape.
type ResponseEvent interface{ isResponseEvent() }

type HeadersEvent struct {
	StatusCode int
	Headers    []protocol.Header
}

type DataEvent struct{ Bytes []byte }

type EndEvent struct{}

type WSFrameEvent struct {
	Bytes    []byte
	IsBinary bool
}

type WSCloseEvent struct {
	Code   int
	Reason string
}

type ErrorEvent struct{ Err error }

func (HeadersEvent) isResponseEvent()  {}
func (DataEvent) isResponseEvent()     {}
func (EndEvent) isResponseEvent()      {}
func (WSFrameEvent) isResponseEvent()  {}
func (WSCloseEvent) isResponseEvent()  {}
func (ErrorEvent) isResponseEvent()    {}

// Session is one admitted client's multiplexed connection.
type Session struct {
	id        string
	subdomain string
	userID    string

	codec *protocol.Codec

	streams  map[string]chan ResponseEvent
	streamMu sync.RWMutex

	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration

	dir           directory.Directory
	heartbeatTTL  time.Duration
	memberTTL     time.Duration
	maxConcurrent int

	meter *bandwidthMeter
}

// Config bundles the directory-refresh parameters a Session needs for
// its heartbeat loop, mirroring the plan.Limits fields the admission
// controller already resolved.
type Config struct {
	Subdomain     string
	UserID        string
	HeartbeatTTL  time.Duration
	MemberTTL     time.Duration
	MaxConcurrent int
	PingInterval  time.Duration
}

// New wraps an admitted client's websocket connection and starts its
// read and heartbeat loops.
func New(conn *websocket.Conn, dir directory.Directory, cfg Config) *Session {
	s := &Session{
		id:            uuid.NewString(),
		subdomain:     cfg.Subdomain,
		userID:        cfg.UserID,
		codec:         protocol.NewCodec(conn),
		streams:       make(map[string]chan ResponseEvent),
		done:          make(chan struct{}),
		pingInterval:  cfg.PingInterval,
		dir:           dir,
		heartbeatTTL:  cfg.HeartbeatTTL,
		memberTTL:     cfg.MemberTTL,
		maxConcurrent: cfg.MaxConcurrent,
		meter:         newBandwidthMeter(dir, cfg.UserID),
	}
	go s._read_loop()
	go s._heartbeat_loop()
	return s
}

func (s *Session) ID() string        { return s.id }
func (s *Session) Subdomain() string { return s.subdomain }
func (s *Session) UserID() string    { return s.userID }

// Done returns a channel closed when the session shuts down.
func (s *Session) Done() <-chan struct{} { return s.done }

// OpenStream sends the stream-opening frame (typically HTTPRequest)
// and registers a response channel for it, keyed by the frame's own
// stream id.
func (s *Session) OpenStream(f *protocol.Frame) (chan ResponseEvent, error) {
	streamID := f.StreamIDOf()
	ch := make(chan ResponseEvent, 64)

	s.streamMu.Lock()
	s.streams[streamID] = ch
	s.streamMu.Unlock()

	if err := s.codec.WriteFrame(f); err != nil {
		s._remove_stream(streamID)
		return nil, fmt.Errorf("writing stream-open frame: %w", err)
	}
	return ch, nil
}

// SendFrame writes a frame without registering a new stream, e.g. a
// Data/End continuation of a request already opened by OpenStream.
func (s *Session) SendFrame(f *protocol.Frame) error {
	n := len(payloadBytes(f))
	if err := s.codec.WriteFrame(f); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	s.meter.add(n)
	return nil
}

// Close shuts the session down, flushing any buffered bandwidth usage
// and closing every open stream channel.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.codec.Close()
		s.meter.flush(context.Background())

		s.streamMu.Lock()
		for id, ch := range s.streams {
			close(ch)
			delete(s.streams, id)
		}
		s.streamMu.Unlock()

		ctx := context.Background()
		_ = s.dir.DeleteRoute(ctx, s.subdomain)
		_ = s.dir.RemoveUserTunnel(ctx, s.userID, s.subdomain)

		slog.Info("session closed", "id", s.id, "subdomain", s.subdomain)
	})
}

func (s *Session) _read_loop() {
	defer s.Close()
	for {
		frame, err := s.codec.ReadFrame()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Error("session read error", "id", s.id, "err", err)
				return
			}
		}
		s.meter.add(len(payloadBytes(frame)))
		s._dispatch(frame)
	}
}

func (s *Session) _dispatch(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.TypePong:
		return
	case protocol.TypeHTTPResponse:
		if p := frame.HTTPResponse; p != nil {
			s._deliver(p.StreamID, HeadersEvent{StatusCode: p.Status, Headers: p.Headers})
		}
		return
	case protocol.TypeData:
		if p := frame.Data; p != nil {
			s._deliver(p.StreamID, DataEvent{Bytes: p.Bytes})
		}
		return
	case protocol.TypeEnd:
		if p := frame.End; p != nil {
			s._deliver(p.StreamID, EndEvent{})
			s._remove_stream(p.StreamID)
		}
		return
	case protocol.TypeWebSocketFrame:
		if p := frame.WebSocketFrame; p != nil {
			s._deliver(p.StreamID, WSFrameEvent{Bytes: p.Bytes, IsBinary: p.IsBinary})
		}
		return
	case protocol.TypeWebSocketClose:
		if p := frame.WebSocketClose; p != nil {
			s._deliver(p.StreamID, WSCloseEvent{Code: p.Code, Reason: p.Reason})
			s._remove_stream(p.StreamID)
		}
		return
	case protocol.TypeStreamError:
		if p := frame.StreamError; p != nil {
			s._deliver(p.StreamID, ErrorEvent{Err: fmt.Errorf("%w: %s", tunnelerr.ErrUpstreamProtocol, p.Message)})
			s._remove_stream(p.StreamID)
		}
		return
	default:
		slog.Warn("unexpected frame type from client", "type", frame.Type)
	}
}

func (s *Session) _deliver(streamID string, ev ResponseEvent) {
	s.streamMu.RLock()
	ch, ok := s.streams[streamID]
	s.streamMu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	case <-s.done:
	}
}

func (s *Session) _remove_stream(streamID string) {
	s.streamMu.Lock()
	if ch, ok := s.streams[streamID]; ok {
		close(ch)
		delete(s.streams, streamID)
	}
	s.streamMu.Unlock()
}

func (s *Session) _heartbeat_loop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-ticker.C:
			if err := s.codec.WriteFrame(&protocol.Frame{Type: protocol.TypePing}); err != nil {
				slog.Error("session ping failed", "id", s.id, "err", err)
				s.Close()
				return
			}
			if ok, err := s.dir.RefreshRoute(ctx, s.subdomain, s.heartbeatTTL); err != nil || !ok {
				slog.Warn("route refresh failed", "id", s.id, "subdomain", s.subdomain, "ok", ok, "err", err)
			}
			if _, _, err := s.dir.AddUserTunnel(ctx, s.userID, s.subdomain, s.memberTTL, s.maxConcurrent+1); err != nil {
				slog.Warn("user-tunnel refresh failed", "id", s.id, "err", err)
			}
			s.meter.maybeFlush(ctx)
		case <-s.done:
			return
		}
	}
}

// payloadBytes extracts the bytes a frame carries for bandwidth
// accounting purposes; frames without a byte payload count as zero.
func payloadBytes(f *protocol.Frame) []byte {
	switch f.Type {
	case protocol.TypeData:
		if f.Data != nil {
			return f.Data.Bytes
		}
	case protocol.TypeWebSocketFrame:
		if f.WebSocketFrame != nil {
			return f.WebSocketFrame.Bytes
		}
	}
	return nil
}
