// Package protocol defines the wire format of the control channel between
// a tunnel client and an edge node: a tagged frame union, one frame per
// transport message.
package protocol

import "fmt"

// Frame tags. One transport message carries exactly one frame.
const (
	TypeInit uint8 = iota + 1
	TypeInitAck
	TypeHTTPRequest
	TypeHTTPResponse
	TypeData
	TypeEnd
	TypeWebSocketFrame
	TypeWebSocketClose
	TypeStreamError
	TypePing
	TypePong
)

// TunnelType distinguishes the kind of tunnel requested at Init time.
// Only Http is specified in depth; the tag exists so the wire format
// does not need to change shape if other tunnel types are added later.
type TunnelType uint8

const (
	TunnelTypeHTTP TunnelType = iota + 1
)

// MaxPayloadSize bounds a single Data/WebSocketFrame chunk. Larger bodies
// are split across multiple frames by the sender.
const MaxPayloadSize = 64 * 1024

// Header is a string key/value pair, order-preserving (HTTP headers may
// repeat a key).
type Header struct {
	Name  string
	Value string
}

// Frame is the decoded form of one control-channel message. Exactly one
// of the typed payload fields is populated, selected by Type.
type Frame struct {
	Type uint8

	Init           *InitPayload
	InitAck        *InitAckPayload
	HTTPRequest    *HTTPRequestPayload
	HTTPResponse   *HTTPResponsePayload
	Data           *DataPayload
	End            *EndPayload
	WebSocketFrame *WebSocketFramePayload
	WebSocketClose *WebSocketClosePayload
	StreamError    *StreamErrorPayload
}

// StreamIDOf returns the stream id carried by the frame, or "" for
// session-level frames (Init, InitAck, Ping, Pong) that have none.
func (f *Frame) StreamIDOf() string {
	switch f.Type {
	case TypeHTTPRequest:
		return f.HTTPRequest.StreamID
	case TypeHTTPResponse:
		return f.HTTPResponse.StreamID
	case TypeData:
		return f.Data.StreamID
	case TypeEnd:
		return f.End.StreamID
	case TypeWebSocketFrame:
		return f.WebSocketFrame.StreamID
	case TypeWebSocketClose:
		return f.WebSocketClose.StreamID
	case TypeStreamError:
		return f.StreamError.StreamID
	default:
		return ""
	}
}

// InitPayload is the client's first frame on a new session.
type InitPayload struct {
	Token              string
	RequestedSubdomain string // empty means "no preference"
	TunnelType         TunnelType
	ClientVersion      string
}

// InitAckPayload is the edge's reply to Init.
type InitAckPayload struct {
	AssignedDomain string
	Error          string // empty on success
	ServerVersion  string
}

// HTTPRequestPayload opens a stream for one public HTTP request. Body
// bytes follow as Data/End frames on the same stream.
type HTTPRequestPayload struct {
	StreamID string
	Method   string
	URI      string
	Headers  []Header
}

// HTTPResponsePayload is the first frame of a response on a stream. Body
// bytes follow as Data/End frames. Status 101 switches the stream to
// WebSocket mode. The edge session keeps no per-stream WebSocket flag,
// so an End that arrives on a stream after its 101 ends that stream
// like any other End.
type HTTPResponsePayload struct {
	StreamID string
	Status   int
	Headers  []Header
}

// DataPayload is a body chunk, either direction.
type DataPayload struct {
	StreamID string
	Bytes    []byte
}

// EndPayload closes the body half of a stream, either direction.
type EndPayload struct {
	StreamID string
}

// WebSocketFramePayload carries one proxied WebSocket frame after a 101
// upgrade.
type WebSocketFramePayload struct {
	StreamID string
	Bytes    []byte
	IsBinary bool
}

// WebSocketClosePayload relays a WebSocket close handshake.
type WebSocketClosePayload struct {
	StreamID string
	Code     int
	Reason   string
}

// StreamErrorPayload reports a stream-level failure to the peer.
type StreamErrorPayload struct {
	StreamID string
	Message  string
}

// Malformed is returned by Decode for an unknown tag or truncated input.
// Decode never panics on arbitrary input — it always returns this error
// instead.
type Malformed struct {
	Reason string
}

func (e *Malformed) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

func malformed(format string, args ...any) error {
	return &Malformed{Reason: fmt.Sprintf(format, args...)}
}
