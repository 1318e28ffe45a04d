package protocol

// Encode serialises a frame into bytes: one tag byte followed by the
// tag's field-ordered payload. The codec is pure and stateless — it
// never touches a network connection.
func Encode(f *Frame) ([]byte, error) {
	w := &_writer{}
	w.byte(f.Type)

	switch f.Type {
	case TypeInit:
		p := f.Init
		w.string(p.Token)
		w.string(p.RequestedSubdomain)
		w.byte(uint8(p.TunnelType))
		w.string(p.ClientVersion)
	case TypeInitAck:
		p := f.InitAck
		w.string(p.AssignedDomain)
		w.string(p.Error)
		w.string(p.ServerVersion)
	case TypeHTTPRequest:
		p := f.HTTPRequest
		w.string(p.StreamID)
		w.string(p.Method)
		w.string(p.URI)
		w.headers(p.Headers)
	case TypeHTTPResponse:
		p := f.HTTPResponse
		w.string(p.StreamID)
		w.int32(int32(p.Status))
		w.headers(p.Headers)
	case TypeData:
		p := f.Data
		w.string(p.StreamID)
		w.bytes(p.Bytes)
	case TypeEnd:
		p := f.End
		w.string(p.StreamID)
	case TypeWebSocketFrame:
		p := f.WebSocketFrame
		w.string(p.StreamID)
		if p.IsBinary {
			w.byte(1)
		} else {
			w.byte(0)
		}
		w.bytes(p.Bytes)
	case TypeWebSocketClose:
		p := f.WebSocketClose
		w.string(p.StreamID)
		w.int32(int32(p.Code))
		w.string(p.Reason)
	case TypeStreamError:
		p := f.StreamError
		w.string(p.StreamID)
		w.string(p.Message)
	case TypePing, TypePong:
		// no payload
	default:
		return nil, malformed("unknown frame tag %d", f.Type)
	}

	return w.buf, nil
}

// Decode parses bytes into a frame. It fails with a *Malformed error on
// an unknown tag or truncated payload; it never panics on arbitrary
// input.
func Decode(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, malformed("empty frame")
	}
	r := &_reader{buf: data}
	tag := r.byte()

	f := &Frame{Type: tag}
	switch tag {
	case TypeInit:
		p := &InitPayload{}
		p.Token = r.string()
		p.RequestedSubdomain = r.string()
		p.TunnelType = TunnelType(r.byte())
		p.ClientVersion = r.string()
		f.Init = p
	case TypeInitAck:
		p := &InitAckPayload{}
		p.AssignedDomain = r.string()
		p.Error = r.string()
		p.ServerVersion = r.string()
		f.InitAck = p
	case TypeHTTPRequest:
		p := &HTTPRequestPayload{}
		p.StreamID = r.string()
		p.Method = r.string()
		p.URI = r.string()
		p.Headers = r.headers()
		f.HTTPRequest = p
	case TypeHTTPResponse:
		p := &HTTPResponsePayload{}
		p.StreamID = r.string()
		p.Status = int(r.int32())
		p.Headers = r.headers()
		f.HTTPResponse = p
	case TypeData:
		p := &DataPayload{}
		p.StreamID = r.string()
		p.Bytes = r.bytes()
		f.Data = p
	case TypeEnd:
		p := &EndPayload{}
		p.StreamID = r.string()
		f.End = p
	case TypeWebSocketFrame:
		p := &WebSocketFramePayload{}
		p.StreamID = r.string()
		p.IsBinary = r.byte() != 0
		p.Bytes = r.bytes()
		f.WebSocketFrame = p
	case TypeWebSocketClose:
		p := &WebSocketClosePayload{}
		p.StreamID = r.string()
		p.Code = int(r.int32())
		p.Reason = r.string()
		f.WebSocketClose = p
	case TypeStreamError:
		p := &StreamErrorPayload{}
		p.StreamID = r.string()
		p.Message = r.string()
		f.StreamError = p
	case TypePing, TypePong:
		// no payload
	default:
		return nil, malformed("unknown frame tag %d", tag)
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return f, nil
}
