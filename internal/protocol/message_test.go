package protocol

import (
	"bytes"
	"testing"
)

func _sample_frames() []*Frame {
	return []*Frame{
		{Type: TypeInit, Init: &InitPayload{
			Token: "tok", RequestedSubdomain: "myapp", TunnelType: TunnelTypeHTTP, ClientVersion: "2.0",
		}},
		{Type: TypeInitAck, InitAck: &InitAckPayload{
			AssignedDomain: "swift-otter-482.tun.example", ServerVersion: "1.0",
		}},
		{Type: TypeInitAck, InitAck: &InitAckPayload{Error: "'paypal' is a reserved name"}},
		{Type: TypeHTTPRequest, HTTPRequest: &HTTPRequestPayload{
			StreamID: "stream-1", Method: "GET", URI: "/x",
			Headers: []Header{{Name: "accept", Value: "*/*"}},
		}},
		{Type: TypeHTTPResponse, HTTPResponse: &HTTPResponsePayload{
			StreamID: "stream-1", Status: 200,
			Headers: []Header{{Name: "content-type", Value: "text/plain"}},
		}},
		{Type: TypeData, Data: &DataPayload{StreamID: "stream-1", Bytes: []byte("hi")}},
		{Type: TypeData, Data: &DataPayload{StreamID: "stream-1", Bytes: nil}},
		{Type: TypeEnd, End: &EndPayload{StreamID: "stream-1"}},
		{Type: TypeWebSocketFrame, WebSocketFrame: &WebSocketFramePayload{
			StreamID: "stream-2", Bytes: []byte("hello"), IsBinary: false,
		}},
		{Type: TypeWebSocketClose, WebSocketClose: &WebSocketClosePayload{
			StreamID: "stream-2", Code: 1000, Reason: "bye",
		}},
		{Type: TypeStreamError, StreamError: &StreamErrorPayload{
			StreamID: "stream-3", Message: "upstream dial failed",
		}},
		{Type: TypePing},
		{Type: TypePong},
	}
}

func Test_round_trip_all_frame_types(t *testing.T) {
	for _, original := range _sample_frames() {
		data, err := Encode(original)
		if err != nil {
			t.Fatalf("type %d: encode failed: %v", original.Type, err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("type %d: decode failed: %v", original.Type, err)
		}
		if decoded.Type != original.Type {
			t.Errorf("type mismatch: got %d, want %d", decoded.Type, original.Type)
		}
		_assert_equal(t, original, decoded)
	}
}

func _assert_equal(t *testing.T, want, got *Frame) {
	t.Helper()
	switch want.Type {
	case TypeData:
		if !bytes.Equal(got.Data.Bytes, want.Data.Bytes) || got.Data.StreamID != want.Data.StreamID {
			t.Errorf("Data mismatch: got %+v, want %+v", got.Data, want.Data)
		}
	case TypeHTTPRequest:
		if got.HTTPRequest.Method != want.HTTPRequest.Method || len(got.HTTPRequest.Headers) != len(want.HTTPRequest.Headers) {
			t.Errorf("HTTPRequest mismatch: got %+v, want %+v", got.HTTPRequest, want.HTTPRequest)
		}
	case TypeInitAck:
		if got.InitAck.Error != want.InitAck.Error || got.InitAck.AssignedDomain != want.InitAck.AssignedDomain {
			t.Errorf("InitAck mismatch: got %+v, want %+v", got.InitAck, want.InitAck)
		}
	}
}

func Test_decode_empty_input_fails_without_panic(t *testing.T) {
	_, err := Decode(nil)
	if err == nil {
		t.Fatal("expected error for empty input")
	}
}

func Test_decode_unknown_tag_fails(t *testing.T) {
	_, err := Decode([]byte{255, 0, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
	if _, isMalformed := err.(*Malformed); !isMalformed {
		t.Fatalf("expected *Malformed, got %T: %v", err, err)
	}
}

func Test_decode_truncated_data_fails(t *testing.T) {
	original := &Frame{Type: TypeHTTPRequest, HTTPRequest: &HTTPRequestPayload{
		StreamID: "a-stream-id", Method: "GET", URI: "/", Headers: nil,
	}}
	data, err := Encode(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	for n := 0; n < len(data); n++ {
		if _, err := Decode(data[:n]); err == nil {
			t.Fatalf("expected error decoding truncated prefix of length %d", n)
		}
	}
}

func Test_encode_unknown_tag_fails(t *testing.T) {
	_, err := Encode(&Frame{Type: 255})
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func Test_encode_at_max_payload_size_round_trips(t *testing.T) {
	f := &Frame{Type: TypeData, Data: &DataPayload{StreamID: "s", Bytes: make([]byte, MaxPayloadSize)}}
	data, err := Encode(f)
	if err != nil {
		t.Fatalf("encode at max payload size failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode at max payload size failed: %v", err)
	}
	if len(decoded.Data.Bytes) != MaxPayloadSize {
		t.Errorf("expected %d bytes, got %d", MaxPayloadSize, len(decoded.Data.Bytes))
	}
}
