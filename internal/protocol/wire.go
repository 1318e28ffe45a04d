package protocol

import (
	"encoding/binary"
)

// _writer accumulates a frame payload as self-describing fields: strings
// and byte blobs are length-prefixed (uint32 BE), everything else is
// fixed width. It never returns an error — Write only grows a slice.
type _writer struct {
	buf []byte
}

func (w *_writer) byte(b uint8) {
	w.buf = append(w.buf, b)
}

func (w *_writer) uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *_writer) int32(v int32) {
	w.uint32(uint32(v))
}

func (w *_writer) bytes(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *_writer) string(s string) {
	w.bytes([]byte(s))
}

func (w *_writer) headers(hs []Header) {
	w.uint32(uint32(len(hs)))
	for _, h := range hs {
		w.string(h.Name)
		w.string(h.Value)
	}
}

// _reader walks a decode buffer field by field, recording the first
// error encountered; once in an error state every subsequent read is a
// no-op so callers can read a whole frame and check err once at the end.
type _reader struct {
	buf []byte
	pos int
	err error
}

func (r *_reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = malformed(format, args...)
	}
}

func (r *_reader) byte() uint8 {
	if r.err != nil {
		return 0
	}
	if r.pos+1 > len(r.buf) {
		r.fail("truncated byte field at offset %d", r.pos)
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *_reader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos+4 > len(r.buf) {
		r.fail("truncated uint32 field at offset %d", r.pos)
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *_reader) int32() int32 {
	return int32(r.uint32())
}

func (r *_reader) bytes() []byte {
	if r.err != nil {
		return nil
	}
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	if n > MaxPayloadSize {
		r.fail("length-prefixed field of %d bytes exceeds maximum %d", n, MaxPayloadSize)
		return nil
	}
	if r.pos+int(n) > len(r.buf) {
		r.fail("truncated field: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf)-r.pos)
		return nil
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b
}

func (r *_reader) string() string {
	return string(r.bytes())
}

func (r *_reader) headers() []Header {
	if r.err != nil {
		return nil
	}
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	if n > 10000 {
		r.fail("header count %d exceeds sane maximum", n)
		return nil
	}
	hs := make([]Header, 0, n)
	for i := uint32(0); i < n; i++ {
		name := r.string()
		value := r.string()
		if r.err != nil {
			return nil
		}
		hs = append(hs, Header{Name: name, Value: value})
	}
	return hs
}

func (r *_reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.buf) {
		return malformed("trailing %d unread bytes", len(r.buf)-r.pos)
	}
	return nil
}
