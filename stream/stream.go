// Package stream provides the byte sink/source primitives that the
// varint codec and the surrounding module reader/writer are built on.
//
// A Sink owns a growable buffer and hands out writable slices via
// Advance; a Source walks a caller-owned byte range and hands out
// readable slices the same way. Both expose a single-byte cursor
// advance primitive so higher-level codecs never touch the underlying
// buffer directly.
package stream

import "errors"

// ErrEndOfStream is returned by Source.Advance/Peek when fewer than the
// requested number of bytes remain.
var ErrEndOfStream = errors.New("expected data but found end of stream")

// growthNumerator/growthDenominator implement the amortized-O(1) growth
// rule: new capacity is max(needed, current*7/5+32).
const (
	growthNumerator   = 7
	growthDenominator = 5
	growthConstant    = 32
)

// Sink is a growable output byte stream. The zero value is an empty sink
// ready to use.
type Sink struct {
	buf []byte
}

// NewSink returns a Sink with capacity pre-reserved for at least
// sizeHint bytes, avoiding the first few growth steps when the caller
// already knows roughly how much it will write.
func NewSink(sizeHint int) *Sink {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Sink{buf: make([]byte, 0, sizeHint)}
}

// Advance returns a writable slice of exactly n bytes at the current
// cursor and advances the cursor past it, growing the underlying buffer
// if necessary.
func (s *Sink) Advance(n int) []byte {
	needed := len(s.buf) + n
	if needed > cap(s.buf) {
		newCap := len(s.buf)*growthNumerator/growthDenominator + growthConstant
		if needed > newCap {
			newCap = needed
		}
		grown := make([]byte, len(s.buf), newCap)
		copy(grown, s.buf)
		s.buf = grown
	}
	s.buf = s.buf[:needed]
	return s.buf[needed-n : needed]
}

// WriteByte appends a single byte, satisfying io.ByteWriter.
func (s *Sink) WriteByte(b byte) error {
	s.Advance(1)[0] = b
	return nil
}

// Write appends p, satisfying io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	copy(s.Advance(len(p)), p)
	return len(p), nil
}

// Bytes returns the payload written so far. The returned slice aliases
// the Sink's internal buffer; callers must not mutate it after further
// writes.
func (s *Sink) Bytes() []byte {
	return s.buf
}

// Len reports the number of bytes written so far.
func (s *Sink) Len() int {
	return len(s.buf)
}

// Source walks a fixed, caller-provided byte range.
type Source struct {
	data []byte
	pos  int
}

// NewSource returns a Source reading from data, starting at offset 0.
func NewSource(data []byte) *Source {
	return &Source{data: data}
}

// Advance returns the next n bytes and advances the cursor past them.
// It fails with ErrEndOfStream if fewer than n bytes remain.
func (s *Source) Advance(n int) ([]byte, error) {
	b, err := s.Peek(n)
	if err != nil {
		return nil, err
	}
	s.pos += n
	return b, nil
}

// Peek returns the next n bytes without advancing the cursor.
func (s *Source) Peek(n int) ([]byte, error) {
	if n < 0 || s.pos+n > len(s.data) {
		return nil, ErrEndOfStream
	}
	return s.data[s.pos : s.pos+n], nil
}

// ReadByte advances and returns a single byte, satisfying io.ByteReader.
func (s *Source) ReadByte() (byte, error) {
	b, err := s.Advance(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Remaining reports how many bytes are left between the cursor and the
// end of the source range.
func (s *Source) Remaining() int {
	return len(s.data) - s.pos
}

// Pos reports the current cursor offset from the start of the range.
func (s *Source) Pos() int {
	return s.pos
}
