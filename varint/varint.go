// Package varint implements LEB128 variable-length integer encoding and
// decoding, byte-for-byte compatible with the WebAssembly binary format's
// integer encoding. It is parameterized over a declared bit width and
// value range, mirroring the wire contract described for the surrounding
// module reader/writer.
package varint

import (
	"errors"
	"fmt"

	"github.com/wasmjit-go/jitimage/stream"
)

// ErrInvalidFinalByte is returned when the last byte of a decoded LEB128
// value has unused high bits that don't sign-extend (or, for unsigned
// values, aren't all zero).
var ErrInvalidFinalByte = errors.New("Invalid LEB encoding: invalid final byte")

// RangeError reports that a decoded or to-be-encoded value falls outside
// the declared [Min, Max] range.
type RangeError struct {
	Min, Max, Value int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("out-of-range value: %d<=%d<=%d", e.Min, e.Value, e.Max)
}

func maxBytesForBits(bits uint) int {
	return int((bits + 6) / 7)
}

// encodeSigned writes value as a signed LEB128 to sink, assuming value is
// already known to fit in bits. The loop mirrors the original's
// termination rule: stop once the residual is 0 with the sign bit clear,
// or -1 with the sign bit set.
func encodeSigned(sink *stream.Sink, value int64) {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		more := (value != 0 || b&0x40 != 0) && (value != -1 || b&0x40 == 0)
		if more {
			b |= 0x80
		}
		sink.Advance(1)[0] = b
		if !more {
			return
		}
	}
}

func encodeUnsigned(sink *stream.Sink, value uint64) {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value != 0 {
			b |= 0x80
		}
		sink.Advance(1)[0] = b
		if value == 0 {
			return
		}
	}
}

// decodeRaw reads up to maxBytesForBits(bits) bytes from src, stopping
// after the first byte with a clear continuation bit, and returns the
// combined 7-bit groups plus the shift at which decoding stopped
// (needed by the caller to sign-extend).
func decodeRaw(src *stream.Source, bits uint) (value uint64, shift uint, lastByte byte, numBytes int, err error) {
	maxBytes := maxBytesForBits(bits)
	for numBytes < maxBytes {
		b, err := src.ReadByte()
		if err != nil {
			return 0, 0, 0, numBytes, err
		}
		value |= uint64(b&0x7f) << shift
		lastByte = b
		numBytes++
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	return value, shift, lastByte, numBytes, nil
}

func checkFinalByte(lastByte byte, numBytes int, bits uint, signed bool) error {
	maxBytes := maxBytesForBits(bits)
	if numBytes != maxBytes {
		// Terminated early (continuation bit cleared before the last
		// possible byte); nothing to check, the value is fully
		// determined by the bits actually present.
		return nil
	}
	usedBits := bits - uint(maxBytes-1)*7
	usedMask := byte(1<<usedBits) - 1
	// extra includes the continuation bit: if the decoder stopped only
	// because it ran out of allotted bytes (not because it saw a clear
	// continuation bit), that bit is still set here and the comparisons
	// below correctly reject the encoding as overlong.
	extra := lastByte &^ usedMask
	if extra == 0 {
		return nil
	}
	signMask := ^usedMask &^ byte(0x80)
	if signed && extra == signMask {
		return nil
	}
	return ErrInvalidFinalByte
}

// minimalUnsignedLen reports how many LEB128 bytes encodeUnsigned would
// emit for v. Used to detect non-minimal ("overlong") encodings such as
// an unsigned value padded with a redundant continued zero group.
func minimalUnsignedLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// minimalSignedLen reports how many LEB128 bytes encodeSigned would emit
// for v, following the same termination rule.
func minimalSignedLen(v int64) int {
	n := 1
	for {
		b := byte(v & 0x7f)
		v >>= 7
		more := (v != 0 || b&0x40 != 0) && (v != -1 || b&0x40 == 0)
		if !more {
			return n
		}
		n++
	}
}

// EncodeUnsigned encodes value as an unsigned LEB128 into sink after
// checking it lies within [0, maxValue].
func EncodeUnsigned(sink *stream.Sink, value, maxValue uint64) error {
	if value > maxValue {
		return &RangeError{Min: 0, Max: int64(maxValue), Value: int64(value)}
	}
	encodeUnsigned(sink, value)
	return nil
}

// DecodeUnsigned decodes an unsigned LEB128 of declared bit width bits
// from src and checks the result lies within [0, maxValue].
func DecodeUnsigned(src *stream.Source, bits uint, maxValue uint64) (uint64, error) {
	value, _, lastByte, numBytes, err := decodeRaw(src, bits)
	if err != nil {
		return 0, err
	}
	if err := checkFinalByte(lastByte, numBytes, bits, false); err != nil {
		return 0, err
	}
	if numBytes > minimalUnsignedLen(value) {
		return 0, ErrInvalidFinalByte
	}
	if value > maxValue {
		return 0, &RangeError{Min: 0, Max: int64(maxValue), Value: int64(value)}
	}
	return value, nil
}

// EncodeSigned encodes value as a signed LEB128 into sink after checking
// it lies within [minValue, maxValue].
func EncodeSigned(sink *stream.Sink, value, minValue, maxValue int64) error {
	if value < minValue || value > maxValue {
		return &RangeError{Min: minValue, Max: maxValue, Value: value}
	}
	encodeSigned(sink, value)
	return nil
}

// DecodeSigned decodes a signed LEB128 of declared bit width bits from
// src, sign-extends it to 64 bits, and checks the result lies within
// [minValue, maxValue].
func DecodeSigned(src *stream.Source, bits uint, minValue, maxValue int64) (int64, error) {
	value, shift, lastByte, numBytes, err := decodeRaw(src, bits)
	if err != nil {
		return 0, err
	}
	if err := checkFinalByte(lastByte, numBytes, bits, true); err != nil {
		return 0, err
	}
	signed := int64(value)
	if shift < 64 && lastByte&0x40 != 0 {
		signed |= ^int64(0) << shift
	}
	if numBytes > minimalSignedLen(signed) {
		return 0, ErrInvalidFinalByte
	}
	if signed < minValue || signed > maxValue {
		return 0, &RangeError{Min: minValue, Max: maxValue, Value: signed}
	}
	return signed, nil
}

// Named helpers binding bit-width and range, matching the WebAssembly
// binary format's integer encodings.

// EncodeVaruint1 encodes a 1-bit unsigned value (0 or 1).
func EncodeVaruint1(sink *stream.Sink, v uint64) error { return EncodeUnsigned(sink, v, 1) }

// DecodeVaruint1 decodes a 1-bit unsigned value (0 or 1).
func DecodeVaruint1(src *stream.Source) (uint64, error) { return DecodeUnsigned(src, 1, 1) }

// EncodeVaruint7 encodes a 7-bit unsigned value (0..127).
func EncodeVaruint7(sink *stream.Sink, v uint64) error { return EncodeUnsigned(sink, v, 127) }

// DecodeVaruint7 decodes a 7-bit unsigned value (0..127).
func DecodeVaruint7(src *stream.Source) (uint64, error) { return DecodeUnsigned(src, 7, 127) }

// EncodeVaruint32 encodes an unsigned 32-bit value.
func EncodeVaruint32(sink *stream.Sink, v uint32) error {
	return EncodeUnsigned(sink, uint64(v), 0xFFFFFFFF)
}

// DecodeVaruint32 decodes an unsigned 32-bit value.
func DecodeVaruint32(src *stream.Source) (uint32, error) {
	v, err := DecodeUnsigned(src, 32, 0xFFFFFFFF)
	return uint32(v), err
}

// EncodeVaruint64 encodes an unsigned 64-bit value.
func EncodeVaruint64(sink *stream.Sink, v uint64) error {
	return EncodeUnsigned(sink, v, ^uint64(0))
}

// DecodeVaruint64 decodes an unsigned 64-bit value.
func DecodeVaruint64(src *stream.Source) (uint64, error) {
	return DecodeUnsigned(src, 64, ^uint64(0))
}

// EncodeVarint32 encodes a signed 32-bit value.
func EncodeVarint32(sink *stream.Sink, v int32) error {
	return EncodeSigned(sink, int64(v), -(1 << 31), 1<<31-1)
}

// DecodeVarint32 decodes a signed 32-bit value.
func DecodeVarint32(src *stream.Source) (int32, error) {
	v, err := DecodeSigned(src, 32, -(1 << 31), 1<<31-1)
	return int32(v), err
}

// EncodeVarint64 encodes a signed 64-bit value.
func EncodeVarint64(sink *stream.Sink, v int64) error {
	return EncodeSigned(sink, v, minInt64, maxInt64)
}

// DecodeVarint64 decodes a signed 64-bit value.
func DecodeVarint64(src *stream.Source) (int64, error) {
	return DecodeSigned(src, 64, minInt64, maxInt64)
}

const (
	maxInt64 = 1<<63 - 1
	minInt64 = -1 << 63
)
