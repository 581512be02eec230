// Package codec implements the binary primitives shared by every on-disk
// hashdb record: little-endian base-128 varints and length-prefixed byte
// strings. The varint format is bit-for-bit the one encoding/binary already
// implements (7-bit payload, high bit set on every byte but the last), so
// this package is a thin, allocation-aware wrapper around it rather than a
// reimplementation.
package codec

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a buffer ends before a value it is
// expected to hold has been fully read.
var ErrTruncated = errors.New("codec: truncated buffer")

// MaxVarintLen is the largest number of bytes PutUvarint ever writes.
const MaxVarintLen = binary.MaxVarintLen64

// AppendUvarint appends the varint encoding of v to dst and returns the
// extended slice.
func AppendUvarint(dst []byte, v uint64) []byte {
	var buf [MaxVarintLen]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// Uvarint decodes a varint from the front of buf, returning the value and
// the number of bytes consumed. It returns (0, 0, ErrTruncated) if buf does
// not contain a complete varint.
func Uvarint(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, ErrTruncated
	}
	return v, n, nil
}

// AppendString appends a varint length prefix followed by the raw bytes
// of s.
func AppendString(dst []byte, s string) []byte {
	dst = AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// ReadString reads a length-prefixed string from the front of buf,
// returning the string and the number of bytes consumed.
func ReadString(buf []byte) (string, int, error) {
	n, hdr, err := Uvarint(buf)
	if err != nil {
		return "", 0, err
	}
	end := hdr + int(n)
	if end > len(buf) || end < hdr {
		return "", 0, ErrTruncated
	}
	return string(buf[hdr:end]), end, nil
}

// AppendBytes appends a varint length prefix followed by the raw bytes
// of b.
func AppendBytes(dst []byte, b []byte) []byte {
	dst = AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// ReadBytes reads a length-prefixed byte slice from the front of buf,
// returning a copy of the bytes and the number of bytes consumed.
func ReadBytes(buf []byte) ([]byte, int, error) {
	n, hdr, err := Uvarint(buf)
	if err != nil {
		return nil, 0, err
	}
	end := hdr + int(n)
	if end > len(buf) || end < hdr {
		return nil, 0, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, buf[hdr:end])
	return out, end, nil
}
