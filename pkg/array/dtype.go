// Package array provides the minimal N-dimensional array values exchanged
// between chunk codecs and callers: a dtype, a shape, byte strides and a raw
// data buffer. It is deliberately small; anything resembling arithmetic or
// slicing lives in the caller.
package array

import (
	"fmt"
	"strconv"
)

// DType is a NumPy-style encoded element type, e.g. "|u1", "<i4", "<f8",
// "|S16". The first byte is the byte order ('|' for single-byte or
// order-free types, '<' little endian), the second the kind ('b' boolean,
// 'i' signed, 'u' unsigned, 'f' float, 'S' fixed-length bytes), and the
// rest the size in bytes.
//
// Big-endian ('>') types are rejected: chunk codecs here always produce
// little-endian data, matching what every mainstream writer emits.
type DType string

// Size returns the element size in bytes. Panics if the dtype is invalid;
// validate first when handling untrusted input.
func (d DType) Size() int {
	size, err := d.size()
	if err != nil {
		panic(err)
	}
	return size
}

func (d DType) size() (int, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	return d.sizeUnchecked(), nil
}

func (d DType) sizeUnchecked() int {
	n, _ := strconv.Atoi(string(d[2:]))
	return n
}

// Kind returns the kind byte ('b', 'i', 'u', 'f' or 'S').
func (d DType) Kind() byte {
	return d[1]
}

// Validate checks the dtype encoding.
func (d DType) Validate() error {
	if len(d) < 3 {
		return fmt.Errorf("invalid dtype %q: too short", string(d))
	}

	order := d[0]
	if order != '|' && order != '<' {
		if order == '>' {
			return fmt.Errorf("invalid dtype %q: big-endian types are not supported", string(d))
		}
		return fmt.Errorf("invalid dtype %q: unknown byte order %q", string(d), order)
	}

	size, err := strconv.Atoi(string(d[2:]))
	if err != nil || size <= 0 {
		return fmt.Errorf("invalid dtype %q: bad size", string(d))
	}

	switch d[1] {
	case 'b':
		if size != 1 {
			return fmt.Errorf("invalid dtype %q: booleans are 1 byte", string(d))
		}
	case 'i', 'u':
		if size != 1 && size != 2 && size != 4 && size != 8 {
			return fmt.Errorf("invalid dtype %q: unsupported integer size %d", string(d), size)
		}
	case 'f':
		if size != 4 && size != 8 {
			return fmt.Errorf("invalid dtype %q: unsupported float size %d", string(d), size)
		}
	case 'S':
		// Any positive length.
	default:
		return fmt.Errorf("invalid dtype %q: unknown kind %q", string(d), d[1])
	}

	// Multi-byte numeric types must carry an explicit byte order.
	if size > 1 && d[1] != 'S' && order == '|' {
		return fmt.Errorf("invalid dtype %q: multi-byte types need a byte order", string(d))
	}
	return nil
}
