// Package remote implements a key-value backend served over TCP, so a
// process without direct access to the underlying storage can still open
// arrays against it.
//
// Wire format:
// Every message is one XDR-encoded record prefixed by a 4-byte fragment
// header: the high bit marks the last fragment and the low 31 bits carry the
// record length. Requests start with a RequestHeader (XID plus opcode)
// followed by the per-op request body; replies start with a ReplyHeader (the
// echoed XID plus a status code) followed by the per-op reply body. Status
// codes map one-to-one onto the store error taxonomy so the client can
// reconstruct typed errors.
package remote

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gridkv/gridstore/pkg/kvstore"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Operation codes.
const (
	OpGet uint32 = iota + 1
	OpPut
	OpDelete
	OpList
	OpDeletePrefix
)

// Status codes carried in ReplyHeader.
const (
	StatusOK uint32 = iota
	StatusNotFound
	StatusAlreadyExists
	StatusGenerationMismatch
	StatusInvalidArgument
	StatusIO
	StatusUnavailable
)

// RequestHeader precedes every request body.
type RequestHeader struct {
	XID uint32
	Op  uint32
}

// ReplyHeader precedes every reply body.
type ReplyHeader struct {
	XID    uint32
	Status uint32
	// Message is empty on success.
	Message string
}

type GetRequest struct {
	Key string
}

type GetReply struct {
	Missing    bool
	Value      []byte `xdr:"opaque"`
	Generation string
}

type PutRequest struct {
	Key   string
	Value []byte `xdr:"opaque"`
	// Condition fields mirror kvstore.WriteOptions.
	IfGenerationMatch string
	IfNotExists       bool
}

type PutReply struct {
	Generation string
}

type DeleteRequest struct {
	Key               string
	IfGenerationMatch string
}

type ListRequest struct {
	Prefix string
}

type ListReply struct {
	Keys []string
}

type DeletePrefixRequest struct {
	Prefix string
}

// statusFromError maps a store error onto a wire status.
func statusFromError(err error) (uint32, string) {
	var se *kvstore.StoreError
	if !errors.As(err, &se) {
		return StatusIO, err.Error()
	}
	switch se.Code {
	case kvstore.ErrNotFound:
		return StatusNotFound, se.Message
	case kvstore.ErrAlreadyExists:
		return StatusAlreadyExists, se.Message
	case kvstore.ErrGenerationMismatch:
		return StatusGenerationMismatch, se.Message
	case kvstore.ErrInvalidArgument:
		return StatusInvalidArgument, se.Message
	case kvstore.ErrUnavailable:
		return StatusUnavailable, se.Message
	default:
		return StatusIO, se.Message
	}
}

// errorFromStatus reconstructs a typed error on the client side.
func errorFromStatus(status uint32, message, key string) error {
	if message == "" {
		message = "remote store error"
	}
	switch status {
	case StatusOK:
		return nil
	case StatusNotFound:
		return kvstore.NewError(kvstore.ErrNotFound, message, key)
	case StatusAlreadyExists:
		return kvstore.NewError(kvstore.ErrAlreadyExists, message, key)
	case StatusGenerationMismatch:
		return kvstore.NewError(kvstore.ErrGenerationMismatch, message, key)
	case StatusInvalidArgument:
		return kvstore.NewError(kvstore.ErrInvalidArgument, message, key)
	case StatusUnavailable:
		return kvstore.NewError(kvstore.ErrUnavailable, message, key)
	default:
		return kvstore.NewError(kvstore.ErrIO, message, key)
	}
}

// writeRecord frames and writes one XDR record: header struct followed by an
// optional body struct.
func writeRecord(w io.Writer, parts ...any) error {
	var buf bytes.Buffer
	for _, part := range parts {
		if _, err := xdr.Marshal(&buf, part); err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
	}

	record := buf.Bytes()
	var frame [4]byte
	binary.BigEndian.PutUint32(frame[:], 0x80000000|uint32(len(record)))
	if _, err := w.Write(frame[:]); err != nil {
		return err
	}
	_, err := w.Write(record)
	return err
}

// maxRecordSize bounds a single record so a corrupt or hostile peer cannot
// make the reader allocate unbounded memory.
const maxRecordSize = 1 << 30

// readRecord reads one framed record and returns its payload.
func readRecord(r io.Reader) ([]byte, error) {
	var frame [4]byte
	if _, err := io.ReadFull(r, frame[:]); err != nil {
		return nil, err
	}

	header := binary.BigEndian.Uint32(frame[:])
	length := header & 0x7FFFFFFF
	if header&0x80000000 == 0 {
		return nil, fmt.Errorf("multi-fragment records not supported")
	}
	if length > maxRecordSize {
		return nil, fmt.Errorf("record too large: %d bytes", length)
	}

	record := make([]byte, length)
	if _, err := io.ReadFull(r, record); err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return record, nil
}

// decodeParts unmarshals consecutive XDR structs from a record.
func decodeParts(record []byte, parts ...any) error {
	reader := bytes.NewReader(record)
	for _, part := range parts {
		if _, err := xdr.Unmarshal(reader, part); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
	}
	return nil
}
