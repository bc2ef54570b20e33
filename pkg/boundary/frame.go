// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package boundary implements the framed binary protocol that crosses the
// line between the enclave's trusted logic (attestation, key custody, the
// puzzle VM) and the untrusted host process that owns the network socket,
// the chain RPC client and the relay HTTP client. No third-party RPC
// framework in the retrieval pack speaks this ad hoc length-prefixed wire
// format, so the codec is hand-rolled on encoding/binary the way the spec's
// wire layout requires; pkg/keyshare.Transport is the seam a TCPTransport
// built on this codec satisfies.
package boundary

import (
	"encoding/binary"
	"errors"
	"io"
)

// maxFrameLen bounds a single frame body, guarding the reader against a
// corrupt or hostile length prefix driving an unbounded allocation.
const maxFrameLen = 64 << 20

// ErrFrameTooLarge is returned by readFrame when a declared length exceeds
// maxFrameLen.
var ErrFrameTooLarge = errors.New("boundary: frame length exceeds maximum")

// writeFrame writes a u32-length-prefixed body: the shape repeated by
// every message in the protocol (report, quote, sealed blob, steady-state
// body).
func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// readFrame reads one u32-length-prefixed body.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, ErrFrameTooLarge
	}
	if n == 0 {
		return []byte{}, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// RequestKind tags a steady-state request frame.
type RequestKind byte

const (
	KindKeyshare RequestKind = 0
	KindSignal   RequestKind = 1
	KindWithdraw RequestKind = 2
)

// writeRequest writes a steady-state request: kind byte followed by a
// length-prefixed body.
func writeRequest(w io.Writer, kind RequestKind, body []byte) error {
	if _, err := w.Write([]byte{byte(kind)}); err != nil {
		return err
	}
	return writeFrame(w, body)
}

// readRequest reads a steady-state request frame.
func readRequest(r io.Reader) (RequestKind, []byte, error) {
	var kindBuf [1]byte
	if _, err := io.ReadFull(r, kindBuf[:]); err != nil {
		return 0, nil, err
	}
	body, err := readFrame(r)
	if err != nil {
		return 0, nil, err
	}
	return RequestKind(kindBuf[0]), body, nil
}

// writeResponse writes a response frame: u32 len || body.
func writeResponse(w io.Writer, body []byte) error {
	return writeFrame(w, body)
}

// readResponse reads a response frame.
func readResponse(r io.Reader) ([]byte, error) {
	return readFrame(r)
}
