// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the stream envelope: a 4-byte big-endian length
// prefix followed by that many bytes of UTF-8 message body.
package wire

import (
	"encoding/binary"
	stderrors "errors"
	"io"

	"github.com/jllopis/sinp/pkg/errors"
)

// HeaderLen is the size of the length prefix.
const HeaderLen = 4

// DefaultMaxMessageBytes caps a single body at 1 MiB.
const DefaultMaxMessageBytes = 1 << 20

var (
	ErrEmptyFrame    = errors.New(errors.CodeMalformedMessage, "wire: zero-length frame", nil)
	ErrFrameTooLarge = errors.New(errors.CodeMalformedMessage, "wire: frame exceeds limit", nil)
	ErrShortFrame    = errors.New(errors.CodeMalformedMessage, "wire: truncated frame", nil)
)

// ReadFrame reads one length-prefixed body. A clean EOF before any header
// byte is returned as io.EOF so callers can tell a closed peer from a broken
// frame.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if stderrors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if uint64(size) > uint64(maxBytes) {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	return body, nil
}

// WriteFrame writes body with its length prefix in a single Write call.
func WriteFrame(w io.Writer, body []byte, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	if len(body) == 0 {
		return ErrEmptyFrame
	}
	if len(body) > maxBytes {
		return ErrFrameTooLarge
	}
	buf := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[:HeaderLen], uint32(len(body)))
	copy(buf[HeaderLen:], body)
	_, err := w.Write(buf)
	return err
}
