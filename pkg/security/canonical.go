// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"bytes"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
)

// SignatureField is the member excluded from the signed bytes.
const SignatureField = "signature"

// Canonicalize returns the RFC 8785 form of a JSON object body with the
// signature member removed. Members unknown to this version are kept, so a
// signature covers everything the sender put on the wire.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, errors.New(errors.CodeMalformedMessage, "canonicalize: body is not a JSON object", err)
	}
	delete(body, SignatureField)
	stripped, err := json.Marshal(body)
	if err != nil {
		return nil, errors.New(errors.CodeMalformedMessage, "canonicalize: re-encode", err)
	}
	out, err := jcs.Transform(stripped)
	if err != nil {
		return nil, errors.New(errors.CodeMalformedMessage, "canonicalize: jcs transform", err)
	}
	return out, nil
}

// CanonicalRequest returns the signed bytes of req.
func CanonicalRequest(req *message.Request) ([]byte, error) {
	unsigned := *req
	unsigned.Signature = ""
	raw, err := message.Encode(&unsigned)
	if err != nil {
		return nil, err
	}
	return Canonicalize(raw)
}
