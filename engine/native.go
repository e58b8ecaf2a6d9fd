// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"

	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/lib/contenttype"
)

// envelopeFacts are the fields the engine reads out of an envelope so
// that filters and reaction grouping never parse envelopes.
type envelopeFacts struct {
	contentType string
	referenceID string
}

func inspectEnvelope(envelope []byte) (envelopeFacts, error) {
	parsed, err := contentcodec.Unmarshal(envelope)
	if err != nil {
		return envelopeFacts{}, err
	}
	facts := envelopeFacts{contentType: parsed.Type.Key()}
	if reference, ok := contentcodec.ReferenceOf(parsed); ok {
		facts.referenceID = reference
	}
	return facts, nil
}

// textEnvelope builds the envelope for the plain text shorthand.
func textEnvelope(text string) ([]byte, error) {
	encoded, err := contentcodec.TextCodec{}.Encode(text)
	if err != nil {
		return nil, err
	}
	return contentcodec.Marshal(encoded)
}

// nativeContent renders built-in text and reaction payloads as JSON.
// Other types, and envelopes that fail to decode, have no rendering.
func nativeContent(envelope []byte) json.RawMessage {
	parsed, err := contentcodec.Unmarshal(envelope)
	if err != nil {
		return nil
	}
	plain, err := contentcodec.Decompress(parsed)
	if err != nil {
		return nil
	}
	var native contentcodec.Codec
	switch plain.Type {
	case contenttype.Text:
		native = contentcodec.TextCodec{}
	case contenttype.Reaction:
		native = contentcodec.ReactionCodec{}
	case contenttype.ReactionV2:
		native = contentcodec.ReactionV2Codec{}
	default:
		return nil
	}
	value, err := native.Decode(plain)
	if err != nil {
		return nil
	}
	rendered, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return rendered
}
