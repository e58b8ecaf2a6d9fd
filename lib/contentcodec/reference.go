// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"github.com/bureau-foundation/parley/lib/contenttype"
)

// ReferenceOf returns the ID of the message that envelope's payload
// points at, for the built-in types that point at one (reactions and
// replies). It decodes with the built-in codecs directly so that the
// result does not depend on any registry's state.
func ReferenceOf(envelope *EncodedContent) (string, bool) {
	plain, err := Decompress(envelope)
	if err != nil {
		return "", false
	}
	var c Codec
	switch plain.Type {
	case contenttype.Reaction:
		c = ReactionCodec{}
	case contenttype.ReactionV2:
		c = ReactionV2Codec{}
	case contenttype.Reply:
		// The reference is a parameter; no need to decode the nested
		// envelope.
		reference := plain.Parameter("reference")
		return reference, reference != ""
	default:
		return "", false
	}
	value, err := c.Decode(plain)
	if err != nil {
		return "", false
	}
	return value.(Reaction).Reference, true
}
