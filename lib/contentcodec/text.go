// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/parley/lib/contenttype"
)

// TextCodec carries plain UTF-8 text as a string.
type TextCodec struct{}

var _ Codec = TextCodec{}

func (TextCodec) ContentType() contenttype.ID { return contenttype.Text }

func (TextCodec) Encode(content any) (*EncodedContent, error) {
	text, ok := content.(string)
	if !ok {
		return nil, unexpected(contenttype.Text, content)
	}
	return &EncodedContent{
		Type:       contenttype.Text,
		Parameters: map[string]string{"encoding": "UTF-8"},
		Content:    []byte(text),
	}, nil
}

func (TextCodec) Decode(encoded *EncodedContent) (any, error) {
	if encoding := encoded.Parameter("encoding"); encoding != "" && !strings.EqualFold(encoding, "UTF-8") {
		return nil, fmt.Errorf("unrecognized text encoding %q", encoding)
	}
	if !utf8.Valid(encoded.Content) {
		return nil, fmt.Errorf("text content is not valid UTF-8")
	}
	return string(encoded.Content), nil
}
