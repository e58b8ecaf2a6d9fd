// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"fmt"

	"github.com/bureau-foundation/parley/lib/contenttype"
)

// ReadReceipt marks a conversation as read up to the receipt's sent
// time. It carries no payload.
type ReadReceipt struct{}

// ReadReceiptCodec encodes ReadReceipt as an empty payload. Receipts
// have no fallback and never push.
type ReadReceiptCodec struct{}

var (
	_ Codec            = ReadReceiptCodec{}
	_ FallbackProvider = ReadReceiptCodec{}
	_ PushPolicy       = ReadReceiptCodec{}
)

func (ReadReceiptCodec) ContentType() contenttype.ID { return contenttype.ReadReceipt }

func (ReadReceiptCodec) Encode(content any) (*EncodedContent, error) {
	switch content.(type) {
	case ReadReceipt, *ReadReceipt, nil:
	default:
		return nil, unexpected(contenttype.ReadReceipt, content)
	}
	return &EncodedContent{Type: contenttype.ReadReceipt, Content: []byte{}}, nil
}

func (ReadReceiptCodec) Decode(encoded *EncodedContent) (any, error) {
	if len(encoded.Content) != 0 {
		return nil, fmt.Errorf("read receipt has %d bytes of unexpected content", len(encoded.Content))
	}
	return ReadReceipt{}, nil
}

func (ReadReceiptCodec) Fallback(any) (string, bool) { return "", false }

func (ReadReceiptCodec) ShouldPush(any) bool { return false }
