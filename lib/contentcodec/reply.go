// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"fmt"

	"github.com/bureau-foundation/parley/lib/contenttype"
)

// Reply answers an earlier message with nested content of any type.
// The nested content stays encoded; decode it with the same registry
// that decoded the reply.
type Reply struct {
	Reference        string
	ReferenceInboxID string
	Content          *EncodedContent
}

// ReplyCodec puts the reference in parameters and the nested envelope's
// wire bytes in content.
type ReplyCodec struct{}

var (
	_ Codec            = ReplyCodec{}
	_ FallbackProvider = ReplyCodec{}
)

func (ReplyCodec) ContentType() contenttype.ID { return contenttype.Reply }

func (ReplyCodec) Encode(content any) (*EncodedContent, error) {
	reply, ok := replyFrom(content)
	if !ok {
		return nil, unexpected(contenttype.Reply, content)
	}
	if reply.Reference == "" {
		return nil, fmt.Errorf("reply has no reference")
	}
	if reply.Content == nil {
		return nil, fmt.Errorf("reply has no content")
	}
	inner, err := Marshal(reply.Content)
	if err != nil {
		return nil, err
	}
	envelope := &EncodedContent{
		Type:       contenttype.Reply,
		Parameters: map[string]string{"reference": reply.Reference},
		Content:    inner,
	}
	if reply.ReferenceInboxID != "" {
		envelope.SetParameter("referenceInboxId", reply.ReferenceInboxID)
	}
	return envelope, nil
}

func (ReplyCodec) Decode(encoded *EncodedContent) (any, error) {
	reference := encoded.Parameter("reference")
	if reference == "" {
		return nil, fmt.Errorf("reply has no reference parameter")
	}
	inner, err := Unmarshal(encoded.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing reply content: %w", err)
	}
	return Reply{
		Reference:        reference,
		ReferenceInboxID: encoded.Parameter("referenceInboxId"),
		Content:          inner,
	}, nil
}

func (ReplyCodec) Fallback(content any) (string, bool) {
	reply, ok := replyFrom(content)
	if !ok || reply.Content == nil {
		return "", false
	}
	if reply.Content.Fallback != nil {
		return fmt.Sprintf("Replied with %q to an earlier message", *reply.Content.Fallback), true
	}
	if reply.Content.Type == contenttype.Text {
		return fmt.Sprintf("Replied with %q to an earlier message", reply.Content.Content), true
	}
	return "Replied to an earlier message", true
}

func replyFrom(content any) (Reply, bool) {
	switch value := content.(type) {
	case Reply:
		return value, true
	case *Reply:
		if value != nil {
			return *value, true
		}
	}
	return Reply{}, false
}
