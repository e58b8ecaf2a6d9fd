// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"fmt"

	"github.com/bureau-foundation/parley/lib/contenttype"
)

// Attachment is a small file carried inline in the message.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// AttachmentCodec stores the file name and MIME type in parameters and
// the file bytes as content.
type AttachmentCodec struct{}

var (
	_ Codec            = AttachmentCodec{}
	_ FallbackProvider = AttachmentCodec{}
)

func (AttachmentCodec) ContentType() contenttype.ID { return contenttype.Attachment }

func (AttachmentCodec) Encode(content any) (*EncodedContent, error) {
	attachment, ok := attachmentFrom(content)
	if !ok {
		return nil, unexpected(contenttype.Attachment, content)
	}
	if attachment.MimeType == "" {
		return nil, fmt.Errorf("attachment %q has no MIME type", attachment.Filename)
	}
	return &EncodedContent{
		Type: contenttype.Attachment,
		Parameters: map[string]string{
			"filename": attachment.Filename,
			"mimeType": attachment.MimeType,
		},
		Content: attachment.Data,
	}, nil
}

func (AttachmentCodec) Decode(encoded *EncodedContent) (any, error) {
	mimeType := encoded.Parameter("mimeType")
	if mimeType == "" {
		return nil, fmt.Errorf("attachment has no mimeType parameter")
	}
	data := encoded.Content
	if data == nil {
		data = []byte{}
	}
	return Attachment{
		Filename: encoded.Parameter("filename"),
		MimeType: mimeType,
		Data:     data,
	}, nil
}

func (AttachmentCodec) Fallback(content any) (string, bool) {
	attachment, ok := attachmentFrom(content)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Can't display %q. This app doesn't support attachments.", attachment.Filename), true
}

func attachmentFrom(content any) (Attachment, bool) {
	switch value := content.(type) {
	case Attachment:
		return value, true
	case *Attachment:
		if value != nil {
			return *value, true
		}
	}
	return Attachment{}, false
}
