// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"fmt"

	"github.com/bureau-foundation/parley/lib/codec"
	"github.com/bureau-foundation/parley/lib/contenttype"
)

// GroupUpdated records a change to a group's membership or metadata.
// The engine emits these into the conversation itself, so they appear
// in history alongside ordinary messages.
type GroupUpdated struct {
	InitiatedByInboxID   string                `cbor:"initiated_by"`
	AddedInboxes         []string              `cbor:"added,omitempty"`
	RemovedInboxes       []string              `cbor:"removed,omitempty"`
	MetadataFieldChanges []MetadataFieldChange `cbor:"metadata,omitempty"`
}

// MetadataFieldChange is one group metadata field's old and new value.
type MetadataFieldChange struct {
	FieldName string `cbor:"field"`
	OldValue  string `cbor:"old,omitempty"`
	NewValue  string `cbor:"new,omitempty"`
}

// GroupUpdatedCodec encodes GroupUpdated as CBOR. Updates have no
// fallback and do not push.
type GroupUpdatedCodec struct{}

var (
	_ Codec            = GroupUpdatedCodec{}
	_ FallbackProvider = GroupUpdatedCodec{}
	_ PushPolicy       = GroupUpdatedCodec{}
)

func (GroupUpdatedCodec) ContentType() contenttype.ID { return contenttype.GroupUpdated }

func (GroupUpdatedCodec) Encode(content any) (*EncodedContent, error) {
	var update GroupUpdated
	switch value := content.(type) {
	case GroupUpdated:
		update = value
	case *GroupUpdated:
		if value == nil {
			return nil, unexpected(contenttype.GroupUpdated, content)
		}
		update = *value
	default:
		return nil, unexpected(contenttype.GroupUpdated, content)
	}
	data, err := codec.Marshal(update)
	if err != nil {
		return nil, err
	}
	return &EncodedContent{Type: contenttype.GroupUpdated, Content: data}, nil
}

func (GroupUpdatedCodec) Decode(encoded *EncodedContent) (any, error) {
	var update GroupUpdated
	if err := codec.Unmarshal(encoded.Content, &update); err != nil {
		return nil, fmt.Errorf("parsing group update: %w", err)
	}
	return update, nil
}

func (GroupUpdatedCodec) Fallback(any) (string, bool) { return "", false }

func (GroupUpdatedCodec) ShouldPush(any) bool { return false }
