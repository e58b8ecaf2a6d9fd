// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/parley/lib/codec"
	"github.com/bureau-foundation/parley/lib/contenttype"
)

// ReactionAction says whether a reaction is being added or withdrawn.
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

// ReactionSchema says how Reaction.Content is interpreted.
type ReactionSchema string

const (
	// SchemaUnicode: Content is an emoji or other Unicode text.
	SchemaUnicode ReactionSchema = "unicode"
	// SchemaShortcode: Content is a shortcode like ":thumbsup:".
	SchemaShortcode ReactionSchema = "shortcode"
	// SchemaCustom: Content is application-defined.
	SchemaCustom ReactionSchema = "custom"
)

// Reaction reacts to an earlier message in the same conversation.
type Reaction struct {
	// Reference is the ID of the message being reacted to.
	Reference string `json:"reference"`
	// ReferenceInboxID is the sender of the referenced message.
	ReferenceInboxID string         `json:"referenceInboxId,omitempty"`
	Action           ReactionAction `json:"action"`
	Content          string         `json:"content"`
	Schema           ReactionSchema `json:"schema"`
}

// Validate checks that the reaction names a message and uses a known
// action and schema.
func (r Reaction) Validate() error {
	if r.Reference == "" {
		return fmt.Errorf("reaction has no reference")
	}
	switch r.Action {
	case ReactionAdded, ReactionRemoved:
	default:
		return fmt.Errorf("unknown reaction action %q", r.Action)
	}
	switch r.Schema {
	case SchemaUnicode, SchemaShortcode, SchemaCustom:
	default:
		return fmt.Errorf("unknown reaction schema %q", r.Schema)
	}
	return nil
}

func reactionFrom(id contenttype.ID, content any) (Reaction, error) {
	var reaction Reaction
	switch value := content.(type) {
	case Reaction:
		reaction = value
	case *Reaction:
		if value == nil {
			return Reaction{}, unexpected(id, content)
		}
		reaction = *value
	default:
		return Reaction{}, unexpected(id, content)
	}
	return reaction, reaction.Validate()
}

func reactionFallback(content any) (string, bool) {
	reaction, err := reactionFrom(contenttype.Reaction, content)
	if err != nil {
		return "", false
	}
	if reaction.Action == ReactionRemoved {
		return fmt.Sprintf("Removed %q from an earlier message", reaction.Content), true
	}
	return fmt.Sprintf("Reacted %q to an earlier message", reaction.Content), true
}

func reactionShouldPush(content any) bool {
	reaction, err := reactionFrom(contenttype.Reaction, content)
	return err == nil && reaction.Action == ReactionAdded
}

// ReactionCodec is reaction 1.0: the reaction as a JSON object. It also
// decodes the legacy form that kept reference, action, and schema in
// the parameters with only the emoji in the content.
type ReactionCodec struct{}

var (
	_ Codec            = ReactionCodec{}
	_ FallbackProvider = ReactionCodec{}
	_ PushPolicy       = ReactionCodec{}
)

func (ReactionCodec) ContentType() contenttype.ID { return contenttype.Reaction }

func (ReactionCodec) Encode(content any) (*EncodedContent, error) {
	reaction, err := reactionFrom(contenttype.Reaction, content)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(reaction)
	if err != nil {
		return nil, err
	}
	return &EncodedContent{Type: contenttype.Reaction, Content: data}, nil
}

func (ReactionCodec) Decode(encoded *EncodedContent) (any, error) {
	if reference := encoded.Parameter("reference"); reference != "" {
		reaction := Reaction{
			Reference:        reference,
			ReferenceInboxID: encoded.Parameter("referenceInboxId"),
			Action:           ReactionAction(encoded.Parameter("action")),
			Schema:           ReactionSchema(encoded.Parameter("schema")),
			Content:          string(encoded.Content),
		}
		return reaction, reaction.Validate()
	}
	var reaction Reaction
	if err := json.Unmarshal(encoded.Content, &reaction); err != nil {
		return nil, fmt.Errorf("parsing reaction: %w", err)
	}
	return reaction, reaction.Validate()
}

func (ReactionCodec) Fallback(content any) (string, bool) { return reactionFallback(content) }

func (ReactionCodec) ShouldPush(content any) bool { return reactionShouldPush(content) }

// ReactionV2Codec is reaction 2.0: the same fields in deterministic
// CBOR.
type ReactionV2Codec struct{}

var (
	_ Codec            = ReactionV2Codec{}
	_ FallbackProvider = ReactionV2Codec{}
	_ PushPolicy       = ReactionV2Codec{}
)

func (ReactionV2Codec) ContentType() contenttype.ID { return contenttype.ReactionV2 }

func (ReactionV2Codec) Encode(content any) (*EncodedContent, error) {
	reaction, err := reactionFrom(contenttype.ReactionV2, content)
	if err != nil {
		return nil, err
	}
	data, err := codec.Marshal(reaction)
	if err != nil {
		return nil, err
	}
	return &EncodedContent{Type: contenttype.ReactionV2, Content: data}, nil
}

func (ReactionV2Codec) Decode(encoded *EncodedContent) (any, error) {
	var reaction Reaction
	if err := codec.Unmarshal(encoded.Content, &reaction); err != nil {
		return nil, fmt.Errorf("parsing reaction: %w", err)
	}
	return reaction, reaction.Validate()
}

func (ReactionV2Codec) Fallback(content any) (string, bool) { return reactionFallback(content) }

func (ReactionV2Codec) ShouldPush(content any) bool { return reactionShouldPush(content) }
