// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bureau-foundation/parley/lib/contenttype"
)

func TestBuiltinRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		id      contenttype.ID
		content any
	}{
		{"text", contenttype.Text, "hello, world"},
		{"empty text", contenttype.Text, ""},
		{"reaction added", contenttype.Reaction, Reaction{
			Reference: "m1", ReferenceInboxID: "inbox-a", Action: ReactionAdded, Schema: SchemaUnicode, Content: "👍",
		}},
		{"reaction removed", contenttype.Reaction, Reaction{
			Reference: "m1", Action: ReactionRemoved, Schema: SchemaShortcode, Content: ":thumbsup:",
		}},
		{"reaction v2", contenttype.ReactionV2, Reaction{
			Reference: "m2", Action: ReactionAdded, Schema: SchemaCustom, Content: "party",
		}},
		{"read receipt", contenttype.ReadReceipt, ReadReceipt{}},
		{"attachment", contenttype.Attachment, Attachment{
			Filename: "notes.txt", MimeType: "text/plain", Data: []byte("gm"),
		}},
		{"remote attachment", contenttype.RemoteAttachment, RemoteAttachment{
			URL:           "https://files.example.com/abc",
			ContentDigest: "00ff",
			Secret:        []byte{1, 2, 3},
			Salt:          []byte{4, 5, 6},
			Nonce:         []byte{7, 8, 9},
			Scheme:        "https://",
			ContentLength: 2048,
			Filename:      "photo.png",
		}},
		{"group updated", contenttype.GroupUpdated, GroupUpdated{
			InitiatedByInboxID: "inbox-a",
			AddedInboxes:       []string{"inbox-b", "inbox-c"},
			MetadataFieldChanges: []MetadataFieldChange{
				{FieldName: "group_name", OldValue: "", NewValue: "crew"},
			},
		}},
	}

	registry := NewDefaultRegistry()
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			envelope, err := registry.Encode(test.id, test.content)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if envelope.Type != test.id {
				t.Errorf("envelope Type = %s, want %s", envelope.Type, test.id)
			}

			data, err := Marshal(envelope)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			received, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}

			decoded, err := registry.Decode(received)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(decoded, test.content) {
				t.Errorf("round trip = %#v, want %#v", decoded, test.content)
			}
		})
	}
}

func TestReplyRoundTrip(t *testing.T) {
	registry := NewDefaultRegistry()
	inner, err := registry.Encode(contenttype.Text, "agreed")
	if err != nil {
		t.Fatalf("Encode inner: %v", err)
	}
	envelope, err := registry.Encode(contenttype.Reply, Reply{Reference: "m9", ReferenceInboxID: "inbox-b", Content: inner})
	if err != nil {
		t.Fatalf("Encode reply: %v", err)
	}
	if envelope.Fallback == nil || *envelope.Fallback != `Replied with "agreed" to an earlier message` {
		t.Errorf("reply fallback = %v", envelope.Fallback)
	}

	reply, err := Typed[Reply](registry.Decode(envelope))
	if err != nil {
		t.Fatalf("Decode reply: %v", err)
	}
	if reply.Reference != "m9" || reply.ReferenceInboxID != "inbox-b" {
		t.Errorf("reply reference = %q/%q", reply.Reference, reply.ReferenceInboxID)
	}
	text, err := Typed[string](registry.Decode(reply.Content))
	if err != nil || text != "agreed" {
		t.Errorf("nested content = %q, %v", text, err)
	}

	reference, ok := ReferenceOf(envelope)
	if !ok || reference != "m9" {
		t.Errorf("ReferenceOf(reply) = %q, %v", reference, ok)
	}
}

func TestReactionFallbackAndPush(t *testing.T) {
	added := Reaction{Reference: "m1", Action: ReactionAdded, Schema: SchemaUnicode, Content: "👍"}
	removed := added
	removed.Action = ReactionRemoved

	for _, c := range []Codec{ReactionCodec{}, ReactionV2Codec{}} {
		envelope, err := EncodeContent(c, added)
		if err != nil {
			t.Fatalf("%s Encode: %v", c.ContentType(), err)
		}
		if envelope.Fallback == nil || *envelope.Fallback != `Reacted "👍" to an earlier message` {
			t.Errorf("%s added fallback = %v", c.ContentType(), envelope.Fallback)
		}
		envelope, err = EncodeContent(c, removed)
		if err != nil {
			t.Fatalf("%s Encode: %v", c.ContentType(), err)
		}
		if envelope.Fallback == nil || *envelope.Fallback != `Removed "👍" from an earlier message` {
			t.Errorf("%s removed fallback = %v", c.ContentType(), envelope.Fallback)
		}
		if !ShouldPush(c, added) {
			t.Errorf("%s ShouldPush(added) = false", c.ContentType())
		}
		if ShouldPush(c, removed) {
			t.Errorf("%s ShouldPush(removed) = true", c.ContentType())
		}
		reference, ok := ReferenceOf(envelope)
		if !ok || reference != "m1" {
			t.Errorf("%s ReferenceOf = %q, %v", c.ContentType(), reference, ok)
		}
	}
}

func TestReactionRejectsInvalid(t *testing.T) {
	tests := []Reaction{
		{Action: ReactionAdded, Schema: SchemaUnicode, Content: "x"},
		{Reference: "m1", Action: "liked", Schema: SchemaUnicode},
		{Reference: "m1", Action: ReactionAdded, Schema: "emoji"},
	}
	for _, reaction := range tests {
		if _, err := (ReactionCodec{}).Encode(reaction); err == nil {
			t.Errorf("Encode(%+v) succeeded", reaction)
		}
	}
	if _, err := (ReactionCodec{}).Encode("👍"); !errors.Is(err, ErrUnexpectedContent) {
		t.Errorf("Encode(string) error = %v, want ErrUnexpectedContent", err)
	}
}

func TestLegacyReactionParameters(t *testing.T) {
	envelope := &EncodedContent{
		Type: contenttype.Reaction,
		Parameters: map[string]string{
			"reference": "m3",
			"action":    "added",
			"schema":    "unicode",
		},
		Content: []byte("🎉"),
	}
	reaction, err := Typed[Reaction](ReactionCodec{}.Decode(envelope))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if reaction.Reference != "m3" || reaction.Content != "🎉" {
		t.Errorf("legacy reaction = %+v", reaction)
	}
}

func TestNoFallbackCodecs(t *testing.T) {
	for _, test := range []struct {
		c       Codec
		content any
	}{
		{ReadReceiptCodec{}, ReadReceipt{}},
		{GroupUpdatedCodec{}, GroupUpdated{InitiatedByInboxID: "inbox-a"}},
		{TextCodec{}, "plain"},
	} {
		envelope, err := EncodeContent(test.c, test.content)
		if err != nil {
			t.Fatalf("%s Encode: %v", test.c.ContentType(), err)
		}
		if envelope.Fallback != nil {
			t.Errorf("%s Fallback = %q, want nil", test.c.ContentType(), *envelope.Fallback)
		}
	}
	if ShouldPush(ReadReceiptCodec{}, ReadReceipt{}) {
		t.Error("read receipts should not push")
	}
	if !ShouldPush(TextCodec{}, "hi") {
		t.Error("text should push")
	}
}

func TestTextRejectsOtherEncodings(t *testing.T) {
	_, err := TextCodec{}.Decode(&EncodedContent{
		Type:       contenttype.Text,
		Parameters: map[string]string{"encoding": "UTF-16"},
		Content:    []byte("x"),
	})
	if err == nil {
		t.Error("Decode accepted UTF-16 encoding parameter")
	}
}

func TestAttachmentFallback(t *testing.T) {
	envelope, err := EncodeContent(AttachmentCodec{}, Attachment{Filename: "a.pdf", MimeType: "application/pdf", Data: []byte{1}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `Can't display "a.pdf". This app doesn't support attachments.`
	if envelope.Fallback == nil || *envelope.Fallback != want {
		t.Errorf("Fallback = %v, want %q", envelope.Fallback, want)
	}
}
