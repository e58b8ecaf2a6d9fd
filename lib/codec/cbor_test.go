// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bureau-foundation/parley/lib/contenttype"
)

type sampleEnvelope struct {
	Type     contenttype.ID    `cbor:"type"`
	Params   map[string]string `cbor:"params,omitempty"`
	Content  []byte            `cbor:"content"`
	Fallback *string           `cbor:"fallback,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	fallback := ""
	original := sampleEnvelope{
		Type:     contenttype.Text,
		Params:   map[string]string{"encoding": "UTF-8"},
		Content:  []byte("hello, world"),
		Fallback: &fallback,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleEnvelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Type != original.Type {
		t.Errorf("Type = %v, want %v", decoded.Type, original.Type)
	}
	if decoded.Params["encoding"] != "UTF-8" {
		t.Errorf("Params = %v, want encoding=UTF-8", decoded.Params)
	}
	if !bytes.Equal(decoded.Content, original.Content) {
		t.Errorf("Content = %q, want %q", decoded.Content, original.Content)
	}
	if decoded.Fallback == nil || *decoded.Fallback != "" {
		t.Errorf("Fallback = %v, want pointer to empty string", decoded.Fallback)
	}
}

func TestAbsentPointerStaysNil(t *testing.T) {
	data, err := Marshal(sampleEnvelope{Type: contenttype.Text, Content: []byte("x")})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sampleEnvelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Fallback != nil {
		t.Errorf("Fallback = %q, want nil", *decoded.Fallback)
	}
}

func TestIdentityEncodesAsText(t *testing.T) {
	data, err := Marshal(contenttype.ReactionV2)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if notation != `"xmtp.org/reaction:2.0"` {
		t.Errorf("notation = %s, want the canonical string", notation)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"zeta": 1, "alpha": "a", "mid": []byte{1, 2}}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestDecodeIntoAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"action": "added"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["action"] != "added" {
		t.Errorf("action = %v, want added", asMap["action"])
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var decoded sampleEnvelope
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &decoded); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"schema": "unicode"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"schema"`) || !strings.Contains(notation, `"unicode"`) {
		t.Errorf("notation %q missing schema/unicode", notation)
	}
}
