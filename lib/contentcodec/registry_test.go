// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"errors"
	"strconv"
	"testing"

	"github.com/bureau-foundation/parley/lib/contenttype"
)

var numberType = contenttype.ID{AuthorityID: "example.com", TypeID: "number", VersionMajor: 1}

// numberCodec encodes an int as decimal text. The tag field lets tests
// tell two registrations of the same type apart.
type numberCodec struct {
	tag      string
	fallback *string
}

func (numberCodec) ContentType() contenttype.ID { return numberType }

func (c numberCodec) Encode(content any) (*EncodedContent, error) {
	n, ok := content.(int)
	if !ok {
		return nil, unexpected(numberType, content)
	}
	return &EncodedContent{
		Type:       numberType,
		Parameters: map[string]string{"tag": c.tag},
		Content:    []byte(strconv.Itoa(n)),
	}, nil
}

func (c numberCodec) Decode(encoded *EncodedContent) (any, error) {
	return strconv.Atoi(string(encoded.Content))
}

func (c numberCodec) Fallback(any) (string, bool) {
	if c.fallback == nil {
		return "", false
	}
	return *c.fallback, true
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	registry := NewRegistry()
	registry.Register(numberCodec{tag: "first"})
	registry.Register(numberCodec{tag: "second"})

	found, err := registry.Find(numberType.Key())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if tag := found.(numberCodec).tag; tag != "second" {
		t.Errorf("Find returned codec %q, want %q", tag, "second")
	}
	if got := len(registry.ContentTypes()); got != 1 {
		t.Errorf("ContentTypes has %d entries, want 1", got)
	}
}

func TestRegistryFindMiss(t *testing.T) {
	registry := NewDefaultRegistry()
	_, err := registry.Find("example.com/missing:1.0")
	if !errors.Is(err, ErrCodecNotFound) {
		t.Fatalf("Find error = %v, want ErrCodecNotFound", err)
	}
}

func TestRegistryLookupIsVersionStrict(t *testing.T) {
	registry := NewRegistry(numberCodec{})
	if _, err := registry.FindFor(numberType.WithVersion(1, 1)); !errors.Is(err, ErrCodecNotFound) {
		t.Errorf("FindFor(1.1) error = %v, want ErrCodecNotFound", err)
	}
	if _, err := registry.FindFor(numberType); err != nil {
		t.Errorf("FindFor(1.0): %v", err)
	}
}

func TestDefaultRegistryDecodesText(t *testing.T) {
	registry := NewDefaultRegistry()
	envelope, err := registry.Encode(contenttype.Text, "hello, world")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	value, err := registry.Decode(envelope)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if value != "hello, world" {
		t.Errorf("Decode = %v, want %q", value, "hello, world")
	}
}

func TestRegistryEncodeUnregistered(t *testing.T) {
	registry := NewDefaultRegistry()
	_, err := registry.Encode(numberType, 7)
	if !errors.Is(err, ErrNoCodecRegistered) {
		t.Fatalf("Encode error = %v, want ErrNoCodecRegistered", err)
	}
}

func TestRegistryDecodeFallback(t *testing.T) {
	empty := ""
	described := "a number"

	tests := []struct {
		name         string
		fallback     *string
		wantValue    any
		wantNotFound bool
	}{
		{name: "absent fallback", fallback: nil, wantNotFound: true},
		{name: "empty fallback", fallback: &empty, wantValue: ""},
		{name: "text fallback", fallback: &described, wantValue: "a number"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sender := NewRegistry(numberCodec{fallback: test.fallback})
			envelope, err := sender.Encode(numberType, 42)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			// Round trip through the wire so the pointer state is
			// proven to survive serialization.
			data, err := Marshal(envelope)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			received, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}

			receiver := NewDefaultRegistry()
			value, err := receiver.Decode(received)
			if test.wantNotFound {
				if !errors.Is(err, ErrContentNotDecodable) {
					t.Fatalf("Decode = %v, %v; want ErrContentNotDecodable", value, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if value != test.wantValue {
				t.Errorf("Decode = %#v, want %#v", value, test.wantValue)
			}

			// The registered sender still decodes the real value.
			original, err := sender.Decode(received)
			if err != nil {
				t.Fatalf("sender Decode: %v", err)
			}
			if original != 42 {
				t.Errorf("sender Decode = %v, want 42", original)
			}
		})
	}
}

func TestRegistryUnregisterAndClone(t *testing.T) {
	registry := NewRegistry(numberCodec{})
	clone := registry.Clone()

	if !registry.Unregister(numberType) {
		t.Fatal("Unregister reported no codec")
	}
	if registry.Unregister(numberType) {
		t.Error("second Unregister reported a codec")
	}
	if _, err := registry.FindFor(numberType); !errors.Is(err, ErrCodecNotFound) {
		t.Errorf("FindFor after Unregister: %v", err)
	}
	if _, err := clone.FindFor(numberType); err != nil {
		t.Errorf("clone lost codec after original Unregister: %v", err)
	}
}

func TestContentTypesSorted(t *testing.T) {
	ids := NewDefaultRegistry().ContentTypes()
	if len(ids) != len(DefaultCodecs()) {
		t.Fatalf("ContentTypes has %d entries, want %d", len(ids), len(DefaultCodecs()))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1].Key() >= ids[i].Key() {
			t.Errorf("ContentTypes not sorted: %s before %s", ids[i-1], ids[i])
		}
	}
}

func TestTyped(t *testing.T) {
	registry := NewDefaultRegistry()
	envelope, err := registry.Encode(contenttype.Text, "gm")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	text, err := Typed[string](registry.Decode(envelope))
	if err != nil || text != "gm" {
		t.Fatalf("Typed[string] = %q, %v", text, err)
	}
	if _, err := Typed[Reaction](registry.Decode(envelope)); !errors.Is(err, ErrUnexpectedContent) {
		t.Errorf("Typed[Reaction] error = %v, want ErrUnexpectedContent", err)
	}
}
