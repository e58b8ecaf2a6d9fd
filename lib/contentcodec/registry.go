// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/parley/lib/contenttype"
)

// Registry maps content type keys to codecs. It is safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a registry holding codecs, registered in order.
func NewRegistry(codecs ...Codec) *Registry {
	registry := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		registry.Register(c)
	}
	return registry
}

// DefaultCodecs returns fresh instances of every built-in codec.
func DefaultCodecs() []Codec {
	return []Codec{
		TextCodec{},
		ReactionCodec{},
		ReactionV2Codec{},
		ReadReceiptCodec{},
		AttachmentCodec{},
		RemoteAttachmentCodec{},
		GroupUpdatedCodec{},
		ReplyCodec{},
	}
}

// NewDefaultRegistry returns a registry preloaded with the built-in
// codecs followed by extra.
func NewDefaultRegistry(extra ...Codec) *Registry {
	return NewRegistry(append(DefaultCodecs(), extra...)...)
}

// Register stores c under its content type key, replacing any codec
// already registered there.
func (r *Registry) Register(c Codec) {
	key := c.ContentType().Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[key] = c
}

// Unregister removes the codec for id. It reports whether one was
// registered.
func (r *Registry) Unregister(id contenttype.ID) bool {
	key := id.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.codecs[key]
	delete(r.codecs, key)
	return ok
}

// Find returns the codec registered under key. A miss returns an error
// wrapping ErrCodecNotFound.
func (r *Registry) Find(key string) (Codec, error) {
	r.mu.RLock()
	c, ok := r.codecs[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCodecNotFound, key)
	}
	return c, nil
}

// FindFor is Find keyed by identity.
func (r *Registry) FindFor(id contenttype.ID) (Codec, error) {
	return r.Find(id.Key())
}

// ContentTypes returns the registered identities sorted by key.
func (r *Registry) ContentTypes() []contenttype.ID {
	r.mu.RLock()
	keys := slices.Sorted(maps.Keys(r.codecs))
	ids := make([]contenttype.ID, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, r.codecs[key].ContentType())
	}
	r.mu.RUnlock()
	return ids
}

// Clone returns an independent registry with the same codecs.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Registry{codecs: maps.Clone(r.codecs)}
}

// Encode encodes content with the codec registered for id. A miss
// returns an error wrapping ErrNoCodecRegistered.
func (r *Registry) Encode(id contenttype.ID, content any) (*EncodedContent, error) {
	c, err := r.FindFor(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCodecRegistered, id)
	}
	return EncodeContent(c, content)
}

// Decode resolves the envelope's codec and decodes it. When no codec
// is registered the envelope's fallback text is returned instead,
// including an explicit empty fallback. With neither, the error wraps
// ErrContentNotDecodable. Compressed envelopes are decompressed before
// the codec sees them.
func (r *Registry) Decode(envelope *EncodedContent) (any, error) {
	c, err := r.FindFor(envelope.Type)
	if err != nil {
		if envelope.Fallback != nil {
			return *envelope.Fallback, nil
		}
		return nil, fmt.Errorf("%w: %s has no codec and no fallback", ErrContentNotDecodable, envelope.Type)
	}
	plain, err := Decompress(envelope)
	if err != nil {
		return nil, err
	}
	value, err := c.Decode(plain)
	if err != nil {
		return nil, fmt.Errorf("contentcodec: decode %s: %w", envelope.Type, err)
	}
	return value, nil
}
