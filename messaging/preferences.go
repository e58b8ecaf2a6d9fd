// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/streaming"
)

// Preferences reads and writes consent. The engine is authoritative;
// nothing here is cached.
type Preferences struct {
	client *Client
}

// ConsentList returns every consent record the installation holds.
func (p *Preferences) ConsentList(ctx context.Context) ([]bridge.ConsentRecord, error) {
	if err := p.client.check(); err != nil {
		return nil, err
	}
	records, err := p.client.bridge.ConsentList(ctx, p.client.installation.ID)
	if err != nil {
		return nil, fmt.Errorf("messaging: consent list: %w", err)
	}
	return records, nil
}

// SetConsent writes records. Changes reach the inbox's other
// installations through its preference stream.
func (p *Preferences) SetConsent(ctx context.Context, records ...bridge.ConsentRecord) error {
	if err := p.client.check(); err != nil {
		return err
	}
	if err := p.client.bridge.SetConsent(ctx, p.client.installation.ID, records); err != nil {
		return fmt.Errorf("messaging: setting consent: %w", err)
	}
	return nil
}

// ConversationConsentState reads the consent state of a conversation.
func (p *Preferences) ConversationConsentState(ctx context.Context, conversationID string) (bridge.ConsentState, error) {
	return p.consentState(ctx, bridge.ConsentEntityConversation, conversationID)
}

// InboxConsentState reads the consent state of an inbox.
func (p *Preferences) InboxConsentState(ctx context.Context, inboxID string) (bridge.ConsentState, error) {
	return p.consentState(ctx, bridge.ConsentEntityInbox, inboxID)
}

func (p *Preferences) consentState(ctx context.Context, entityType bridge.ConsentEntityType, entity string) (bridge.ConsentState, error) {
	if err := p.client.check(); err != nil {
		return "", err
	}
	state, err := p.client.bridge.ConsentState(ctx, p.client.installation.ID, entityType, entity)
	if err != nil {
		return "", fmt.Errorf("messaging: consent state of %s %s: %w", entityType, entity, err)
	}
	return state, nil
}

// StreamConsent calls callback with each batch of consent changes.
func (p *Preferences) StreamConsent(ctx context.Context, callback func([]bridge.ConsentRecord), onClose func(error)) (*streaming.Subscription, error) {
	scope := streaming.Scope{Kind: bridge.StreamConsent}
	return p.client.stream(ctx, scope, func(event bridge.Event) {
		if len(event.Consent) > 0 {
			callback(event.Consent)
		}
	}, onClose)
}

// StreamPreferenceUpdates calls callback with each preference update.
func (p *Preferences) StreamPreferenceUpdates(ctx context.Context, callback func(bridge.PreferenceUpdate), onClose func(error)) (*streaming.Subscription, error) {
	scope := streaming.Scope{Kind: bridge.StreamPreferences}
	return p.client.stream(ctx, scope, func(event bridge.Event) {
		if event.Preference != nil {
			callback(*event.Preference)
		}
	}, onClose)
}
