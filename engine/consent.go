// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/bureau-foundation/parley/bridge"
)

func validEntityType(entityType bridge.ConsentEntityType) bool {
	return entityType == bridge.ConsentEntityConversation || entityType == bridge.ConsentEntityInbox
}

// ConsentState implements bridge.Consent. A DM without its own record
// reports the peer inbox's state.
func (e *Engine) ConsentState(ctx context.Context, installationID string, entityType bridge.ConsentEntityType, entity string) (bridge.ConsentState, error) {
	const op = "consent_state"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return "", err
	}
	if !validEntityType(entityType) {
		return "", bridge.Errorf(op, bridge.ErrorInvalidArgument, "unknown consent entity type %q", entityType)
	}
	if entityType == bridge.ConsentEntityConversation {
		stored, found, err := loaded.store.conversation(ctx, entity)
		if err != nil {
			return "", internalError(op, err)
		}
		if found {
			return stored.info.ConsentState, nil
		}
	}
	state, err := loaded.store.consent(ctx, entityType, entity)
	if err != nil {
		return "", internalError(op, err)
	}
	return state, nil
}

// SetConsent implements bridge.Consent. Changed records are synced to
// the inbox's other installations and emitted on this installation's
// consent and preference streams.
func (e *Engine) SetConsent(ctx context.Context, installationID string, records []bridge.ConsentRecord) error {
	const op = "set_consent"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return err
	}
	for _, record := range records {
		if !validEntityType(record.EntityType) || record.Entity == "" || !record.State.Valid() {
			return bridge.Errorf(op, bridge.ErrorInvalidArgument, "invalid consent record %+v", record)
		}
	}
	changed, err := loaded.store.setConsent(ctx, records, e.now())
	if err != nil {
		return internalError(op, err)
	}
	if len(changed) == 0 {
		return nil
	}
	if err := e.network.publishPreferences(ctx, loaded.inboxID, loaded.id, changed); err != nil {
		return internalError(op, err)
	}
	e.emitConsent(loaded, changed)
	return nil
}

// ConsentList implements bridge.Consent.
func (e *Engine) ConsentList(ctx context.Context, installationID string) ([]bridge.ConsentRecord, error) {
	const op = "consent_list"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return nil, err
	}
	records, err := loaded.store.consentList(ctx)
	if err != nil {
		return nil, internalError(op, err)
	}
	return records, nil
}

// syncPreferences applies preference records written by the inbox's
// other installations.
func (e *Engine) syncPreferences(ctx context.Context, loaded *installation) error {
	cursor, err := loaded.store.preferenceCursor(ctx)
	if err != nil {
		return err
	}
	preferences, err := e.network.preferencesSince(ctx, loaded.inboxID, cursor)
	if err != nil || len(preferences) == 0 {
		return err
	}
	var records []bridge.ConsentRecord
	for _, preference := range preferences {
		if preference.origin != loaded.id {
			records = append(records, preference.record)
		}
	}
	loaded.syncMu.Lock()
	changed, err := loaded.store.setConsent(ctx, records, e.now())
	if err == nil {
		err = loaded.store.advancePreferenceCursor(ctx, preferences[len(preferences)-1].seq)
	}
	loaded.syncMu.Unlock()
	if err != nil {
		return err
	}
	e.emitConsent(loaded, changed)
	return nil
}
