// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"slices"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/sealed"
	"github.com/bureau-foundation/parley/lib/secret"
	"github.com/bureau-foundation/parley/lib/sqlitepool"
)

var installationSchema = []string{`
CREATE TABLE identity (
	singleton          INTEGER PRIMARY KEY CHECK (singleton = 1),
	installation_id    TEXT NOT NULL,
	inbox_id           TEXT NOT NULL,
	public_key         TEXT NOT NULL,
	sealed_private_key BLOB NOT NULL,
	preference_seq     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE conversations (
	conversation_id  TEXT PRIMARY KEY,
	topic            TEXT NOT NULL,
	kind             TEXT NOT NULL,
	creator_inbox_id TEXT NOT NULL,
	created_at_ns    INTEGER NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	peer_inbox_id    TEXT NOT NULL DEFAULT '',
	synced_seq       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE messages (
	message_id             TEXT PRIMARY KEY,
	conversation_id        TEXT NOT NULL REFERENCES conversations (conversation_id),
	sender_inbox_id        TEXT NOT NULL,
	sender_installation_id TEXT NOT NULL,
	sent_at_ns             INTEGER NOT NULL,
	inserted_at_ns         INTEGER NOT NULL,
	delivery_status        TEXT NOT NULL,
	content_type           TEXT NOT NULL,
	reference_id           TEXT NOT NULL DEFAULT '',
	sealed_envelope        BLOB NOT NULL
);
CREATE INDEX messages_by_sent ON messages (conversation_id, sent_at_ns);
CREATE INDEX messages_by_reference ON messages (reference_id);

CREATE TABLE consent (
	entity_type   TEXT NOT NULL,
	entity        TEXT NOT NULL,
	state         TEXT NOT NULL,
	updated_at_ns INTEGER NOT NULL,
	PRIMARY KEY (entity_type, entity)
);
`}

// store is one installation's local database plus the unsealed
// identity that opens its envelopes.
type store struct {
	pool       *sqlitepool.Pool
	publicKey  string
	privateKey *secret.Buffer
}

// storedMessage is a messages row with its envelope still sealed.
type storedMessage struct {
	bridge.EncodedMessage
	sealedEnvelope []byte
}

type identityRow struct {
	installationID   string
	inboxID          string
	publicKey        string
	sealedPrivateKey []byte
	preferenceSeq    int64
}

var errNoIdentity = errors.New("installation database has no identity")

func (s *store) close() error {
	err := s.pool.Close()
	if s.privateKey != nil {
		s.privateKey.Close()
	}
	return err
}

func writeIdentity(ctx context.Context, pool *sqlitepool.Pool, row identityRow) error {
	return pool.Tx(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO identity
			(singleton, installation_id, inbox_id, public_key, sealed_private_key) VALUES (1, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{row.installationID, row.inboxID, row.publicKey, row.sealedPrivateKey}})
	})
}

func readIdentity(ctx context.Context, pool *sqlitepool.Pool) (identityRow, error) {
	var row identityRow
	found := false
	err := pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT installation_id, inbox_id, public_key, sealed_private_key, preference_seq
			FROM identity WHERE singleton = 1`,
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				row = identityRow{
					installationID:   stmt.ColumnText(0),
					inboxID:          stmt.ColumnText(1),
					publicKey:        stmt.ColumnText(2),
					sealedPrivateKey: columnBlob(stmt, 3),
					preferenceSeq:    stmt.ColumnInt64(4),
				}
				found = true
				return nil
			}})
	})
	if err == nil && !found {
		err = errNoIdentity
	}
	return row, err
}

func (s *store) seal(envelope []byte) ([]byte, error) {
	return sealed.Encrypt(envelope, s.publicKey)
}

func (s *store) open(sealedEnvelope []byte) ([]byte, error) {
	return sealed.Decrypt(sealedEnvelope, s.privateKey)
}

// Conversations.

type storedConversation struct {
	info      bridge.ConversationInfo
	syncedSeq int64
}

const storedConversationColumns = `c.conversation_id, c.topic, c.kind, c.creator_inbox_id, c.created_at_ns,
	c.name, c.description, c.peer_inbox_id, c.synced_seq,
	coalesce(cc.state, ''), coalesce(ic.state, '')`

const storedConversationJoins = `conversations c
	LEFT JOIN consent cc ON cc.entity_type = 'conversation_id' AND cc.entity = c.conversation_id
	LEFT JOIN consent ic ON ic.entity_type = 'inbox_id' AND ic.entity = c.peer_inbox_id AND c.peer_inbox_id != ''`

func scanStoredConversation(stmt *sqlite.Stmt) storedConversation {
	info := bridge.ConversationInfo{
		ID:             stmt.ColumnText(0),
		Topic:          stmt.ColumnText(1),
		Kind:           bridge.ConversationKind(stmt.ColumnText(2)),
		CreatorInboxID: stmt.ColumnText(3),
		CreatedAtNs:    stmt.ColumnInt64(4),
		Name:           stmt.ColumnText(5),
		Description:    stmt.ColumnText(6),
		PeerInboxID:    stmt.ColumnText(7),
	}
	info.ConsentState = effectiveConsent(stmt.ColumnText(9), stmt.ColumnText(10))
	return storedConversation{info: info, syncedSeq: stmt.ColumnInt64(8)}
}

// effectiveConsent prefers an explicit conversation record; a DM with
// none inherits the peer inbox's record.
func effectiveConsent(conversation, peer string) bridge.ConsentState {
	if conversation != "" {
		return bridge.ConsentState(conversation)
	}
	if peer != "" {
		return bridge.ConsentState(peer)
	}
	return bridge.ConsentUnknown
}

func (s *store) conversation(ctx context.Context, conversationID string) (storedConversation, bool, error) {
	var result storedConversation
	found := false
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+storedConversationColumns+` FROM `+storedConversationJoins+`
			WHERE c.conversation_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{conversationID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					result, found = scanStoredConversation(stmt), true
					return nil
				},
			})
	})
	return result, found, err
}

func (s *store) listConversations(ctx context.Context, options bridge.ListConversationsOptions) ([]bridge.ConversationInfo, error) {
	var (
		where []string
		args  []any
	)
	if options.Kind != "" {
		where = append(where, "c.kind = ?")
		args = append(args, string(options.Kind))
	}
	if options.CreatedAfterNs > 0 {
		where = append(where, "c.created_at_ns > ?")
		args = append(args, options.CreatedAfterNs)
	}
	if options.CreatedBeforeNs > 0 {
		where = append(where, "c.created_at_ns < ?")
		args = append(args, options.CreatedBeforeNs)
	}
	query := `SELECT ` + storedConversationColumns + ` FROM ` + storedConversationJoins
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.created_at_ns DESC, c.conversation_id"

	var conversations []bridge.ConversationInfo
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				info := scanStoredConversation(stmt).info
				if len(options.ConsentStates) > 0 && !slices.Contains(options.ConsentStates, info.ConsentState) {
					return nil
				}
				if options.Limit > 0 && len(conversations) >= options.Limit {
					return nil
				}
				conversations = append(conversations, info)
				return nil
			},
		})
	})
	return conversations, err
}

// insertConversation records a conversation if it is new and reports
// whether it was.
func (s *store) insertConversation(ctx context.Context, info bridge.ConversationInfo) (bool, error) {
	inserted := false
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO conversations
			(conversation_id, topic, kind, creator_inbox_id, created_at_ns, name, description, peer_inbox_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				info.ID, info.Topic, string(info.Kind), info.CreatorInboxID, info.CreatedAtNs,
				info.Name, info.Description, info.PeerInboxID,
			}})
		inserted = conn.Changes() > 0
		return err
	})
	return inserted, err
}

func (s *store) deleteConversation(ctx context.Context, conversationID string) error {
	return s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM consent WHERE entity_type = 'conversation_id' AND entity = ?`,
			&sqlitex.ExecOptions{Args: []any{conversationID}})
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn, `DELETE FROM conversations WHERE conversation_id = ?`,
			&sqlitex.ExecOptions{Args: []any{conversationID}})
	})
}

func (s *store) updateMetadata(ctx context.Context, conversationID, name, description string) error {
	return s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `UPDATE conversations SET name = ?, description = ? WHERE conversation_id = ?`,
			&sqlitex.ExecOptions{Args: []any{name, description, conversationID}})
	})
}

// Messages.

const messageColumns = `message_id, conversation_id, sender_inbox_id, sender_installation_id,
	sent_at_ns, inserted_at_ns, delivery_status, content_type, reference_id, sealed_envelope`

func scanMessage(stmt *sqlite.Stmt) storedMessage {
	return storedMessage{
		EncodedMessage: bridge.EncodedMessage{
			ID:                   stmt.ColumnText(0),
			ConversationID:       stmt.ColumnText(1),
			SenderInboxID:        stmt.ColumnText(2),
			SenderInstallationID: stmt.ColumnText(3),
			SentAtNs:             stmt.ColumnInt64(4),
			InsertedAtNs:         stmt.ColumnInt64(5),
			DeliveryStatus:       bridge.DeliveryStatus(stmt.ColumnText(6)),
			ContentType:          stmt.ColumnText(7),
			ReferenceID:          stmt.ColumnText(8),
		},
		sealedEnvelope: columnBlob(stmt, 9),
	}
}

func insertMessageRow(conn *sqlite.Conn, message storedMessage) error {
	return sqlitex.Execute(conn, `INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			message.ID, message.ConversationID, message.SenderInboxID, message.SenderInstallationID,
			message.SentAtNs, message.InsertedAtNs, string(message.DeliveryStatus), message.ContentType,
			message.ReferenceID, message.sealedEnvelope,
		}})
}

func (s *store) insertMessage(ctx context.Context, message storedMessage) error {
	return s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		return insertMessageRow(conn, message)
	})
}

func (s *store) message(ctx context.Context, messageID string) (storedMessage, bool, error) {
	var result storedMessage
	found := false
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+messageColumns+` FROM messages WHERE message_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{messageID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					result, found = scanMessage(stmt), true
					return nil
				},
			})
	})
	return result, found, err
}

// staged returns the conversation's unpublished messages in staging
// order, including those whose earlier publish failed.
func (s *store) staged(ctx context.Context, conversationID string) ([]storedMessage, error) {
	var messages []storedMessage
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = ? AND delivery_status IN (?, ?) ORDER BY rowid`,
			&sqlitex.ExecOptions{
				Args: []any{conversationID, string(bridge.DeliveryUnpublished), string(bridge.DeliveryFailed)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					messages = append(messages, scanMessage(stmt))
					return nil
				},
			})
	})
	return messages, err
}

func (s *store) setDeliveryStatus(ctx context.Context, messageID string, status bridge.DeliveryStatus) error {
	return s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `UPDATE messages SET delivery_status = ? WHERE message_id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(status), messageID}})
	})
}

// ingest stores network messages that are not yet local, advances the
// conversation's sync cursor, and returns the rows it inserted. A local
// row that was still unpublished is marked published instead.
func (s *store) ingest(ctx context.Context, conversationID string, messages []storedMessage, headSeq int64) ([]storedMessage, error) {
	var inserted []storedMessage
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		inserted = inserted[:0]
		for _, message := range messages {
			var status string
			err := sqlitex.Execute(conn, `SELECT delivery_status FROM messages WHERE message_id = ?`,
				&sqlitex.ExecOptions{
					Args: []any{message.ID},
					ResultFunc: func(stmt *sqlite.Stmt) error {
						status = stmt.ColumnText(0)
						return nil
					},
				})
			if err != nil {
				return err
			}
			switch status {
			case "":
				if err := insertMessageRow(conn, message); err != nil {
					return err
				}
				inserted = append(inserted, message)
			case string(bridge.DeliveryPublished):
			default:
				err := sqlitex.Execute(conn, `UPDATE messages SET delivery_status = ? WHERE message_id = ?`,
					&sqlitex.ExecOptions{Args: []any{string(bridge.DeliveryPublished), message.ID}})
				if err != nil {
					return err
				}
			}
		}
		return sqlitex.Execute(conn, `UPDATE conversations SET synced_seq = max(synced_seq, ?) WHERE conversation_id = ?`,
			&sqlitex.ExecOptions{Args: []any{headSeq, conversationID}})
	})
	return inserted, err
}

func (s *store) fetch(ctx context.Context, conversationID string, options bridge.FetchOptions) ([]storedMessage, error) {
	where := []string{"conversation_id = ?"}
	args := []any{conversationID}
	bound := func(clause string, value int64) {
		if value > 0 {
			where = append(where, clause)
			args = append(args, value)
		}
	}
	bound("sent_at_ns > ?", options.SentAfterNs)
	bound("sent_at_ns < ?", options.SentBeforeNs)
	bound("inserted_at_ns > ?", options.InsertedAfterNs)
	bound("inserted_at_ns < ?", options.InsertedBeforeNs)
	if options.DeliveryStatus != "" {
		where = append(where, "delivery_status = ?")
		args = append(args, string(options.DeliveryStatus))
	}
	if len(options.ContentTypes) > 0 {
		where = append(where, "content_type IN ("+placeholders(len(options.ContentTypes))+")")
		args = append(args, stringArgs(options.ContentTypes)...)
	}
	if len(options.ExcludeContentTypes) > 0 {
		where = append(where, "content_type NOT IN ("+placeholders(len(options.ExcludeContentTypes))+")")
		args = append(args, stringArgs(options.ExcludeContentTypes)...)
	}
	if len(options.ExcludeSenderInboxIDs) > 0 {
		where = append(where, "sender_inbox_id NOT IN ("+placeholders(len(options.ExcludeSenderInboxIDs))+")")
		args = append(args, stringArgs(options.ExcludeSenderInboxIDs)...)
	}
	order := "DESC"
	if options.Direction == bridge.Ascending {
		order = "ASC"
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY sent_at_ns ` + order + `, message_id ` + order
	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)
	}

	var messages []storedMessage
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				messages = append(messages, scanMessage(stmt))
				return nil
			},
		})
	})
	return messages, err
}

// Consent.

func (s *store) consent(ctx context.Context, entityType bridge.ConsentEntityType, entity string) (bridge.ConsentState, error) {
	state := bridge.ConsentUnknown
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT state FROM consent WHERE entity_type = ? AND entity = ?`,
			&sqlitex.ExecOptions{
				Args: []any{string(entityType), entity},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					state = bridge.ConsentState(stmt.ColumnText(0))
					return nil
				},
			})
	})
	return state, err
}

// setConsent writes records and returns the ones that changed a stored
// state.
func (s *store) setConsent(ctx context.Context, records []bridge.ConsentRecord, nowNs int64) ([]bridge.ConsentRecord, error) {
	var changed []bridge.ConsentRecord
	err := s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		changed = changed[:0]
		for _, record := range records {
			err := sqlitex.Execute(conn, `INSERT INTO consent (entity_type, entity, state, updated_at_ns)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (entity_type, entity) DO UPDATE SET state = excluded.state, updated_at_ns = excluded.updated_at_ns
				WHERE consent.state != excluded.state`,
				&sqlitex.ExecOptions{Args: []any{string(record.EntityType), record.Entity, string(record.State), nowNs}})
			if err != nil {
				return err
			}
			if conn.Changes() > 0 {
				changed = append(changed, record)
			}
		}
		return nil
	})
	return changed, err
}

func (s *store) consentList(ctx context.Context) ([]bridge.ConsentRecord, error) {
	var records []bridge.ConsentRecord
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT entity_type, entity, state FROM consent ORDER BY entity_type, entity`,
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, bridge.ConsentRecord{
					EntityType: bridge.ConsentEntityType(stmt.ColumnText(0)),
					Entity:     stmt.ColumnText(1),
					State:      bridge.ConsentState(stmt.ColumnText(2)),
				})
				return nil
			}})
	})
	return records, err
}

func (s *store) preferenceCursor(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT preference_seq FROM identity WHERE singleton = 1`,
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				seq = stmt.ColumnInt64(0)
				return nil
			}})
	})
	return seq, err
}

func (s *store) advancePreferenceCursor(ctx context.Context, seq int64) error {
	return s.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `UPDATE identity SET preference_seq = max(preference_seq, ?) WHERE singleton = 1`,
			&sqlitex.ExecOptions{Args: []any{seq}})
	})
}
