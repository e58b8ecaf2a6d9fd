// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/sqlitepool"
)

var networkSchema = []string{`
CREATE TABLE installations (
	installation_id TEXT PRIMARY KEY,
	inbox_id        TEXT NOT NULL,
	created_at_ns   INTEGER NOT NULL
);
CREATE INDEX installations_by_inbox ON installations (inbox_id);

CREATE TABLE conversations (
	conversation_id  TEXT PRIMARY KEY,
	topic            TEXT NOT NULL,
	kind             TEXT NOT NULL,
	creator_inbox_id TEXT NOT NULL,
	created_at_ns    INTEGER NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	dm_key           TEXT UNIQUE
);

CREATE TABLE members (
	conversation_id TEXT NOT NULL REFERENCES conversations (conversation_id),
	inbox_id        TEXT NOT NULL,
	permission      TEXT NOT NULL,
	joined_seq      INTEGER NOT NULL,
	PRIMARY KEY (conversation_id, inbox_id)
);
CREATE INDEX members_by_inbox ON members (inbox_id);

CREATE TABLE messages (
	seq                    INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id             TEXT NOT NULL UNIQUE,
	conversation_id        TEXT NOT NULL REFERENCES conversations (conversation_id),
	sender_inbox_id        TEXT NOT NULL,
	sender_installation_id TEXT NOT NULL,
	sent_at_ns             INTEGER NOT NULL,
	envelope               BLOB NOT NULL
);
CREATE INDEX messages_by_conversation ON messages (conversation_id, seq);

CREATE TABLE preferences (
	seq                    INTEGER PRIMARY KEY AUTOINCREMENT,
	inbox_id               TEXT NOT NULL,
	origin_installation_id TEXT NOT NULL,
	entity_type            TEXT NOT NULL,
	entity                 TEXT NOT NULL,
	state                  TEXT NOT NULL
);
CREATE INDEX preferences_by_inbox ON preferences (inbox_id, seq);
`}

// NetworkConfig describes the relay database.
type NetworkConfig struct {
	// Path of the relay database file.
	Path   string
	Logger *slog.Logger
}

// Network is the shared relay that engines publish to and sync from.
// Safe for concurrent use.
type Network struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	watchMu  sync.Mutex
	watchID  uint64
	watchers map[uint64]func(notice)
}

type noticeKind int

const (
	noticeMessage noticeKind = iota
	noticeConversation
	noticePreference
)

// notice tells attached engines that network state changed for a set
// of inboxes.
type notice struct {
	kind           noticeKind
	conversationID string
	inboxIDs       []string
	// origin is the installation that caused the change.
	origin string
}

type networkConversation struct {
	id             string
	topic          string
	kind           bridge.ConversationKind
	creatorInboxID string
	createdAtNs    int64
	name           string
	description    string
}

type networkMember struct {
	inboxID    string
	permission bridge.PermissionLevel
	joinedSeq  int64
}

type networkMessage struct {
	seq                  int64
	id                   string
	conversationID       string
	senderInboxID        string
	senderInstallationID string
	sentAtNs             int64
	envelope             []byte
}

type networkPreference struct {
	seq    int64
	origin string
	record bridge.ConsentRecord
}

// OpenNetwork opens or creates the relay database at config.Path.
func OpenNetwork(config NetworkConfig) (*Network, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       config.Path,
		Migrations: networkSchema,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: opening network: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("engine: preparing network database: %w", err)
	}
	return &Network{pool: pool, logger: logger, watchers: make(map[uint64]func(notice))}, nil
}

// Close closes the relay database.
func (n *Network) Close() error { return n.pool.Close() }

func (n *Network) watch(fn func(notice)) (remove func()) {
	n.watchMu.Lock()
	defer n.watchMu.Unlock()
	n.watchID++
	id := n.watchID
	n.watchers[id] = fn
	return func() {
		n.watchMu.Lock()
		defer n.watchMu.Unlock()
		delete(n.watchers, id)
	}
}

// notify runs every watcher on the caller's goroutine. Callers must not
// hold a connection.
func (n *Network) notify(event notice) {
	n.watchMu.Lock()
	ids := make([]uint64, 0, len(n.watchers))
	for id := range n.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	watchers := make([]func(notice), 0, len(ids))
	for _, id := range ids {
		watchers = append(watchers, n.watchers[id])
	}
	n.watchMu.Unlock()
	for _, watcher := range watchers {
		watcher(event)
	}
}

func (n *Network) registerInstallation(ctx context.Context, installationID, inboxID string, nowNs int64) error {
	return n.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO installations (installation_id, inbox_id, created_at_ns) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{installationID, inboxID, nowNs}})
	})
}

// installationsOf maps each known inbox to its installation IDs.
// Unknown inboxes are absent from the result.
func (n *Network) installationsOf(ctx context.Context, inboxIDs []string) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(inboxIDs) == 0 {
		return result, nil
	}
	query := `SELECT inbox_id, installation_id FROM installations WHERE inbox_id IN (` +
		placeholders(len(inboxIDs)) + `) ORDER BY created_at_ns`
	err := n.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
			Args: stringArgs(inboxIDs),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				inbox := stmt.ColumnText(0)
				result[inbox] = append(result[inbox], stmt.ColumnText(1))
				return nil
			},
		})
	})
	return result, err
}

// createConversation inserts a conversation and its initial members.
// For a DM, dmKey identifies the pair and must be unique.
func (n *Network) createConversation(ctx context.Context, conversation networkConversation, dmKey string, members []networkMember) error {
	err := n.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		var key any
		if dmKey != "" {
			key = dmKey
		}
		err := sqlitex.Execute(conn, `INSERT INTO conversations
			(conversation_id, topic, kind, creator_inbox_id, created_at_ns, name, description, dm_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				conversation.id, conversation.topic, string(conversation.kind), conversation.creatorInboxID,
				conversation.createdAtNs, conversation.name, conversation.description, key,
			}})
		if err != nil {
			return err
		}
		for _, member := range members {
			err := sqlitex.Execute(conn,
				`INSERT INTO members (conversation_id, inbox_id, permission, joined_seq) VALUES (?, ?, ?, 0)`,
				&sqlitex.ExecOptions{Args: []any{conversation.id, member.inboxID, string(member.permission)}})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	n.notify(notice{kind: noticeConversation, conversationID: conversation.id, inboxIDs: memberInboxes(members)})
	return nil
}

const conversationColumns = `conversation_id, topic, kind, creator_inbox_id, created_at_ns, name, description`

func scanConversation(stmt *sqlite.Stmt) networkConversation {
	return networkConversation{
		id:             stmt.ColumnText(0),
		topic:          stmt.ColumnText(1),
		kind:           bridge.ConversationKind(stmt.ColumnText(2)),
		creatorInboxID: stmt.ColumnText(3),
		createdAtNs:    stmt.ColumnInt64(4),
		name:           stmt.ColumnText(5),
		description:    stmt.ColumnText(6),
	}
}

func (n *Network) findDm(ctx context.Context, dmKey string) (networkConversation, bool, error) {
	var conversation networkConversation
	found := false
	err := n.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+conversationColumns+` FROM conversations WHERE dm_key = ?`,
			&sqlitex.ExecOptions{
				Args: []any{dmKey},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					conversation, found = scanConversation(stmt), true
					return nil
				},
			})
	})
	return conversation, found, err
}

func (n *Network) conversation(ctx context.Context, conversationID string) (networkConversation, bool, error) {
	var conversation networkConversation
	found := false
	err := n.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{conversationID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					conversation, found = scanConversation(stmt), true
					return nil
				},
			})
	})
	return conversation, found, err
}

// conversationsFor lists the conversations inboxID is currently a
// member of, oldest first.
func (n *Network) conversationsFor(ctx context.Context, inboxID string) ([]networkConversation, error) {
	var conversations []networkConversation
	err := n.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT c.conversation_id, c.topic, c.kind, c.creator_inbox_id,
				c.created_at_ns, c.name, c.description
			FROM conversations c JOIN members m ON m.conversation_id = c.conversation_id
			WHERE m.inbox_id = ? ORDER BY c.created_at_ns, c.conversation_id`,
			&sqlitex.ExecOptions{
				Args: []any{inboxID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					conversations = append(conversations, scanConversation(stmt))
					return nil
				},
			})
	})
	return conversations, err
}

func (n *Network) members(ctx context.Context, conversationID string) ([]networkMember, error) {
	var members []networkMember
	err := n.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT inbox_id, permission, joined_seq FROM members WHERE conversation_id = ? ORDER BY inbox_id`,
			&sqlitex.ExecOptions{
				Args: []any{conversationID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					members = append(members, networkMember{
						inboxID:    stmt.ColumnText(0),
						permission: bridge.PermissionLevel(stmt.ColumnText(1)),
						joinedSeq:  stmt.ColumnInt64(2),
					})
					return nil
				},
			})
	})
	return members, err
}

func (n *Network) member(ctx context.Context, conversationID, inboxID string) (networkMember, bool, error) {
	members, err := n.members(ctx, conversationID)
	if err != nil {
		return networkMember{}, false, err
	}
	for _, member := range members {
		if member.inboxID == inboxID {
			return member, true, nil
		}
	}
	return networkMember{}, false, nil
}

// addMembers adds the inboxes not already present and returns them.
// New members see messages published after this call.
func (n *Network) addMembers(ctx context.Context, conversationID string, inboxIDs []string) ([]string, error) {
	var added []string
	err := n.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		var head int64
		err := sqlitex.Execute(conn, `SELECT coalesce(max(seq), 0) FROM messages WHERE conversation_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{conversationID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					head = stmt.ColumnInt64(0)
					return nil
				},
			})
		if err != nil {
			return err
		}
		for _, inbox := range inboxIDs {
			err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO members (conversation_id, inbox_id, permission, joined_seq)
				VALUES (?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{conversationID, inbox, string(bridge.PermissionMember), head}})
			if err != nil {
				return err
			}
			if conn.Changes() > 0 {
				added = append(added, inbox)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		n.notify(notice{kind: noticeConversation, conversationID: conversationID, inboxIDs: added})
	}
	return added, nil
}

func (n *Network) removeMembers(ctx context.Context, conversationID string, inboxIDs []string) ([]string, error) {
	var removed []string
	err := n.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		for _, inbox := range inboxIDs {
			err := sqlitex.Execute(conn, `DELETE FROM members WHERE conversation_id = ? AND inbox_id = ?`,
				&sqlitex.ExecOptions{Args: []any{conversationID, inbox}})
			if err != nil {
				return err
			}
			if conn.Changes() > 0 {
				removed = append(removed, inbox)
			}
		}
		return nil
	})
	return removed, err
}

// updateMetadata sets a group metadata field and returns the previous
// value.
func (n *Network) updateMetadata(ctx context.Context, conversationID string, field bridge.MetadataField, value string) (string, error) {
	column := metadataColumn(field)
	if column == "" {
		return "", fmt.Errorf("unknown metadata field %q", field)
	}
	var previous string
	err := n.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.ExecuteTransient(conn, `SELECT `+column+` FROM conversations WHERE conversation_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{conversationID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					previous = stmt.ColumnText(0)
					return nil
				},
			})
		if err != nil {
			return err
		}
		return sqlitex.ExecuteTransient(conn, `UPDATE conversations SET `+column+` = ? WHERE conversation_id = ?`,
			&sqlitex.ExecOptions{Args: []any{value, conversationID}})
	})
	return previous, err
}

func metadataColumn(field bridge.MetadataField) string {
	switch field {
	case bridge.MetadataName:
		return "name"
	case bridge.MetadataDescription:
		return "description"
	}
	return ""
}

// publish appends a message to the conversation's log and notifies
// every member. Publishing an ID twice is a no-op.
func (n *Network) publish(ctx context.Context, message networkMessage) error {
	inserted := false
	var inboxes []string
	err := n.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO messages
			(message_id, conversation_id, sender_inbox_id, sender_installation_id, sent_at_ns, envelope)
			VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				message.id, message.conversationID, message.senderInboxID,
				message.senderInstallationID, message.sentAtNs, message.envelope,
			}})
		if err != nil {
			return err
		}
		inserted = conn.Changes() > 0
		return sqlitex.Execute(conn, `SELECT inbox_id FROM members WHERE conversation_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{message.conversationID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					inboxes = append(inboxes, stmt.ColumnText(0))
					return nil
				},
			})
	})
	if err != nil {
		return err
	}
	if inserted {
		n.notify(notice{
			kind:           noticeMessage,
			conversationID: message.conversationID,
			inboxIDs:       inboxes,
			origin:         message.senderInstallationID,
		})
	}
	return nil
}

// messagesSince returns the conversation's messages with seq greater
// than afterSeq, in log order.
func (n *Network) messagesSince(ctx context.Context, conversationID string, afterSeq int64) ([]networkMessage, error) {
	var messages []networkMessage
	err := n.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT seq, message_id, sender_inbox_id, sender_installation_id, sent_at_ns, envelope
			FROM messages WHERE conversation_id = ? AND seq > ? ORDER BY seq`,
			&sqlitex.ExecOptions{
				Args: []any{conversationID, afterSeq},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					messages = append(messages, networkMessage{
						seq:                  stmt.ColumnInt64(0),
						id:                   stmt.ColumnText(1),
						conversationID:       conversationID,
						senderInboxID:        stmt.ColumnText(2),
						senderInstallationID: stmt.ColumnText(3),
						sentAtNs:             stmt.ColumnInt64(4),
						envelope:             columnBlob(stmt, 5),
					})
					return nil
				},
			})
	})
	return messages, err
}

func (n *Network) publishPreferences(ctx context.Context, inboxID, origin string, records []bridge.ConsentRecord) error {
	err := n.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		for _, record := range records {
			err := sqlitex.Execute(conn, `INSERT INTO preferences
				(inbox_id, origin_installation_id, entity_type, entity, state) VALUES (?, ?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{
					inboxID, origin, string(record.EntityType), record.Entity, string(record.State),
				}})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	n.notify(notice{kind: noticePreference, inboxIDs: []string{inboxID}, origin: origin})
	return nil
}

func (n *Network) preferencesSince(ctx context.Context, inboxID string, afterSeq int64) ([]networkPreference, error) {
	var preferences []networkPreference
	err := n.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT seq, origin_installation_id, entity_type, entity, state
			FROM preferences WHERE inbox_id = ? AND seq > ? ORDER BY seq`,
			&sqlitex.ExecOptions{
				Args: []any{inboxID, afterSeq},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					preferences = append(preferences, networkPreference{
						seq:    stmt.ColumnInt64(0),
						origin: stmt.ColumnText(1),
						record: bridge.ConsentRecord{
							EntityType: bridge.ConsentEntityType(stmt.ColumnText(2)),
							Entity:     stmt.ColumnText(3),
							State:      bridge.ConsentState(stmt.ColumnText(4)),
						},
					})
					return nil
				},
			})
	})
	return preferences, err
}

func memberInboxes(members []networkMember) []string {
	inboxes := make([]string, len(members))
	for i, member := range members {
		inboxes[i] = member.inboxID
	}
	return inboxes
}

func placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, value := range values {
		args[i] = value
	}
	return args
}

func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	data := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, data)
	return data
}
