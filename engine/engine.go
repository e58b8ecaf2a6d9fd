// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/clock"
	"github.com/bureau-foundation/parley/lib/sealed"
	"github.com/bureau-foundation/parley/lib/secret"
	"github.com/bureau-foundation/parley/lib/sqlitepool"
)

// Config holds the parameters for New.
type Config struct {
	// Network is the relay the engine publishes to. Required. The
	// caller owns it and closes it after the engine.
	Network *Network

	// DataDir holds one database per installation, named
	// <installation-id>.db. Required; created if missing.
	DataDir string

	// Clock stamps messages and local insertions. Defaults to
	// clock.Real().
	Clock clock.Clock

	// WorkFactor is the scrypt log2 work factor protecting each
	// installation's identity under its database key. Zero means
	// sealed.DefaultWorkFactor. Tests use a small value.
	WorkFactor int

	Logger *slog.Logger
}

// Engine implements bridge.Bridge. Safe for concurrent use.
type Engine struct {
	network    *Network
	dataDir    string
	clock      clock.Clock
	workFactor int
	logger     *slog.Logger

	events       bridge.Broadcaster
	stopWatching func()

	timeMu sync.Mutex
	lastNs int64

	mu            sync.Mutex
	installations map[string]*installation
	dropped       map[string]bool
	subscriptions map[scope]struct{}
	closed        bool
}

// installation is a loaded installation.
type installation struct {
	id      string
	inboxID string
	store   *store

	// syncMu serializes ingestion so concurrent syncs of one
	// installation agree on which rows are new.
	syncMu sync.Mutex
}

var _ bridge.Bridge = (*Engine)(nil)

// New creates an engine attached to config.Network.
func New(config Config) (*Engine, error) {
	if config.Network == nil {
		return nil, fmt.Errorf("engine: Network is required")
	}
	if config.DataDir == "" {
		return nil, fmt.Errorf("engine: DataDir is required")
	}
	if err := os.MkdirAll(config.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("engine: creating data directory: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	engineClock := config.Clock
	if engineClock == nil {
		engineClock = clock.Real()
	}
	workFactor := config.WorkFactor
	if workFactor == 0 {
		workFactor = sealed.DefaultWorkFactor
	}

	engine := &Engine{
		network:       config.Network,
		dataDir:       config.DataDir,
		clock:         engineClock,
		workFactor:    workFactor,
		logger:        logger,
		installations: make(map[string]*installation),
		dropped:       make(map[string]bool),
		subscriptions: make(map[scope]struct{}),
	}
	engine.stopWatching = config.Network.watch(engine.onNotice)
	return engine, nil
}

// Close detaches from the network and closes every loaded
// installation. Active native streams receive a Closed event.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	ids := make([]string, 0, len(e.installations))
	for id := range e.installations {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	e.stopWatching()
	var errs []error
	for _, id := range ids {
		if err := e.DropInstallation(context.Background(), id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter returns the engine's event source.
func (e *Engine) Emitter() bridge.Emitter { return &e.events }

// now returns a nanosecond timestamp strictly greater than every
// timestamp returned before.
func (e *Engine) now() int64 {
	e.timeMu.Lock()
	defer e.timeMu.Unlock()
	ns := e.clock.Now().UnixNano()
	if ns <= e.lastNs {
		ns = e.lastNs + 1
	}
	e.lastNs = ns
	return ns
}

func (e *Engine) databasePath(installationID string) string {
	return filepath.Join(e.dataDir, installationID+".db")
}

func (e *Engine) openPool(installationID string) (*sqlitepool.Pool, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       e.databasePath(installationID),
		Migrations: installationSchema,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// CreateInstallation implements bridge.Installations.
func (e *Engine) CreateInstallation(ctx context.Context, request bridge.CreateInstallationRequest) (bridge.Installation, error) {
	const op = "create_installation"
	if request.InboxID == "" {
		return bridge.Installation{}, bridge.Errorf(op, bridge.ErrorInvalidArgument, "inbox ID is required")
	}
	if len(request.DatabaseKey) == 0 {
		return bridge.Installation{}, bridge.Errorf(op, bridge.ErrorInvalidArgument, "database key is required")
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return bridge.Installation{}, internalError(op, err)
	}
	sealedKey, err := e.sealIdentity(keypair.PrivateKey, request.DatabaseKey)
	if err != nil {
		keypair.Close()
		return bridge.Installation{}, internalError(op, err)
	}

	id := uuid.NewString()
	pool, err := e.openPool(id)
	if err != nil {
		keypair.Close()
		return bridge.Installation{}, internalError(op, err)
	}
	localStore := &store{pool: pool, publicKey: keypair.PublicKey, privateKey: keypair.PrivateKey}
	err = writeIdentity(ctx, pool, identityRow{
		installationID:   id,
		inboxID:          request.InboxID,
		publicKey:        keypair.PublicKey,
		sealedPrivateKey: sealedKey,
	})
	if err == nil {
		err = e.network.registerInstallation(ctx, id, request.InboxID, e.now())
	}
	if err != nil {
		localStore.close()
		os.Remove(e.databasePath(id))
		return bridge.Installation{}, internalError(op, err)
	}

	e.mu.Lock()
	e.installations[id] = &installation{id: id, inboxID: request.InboxID, store: localStore}
	e.mu.Unlock()

	e.logger.Info("installation created", "installation_id", id, "inbox_id", request.InboxID)
	return bridge.Installation{ID: id, InboxID: request.InboxID}, nil
}

// LoadInstallation implements bridge.Installations. Loading an
// installation that is already loaded checks the key and returns it.
func (e *Engine) LoadInstallation(ctx context.Context, installationID string, databaseKey []byte) (bridge.Installation, error) {
	const op = "load_installation"
	if _, err := uuid.Parse(installationID); err != nil {
		return bridge.Installation{}, bridge.Errorf(op, bridge.ErrorInvalidArgument, "malformed installation ID %q", installationID)
	}
	if len(databaseKey) == 0 {
		return bridge.Installation{}, bridge.Errorf(op, bridge.ErrorInvalidArgument, "database key is required")
	}

	e.mu.Lock()
	existing := e.installations[installationID]
	e.mu.Unlock()
	if existing != nil {
		row, err := readIdentity(ctx, existing.store.pool)
		if err != nil {
			return bridge.Installation{}, internalError(op, err)
		}
		privateKey, err := e.unsealIdentity(op, row.sealedPrivateKey, databaseKey)
		if err != nil {
			return bridge.Installation{}, err
		}
		privateKey.Close()
		return bridge.Installation{ID: existing.id, InboxID: existing.inboxID}, nil
	}

	if _, err := os.Stat(e.databasePath(installationID)); errors.Is(err, os.ErrNotExist) {
		return bridge.Installation{}, bridge.Errorf(op, bridge.ErrorInstallationNotFound, "no database for installation %s", installationID)
	}
	pool, err := e.openPool(installationID)
	if err != nil {
		return bridge.Installation{}, internalError(op, err)
	}
	row, err := readIdentity(ctx, pool)
	if err != nil {
		pool.Close()
		if errors.Is(err, errNoIdentity) {
			return bridge.Installation{}, bridge.Errorf(op, bridge.ErrorInstallationNotFound, "installation %s has no identity", installationID)
		}
		return bridge.Installation{}, internalError(op, err)
	}
	privateKey, err := e.unsealIdentity(op, row.sealedPrivateKey, databaseKey)
	if err != nil {
		pool.Close()
		return bridge.Installation{}, err
	}
	publicKey, err := sealed.PublicKeyOf(privateKey)
	if err != nil || publicKey != row.publicKey {
		privateKey.Close()
		pool.Close()
		return bridge.Installation{}, bridge.Errorf(op, bridge.ErrorDecryptionFailed, "identity does not match its public key")
	}

	loaded := &installation{
		id:      row.installationID,
		inboxID: row.inboxID,
		store:   &store{pool: pool, publicKey: row.publicKey, privateKey: privateKey},
	}
	e.mu.Lock()
	if winner := e.installations[installationID]; winner != nil {
		e.mu.Unlock()
		loaded.store.close()
		return bridge.Installation{ID: winner.id, InboxID: winner.inboxID}, nil
	}
	e.installations[installationID] = loaded
	delete(e.dropped, installationID)
	e.mu.Unlock()

	e.logger.Info("installation loaded", "installation_id", loaded.id, "inbox_id", loaded.inboxID)
	return bridge.Installation{ID: loaded.id, InboxID: loaded.inboxID}, nil
}

func (e *Engine) sealIdentity(privateKey *secret.Buffer, databaseKey []byte) ([]byte, error) {
	passphrase, err := secret.NewFromBytes(bytes.Clone(databaseKey))
	if err != nil {
		return nil, err
	}
	defer passphrase.Close()
	return sealed.EncryptWithPassphrase(privateKey.Bytes(), passphrase, e.workFactor)
}

func (e *Engine) unsealIdentity(op string, sealedKey, databaseKey []byte) (*secret.Buffer, error) {
	passphrase, err := secret.NewFromBytes(bytes.Clone(databaseKey))
	if err != nil {
		return nil, internalError(op, err)
	}
	defer passphrase.Close()
	plaintext, err := sealed.DecryptWithPassphrase(sealedKey, passphrase, e.workFactor)
	if err != nil {
		if errors.Is(err, sealed.ErrWrongKey) {
			return nil, &bridge.Error{Op: op, Code: bridge.ErrorDecryptionFailed, Message: "database key does not open this installation", Cause: err}
		}
		return nil, internalError(op, err)
	}
	privateKey, err := secret.NewFromBytes(plaintext)
	if err != nil {
		return nil, internalError(op, err)
	}
	return privateKey, nil
}

// CanMessage implements bridge.Installations.
func (e *Engine) CanMessage(ctx context.Context, installationID string, inboxIDs []string) (map[string]bool, error) {
	const op = "can_message"
	if _, err := e.lookup(op, installationID); err != nil {
		return nil, err
	}
	known, err := e.network.installationsOf(ctx, inboxIDs)
	if err != nil {
		return nil, internalError(op, err)
	}
	result := make(map[string]bool, len(inboxIDs))
	for _, inbox := range inboxIDs {
		result[inbox] = len(known[inbox]) > 0
	}
	return result, nil
}

// DropInstallation implements bridge.Installations.
func (e *Engine) DropInstallation(ctx context.Context, installationID string) error {
	const op = "drop_installation"
	e.mu.Lock()
	dropped := e.installations[installationID]
	if dropped == nil {
		e.mu.Unlock()
		return nil
	}
	delete(e.installations, installationID)
	e.dropped[installationID] = true
	var ended []scope
	for active := range e.subscriptions {
		if active.installationID == installationID {
			ended = append(ended, active)
			delete(e.subscriptions, active)
		}
	}
	e.mu.Unlock()

	cause := bridge.Errorf(op, bridge.ErrorDatabaseClosed, "installation %s was dropped", installationID)
	for _, active := range sortScopes(ended) {
		e.events.Emit(bridge.Event{
			Kind:           active.kind,
			InstallationID: active.installationID,
			ConversationID: active.conversationID,
			Closed:         true,
			Err:            cause,
		})
	}

	dropped.syncMu.Lock()
	defer dropped.syncMu.Unlock()
	if err := dropped.store.close(); err != nil {
		return internalError(op, err)
	}
	e.logger.Info("installation dropped", "installation_id", installationID)
	return nil
}

// lookup returns the loaded installation or the error a caller gets
// for an unknown or dropped one.
func (e *Engine) lookup(op, installationID string) (*installation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if loaded := e.installations[installationID]; loaded != nil {
		return loaded, nil
	}
	if e.dropped[installationID] {
		return nil, bridge.Errorf(op, bridge.ErrorDatabaseClosed, "installation %s is not loaded", installationID)
	}
	return nil, bridge.Errorf(op, bridge.ErrorInstallationNotFound, "installation %s is not loaded", installationID)
}

// loadedFor returns the loaded installations belonging to any of
// inboxIDs.
func (e *Engine) loadedFor(inboxIDs []string) []*installation {
	wanted := make(map[string]bool, len(inboxIDs))
	for _, inbox := range inboxIDs {
		wanted[inbox] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var result []*installation
	for _, loaded := range e.installations {
		if wanted[loaded.inboxID] {
			result = append(result, loaded)
		}
	}
	return result
}

// messageID derives a message's ID from its conversation, sender,
// timestamp, and envelope.
func messageID(conversationID, installationID string, sentAtNs int64, envelope []byte) string {
	hasher := blake3.New()
	hasher.Write([]byte(conversationID))
	hasher.Write([]byte{0})
	hasher.Write([]byte(installationID))
	hasher.Write([]byte{0})
	var stamp [8]byte
	binary.BigEndian.PutUint64(stamp[:], uint64(sentAtNs))
	hasher.Write(stamp[:])
	hasher.Write(envelope)
	return hex.EncodeToString(hasher.Sum(nil))
}

// internalError wraps a non-bridge failure. Bridge errors pass through
// unchanged.
func internalError(op string, err error) error {
	var bridgeErr *bridge.Error
	if errors.As(err, &bridgeErr) {
		return err
	}
	return &bridge.Error{Op: op, Code: bridge.ErrorInternal, Message: "engine failure", Cause: err}
}
