// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite databases behind parley's
// reference engine: one relay database shared by every installation on
// a network, and one local database per installation.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection gets
// WAL journaling, NORMAL synchronous, a busy timeout, and foreign keys
// enabled, then runs the caller's [Config.Migrations] under
// PRAGMA user_version so a schema change is applied exactly once per
// file.
//
// Connections are not safe for concurrent use. Use [Pool.Do] for a
// single borrowed connection or [Pool.Tx] for an immediate transaction;
// both return the connection to the pool on every path.
package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Memory is the Path for a private in-memory database. Pools opened on
// it are forced to a single connection.
const Memory = ":memory:"

// Config describes a pool.
type Config struct {
	// Path of the database file, created if missing. Its parent
	// directory must exist.
	Path string

	// PoolSize defaults to 4. Ignored for Memory.
	PoolSize int

	// Migrations are SQL scripts applied in order. The database's
	// user_version records how many have run.
	Migrations []string

	Logger *slog.Logger
}

// Pool is a fixed-size SQLite connection pool. Safe for concurrent use.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string

	closeOnce sync.Once
	closeErr  error
}

// Open creates the pool. Connections are prepared lazily, so schema
// errors surface from the first Do or Tx; call [Pool.Ping] to force
// them early.
func Open(config Config) (*Pool, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlitepool: path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := config.PoolSize
	if size <= 0 {
		size = 4
	}
	if config.Path == Memory {
		size = 1
	}

	migrations := config.Migrations
	inner, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepare(conn, migrations)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", config.Path, err)
	}
	logger.Debug("sqlite pool opened", "path", config.Path, "pool_size", size)
	return &Pool{inner: inner, logger: logger, path: config.Path}, nil
}

// Path returns the database path the pool was opened on.
func (p *Pool) Path() string { return p.path }

// Ping borrows and returns one connection, running any pending
// migrations.
func (p *Pool) Ping(ctx context.Context) error {
	return p.Do(ctx, func(*sqlite.Conn) error { return nil })
}

// Do runs fn with a borrowed connection.
func (p *Pool) Do(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitepool: take %s: %w", p.path, err)
	}
	defer p.inner.Put(conn)
	return fn(conn)
}

// Tx runs fn inside BEGIN IMMEDIATE. The transaction commits when fn
// returns nil and rolls back otherwise.
func (p *Pool) Tx(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return p.Do(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("sqlitepool: begin: %w", err)
		}
		defer end(&err)
		return fn(conn)
	})
}

// Close waits for borrowed connections and closes the pool. Repeated
// calls return the first result.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		if err := p.inner.Close(); err != nil {
			p.closeErr = fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
			p.logger.Error("sqlite pool close failed", "path", p.path, "error", err)
			return
		}
		p.logger.Debug("sqlite pool closed", "path", p.path)
	})
	return p.closeErr
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

func prepare(conn *sqlite.Conn, migrations []string) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return migrate(conn, migrations)
}

// migrate applies the scripts past user_version inside one immediate
// transaction, so concurrent connections to a fresh file agree on the
// result.
func migrate(conn *sqlite.Conn, migrations []string) (err error) {
	if len(migrations) == 0 {
		return nil
	}
	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: begin migration: %w", err)
	}
	defer end(&err)

	version, err := UserVersion(conn)
	if err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("sqlitepool: database schema version %d is newer than this build (%d)", version, len(migrations))
	}
	for index := version; index < len(migrations); index++ {
		if err := sqlitex.ExecuteScript(conn, migrations[index], nil); err != nil {
			return fmt.Errorf("sqlitepool: migration %d: %w", index+1, err)
		}
	}
	if version == len(migrations) {
		return nil
	}
	pragma := fmt.Sprintf("PRAGMA user_version=%d", len(migrations))
	if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
		return fmt.Errorf("sqlitepool: recording schema version: %w", err)
	}
	return nil
}

// UserVersion reads PRAGMA user_version.
func UserVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: reading user_version: %w", err)
	}
	return version, nil
}
