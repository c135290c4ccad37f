/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const memoryDBPath = ":memory:"

// InitDB initializes the SQLite update store and creates necessary tables.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool. Every connection to ":memory:" opens its own
	// empty database, so in-memory databases are pinned to one connection.
	if dbPath == memoryDBPath {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	// Connection-level pragmas to improve concurrency and reliability.
	// These are executed per-connection; setting them here ensures sensible defaults.
	// NOTE: Some pragmas are persistent per DB file (journal_mode) and return a row.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA busy_timeout: %w", err)
	}

	// Create tables and indexes
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// createSchema creates all necessary database tables.
func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Updates table, one row per (scope_key, update_id)
	CREATE TABLE IF NOT EXISTS updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		update_id TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		commit_time TIMESTAMP NOT NULL,
		runtime_version TEXT NOT NULL,
		launch_asset_key TEXT NOT NULL,
		assets BLOB NOT NULL,
		manifest BLOB NOT NULL,
		manifest_format INTEGER NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		-- table constraints (placed after column definitions for compatibility)
		UNIQUE (scope_key, update_id)
	);

	-- Composite index to accelerate "find latest ready by scope and runtime ORDER BY commit_time DESC"
	CREATE INDEX IF NOT EXISTS idx_updates_scope_runtime_status_commit ON updates(scope_key, runtime_version, status, commit_time);

	-- JSON data table, one value per (scope_key, key)
	CREATE TABLE IF NOT EXISTS json_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data_key TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		value BLOB NOT NULL,
		last_updated TIMESTAMP NOT NULL,
		UNIQUE (scope_key, data_key)
	);
	`

	// Execute schema using transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
