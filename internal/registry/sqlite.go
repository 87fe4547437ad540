package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"mcpstudio/pkg/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS servers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	config TEXT NOT NULL,
	state TEXT NOT NULL,
	deployment_url TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tools (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	parameters TEXT NOT NULL,
	returns TEXT NOT NULL,
	additional_params INTEGER NOT NULL DEFAULT 0,
	integration TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (server_id, name)
);

CREATE TABLE IF NOT EXISTS resources (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	name TEXT NOT NULL,
	uri TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	config TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS prompts (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	template TEXT NOT NULL DEFAULT '',
	variables TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	tool_id TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	input TEXT NOT NULL,
	result TEXT NOT NULL,
	error TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_server_started ON executions(server_id, started_at);

CREATE TABLE IF NOT EXISTS credentials (
	integration TEXT NOT NULL,
	account TEXT NOT NULL,
	scopes TEXT NOT NULL,
	expires_at TEXT NOT NULL DEFAULT '',
	revoked INTEGER NOT NULL DEFAULT 0,
	sealed BLOB,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (integration, account)
);
`

// NewSQLiteRegistry opens (creating if needed) a SQLite registry at path.
// Parent directories are created as required.
func NewSQLiteRegistry(ctx context.Context, path string) (Registry, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	r, err := newSQLRegistry(ctx, db, dialect{name: "sqlite", schema: sqliteSchema})
	if err != nil {
		db.Close()
		return nil, err
	}

	logging.Info("Registry", "SQLite registry initialized at %s", path)
	return r, nil
}
