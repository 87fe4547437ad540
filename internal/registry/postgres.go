package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"mcpstudio/pkg/logging"
)

const postgresSchema = `
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
	additional_params BOOLEAN NOT NULL DEFAULT FALSE,
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
	revoked BOOLEAN NOT NULL DEFAULT FALSE,
	sealed BYTEA,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (integration, account)
);
`

// NewPostgresRegistry connects to PostgreSQL through the pgx driver and
// ensures the schema exists.
func NewPostgresRegistry(ctx context.Context, dsn string) (Registry, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	r, err := newSQLRegistry(ctx, db, dialect{name: "postgres", schema: postgresSchema, forUpdate: " FOR UPDATE", numbered: true})
	if err != nil {
		db.Close()
		return nil, err
	}

	logging.Info("Registry", "PostgreSQL registry initialized")
	return r, nil
}
