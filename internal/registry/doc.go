// Package registry is the persistence boundary for servers, their
// capabilities, the execution log and sealed credentials.
//
// Four backends implement Registry: an in-memory store for tests, SQLite
// (modernc.org/sqlite) as the default, PostgreSQL through the pgx driver and
// MongoDB. The SQL backends share one implementation and differ only in DDL
// and placeholder style.
//
// Deployment state only changes through Transition, which checks the current
// state and applies the new state, deployment URL, reason and (optionally) a
// full replacement of tools, resources and prompts as one atomic step: a SQL
// transaction or a single-document MongoDB update.
package registry
