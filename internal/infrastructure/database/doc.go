// Package database provides the SQLite persistence layer for the hub.
//
// The database is opened in WAL mode with a single-writer connection pool
// (SetMaxOpenConns(1)): SQLite allows only one concurrent writer, and a
// pool of one connection turns potential SQLITE_BUSY errors into ordinary
// queueing inside database/sql. WAL still permits concurrent readers via
// the shared page cache.
//
// Schema management is handled by embedded migrations: the migrations
// package sets MigrationsFS at init time and Migrate() applies any pending
// .up.sql files, each in its own transaction, recording them in
// schema_migrations.
package database
