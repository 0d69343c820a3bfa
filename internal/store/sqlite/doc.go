// Package sqlite implements the metadata store ports on SQLite.
//
// It uses the pure-Go modernc.org/sqlite driver so the daemon builds without
// cgo. The database runs in WAL mode with foreign keys enabled, and schema
// changes are applied from embedded migrations on open.
package sqlite
