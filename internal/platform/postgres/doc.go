// Package postgres provides the PostgreSQL implementation of engine.Engine.
// It owns the connection setup, the embedded schema migrations and the
// mapping of database errors onto the engine error categories.
package postgres
