// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON
// (or text) logging with configurable log levels, and carries loggers on
// contexts so that run-scoped attributes follow the work.
package logger
