// Package api exposes a read-only HTTP view of the running pipeline: a
// liveness probe and the live status (state, backlog and counts) of the
// current run. It is meant for long-running continuous redo processing.
package api
