// Package snippets holds the runnable usage examples of the engine API and
// the harness that selects and runs them. Every snippet drives its input
// through a task.Pipeline: records are loaded, searched or deleted as
// bounded-backlog batches, and redo records are processed continuously
// until the process is interrupted. The "via loop" snippets use the
// sequential sibling of that pipeline and handle one unit at a time.
package snippets
