// Package engine defines the contract between the snippets and the external
// record-matching engine. The engine itself is treated as an opaque unit-of-work
// executor: every call either succeeds, rejects its input, fails transiently,
// or fails in a way the caller cannot recover from. This package owns that
// four-way error vocabulary along with the small amount of record parsing and
// matching logic shared by the engine implementations.
package engine
