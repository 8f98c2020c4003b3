package engine

import "context"

// Engine is the surface of the record-matching engine used by the snippets.
//
// Implementations must be safe for concurrent use: the pipeline shares one
// Engine across all of its workers. The engine handle is acquired once by the
// harness and released exactly once through Close.
type Engine interface {
	// AddRecord loads or replaces the record identified by key. When withInfo
	// is true the returned string is an info document listing the affected
	// entities; otherwise it is empty.
	AddRecord(ctx context.Context, key RecordKey, recordJSON string, withInfo bool) (string, error)

	// DeleteRecord removes the record identified by key.
	DeleteRecord(ctx context.Context, key RecordKey, withInfo bool) (string, error)

	// SearchByAttributes returns a JSON document describing the entities that
	// match the given attributes.
	SearchByAttributes(ctx context.Context, attributesJSON string) (string, error)

	// GetEntity returns a JSON document describing the entity.
	GetEntity(ctx context.Context, entityID int64) (string, error)

	// GetRedoRecord pops the next pending redo record. It returns an empty
	// string when none is available right now.
	GetRedoRecord(ctx context.Context) (string, error)

	// CountRedoRecords reports how many redo records are pending.
	CountRedoRecords(ctx context.Context) (int64, error)

	// ProcessRedoRecord re-evaluates the entity referenced by a redo record.
	ProcessRedoRecord(ctx context.Context, redoRecord string, withInfo bool) (string, error)

	// Close releases the engine. It is safe to call more than once.
	Close() error
}

// Operation names used in Error.Op.
const (
	OpAddRecord     = "addRecord"
	OpDeleteRecord  = "deleteRecord"
	OpSearch        = "searchByAttributes"
	OpGetEntity     = "getEntity"
	OpProcessRedo   = "processRedoRecord"
	OpGetRedoRecord = "getRedoRecord"
	OpCountRedo     = "countRedoRecords"
)
