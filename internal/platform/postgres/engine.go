package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/store"
)

const (
	detachRecordSQL = `DELETE FROM records WHERE data_source = $1 AND record_id = $2 RETURNING entity_id`

	deleteEmptyEntitySQL = `
		DELETE FROM entities e
		WHERE e.entity_id = $1
		  AND NOT EXISTS (SELECT 1 FROM records r WHERE r.entity_id = e.entity_id)`

	// xmax is zero for a freshly inserted row and non-zero when the
	// conflict branch updated an existing one.
	upsertEntitySQL = `
		INSERT INTO entities (match_key) VALUES ($1)
		ON CONFLICT (match_key) DO UPDATE SET match_key = EXCLUDED.match_key
		RETURNING entity_id, (xmax = 0) AS inserted`

	insertEntitySQL = `INSERT INTO entities (match_key) VALUES (NULL) RETURNING entity_id`

	insertRecordSQL = `
		INSERT INTO records (data_source, record_id, record_json, entity_id)
		VALUES ($1, $2, $3::jsonb, $4)`

	pushRedoSQL = `INSERT INTO redo_queue (redo_json) VALUES ($1)`

	popRedoSQL = `
		DELETE FROM redo_queue
		WHERE id = (SELECT id FROM redo_queue ORDER BY id FOR UPDATE SKIP LOCKED LIMIT 1)
		RETURNING redo_json`

	countRedoSQL = `SELECT count(*) FROM redo_queue`

	entityRecordsSQL = `SELECT data_source, record_id FROM records WHERE entity_id = $1`

	searchSQL = `
		SELECT e.entity_id, r.data_source, r.record_id
		FROM entities e JOIN records r ON r.entity_id = e.entity_id
		WHERE e.match_key = $1`

	recordEntitySQL = `SELECT entity_id FROM records WHERE data_source = $1 AND record_id = $2`

	entityExistsSQL = `SELECT EXISTS (SELECT 1 FROM entities WHERE entity_id = $1)`
)

// Option configures an Engine.
type Option func(*Engine)

// WithDataSources restricts the accepted data source codes.
func WithDataSources(codes ...string) Option {
	return func(e *Engine) {
		if len(codes) == 0 {
			return
		}
		e.dataSources = make(map[string]struct{}, len(codes))
		for _, c := range codes {
			e.dataSources[c] = struct{}{}
		}
	}
}

// Engine implements engine.Engine on PostgreSQL. Records resolve into
// entities by engine.MatchKey and a redo row is queued whenever a record
// joins an existing entity, matching the in-memory engine.
type Engine struct {
	db          *sql.DB
	dataSources map[string]struct{}
	closed      atomic.Bool
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine wraps an open, migrated database. The engine takes ownership of
// db and closes it in Close.
func NewEngine(db *sql.DB, opts ...Option) *Engine {
	e := &Engine{db: db}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) checkOpen(op string) error {
	if e.closed.Load() {
		return engine.NewError(op, engine.ErrEngineClosed, nil)
	}
	return nil
}

func (e *Engine) checkKey(op string, key engine.RecordKey) error {
	if err := e.checkOpen(op); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return engine.NewError(op, engine.ErrBadInput, err)
	}
	if e.dataSources != nil {
		if _, ok := e.dataSources[key.DataSource]; !ok {
			return engine.NewError(op, engine.ErrUnknownDataSource, fmt.Errorf("data source %q", key.DataSource))
		}
	}
	return nil
}

// mapWriteError treats key conflicts as retryable: with validated input they
// only arise from concurrent writers touching the same entity.
func mapWriteError(op string, err error) error {
	if IsUniqueViolation(err) || IsForeignKeyViolation(err) {
		return engine.NewError(op, engine.ErrRetryable, err)
	}
	return MapError(op, err)
}

// AddRecord implements engine.Engine.
func (e *Engine) AddRecord(ctx context.Context, key engine.RecordKey, recordJSON string, withInfo bool) (string, error) {
	if err := e.checkKey(engine.OpAddRecord, key); err != nil {
		return "", err
	}
	attrs, err := engine.ParseAttributes(recordJSON)
	if err != nil {
		return "", engine.NewError(engine.OpAddRecord, engine.ErrBadInput, err)
	}
	matchKey := engine.MatchKey(attrs)

	var previous, entityID int64
	err = store.RunInTransaction(ctx, e.db, engine.OpAddRecord, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if previous, err = detach(ctx, tx, key); err != nil {
			return err
		}

		var joined bool
		if entityID, joined, err = attach(ctx, tx, matchKey); err != nil {
			return err
		}

		if _, err = tx.ExecContext(ctx, insertRecordSQL, key.DataSource, key.RecordID, recordJSON, entityID); err != nil {
			return err
		}

		if joined {
			redo := engine.Redo{
				Reason:     engine.RedoReasonJoined,
				DataSource: key.DataSource,
				RecordID:   key.RecordID,
				EntityID:   entityID,
			}
			if _, err = tx.ExecContext(ctx, pushRedoSQL, redo.Encode()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", mapWriteError(engine.OpAddRecord, err)
	}

	if !withInfo {
		return "", nil
	}
	return engine.BuildInfo(key, previous, entityID), nil
}

// detach removes the record and, when it was the last one, its entity. It
// returns the former entity ID or zero.
func detach(ctx context.Context, q store.DBTX, key engine.RecordKey) (int64, error) {
	var previous int64
	err := q.QueryRowContext(ctx, detachRecordSQL, key.DataSource, key.RecordID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if _, err := q.ExecContext(ctx, deleteEmptyEntitySQL, previous); err != nil {
		return 0, err
	}
	return previous, nil
}

// attach resolves the entity for matchKey, creating one when needed. The
// boolean reports whether an existing entity was joined.
func attach(ctx context.Context, q store.DBTX, matchKey string) (int64, bool, error) {
	var id int64
	if matchKey == "" {
		err := q.QueryRowContext(ctx, insertEntitySQL).Scan(&id)
		return id, false, err
	}

	var inserted bool
	if err := q.QueryRowContext(ctx, upsertEntitySQL, matchKey).Scan(&id, &inserted); err != nil {
		return 0, false, err
	}
	return id, !inserted, nil
}

// DeleteRecord implements engine.Engine. Deleting an unknown record is a no-op.
func (e *Engine) DeleteRecord(ctx context.Context, key engine.RecordKey, withInfo bool) (string, error) {
	if err := e.checkKey(engine.OpDeleteRecord, key); err != nil {
		return "", err
	}

	var previous int64
	err := store.RunInTransaction(ctx, e.db, engine.OpDeleteRecord, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		previous, err = detach(ctx, tx, key)
		return err
	})
	if err != nil {
		return "", mapWriteError(engine.OpDeleteRecord, err)
	}

	if !withInfo {
		return "", nil
	}
	return engine.BuildInfo(key, previous), nil
}

// SearchByAttributes implements engine.Engine.
func (e *Engine) SearchByAttributes(ctx context.Context, attributesJSON string) (string, error) {
	if err := e.checkOpen(engine.OpSearch); err != nil {
		return "", err
	}
	attrs, err := engine.ParseAttributes(attributesJSON)
	if err != nil {
		return "", engine.NewError(engine.OpSearch, engine.ErrBadInput, err)
	}

	result := engine.SearchResult{ResolvedEntities: []engine.Entity{}}
	if matchKey := engine.MatchKey(attrs); matchKey != "" {
		rows, err := e.db.QueryContext(ctx, searchSQL, matchKey)
		if err != nil {
			return "", MapError(engine.OpSearch, err)
		}
		defer func() { _ = rows.Close() }()

		var (
			entityID int64
			keys     []engine.RecordKey
		)
		for rows.Next() {
			var k engine.RecordKey
			if err := rows.Scan(&entityID, &k.DataSource, &k.RecordID); err != nil {
				return "", MapError(engine.OpSearch, err)
			}
			keys = append(keys, k)
		}
		if err := rows.Err(); err != nil {
			return "", MapError(engine.OpSearch, err)
		}
		if len(keys) > 0 {
			result.ResolvedEntities = append(result.ResolvedEntities, engine.NewEntity(entityID, keys))
		}
	}

	doc, err := engine.Encode(result)
	if err != nil {
		return "", engine.NewError(engine.OpSearch, engine.ErrUnrecoverable, err)
	}
	return doc, nil
}

// GetEntity implements engine.Engine.
func (e *Engine) GetEntity(ctx context.Context, entityID int64) (string, error) {
	if err := e.checkOpen(engine.OpGetEntity); err != nil {
		return "", err
	}

	keys, err := entityRecords(ctx, e.db, entityID)
	if err != nil {
		return "", MapError(engine.OpGetEntity, err)
	}
	if len(keys) == 0 {
		return "", engine.NewError(engine.OpGetEntity, engine.ErrNotFound, fmt.Errorf("entity %d", entityID))
	}

	doc, err := engine.Encode(engine.NewEntity(entityID, keys))
	if err != nil {
		return "", engine.NewError(engine.OpGetEntity, engine.ErrUnrecoverable, err)
	}
	return doc, nil
}

func entityRecords(ctx context.Context, q store.DBTX, entityID int64) ([]engine.RecordKey, error) {
	rows, err := q.QueryContext(ctx, entityRecordsSQL, entityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []engine.RecordKey
	for rows.Next() {
		var k engine.RecordKey
		if err := rows.Scan(&k.DataSource, &k.RecordID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetRedoRecord implements engine.Engine. Concurrent callers never receive
// the same row.
func (e *Engine) GetRedoRecord(ctx context.Context) (string, error) {
	if err := e.checkOpen(engine.OpGetRedoRecord); err != nil {
		return "", err
	}

	var redo string
	err := e.db.QueryRowContext(ctx, popRedoSQL).Scan(&redo)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", MapError(engine.OpGetRedoRecord, err)
	}
	return redo, nil
}

// CountRedoRecords implements engine.Engine.
func (e *Engine) CountRedoRecords(ctx context.Context) (int64, error) {
	if err := e.checkOpen(engine.OpCountRedo); err != nil {
		return 0, err
	}

	var n int64
	if err := e.db.QueryRowContext(ctx, countRedoSQL).Scan(&n); err != nil {
		return 0, MapError(engine.OpCountRedo, err)
	}
	return n, nil
}

// ProcessRedoRecord implements engine.Engine. A redo for a record that no
// longer exists succeeds without affecting anything.
func (e *Engine) ProcessRedoRecord(ctx context.Context, redoRecord string, withInfo bool) (string, error) {
	redo, err := engine.ParseRedo(redoRecord)
	if err != nil {
		return "", engine.NewError(engine.OpProcessRedo, engine.ErrBadInput, err)
	}
	key := redo.Key()
	if err := e.checkOpen(engine.OpProcessRedo); err != nil {
		return "", err
	}

	var affected []int64
	var current int64
	err = e.db.QueryRowContext(ctx, recordEntitySQL, key.DataSource, key.RecordID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return "", MapError(engine.OpProcessRedo, err)
	default:
		affected = append(affected, current)
		if redo.EntityID != 0 && redo.EntityID != current {
			var exists bool
			if err := e.db.QueryRowContext(ctx, entityExistsSQL, redo.EntityID).Scan(&exists); err != nil {
				return "", MapError(engine.OpProcessRedo, err)
			}
			if exists {
				affected = append(affected, redo.EntityID)
			}
		}
	}

	if !withInfo {
		return "", nil
	}
	return engine.BuildInfo(key, affected...), nil
}

// Close implements engine.Engine. It closes the database on the first call.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
