// Package memory provides a deterministic, in-process implementation of
// engine.Engine. It resolves records into entities by their match key and
// emits a redo record whenever a record joins an existing entity, which is
// enough behavior to exercise every snippet without an external repository.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/snippet-runner/internal/engine"
)

// Operation names passed to a FaultFunc.
const (
	OpAddRecord     = engine.OpAddRecord
	OpDeleteRecord  = engine.OpDeleteRecord
	OpSearch        = engine.OpSearch
	OpGetEntity     = engine.OpGetEntity
	OpProcessRedo   = engine.OpProcessRedo
	OpGetRedoRecord = engine.OpGetRedoRecord
	OpCountRedo     = engine.OpCountRedo
)

// FaultFunc lets callers inject failures. It is consulted before every
// operation with the operation name and, where one applies, the record key
// (zero key otherwise). A non-nil return is reported as the operation's error.
type FaultFunc func(op string, key engine.RecordKey) error

// RedoStore holds pending redo records. The default store is an in-process
// FIFO; internal/platform/redis provides a shared one.
type RedoStore interface {
	Push(ctx context.Context, redo string) error
	Pop(ctx context.Context) (string, bool, error)
	Len(ctx context.Context) (int64, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithFaults installs a fault injector.
func WithFaults(fn FaultFunc) Option {
	return func(e *Engine) { e.faults = fn }
}

// WithRedoStore replaces the in-process redo queue.
func WithRedoStore(store RedoStore) Option {
	return func(e *Engine) { e.redo = store }
}

// WithDataSources restricts the accepted data source codes. Records naming
// any other data source are rejected as bad input.
func WithDataSources(codes ...string) Option {
	return func(e *Engine) {
		e.dataSources = make(map[string]struct{}, len(codes))
		for _, c := range codes {
			e.dataSources[c] = struct{}{}
		}
	}
}

type record struct {
	json     string
	entityID int64
}

type entity struct {
	id       int64
	matchKey string
	records  map[engine.RecordKey]struct{}
}

// Engine is the in-memory engine.
type Engine struct {
	mu          sync.RWMutex
	records     map[engine.RecordKey]*record
	entities    map[int64]*entity
	byMatch     map[string]int64
	nextEntity  int64
	dataSources map[string]struct{}

	redo   RedoStore
	faults FaultFunc
	closed atomic.Bool
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty in-memory engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		records:  make(map[engine.RecordKey]*record),
		entities: make(map[int64]*entity),
		byMatch:  make(map[string]int64),
		redo:     newFifoRedo(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) check(op string, key engine.RecordKey) error {
	if e.closed.Load() {
		return engine.NewError(op, engine.ErrEngineClosed, nil)
	}
	if e.faults != nil {
		if err := e.faults(op, key); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkKey(op string, key engine.RecordKey) error {
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

// AddRecord implements engine.Engine.
func (e *Engine) AddRecord(ctx context.Context, key engine.RecordKey, recordJSON string, withInfo bool) (string, error) {
	if err := e.check(OpAddRecord, key); err != nil {
		return "", err
	}
	if err := e.checkKey(OpAddRecord, key); err != nil {
		return "", err
	}
	attrs, err := engine.ParseAttributes(recordJSON)
	if err != nil {
		return "", engine.NewError(OpAddRecord, engine.ErrBadInput, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	matchKey := engine.MatchKey(attrs)

	e.mu.Lock()
	previous := e.detach(key)
	entityID, joined := e.attach(key, matchKey)
	e.records[key].json = recordJSON
	e.mu.Unlock()

	if joined {
		redo := engine.Redo{
			Reason:     engine.RedoReasonJoined,
			DataSource: key.DataSource,
			RecordID:   key.RecordID,
			EntityID:   entityID,
		}
		if err := e.redo.Push(ctx, redo.Encode()); err != nil {
			return "", engine.NewError(OpAddRecord, engine.ErrRetryable, err)
		}
	}

	if !withInfo {
		return "", nil
	}
	return engine.BuildInfo(key, previous, entityID), nil
}

// detach removes key from its entity and returns the former entity ID.
// Callers must hold e.mu.
func (e *Engine) detach(key engine.RecordKey) int64 {
	rec, ok := e.records[key]
	if !ok {
		return 0
	}
	delete(e.records, key)

	ent := e.entities[rec.entityID]
	if ent == nil {
		return rec.entityID
	}
	delete(ent.records, key)
	if len(ent.records) == 0 {
		delete(e.entities, ent.id)
		if ent.matchKey != "" && e.byMatch[ent.matchKey] == ent.id {
			delete(e.byMatch, ent.matchKey)
		}
	}
	return rec.entityID
}

// attach places key into the entity for matchKey, creating one when needed.
// Callers must hold e.mu.
func (e *Engine) attach(key engine.RecordKey, matchKey string) (int64, bool) {
	var ent *entity
	joined := false
	if matchKey != "" {
		if id, ok := e.byMatch[matchKey]; ok {
			ent = e.entities[id]
			joined = ent != nil
		}
	}
	if ent == nil {
		e.nextEntity++
		ent = &entity{id: e.nextEntity, matchKey: matchKey, records: make(map[engine.RecordKey]struct{})}
		e.entities[ent.id] = ent
		if matchKey != "" {
			e.byMatch[matchKey] = ent.id
		}
	}
	ent.records[key] = struct{}{}
	e.records[key] = &record{entityID: ent.id}
	return ent.id, joined
}

// DeleteRecord implements engine.Engine. Deleting an unknown record is a no-op.
func (e *Engine) DeleteRecord(ctx context.Context, key engine.RecordKey, withInfo bool) (string, error) {
	if err := e.check(OpDeleteRecord, key); err != nil {
		return "", err
	}
	if err := e.checkKey(OpDeleteRecord, key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	previous := e.detach(key)
	e.mu.Unlock()

	if !withInfo {
		return "", nil
	}
	return engine.BuildInfo(key, previous), nil
}

func (e *Engine) describe(ent *entity) engine.Entity {
	keys := make([]engine.RecordKey, 0, len(ent.records))
	for k := range ent.records {
		keys = append(keys, k)
	}
	return engine.NewEntity(ent.id, keys)
}

// SearchByAttributes implements engine.Engine.
func (e *Engine) SearchByAttributes(ctx context.Context, attributesJSON string) (string, error) {
	if err := e.check(OpSearch, engine.RecordKey{}); err != nil {
		return "", err
	}
	attrs, err := engine.ParseAttributes(attributesJSON)
	if err != nil {
		return "", engine.NewError(OpSearch, engine.ErrBadInput, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	result := engine.SearchResult{ResolvedEntities: []engine.Entity{}}

	if matchKey := engine.MatchKey(attrs); matchKey != "" {
		e.mu.RLock()
		if id, ok := e.byMatch[matchKey]; ok {
			if ent := e.entities[id]; ent != nil {
				result.ResolvedEntities = append(result.ResolvedEntities, e.describe(ent))
			}
		}
		e.mu.RUnlock()
	}

	doc, err := engine.Encode(result)
	if err != nil {
		return "", engine.NewError(OpSearch, engine.ErrUnrecoverable, err)
	}
	return doc, nil
}

// GetEntity implements engine.Engine.
func (e *Engine) GetEntity(ctx context.Context, entityID int64) (string, error) {
	if err := e.check(OpGetEntity, engine.RecordKey{}); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.RLock()
	ent := e.entities[entityID]
	var doc engine.Entity
	if ent != nil {
		doc = e.describe(ent)
	}
	e.mu.RUnlock()

	if ent == nil {
		return "", engine.NewError(OpGetEntity, engine.ErrNotFound, fmt.Errorf("entity %d", entityID))
	}
	out, err := engine.Encode(doc)
	if err != nil {
		return "", engine.NewError(OpGetEntity, engine.ErrUnrecoverable, err)
	}
	return out, nil
}

// GetRedoRecord implements engine.Engine.
func (e *Engine) GetRedoRecord(ctx context.Context) (string, error) {
	if err := e.check(OpGetRedoRecord, engine.RecordKey{}); err != nil {
		return "", err
	}
	redo, ok, err := e.redo.Pop(ctx)
	if err != nil {
		return "", engine.NewError(OpGetRedoRecord, engine.ErrRetryable, err)
	}
	if !ok {
		return "", nil
	}
	return redo, nil
}

// CountRedoRecords implements engine.Engine.
func (e *Engine) CountRedoRecords(ctx context.Context) (int64, error) {
	if err := e.check(OpCountRedo, engine.RecordKey{}); err != nil {
		return 0, err
	}
	n, err := e.redo.Len(ctx)
	if err != nil {
		return 0, engine.NewError(OpCountRedo, engine.ErrRetryable, err)
	}
	return n, nil
}

// ProcessRedoRecord implements engine.Engine. The referenced record is
// re-resolved against the current match index; a redo for a record that no
// longer exists succeeds without affecting anything.
func (e *Engine) ProcessRedoRecord(ctx context.Context, redoRecord string, withInfo bool) (string, error) {
	redo, err := engine.ParseRedo(redoRecord)
	if err != nil {
		return "", engine.NewError(OpProcessRedo, engine.ErrBadInput, err)
	}
	key := redo.Key()
	if err := e.check(OpProcessRedo, key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var affected []int64
	e.mu.Lock()
	if rec, ok := e.records[key]; ok {
		affected = append(affected, rec.entityID)
		if redo.EntityID != 0 && redo.EntityID != rec.entityID {
			if _, exists := e.entities[redo.EntityID]; exists {
				affected = append(affected, redo.EntityID)
			}
		}
	}
	e.mu.Unlock()

	if !withInfo {
		return "", nil
	}
	return engine.BuildInfo(key, affected...), nil
}

// RecordCount reports how many records are loaded.
func (e *Engine) RecordCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records)
}

// EntityCount reports how many entities exist.
func (e *Engine) EntityCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entities)
}

// Close implements engine.Engine. It is idempotent.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

// fifoRedo is the default in-process redo queue.
type fifoRedo struct {
	mu    sync.Mutex
	items []string
}

func newFifoRedo() *fifoRedo {
	return &fifoRedo{}
}

func (q *fifoRedo) Push(_ context.Context, redo string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, redo)
	return nil
}

func (q *fifoRedo) Pop(_ context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false, nil
	}
	redo := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return redo, true, nil
}

func (q *fifoRedo) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
